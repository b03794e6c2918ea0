package engine

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Stage 流水线状态
type Stage string

const (
	StageReceived     Stage = "RECEIVED"
	StageRateChecked  Stage = "RATE_CHECKED"
	StageCacheChecked Stage = "CACHE_CHECKED"
	StageEnhancing    Stage = "ENHANCING"
	StageSearching    Stage = "SEARCHING"
	StageFetching     Stage = "FETCHING"
	StageSynthesizing Stage = "SYNTHESIZING"
	StageDone         Stage = "DONE"
	StageFailed       Stage = "FAILED"
)

// tracker 记录单个请求的状态迁移，FAILED 之后不再迁移
type tracker struct {
	mu    sync.Mutex
	log   *logrus.Entry
	stage Stage
}

func newTracker(log *logrus.Entry) *tracker {
	return &tracker{log: log, stage: StageReceived}
}

func (t *tracker) to(next Stage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stage == StageFailed || t.stage == next {
		return
	}
	t.log.Debugf("阶段 %s -> %s", t.stage, next)
	t.stage = next
}

func (t *tracker) fail(err error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stage != StageFailed {
		t.log.Warnf("阶段 %s 失败: %v", t.stage, err)
		t.stage = StageFailed
	}
	return err
}

// Current 当前状态
func (t *tracker) Current() Stage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stage
}
