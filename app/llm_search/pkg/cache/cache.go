// Package cache 提供带 TTL 的两级缓存：进程内 LRU 与可选的共享存储（Redis / MinIO）。
// 同一个 key 的并发未命中只会触发一次计算。
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/errs"
	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/logger"
)

const keyPrefix = "llmsearch"

// Store 共享缓存层，跨进程实例生效
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
}

// Pinger 可选接口，用于健康检查
type Pinger interface {
	Ping(ctx context.Context) error
}

// envelope 两级缓存共用的存储格式，记录绝对过期时间
type envelope struct {
	ExpiresAt int64           `json:"e"`
	Value     json.RawMessage `json:"v"`
}

// Stats 缓存统计
type Stats struct {
	Hits         int64 `json:"hits"`
	Misses       int64 `json:"misses"`
	Computes     int64 `json:"computes"`
	SharedErrors int64 `json:"shared_errors"`
}

// Layer 两级缓存
type Layer struct {
	local  *lru.Cache[string, envelope]
	shared Store
	group  singleflight.Group
	now    func() time.Time

	hits         atomic.Int64
	misses       atomic.Int64
	computes     atomic.Int64
	sharedErrors atomic.Int64
}

// Option 配置 Layer
type Option func(*Layer)

// WithClock 替换时钟，测试使用
func WithClock(now func() time.Time) Option {
	return func(l *Layer) { l.now = now }
}

// New 创建缓存层，shared 可以为 nil
func New(memorySize int, shared Store, opts ...Option) (*Layer, error) {
	if memorySize <= 0 {
		memorySize = 1000
	}
	local, err := lru.New[string, envelope](memorySize)
	if err != nil {
		return nil, fmt.Errorf("create lru cache: %w", err)
	}
	l := &Layer{local: local, shared: shared, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Key 生成阶段相关的缓存 key
func Key(stage string, parts ...any) string {
	raw, err := json.Marshal(parts)
	if err != nil {
		raw = []byte(fmt.Sprint(parts...))
	}
	sum := sha256.Sum256(append([]byte(stage+"\x00"), raw...))
	return keyPrefix + ":" + stage + ":" + hex.EncodeToString(sum[:16])
}

type flight struct {
	raw []byte
	hit bool
}

// GetOrCompute 命中缓存直接返回，否则调用 fn 计算并写入缓存。
// 返回值 hit 表示结果来自缓存。fn 的错误不会被缓存。
func GetOrCompute[T any](ctx context.Context, l *Layer, key string, ttl time.Duration, fn func(ctx context.Context) (T, error)) (T, bool, error) {
	var zero T
	if l == nil {
		v, err := fn(ctx)
		return v, false, err
	}

	if raw, ok := l.lookup(ctx, key); ok {
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			l.hits.Add(1)
			return v, true, nil
		}
		logger.Log.Warnf("缓存数据无法解码，重新计算 [%s]", key)
	}
	l.misses.Add(1)

	// 计算与发起请求的调用方解耦，单个调用方取消不影响其他等待者
	flightCtx := context.WithoutCancel(ctx)
	ch := l.group.DoChan(key, func() (any, error) {
		if raw, ok := l.lookup(flightCtx, key); ok {
			return flight{raw: raw, hit: true}, nil
		}
		l.computes.Add(1)
		v, err := fn(flightCtx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode cache value: %w", err)
		}
		l.store(flightCtx, key, raw, ttl)
		return flight{raw: raw}, nil
	})

	select {
	case <-ctx.Done():
		return zero, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, false, res.Err
		}
		f := res.Val.(flight)
		var v T
		if err := json.Unmarshal(f.raw, &v); err != nil {
			return zero, false, fmt.Errorf("decode cache value: %w", err)
		}
		return v, f.hit, nil
	}
}

// Stats 返回统计快照
func (l *Layer) Stats() Stats {
	return Stats{
		Hits:         l.hits.Load(),
		Misses:       l.misses.Load(),
		Computes:     l.computes.Load(),
		SharedErrors: l.sharedErrors.Load(),
	}
}

// Ping 检查共享缓存层是否可用
func (l *Layer) Ping(ctx context.Context) error {
	if p, ok := l.shared.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Shared 是否配置了共享缓存层
func (l *Layer) Shared() bool {
	return l.shared != nil
}

func (l *Layer) lookup(ctx context.Context, key string) ([]byte, bool) {
	now := l.now()
	if e, ok := l.local.Get(key); ok {
		if now.UnixNano() < e.ExpiresAt {
			return e.Value, true
		}
		l.local.Remove(key)
	}

	if l.shared == nil {
		return nil, false
	}
	data, ok, err := l.shared.Get(ctx, key)
	if err != nil {
		l.sharedErrors.Add(1)
		logger.Log.Warnf("共享缓存读取失败，按未命中处理: %v", errs.Cache("get", err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var e envelope
	if err := json.Unmarshal(data, &e); err != nil || now.UnixNano() >= e.ExpiresAt {
		return nil, false
	}
	l.local.Add(key, e)
	return e.Value, true
}

func (l *Layer) store(ctx context.Context, key string, raw []byte, ttl time.Duration) {
	e := envelope{ExpiresAt: l.now().Add(ttl).UnixNano(), Value: raw}
	l.local.Add(key, e)

	if l.shared == nil {
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	if err := l.shared.Set(ctx, key, data, ttl); err != nil {
		l.sharedErrors.Add(1)
		logger.Log.Warnf("共享缓存写入失败: %v", errs.Cache("set", err))
	}
}
