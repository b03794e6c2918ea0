package budget

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/errs"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type memRecorder struct {
	mu      sync.Mutex
	charges []Charge
	err     error
}

func (r *memRecorder) Record(_ context.Context, charges []Charge, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.charges = append(r.charges, charges...)
	return r.err
}

func TestGuard_ChargeAndExhaust(t *testing.T) {
	g := NewGuard(1.0, nil)
	ctx := context.Background()

	assert.False(t, g.WouldExceed(0.6, ""))
	require.NoError(t, g.Charge(ctx, 0.6, ""))
	assert.True(t, g.WouldExceed(0.6, ""))

	err := g.Charge(ctx, 0.6, "")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ReasonBudgetExceeded))
	assert.InDelta(t, 0.6, g.Snapshot().DailySpent, 1e-9, "rejected charge is not applied")

	require.NoError(t, g.Charge(ctx, 0.4, ""))
	assert.True(t, g.Exhausted(""))
	assert.Equal(t, 0.0, g.Snapshot().DailyRemaining())
}

func TestGuard_MonthlyProviderCap(t *testing.T) {
	g := NewGuard(0, map[string]float64{"zenrows": 2})
	ctx := context.Background()

	require.NoError(t, g.Charge(ctx, 1.5, "zenrows"))
	assert.True(t, g.WouldExceed(1, "zenrows"))
	assert.False(t, g.WouldExceed(1, "brave"), "uncapped provider")
	assert.False(t, g.Exhausted(""), "daily limit 0 means no daily cap")

	require.NoError(t, g.Charge(ctx, 0.5, "zenrows"))
	assert.True(t, g.Exhausted("zenrows"))
	assert.False(t, g.Exhausted("brave"))
}

func TestGuard_ChargeAllIsAllOrNothing(t *testing.T) {
	g := NewGuard(10, map[string]float64{"zenrows": 1})
	ctx := context.Background()

	err := g.ChargeAll(ctx, []Charge{
		{Provider: "brave", Amount: 0.5},
		{Provider: "zenrows", Amount: 2},
	})
	require.Error(t, err)

	snap := g.Snapshot()
	assert.Zero(t, snap.DailySpent)
	assert.Empty(t, snap.MonthlySpent)

	require.NoError(t, g.ChargeAll(ctx, []Charge{
		{Provider: "brave", Amount: 0.5},
		{Provider: "zenrows", Amount: 0.25},
		{Provider: "duckduckgo", Amount: 0},
	}))
	snap = g.Snapshot()
	assert.InDelta(t, 0.75, snap.DailySpent, 1e-9)
	assert.InDelta(t, 0.25, snap.MonthlySpent["zenrows"], 1e-9)
	assert.NotContains(t, snap.MonthlySpent, "duckduckgo")
}

func TestGuard_ConcurrentChargesNeverOvershoot(t *testing.T) {
	g := NewGuard(1.0, nil)
	ctx := context.Background()

	const n = 100
	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Charge(ctx, 0.03, "") == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 33, accepted)
	assert.LessOrEqual(t, g.Snapshot().DailySpent, 1.0)
}

func TestGuard_Rollover(t *testing.T) {
	c := &clock{t: time.Date(2025, 3, 31, 23, 59, 0, 0, time.UTC)}
	g := NewGuard(1, map[string]float64{"zenrows": 5}, WithClock(c.Now))
	ctx := context.Background()

	require.NoError(t, g.Charge(ctx, 1, "zenrows"))
	assert.True(t, g.Exhausted(""))

	// 跨日同时跨月
	c.Set(time.Date(2025, 4, 1, 0, 0, 1, 0, time.UTC))
	assert.False(t, g.Exhausted(""))
	snap := g.Snapshot()
	assert.Equal(t, "2025-04-01", snap.Day)
	assert.Equal(t, "2025-04", snap.Month)
	assert.Zero(t, snap.MonthlySpent["zenrows"])

	require.NoError(t, g.Charge(ctx, 1, "zenrows"))
	// 同月内跨日，只清零日支出
	c.Set(time.Date(2025, 4, 2, 8, 0, 0, 0, time.UTC))
	snap = g.Snapshot()
	assert.Zero(t, snap.DailySpent)
	assert.InDelta(t, 1, snap.MonthlySpent["zenrows"], 1e-9)
}

func TestGuard_RecorderFailureIsNotFatal(t *testing.T) {
	rec := &memRecorder{err: errors.New("db down")}
	g := NewGuard(10, nil, WithRecorder(rec))

	require.NoError(t, g.ChargeAll(context.Background(), []Charge{{Provider: "llm", Amount: 0.1}}))
	assert.Len(t, rec.charges, 1)
	assert.InDelta(t, 0.1, g.Snapshot().DailySpent, 1e-9)
}

func TestGuard_Seed(t *testing.T) {
	g := NewGuard(1, map[string]float64{"zenrows": 2})
	g.Seed(1, map[string]float64{"zenrows": 0.5})
	assert.True(t, g.Exhausted(""))
	assert.InDelta(t, 0.5, g.Snapshot().MonthlySpent["zenrows"], 1e-9)
	assert.Equal(t, []string{"zenrows"}, g.Providers())
}

func TestGuard_SettleAppliesPastCap(t *testing.T) {
	rec := &memRecorder{}
	g := NewGuard(1, map[string]float64{"zenrows": 1}, WithRecorder(rec))

	g.Settle(context.Background(), []Charge{{Provider: "zenrows", Amount: 1.5}, {Provider: "llm", Amount: 0}})
	snap := g.Snapshot()
	assert.InDelta(t, 1.5, snap.DailySpent, 1e-9)
	assert.True(t, g.Exhausted("zenrows"))
	assert.Len(t, rec.charges, 1)
}
