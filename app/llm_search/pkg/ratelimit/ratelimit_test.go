package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
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

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestLimiter_FixedWindow(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	l := New(3, WithClock(c.Now))

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("a"))
	}
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"), "clients are independent")
	assert.Equal(t, 0, l.Remaining("a"))

	c.Advance(59 * time.Second)
	assert.False(t, l.Allow("a"))

	c.Advance(time.Second)
	assert.True(t, l.Allow("a"))
	assert.Equal(t, 2, l.Remaining("a"))
}

func TestLimiter_ConcurrentAllowNeverOvershoots(t *testing.T) {
	l := New(60)
	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("client") {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(60), allowed.Load())
}

func TestLimiter_Sweep(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	l := New(1, WithClock(c.Now), WithPeriod(10*time.Second))

	l.Allow("a")
	l.Allow("b")
	assert.Equal(t, 2, l.Len())

	c.Advance(5 * time.Second)
	l.Allow("c")
	c.Advance(6 * time.Second)
	l.Sweep()
	assert.Equal(t, 1, l.Len(), "only c is still inside its window")
}
