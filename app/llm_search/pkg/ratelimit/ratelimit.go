// Package ratelimit 按客户端执行固定窗口限流。
package ratelimit

import (
	"sync"
	"time"
)

const sweepEvery = 1024

// window 单个客户端的计数窗口
type window struct {
	start time.Time
	count int
}

// Limiter 固定窗口限流器，窗口边界处允许短时突发
type Limiter struct {
	mu      sync.Mutex
	limit   int
	period  time.Duration
	windows map[string]*window
	calls   int
	now     func() time.Time
}

// Option 配置 Limiter
type Option func(*Limiter)

// WithClock 替换时钟
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithPeriod 修改窗口长度，默认 1 分钟
func WithPeriod(d time.Duration) Option {
	return func(l *Limiter) { l.period = d }
}

// New 创建限流器，limit 为每个窗口允许的请求数
func New(limit int, opts ...Option) *Limiter {
	l := &Limiter{
		limit:   limit,
		period:  time.Minute,
		windows: map[string]*window{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow 判断并记录一次请求，检查与计数在同一把锁内完成
func (l *Limiter) Allow(clientID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.calls++
	if l.calls%sweepEvery == 0 {
		l.sweep(now)
	}

	w, ok := l.windows[clientID]
	if !ok || now.Sub(w.start) >= l.period {
		w = &window{start: now}
		l.windows[clientID] = w
	}
	if w.count >= l.limit {
		return false
	}
	w.count++
	return true
}

// Remaining 当前窗口剩余可用次数
func (l *Limiter) Remaining(clientID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[clientID]
	if !ok || l.now().Sub(w.start) >= l.period {
		return l.limit
	}
	return l.limit - w.count
}

// Sweep 清理已过期的窗口
func (l *Limiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweep(l.now())
}

func (l *Limiter) sweep(now time.Time) {
	for id, w := range l.windows {
		if now.Sub(w.start) >= l.period {
			delete(l.windows, id)
		}
	}
}

// Len 当前跟踪的客户端数
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
