// Package budget 记录成本支出并执行日预算与供应商月预算上限。
package budget

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/errs"
	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/logger"
)

// Charge 一笔付费调用的支出
type Charge struct {
	Provider string  `json:"provider"`
	Amount   float64 `json:"amount"`
}

// Ledger 预算账本快照
type Ledger struct {
	Day           string             `json:"day"`
	DailySpent    float64            `json:"daily_spent"`
	DailyLimit    float64            `json:"daily_limit"`
	Month         string             `json:"month"`
	MonthlySpent  map[string]float64 `json:"monthly_spent"`
	MonthlyLimits map[string]float64 `json:"monthly_limits"`
}

// DailyRemaining 今日剩余预算，未设上限时返回 -1
func (l Ledger) DailyRemaining() float64 {
	if l.DailyLimit <= 0 {
		return -1
	}
	if r := l.DailyLimit - l.DailySpent; r > 0 {
		return r
	}
	return 0
}

// Recorder 支出持久化
type Recorder interface {
	Record(ctx context.Context, charges []Charge, at time.Time) error
}

// Guard 预算守卫。上限为 0 表示不设上限。
type Guard struct {
	mu sync.Mutex

	dailyLimit    float64
	monthlyLimits map[string]float64

	day     string
	daily   float64
	month   string
	monthly map[string]float64

	now      func() time.Time
	recorder Recorder
}

// Option 配置 Guard
type Option func(*Guard)

// WithClock 替换时钟
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// WithRecorder 每次成功扣费后写入持久化存储
func WithRecorder(r Recorder) Option {
	return func(g *Guard) { g.recorder = r }
}

// NewGuard 创建预算守卫
func NewGuard(daily float64, monthly map[string]float64, opts ...Option) *Guard {
	limits := make(map[string]float64, len(monthly))
	for k, v := range monthly {
		limits[k] = v
	}
	g := &Guard{
		dailyLimit:    daily,
		monthlyLimits: limits,
		monthly:       map[string]float64{},
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.rollover()
	return g
}

func periods(t time.Time) (day, month string) {
	t = t.UTC()
	return t.Format(time.DateOnly), t.Format("2006-01")
}

// rollover 跨日清零日支出，跨月清零月支出，调用方持有锁
func (g *Guard) rollover() {
	day, month := periods(g.now())
	if day != g.day {
		if g.day != "" {
			logger.Log.Infof("预算日切换 %s -> %s，清零日支出 %.4f", g.day, day, g.daily)
		}
		g.day = day
		g.daily = 0
	}
	if month != g.month {
		g.month = month
		g.monthly = map[string]float64{}
	}
}

// exceeds 检查在当前账本上追加 daily 与 perProvider 后是否越过任意上限
func (g *Guard) exceeds(daily float64, perProvider map[string]float64) (string, bool) {
	if g.dailyLimit > 0 && g.daily+daily > g.dailyLimit {
		return "daily", true
	}
	for p, amount := range perProvider {
		limit, ok := g.monthlyLimits[p]
		if !ok || limit <= 0 {
			continue
		}
		if g.monthly[p]+amount > limit {
			return "monthly:" + p, true
		}
	}
	return "", false
}

// WouldExceed 预估本次支出是否会越过日预算或该供应商的月预算
func (g *Guard) WouldExceed(amount float64, providerID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollover()
	_, over := g.exceeds(amount, map[string]float64{providerID: amount})
	return over
}

// Exhausted 日预算或该供应商月预算已经用完。providerID 为空时只检查日预算。
func (g *Guard) Exhausted(providerID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollover()
	if g.dailyLimit > 0 && g.daily >= g.dailyLimit {
		return true
	}
	if providerID == "" {
		return false
	}
	limit, ok := g.monthlyLimits[providerID]
	return ok && limit > 0 && g.monthly[providerID] >= limit
}

// Charge 原子地检查并扣费，超出上限时不扣费并返回 BUDGET_EXCEEDED
func (g *Guard) Charge(ctx context.Context, amount float64, providerID string) error {
	return g.ChargeAll(ctx, []Charge{{Provider: providerID, Amount: amount}})
}

// ChargeAll 原子地扣除一组支出，任意一项越界时整组都不生效
func (g *Guard) ChargeAll(ctx context.Context, charges []Charge) error {
	var total float64
	perProvider := map[string]float64{}
	var kept []Charge
	for _, c := range charges {
		if c.Amount <= 0 {
			continue
		}
		total += c.Amount
		if c.Provider != "" {
			perProvider[c.Provider] += c.Amount
		}
		kept = append(kept, c)
	}
	if len(kept) == 0 {
		return nil
	}

	g.mu.Lock()
	g.rollover()
	if scope, over := g.exceeds(total, perProvider); over {
		g.mu.Unlock()
		return errs.BudgetExceeded(scope)
	}
	g.daily += total
	for p, amount := range perProvider {
		g.monthly[p] += amount
	}
	at := g.now()
	g.mu.Unlock()

	if g.recorder != nil {
		if err := g.recorder.Record(ctx, kept, at); err != nil {
			logger.Log.Warnf("预算支出持久化失败: %v", err)
		}
	}
	return nil
}

// Settle 记录已经发生的支出，不做上限检查。付费调用已完成时使用，
// 账本因此可能超过上限，后续请求会在调用前被拒绝。
func (g *Guard) Settle(ctx context.Context, charges []Charge) {
	var kept []Charge
	g.mu.Lock()
	g.rollover()
	for _, c := range charges {
		if c.Amount <= 0 {
			continue
		}
		g.daily += c.Amount
		if c.Provider != "" {
			g.monthly[c.Provider] += c.Amount
		}
		kept = append(kept, c)
	}
	at := g.now()
	g.mu.Unlock()

	if g.recorder != nil && len(kept) > 0 {
		if err := g.recorder.Record(ctx, kept, at); err != nil {
			logger.Log.Warnf("预算支出持久化失败: %v", err)
		}
	}
}

// Seed 用持久化存储中的本期累计值初始化账本
func (g *Guard) Seed(daily float64, monthly map[string]float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollover()
	g.daily = daily
	g.monthly = map[string]float64{}
	for k, v := range monthly {
		g.monthly[k] = v
	}
}

// Snapshot 返回当前账本
func (g *Guard) Snapshot() Ledger {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollover()

	spent := make(map[string]float64, len(g.monthly))
	for k, v := range g.monthly {
		spent[k] = v
	}
	limits := make(map[string]float64, len(g.monthlyLimits))
	for k, v := range g.monthlyLimits {
		limits[k] = v
	}
	return Ledger{
		Day:           g.day,
		DailySpent:    g.daily,
		DailyLimit:    g.dailyLimit,
		Month:         g.month,
		MonthlySpent:  spent,
		MonthlyLimits: limits,
	}
}

// Providers 返回设置了月预算的供应商
func (g *Guard) Providers() []string {
	out := make([]string, 0, len(g.monthlyLimits))
	for k := range g.monthlyLimits {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
