// Package engine 编排一次搜索请求：限流、缓存、查询扩展、多源搜索、正文抓取、回答综合与计费。
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/budget"
	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/cache"
	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/enhancer"
	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/errs"
	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/fetcher"
	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/logger"
	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/model"
	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/ratelimit"
	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/synth"
)

// Searcher 多源搜索阶段
type Searcher interface {
	Search(ctx context.Context, set model.EnhancedQuerySet, maxResults int) (*model.RankedResultSet, []budget.Charge, error)
}

// Fetcher 正文抓取阶段
type Fetcher interface {
	FetchAll(ctx context.Context, urls []string) *fetcher.Batch
	Paid() (providerID string, costPerCall float64, ok bool)
}

// Deps 引擎依赖，Cache 为 nil 时不使用缓存
type Deps struct {
	Cache       *cache.Layer
	Budget      *budget.Guard
	RateLimiter *ratelimit.Limiter
	Enhancer    enhancer.Enhancer
	Searcher    Searcher
	Fetcher     Fetcher
	Synthesizer synth.Synthesizer
	// ProviderIDs 用于健康检查展示
	ProviderIDs []string
}

// Settings 引擎参数
type Settings struct {
	MaxQueries          int
	MinDocuments        int
	TTLQueryEnhancement time.Duration
	TTLFinalResponse    time.Duration
	PromptCostPer1K     float64
	CompletionCostPer1K float64
	// RequestTimeout 一次完整计算的上限，0 表示不限制
	RequestTimeout time.Duration
}

// DefaultSettings 默认参数
func DefaultSettings() Settings {
	return Settings{
		MaxQueries:          model.MaxEnhancedQueries,
		MinDocuments:        1,
		TTLQueryEnhancement: time.Hour,
		TTLFinalResponse:    4 * time.Hour,
	}
}

// Engine 核心处理引擎
type Engine struct {
	deps     Deps
	settings Settings
	now      func() time.Time
}

// Option 配置引擎
type Option func(*Engine)

// WithSettings 替换引擎参数
func WithSettings(s Settings) Option {
	return func(e *Engine) { e.settings = s }
}

// WithClock 替换时钟
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine 创建引擎实例
func NewEngine(deps Deps, opts ...Option) (*Engine, error) {
	switch {
	case deps.Budget == nil:
		return nil, errors.New("engine: budget guard is required")
	case deps.RateLimiter == nil:
		return nil, errors.New("engine: rate limiter is required")
	case deps.Searcher == nil:
		return nil, errors.New("engine: searcher is required")
	case deps.Fetcher == nil:
		return nil, errors.New("engine: fetcher is required")
	case deps.Synthesizer == nil:
		return nil, errors.New("engine: synthesizer is required")
	}
	if deps.Enhancer == nil {
		deps.Enhancer = enhancer.Noop{}
	}
	e := &Engine{deps: deps, settings: DefaultSettings(), now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	if e.settings.MinDocuments < 1 {
		e.settings.MinDocuments = 1
	}
	return e, nil
}

// Validate 校验并规范化请求
func Validate(req model.Request) (model.Request, error) {
	q, ok := model.NormalizeQuery(req.Query)
	if !ok {
		if q == "" {
			return req, errs.Validation("query must not be empty")
		}
		return req, errs.Validation("query must be at most %d characters", model.MaxQueryLength)
	}
	req.Query = q
	switch {
	case req.MaxResults == 0:
		req.MaxResults = model.DefaultMaxResults
	case req.MaxResults < 1 || req.MaxResults > model.MaxMaxResults:
		return req, errs.Validation("max_results must be between 1 and %d", model.MaxMaxResults)
	}
	return req, nil
}

// Run 执行一次搜索请求
func (e *Engine) Run(ctx context.Context, req model.Request) (*model.Response, error) {
	start := e.now()
	st := newTracker(logger.WithRequest(req.RequestID))

	req, err := Validate(req)
	if err != nil {
		return nil, st.fail(err)
	}

	clientID := req.ClientID
	if clientID == "" {
		clientID = "anonymous"
	}
	if !e.deps.RateLimiter.Allow(clientID) {
		return nil, st.fail(errs.RateLimited(clientID))
	}
	st.to(StageRateChecked)

	key := cache.Key("response", req.Query, req.MaxResults, req.WantSources())
	var computed atomic.Bool
	resp, hit, err := cache.GetOrCompute(ctx, e.deps.Cache, key, e.settings.TTLFinalResponse, func(ctx context.Context) (*model.Response, error) {
		computed.Store(true)
		st.to(StageCacheChecked)
		if e.settings.RequestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, e.settings.RequestTimeout)
			defer cancel()
		}
		return e.compute(ctx, st, req, start)
	})
	if err != nil {
		return nil, st.fail(err)
	}
	if !computed.Load() {
		st.to(StageCacheChecked)
	}

	out := *resp
	out.Cached = hit
	out.RequestID = req.RequestID
	st.to(StageDone)
	st.log.WithFields(logrus.Fields{
		"cached":     hit,
		"sources":    len(out.Sources),
		"confidence": out.Confidence,
	}).Infof("请求完成 [%s]", req.Query)
	return &out, nil
}

// compute 在最终响应缓存未命中时执行完整流水线
func (e *Engine) compute(ctx context.Context, st *tracker, req model.Request, start time.Time) (*model.Response, error) {
	var charges []budget.Charge
	// 已发生的付费调用无论成功与否都要入账
	defer func() { e.settle(ctx, st, charges) }()

	// 每个请求都要经过综合阶段，先检查 LLM 预算
	if err := e.checkBudget(synth.ProviderID); err != nil {
		return nil, err
	}
	if e.settings.MaxQueries > 1 {
		if err := e.checkBudget(e.deps.Enhancer.Provider()); err != nil {
			return nil, err
		}
	}

	st.to(StageEnhancing)
	set, enhanceCharges := e.enhance(ctx, st, req.Query)
	charges = append(charges, enhanceCharges...)

	if err := e.checkBudget(""); err != nil {
		return nil, err
	}
	st.to(StageSearching)
	ranked, searchCharges, err := e.deps.Searcher.Search(ctx, set, req.MaxResults)
	charges = append(charges, searchCharges...)
	if err != nil {
		return nil, err
	}
	if len(ranked.Failed) > 0 {
		st.log.Warnf("部分搜索源失败: %v", ranked.Failed)
	}

	providerID, _, paid := e.deps.Fetcher.Paid()
	if !paid {
		providerID = ""
	}
	if err := e.checkBudget(providerID); err != nil {
		return nil, err
	}
	st.to(StageFetching)
	urls := ranked.URLs()
	batch := e.deps.Fetcher.FetchAll(ctx, urls)
	charges = append(charges, batch.Charges...)
	st.log.Debugf("抓取完成: %s", batch)

	// 保持搜索排序
	docs := make([]model.ContentDocument, 0, len(batch.Docs))
	for _, u := range urls {
		if d, ok := batch.Docs[u]; ok {
			docs = append(docs, d)
		}
	}
	if len(docs) < e.settings.MinDocuments {
		return nil, errs.ServiceUnavailable("fetch", "only %d of %d documents fetched, need %d",
			len(docs), len(urls), e.settings.MinDocuments)
	}

	if err := e.checkBudget(synth.ProviderID); err != nil {
		return nil, err
	}
	st.to(StageSynthesizing)
	// 失败的综合同样返回已消耗的 token 用量
	result, err := e.deps.Synthesizer.Synthesize(ctx, req.Query, docs)
	synthCost := synth.EstimateCost(result, e.settings.PromptCostPer1K, e.settings.CompletionCostPer1K)
	if synthCost > 0 {
		charges = append(charges, budget.Charge{Provider: synth.ProviderID, Amount: synthCost})
	}
	if err == nil && result == nil {
		err = fmt.Errorf("synthesizer returned no result")
	}
	if err != nil {
		if !errs.Is(err, errs.ReasonSynthesis) {
			err = errs.Synthesis(err)
		}
		return nil, err
	}

	answer := model.SynthesizedAnswer{
		Answer:     result.Answer,
		Sources:    citedFrom(result.Sources, docs),
		Confidence: model.Clamp01(result.Confidence),
		Cost:       synthCost,
	}
	return e.respond(req, answer, charges, start), nil
}

// respond 由综合结果组装最终响应
func (e *Engine) respond(req model.Request, answer model.SynthesizedAnswer, charges []budget.Charge, start time.Time) *model.Response {
	sources := []string{}
	if req.WantSources() {
		sources = answer.Sources
	}
	var total float64
	for _, c := range charges {
		total += c.Amount
	}

	return &model.Response{
		Query:          req.Query,
		Answer:         answer.Answer,
		Sources:        sources,
		Confidence:     answer.Confidence,
		ProcessingTime: e.now().Sub(start).Seconds(),
		CostEstimate:   &total,
		Timestamp:      e.now().UTC(),
	}
}

// enhance 扩展查询。扩展失败时退化为只用原始查询，退化结果不写缓存。
func (e *Engine) enhance(ctx context.Context, st *tracker, query string) (model.EnhancedQuerySet, []budget.Charge) {
	original := enhancer.BuildSet(query, nil, 1, enhancer.MethodOriginal)
	if e.settings.MaxQueries <= 1 {
		return original, nil
	}

	var charge atomic.Pointer[budget.Charge]
	key := cache.Key("enhance", query, e.deps.Enhancer.Name(), e.settings.MaxQueries)
	set, _, err := cache.GetOrCompute(ctx, e.deps.Cache, key, e.settings.TTLQueryEnhancement, func(ctx context.Context) (model.EnhancedQuerySet, error) {
		exp, err := e.deps.Enhancer.Enhance(ctx, query)
		if exp != nil && exp.Cost > 0 {
			charge.Store(&budget.Charge{Provider: exp.Provider, Amount: exp.Cost})
		}
		if err != nil {
			return model.EnhancedQuerySet{}, err
		}
		if exp == nil {
			exp = &enhancer.Expansion{}
		}
		return enhancer.BuildSet(query, exp.Queries, e.settings.MaxQueries, e.deps.Enhancer.Name()), nil
	})

	var charges []budget.Charge
	if c := charge.Load(); c != nil {
		charges = append(charges, *c)
	}
	if err != nil {
		st.log.Warnf("查询扩展失败，使用原始查询: %v", err)
		return original, charges
	}
	return set, charges
}

func (e *Engine) checkBudget(providerID string) error {
	if e.deps.Budget.Exhausted("") {
		return errs.BudgetExceeded("daily")
	}
	if providerID != "" && e.deps.Budget.Exhausted(providerID) {
		return errs.BudgetExceeded("monthly:" + providerID)
	}
	return nil
}

// settle 入账本次请求实际发生的付费调用。并发请求抢先用完预算时仍然记录支出。
func (e *Engine) settle(ctx context.Context, st *tracker, charges []budget.Charge) {
	if len(charges) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := e.deps.Budget.ChargeAll(ctx, charges); err != nil {
		st.log.Warnf("支出超过预算上限，仍按实际支出入账: %v", err)
		e.deps.Budget.Settle(ctx, charges)
	}
}

// citedFrom 只保留出现在已抓取文档中的来源
func citedFrom(sources []string, docs []model.ContentDocument) []string {
	fetched := make(map[string]bool, len(docs))
	for _, d := range docs {
		fetched[d.URL] = true
	}
	out := []string{}
	seen := map[string]bool{}
	for _, s := range sources {
		if fetched[s] && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// Health 报告各组件状态
func (e *Engine) Health(ctx context.Context) model.HealthResponse {
	start := time.Now()
	services := map[string]string{}
	status := "healthy"

	switch {
	case e.deps.Cache == nil:
		services["cache"] = "disabled"
	case !e.deps.Cache.Shared():
		services["cache"] = "memory"
	default:
		if err := e.deps.Cache.Ping(ctx); err != nil {
			services["cache"] = fmt.Sprintf("unhealthy: %v", err)
			status = "degraded"
		} else {
			services["cache"] = "healthy"
		}
	}

	ledger := e.deps.Budget.Snapshot()
	if r := ledger.DailyRemaining(); r < 0 {
		services["budget"] = "unlimited"
	} else {
		services["budget"] = fmt.Sprintf("%.2f USD remaining today", r)
		if r == 0 {
			status = "degraded"
		}
	}
	for _, p := range e.deps.Budget.Providers() {
		if e.deps.Budget.Exhausted(p) {
			services["budget:"+p] = "exhausted"
			status = "degraded"
		}
	}

	for _, id := range e.deps.ProviderIDs {
		services["search:"+id] = "configured"
	}
	services["enhancer"] = e.deps.Enhancer.Name()
	services["llm"] = "configured"

	return model.HealthResponse{
		Status:         status,
		Services:       services,
		ResponseTimeMS: float64(time.Since(start).Microseconds()) / 1000,
		Timestamp:      time.Now().UTC(),
	}
}
