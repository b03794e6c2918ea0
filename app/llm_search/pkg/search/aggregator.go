package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/bytedance/gg/gson"
	"golang.org/x/sync/errgroup"

	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/budget"
	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/cache"
	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/errs"
	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/logger"
	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/model"
)

var errBudgetSkipped = errors.New("skipped: provider budget exhausted")

// Aggregator 将扩展查询并发分发到所有搜索源，合并、去重并排序
type Aggregator struct {
	providers   []Provider
	cache       *cache.Layer
	guard       *budget.Guard
	ttl         time.Duration
	weight      float64
	perProvider int
	concurrency int
}

// Option 配置 Aggregator
type Option func(*Aggregator)

// WithTTL 单次搜索结果的缓存时间
func WithTTL(ttl time.Duration) Option {
	return func(a *Aggregator) { a.ttl = ttl }
}

// WithScoreWeight 融合分中搜索源相关度的权重，其余部分为搜索源可信度
func WithScoreWeight(w float64) Option {
	return func(a *Aggregator) { a.weight = model.Clamp01(w) }
}

// WithMaxPerProvider 每次调用向搜索源请求的结果数
func WithMaxPerProvider(n int) Option {
	return func(a *Aggregator) { a.perProvider = n }
}

// WithConcurrency 同时进行中的搜索调用上限
func WithConcurrency(n int) Option {
	return func(a *Aggregator) { a.concurrency = n }
}

// NewAggregator 创建聚合器，c 与 g 均可为 nil
func NewAggregator(providers []Provider, c *cache.Layer, g *budget.Guard, opts ...Option) *Aggregator {
	a := &Aggregator{
		providers:   providers,
		cache:       c,
		guard:       g,
		ttl:         30 * time.Minute,
		weight:      0.7,
		perProvider: 10,
		concurrency: 8,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Providers 已注册的搜索源
func (a *Aggregator) Providers() []Provider {
	return a.providers
}

type task struct {
	provider Provider
	query    string
}

type outcome struct {
	results []Result
	err     error
	charged bool
}

// Search 执行一次多源搜索。返回的 charges 只包含实际发起的付费调用。
func (a *Aggregator) Search(ctx context.Context, set model.EnhancedQuerySet, maxResults int) (*model.RankedResultSet, []budget.Charge, error) {
	if len(a.providers) == 0 {
		return nil, nil, errs.ServiceUnavailable("search", "no search provider configured")
	}
	if maxResults <= 0 {
		maxResults = model.DefaultMaxResults
	}

	var tasks []task
	for _, p := range a.providers {
		for _, q := range set.Queries {
			tasks = append(tasks, task{provider: p, query: q})
		}
	}

	// 每个任务写入自己的位置，合并顺序与完成顺序无关
	outcomes := make([]outcome, len(tasks))
	var g errgroup.Group
	if a.concurrency > 0 {
		g.SetLimit(a.concurrency)
	}
	for i, t := range tasks {
		g.Go(func() error {
			outcomes[i] = a.run(ctx, t)
			return nil
		})
	}
	_ = g.Wait()

	var charges []budget.Charge
	succeeded := map[string]bool{}
	failed := map[string]string{}
	var merged []Result
	var owners []Provider
	for i, o := range outcomes {
		p := tasks[i].provider
		if o.charged {
			charges = append(charges, budget.Charge{Provider: p.ID, Amount: p.CostPerCall})
		}
		if o.err != nil {
			failed[p.ID] = o.err.Error()
			continue
		}
		succeeded[p.ID] = true
		for _, r := range o.results {
			merged = append(merged, r)
			owners = append(owners, p)
		}
	}

	ranked := &model.RankedResultSet{Failed: map[string]string{}}
	for id := range succeeded {
		ranked.Providers = append(ranked.Providers, id)
		delete(failed, id)
	}
	sort.Strings(ranked.Providers)
	for id, msg := range failed {
		ranked.Failed[id] = msg
	}

	ranked.Results = a.rank(merged, owners, maxResults)
	if len(ranked.Results) == 0 {
		return nil, charges, errs.ServiceUnavailable("search", "no results from %d providers", len(a.providers))
	}
	return ranked, charges, nil
}

// run 执行单个 (搜索源, 查询) 任务，错误只影响该任务
func (a *Aggregator) run(ctx context.Context, t task) outcome {
	p := t.provider
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var o outcome
	var charged atomic.Bool
	key := cache.Key("search", p.ID, t.query, a.perProvider)
	results, _, err := cache.GetOrCompute(callCtx, a.cache, key, a.ttl, func(fctx context.Context) ([]Result, error) {
		fctx, cancel := context.WithTimeout(fctx, timeout)
		defer cancel()

		if p.CostPerCall > 0 && a.guard != nil && a.guard.WouldExceed(p.CostPerCall, p.ID) {
			return nil, errBudgetSkipped
		}
		if p.Limiter != nil {
			if err := p.Limiter.Wait(fctx); err != nil {
				return nil, err
			}
		}
		charged.Store(p.CostPerCall > 0)
		resp, err := p.Searcher.Search(fctx, &Request{Query: t.query, MaxResults: a.perProvider})
		if err != nil {
			return nil, err
		}
		logger.Log.Debugf("搜索源 [%s] 查询 [%s] 返回: %s", p.ID, t.query, gson.ToString(resp))
		return resp.Results, nil
	})
	o.charged = charged.Load()
	if err != nil {
		unit := fmt.Sprintf("%s/%s", p.ID, t.query)
		switch {
		case errors.Is(err, errBudgetSkipped):
			logger.Log.Warnf("搜索源 [%s] 月预算已用完，跳过", p.ID)
		case errs.IsTimeout(err):
			err = errs.UpstreamTimeout(unit, err)
			logger.Log.Warnf("搜索源超时 [%s]: %v", unit, err)
		default:
			logger.Log.Warnf("搜索源调用失败 [%s]: %v", unit, err)
		}
		o.err = err
		return o
	}
	o.results = results
	return o
}

// rank 规范化 URL、去重、计算融合分、排序并截断
func (a *Aggregator) rank(results []Result, owners []Provider, maxResults int) []model.SearchResult {
	byURL := map[string]int{}
	var out []model.SearchResult
	for i, r := range results {
		canonical, err := Canonicalize(r.URL)
		if err != nil {
			continue
		}
		p := owners[i]
		score := model.Clamp01(r.Score)
		item := model.SearchResult{
			Title:        r.Title,
			URL:          r.URL,
			CanonicalURL: canonical,
			Snippet:      r.Content,
			Provider:     p.ID,
			Score:        score,
			Combined:     model.Clamp01(a.weight*score + (1-a.weight)*model.Clamp01(p.Trust)),
		}
		idx, seen := byURL[canonical]
		if !seen {
			byURL[canonical] = len(out)
			out = append(out, item)
			continue
		}
		prev := out[idx]
		if item.Score > prev.Score || (item.Score == prev.Score && item.Combined > prev.Combined) {
			out[idx] = item
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Combined != out[j].Combined {
			return out[i].Combined > out[j].Combined
		}
		return out[i].CanonicalURL < out[j].CanonicalURL
	})
	if len(out) > maxResults {
		out = out[:maxResults]
	}
	return out
}
