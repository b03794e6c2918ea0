package server

import (
	"context"
	"fmt"
	nethttp "net/http"
	"time"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/budget"
	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/cache"
	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/config"
	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/engine"
	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/enhancer"
	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/fetcher"
	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/llm"
	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/ratelimit"
	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/search"
	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/search/factory"
	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/synth"
)

const setupTimeout = 15 * time.Second

// NewSearchEngine 按配置组装完整的搜索流水线
func NewSearchEngine(c *config.Config, logger log.Logger) (*engine.Engine, func(), error) {
	helper := log.NewHelper(logger)
	ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
	defer cancel()

	var closers []func() error
	cleanup := func() {
		helper.Info("cleaning up llm_search engine")
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				helper.Warnf("cleanup: %v", err)
			}
		}
	}

	// 共享缓存不可用时降级为纯内存缓存
	shared, closeShared := newSharedStore(ctx, c.Cache, helper)
	if closeShared != nil {
		closers = append(closers, closeShared)
	}
	layer, err := cache.New(c.Cache.MemorySize, shared)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	guard, closeLedger := newGuard(ctx, c.Budget, helper)
	if closeLedger != nil {
		closers = append(closers, closeLedger)
	}

	cm, err := llm.NewChatModel(ctx, c.LLM)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	caller := llm.NewCaller(cm, llm.NewLimiter(c.LLM.QPS, c.LLM.RPM))

	providers, err := factory.NewProviders(c)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	ids := make([]string, 0, len(providers))
	for _, p := range providers {
		ids = append(ids, p.ID)
	}
	agg := search.NewAggregator(providers, layer, guard,
		search.WithTTL(c.Cache.TTLSearchResults),
		search.WithScoreWeight(c.Search.ScoreWeight),
		search.WithMaxPerProvider(c.Search.MaxPerProvider),
		search.WithConcurrency(c.Search.MaxConcurrency),
	)

	f := fetcher.New(newFetchService(c.Fetch),
		fetcher.WithTimeout(c.Fetch.Timeout),
		fetcher.WithConcurrency(c.Fetch.MaxConcurrency),
		fetcher.WithMaxLength(c.Fetch.MaxContentLength),
		fetcher.WithMinConfidence(c.Fetch.MinConfidence),
		fetcher.WithMinWords(c.Fetch.MinWords),
		fetcher.WithCache(layer, c.Cache.TTLSearchResults),
		fetcher.WithBudget(guard),
	)

	eng, err := engine.NewEngine(engine.Deps{
		Cache:       layer,
		Budget:      guard,
		RateLimiter: ratelimit.New(c.RateLimit.PerMinute),
		Enhancer:    newEnhancer(c, caller),
		Searcher:    agg,
		Fetcher:     f,
		Synthesizer: synth.NewLLM(caller),
		ProviderIDs: ids,
	}, engine.WithSettings(engine.Settings{
		MaxQueries:          c.Enhancer.MaxQueries,
		MinDocuments:        c.Pipeline.MinDocuments,
		TTLQueryEnhancement: c.Cache.TTLQueryEnhancement,
		TTLFinalResponse:    c.Cache.TTLFinalResponse,
		PromptCostPer1K:     c.LLM.PromptCostPer1K,
		CompletionCostPer1K: c.LLM.CompletionCostPer1K,
		RequestTimeout:      c.Pipeline.RequestTimeout,
	}))
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	helper.Infof("llm_search engine ready: %s ids=%v", describe(c), ids)
	return eng, cleanup, nil
}

func newSharedStore(ctx context.Context, c config.CacheConfig, helper *log.Helper) (cache.Store, func() error) {
	switch {
	case c.RedisURL != "":
		store, err := cache.NewRedisStore(c.RedisURL)
		if err == nil {
			err = store.Ping(ctx)
		}
		if err != nil {
			helper.Warnf("redis cache unavailable, using memory only: %v", err)
			if store != nil {
				_ = store.Close()
			}
			return nil, nil
		}
		return store, store.Close
	case c.MinIO.Endpoint != "":
		store, err := cache.NewMinioStore(ctx, cache.MinioOptions{
			Endpoint:  c.MinIO.Endpoint,
			AccessKey: c.MinIO.AccessKey,
			SecretKey: c.MinIO.SecretKey,
			Bucket:    c.MinIO.Bucket,
			Secure:    c.MinIO.Secure,
		})
		if err != nil {
			helper.Warnf("minio cache unavailable, using memory only: %v", err)
			return nil, nil
		}
		return store, nil
	}
	return nil, nil
}

// newGuard 配置了数据库时从账本恢复当天与当月支出
func newGuard(ctx context.Context, c config.BudgetConfig, helper *log.Helper) (*budget.Guard, func() error) {
	if c.DatabaseURL == "" {
		return budget.NewGuard(c.DailyUSD, c.Monthly), nil
	}
	store, err := budget.NewPostgresStore(ctx, c.DatabaseURL)
	if err != nil {
		helper.Warnf("budget ledger unavailable, spend is kept in memory: %v", err)
		return budget.NewGuard(c.DailyUSD, c.Monthly), nil
	}
	guard := budget.NewGuard(c.DailyUSD, c.Monthly, budget.WithRecorder(store))
	if err := budget.Restore(ctx, guard, store); err != nil {
		helper.Warnf("restore budget ledger: %v", err)
	}
	return guard, store.Close
}

func newEnhancer(c *config.Config, caller *llm.Caller) enhancer.Enhancer {
	switch c.Enhancer.Provider {
	case enhancer.MethodLLM:
		return enhancer.NewLLM(caller, c.Enhancer.MaxQueries,
			enhancer.WithPricing(c.LLM.PromptCostPer1K, c.LLM.CompletionCostPer1K))
	case enhancer.MethodAutosuggest:
		return enhancer.NewAutosuggest(c.Enhancer.APIKey, enhancer.WithCostPerCall(c.Enhancer.CostPerCall))
	default:
		return enhancer.Noop{}
	}
}

func newFetchService(c config.FetchConfig) fetcher.Service {
	if c.Provider == fetcher.MethodZenRows && c.ZenRowsAPIKey != "" {
		return fetcher.NewZenRows(c.ZenRowsAPIKey, c.CostPerCall)
	}
	return fetcher.NewReadability(&nethttp.Client{Timeout: c.Timeout})
}

// describe 启动日志中展示的组件摘要
func describe(c *config.Config) string {
	return fmt.Sprintf("enhancer=%s fetch=%s providers=%d daily_budget=%.2f",
		c.Enhancer.Provider, c.Fetch.Provider, len(c.EnabledProviders()), c.Budget.DailyUSD)
}
