package factory

import (
	"fmt"

	"golang.org/x/time/rate"

	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/bing"
	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/brave"
	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/config"
	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/duckduckgo"
	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/logger"
	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/search"
	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/searxng"
	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/tavily"
)

// NewProviders 根据配置创建所有已启用的搜索源。缺少密钥的搜索源会被跳过并记录警告。
func NewProviders(cfg *config.Config) ([]search.Provider, error) {
	var providers []search.Provider
	for _, pc := range cfg.EnabledProviders() {
		s, limiter, err := newSearcher(pc)
		if err != nil {
			logger.Log.Warnf("搜索源 [%s] 未启用: %v", pc.Name, err)
			continue
		}
		providers = append(providers, search.Provider{
			ID:          pc.Name,
			Searcher:    s,
			Trust:       pc.Trust,
			CostPerCall: pc.CostPerCall,
			Timeout:     pc.Timeout,
			Limiter:     limiter,
		})
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("search provider not configured")
	}
	return providers, nil
}

func newSearcher(pc config.ProviderConfig) (search.Searcher, *rate.Limiter, error) {
	switch pc.Name {
	case config.ProviderTavily:
		if pc.APIKey == "" {
			return nil, nil, fmt.Errorf("tavily api key is missing")
		}
		var opts []tavily.Option
		if pc.BaseURL != "" {
			opts = append(opts, tavily.WithBaseURL(pc.BaseURL))
		}
		return tavily.NewClient(pc.APIKey, opts...), nil, nil

	case config.ProviderSearXNG:
		if pc.BaseURL == "" {
			return nil, nil, fmt.Errorf("searxng base url is missing")
		}
		return searxng.NewClient(pc.BaseURL, pc.Timeout), nil, nil

	case config.ProviderBrave:
		if pc.APIKey == "" {
			return nil, nil, fmt.Errorf("brave api key is missing")
		}
		var opts []brave.Option
		if pc.BaseURL != "" {
			opts = append(opts, brave.WithBaseURL(pc.BaseURL))
		}
		// Brave 免费档每秒 1 次
		return brave.NewClient(pc.APIKey, opts...), rate.NewLimiter(rate.Limit(1), 1), nil

	case config.ProviderBing:
		if pc.APIKey == "" {
			return nil, nil, fmt.Errorf("bing api key is missing")
		}
		var opts []bing.Option
		if pc.BaseURL != "" {
			opts = append(opts, bing.WithBaseURL(pc.BaseURL))
		}
		return bing.NewClient(pc.APIKey, opts...), nil, nil

	case config.ProviderDuckDuckGo:
		var opts []duckduckgo.Option
		if pc.BaseURL != "" {
			opts = append(opts, duckduckgo.WithBaseURL(pc.BaseURL))
		}
		// HTML 页面抓取，全局每秒 1 次
		return duckduckgo.NewClient(opts...), rate.NewLimiter(rate.Limit(1), 1), nil

	default:
		return nil, nil, fmt.Errorf("unknown search provider: %s", pc.Name)
	}
}
