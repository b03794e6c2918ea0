// Package fetcher 并发抓取并清洗结果页面正文。
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/budget"
	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/cache"
	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/errs"
	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/logger"
	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/model"
)

var errBudgetSkipped = errors.New("skipped: fetch budget exhausted")

// Batch 一批 URL 的抓取结果。Docs 只包含提取成功且通过质量过滤的页面。
type Batch struct {
	Docs    map[string]model.ContentDocument
	Failed  map[string]error
	Dropped []string
	Charges []budget.Charge
}

// Fetcher 有界并发的正文抓取器
type Fetcher struct {
	svc           Service
	timeout       time.Duration
	concurrency   int
	maxLength     int
	minConfidence float64
	minWords      int
	cache         *cache.Layer
	ttl           time.Duration
	guard         *budget.Guard
}

// Option 配置 Fetcher
type Option func(*Fetcher)

// WithTimeout 单个 URL 的超时
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) { f.timeout = d }
}

// WithConcurrency 同时进行中的抓取上限
func WithConcurrency(n int) Option {
	return func(f *Fetcher) { f.concurrency = n }
}

// WithMaxLength 正文截断长度（字符）
func WithMaxLength(n int) Option {
	return func(f *Fetcher) { f.maxLength = n }
}

// WithMinConfidence 低于该提取置信度的页面被丢弃
func WithMinConfidence(c float64) Option {
	return func(f *Fetcher) { f.minConfidence = c }
}

// WithMinWords 少于该词数的页面被丢弃
func WithMinWords(n int) Option {
	return func(f *Fetcher) { f.minWords = n }
}

// WithCache 按 URL 缓存提取结果
func WithCache(c *cache.Layer, ttl time.Duration) Option {
	return func(f *Fetcher) {
		f.cache = c
		f.ttl = ttl
	}
}

// WithBudget 付费抓取服务在每次调用前检查预算
func WithBudget(g *budget.Guard) Option {
	return func(f *Fetcher) { f.guard = g }
}

// New 创建抓取器
func New(svc Service, opts ...Option) *Fetcher {
	f := &Fetcher{
		svc:           svc,
		timeout:       15 * time.Second,
		concurrency:   4,
		maxLength:     5000,
		minConfidence: 0.3,
		minWords:      30,
		ttl:           30 * time.Minute,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.concurrency <= 0 {
		f.concurrency = 1
	}
	return f
}

// Paid 抓取服务是否按调用计费，返回预算 ID 与单价
func (f *Fetcher) Paid() (string, float64, bool) {
	p, ok := f.svc.(Priced)
	if !ok || p.CostPerCall() <= 0 {
		return "", 0, false
	}
	return p.ProviderID(), p.CostPerCall(), true
}

type fetched struct {
	doc     *model.ContentDocument
	err     error
	dropped bool
	charged bool
}

// FetchAll 并发抓取所有 URL，任何时刻最多 concurrency 个在进行中。
// 单个 URL 的失败或超时只记录在 Failed 中。
func (f *Fetcher) FetchAll(ctx context.Context, urls []string) *Batch {
	out := make([]fetched, len(urls))
	sem := make(chan struct{}, f.concurrency)
	var wg sync.WaitGroup

	for i, u := range urls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				out[i] = fetched{err: ctx.Err()}
				return
			}
			defer func() { <-sem }()
			out[i] = f.fetchOne(ctx, u)
		}()
	}
	wg.Wait()

	b := &Batch{Docs: map[string]model.ContentDocument{}, Failed: map[string]error{}}
	providerID, cost, paid := f.Paid()
	for i, r := range out {
		u := urls[i]
		if r.charged && paid {
			b.Charges = append(b.Charges, budget.Charge{Provider: providerID, Amount: cost})
		}
		switch {
		case r.err != nil:
			b.Failed[u] = r.err
		case r.dropped:
			b.Dropped = append(b.Dropped, u)
		default:
			b.Docs[u] = *r.doc
		}
	}
	return b
}

func (f *Fetcher) fetchOne(ctx context.Context, pageURL string) fetched {
	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	providerID, cost, paid := f.Paid()
	var charged atomic.Bool
	page, _, err := cache.GetOrCompute(callCtx, f.cache, cache.Key("content", pageURL), f.ttl, func(fctx context.Context) (*Page, error) {
		fctx, cancel := context.WithTimeout(fctx, f.timeout)
		defer cancel()
		if paid && f.guard != nil && f.guard.WouldExceed(cost, providerID) {
			return nil, errBudgetSkipped
		}
		charged.Store(paid)
		return f.svc.Fetch(fctx, pageURL)
	})
	r := fetched{charged: charged.Load()}
	if err != nil {
		if errs.IsTimeout(err) {
			err = errs.UpstreamTimeout(pageURL, err)
		}
		logger.Log.Warnf("抓取正文失败 [%s]: %v", pageURL, err)
		r.err = err
		return r
	}

	text := truncate(page.Text, f.maxLength)
	words := len(strings.Fields(text))
	if text == "" || page.Confidence < f.minConfidence || words < f.minWords {
		logger.Log.Debugf("正文质量不足，丢弃 [%s] confidence=%.2f words=%d", pageURL, page.Confidence, words)
		r.dropped = true
		return r
	}

	r.doc = &model.ContentDocument{
		URL:              pageURL,
		Title:            page.Title,
		Text:             text,
		WordCount:        words,
		SourceType:       Classify(pageURL),
		ExtractionMethod: page.Method,
		Confidence:       model.Clamp01(page.Confidence),
		FetchLatency:     time.Since(start),
	}
	return r
}

// truncate 按字符截断
func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

var sourceHosts = []struct {
	typ   model.SourceType
	hosts []string
}{
	{model.SourceAcademic, []string{"arxiv.org", "scholar.google.com", "nature.com", "sciencedirect.com", "springer.com", "ieee.org", "acm.org", "ncbi.nlm.nih.gov", "jstor.org", "researchgate.net", "semanticscholar.org"}},
	{model.SourceNews, []string{"reuters.com", "apnews.com", "bbc.co.uk", "bbc.com", "cnn.com", "nytimes.com", "theguardian.com", "bloomberg.com", "wsj.com", "ft.com", "washingtonpost.com", "techcrunch.com", "theverge.com", "arstechnica.com"}},
	{model.SourceSocial, []string{"reddit.com", "twitter.com", "x.com", "facebook.com", "linkedin.com", "news.ycombinator.com", "medium.com", "stackoverflow.com", "quora.com", "youtube.com"}},
	{model.SourceCommerce, []string{"amazon.com", "ebay.com", "etsy.com", "aliexpress.com", "walmart.com", "bestbuy.com", "shopify.com"}},
}

// Classify 按域名对来源分类
func Classify(rawURL string) model.SourceType {
	u, err := url.Parse(rawURL)
	if err != nil {
		return model.SourceGeneral
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	for _, group := range sourceHosts {
		for _, h := range group.hosts {
			if host == h || strings.HasSuffix(host, "."+h) {
				return group.typ
			}
		}
	}
	switch {
	case strings.HasSuffix(host, ".edu") || strings.HasSuffix(host, ".ac.uk"):
		return model.SourceAcademic
	case strings.HasPrefix(host, "news."):
		return model.SourceNews
	case strings.HasPrefix(host, "shop.") || strings.HasPrefix(host, "store."):
		return model.SourceCommerce
	}
	return model.SourceGeneral
}

// String 便于日志输出
func (b *Batch) String() string {
	return fmt.Sprintf("docs=%d failed=%d dropped=%d", len(b.Docs), len(b.Failed), len(b.Dropped))
}
