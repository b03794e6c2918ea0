// Package duckduckgo 通过解析 DuckDuckGo HTML 页面实现免费搜索源。
package duckduckgo

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/search"
)

const (
	defaultBaseURL = "https://html.duckduckgo.com/html/"
	userAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Client DuckDuckGo HTML 搜索客户端
type Client struct {
	baseURL string
	client  *http.Client
}

// Option 配置客户端
type Option func(*Client)

// WithBaseURL 替换页面地址
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// NewClient 创建客户端
func NewClient(opts ...Option) *Client {
	c := &Client{baseURL: defaultBaseURL, client: http.DefaultClient}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ensure Client implements search.Searcher
var _ search.Searcher = (*Client)(nil)

// Search 抓取结果页并解析
func (c *Client) Search(ctx context.Context, req *search.Request) (*search.Response, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("query is empty")
	}

	form := url.Values{}
	form.Set("q", req.Query)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request failed: %w", err)
	}
	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo http %d", res.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(res.Body)
	if err != nil {
		return nil, fmt.Errorf("parse html failed: %w", err)
	}
	items := parseResults(doc, req.MaxResults)

	for i := range items {
		items[i].Score = search.RankScore(i, len(items))
	}
	return &search.Response{Results: items}, nil
}

func parseResults(doc *goquery.Document, maxResults int) []search.Result {
	var results []search.Result
	doc.Find(".result").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if maxResults > 0 && len(results) >= maxResults {
			return false
		}
		// 广告结果
		if s.HasClass("result--ad") {
			return true
		}
		link := s.Find("a.result__a").First()
		href, ok := link.Attr("href")
		if !ok {
			return true
		}
		target := resolveHref(href)
		if target == "" {
			return true
		}
		title := strings.TrimSpace(link.Text())
		if title == "" {
			return true
		}
		results = append(results, search.Result{
			Title:   title,
			URL:     target,
			Content: strings.TrimSpace(s.Find(".result__snippet").Text()),
		})
		return true
	})
	return results
}

// resolveHref 还原 //duckduckgo.com/l/?uddg=<url> 形式的跳转链接
func resolveHref(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if target := u.Query().Get("uddg"); target != "" {
		href = target
		if u, err = url.Parse(target); err != nil {
			return ""
		}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	if strings.HasSuffix(u.Hostname(), "duckduckgo.com") {
		return ""
	}
	return href
}
