// Package bing 实现 Bing Web Search v7 搜索源。
package bing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/search"
)

const defaultBaseURL = "https://api.bing.microsoft.com/v7.0/search"

// Client Bing Web Search 客户端
type Client struct {
	apiKey  string
	baseURL string
	market  string
	client  *http.Client
}

// Option 配置客户端
type Option func(*Client)

// WithBaseURL 替换 API 地址
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithMarket 设置 mkt 参数，默认 en-US
func WithMarket(mkt string) Option {
	return func(c *Client) { c.market = mkt }
}

// NewClient 创建 Bing 客户端
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{apiKey: apiKey, baseURL: defaultBaseURL, market: "en-US", client: http.DefaultClient}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ensure Client implements search.Searcher
var _ search.Searcher = (*Client)(nil)

type response struct {
	WebPages struct {
		Value []struct {
			Name            string `json:"name"`
			URL             string `json:"url"`
			Snippet         string `json:"snippet"`
			DateLastCrawled string `json:"dateLastCrawled"`
		} `json:"value"`
	} `json:"webPages"`
}

// Search 执行搜索，按名次折算分数
func (c *Client) Search(ctx context.Context, req *search.Request) (*search.Response, error) {
	if strings.TrimSpace(c.apiKey) == "" {
		return nil, errors.New("bing: API key is missing")
	}

	q := url.Values{}
	q.Set("q", req.Query)
	q.Set("mkt", c.market)
	q.Set("textDecorations", "false")
	if req.MaxResults > 0 {
		q.Set("count", strconv.Itoa(min(req.MaxResults, 50)))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request failed: %w", err)
	}
	httpReq.Header.Set("Ocp-Apim-Subscription-Key", c.apiKey)

	res, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return nil, fmt.Errorf("bing api error (status %d): %s", res.StatusCode, string(body))
	}

	var payload response
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode response failed: %w", err)
	}

	items := payload.WebPages.Value
	results := make([]search.Result, 0, len(items))
	for i, r := range items {
		results = append(results, search.Result{
			Title:         r.Name,
			URL:           r.URL,
			Content:       r.Snippet,
			Score:         search.RankScore(i, len(items)),
			PublishedDate: r.DateLastCrawled,
		})
	}
	return &search.Response{Results: results}, nil
}
