// Package brave 实现 Brave Search API 搜索源。
package brave

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

const defaultBaseURL = "https://api.search.brave.com/res/v1/web/search"

// Client Brave Search 客户端，通过 X-Subscription-Token 认证
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// Option 配置客户端
type Option func(*Client)

// WithBaseURL 替换 API 地址
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient 替换 HTTP 客户端
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// NewClient 创建 Brave 客户端
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{apiKey: apiKey, baseURL: defaultBaseURL, client: http.DefaultClient}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ensure Client implements search.Searcher
var _ search.Searcher = (*Client)(nil)

type response struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
			Age         string `json:"age"`
		} `json:"results"`
	} `json:"web"`
}

// Search 执行搜索。Brave 不返回相关度，按名次折算分数。
func (c *Client) Search(ctx context.Context, req *search.Request) (*search.Response, error) {
	if strings.TrimSpace(c.apiKey) == "" {
		return nil, errors.New("brave: API key is missing")
	}

	q := url.Values{}
	q.Set("q", req.Query)
	if req.MaxResults > 0 {
		q.Set("count", strconv.Itoa(min(req.MaxResults, 20)))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request failed: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Subscription-Token", c.apiKey)

	res, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return nil, fmt.Errorf("brave api error (status %d): %s", res.StatusCode, string(body))
	}

	var payload response
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode response failed: %w", err)
	}

	items := payload.Web.Results
	results := make([]search.Result, 0, len(items))
	for i, r := range items {
		results = append(results, search.Result{
			Title:         r.Title,
			URL:           r.URL,
			Content:       r.Description,
			Score:         search.RankScore(i, len(items)),
			PublishedDate: r.Age,
		})
	}
	return &search.Response{Results: results}, nil
}
