package tavily

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/model"
	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/search"
)

const defaultBaseURL = "https://api.tavily.com/search"

// Client Tavily API 客户端
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

// NewClient 创建一个新的 Tavily 客户端
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		client:  http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ensure Client implements search.Searcher
var _ search.Searcher = (*Client)(nil)

// Search implements search.Searcher
func (c *Client) Search(ctx context.Context, req *search.Request) (*search.Response, error) {
	resp, err := c.doSearch(ctx, SearchRequest{
		Query:      req.Query,
		Topic:      req.Topic,
		MaxResults: req.MaxResults,
	})
	if err != nil {
		return nil, err
	}

	results := make([]search.Result, 0, len(resp.Results))
	for i, r := range resp.Results {
		score := r.Score
		if score <= 0 {
			score = search.RankScore(i, len(resp.Results))
		}
		results = append(results, search.Result{
			Title:         r.Title,
			URL:           r.URL,
			Content:       r.Content,
			Score:         model.Clamp01(score),
			PublishedDate: r.PublishedDate,
		})
	}
	return &search.Response{Results: results}, nil
}

// SearchRequest Tavily 搜索请求参数
type SearchRequest struct {
	Query       string `json:"query"`
	SearchDepth string `json:"search_depth,omitempty"` // basic or advanced
	Topic       string `json:"topic,omitempty"`        // general or news
	MaxResults  int    `json:"max_results,omitempty"`
}

// SearchResponse Tavily 搜索响应
type SearchResponse struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
}

// SearchResult 单个搜索结果
type SearchResult struct {
	Title         string  `json:"title"`
	URL           string  `json:"url"`
	Content       string  `json:"content"`
	Score         float64 `json:"score"`
	PublishedDate string  `json:"published_date"`
}

func (c *Client) doSearch(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	if req.SearchDepth == "" {
		req.SearchDepth = "basic"
	}
	if req.MaxResults == 0 {
		req.MaxResults = 5
	}
	if req.Topic == "" {
		req.Topic = "general"
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request failed: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request failed: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read body failed: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tavily api error (status %d): %s", res.StatusCode, string(body))
	}

	var searchResp SearchResponse
	if err := json.Unmarshal(body, &searchResp); err != nil {
		return nil, fmt.Errorf("unmarshal response failed: %w", err)
	}
	return &searchResp, nil
}
