package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const (
	userAgent    = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	maxBodyBytes = 5 << 20
	zenRowsURL   = "https://api.zenrows.com/v1/"
)

// Service 正文抓取服务
type Service interface {
	Fetch(ctx context.Context, pageURL string) (*Page, error)
}

// Priced 付费抓取服务实现该接口，每次调用按固定价格计费
type Priced interface {
	ProviderID() string
	CostPerCall() float64
}

// Page 抓取服务返回的页面
type Page struct {
	Title      string  `json:"title"`
	Text       string  `json:"text"`
	Method     string  `json:"method"`
	Confidence float64 `json:"confidence"`
}

// Readability 直接请求页面并用 readability 提取正文
type Readability struct {
	client *http.Client
}

// NewReadability 创建直连抓取服务，hc 为 nil 时使用默认客户端
func NewReadability(hc *http.Client) *Readability {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Readability{client: hc}
}

func (r *Readability) Fetch(ctx context.Context, pageURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request failed: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	body, err := readHTML(r.client, req)
	if err != nil {
		return nil, err
	}
	return extract(pageURL, body)
}

// ZenRows 通过 ZenRows 代理抓取页面，适合有反爬限制的站点
type ZenRows struct {
	apiKey  string
	baseURL string
	cost    float64
	client  *http.Client
}

// ZenRowsOption 配置 ZenRows
type ZenRowsOption func(*ZenRows)

// WithZenRowsURL 替换 API 地址
func WithZenRowsURL(u string) ZenRowsOption {
	return func(z *ZenRows) { z.baseURL = u }
}

// NewZenRows 创建 ZenRows 抓取服务
func NewZenRows(apiKey string, costPerCall float64, opts ...ZenRowsOption) *ZenRows {
	z := &ZenRows{apiKey: apiKey, baseURL: zenRowsURL, cost: costPerCall, client: http.DefaultClient}
	for _, opt := range opts {
		opt(z)
	}
	return z
}

// Ensure ZenRows is priced
var _ Priced = (*ZenRows)(nil)

func (z *ZenRows) ProviderID() string { return MethodZenRows }

func (z *ZenRows) CostPerCall() float64 { return z.cost }

func (z *ZenRows) Fetch(ctx context.Context, pageURL string) (*Page, error) {
	q := url.Values{}
	q.Set("apikey", z.apiKey)
	q.Set("url", pageURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, z.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request failed: %w", err)
	}

	body, err := readHTML(z.client, req)
	if err != nil {
		return nil, fmt.Errorf("zenrows: %w", err)
	}
	page, err := extract(pageURL, body)
	if err != nil {
		return nil, err
	}
	page.Method = MethodZenRows
	return page, nil
}

func readHTML(client *http.Client, req *http.Request) ([]byte, error) {
	res, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http status %d", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") && !strings.HasPrefix(ct, "text/") {
		return nil, fmt.Errorf("unsupported content type %q", ct)
	}
	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body failed: %w", err)
	}
	return body, nil
}
