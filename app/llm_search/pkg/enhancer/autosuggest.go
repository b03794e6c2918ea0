package enhancer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

const (
	autosuggestURL = "https://api.bing.microsoft.com/v7.0/suggestions"
	// ProviderAutosuggest 预算 ID
	ProviderAutosuggest = "bing_autosuggest"
)

// Autosuggest 使用 Bing Autosuggest API 扩展查询
type Autosuggest struct {
	apiKey      string
	baseURL     string
	costPerCall float64
	client      *http.Client
}

// AutosuggestOption 配置 Autosuggest
type AutosuggestOption func(*Autosuggest)

// WithAutosuggestURL 替换 API 地址
func WithAutosuggestURL(u string) AutosuggestOption {
	return func(a *Autosuggest) { a.baseURL = u }
}

// WithCostPerCall 单次调用费用
func WithCostPerCall(c float64) AutosuggestOption {
	return func(a *Autosuggest) { a.costPerCall = c }
}

// NewAutosuggest 创建 Autosuggest 扩展器
func NewAutosuggest(apiKey string, opts ...AutosuggestOption) *Autosuggest {
	a := &Autosuggest{apiKey: apiKey, baseURL: autosuggestURL, client: http.DefaultClient}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Autosuggest) Name() string { return MethodAutosuggest }

func (a *Autosuggest) Provider() string { return ProviderAutosuggest }

type suggestResponse struct {
	SuggestionGroups []struct {
		Name              string `json:"name"`
		SearchSuggestions []struct {
			DisplayText string `json:"displayText"`
			Query       string `json:"query"`
		} `json:"searchSuggestions"`
	} `json:"suggestionGroups"`
}

// Enhance 返回搜索建议
func (a *Autosuggest) Enhance(ctx context.Context, query string) (*Expansion, error) {
	if a.apiKey == "" {
		return nil, errors.New("bing autosuggest: API key is missing")
	}
	u := a.baseURL + "?" + url.Values{"q": {query}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request failed: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", a.apiKey)

	exp := &Expansion{Cost: a.costPerCall, Provider: ProviderAutosuggest}
	res, err := a.client.Do(req)
	if err != nil {
		return exp, fmt.Errorf("request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return exp, fmt.Errorf("autosuggest api error (status %d): %s", res.StatusCode, string(body))
	}

	var payload suggestResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return exp, fmt.Errorf("decode response failed: %w", err)
	}
	for _, g := range payload.SuggestionGroups {
		for _, s := range g.SearchSuggestions {
			q := s.Query
			if q == "" {
				q = s.DisplayText
			}
			exp.Queries = append(exp.Queries, q)
		}
	}
	return exp, nil
}
