package model

import (
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// MaxQueryLength 查询最大字符数
	MaxQueryLength = 500
	// DefaultMaxResults 默认返回的来源数量
	DefaultMaxResults = 8
	// MaxMaxResults max_results 的上限
	MaxMaxResults = 20
	// MaxEnhancedQueries 扩展查询数量上限（含原始查询）
	MaxEnhancedQueries = 5
)

// SourceType 内容来源分类
type SourceType string

const (
	SourceNews     SourceType = "news"
	SourceAcademic SourceType = "academic"
	SourceSocial   SourceType = "social"
	SourceCommerce SourceType = "commerce"
	SourceGeneral  SourceType = "general"
)

// EnhancedQuerySet 原始查询及其扩展查询
type EnhancedQuerySet struct {
	Original string   `json:"original"`
	Queries  []string `json:"queries"` // Queries[0] 始终是原始查询
	Method   string   `json:"method"`
}

// SearchResult 单条搜索结果
type SearchResult struct {
	Title        string  `json:"title"`
	URL          string  `json:"url"`
	CanonicalURL string  `json:"canonical_url"`
	Snippet      string  `json:"snippet"`
	Provider     string  `json:"provider"`
	Score        float64 `json:"score"`    // 搜索源给出的相关度
	Combined     float64 `json:"combined"` // 融合搜索源可信度后的得分
}

// RankedResultSet 合并、去重、排序后的结果集
type RankedResultSet struct {
	Results   []SearchResult    `json:"results"`
	Providers []string          `json:"providers"`
	Failed    map[string]string `json:"failed,omitempty"`
}

// URLs 返回结果集中的规范化 URL
func (s *RankedResultSet) URLs() []string {
	urls := make([]string, 0, len(s.Results))
	for _, r := range s.Results {
		urls = append(urls, r.CanonicalURL)
	}
	return urls
}

// ContentDocument 一次成功抓取并清洗后的页面
type ContentDocument struct {
	URL              string        `json:"url"`
	Title            string        `json:"title"`
	Text             string        `json:"text"`
	WordCount        int           `json:"word_count"`
	SourceType       SourceType    `json:"source_type"`
	ExtractionMethod string        `json:"extraction_method"`
	Confidence       float64       `json:"confidence"`
	FetchLatency     time.Duration `json:"fetch_latency"`
}

// SynthesizedAnswer LLM 综合生成的回答
type SynthesizedAnswer struct {
	Answer     string   `json:"answer"`
	Sources    []string `json:"sources"`
	Confidence float64  `json:"confidence"`
	Cost       float64  `json:"cost"`
}

// Request 一次搜索请求
type Request struct {
	Query          string `json:"query"`
	MaxResults     int    `json:"max_results"`
	IncludeSources *bool  `json:"include_sources,omitempty"`
	ClientID       string `json:"-"`
	RequestID      string `json:"-"`
}

// WantSources include_sources 未设置时默认为 true
func (r Request) WantSources() bool {
	return r.IncludeSources == nil || *r.IncludeSources
}

// Response 一次搜索请求的结果
type Response struct {
	Query          string    `json:"query"`
	Answer         string    `json:"answer"`
	Sources        []string  `json:"sources"`
	Confidence     float64   `json:"confidence"`
	ProcessingTime float64   `json:"processing_time"`
	Cached         bool      `json:"cached"`
	CostEstimate   *float64  `json:"cost_estimate,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	RequestID      string    `json:"request_id,omitempty"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Error     string    `json:"error"`
	ErrorCode string    `json:"error_code,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status         string            `json:"status"`
	Services       map[string]string `json:"services"`
	ResponseTimeMS float64           `json:"response_time_ms"`
	Timestamp      time.Time         `json:"timestamp"`
}

// NormalizeQuery 去除首尾空白并保留大小写，返回长度是否合法
func NormalizeQuery(q string) (string, bool) {
	q = strings.TrimSpace(q)
	n := utf8.RuneCountInString(q)
	return q, n >= 1 && n <= MaxQueryLength
}

// Clamp01 将分数限制在 [0,1]
func Clamp01(v float64) float64 {
	switch {
	case v != v: // NaN
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
