// Package search 定义搜索源接口，并将多个搜索源的结果合并为统一排序的结果集。
package search

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Searcher 定义通用的搜索接口
type Searcher interface {
	Search(ctx context.Context, req *Request) (*Response, error)
}

// Request 通用搜索请求
type Request struct {
	Query      string
	Topic      string // "news" or "general"
	MaxResults int
}

// Response 通用搜索响应
type Response struct {
	Results []Result
}

// Result 单条搜索结果，Score 已归一化到 [0,1]
type Result struct {
	Title         string  `json:"title"`
	URL           string  `json:"url"`
	Content       string  `json:"content"`
	Score         float64 `json:"score"`
	PublishedDate string  `json:"published_date,omitempty"`
}

// Provider 已注册的搜索源
type Provider struct {
	ID          string
	Searcher    Searcher
	Trust       float64
	CostPerCall float64
	Timeout     time.Duration
	// Limiter 可选的出站请求节流
	Limiter *rate.Limiter
}

// RankScore 搜索源不提供相关度时按名次折算分数，第一名为 1
func RankScore(rank, total int) float64 {
	if total <= 0 || rank < 0 || rank >= total {
		return 0
	}
	return 1 - float64(rank)/float64(total)
}
