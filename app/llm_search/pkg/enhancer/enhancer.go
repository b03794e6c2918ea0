// Package enhancer 将一个查询扩展为若干语义相关的查询。
package enhancer

import (
	"context"
	"strings"

	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/model"
)

// 扩展方式
const (
	MethodLLM         = "llm"
	MethodAutosuggest = "autosuggest"
	MethodOriginal    = "original"

	// ProviderLLM LLM 扩展的预算 ID，与综合阶段共用
	ProviderLLM = "llm"
)

// Expansion 一次扩展的结果，Queries 不含原始查询
type Expansion struct {
	Queries  []string
	Cost     float64
	Provider string // 付费调用对应的预算 ID，免费时为空
}

// Enhancer 查询扩展接口
type Enhancer interface {
	Enhance(ctx context.Context, query string) (*Expansion, error)
	Name() string
	// Provider 预算 ID，免费的扩展器返回空字符串
	Provider() string
}

// Noop 不做扩展
type Noop struct{}

func (Noop) Enhance(context.Context, string) (*Expansion, error) { return &Expansion{}, nil }

func (Noop) Name() string { return MethodOriginal }

func (Noop) Provider() string { return "" }

// BuildSet 组装扩展查询集：原始查询在首位，忽略大小写去重，总数不超过 limit
func BuildSet(query string, expansions []string, limit int, method string) model.EnhancedQuerySet {
	if limit <= 0 || limit > model.MaxEnhancedQueries {
		limit = model.MaxEnhancedQueries
	}
	seen := map[string]bool{strings.ToLower(query): true}
	queries := []string{query}
	for _, q := range expansions {
		if len(queries) >= limit {
			break
		}
		q = strings.Join(strings.Fields(q), " ")
		if q == "" {
			continue
		}
		if _, ok := model.NormalizeQuery(q); !ok {
			continue
		}
		key := strings.ToLower(q)
		if seen[key] {
			continue
		}
		seen[key] = true
		queries = append(queries, q)
	}
	if len(queries) == 1 {
		method = MethodOriginal
	}
	return model.EnhancedQuerySet{Original: query, Queries: queries, Method: method}
}
