package enhancer

import (
	"context"
	"fmt"

	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/llm"
)

const promptTpl = `请为下面的搜索查询生成 %d 个语义相关、措辞不同的搜索查询，用于在搜索引擎中扩大召回。
保持与原查询相同的语言，不要重复原查询。
请务必严格按照以下 JSON 格式返回，不要包含任何 markdown 标记：
{"queries": ["查询1", "查询2"]}

原查询：%s`

// LLM 使用对话模型扩展查询
type LLM struct {
	caller          *llm.Caller
	maxQueries      int
	promptPer1K     float64
	completionPer1K float64
}

// LLMOption 配置 LLM 扩展器
type LLMOption func(*LLM)

// WithPricing 每千 token 价格，用于计算扩展的成本
func WithPricing(promptPer1K, completionPer1K float64) LLMOption {
	return func(e *LLM) {
		e.promptPer1K = promptPer1K
		e.completionPer1K = completionPer1K
	}
}

// NewLLM 创建 LLM 扩展器，maxQueries 含原始查询
func NewLLM(caller *llm.Caller, maxQueries int, opts ...LLMOption) *LLM {
	e := &LLM{caller: caller, maxQueries: maxQueries}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *LLM) Name() string { return MethodLLM }

func (e *LLM) Provider() string { return ProviderLLM }

// Enhance 调用模型生成扩展查询
func (e *LLM) Enhance(ctx context.Context, query string) (*Expansion, error) {
	n := e.maxQueries - 1
	if n < 1 {
		return &Expansion{}, nil
	}

	var out struct {
		Queries []string `json:"queries"`
	}
	usage, err := e.caller.GenerateJSON(ctx,
		"你是一个 JSON 生成器。请只输出 JSON 字符串。",
		fmt.Sprintf(promptTpl, n, query),
		&out)
	cost := usage.Cost(e.promptPer1K, e.completionPer1K)
	if err != nil {
		return &Expansion{Cost: cost, Provider: ProviderLLM}, fmt.Errorf("query enhancement: %w", err)
	}
	return &Expansion{Queries: out.Queries, Cost: cost, Provider: ProviderLLM}, nil
}
