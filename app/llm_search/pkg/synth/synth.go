// Package synth 基于抓取到的文档调用对话模型生成带引用的回答。
package synth

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/errs"
	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/llm"
	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/model"
)

// ProviderID 综合阶段的预算 ID
const ProviderID = "llm"

// Synthesizer 回答综合接口
type Synthesizer interface {
	Synthesize(ctx context.Context, query string, docs []model.ContentDocument) (*Result, error)
}

// Result 综合结果，Sources 为引用的文档 URL，按引用顺序排列
type Result struct {
	Answer     string
	Confidence float64
	Sources    []string
	Usage      llm.Usage
}

// EstimateCost 按 token 用量估算费用
func EstimateCost(r *Result, promptPer1K, completionPer1K float64) float64 {
	if r == nil {
		return 0
	}
	return r.Usage.Cost(promptPer1K, completionPer1K)
}

// LLM 基于对话模型的综合器
type LLM struct {
	caller       *llm.Caller
	docMaxLength int
}

// Option 配置 LLM
type Option func(*LLM)

// WithDocMaxLength 每篇文档写入提示词的最大字符数
func WithDocMaxLength(n int) Option {
	return func(s *LLM) { s.docMaxLength = n }
}

// NewLLM 创建综合器
func NewLLM(caller *llm.Caller, opts ...Option) *LLM {
	s := &LLM{caller: caller, docMaxLength: 1500}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ensure LLM implements Synthesizer
var _ Synthesizer = (*LLM)(nil)

const instructions = `你是一个严谨的研究助理。请只根据上面编号的文档回答用户的问题，不要编造文档中没有的信息。
请务必严格按照以下 JSON 格式返回，不要包含任何 markdown 标记：
{
	"answer": "回答正文，使用与问题相同的语言，必要时在句末用 [编号] 标注来源",
	"confidence": 0.8,
	"sources": [1, 3]
}
confidence 为 0 到 1 之间的小数，代表回答被文档支持的程度；sources 为实际引用的文档编号。`

type output struct {
	Answer     string  `json:"answer"`
	Confidence float64 `json:"confidence"`
	Sources    []int   `json:"sources"`
}

// Synthesize 生成回答。任何失败都返回 SYNTHESIS_FAILURE，已调用模型时 Result 只带 Usage。
func (s *LLM) Synthesize(ctx context.Context, query string, docs []model.ContentDocument) (*Result, error) {
	if len(docs) == 0 {
		return nil, errs.Synthesis(fmt.Errorf("no documents"))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "问题：%s\n\n以下是检索到的文档：\n\n", query)
	for i, d := range docs {
		fmt.Fprintf(&sb, "文档 %d:\n标题: %s\n链接: %s\n内容: %s\n\n", i+1, d.Title, d.URL, clip(d.Text, s.docMaxLength))
	}
	sb.WriteString(instructions)

	var out output
	usage, err := s.caller.GenerateJSON(ctx, "你是一个 JSON 生成器。请只输出 JSON 字符串。", sb.String(), &out)
	// 失败时仍返回 Usage，调用方据此为已发生的调用计费
	if err != nil {
		return &Result{Usage: usage}, errs.Synthesis(err)
	}
	answer := strings.TrimSpace(out.Answer)
	if answer == "" {
		return &Result{Usage: usage}, errs.Synthesis(fmt.Errorf("%w: empty answer", llm.ErrMalformed))
	}

	return &Result{
		Answer:     answer,
		Confidence: model.Clamp01(out.Confidence),
		Sources:    citedURLs(out.Sources, docs),
		Usage:      usage,
	}, nil
}

// citedURLs 将 1 起始的编号映射为文档 URL，越界与重复编号被忽略
func citedURLs(indices []int, docs []model.ContentDocument) []string {
	seen := map[int]bool{}
	urls := []string{}
	for _, i := range indices {
		if i < 1 || i > len(docs) || seen[i] {
			continue
		}
		seen[i] = true
		urls = append(urls, docs[i-1].URL)
	}
	return urls
}

func clip(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
