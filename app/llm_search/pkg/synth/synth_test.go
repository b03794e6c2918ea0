package synth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/errs"
	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/llm"
	dm "github.com/puneetrinity/LLMsearch/app/llm_search/pkg/model"
)

type fakeChatModel struct {
	reply  string
	err    error
	prompt string
}

func (m *fakeChatModel) Generate(_ context.Context, in []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.prompt = in[len(in)-1].Content
	if m.err != nil {
		return nil, m.err
	}
	msg := schema.AssistantMessage(m.reply, nil)
	msg.ResponseMeta = &schema.ResponseMeta{Usage: &schema.TokenUsage{PromptTokens: 1200, CompletionTokens: 300}}
	return msg, nil
}

func (m *fakeChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not supported")
}

func docs() []dm.ContentDocument {
	return []dm.ContentDocument{
		{URL: "https://go.dev/doc", Title: "Docs", Text: "Go is an open source programming language."},
		{URL: "https://go.dev/blog", Title: "Blog", Text: strings.Repeat("x", 5000)},
		{URL: "https://pkg.go.dev", Title: "Packages", Text: "Package index."},
	}
}

func newLLM(m *fakeChatModel) *LLM {
	return NewLLM(llm.NewCaller(m, nil, llm.WithRetry(1, time.Millisecond)), WithDocMaxLength(100))
}

func TestSynthesize(t *testing.T) {
	m := &fakeChatModel{reply: `{"answer":"Go is open source [1][3].","confidence":0.85,"sources":[3,1,3,9,0]}`}
	r, err := newLLM(m).Synthesize(context.Background(), "what is go", docs())
	require.NoError(t, err)

	assert.Equal(t, "Go is open source [1][3].", r.Answer)
	assert.Equal(t, 0.85, r.Confidence)
	assert.Equal(t, []string{"https://pkg.go.dev", "https://go.dev/doc"}, r.Sources)
	assert.Equal(t, 1200, r.Usage.PromptTokens)

	assert.Contains(t, m.prompt, "文档 2:")
	assert.Contains(t, m.prompt, "链接: https://go.dev/blog")
	assert.NotContains(t, m.prompt, strings.Repeat("x", 101), "documents are clipped in the prompt")
}

func TestSynthesize_ClampsConfidence(t *testing.T) {
	m := &fakeChatModel{reply: `{"answer":"a","confidence":7,"sources":[]}`}
	r, err := newLLM(m).Synthesize(context.Background(), "q", docs())
	require.NoError(t, err)
	assert.Equal(t, 1.0, r.Confidence)
	assert.NotNil(t, r.Sources)
	assert.Empty(t, r.Sources)
}

func TestSynthesize_Failures(t *testing.T) {
	tests := []struct {
		name string
		m    *fakeChatModel
		docs []dm.ContentDocument
	}{
		{"no documents", &fakeChatModel{reply: `{"answer":"a"}`}, nil},
		{"transport", &fakeChatModel{err: errors.New("dial tcp: connection refused")}, docs()},
		{"malformed", &fakeChatModel{reply: "I think the answer is 42"}, docs()},
		{"empty answer", &fakeChatModel{reply: `{"answer":"  ","confidence":0.9}`}, docs()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newLLM(tt.m).Synthesize(context.Background(), "q", tt.docs)
			require.Error(t, err)
			assert.True(t, errs.Is(err, errs.ReasonSynthesis))
		})
	}
}

func TestSynthesize_FailureKeepsUsage(t *testing.T) {
	m := &fakeChatModel{reply: "not json"}
	r, err := newLLM(m).Synthesize(context.Background(), "q", docs())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ReasonSynthesis))

	// 重试一次，两次调用的用量都要保留
	require.NotNil(t, r)
	assert.Equal(t, 2400, r.Usage.PromptTokens)
	assert.Equal(t, 600, r.Usage.CompletionTokens)
	assert.Empty(t, r.Answer)
	assert.Greater(t, EstimateCost(r, 0.001, 0.002), 0.0)

	r, err = newLLM(&fakeChatModel{reply: `{"answer":""}`}).Synthesize(context.Background(), "q", docs())
	require.Error(t, err)
	require.NotNil(t, r)
	assert.Equal(t, 1200, r.Usage.PromptTokens)
}

func TestEstimateCost(t *testing.T) {
	r := &Result{Usage: llm.Usage{PromptTokens: 1000, CompletionTokens: 500}}
	assert.InDelta(t, 0.0005+0.00075, EstimateCost(r, 0.0005, 0.0015), 1e-12)
	assert.Zero(t, EstimateCost(nil, 1, 1))
}
