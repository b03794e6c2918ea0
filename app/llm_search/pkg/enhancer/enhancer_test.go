package enhancer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/llm"
)

type fakeChatModel struct {
	reply string
	err   error
	calls int
}

func (m *fakeChatModel) Generate(_ context.Context, in []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	msg := schema.AssistantMessage(m.reply, nil)
	msg.ResponseMeta = &schema.ResponseMeta{Usage: &schema.TokenUsage{PromptTokens: 1000, CompletionTokens: 1000}}
	return msg, nil
}

func (m *fakeChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not supported")
}

func TestBuildSet(t *testing.T) {
	set := BuildSet("Go Generics", []string{
		"go generics",
		"  golang   type parameters ",
		"",
		"Golang Type Parameters",
		"generic functions in go",
		"go 1.18 generics",
		"constraints package",
	}, 5, MethodLLM)

	assert.Equal(t, "Go Generics", set.Original)
	assert.Equal(t, []string{
		"Go Generics",
		"golang type parameters",
		"generic functions in go",
		"go 1.18 generics",
		"constraints package",
	}, set.Queries)
	assert.Equal(t, MethodLLM, set.Method)
}

func TestBuildSet_OnlyOriginal(t *testing.T) {
	set := BuildSet("q", []string{"Q", " "}, 5, MethodLLM)
	assert.Equal(t, []string{"q"}, set.Queries)
	assert.Equal(t, MethodOriginal, set.Method)
}

func TestBuildSet_CapsAtFive(t *testing.T) {
	set := BuildSet("q", []string{"a", "b", "c", "d", "e", "f"}, 50, MethodLLM)
	assert.Len(t, set.Queries, 5)
}

func TestLLM_Enhance(t *testing.T) {
	m := &fakeChatModel{reply: `{"queries":["golang generics tutorial","type parameters go"]}`}
	e := NewLLM(llm.NewCaller(m, nil), 5, WithPricing(0.001, 0.002))

	exp, err := e.Enhance(context.Background(), "go generics")
	require.NoError(t, err)
	assert.Equal(t, []string{"golang generics tutorial", "type parameters go"}, exp.Queries)
	assert.InDelta(t, 0.003, exp.Cost, 1e-12)
	assert.Equal(t, ProviderLLM, exp.Provider)
}

func TestLLM_EnhanceError(t *testing.T) {
	m := &fakeChatModel{err: errors.New("connection refused")}
	e := NewLLM(llm.NewCaller(m, nil, llm.WithRetry(0, time.Millisecond)), 5)

	_, err := e.Enhance(context.Background(), "q")
	assert.Error(t, err)
}

func TestLLM_SingleQueryBudgetSkipsModel(t *testing.T) {
	m := &fakeChatModel{}
	exp, err := NewLLM(llm.NewCaller(m, nil), 1).Enhance(context.Background(), "q")
	require.NoError(t, err)
	assert.Empty(t, exp.Queries)
	assert.Zero(t, m.calls)
}

func TestAutosuggest_Enhance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "as-key", r.Header.Get("Ocp-Apim-Subscription-Key"))
		assert.Equal(t, "kubernetes", r.URL.Query().Get("q"))
		_, _ = w.Write([]byte(`{"suggestionGroups":[{"name":"Web","searchSuggestions":[
			{"displayText":"kubernetes tutorial","query":"kubernetes tutorial"},
			{"displayText":"kubernetes vs docker"}
		]}]}`))
	}))
	defer srv.Close()

	a := NewAutosuggest("as-key", WithAutosuggestURL(srv.URL), WithCostPerCall(0.0003))
	exp, err := a.Enhance(context.Background(), "kubernetes")
	require.NoError(t, err)
	assert.Equal(t, []string{"kubernetes tutorial", "kubernetes vs docker"}, exp.Queries)
	assert.Equal(t, ProviderAutosuggest, exp.Provider)
	assert.Equal(t, 0.0003, exp.Cost)
}

func TestAutosuggest_MissingKey(t *testing.T) {
	_, err := NewAutosuggest("").Enhance(context.Background(), "q")
	assert.Error(t, err)
}

func TestNoop(t *testing.T) {
	exp, err := Noop{}.Enhance(context.Background(), "q")
	require.NoError(t, err)
	assert.Empty(t, exp.Queries)
	assert.Equal(t, MethodOriginal, Noop{}.Name())
	assert.Empty(t, Noop{}.Provider())
}

func TestProviderIDs(t *testing.T) {
	assert.Equal(t, ProviderLLM, NewLLM(nil, 5).Provider())
	assert.Equal(t, ProviderAutosuggest, NewAutosuggest("k").Provider())
}
