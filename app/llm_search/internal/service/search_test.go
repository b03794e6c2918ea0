package service

import (
	"context"
	"errors"
	"testing"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/model"
)

type mockEngine struct {
	got  model.Request
	resp *model.Response
	err  error
}

func (m *mockEngine) Run(ctx context.Context, req model.Request) (*model.Response, error) {
	m.got = req
	return m.resp, m.err
}

func (m *mockEngine) Health(ctx context.Context) model.HealthResponse {
	return model.HealthResponse{Status: "healthy"}
}

func TestSearchService_Search(t *testing.T) {
	eng := &mockEngine{resp: &model.Response{Answer: "42"}}
	s := NewSearchService(eng, log.DefaultLogger)

	resp, err := s.Search(context.Background(), &model.Request{Query: "q", ClientID: "c"})
	require.NoError(t, err)
	assert.Equal(t, "42", resp.Answer)
	assert.Equal(t, "c", eng.got.ClientID)
}

func TestSearchService_SearchError(t *testing.T) {
	s := NewSearchService(&mockEngine{err: errors.New("boom")}, log.DefaultLogger)
	_, err := s.Search(context.Background(), &model.Request{Query: "q"})
	assert.Error(t, err)
}

func TestSearchService_Info(t *testing.T) {
	s := NewSearchService(&mockEngine{}, log.DefaultLogger)
	assert.Equal(t, Version, s.Info().Version)
	assert.Contains(t, s.Info().Endpoints, "GET /health")
	assert.Equal(t, "healthy", s.Health(context.Background()).Status)
}
