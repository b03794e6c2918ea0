package bing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/search"
)

func TestClient_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "bing-key", r.Header.Get("Ocp-Apim-Subscription-Key"))
		assert.Equal(t, "en-GB", r.URL.Query().Get("mkt"))
		assert.Equal(t, "4", r.URL.Query().Get("count"))
		_, _ = w.Write([]byte(`{"webPages":{"value":[
			{"name":"One","url":"https://one.example","snippet":"first"},
			{"name":"Two","url":"https://two.example","snippet":"second"},
			{"name":"Three","url":"https://three.example","snippet":"third"},
			{"name":"Four","url":"https://four.example","snippet":"fourth"}
		]}}`))
	}))
	defer srv.Close()

	c := NewClient("bing-key", WithBaseURL(srv.URL), WithMarket("en-GB"))
	resp, err := c.Search(context.Background(), &search.Request{Query: "q", MaxResults: 4})
	require.NoError(t, err)
	require.Len(t, resp.Results, 4)
	assert.Equal(t, "One", resp.Results[0].Title)
	assert.Equal(t, 1.0, resp.Results[0].Score)
	assert.Equal(t, 0.25, resp.Results[3].Score)
}

func TestClient_EmptyWebPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"_type":"SearchResponse"}`))
	}))
	defer srv.Close()

	resp, err := NewClient("k", WithBaseURL(srv.URL)).Search(context.Background(), &search.Request{Query: "q"})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}
