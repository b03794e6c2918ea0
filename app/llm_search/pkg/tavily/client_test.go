package tavily

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/search"
)

func TestClient_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer tv-key", r.Header.Get("Authorization"))

		var req SearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "go generics", req.Query)
		assert.Equal(t, 3, req.MaxResults)
		assert.Equal(t, "basic", req.SearchDepth)

		_, _ = w.Write([]byte(`{"results":[
			{"title":"A","url":"https://a.example/1","content":"alpha","score":0.91},
			{"title":"B","url":"https://b.example/2","content":"beta","score":1.7}
		]}`))
	}))
	defer srv.Close()

	c := NewClient("tv-key", WithBaseURL(srv.URL))
	resp, err := c.Search(context.Background(), &search.Request{Query: "go generics", MaxResults: 3})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, 0.91, resp.Results[0].Score)
	assert.Equal(t, 1.0, resp.Results[1].Score, "score clamped")
}

func TestClient_SearchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid api key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewClient("bad", WithBaseURL(srv.URL)).Search(context.Background(), &search.Request{Query: "q"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}
