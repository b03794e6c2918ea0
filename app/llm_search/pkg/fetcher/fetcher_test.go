package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/budget"
	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/cache"
	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/errs"
	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/model"
)

func articleHTML(title string, words int) string {
	para := strings.Repeat("gophers write concurrent programs with channels and goroutines ", words/8+1)
	return fmt.Sprintf(`<html><head><title>%s</title></head><body>
<nav>Home | About</nav>
<article><h1>%s</h1><p>%s</p><p>%s</p></article>
<footer>copyright</footer></body></html>`, title, title, para, para)
}

// fakeService 按 URL 返回预设页面，并记录并发峰值
type fakeService struct {
	pages    map[string]*Page
	delay    time.Duration
	calls    atomic.Int32
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (s *fakeService) Fetch(ctx context.Context, u string) (*Page, error) {
	s.calls.Add(1)
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p, ok := s.pages[u]; ok {
		return p, nil
	}
	return nil, errors.New("404")
}

type pricedService struct {
	*fakeService
}

func (pricedService) ProviderID() string   { return MethodZenRows }
func (pricedService) CostPerCall() float64 { return 0.01 }

func goodPage(title string) *Page {
	return &Page{Title: title, Text: strings.Repeat("word ", 100), Method: MethodReadability, Confidence: 0.9}
}

func TestFetchAll_PartialResults(t *testing.T) {
	svc := &fakeService{pages: map[string]*Page{
		"https://a.example":    goodPage("A"),
		"https://b.example":    goodPage("B"),
		"https://thin.example": {Title: "thin", Text: "too short", Confidence: 0.9},
		"https://low.example":  {Title: "low", Text: strings.Repeat("word ", 100), Confidence: 0.1},
	}}
	f := New(svc, WithMinWords(30), WithMinConfidence(0.3))

	b := f.FetchAll(context.Background(), []string{
		"https://a.example", "https://missing.example", "https://b.example", "https://thin.example", "https://low.example",
	})

	assert.Len(t, b.Docs, 2)
	assert.Contains(t, b.Docs, "https://a.example")
	assert.Contains(t, b.Docs, "https://b.example")
	assert.Len(t, b.Failed, 1)
	assert.Contains(t, b.Failed, "https://missing.example")
	assert.ElementsMatch(t, []string{"https://thin.example", "https://low.example"}, b.Dropped)
	assert.Empty(t, b.Charges)

	doc := b.Docs["https://a.example"]
	assert.Equal(t, 100, doc.WordCount)
	assert.Equal(t, model.SourceGeneral, doc.SourceType)
	assert.GreaterOrEqual(t, doc.Confidence, 0.0)
	assert.LessOrEqual(t, doc.Confidence, 1.0)
}

func TestFetchAll_BoundedConcurrency(t *testing.T) {
	pages := map[string]*Page{}
	var urls []string
	for i := 0; i < 12; i++ {
		u := fmt.Sprintf("https://site%d.example", i)
		pages[u] = goodPage(u)
		urls = append(urls, u)
	}
	svc := &fakeService{pages: pages, delay: 20 * time.Millisecond}
	b := New(svc, WithConcurrency(3)).FetchAll(context.Background(), urls)

	assert.Len(t, b.Docs, 12)
	assert.LessOrEqual(t, svc.peak.Load(), int32(3))
}

func TestFetchAll_PerURLTimeout(t *testing.T) {
	svc := &fakeService{pages: map[string]*Page{"https://slow.example": goodPage("slow")}, delay: time.Second}
	b := New(svc, WithTimeout(20*time.Millisecond)).FetchAll(context.Background(), []string{"https://slow.example"})

	require.Contains(t, b.Failed, "https://slow.example")
	assert.True(t, errs.Is(b.Failed["https://slow.example"], errs.ReasonUpstreamTimeout))
	assert.Empty(t, b.Docs)
}

func TestFetchAll_Truncates(t *testing.T) {
	svc := &fakeService{pages: map[string]*Page{
		"https://long.example": {Title: "long", Text: strings.Repeat("界面 ", 400), Confidence: 0.9},
	}}
	b := New(svc, WithMaxLength(100), WithMinWords(1)).FetchAll(context.Background(), []string{"https://long.example"})
	require.Contains(t, b.Docs, "https://long.example")
	assert.Equal(t, 100, len([]rune(b.Docs["https://long.example"].Text)))
}

func TestFetchAll_PaidServiceChargesAndBudget(t *testing.T) {
	svc := pricedService{&fakeService{pages: map[string]*Page{
		"https://a.example": goodPage("A"),
		"https://b.example": goodPage("B"),
	}}}
	guard := budget.NewGuard(0, map[string]float64{MethodZenRows: 0.015})
	f := New(svc, WithBudget(guard), WithConcurrency(1))

	b := f.FetchAll(context.Background(), []string{"https://a.example"})
	require.Len(t, b.Docs, 1)
	assert.Equal(t, []budget.Charge{{Provider: MethodZenRows, Amount: 0.01}}, b.Charges)
	require.NoError(t, guard.ChargeAll(context.Background(), b.Charges))

	b = f.FetchAll(context.Background(), []string{"https://b.example"})
	assert.Empty(t, b.Docs)
	assert.Empty(t, b.Charges)
	assert.Contains(t, b.Failed, "https://b.example")
	assert.Equal(t, int32(1), svc.calls.Load())
}

func TestFetchAll_ContentCache(t *testing.T) {
	layer, err := cache.New(10, nil)
	require.NoError(t, err)
	svc := &fakeService{pages: map[string]*Page{"https://a.example": goodPage("A")}}
	f := New(svc, WithCache(layer, time.Minute))

	f.FetchAll(context.Background(), []string{"https://a.example"})
	b := f.FetchAll(context.Background(), []string{"https://a.example"})
	assert.Len(t, b.Docs, 1)
	assert.Equal(t, int32(1), svc.calls.Load())
}

func TestReadability_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/post":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(articleHTML("Concurrency in Go", 300)))
		case "/image":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte{0x89, 0x50})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	svc := NewReadability(srv.Client())
	page, err := svc.Fetch(context.Background(), srv.URL+"/post")
	require.NoError(t, err)
	assert.Contains(t, page.Text, "gophers write concurrent programs")
	assert.NotContains(t, page.Text, "copyright")
	assert.Greater(t, page.Confidence, 0.3)

	_, err = svc.Fetch(context.Background(), srv.URL+"/image")
	assert.Error(t, err)
	_, err = svc.Fetch(context.Background(), srv.URL+"/missing")
	assert.Error(t, err)
}

func TestZenRows_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "zr-key", r.URL.Query().Get("apikey"))
		assert.Equal(t, "https://blocked.example/article", r.URL.Query().Get("url"))
		_, _ = w.Write([]byte(articleHTML("Proxied", 200)))
	}))
	defer srv.Close()

	z := NewZenRows("zr-key", 0.001, WithZenRowsURL(srv.URL))
	page, err := z.Fetch(context.Background(), "https://blocked.example/article")
	require.NoError(t, err)
	assert.Equal(t, MethodZenRows, page.Method)
	assert.Contains(t, page.Text, "goroutines")
	assert.Equal(t, MethodZenRows, z.ProviderID())
}

func TestClassify(t *testing.T) {
	tests := map[string]model.SourceType{
		"https://arxiv.org/abs/1234":             model.SourceAcademic,
		"https://cs.stanford.edu/people":         model.SourceAcademic,
		"https://www.reuters.com/world/":         model.SourceNews,
		"https://news.example.org/a":             model.SourceNews,
		"https://old.reddit.com/r/golang":        model.SourceSocial,
		"https://news.ycombinator.com/item?id=1": model.SourceSocial,
		"https://www.amazon.com/dp/B000":         model.SourceCommerce,
		"https://go.dev/doc/":                    model.SourceGeneral,
		"::not a url":                            model.SourceGeneral,
	}
	for in, want := range tests {
		assert.Equal(t, want, Classify(in), in)
	}
}
