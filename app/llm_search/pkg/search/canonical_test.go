package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercase scheme and host", "HTTPS://Example.COM/Path", "https://example.com/Path"},
		{"default https port", "https://example.com:443/a", "https://example.com/a"},
		{"default http port", "http://example.com:80/a", "http://example.com/a"},
		{"custom port kept", "http://example.com:8080/a", "http://example.com:8080/a"},
		{"fragment dropped", "https://example.com/a#section", "https://example.com/a"},
		{"trailing slash", "https://example.com/a/b/", "https://example.com/a/b"},
		{"root slash", "https://example.com/", "https://example.com"},
		{"tracking params", "https://example.com/a?utm_source=x&UTM_Medium=y&fbclid=1&gclid=2&ref=hn", "https://example.com/a"},
		{"params sorted", "https://example.com/a?b=2&a=1&utm_campaign=z", "https://example.com/a?a=1&b=2"},
		{"whitespace", "  https://example.com/a  ", "https://example.com/a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Canonicalize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanonicalize_Equivalent(t *testing.T) {
	a, err := Canonicalize("https://www.example.com/post/?utm_source=twitter#top")
	require.NoError(t, err)
	b, err := Canonicalize("HTTPS://WWW.EXAMPLE.COM:443/post")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCanonicalize_Rejects(t *testing.T) {
	for _, in := range []string{"ftp://example.com/file", "javascript:alert(1)", "/relative/path", "https://"} {
		_, err := Canonicalize(in)
		assert.Error(t, err, in)
	}
}

func TestRankScore(t *testing.T) {
	assert.Equal(t, 1.0, RankScore(0, 4))
	assert.Equal(t, 0.25, RankScore(3, 4))
	assert.Equal(t, 0.0, RankScore(4, 4))
	assert.Equal(t, 0.0, RankScore(0, 0))
}
