package main

import (
	"strings"
	"testing"

	"github.com/mattn/go-runewidth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderSources(t *testing.T) {
	out := renderSources([]string{
		"https://go.dev/doc/",
		"https://例子.测试/路径",
	}, 80)

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "#  HOST"))
	assert.Contains(t, lines[1], "go.dev")

	// URL 列在宽字符 host 下仍然对齐
	col := runewidth.StringWidth(lines[0][:strings.Index(lines[0], "URL")])
	for _, l := range lines[1:] {
		idx := strings.Index(l, "https://")
		require.GreaterOrEqual(t, idx, 0)
		assert.Equal(t, col, runewidth.StringWidth(l[:idx]))
	}
}

func TestRenderSources_TruncatesLongURL(t *testing.T) {
	long := "https://example.com/" + strings.Repeat("a", 200)
	out := renderSources([]string{long}, 40)
	assert.NotContains(t, out, long)
	assert.Contains(t, out, "…")
}
