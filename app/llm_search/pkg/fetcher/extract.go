package fetcher

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
)

// 提取方式
const (
	MethodReadability = "readability"
	MethodGoquery     = "goquery"
	MethodZenRows     = "zenrows"
)

// extract 从 HTML 中提取正文，readability 失败或无正文时退回到 goquery 取 body 文本
func extract(pageURL string, html []byte) (*Page, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}

	article, err := readability.FromReader(bytes.NewReader(html), u)
	if err == nil {
		text := normalizeSpace(article.TextContent)
		if text != "" {
			return &Page{
				Title:      strings.TrimSpace(article.Title),
				Text:       text,
				Method:     MethodReadability,
				Confidence: confidence(text, article.Title != "", 0.4, 0.4, 0.2),
			}, nil
		}
	}

	doc, qerr := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if qerr != nil {
		if err != nil {
			return nil, fmt.Errorf("readability: %v; goquery: %w", err, qerr)
		}
		return nil, fmt.Errorf("goquery: %w", qerr)
	}
	doc.Find("script, style, noscript, nav, header, footer, aside, form").Remove()
	title := strings.TrimSpace(doc.Find("title").First().Text())
	text := normalizeSpace(doc.Find("body").Text())
	return &Page{
		Title:      title,
		Text:       text,
		Method:     MethodGoquery,
		Confidence: confidence(text, title != "", 0.2, 0.3, 0.1),
	}, nil
}

// confidence 根据正文长度与是否有标题估算提取质量
func confidence(text string, hasTitle bool, base, lengthWeight, titleWeight float64) float64 {
	if text == "" {
		return 0
	}
	words := len(strings.Fields(text))
	c := base + lengthWeight*min(float64(words)/500, 1)
	if hasTitle {
		c += titleWeight
	}
	return min(c, 1)
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
