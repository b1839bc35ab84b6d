package renderer

import (
	"bytes"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

var (
	markdown = goldmark.New(
		goldmark.WithExtensions(extension.Strikethrough, extension.Linkify),
		goldmark.WithRendererOptions(html.WithHardWraps()),
	)
	richTextPolicy = bluemonday.UGCPolicy()
)

// RenderRichText converts user-authored Markdown into sanitised HTML.
func RenderRichText(src string) string {
	src = strings.TrimSpace(src)
	if src == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(src), &buf); err != nil {
		return richTextPolicy.Sanitize(src)
	}
	return strings.TrimSpace(richTextPolicy.Sanitize(buf.String()))
}
