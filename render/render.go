// Package render turns generated answers into display formats.
package render

import (
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/microcosm-cc/bluemonday"
)

// Format names accepted by the API.
const (
	FormatText = "text"
	FormatHTML = "html"
)

var sanitizer = bluemonday.UGCPolicy()

// AnswerHTML converts a markdown answer to sanitized HTML. Model output is
// untrusted, so anything outside the user-generated-content policy is
// stripped.
func AnswerHTML(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}

	// A parser keeps state between calls and must not be shared.
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	doc := p.Parse([]byte(text))

	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags | html.HrefTargetBlank})
	out := markdown.Render(doc, renderer)

	return strings.TrimSpace(string(sanitizer.SanitizeBytes(out)))
}

// ValidFormat reports whether f names a supported answer format. The empty
// string means FormatText.
func ValidFormat(f string) bool {
	switch f {
	case "", FormatText, FormatHTML:
		return true
	}
	return false
}
