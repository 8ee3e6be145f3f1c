// Package report provides the document analysis used by the report stages:
// scanning drafts for structure, parsing slide plans, building deterministic
// fallbacks, and resolving visual placeholders.
package report

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
)

// Heading is one structural marker found in a draft.
type Heading struct {
	Level int
	Text  string
}

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithParserOptions(parser.WithAutoHeadingID()),
)

// ScanHeadings parses a markdown draft and returns its headings in document
// order.
func ScanHeadings(source string) []Heading {
	src := []byte(source)
	root := markdown.Parser().Parse(text.NewReader(src))

	var headings []Heading
	_ = ast.Walk(root, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if h, ok := node.(*ast.Heading); ok {
			headings = append(headings, Heading{
				Level: h.Level,
				Text:  string(nodeText(h, src)),
			})
		}
		return ast.WalkContinue, nil
	})
	return headings
}

// ExecutiveSummary returns the first meaningful prose block of a draft as a
// single line, skipping headings and blank lines.
func ExecutiveSummary(draft string) string {
	src := []byte(draft)
	root := markdown.Parser().Parse(text.NewReader(src))

	for node := root.FirstChild(); node != nil; node = node.NextSibling() {
		if _, isHeading := node.(*ast.Heading); isHeading {
			continue
		}
		if para, ok := node.(*ast.Paragraph); ok {
			line := strings.Join(strings.Fields(string(nodeText(para, src))), " ")
			if line != "" {
				return line
			}
		}
	}
	return ""
}

// LooksLikeStructuredData reports whether text reads as serialized data
// rather than prose. Draft validation rejects such output.
func LooksLikeStructuredData(s string) bool {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return false
	}
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		return true
	}
	return strings.HasPrefix(trimmed, "```json") || strings.HasPrefix(trimmed, "```yaml")
}

func nodeText(node ast.Node, src []byte) []byte {
	var out []byte
	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		if t, ok := child.(*ast.Text); ok {
			out = append(out, t.Segment.Value(src)...)
			continue
		}
		out = append(out, nodeText(child, src)...)
	}
	return out
}
