package services

import (
	"regexp"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	"github.com/Lllllllleong/documentocrflow/internal/backend"
)

// markdownParser recognises GFM tables so they can be skipped as a whole.
var markdownParser = goldmark.New(goldmark.WithExtensions(extension.Table))

// tableRowRegex matches pipe-delimited rows, including ones goldmark would
// read as a paragraph because the delimiter row is missing.
var tableRowRegex = regexp.MustCompile(`(?m)^[ \t]*\|.*$`)

// CleanMarkdown reduces OCR markdown to plain text. Heading markers, tables,
// images, raw HTML and inline markup are removed, link and emphasis text is
// kept, and runs of whitespace collapse to a single space.
func CleanMarkdown(md string) string {
	src := []byte(tableRowRegex.ReplaceAllString(md, ""))
	doc := markdownParser.Parser().Parse(text.NewReader(src))

	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Image, *ast.HTMLBlock, *ast.RawHTML, *east.Table:
			return ast.WalkSkipChildren, nil
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					b.Write(seg.Value(src))
				}
				b.WriteByte(' ')
			}
			return ast.WalkSkipChildren, nil
		case *ast.Text:
			if entering {
				b.Write(node.Segment.Value(src))
				if node.SoftLineBreak() || node.HardLineBreak() {
					b.WriteByte(' ')
				}
			}
		case *ast.String:
			if entering {
				b.Write(node.Value)
			}
		case *ast.AutoLink:
			if entering {
				b.Write(node.URL(src))
			}
			return ast.WalkSkipChildren, nil
		}
		if !entering && n.Type() == ast.TypeBlock {
			b.WriteByte(' ')
		}
		return ast.WalkContinue, nil
	})

	return strings.Join(strings.Fields(b.String()), " ")
}

// ConcatPages orders pages by index, cleans each one and joins them.
func ConcatPages(pages []backend.Page) string {
	ordered := make([]backend.Page, len(pages))
	copy(ordered, pages)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	parts := make([]string, 0, len(ordered))
	for _, p := range ordered {
		if cleaned := CleanMarkdown(p.Markdown); cleaned != "" {
			parts = append(parts, cleaned)
		}
	}
	return strings.Join(parts, " ")
}
