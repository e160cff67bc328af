package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Lllllllleong/documentocrflow/internal/backend"
)

func TestCleanMarkdown(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"heading and table row", "# Title\n|a|b|\ntext", "Title text"},
		{"full table", "Intro\n\n| h1 | h2 |\n|----|----|\n| 1 | 2 |\n\nOutro", "Intro Outro"},
		{"emphasis and links", "Some **bold** and _it_ with [a link](http://x.test)", "Some bold and it with a link"},
		{"image", "before ![scan](page.png) after", "before after"},
		{"html block", "<div>\nhidden\n</div>\n\nshown", "shown"},
		{"whitespace", "  lots\n\n\n   of\t\tspace  ", "lots of space"},
		{"empty", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CleanMarkdown(tc.in))
		})
	}
}

func TestCleanMarkdownIsIdempotent(t *testing.T) {
	for _, in := range []string{"# Title\n|a|b|\ntext", "plain words only", "- one\n- two"} {
		once := CleanMarkdown(in)
		assert.Equal(t, once, CleanMarkdown(once), in)
	}
}

func TestConcatPagesOrdersByIndex(t *testing.T) {
	pages := []backend.Page{
		{Index: 2, Markdown: "third"},
		{Index: 0, Markdown: "# first"},
		{Index: 1, Markdown: "|only|table|"},
		{Index: 3, Markdown: "**fourth**"},
	}
	assert.Equal(t, "first third fourth", ConcatPages(pages))
	assert.Equal(t, "", ConcatPages(nil))
}
