// Package markdown renders the assembled Markdown document as HTML.
package markdown

import (
	"fmt"
	"html"

	"github.com/gomarkdown/markdown"
	mdhtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

func ToHTML(md []byte) string {
	opts := mdhtml.RendererOptions{
		Flags: mdhtml.CommonFlags | mdhtml.HrefTargetBlank,
	}
	renderer := mdhtml.NewRenderer(opts)
	ext := parser.CommonExtensions | parser.Attributes
	p := parser.NewWithExtensions(ext)
	doc := p.Parse(md)
	return string(markdown.Render(doc, renderer))
}

// Document wraps the rendered body in a standalone pt-BR HTML page.
func Document(title string, md []byte) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html lang="pt-BR">
<head>
<meta charset="utf-8">
<title>%s</title>
<style>body{max-width:42em;margin:2em auto;font-family:serif;line-height:1.5}</style>
</head>
<body>
%s</body>
</html>
`, html.EscapeString(title), ToHTML(md))
}
