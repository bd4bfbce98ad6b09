package markdown

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	goldmarkhtml "github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

// Parser renders markdown email bodies. Raw HTML in the source is dropped, so
// user-supplied text interpolated into a template cannot inject markup.
type Parser struct {
	md goldmark.Markdown
}

func NewParser() *Parser {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			extension.Typographer,
		),
		goldmark.WithRendererOptions(
			goldmarkhtml.WithHardWraps(),
			goldmarkhtml.WithXHTML(),
		),
	)

	return &Parser{
		md: md,
	}
}

func (p *Parser) Parse(source []byte) ([]byte, error) {
	var buf bytes.Buffer
	err := p.md.Convert(source, &buf)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Email renders source once into both message parts: HTML and a plain text
// version with markdown syntax and escapes removed.
func (p *Parser) Email(source []byte) (html string, plain string, err error) {
	doc := p.md.Parser().Parse(text.NewReader(source))

	var buf bytes.Buffer
	err = p.md.Renderer().Render(&buf, source, doc)
	if err != nil {
		return "", "", err
	}

	return buf.String(), plainText(doc, source), nil
}

func plainText(doc ast.Node, source []byte) string {
	var b strings.Builder

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch n := n.(type) {
		case *ast.Text:
			if entering {
				b.Write(util.UnescapePunctuations(n.Segment.Value(source)))
				if n.SoftLineBreak() || n.HardLineBreak() {
					b.WriteByte('\n')
				}
			}
		case *ast.String:
			if entering {
				b.Write(n.Value)
			}
		case *ast.AutoLink:
			if entering {
				b.Write(n.Label(source))
			}
		case *ast.Link:
			if !entering {
				b.WriteString(" (")
				b.Write(n.Destination)
				b.WriteByte(')')
			}
		case *ast.ListItem:
			if entering {
				b.WriteString("- ")
			}
		case *ast.Paragraph, *ast.Heading, *ast.TextBlock:
			if !entering {
				b.WriteByte('\n')
				if n.NextSibling() != nil && n.Parent().Kind() == ast.KindDocument {
					b.WriteByte('\n')
				}
			}
		}
		return ast.WalkContinue, nil
	})

	return strings.TrimSpace(b.String())
}
