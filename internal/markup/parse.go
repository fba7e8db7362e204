package markup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"

	"github.com/shineum/mailform/internal/apperr"
)

const origin = "parser"

// MaxIncludeDepth caps nested <mj-include> resolution.
const MaxIncludeDepth = 16

// Parser turns interpolated MJML into a Tree. It is safe for concurrent use.
type Parser struct {
	includes *IncludeChain
}

// NewParser creates a parser resolving includes through chain. A nil chain
// rejects every include.
func NewParser(chain *IncludeChain) *Parser {
	if chain == nil {
		chain = NewIncludeChain()
	}
	return &Parser{includes: chain}
}

// Parse tokenizes text into an element tree rooted at <mjml>.
func (p *Parser) Parse(ctx context.Context, text string) (*Tree, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.New(apperr.KindInternal, origin, "parsing cancelled", err)
	}

	s := &state{ctx: ctx, includes: p.includes}
	doc := &Element{}
	if err := s.parse(doc, text, 0, ""); err != nil {
		return nil, err
	}

	var root *Element
	for _, n := range doc.Children {
		switch n := n.(type) {
		case *Element:
			if root != nil {
				return nil, parsingError("multiple root elements", nil, "", 0)
			}
			root = n
		case *Text:
			if strings.TrimSpace(n.Raw) != "" {
				return nil, parsingError("text outside of the root element", nil, "", 0)
			}
		}
	}
	if root == nil || root.Name != "mjml" {
		return nil, parsingError("missing <mjml> root element", nil, "", 0)
	}

	tree := &Tree{Root: root}
	if len(s.head) > 0 {
		head := tree.ensureHead()
		head.Children = append(head.Children, s.head...)
	}
	return tree, nil
}

// state is the per-document parse state. Head nodes contributed by includes
// are collected and appended to <mj-head> once the root is known.
type state struct {
	ctx      context.Context
	includes *IncludeChain
	head     []Node
}

// parse appends the nodes of src to parent. source names the include the
// text came from, empty for the document itself.
func (s *state) parse(parent *Element, src string, depth int, source string) error {
	z := html.NewTokenizer(strings.NewReader(src))
	stack := []*Element{parent}
	line := 1

	for {
		tt := z.Next()
		// Raw must be copied before TagName and TagAttr rewrite the buffer.
		raw := string(z.Raw())
		at := line
		line += strings.Count(raw, "\n")
		top := stack[len(stack)-1]

		switch tt {
		case html.ErrorToken:
			if err := z.Err(); !errors.Is(err, io.EOF) {
				return parsingError("unable to tokenize document", err, source, at)
			}
			if len(stack) > 1 {
				return parsingError(fmt.Sprintf("unclosed element <%s>", stack[len(stack)-1].Name), nil, source, at)
			}
			return nil

		case html.TextToken:
			top.Children = append(top.Children, &Text{Raw: raw})

		case html.CommentToken:
			top.Children = append(top.Children, &Comment{Raw: raw})

		case html.DoctypeToken:

		case html.StartTagToken, html.SelfClosingTagToken:
			el := element(z.Token())
			if el.Name == "mj-include" {
				if err := s.include(top, el, depth, source, at); err != nil {
					return err
				}
				continue
			}

			top.Children = append(top.Children, el)
			if tt == html.SelfClosingTagToken {
				continue
			}
			if IsEnding(el.Name) {
				content, err := captureRaw(z, el.Name, &line)
				if err != nil {
					return parsingError(fmt.Sprintf("unclosed element <%s>", el.Name), err, source, at)
				}
				if content != "" {
					el.Children = []Node{&Text{Raw: content}}
				}
				continue
			}
			stack = append(stack, el)

		case html.EndTagToken:
			name := z.Token().Data
			if name == "mj-include" {
				continue
			}
			i := len(stack) - 1
			for i > 0 && stack[i].Name != name {
				i--
			}
			if i == 0 {
				return parsingError(fmt.Sprintf("unexpected closing tag </%s>", name), nil, source, at)
			}
			stack = stack[:i]
		}
	}
}

// captureRaw consumes tokens up to the end tag matching name and returns the
// source text in between.
func captureRaw(z *html.Tokenizer, name string, line *int) (string, error) {
	var b strings.Builder
	depth := 1
	for {
		tt := z.Next()
		raw := string(z.Raw())
		*line += strings.Count(raw, "\n")

		switch tt {
		case html.ErrorToken:
			return "", z.Err()
		case html.StartTagToken:
			if z.Token().Data == name {
				depth++
			}
		case html.EndTagToken:
			if z.Token().Data == name {
				depth--
				if depth == 0 {
					return b.String(), nil
				}
			}
		}
		b.WriteString(raw)
	}
}

func (s *state) include(parent, inc *Element, depth int, source string, at int) error {
	path, _ := inc.Attr("path")
	if path == "" {
		return parsingError("mj-include requires a path", nil, source, at)
	}
	if depth >= MaxIncludeDepth {
		return parsingError("include depth exceeded", nil, source, at).With("path", path)
	}

	content, err := s.includes.Resolve(s.ctx, path)
	if err != nil {
		return parsingError("unable to resolve include", err, source, at).With("path", path)
	}

	typ, _ := inc.Attr("type")
	switch typ {
	case "css":
		style := &Element{Name: "mj-style", Children: textNodes(content)}
		if v, _ := inc.Attr("css-inline"); v == "inline" {
			style.SetAttr("inline", "inline")
		}
		s.head = append(s.head, style)
	case "html":
		parent.Children = append(parent.Children, &Element{Name: "mj-raw", Children: textNodes(content)})
	case "", "mjml":
		return s.splice(parent, content, depth+1, path)
	default:
		return parsingError(fmt.Sprintf("unsupported include type %q", typ), nil, source, at).With("path", path)
	}
	return nil
}

// splice parses an included MJML file into parent. A complete document
// contributes its body children in place and its head children to the head;
// a bare fragment is inserted as is.
func (s *state) splice(parent *Element, content string, depth int, path string) error {
	frag := &Element{}
	if err := s.parse(frag, content, depth, path); err != nil {
		return err
	}

	root := frag.Child("mjml")
	if root == nil {
		parent.Children = append(parent.Children, frag.Children...)
		return nil
	}

	inHead := parent.Name == "mj-head"
	if head := root.Child("mj-head"); head != nil {
		if inHead {
			parent.Children = append(parent.Children, head.Children...)
		} else {
			s.head = append(s.head, head.Children...)
		}
	}
	if body := root.Child("mj-body"); body != nil && !inHead {
		parent.Children = append(parent.Children, body.Children...)
	}
	return nil
}

func element(t html.Token) *Element {
	el := &Element{Name: t.Data}
	if len(t.Attr) > 0 {
		el.Attrs = make([]Attr, 0, len(t.Attr))
		for _, a := range t.Attr {
			el.Attrs = append(el.Attrs, Attr{Key: a.Key, Val: a.Val})
		}
	}
	return el
}

func textNodes(content string) []Node {
	if content == "" {
		return nil
	}
	return []Node{&Text{Raw: content}}
}

func parsingError(message string, cause error, source string, line int) *apperr.Error {
	err := apperr.New(apperr.KindParsing, origin, message, cause)
	if line > 0 {
		err = err.With("line", line)
	}
	if source != "" {
		err = err.With("include", source)
	}
	return err
}
