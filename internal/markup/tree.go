// Package markup parses MJML documents into an element tree, resolving
// <mj-include> directives through an ordered chain of include loaders.
package markup

import (
	"html"
	"strings"
)

// endingTags hold HTML content that is kept verbatim instead of being parsed
// into child elements.
var endingTags = map[string]bool{
	"mj-text":            true,
	"mj-button":          true,
	"mj-raw":             true,
	"mj-table":           true,
	"mj-title":           true,
	"mj-preview":         true,
	"mj-style":           true,
	"mj-navbar-link":     true,
	"mj-social-element":  true,
	"mj-accordion-title": true,
	"mj-accordion-text":  true,
}

// IsEnding reports whether the named element keeps its content verbatim.
func IsEnding(name string) bool {
	return endingTags[name]
}

// Node is an element, a text run or a comment.
type Node interface {
	write(b *strings.Builder)
}

// Attr is a single element attribute with its decoded value.
type Attr struct {
	Key string
	Val string
}

// Element is an MJML tag with its attributes and children. Ending elements
// carry at most one Text child holding their raw inner HTML.
type Element struct {
	Name     string
	Attrs    []Attr
	Children []Node
}

// Text is character data copied verbatim from the source.
type Text struct {
	Raw string
}

// Comment is an HTML comment including its delimiters.
type Comment struct {
	Raw string
}

// Attr returns the value of the named attribute.
func (e *Element) Attr(key string) (string, bool) {
	for _, a := range e.Attrs {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// SetAttr replaces the named attribute or appends it.
func (e *Element) SetAttr(key, val string) {
	for i := range e.Attrs {
		if e.Attrs[i].Key == key {
			e.Attrs[i].Val = val
			return
		}
	}
	e.Attrs = append(e.Attrs, Attr{Key: key, Val: val})
}

// Child returns the first direct child element with the given name.
func (e *Element) Child(name string) *Element {
	for _, n := range e.Children {
		if el, ok := n.(*Element); ok && el.Name == name {
			return el
		}
	}
	return nil
}

// Walk calls fn for e and every descendant element, depth first.
func (e *Element) Walk(fn func(*Element)) {
	fn(e)
	for _, n := range e.Children {
		if el, ok := n.(*Element); ok {
			el.Walk(fn)
		}
	}
}

// InnerHTML concatenates the raw text and comments below e.
func (e *Element) InnerHTML() string {
	var b strings.Builder
	for _, n := range e.Children {
		n.write(&b)
	}
	return b.String()
}

// String serializes e back to MJML.
func (e *Element) String() string {
	var b strings.Builder
	e.write(&b)
	return b.String()
}

func (e *Element) write(b *strings.Builder) {
	b.WriteByte('<')
	b.WriteString(e.Name)
	for _, a := range e.Attrs {
		b.WriteByte(' ')
		b.WriteString(a.Key)
		b.WriteString(`="`)
		b.WriteString(html.EscapeString(a.Val))
		b.WriteByte('"')
	}
	if len(e.Children) == 0 && !IsEnding(e.Name) {
		b.WriteString(" />")
		return
	}
	b.WriteByte('>')
	for _, n := range e.Children {
		n.write(b)
	}
	b.WriteString("</")
	b.WriteString(e.Name)
	b.WriteByte('>')
}

func (t *Text) write(b *strings.Builder)    { b.WriteString(t.Raw) }
func (c *Comment) write(b *strings.Builder) { b.WriteString(c.Raw) }

// Tree is a parsed MJML document rooted at <mjml>.
type Tree struct {
	Root *Element
}

// Head returns the <mj-head> element, or nil.
func (t *Tree) Head() *Element {
	return t.Root.Child("mj-head")
}

// Body returns the <mj-body> element, or nil.
func (t *Tree) Body() *Element {
	return t.Root.Child("mj-body")
}

// Title is the text of mj-head > mj-title.
func (t *Tree) Title() (string, bool) {
	return t.headText("mj-title")
}

// Preview is the text of mj-head > mj-preview.
func (t *Tree) Preview() (string, bool) {
	return t.headText("mj-preview")
}

func (t *Tree) headText(name string) (string, bool) {
	head := t.Head()
	if head == nil {
		return "", false
	}
	el := head.Child(name)
	if el == nil {
		return "", false
	}
	return html.UnescapeString(strings.TrimSpace(el.InnerHTML())), true
}

// StripComments removes every comment node from the tree. Comments inside
// ending elements are part of their raw content and are left alone.
func (t *Tree) StripComments() {
	t.Root.Walk(func(e *Element) {
		if IsEnding(e.Name) {
			return
		}
		kept := e.Children[:0]
		for _, n := range e.Children {
			if _, ok := n.(*Comment); !ok {
				kept = append(kept, n)
			}
		}
		e.Children = kept
	})
}

func (t *Tree) String() string {
	return t.Root.String()
}

// ensureHead returns the <mj-head> element, inserting an empty one before the
// body when the document has none.
func (t *Tree) ensureHead() *Element {
	if head := t.Head(); head != nil {
		return head
	}
	head := &Element{Name: "mj-head"}
	t.Root.Children = append([]Node{head}, t.Root.Children...)
	return head
}
