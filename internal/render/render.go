// Package render compiles a parsed MJML tree into responsive HTML.
package render

import (
	"context"
	"strings"

	"github.com/Boostport/mjml-go"

	"github.com/shineum/mailform/internal/apperr"
	"github.com/shineum/mailform/internal/markup"
)

const origin = "renderer"

// Options tune the compiled output.
type Options struct {
	// DisableComments drops HTML comments from the output.
	DisableComments bool
	// SocialIconOrigin is the URL prefix of the icons used by
	// mj-social-element tags that set no src.
	SocialIconOrigin string
	// Fonts replaces the default web font set, keyed by family name.
	Fonts map[string]string
}

// Rendered is the result of a render. Title and Preview are empty when the
// document declares none.
type Rendered struct {
	HTML    string
	Title   string
	Preview string
}

// Renderer is immutable and safe for concurrent use.
type Renderer struct {
	opts Options
}

func New(opts Options) *Renderer {
	return &Renderer{opts: opts}
}

// Render compiles tree to HTML. The tree is rewritten in place according to
// the renderer options.
func (r *Renderer) Render(ctx context.Context, tree *markup.Tree) (*Rendered, error) {
	if r.opts.SocialIconOrigin != "" {
		rewriteSocialIcons(tree, r.opts.SocialIconOrigin)
	}
	if r.opts.DisableComments {
		tree.StripComments()
	}

	opts := []mjml.ToHTMLOption{mjml.WithKeepComments(!r.opts.DisableComments)}
	if len(r.opts.Fonts) > 0 {
		opts = append(opts, mjml.WithFonts(r.opts.Fonts))
	}

	html, err := mjml.ToHTML(ctx, tree.String(), opts...)
	if err != nil {
		return nil, apperr.New(apperr.KindRender, origin, "unable to render template", err)
	}

	out := &Rendered{HTML: html}
	out.Title, _ = tree.Title()
	out.Preview, _ = tree.Preview()
	return out, nil
}

// rewriteSocialIcons points icon-less social elements at origin. Share
// variants such as "facebook-noshare" use the base network icon.
func rewriteSocialIcons(tree *markup.Tree, origin string) {
	tree.Root.Walk(func(e *markup.Element) {
		if e.Name != "mj-social-element" {
			return
		}
		if _, ok := e.Attr("src"); ok {
			return
		}
		name, ok := e.Attr("name")
		if !ok || name == "" {
			return
		}
		name = strings.TrimSuffix(name, "-noshare")
		e.SetAttr("src", origin+name+".png")
	})
}
