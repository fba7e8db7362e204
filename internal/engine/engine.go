// Package engine runs the template pipeline: load, interpolate, parse,
// render, validate and assemble.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/shineum/mailform/internal/apperr"
	"github.com/shineum/mailform/internal/email"
	"github.com/shineum/mailform/internal/interpolate"
	"github.com/shineum/mailform/internal/markup"
	"github.com/shineum/mailform/internal/message"
	"github.com/shineum/mailform/internal/metrics"
	"github.com/shineum/mailform/internal/render"
	"github.com/shineum/mailform/internal/template"
)

// TemplateLoader resolves a template name to its source.
type TemplateLoader interface {
	FindByName(ctx context.Context, name string) (*template.Template, error)
}

// Renderer compiles a parsed document.
type Renderer interface {
	Render(ctx context.Context, tree *markup.Tree) (*render.Rendered, error)
}

// Engine is immutable after New and safe for concurrent use.
type Engine struct {
	loader   TemplateLoader
	parser   *markup.Parser
	renderer Renderer
	metrics  *metrics.Metrics
}

// New creates an engine. m may be nil.
func New(loader TemplateLoader, parser *markup.Parser, renderer Renderer, m *metrics.Metrics) *Engine {
	return &Engine{
		loader:   loader,
		parser:   parser,
		renderer: renderer,
		metrics:  m,
	}
}

// Handle turns req into an assembled message. The first failing stage
// aborts the pipeline.
func (e *Engine) Handle(ctx context.Context, req *email.Request) (*message.Message, error) {
	logger := slog.With("template_name", req.TemplateName)

	tpl, err := e.loader.FindByName(ctx, req.TemplateName)
	if err != nil {
		return nil, apperr.New(apperr.KindOf(err), "template", "unable to prepare template", err).
			With("template_name", req.TemplateName)
	}
	logger.Debug("template loaded", "bytes", len(tpl.Content))

	params, err := interpolate.DecodeParams(req.Params)
	if err != nil {
		return nil, apperr.New(apperr.KindInterpolation, "interpolator", "invalid params", err).
			With("template_name", req.TemplateName)
	}
	source, err := interpolate.Interpolate(req.TemplateName, tpl.Content, params)
	if err != nil {
		return nil, err
	}

	tree, err := e.parser.Parse(ctx, source)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rendered, err := e.renderer.Render(ctx, tree)
	if err != nil {
		return nil, err
	}
	e.metrics.ObserveRender(time.Since(start))
	logger.Debug("template rendered", "title", rendered.Title, "html_bytes", len(rendered.HTML))

	if err := req.Validate(); err != nil {
		return nil, err
	}

	return message.Assemble(req, message.Content{
		Subject: rendered.Title,
		Text:    rendered.Preview,
		HTML:    rendered.HTML,
	})
}
