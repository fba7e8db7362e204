// Package loader resolves a template name to its source artifact from a
// local directory tree, a remote HTTP store, or both with local preferred.
package loader

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shineum/mailform/internal/apperr"
	"github.com/shineum/mailform/internal/template"
)

// Kind identifies which backends a Loader consults.
type Kind int

const (
	KindNone Kind = iota
	KindLocal
	KindHTTP
	KindCombined
)

func (k Kind) String() string {
	switch k {
	case KindLocal:
		return "local"
	case KindHTTP:
		return "http"
	case KindCombined:
		return "combined"
	default:
		return "none"
	}
}

var errNoBackend = errors.New("no template loader configured")

// Loader is a local loader, an HTTP loader, or both. With both set the
// local backend is tried first and the HTTP backend only on local failure.
type Loader struct {
	Local *Local
	HTTP  *HTTP
}

// Kind reports which backends are configured.
func (l Loader) Kind() Kind {
	switch {
	case l.Local != nil && l.HTTP != nil:
		return KindCombined
	case l.Local != nil:
		return KindLocal
	case l.HTTP != nil:
		return KindHTTP
	default:
		return KindNone
	}
}

// FindByName resolves name through the configured backends. When both
// backends fail the returned error is an *apperr.Multiple holding the local
// error followed by the HTTP error.
func (l Loader) FindByName(ctx context.Context, name string) (*template.Template, error) {
	switch l.Kind() {
	case KindLocal:
		return l.Local.FindByName(ctx, name)
	case KindHTTP:
		return l.HTTP.FindByName(ctx, name)
	case KindCombined:
		tpl, localErr := l.Local.FindByName(ctx, name)
		if localErr == nil {
			return tpl, nil
		}
		slog.Debug("local template lookup failed, trying http",
			"template_name", name,
			"error", localErr,
		)

		tpl, httpErr := l.HTTP.FindByName(ctx, name)
		if httpErr == nil {
			return tpl, nil
		}
		return nil, &apperr.Multiple{Errors: []error{localErr, httpErr}}
	default:
		return nil, apperr.Configuration(originLoader, "", "unable to load template", errNoBackend)
	}
}
