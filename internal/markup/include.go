package markup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
)

// maxIncludeSize bounds a single included file (10 MB).
const maxIncludeSize = 10 * 1024 * 1024

// ErrNoIncludeLoader is returned when no rule of the chain matches a path.
var ErrNoIncludeLoader = errors.New("no include loader matches path")

// IncludeLoader returns the content referenced by an <mj-include> path.
type IncludeLoader interface {
	Resolve(ctx context.Context, path string) (string, error)
}

// Filter decides whether a rule applies to an include path.
type Filter interface {
	Match(path string) bool
}

// StartsWith matches paths beginning with Prefix.
type StartsWith struct {
	Prefix string
}

func (f StartsWith) Match(path string) bool {
	return strings.HasPrefix(path, f.Prefix)
}

// Any matches every path.
type Any struct{}

func (Any) Match(string) bool { return true }

// Rule pairs a filter with the loader consulted when it matches.
type Rule struct {
	Filter Filter
	Loader IncludeLoader
}

// IncludeChain resolves a path through the first rule whose filter matches.
// The chain always ends with a loader that fails, so an unmatched path is an
// ordinary error.
type IncludeChain struct {
	rules []Rule
}

// NewIncludeChain builds a chain from rules in declaration order.
func NewIncludeChain(rules ...Rule) *IncludeChain {
	all := make([]Rule, 0, len(rules)+1)
	all = append(all, rules...)
	all = append(all, Rule{Filter: Any{}, Loader: Noop{}})
	return &IncludeChain{rules: all}
}

func (c *IncludeChain) Resolve(ctx context.Context, path string) (string, error) {
	for _, r := range c.rules {
		if r.Filter.Match(path) {
			return r.Loader.Resolve(ctx, path)
		}
	}
	return "", fmt.Errorf("%w: %q", ErrNoIncludeLoader, path)
}

// Noop fails every lookup.
type Noop struct{}

func (Noop) Resolve(_ context.Context, path string) (string, error) {
	return "", fmt.Errorf("%w: %q", ErrNoIncludeLoader, path)
}

// Memory serves includes from an in-memory map keyed by path.
type Memory map[string]string

func (m Memory) Resolve(_ context.Context, path string) (string, error) {
	content, ok := m[path]
	if !ok {
		return "", fmt.Errorf("include %q: %w", path, os.ErrNotExist)
	}
	return content, nil
}

// Local serves includes from a directory. Paths may carry a file:// scheme and
// are always resolved inside the directory.
type Local struct {
	Root string
}

func (l Local) Resolve(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	root, err := os.OpenRoot(l.Root)
	if err != nil {
		return "", fmt.Errorf("open include root: %w", err)
	}
	defer root.Close()

	name := strings.TrimPrefix(path, "file://")
	name = strings.TrimLeft(name, "/")
	f, err := root.Open(name)
	if err != nil {
		return "", fmt.Errorf("include %q: %w", path, err)
	}
	defer f.Close()

	b, err := io.ReadAll(io.LimitReader(f, maxIncludeSize))
	if err != nil {
		return "", fmt.Errorf("include %q: %w", path, err)
	}
	return string(b), nil
}

// HTTPLoader fetches includes over HTTP. Absolute URLs are fetched as they
// are; other paths are appended to BaseURL.
type HTTPLoader struct {
	BaseURL string
	Headers map[string]string
	Client  *http.Client
}

func (h HTTPLoader) Resolve(ctx context.Context, path string) (string, error) {
	target, err := h.url(path)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("include %q: %w", path, err)
	}
	for k, v := range h.Headers {
		req.Header.Set(k, v)
	}

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("include %q: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxIncludeSize))
		return "", fmt.Errorf("include %q: unexpected status %d", path, resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxIncludeSize))
	if err != nil {
		return "", fmt.Errorf("include %q: %w", path, err)
	}
	return string(b), nil
}

func (h HTTPLoader) url(path string) (string, error) {
	if u, err := url.Parse(path); err == nil && u.Scheme != "" && u.Host != "" {
		return path, nil
	}
	if h.BaseURL == "" {
		return "", fmt.Errorf("include %q: relative path without base url", path)
	}
	return strings.TrimSuffix(h.BaseURL, "/") + "/" + strings.TrimPrefix(path, "/"), nil
}
