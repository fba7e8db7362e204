package loader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/shineum/mailform/internal/apperr"
	"github.com/shineum/mailform/internal/template"
)

const providerHTTP = "http"

// maxResponseSize bounds metadata and template downloads (10 MB).
const maxResponseSize = 10 * 1024 * 1024

// HTTPConfig holds the settings of the HTTP template store.
type HTTPConfig struct {
	BaseURL     string
	QueryParams map[string]string
	Headers     map[string]string
}

// HTTP resolves templates from a remote store laid out as
// <base_url>/<name>/metadata.json.
type HTTP struct {
	config HTTPConfig
	client *http.Client
}

// NewHTTP creates an HTTP loader. A nil client means http.DefaultClient.
func NewHTTP(cfg HTTPConfig, client *http.Client) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTP{config: cfg, client: client}
}

// FindByName fetches the metadata of the named template and, for external
// templates, the referenced file from the same store.
func (h *HTTP) FindByName(ctx context.Context, name string) (*template.Template, error) {
	if err := validateName(name); err != nil {
		return nil, apperr.NotFound(originLoader, providerHTTP, "invalid template name", err).With("template_name", name)
	}

	metaURL, err := h.URL(name, metadataFile)
	if err != nil {
		return nil, err
	}

	body, err := h.get(ctx, metaURL, true)
	if err != nil {
		return nil, err
	}

	var meta template.Metadata
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, apperr.Provider(originLoader, providerHTTP, "metadata invalid", err).With("template_name", name)
	}

	switch b := meta.Body.(type) {
	case template.Embedded:
		return meta.WithContent(b.Content), nil
	case template.External:
		tplURL, err := h.URL(name, b.Path)
		if err != nil {
			return nil, err
		}
		slog.Debug("fetching external template", "template_name", name, "url", tplURL)
		content, err := h.get(ctx, tplURL, false)
		if err != nil {
			return nil, err
		}
		return meta.WithContent(string(content)), nil
	default:
		return nil, apperr.Provider(originLoader, providerHTTP, "metadata invalid", template.ErrNoBody).With("template_name", name)
	}
}

// URL builds <base_url>/<name>/<file> with the configured query parameters.
// Exactly one slash separates the base from the name whether or not the base
// ends with one.
func (h *HTTP) URL(name, file string) (string, error) {
	base, err := url.Parse(h.config.BaseURL)
	if err != nil {
		return "", apperr.Configuration(originLoader, providerHTTP, "invalid base url", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return "", apperr.Configuration(originLoader, providerHTTP, "invalid base url",
			fmt.Errorf("base url %q must be absolute", h.config.BaseURL))
	}

	u := *base
	p := base.Path
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	u.Path = p + name + "/" + strings.TrimPrefix(file, "/")
	u.RawPath = ""

	if len(h.config.QueryParams) > 0 {
		q := u.Query()
		for k, v := range h.config.QueryParams {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// get performs a GET and maps the outcome onto the loader error kinds.
// A 404 is a not-found only for the metadata document; a missing referenced
// template is the provider's fault.
func (h *HTTP) get(ctx context.Context, target string, metadata bool) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, apperr.Configuration(originLoader, providerHTTP, "unable to build request", err)
	}
	for k, v := range h.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, apperr.Configuration(originLoader, providerHTTP, "unable to reach template store", err).With("url", target)
	}
	defer resp.Body.Close()

	if err := statusError(resp.StatusCode, metadata); err != nil {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
		return nil, err.With("url", target).With("status", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, apperr.Provider(originLoader, providerHTTP, "unable to read response", err).With("url", target)
	}
	return body, nil
}

var errUnexpectedStatus = errors.New("unexpected status")

func statusError(status int, metadata bool) *apperr.Error {
	cause := fmt.Errorf("%w %d", errUnexpectedStatus, status)
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound && metadata:
		return apperr.NotFound(originLoader, providerHTTP, "template not found", cause)
	case status == http.StatusNotFound:
		return apperr.Provider(originLoader, providerHTTP, "referenced template not found", cause)
	case status >= 400 && status < 500:
		return apperr.Internal(originLoader, providerHTTP, "template store rejected the request", cause)
	default:
		return apperr.Provider(originLoader, providerHTTP, "template store failed", cause)
	}
}
