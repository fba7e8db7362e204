package loader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/shineum/mailform/internal/apperr"
	"github.com/shineum/mailform/internal/template"
)

const (
	originLoader  = "loader"
	providerLocal = "local"
	metadataFile  = "metadata.json"
)

// errInvalidName rejects names that are not a single path segment.
var errInvalidName = errors.New("template name must be a single path segment")

// Local resolves templates under a directory tree laid out as
// <root>/<name>/metadata.json.
type Local struct {
	root string
}

// NewLocal creates a Local loader rooted at root.
func NewLocal(root string) *Local {
	return &Local{root: root}
}

// Root returns the directory templates are resolved under.
func (l *Local) Root() string {
	return l.root
}

// FindByName loads the metadata of the named template and resolves its
// source text. All file access goes through an os.Root so neither the name
// nor the metadata's template path can escape the root directory.
func (l *Local) FindByName(ctx context.Context, name string) (*template.Template, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Internal(originLoader, providerLocal, "request cancelled", err)
	}
	if err := validateName(name); err != nil {
		return nil, apperr.NotFound(originLoader, providerLocal, "invalid template name", err).With("template_name", name)
	}

	root, err := os.OpenRoot(l.root)
	if err != nil {
		return nil, apperr.Configuration(originLoader, providerLocal, "unable to open template root", err)
	}
	defer root.Close()

	meta, err := readMetadata(root, name)
	if err != nil {
		return nil, err
	}

	switch body := meta.Body.(type) {
	case template.Embedded:
		return meta.WithContent(body.Content), nil
	case template.External:
		return readTemplate(root, name, meta, body.Path)
	default:
		return readTemplate(root, name, meta, template.DefaultFilename)
	}
}

func readMetadata(root *os.Root, name string) (*template.Metadata, error) {
	f, err := root.Open(path.Join(name, metadataFile))
	if err != nil {
		return nil, apperr.NotFound(originLoader, providerLocal, "metadata not found", err).With("template_name", name)
	}
	defer f.Close()

	var meta template.Metadata
	if err := json.NewDecoder(f).Decode(&meta); err != nil {
		return nil, apperr.Provider(originLoader, providerLocal, "metadata invalid", err).With("template_name", name)
	}
	return &meta, nil
}

func readTemplate(root *os.Root, name string, meta *template.Metadata, filename string) (*template.Template, error) {
	if filename == "" {
		filename = template.DefaultFilename
	}

	f, err := root.Open(path.Join(name, filename))
	if err != nil {
		return nil, apperr.Provider(originLoader, providerLocal, "template not found", err).
			With("template_name", name).
			With("template_path", filename)
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, apperr.Provider(originLoader, providerLocal, "unable to read template", err).With("template_name", name)
	}
	return meta.WithContent(string(content)), nil
}

// validateName accepts only names usable as a single path segment.
func validateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", errInvalidName, name)
	case strings.ContainsAny(name, "/\\\x00"):
		return fmt.Errorf("%w: %q", errInvalidName, name)
	}
	return nil
}
