// Package template holds the template source artifact and the metadata
// document both loaders read.
package template

import (
	"encoding/json"
	"errors"
)

// DefaultFilename is the template file used by the local loader when the
// metadata does not name one.
const DefaultFilename = "template.mjml"

// Template is a loaded template: its metadata plus the resolved source text.
type Template struct {
	Name        string
	Description string
	Content     string
	// Attributes is the declared parameter schema, passed through untouched.
	Attributes json.RawMessage
}

// Body says where the template source lives.
type Body interface {
	isBody()
}

// Embedded carries the source text inside the metadata document.
type Embedded struct {
	Content string
}

// External points at a file next to the metadata document.
type External struct {
	Path string
}

func (Embedded) isBody() {}
func (External) isBody() {}

// ErrNoBody is returned by Metadata.Body when neither content nor template
// was present in the document.
var ErrNoBody = errors.New("metadata has neither content nor template")

// Metadata is the metadata.json document. When both content and template
// are present, content wins.
type Metadata struct {
	Name        string
	Description string
	Attributes  json.RawMessage
	Body        Body
}

type metadataDoc struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Attributes  json.RawMessage `json:"attributes"`
	Content     *string         `json:"content,omitempty"`
	Template    *string         `json:"template,omitempty"`
}

// UnmarshalJSON decides the body variant by field presence.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var doc metadataDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	m.Name = doc.Name
	m.Description = doc.Description
	m.Attributes = doc.Attributes
	m.Body = nil

	switch {
	case doc.Content != nil:
		m.Body = Embedded{Content: *doc.Content}
	case doc.Template != nil:
		m.Body = External{Path: *doc.Template}
	}
	return nil
}

// MarshalJSON writes the document back in its wire shape.
func (m Metadata) MarshalJSON() ([]byte, error) {
	doc := metadataDoc{
		Name:        m.Name,
		Description: m.Description,
		Attributes:  m.Attributes,
	}
	switch b := m.Body.(type) {
	case Embedded:
		doc.Content = &b.Content
	case External:
		doc.Template = &b.Path
	}
	return json.Marshal(doc)
}

// WithContent builds the Template for this metadata and resolved source text.
func (m Metadata) WithContent(content string) *Template {
	return &Template{
		Name:        m.Name,
		Description: m.Description,
		Content:     content,
		Attributes:  m.Attributes,
	}
}
