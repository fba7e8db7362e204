// Package openapi describes the HTTP interface as an OpenAPI 3.0 document.
package openapi

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Output formats accepted by Write.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

const version = "3.0.3"

type Document struct {
	OpenAPI    string               `json:"openapi" yaml:"openapi"`
	Info       Info                 `json:"info" yaml:"info"`
	Paths      map[string]*PathItem `json:"paths" yaml:"paths"`
	Components Components           `json:"components" yaml:"components"`
}

type Info struct {
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Version     string `json:"version" yaml:"version"`
}

type PathItem struct {
	Get  *Operation `json:"get,omitempty" yaml:"get,omitempty"`
	Post *Operation `json:"post,omitempty" yaml:"post,omitempty"`
}

type Operation struct {
	OperationID string               `json:"operationId" yaml:"operationId"`
	Summary     string               `json:"summary" yaml:"summary"`
	Parameters  []Parameter          `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	RequestBody *RequestBody         `json:"requestBody,omitempty" yaml:"requestBody,omitempty"`
	Responses   map[string]*Response `json:"responses" yaml:"responses"`
}

type Parameter struct {
	Name     string  `json:"name" yaml:"name"`
	In       string  `json:"in" yaml:"in"`
	Required bool    `json:"required" yaml:"required"`
	Schema   *Schema `json:"schema" yaml:"schema"`
}

type RequestBody struct {
	Required bool                  `json:"required" yaml:"required"`
	Content  map[string]*MediaType `json:"content" yaml:"content"`
}

type Response struct {
	Description string                `json:"description" yaml:"description"`
	Content     map[string]*MediaType `json:"content,omitempty" yaml:"content,omitempty"`
}

type MediaType struct {
	Schema   *Schema              `json:"schema" yaml:"schema"`
	Encoding map[string]*Encoding `json:"encoding,omitempty" yaml:"encoding,omitempty"`
}

type Encoding struct {
	ContentType string `json:"contentType" yaml:"contentType"`
}

type Components struct {
	Schemas map[string]*Schema `json:"schemas" yaml:"schemas"`
}

// Schema is the subset of JSON Schema the document needs.
type Schema struct {
	Ref                  string             `json:"$ref,omitempty" yaml:"$ref,omitempty"`
	Type                 string             `json:"type,omitempty" yaml:"type,omitempty"`
	Format               string             `json:"format,omitempty" yaml:"format,omitempty"`
	Description          string             `json:"description,omitempty" yaml:"description,omitempty"`
	Example              any                `json:"example,omitempty" yaml:"example,omitempty"`
	Required             []string           `json:"required,omitempty" yaml:"required,omitempty"`
	Properties           map[string]*Schema `json:"properties,omitempty" yaml:"properties,omitempty"`
	Items                *Schema            `json:"items,omitempty" yaml:"items,omitempty"`
	OneOf                []*Schema          `json:"oneOf,omitempty" yaml:"oneOf,omitempty"`
	AdditionalProperties any                `json:"additionalProperties,omitempty" yaml:"additionalProperties,omitempty"`
}

func ref(name string) *Schema {
	return &Schema{Ref: "#/components/schemas/" + name}
}

func str(description string) *Schema {
	return &Schema{Type: "string", Description: description}
}

func errorResponse(description string) *Response {
	return &Response{
		Description: description,
		Content:     map[string]*MediaType{"application/json": {Schema: ref("Error")}},
	}
}

func deliveryResponses() map[string]*Response {
	return map[string]*Response{
		"204": {Description: "Message accepted by the relay"},
		"400": errorResponse("Unknown template, invalid envelope, interpolation or request body error"),
		"424": errorResponse("Template backend failed"),
		"500": errorResponse("Configuration, parsing, render or internal error"),
		"502": errorResponse("Relay rejected the message"),
		"503": errorResponse("Relay unreachable"),
	}
}

var templateName = Parameter{
	Name:     "name",
	In:       "path",
	Required: true,
	Schema:   str("Template name"),
}

// New builds the document for the given service version.
func New(serviceVersion string) *Document {
	return &Document{
		OpenAPI: version,
		Info: Info{
			Title:       "mailform",
			Description: "Renders MJML email templates and delivers them through the configured relay.",
			Version:     serviceVersion,
		},
		Paths: map[string]*PathItem{
			"/templates/{name}/json": {
				Post: &Operation{
					OperationID: "sendJSON",
					Summary:     "Render a template and send it",
					Parameters:  []Parameter{templateName},
					RequestBody: &RequestBody{
						Required: true,
						Content:  map[string]*MediaType{"application/json": {Schema: ref("JSONRequest")}},
					},
					Responses: deliveryResponses(),
				},
			},
			"/templates/{name}/multipart": {
				Post: &Operation{
					OperationID: "sendMultipart",
					Summary:     "Render a template and send it with attachments",
					Parameters:  []Parameter{templateName},
					RequestBody: &RequestBody{
						Required: true,
						Content: map[string]*MediaType{"multipart/form-data": {
							Schema:   ref("MultipartRequest"),
							Encoding: map[string]*Encoding{"params": {ContentType: "application/json"}},
						}},
					},
					Responses: deliveryResponses(),
				},
			},
			"/status": {
				Get: &Operation{
					OperationID: "status",
					Summary:     "Check that the relay answers",
					Responses: map[string]*Response{
						"204": {Description: "Relay reachable"},
						"500": errorResponse("Relay health check failed or timed out"),
					},
				},
			},
			"/metrics": {
				Get: &Operation{
					OperationID: "metrics",
					Summary:     "Prometheus metrics",
					Responses: map[string]*Response{
						"200": {
							Description: "Prometheus text exposition",
							Content:     map[string]*MediaType{"text/plain": {Schema: &Schema{Type: "string"}}},
						},
					},
				},
			},
		},
		Components: Components{Schemas: schemas()},
	}
}

func schemas() map[string]*Schema {
	return map[string]*Schema{
		"Recipients": {
			Description: "A single mailbox or an array of mailboxes",
			OneOf: []*Schema{
				{Type: "string", Example: "Alice <alice@example.com>"},
				{Type: "array", Items: &Schema{Type: "string"}},
			},
		},
		"JSONRequest": {
			Type:     "object",
			Required: []string{"from"},
			Properties: map[string]*Schema{
				"from":   {Type: "string", Example: "Acme <noreply@acme.test>"},
				"to":     ref("Recipients"),
				"cc":     ref("Recipients"),
				"bcc":    ref("Recipients"),
				"params": {Type: "object", Description: "Values available to the template", AdditionalProperties: true},
			},
		},
		"MultipartRequest": {
			Type:     "object",
			Required: []string{"from"},
			Properties: map[string]*Schema{
				"from":        str("Sender mailbox"),
				"to":          {Type: "array", Items: &Schema{Type: "string"}},
				"cc":          {Type: "array", Items: &Schema{Type: "string"}},
				"bcc":         {Type: "array", Items: &Schema{Type: "string"}},
				"params":      str("JSON object with template values"),
				"attachments": {Type: "array", Items: &Schema{Type: "string", Format: "binary"}},
			},
		},
		"Error": {
			Type:     "object",
			Required: []string{"message", "details"},
			Properties: map[string]*Schema{
				"message": {Type: "string"},
				"details": {
					Type:                 "object",
					AdditionalProperties: true,
					Properties: map[string]*Schema{
						"origin":      {Type: "string"},
						"provider":    {Type: "string"},
						"description": {Type: "string"},
					},
				},
			},
		},
	}
}

// Write encodes doc in the given format. pretty indents JSON output; YAML is
// always indented.
func Write(w io.Writer, doc *Document, format string, pretty bool) error {
	switch format {
	case "", FormatJSON:
		enc := json.NewEncoder(w)
		if pretty {
			enc.SetIndent("", "  ")
		}
		return enc.Encode(doc)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}
