// Package apperr defines the error kinds shared by the template pipeline, the
// transports and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error independently of the component that raised it.
type Kind string

const (
	KindNotFound             Kind = "not_found"
	KindProvider             Kind = "provider_error"
	KindConfiguration        Kind = "configuration_error"
	KindInternal             Kind = "internal_error"
	KindInterpolation        Kind = "interpolation_error"
	KindParsing              Kind = "parsing_error"
	KindRender               Kind = "render_error"
	KindInvalidEnvelope      Kind = "invalid_envelope"
	KindMultipart            Kind = "multipart_error"
	KindTransportUnavailable Kind = "transport_unavailable"
	KindTransportRejected    Kind = "transport_rejected"
)

var _ error = &Error{}

// Error is a classified failure. Origin names the pipeline stage (loader,
// interpolator, parser, ...) and Provider the concrete backend, if any.
type Error struct {
	Kind     Kind
	Origin   string
	Provider string
	Message  string
	Fields   map[string]any
	Cause    error
}

func (e *Error) Error() string {
	s := e.Message
	if e.Provider != "" {
		s = e.Provider + ": " + s
	}
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// With returns a copy of e carrying an extra detail field.
func (e *Error) With(key string, value any) *Error {
	c := *e
	c.Fields = make(map[string]any, len(e.Fields)+1)
	for k, v := range e.Fields {
		c.Fields[k] = v
	}
	c.Fields[key] = value
	return &c
}

// New builds an Error of the given kind.
func New(kind Kind, origin, message string, cause error) *Error {
	return &Error{
		Kind:    kind,
		Origin:  origin,
		Message: message,
		Cause:   cause,
	}
}

// FromProvider builds an Error raised by a named backend.
func FromProvider(kind Kind, origin, provider, message string, cause error) *Error {
	e := New(kind, origin, message, cause)
	e.Provider = provider
	return e
}

// NotFound reports a template or metadata the backend does not have.
func NotFound(origin, provider, message string, cause error) *Error {
	return FromProvider(KindNotFound, origin, provider, message, cause)
}

// Provider reports a backend that answered with a server-side failure.
func Provider(origin, provider, message string, cause error) *Error {
	return FromProvider(KindProvider, origin, provider, message, cause)
}

// Configuration reports a backend that is misconfigured or unreachable.
func Configuration(origin, provider, message string, cause error) *Error {
	return FromProvider(KindConfiguration, origin, provider, message, cause)
}

// Internal reports a failure not attributable to the client or a backend.
func Internal(origin, provider, message string, cause error) *Error {
	return FromProvider(KindInternal, origin, provider, message, cause)
}

// InvalidEnvelope reports a request whose sender or recipients are unusable.
func InvalidEnvelope(message string, cause error) *Error {
	return New(KindInvalidEnvelope, "envelope", message, cause)
}

// Multipart reports a malformed multipart form.
func Multipart(message string, cause error) *Error {
	return New(KindMultipart, "multipart", message, cause)
}

// Multiple aggregates the failures of several backends tried in order.
type Multiple struct {
	Errors []error
}

func (m *Multiple) Error() string {
	s := fmt.Sprintf("%d errors occurred", len(m.Errors))
	for _, err := range m.Errors {
		s += "; " + err.Error()
	}
	return s
}

func (m *Multiple) Unwrap() []error {
	return m.Errors
}

// Kind reduces the aggregated errors to the strongest kind: not found when
// every backend said so, provider error when any backend did, configuration
// error otherwise.
func (m *Multiple) Kind() Kind {
	if len(m.Errors) == 0 {
		return KindInternal
	}
	allNotFound := true
	for _, err := range m.Errors {
		k := KindOf(err)
		if k == KindProvider {
			return KindProvider
		}
		if k != KindNotFound {
			allNotFound = false
		}
	}
	if allNotFound {
		return KindNotFound
	}
	return KindConfiguration
}

// KindOf returns the kind of the outermost classified error in err's chain.
// Unclassified errors are internal.
func KindOf(err error) Kind {
	for err != nil {
		switch e := err.(type) {
		case *Error:
			return e.Kind
		case *Multiple:
			return e.Kind()
		}
		err = errors.Unwrap(err)
	}
	return KindInternal
}

// StatusCode maps a kind to the HTTP status returned to clients.
func StatusCode(kind Kind) int {
	switch kind {
	case KindNotFound, KindInterpolation, KindInvalidEnvelope, KindMultipart:
		return http.StatusBadRequest
	case KindProvider:
		return http.StatusFailedDependency
	case KindTransportRejected:
		return http.StatusBadGateway
	case KindTransportUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Details renders err as the structured object exposed in error responses.
func Details(err error) map[string]any {
	for cur := err; cur != nil; cur = errors.Unwrap(cur) {
		switch e := cur.(type) {
		case *Error:
			return e.details()
		case *Multiple:
			return multipleDetails(e)
		}
	}
	if err == nil {
		return map[string]any{}
	}
	return map[string]any{"description": err.Error()}
}

func (e *Error) details() map[string]any {
	out := make(map[string]any, len(e.Fields)+3)
	for k, v := range e.Fields {
		out[k] = v
	}
	if e.Origin != "" {
		out["origin"] = e.Origin
	}
	if e.Provider != "" {
		out["provider"] = e.Provider
	}

	var multi *Multiple
	if e.Cause != nil && errors.As(e.Cause, &multi) {
		out["errors"] = multipleDetails(multi)["errors"]
		if _, ok := e.Fields["description"]; !ok {
			out["description"] = e.Message
		}
		return out
	}

	description := e.Message
	if e.Cause != nil {
		description = e.Cause.Error()
		var inner *Error
		if errors.As(e.Cause, &inner) {
			out["cause"] = inner.details()
		}
	}
	// An explicit description field is already cleaned up for clients.
	if _, ok := e.Fields["description"]; !ok {
		out["description"] = description
	}
	return out
}

func multipleDetails(m *Multiple) map[string]any {
	errs := make([]map[string]any, 0, len(m.Errors))
	for _, err := range m.Errors {
		errs = append(errs, Details(err))
	}
	return map[string]any{
		"description": m.Error(),
		"errors":      errs,
	}
}
