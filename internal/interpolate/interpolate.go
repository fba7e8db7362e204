// Package interpolate applies Handlebars substitution to template sources.
package interpolate

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/mailgun/raymond/v2"

	"github.com/shineum/mailform/internal/apperr"
)

const origin = "interpolator"

var lineRe = regexp.MustCompile(`line (\d+)`)

// DecodeParams turns a raw JSON parameter object into the generic value the
// Handlebars evaluator walks. Empty input decodes to an empty object.
func DecodeParams(raw json.RawMessage) (any, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return map[string]any{}, nil
	}
	var params any
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, err
	}
	if params == nil {
		return map[string]any{}, nil
	}
	return params, nil
}

// Interpolate renders source with params as the Handlebars context. Keys the
// template references but params lacks render as empty strings.
func Interpolate(templateName, source string, params any) (string, error) {
	tpl, err := raymond.Parse(source)
	if err != nil {
		return "", syntaxError(templateName, err)
	}

	out, err := tpl.Exec(params)
	if err != nil {
		return "", apperr.New(apperr.KindInterpolation, origin, "unable to interpolate template", err).
			With("template_name", templateName)
	}
	return out, nil
}

// syntaxError locates a raymond parse failure. The evaluator only reports
// lines, so the column points at the start of the line.
func syntaxError(templateName string, err error) error {
	line := 0
	if m := lineRe.FindStringSubmatch(err.Error()); m != nil {
		line, _ = strconv.Atoi(m[1])
	}
	description := err.Error()
	if _, rest, ok := strings.Cut(description, "\n"); ok {
		description = strings.TrimSpace(rest)
	}

	return apperr.New(apperr.KindInterpolation, origin, "invalid template syntax", err).
		With("template_name", templateName).
		With("description", description).
		With("line", line).
		With("column", 1)
}
