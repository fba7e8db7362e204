package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shineum/mailform/internal/apperr"
)

// errorBody is the JSON body of every error response.
type errorBody struct {
	Message string         `json:"message"`
	Details map[string]any `json:"details"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to its status code and writes the error body.
func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{
		Message: errorMessage(err),
		Details: apperr.Details(err),
	})
}

func errorMessage(err error) string {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	var multi *apperr.Multiple
	if errors.As(err, &multi) {
		return "unable to prepare template"
	}
	return err.Error()
}
