package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shineum/mailform/internal/apperr"
	"github.com/shineum/mailform/internal/email"
)

// formFields are the multipart field names a delivery request may carry.
var formFields = map[string]bool{
	"from": true, "to": true, "cc": true, "bcc": true, "params": true, "attachments": true,
}

// handleJSON serves POST /templates/{name}/json.
func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodySize)

	var req email.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, r, name, apperr.InvalidEnvelope("invalid request body", err))
		return
	}
	req.TemplateName = name

	s.deliver(w, r, &req)
}

// handleMultipart serves POST /templates/{name}/multipart. Uploaded files are
// kept in memory up to the body limit and removed on every exit path.
func (s *Server) handleMultipart(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodySize)

	err := r.ParseMultipartForm(s.config.MaxBodySize)
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}
	if err != nil {
		s.fail(w, r, name, apperr.Multipart("invalid multipart body", err))
		return
	}

	req, err := requestFromForm(r.MultipartForm)
	if err != nil {
		s.fail(w, r, name, err)
		return
	}
	req.TemplateName = name

	s.deliver(w, r, req)
}

func requestFromForm(form *multipart.Form) (*email.Request, error) {
	for field := range form.Value {
		if !formFields[field] {
			return nil, apperr.Multipart("invalid field name", fmt.Errorf("unexpected field %q", field))
		}
	}
	for field := range form.File {
		if field != "attachments" {
			return nil, apperr.Multipart("invalid field name", fmt.Errorf("unexpected file field %q", field))
		}
	}
	// Parts without a filename land in Value, never in File.
	if len(form.Value["attachments"]) > 0 {
		return nil, apperr.Multipart("invalid attachment", errors.New("attachment filename is required"))
	}

	var req email.Request

	if from := form.Value["from"]; len(from) > 0 {
		mb, err := email.ParseMailbox(from[0])
		if err != nil {
			return nil, apperr.Multipart("invalid from field", err)
		}
		req.From = mb
	}

	for _, f := range []struct {
		field string
		dst   *email.Recipients
	}{
		{"to", &req.To},
		{"cc", &req.Cc},
		{"bcc", &req.Bcc},
	} {
		rcpts, err := email.ParseRecipients(form.Value[f.field]...)
		if err != nil {
			return nil, apperr.Multipart(fmt.Sprintf("invalid %s field", f.field), err)
		}
		*f.dst = rcpts
	}

	if params := form.Value["params"]; len(params) > 0 && params[0] != "" {
		if !json.Valid([]byte(params[0])) {
			return nil, apperr.Multipart("invalid params field", errors.New("params is not valid JSON"))
		}
		req.Params = json.RawMessage(params[0])
	}

	for _, fh := range form.File["attachments"] {
		att, err := readAttachment(fh)
		if err != nil {
			return nil, apperr.Multipart("invalid attachment", err)
		}
		req.Attachments = append(req.Attachments, att)
	}

	return &req, nil
}

func readAttachment(fh *multipart.FileHeader) (email.Attachment, error) {
	f, err := fh.Open()
	if err != nil {
		return email.Attachment{}, err
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return email.Attachment{}, err
	}

	att := email.Attachment{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Content:     content,
	}
	return att, att.Validate()
}

// deliver runs the pipeline and hands the message to the transport.
func (s *Server) deliver(w http.ResponseWriter, r *http.Request, req *email.Request) {
	ctx := r.Context()
	log := logger(ctx).With("template_name", req.TemplateName)

	msg, err := s.pipeline.Handle(ctx, req)
	if err != nil {
		s.fail(w, r, req.TemplateName, err)
		return
	}

	if err := s.transport.Send(ctx, msg); err != nil {
		s.fail(w, r, req.TemplateName, err)
		return
	}

	s.metrics.Delivered(req.TemplateName)
	log.Info("message delivered",
		"transport", s.transport.Name(),
		"recipients", len(msg.Recipients()),
		"message_id", msg.Header.Get("Message-Id"),
	)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, template string, err error) {
	kind := apperr.KindOf(err)
	status := apperr.StatusCode(kind)
	s.metrics.Failed(template, kind)

	log := logger(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "template_name", template, "kind", kind, "status", status, "error", err)
	} else {
		log.Warn("request failed", "template_name", template, "kind", kind, "status", status, "error", err)
	}
	writeError(w, status, err)
}

// handleStatus serves GET /status: 204 when the transport answers its health
// check in time.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), statusTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- s.transport.Ping(ctx) }()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		err = apperr.FromProvider(apperr.KindTransportUnavailable, "transport", s.transport.Name(), "health check timed out", ctx.Err())
	}

	if err != nil {
		logger(ctx).Warn("status check failed", "transport", s.transport.Name(), "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
