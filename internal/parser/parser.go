// Package parser reads RFC 5322 messages back into their parts. It is used
// to inspect assembled messages, for instance by the stdout transport.
package parser

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"strings"

	gomessage "github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"

	"github.com/shineum/mailform/internal/email"
)

// Summary is a parsed message.
type Summary struct {
	From      string
	To        []string
	Cc        []string
	Bcc       []string
	Subject   string
	MessageID string
	Text      string
	HTML      string

	Attachments []email.Attachment

	// Structure lists the media type of every entity in walk order,
	// indented two spaces per nesting level.
	Structure []string
}

// Parse parses a raw message. Text and HTML hold the first inline part of
// each type; other leaves with a filename become attachments.
func Parse(raw []byte) (*Summary, error) {
	entity, err := gomessage.Read(bytes.NewReader(raw))
	if err != nil && !gomessage.IsUnknownCharset(err) {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	h := mail.Header{Header: entity.Header}
	s := &Summary{
		To:  addressList(h, "To"),
		Cc:  addressList(h, "Cc"),
		Bcc: addressList(h, "Bcc"),
	}
	if from := addressList(h, "From"); len(from) > 0 {
		s.From = from[0]
	}
	if subject, err := h.Subject(); err == nil {
		s.Subject = subject
	}
	if id, err := h.MessageID(); err == nil {
		s.MessageID = id
	}

	err = entity.Walk(func(path []int, part *gomessage.Entity, err error) error {
		if err != nil {
			slog.Warn("failed to decode MIME part", "path", path, "error", err)
		}

		mediaType, params, _ := part.Header.ContentType()
		if mediaType == "" {
			mediaType = "text/plain"
		}
		s.Structure = append(s.Structure, strings.Repeat("  ", len(path))+mediaType)

		if strings.HasPrefix(mediaType, "multipart/") {
			return nil
		}

		body, err := io.ReadAll(part.Body)
		if err != nil {
			return fmt.Errorf("failed to read part %v: %w", path, err)
		}

		disp, dispParams, _ := part.Header.ContentDisposition()
		filename := dispParams["filename"]
		if filename == "" {
			filename = params["name"]
		}

		switch {
		case disp == "attachment" || (filename != "" && disp != "inline"):
			if filename == "" {
				filename = fallbackFilename(mediaType)
			}
			s.Attachments = append(s.Attachments, email.Attachment{
				Filename:    filename,
				ContentType: mediaType,
				Content:     body,
			})
		case mediaType == "text/plain" && s.Text == "":
			s.Text = string(body)
		case mediaType == "text/html" && s.HTML == "":
			s.HTML = string(body)
		default:
			slog.Warn("unrecognized MIME part, skipping", "content_type", mediaType, "disposition", disp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// fallbackFilename names an attachment after its subtype, e.g. attachment.pdf.
func fallbackFilename(mediaType string) string {
	if _, sub, ok := strings.Cut(mediaType, "/"); ok && sub != "" {
		return "attachment." + sub
	}
	return "attachment"
}

func addressList(h mail.Header, key string) []string {
	addrs, err := h.AddressList(key)
	if err != nil {
		// Fall back to the raw value when the list does not parse.
		if v := h.Get(key); v != "" {
			return []string{v}
		}
		return nil
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Address)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
