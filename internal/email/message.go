// Package email defines the delivery request submitted by clients: the
// template to render, the envelope and the attachments.
package email

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"strings"

	"github.com/emersion/go-message/mail"

	"github.com/shineum/mailform/internal/apperr"
)

// Mailbox is an address with an optional display name.
type Mailbox struct {
	Name    string
	Address string
}

// ParseMailbox parses a free-form address such as "Alice <alice@example.com>".
func ParseMailbox(s string) (Mailbox, error) {
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return Mailbox{}, fmt.Errorf("invalid mailbox %q: %w", s, err)
	}
	return Mailbox{Name: addr.Name, Address: addr.Address}, nil
}

// IsZero reports whether no address was set.
func (m Mailbox) IsZero() bool {
	return m.Address == ""
}

// MailAddress converts m for use in message headers.
func (m Mailbox) MailAddress() *mail.Address {
	return &mail.Address{Name: m.Name, Address: m.Address}
}

func (m Mailbox) String() string {
	return m.MailAddress().String()
}

func (m *Mailbox) UnmarshalText(text []byte) error {
	parsed, err := ParseMailbox(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func (m Mailbox) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Recipients is an ordered recipient list. Duplicates are kept.
type Recipients []Mailbox

// ParseRecipients parses each value as one mailbox. Blank values are skipped.
func ParseRecipients(values ...string) (Recipients, error) {
	var out Recipients
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		mb, err := ParseMailbox(v)
		if err != nil {
			return nil, err
		}
		out = append(out, mb)
	}
	return out, nil
}

// UnmarshalJSON accepts a single string or an array of strings.
func (r *Recipients) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*r = nil
		return nil
	}

	var values []string
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		values = []string{s}
	} else if err := json.Unmarshal(data, &values); err != nil {
		return errors.New("recipients must be a string or an array of strings")
	}

	parsed, err := ParseRecipients(values...)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Addresses returns the bare addresses in order.
func (r Recipients) Addresses() []string {
	out := make([]string, len(r))
	for i, m := range r {
		out[i] = m.Address
	}
	return out
}

// MailAddresses converts r for use in message headers.
func (r Recipients) MailAddresses() []*mail.Address {
	out := make([]*mail.Address, len(r))
	for i, m := range r {
		out[i] = m.MailAddress()
	}
	return out
}

// Attachment is a file delivered with the message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// MediaType parses the declared content type.
func (a Attachment) MediaType() (string, map[string]string, error) {
	return mime.ParseMediaType(a.ContentType)
}

// Validate checks that the attachment can be placed in a MIME part.
func (a Attachment) Validate() error {
	if a.Filename == "" {
		return errors.New("attachment filename is required")
	}
	if a.ContentType == "" {
		return fmt.Errorf("attachment %q: content type is required", a.Filename)
	}
	if _, _, err := a.MediaType(); err != nil {
		return fmt.Errorf("attachment %q: invalid content type: %w", a.Filename, err)
	}
	return nil
}

// Request is a delivery request for one template.
type Request struct {
	TemplateName string          `json:"-"`
	From         Mailbox         `json:"from"`
	To           Recipients      `json:"to,omitempty"`
	Cc           Recipients      `json:"cc,omitempty"`
	Bcc          Recipients      `json:"bcc,omitempty"`
	Params       json.RawMessage `json:"params,omitempty"`
	Attachments  []Attachment    `json:"-"`
}

// Validate checks the envelope: a sender and at least one recipient.
func (r *Request) Validate() error {
	if r.From.IsZero() {
		return apperr.InvalidEnvelope("missing sender", nil)
	}
	if len(r.To)+len(r.Cc)+len(r.Bcc) == 0 {
		return apperr.InvalidEnvelope("missing recipients", nil)
	}
	for _, a := range r.Attachments {
		if err := a.Validate(); err != nil {
			return apperr.InvalidEnvelope("invalid attachment", err)
		}
	}
	return nil
}

// Recipients returns every envelope recipient, Bcc included, in To, Cc, Bcc
// order.
func (r *Request) Recipients() []string {
	out := make([]string, 0, len(r.To)+len(r.Cc)+len(r.Bcc))
	out = append(out, r.To.Addresses()...)
	out = append(out, r.Cc.Addresses()...)
	out = append(out, r.Bcc.Addresses()...)
	return out
}
