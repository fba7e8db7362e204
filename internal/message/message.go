// Package message assembles rendered templates into MIME messages.
//
// Every message has the same shape:
//
//	multipart/mixed
//	├── multipart/alternative
//	│   ├── text/plain
//	│   └── multipart/related
//	│       └── text/html
//	└── one part per attachment
package message

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	gomessage "github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"

	"github.com/shineum/mailform/internal/apperr"
	"github.com/shineum/mailform/internal/email"
)

const origin = "message"

// Content is the rendered part of a message.
type Content struct {
	Subject string
	Text    string
	HTML    string
}

// Message is an assembled RFC 5322 message and its SMTP envelope. The header
// keeps Bcc; WireBytes drops it for relays that deliver the header verbatim.
type Message struct {
	Header mail.Header
	From   string
	To     []string
	Cc     []string
	Bcc    []string

	body []byte
}

// Recipients returns every envelope recipient in To, Cc, Bcc order.
func (m *Message) Recipients() []string {
	out := make([]string, 0, len(m.To)+len(m.Cc)+len(m.Bcc))
	out = append(out, m.To...)
	out = append(out, m.Cc...)
	return append(out, m.Bcc...)
}

// Subject returns the decoded Subject header.
func (m *Message) Subject() string {
	s, err := m.Header.Subject()
	if err != nil {
		return m.Header.Get("Subject")
	}
	return s
}

// WriteTo writes the complete message, Bcc header included.
func (m *Message) WriteTo(w io.Writer) (int64, error) {
	return m.write(w, true)
}

// Bytes returns the complete message, Bcc header included.
func (m *Message) Bytes() []byte {
	var buf bytes.Buffer
	_, _ = m.write(&buf, true)
	return buf.Bytes()
}

// WireBytes returns the message as handed to a relay, without Bcc.
func (m *Message) WireBytes() []byte {
	var buf bytes.Buffer
	_, _ = m.write(&buf, false)
	return buf.Bytes()
}

func (m *Message) write(w io.Writer, bcc bool) (int64, error) {
	h := m.Header.Copy()
	if !bcc {
		h.Del("Bcc")
	}

	var buf bytes.Buffer
	if err := textproto.WriteHeader(&buf, h.Header.Header); err != nil {
		return 0, err
	}
	buf.Write(m.body)
	return buf.WriteTo(w)
}

// Assemble builds the message for req. Subject and Text may be empty; the
// structure is the same either way.
func Assemble(req *email.Request, content Content) (*Message, error) {
	var h mail.Header
	h.SetAddressList("From", []*mail.Address{req.From.MailAddress()})
	if len(req.To) > 0 {
		h.SetAddressList("To", req.To.MailAddresses())
	}
	if len(req.Cc) > 0 {
		h.SetAddressList("Cc", req.Cc.MailAddresses())
	}
	if len(req.Bcc) > 0 {
		h.SetAddressList("Bcc", req.Bcc.MailAddresses())
	}
	h.SetSubject(content.Subject)
	h.SetDate(time.Now())
	if err := h.GenerateMessageID(); err != nil {
		return nil, apperr.New(apperr.KindInternal, origin, "unable to generate message id", err)
	}
	h.SetContentType("multipart/mixed", nil)

	var buf bytes.Buffer
	if err := writeBody(&buf, h, req.Attachments, content); err != nil {
		return nil, apperr.New(apperr.KindInternal, origin, "unable to assemble message", err)
	}

	// Split the serialized header back off so the final boundary parameters
	// are part of Header.
	r := bufio.NewReader(&buf)
	final, err := textproto.ReadHeader(r)
	if err != nil {
		return nil, apperr.New(apperr.KindInternal, origin, "unable to assemble message", err)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, apperr.New(apperr.KindInternal, origin, "unable to assemble message", err)
	}

	return &Message{
		Header: mail.Header{Header: gomessage.Header{Header: final}},
		From:   req.From.Address,
		To:     req.To.Addresses(),
		Cc:     req.Cc.Addresses(),
		Bcc:    req.Bcc.Addresses(),
		body:   body,
	}, nil
}

func writeBody(w io.Writer, h mail.Header, attachments []email.Attachment, content Content) error {
	mixed, err := gomessage.CreateWriter(w, h.Header)
	if err != nil {
		return err
	}

	var altHeader gomessage.Header
	altHeader.SetContentType("multipart/alternative", nil)
	alt, err := mixed.CreatePart(altHeader)
	if err != nil {
		return err
	}
	if err := writeText(alt, "text/plain", content.Text); err != nil {
		return err
	}

	var relHeader gomessage.Header
	relHeader.SetContentType("multipart/related", nil)
	related, err := alt.CreatePart(relHeader)
	if err != nil {
		return err
	}
	if err := writeText(related, "text/html", content.HTML); err != nil {
		return err
	}
	if err := related.Close(); err != nil {
		return err
	}
	if err := alt.Close(); err != nil {
		return err
	}

	for _, att := range attachments {
		if err := writeAttachment(mixed, att); err != nil {
			return fmt.Errorf("attachment %q: %w", att.Filename, err)
		}
	}
	return mixed.Close()
}

func writeText(parent *gomessage.Writer, mediaType, text string) error {
	var ph gomessage.Header
	ph.SetContentType(mediaType, map[string]string{"charset": "utf-8"})
	ph.Set("Content-Transfer-Encoding", "quoted-printable")

	pw, err := parent.CreatePart(ph)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(pw, text); err != nil {
		return err
	}
	return pw.Close()
}

func writeAttachment(parent *gomessage.Writer, att email.Attachment) error {
	mediaType, params, err := att.MediaType()
	if err != nil {
		return err
	}
	// The part writer refuses charsets other than utf-8 and us-ascii. The
	// content is base64 and left untouched, so the parameter is only a hint.
	switch strings.ToLower(params["charset"]) {
	case "", "utf-8", "us-ascii":
	default:
		delete(params, "charset")
	}

	var ah mail.AttachmentHeader
	ah.SetContentType(mediaType, params)
	ah.SetFilename(att.Filename)
	ah.Set("Content-Transfer-Encoding", "base64")

	pw, err := parent.CreatePart(ah.Header)
	if err != nil {
		return err
	}
	if _, err := pw.Write(att.Content); err != nil {
		return err
	}
	return pw.Close()
}
