// Package stdout implements a Transport that prints messages instead of
// delivering them. Useful during template development.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/shineum/mailform/internal/apperr"
	"github.com/shineum/mailform/internal/message"
	"github.com/shineum/mailform/internal/parser"
)

const separator = "========================================\n"

// Transport prints a readable summary of each message.
type Transport struct {
	mu     sync.Mutex
	writer io.Writer
}

// New creates a Transport that writes to os.Stdout.
func New() *Transport {
	return &Transport{writer: os.Stdout}
}

// NewWithWriter creates a Transport that writes to w.
func NewWithWriter(w io.Writer) *Transport {
	return &Transport{writer: w}
}

// Send prints the parsed message. Bcc recipients are listed since nothing
// leaves the process.
func (t *Transport) Send(_ context.Context, msg *message.Message) error {
	summary, err := parser.Parse(msg.Bytes())
	if err != nil {
		return apperr.Internal("transport", "stdout", "unable to inspect message", err)
	}

	var b strings.Builder

	b.WriteString(separator)
	fmt.Fprintf(&b, "From: %s\n", summary.From)
	fmt.Fprintf(&b, "To: %s\n", strings.Join(summary.To, ", "))
	if len(summary.Cc) > 0 {
		fmt.Fprintf(&b, "Cc: %s\n", strings.Join(summary.Cc, ", "))
	}
	if len(summary.Bcc) > 0 {
		fmt.Fprintf(&b, "Bcc: %s\n", strings.Join(summary.Bcc, ", "))
	}
	fmt.Fprintf(&b, "Subject: %s\n", summary.Subject)
	fmt.Fprintf(&b, "Message-ID: %s\n", summary.MessageID)
	fmt.Fprintf(&b, "Structure:\n%s\n", strings.Join(summary.Structure, "\n"))
	if summary.Text != "" {
		fmt.Fprintf(&b, "Preview: %s\n", summary.Text)
	}
	fmt.Fprintf(&b, "HTML: %s\n", formatSize(len(summary.HTML)))

	if len(summary.Attachments) > 0 {
		attachments := make([]string, 0, len(summary.Attachments))
		for _, att := range summary.Attachments {
			attachments = append(attachments, fmt.Sprintf("%s (%s, %s)", att.Filename, att.ContentType, formatSize(len(att.Content))))
		}
		fmt.Fprintf(&b, "Attachments: %s\n", strings.Join(attachments, ", "))
	}

	b.WriteString(separator)

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := io.WriteString(t.writer, b.String()); err != nil {
		return apperr.FromProvider(apperr.KindTransportUnavailable, "transport", "stdout", "unable to write message", err)
	}
	return nil
}

// Ping always succeeds.
func (t *Transport) Ping(context.Context) error {
	return nil
}

// Name returns the transport name.
func (t *Transport) Name() string {
	return "stdout"
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
