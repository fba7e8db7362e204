package ses

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	"github.com/shineum/mailform/internal/apperr"
	"github.com/shineum/mailform/internal/email"
	"github.com/shineum/mailform/internal/message"
	"github.com/shineum/mailform/internal/parser"
)

// mockSESClient implements API for testing.
type mockSESClient struct {
	sendFn    func(ctx context.Context, params *sesv2.SendEmailInput) (*sesv2.SendEmailOutput, error)
	accountFn func(ctx context.Context) (*sesv2.GetAccountOutput, error)
	callCount int
	lastInput *sesv2.SendEmailInput
}

func (m *mockSESClient) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	m.callCount++
	m.lastInput = params
	if m.sendFn != nil {
		return m.sendFn(ctx, params)
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("test-message-id")}, nil
}

func (m *mockSESClient) GetAccount(ctx context.Context, _ *sesv2.GetAccountInput, _ ...func(*sesv2.Options)) (*sesv2.GetAccountOutput, error) {
	if m.accountFn != nil {
		return m.accountFn(ctx)
	}
	return &sesv2.GetAccountOutput{SendingEnabled: true}, nil
}

func testMessage(t *testing.T) *message.Message {
	t.Helper()

	from, err := email.ParseMailbox("Sender <sender@example.com>")
	if err != nil {
		t.Fatalf("ParseMailbox: %v", err)
	}
	to, _ := email.ParseRecipients("to1@example.com", "to2@example.com")
	cc, _ := email.ParseRecipients("cc@example.com")
	bcc, _ := email.ParseRecipients("bcc@example.com")

	msg, err := message.Assemble(
		&email.Request{
			TemplateName: "report",
			From:         from,
			To:           to,
			Cc:           cc,
			Bcc:          bcc,
			Attachments: []email.Attachment{
				{Filename: "doc.pdf", ContentType: "application/pdf", Content: []byte("pdf content")},
			},
		},
		message.Content{Subject: "Raw Test", Text: "text body", HTML: "<p>html</p>"},
	)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	return msg
}

func TestName(t *testing.T) {
	t.Parallel()
	tr := NewWithClient(&mockSESClient{})
	if got := tr.Name(); got != "ses" {
		t.Errorf("Name(): got %q, want %q", got, "ses")
	}
}

func TestSend_RawMessage(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	tr := NewWithClient(mock)

	if err := tr.Send(context.Background(), testMessage(t)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mock.callCount != 1 {
		t.Errorf("call count: got %d, want 1", mock.callCount)
	}

	input := mock.lastInput
	if input.Content.Simple != nil {
		t.Error("expected no simple content")
	}
	if input.Content.Raw == nil {
		t.Fatal("expected raw email content, got nil")
	}
	if got := aws.ToString(input.FromEmailAddress); got != "sender@example.com" {
		t.Errorf("FromEmailAddress: got %q, want %q", got, "sender@example.com")
	}

	raw := input.Content.Raw.Data
	if strings.Contains(string(raw), "bcc@example.com") {
		t.Error("raw message must not carry the Bcc header")
	}

	parsed, err := parser.Parse(raw)
	if err != nil {
		t.Fatalf("parse raw message: %v", err)
	}
	if parsed.Subject != "Raw Test" {
		t.Errorf("Subject: got %q, want %q", parsed.Subject, "Raw Test")
	}
	if parsed.HTML != "<p>html</p>" {
		t.Errorf("HTML: got %q, want %q", parsed.HTML, "<p>html</p>")
	}
	if len(parsed.Attachments) != 1 || parsed.Attachments[0].Filename != "doc.pdf" {
		t.Errorf("Attachments: got %+v, want doc.pdf", parsed.Attachments)
	}
}

func TestSend_Destination(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	tr := NewWithClient(mock)

	if err := tr.Send(context.Background(), testMessage(t)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	dest := mock.lastInput.Destination
	if len(dest.ToAddresses) != 2 {
		t.Errorf("ToAddresses: got %d, want 2", len(dest.ToAddresses))
	}
	if len(dest.CcAddresses) != 1 {
		t.Errorf("CcAddresses: got %d, want 1", len(dest.CcAddresses))
	}
	if len(dest.BccAddresses) != 1 || dest.BccAddresses[0] != "bcc@example.com" {
		t.Errorf("BccAddresses: got %v, want [bcc@example.com]", dest.BccAddresses)
	}
}

func TestSend_ErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want apperr.Kind
	}{
		{
			name: "message rejected",
			err:  &types.MessageRejected{Message: aws.String("Email address is not verified")},
			want: apperr.KindTransportRejected,
		},
		{
			name: "throttled",
			err:  &smithy.GenericAPIError{Code: "TooManyRequestsException", Fault: smithy.FaultClient},
			want: apperr.KindTransportUnavailable,
		},
		{
			name: "server fault",
			err:  &smithy.GenericAPIError{Code: "InternalFailure", Fault: smithy.FaultServer},
			want: apperr.KindTransportUnavailable,
		},
		{
			name: "network",
			err:  errors.New("dial tcp: connection refused"),
			want: apperr.KindTransportUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mock := &mockSESClient{
				sendFn: func(context.Context, *sesv2.SendEmailInput) (*sesv2.SendEmailOutput, error) {
					return nil, tt.err
				},
			}
			err := NewWithClient(mock).Send(context.Background(), testMessage(t))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if got := apperr.KindOf(err); got != tt.want {
				t.Errorf("kind: got %q, want %q", got, tt.want)
			}
			if mock.callCount != 1 {
				t.Errorf("call count: got %d, want 1", mock.callCount)
			}
			if !errors.Is(err, tt.err) {
				t.Errorf("error chain does not contain the API error: %v", err)
			}
		})
	}
}

func TestPing(t *testing.T) {
	t.Parallel()

	if err := NewWithClient(&mockSESClient{}).Ping(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	failing := &mockSESClient{
		accountFn: func(context.Context) (*sesv2.GetAccountOutput, error) {
			return nil, errors.New("no credentials")
		},
	}
	err := NewWithClient(failing).Ping(context.Background())
	if got := apperr.KindOf(err); got != apperr.KindTransportUnavailable {
		t.Errorf("kind: got %q, want %q", got, apperr.KindTransportUnavailable)
	}
}
