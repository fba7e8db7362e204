// Package ses implements a Transport that relays raw MIME messages through
// AWS SES v2.
package ses

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	"github.com/shineum/mailform/internal/apperr"
	"github.com/shineum/mailform/internal/message"
)

const (
	origin = "transport"
	name   = "ses"
)

// Config holds the settings for creating a Transport. Static credentials are
// used when both keys are set; otherwise the default AWS credential chain
// applies.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// API is the subset of the SES v2 client used by the transport.
type API interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
	GetAccount(ctx context.Context, params *sesv2.GetAccountInput, optFns ...func(*sesv2.Options)) (*sesv2.GetAccountOutput, error)
}

// Transport sends messages via the SES v2 API.
type Transport struct {
	client API
}

// New creates a Transport from the AWS configuration for cfg.
func New(ctx context.Context, cfg Config) (*Transport, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewWithClient(sesv2.NewFromConfig(awsCfg)), nil
}

// NewWithClient creates a Transport around an existing client.
func NewWithClient(client API) *Transport {
	return &Transport{client: client}
}

// Name returns the transport name.
func (t *Transport) Name() string {
	return name
}

// Send submits the message as raw MIME. The envelope, Bcc included, goes in
// Destination; the raw data carries no Bcc header.
func (t *Transport) Send(ctx context.Context, msg *message.Message) error {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From),
		Destination: &types.Destination{
			ToAddresses:  msg.To,
			CcAddresses:  msg.Cc,
			BccAddresses: msg.Bcc,
		},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{Data: msg.WireBytes()},
		},
	}

	out, err := t.client.SendEmail(ctx, input)
	if err != nil {
		slog.Warn("SES API error", "error", err)
		return classify(err)
	}

	slog.Debug("message relayed", "transport", name, "message_id", aws.ToString(out.MessageId))
	return nil
}

// Ping calls GetAccount, which succeeds whenever the credentials and region
// are usable.
func (t *Transport) Ping(ctx context.Context) error {
	if _, err := t.client.GetAccount(ctx, &sesv2.GetAccountInput{}); err != nil {
		return apperr.FromProvider(apperr.KindTransportUnavailable, origin, name, "relay unavailable", err)
	}
	return nil
}

// classify treats client faults reported by the API (rejected message,
// unverified sender, throttling aside) as rejections and everything else as
// the relay being unavailable.
func classify(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorFault() == smithy.FaultClient && apiErr.ErrorCode() != "TooManyRequestsException" {
		return apperr.FromProvider(apperr.KindTransportRejected, origin, name, "relay rejected message", err).
			With("code", apiErr.ErrorCode())
	}
	return apperr.FromProvider(apperr.KindTransportUnavailable, origin, name, "relay unavailable", err)
}
