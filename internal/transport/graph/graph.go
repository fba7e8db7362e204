// Package graph delivers messages through the Microsoft Graph sendMail API
// using OAuth2 client credentials.
package graph

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/shineum/mailform/internal/apperr"
	"github.com/shineum/mailform/internal/message"
)

const (
	origin = "transport"
	name   = "msgraph"

	defaultGraphURL = "https://graph.microsoft.com/v1.0"
	scope           = "https://graph.microsoft.com/.default"

	// requestTimeout bounds token and sendMail requests.
	requestTimeout = 30 * time.Second
)

// Config holds the Azure AD application and the mailbox sending on its
// behalf.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	// Sender is the user ID or principal name of the sending mailbox.
	Sender string
}

// Transport posts the assembled MIME message to /users/{sender}/sendMail.
type Transport struct {
	sendURL string
	tokens  oauth2.TokenSource
	client  *http.Client
}

// New creates a Graph transport. Tokens are fetched lazily and cached until
// shortly before they expire.
func New(cfg Config) (*Transport, error) {
	tokenURL := fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", url.PathEscape(cfg.TenantID))
	return newWithEndpoints(cfg, defaultGraphURL, tokenURL, &http.Client{Timeout: requestTimeout})
}

func newWithEndpoints(cfg Config, graphURL, tokenURL string, base *http.Client) (*Transport, error) {
	if cfg.TenantID == "" || cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.Sender == "" {
		return nil, errors.New("graph: tenant_id, client_id, client_secret and sender are required")
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       []string{scope},
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	tokens := cc.TokenSource(ctx)

	return &Transport{
		sendURL: strings.TrimSuffix(graphURL, "/") + "/users/" + url.PathEscape(cfg.Sender) + "/sendMail",
		tokens:  tokens,
		client: &http.Client{
			Timeout:   base.Timeout,
			Transport: &oauth2.Transport{Source: tokens, Base: base.Transport},
		},
	}, nil
}

// Name returns the transport name.
func (t *Transport) Name() string {
	return name
}

// Send posts the message in MIME format. Graph reads the recipients,
// Bcc included, from the MIME headers and does not transmit the Bcc header.
func (t *Transport) Send(ctx context.Context, msg *message.Message) error {
	body := base64.StdEncoding.EncodeToString(msg.Bytes())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.sendURL, strings.NewReader(body))
	if err != nil {
		return apperr.Internal(origin, name, "failed to create request", err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := t.client.Do(req)
	if err != nil {
		return unavailable(err)
	}
	defer resp.Body.Close()

	// 202 Accepted is success for sendMail
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	return classify(resp.StatusCode, raw)
}

// Ping acquires an access token.
func (t *Transport) Ping(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		_, err := t.tokens.Token()
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return unavailable(err)
		}
		return nil
	case <-ctx.Done():
		return unavailable(ctx.Err())
	}
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// classify maps a failed sendMail response. Requests Graph refuses to accept
// are rejections; auth failures, throttling and server faults mean the relay
// is unavailable.
func classify(status int, raw []byte) error {
	code := http.StatusText(status)
	detail := strings.TrimSpace(string(raw))

	var resp errorResponse
	if err := json.Unmarshal(raw, &resp); err == nil && resp.Error.Message != "" {
		code = resp.Error.Code
		detail = resp.Error.Message
	}
	cause := fmt.Errorf("graph API error (HTTP %d): %s", status, detail)

	switch {
	case status == http.StatusUnauthorized, status == http.StatusTooManyRequests, status >= 500:
		return unavailable(cause).With("status", status)
	default:
		return apperr.FromProvider(apperr.KindTransportRejected, origin, name, "relay rejected message", cause).
			With("status", status).
			With("code", code)
	}
}

func unavailable(err error) *apperr.Error {
	return apperr.FromProvider(apperr.KindTransportUnavailable, origin, name, "relay unavailable", err)
}
