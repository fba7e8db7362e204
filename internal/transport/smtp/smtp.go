// Package smtp delivers messages to an SMTP relay over a pool of
// authenticated connections.
package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"github.com/jackc/puddle/v2"

	"github.com/shineum/mailform/internal/apperr"
	"github.com/shineum/mailform/internal/message"
	relaytls "github.com/shineum/mailform/internal/tls"
)

const (
	origin = "transport"
	name   = "smtp"

	DefaultPort        = 25
	DefaultTimeout     = 5 * time.Second
	DefaultMaxPoolSize = 10
)

// Config describes the relay and how to connect to it.
type Config struct {
	Hostname          string
	Port              int
	Username          string
	Password          string
	MaxPoolSize       int32
	TLSEnabled        bool
	Timeout           time.Duration
	AcceptInvalidCert bool

	// LocalName is announced in EHLO. Defaults to localhost.
	LocalName string
}

// Transport is safe for concurrent use. Each Send holds one pooled
// connection for the duration of the transaction.
type Transport struct {
	cfg       Config
	addr      string
	tlsConfig *tls.Config
	pool      *puddle.Pool[*gosmtp.Client]
}

// New validates cfg and creates the pool. No connection is opened until the
// first Send or Ping.
func New(cfg Config) (*Transport, error) {
	if cfg.Hostname == "" {
		return nil, errors.New("smtp: hostname is required")
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxPoolSize <= 0 {
		cfg.MaxPoolSize = DefaultMaxPoolSize
	}
	if cfg.LocalName == "" {
		cfg.LocalName = "localhost"
	}

	t := &Transport{
		cfg:  cfg,
		addr: net.JoinHostPort(cfg.Hostname, strconv.Itoa(cfg.Port)),
	}
	if cfg.TLSEnabled {
		t.tlsConfig = relaytls.ClientConfig(cfg.Hostname, cfg.AcceptInvalidCert)
	}

	pool, err := puddle.NewPool(&puddle.Config[*gosmtp.Client]{
		Constructor: t.connect,
		Destructor:  disconnect,
		MaxSize:     cfg.MaxPoolSize,
	})
	if err != nil {
		return nil, fmt.Errorf("smtp: create pool: %w", err)
	}
	t.pool = pool
	return t, nil
}

// Name returns the transport name.
func (t *Transport) Name() string {
	return name
}

// Close quits every idle connection and waits for acquired ones to be
// returned.
func (t *Transport) Close() {
	t.pool.Close()
}

// Send runs one MAIL/RCPT/DATA transaction. The Bcc header is dropped from
// the transmitted copy; Bcc recipients only appear in the envelope.
func (t *Transport) Send(ctx context.Context, msg *message.Message) error {
	res, err := t.acquire(ctx)
	if err != nil {
		return err
	}
	c := res.Value()

	if err := transaction(c, msg); err != nil {
		var smtpErr *gosmtp.SMTPError
		if errors.As(err, &smtpErr) {
			// The relay answered, so the connection is still usable once the
			// transaction is aborted.
			if resetErr := c.Reset(); resetErr != nil {
				res.Destroy()
			} else {
				res.Release()
			}
			slog.Warn("relay rejected message",
				"code", smtpErr.Code,
				"enhanced_code", fmt.Sprint(smtpErr.EnhancedCode),
				"message", smtpErr.Message,
			)
			return apperr.FromProvider(apperr.KindTransportRejected, origin, name, "relay rejected message", err).
				With("code", smtpErr.Code)
		}
		res.Destroy()
		return unavailable(err)
	}

	res.Release()
	slog.Debug("message relayed", "recipients", len(msg.Recipients()), "addr", t.addr)
	return nil
}

// Ping checks out a connection and sends NOOP on it.
func (t *Transport) Ping(ctx context.Context) error {
	res, err := t.acquire(ctx)
	if err != nil {
		return err
	}
	res.Release()
	return nil
}

// acquire returns a connection that answered NOOP. When an idle connection
// turns out to be dropped by the relay, every other idle connection is
// discarded with it and a fresh one is dialed.
func (t *Transport) acquire(ctx context.Context) (*puddle.Resource[*gosmtp.Client], error) {
	for attempt := 0; ; attempt++ {
		res, err := t.pool.Acquire(ctx)
		if err != nil {
			return nil, unavailable(err)
		}
		err = res.Value().Noop()
		if err == nil {
			return res, nil
		}
		res.Destroy()
		if attempt > 0 {
			return nil, unavailable(err)
		}
		slog.Debug("discarding stale relay connections", "error", err)
		for _, idle := range t.pool.AcquireAllIdle() {
			idle.Destroy()
		}
	}
}

func (t *Transport) connect(ctx context.Context) (*gosmtp.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := gosmtp.NewClient(conn, t.cfg.Hostname)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	c.CommandTimeout = t.cfg.Timeout
	c.SubmissionTimeout = t.cfg.Timeout

	if err := t.handshake(c); err != nil {
		_ = c.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return c, nil
}

func (t *Transport) handshake(c *gosmtp.Client) error {
	if err := c.Hello(t.cfg.LocalName); err != nil {
		return err
	}
	if t.tlsConfig != nil {
		if ok, _ := c.Extension("STARTTLS"); !ok {
			return errors.New("relay does not support STARTTLS")
		}
		if err := c.StartTLS(t.tlsConfig); err != nil {
			return err
		}
	}
	if t.cfg.Username != "" {
		if err := c.Auth(sasl.NewPlainClient("", t.cfg.Username, t.cfg.Password)); err != nil {
			return err
		}
	}
	return nil
}

func disconnect(c *gosmtp.Client) {
	if err := c.Quit(); err != nil {
		_ = c.Close()
	}
}

func transaction(c *gosmtp.Client, msg *message.Message) error {
	if err := c.Mail(msg.From, nil); err != nil {
		return err
	}
	for _, rcpt := range msg.Recipients() {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg.WireBytes()); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func unavailable(err error) error {
	return apperr.FromProvider(apperr.KindTransportUnavailable, origin, name, "relay unavailable", err)
}
