package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/shineum/mailform/internal/config"
	"github.com/shineum/mailform/internal/engine"
	"github.com/shineum/mailform/internal/loader"
	"github.com/shineum/mailform/internal/markup"
	"github.com/shineum/mailform/internal/metrics"
	"github.com/shineum/mailform/internal/render"
	"github.com/shineum/mailform/internal/server"
	"github.com/shineum/mailform/internal/transport"
	"github.com/shineum/mailform/internal/transport/graph"
	"github.com/shineum/mailform/internal/transport/ses"
	"github.com/shineum/mailform/internal/transport/smtp"
	"github.com/shineum/mailform/internal/transport/stdout"
)

// httpTimeout bounds template and include downloads.
const httpTimeout = 30 * time.Second

type app struct {
	server     *server.Server
	loaderKind loader.Kind
	close      func()
}

func build(ctx context.Context, cfg *config.Config) (*app, error) {
	client := &http.Client{Timeout: httpTimeout}

	tl := newLoader(cfg.Loader, client)
	chain := newIncludeChain(cfg.Parser, client)
	renderer := render.New(render.Options{
		DisableComments:  cfg.Render.DisableComments,
		SocialIconOrigin: cfg.Render.SocialIconOrigin,
		Fonts:            cfg.Render.Fonts,
	})

	tr, closeTransport, err := newTransport(ctx, cfg)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	eng := engine.New(tl, markup.NewParser(chain), renderer, m)
	srv := server.New(server.Config{
		Addr:            cfg.Addr(),
		MaxBodySize:     cfg.Server.MaxBodySize,
		RequestIDHeader: cfg.Tracing.Header,
	}, eng, tr, m)

	return &app{server: srv, loaderKind: tl.Kind(), close: closeTransport}, nil
}

func newLoader(cfg config.LoaderConfig, client *http.Client) loader.Loader {
	var l loader.Loader
	if cfg.Type == config.LoaderLocal || cfg.Type == config.LoaderCombined {
		l.Local = loader.NewLocal(cfg.Local.Path)
	}
	if cfg.Type == config.LoaderHTTP || cfg.Type == config.LoaderCombined {
		l.HTTP = loader.NewHTTP(loader.HTTPConfig{
			BaseURL:     cfg.HTTP.BaseURL,
			QueryParams: cfg.HTTP.QueryParams,
			Headers:     cfg.HTTP.Headers,
		}, client)
	}
	return l
}

// newIncludeChain turns the configured rules into an include chain. Rule
// order is preserved; Validate has already rejected unknown types.
func newIncludeChain(cfg config.ParserConfig, client *http.Client) *markup.IncludeChain {
	rules := make([]markup.Rule, 0, len(cfg.IncludeLoader))
	for _, rc := range cfg.IncludeLoader {
		var rule markup.Rule

		switch rc.Filter.Type {
		case config.FilterStartsWith:
			rule.Filter = markup.StartsWith{Prefix: rc.Filter.Prefix}
		default:
			rule.Filter = markup.Any{}
		}

		switch rc.Loader.Type {
		case config.IncludeLocal:
			rule.Loader = markup.Local{Root: rc.Loader.Path}
		case config.IncludeMemory:
			rule.Loader = markup.Memory(rc.Loader.Templates)
		case config.IncludeHTTP:
			rule.Loader = markup.HTTPLoader{
				BaseURL: rc.Loader.BaseURL,
				Headers: rc.Loader.Headers,
				Client:  client,
			}
		default:
			rule.Loader = markup.Noop{}
		}

		rules = append(rules, rule)
	}
	return markup.NewIncludeChain(rules...)
}

func newTransport(ctx context.Context, cfg *config.Config) (transport.Transport, func(), error) {
	noop := func() {}

	switch cfg.Transport.Type {
	case config.TransportSMTP:
		t, err := smtp.New(smtp.Config{
			Hostname:          cfg.SMTP.Hostname,
			Port:              cfg.SMTP.Port,
			Username:          cfg.SMTP.Username,
			Password:          cfg.SMTP.Password,
			MaxPoolSize:       cfg.SMTP.MaxPoolSize,
			TLSEnabled:        cfg.SMTP.TLSEnabled,
			Timeout:           cfg.SMTP.Timeout,
			AcceptInvalidCert: cfg.SMTP.AcceptInvalidCert,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create smtp transport: %w", err)
		}
		slog.Info("using smtp transport",
			"hostname", cfg.SMTP.Hostname,
			"port", cfg.SMTP.Port,
			"tls", cfg.SMTP.TLSEnabled,
			"max_pool_size", cfg.SMTP.MaxPoolSize,
		)
		return t, t.Close, nil

	case config.TransportSES:
		t, err := ses.New(ctx, ses.Config{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create ses transport: %w", err)
		}
		slog.Info("using AWS SES transport", "region", cfg.SES.Region)
		return t, noop, nil

	case config.TransportGraph:
		t, err := graph.New(graph.Config{
			TenantID:     cfg.Graph.TenantID,
			ClientID:     cfg.Graph.ClientID,
			ClientSecret: cfg.Graph.ClientSecret,
			Sender:       cfg.Graph.Sender,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create graph transport: %w", err)
		}
		slog.Info("using Microsoft Graph transport", "sender", cfg.Graph.Sender)
		return t, noop, nil

	case config.TransportStdout:
		slog.Info("using stdout transport")
		return stdout.New(), noop, nil

	default:
		return nil, nil, fmt.Errorf("unknown transport type %q", cfg.Transport.Type)
	}
}
