// Command mailform renders MJML email templates and delivers them through an
// SMTP relay, AWS SES, Microsoft Graph or stdout.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shineum/mailform/internal/config"
	"github.com/shineum/mailform/internal/openapi"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "mailform",
		Short:         "Render MJML templates and send them as email",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newOpenAPICmd())
	return root
}

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config-path", "", "path to YAML configuration file (optional)")
	return cmd
}

func newOpenAPICmd() *cobra.Command {
	var (
		pretty bool
		format string
	)

	cmd := &cobra.Command{
		Use:   "openapi",
		Short: "Print the OpenAPI document of the HTTP interface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return openapi.Write(cmd.OutOrStdout(), openapi.New(version), format, pretty)
		},
	}
	cmd.Flags().BoolVar(&pretty, "pretty", false, "indent JSON output")
	cmd.Flags().StringVar(&format, "format", openapi.FormatJSON, "output format (json|yaml)")
	return cmd
}

func serve(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return err
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		return err
	}

	setupLogger(cfg.Logging.Level)

	app, err := build(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize", "error", err)
		return err
	}
	defer app.close()

	slog.Info("starting mailform",
		"version", version,
		"addr", cfg.Addr(),
		"transport", cfg.Transport.Type,
		"loader", app.loaderKind,
	)

	if err := app.server.ListenAndServe(ctx); err != nil {
		slog.Error("server error", "error", err)
		return fmt.Errorf("serve: %w", err)
	}

	slog.Info("mailform stopped")
	return nil
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level.
func setupLogger(level string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
