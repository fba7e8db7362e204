// Package config loads the service configuration from an optional YAML file
// overlaid with environment variables.
//
// Environment variables address nested keys with "__" as the separator, so
// SMTP__HOSTNAME sets smtp.hostname and LOADER__HTTP__HEADERS__AUTHORIZATION
// sets loader.http.headers.authorization. Only variables whose first segment
// names a top-level section are considered.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"
)

// defaultMaxBodySize is 25 MB in bytes.
const defaultMaxBodySize = 26214400

// Transport types.
const (
	TransportSMTP   = "smtp"
	TransportSES    = "ses"
	TransportStdout = "stdout"
	TransportGraph  = "graph"
)

// Template loader types.
const (
	LoaderLocal    = "local"
	LoaderHTTP     = "http"
	LoaderCombined = "combined"
)

// Include filter and include loader types.
const (
	FilterStartsWith = "starts_with"
	FilterAny        = "any"

	IncludeLocal  = "local"
	IncludeMemory = "memory"
	IncludeHTTP   = "http"
)

// Config holds the complete application configuration.
type Config struct {
	Host      string          `mapstructure:"host"`
	Port      int             `mapstructure:"port"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Transport TransportConfig `mapstructure:"transport"`
	SMTP      SMTPConfig      `mapstructure:"smtp"`
	SES       SESConfig       `mapstructure:"ses"`
	Graph     GraphConfig     `mapstructure:"graph"`
	Loader    LoaderConfig    `mapstructure:"loader"`
	Render    RenderConfig    `mapstructure:"render"`
	Parser    ParserConfig    `mapstructure:"parser"`
}

// ServerConfig holds HTTP server limits.
type ServerConfig struct {
	MaxBodySize int64 `mapstructure:"max_body_size"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// TracingConfig names the header carrying the request ID.
type TracingConfig struct {
	Header string `mapstructure:"header"`
}

// TransportConfig selects the outbound relay.
type TransportConfig struct {
	Type string `mapstructure:"type"`
}

// SMTPConfig holds the relay connection settings.
type SMTPConfig struct {
	Hostname          string        `mapstructure:"hostname"`
	Port              int           `mapstructure:"port"`
	Username          string        `mapstructure:"username"`
	Password          string        `mapstructure:"password"`
	MaxPoolSize       int32         `mapstructure:"max_pool_size"`
	TLSEnabled        bool          `mapstructure:"tls_enabled"`
	Timeout           time.Duration `mapstructure:"timeout"`
	AcceptInvalidCert bool          `mapstructure:"accept_invalid_cert"`
}

// SESConfig holds AWS SES settings. Empty keys fall back to the default
// AWS credential chain.
type SESConfig struct {
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// GraphConfig holds the Azure AD application credentials and the mailbox
// Microsoft Graph sends from.
type GraphConfig struct {
	TenantID     string `mapstructure:"tenant_id"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	Sender       string `mapstructure:"sender"`
}

// LoaderConfig selects where templates come from.
type LoaderConfig struct {
	Type  string            `mapstructure:"type"`
	Local LocalLoaderConfig `mapstructure:"local"`
	HTTP  HTTPLoaderConfig  `mapstructure:"http"`
}

type LocalLoaderConfig struct {
	Path string `mapstructure:"path"`
}

type HTTPLoaderConfig struct {
	BaseURL     string            `mapstructure:"base_url"`
	QueryParams map[string]string `mapstructure:"query_params"`
	Headers     map[string]string `mapstructure:"headers"`
}

// RenderConfig holds MJML compiler options.
type RenderConfig struct {
	DisableComments  bool              `mapstructure:"disable_comments"`
	SocialIconOrigin string            `mapstructure:"social_icon_origin"`
	Fonts            map[string]string `mapstructure:"fonts"`
}

// ParserConfig holds the ordered include loader rules.
type ParserConfig struct {
	IncludeLoader []IncludeRuleConfig `mapstructure:"include_loader"`
}

type IncludeRuleConfig struct {
	Filter IncludeFilterConfig `mapstructure:"filter"`
	Loader IncludeLoaderConfig `mapstructure:"loader"`
}

type IncludeFilterConfig struct {
	Type   string `mapstructure:"type"`
	Prefix string `mapstructure:"prefix"`
}

type IncludeLoaderConfig struct {
	Type      string            `mapstructure:"type"`
	Path      string            `mapstructure:"path"`
	Templates map[string]string `mapstructure:"templates"`
	BaseURL   string            `mapstructure:"base_url"`
	Headers   map[string]string `mapstructure:"headers"`
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Load builds the configuration from defaults, the YAML file at path (when
// path is not empty) and the process environment, in that order.
func Load(path string) (*Config, error) {
	return load(path, os.Environ())
}

func load(path string, environ []string) (*Config, error) {
	raw := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		var file map[string]any
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		merge(raw, file)
	}

	merge(raw, fromEnv(environ))

	cfg := &Config{}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       durationHook,
		WeaklyTypedInput: true,
		Result:           cfg,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

func defaults() map[string]any {
	return map[string]any{
		"host": "0.0.0.0",
		"port": 3000,
		"server": map[string]any{
			"max_body_size": defaultMaxBodySize,
		},
		"logging": map[string]any{"level": "info"},
		"tracing": map[string]any{"header": "X-Request-Id"},
		"transport": map[string]any{"type": TransportSMTP},
		"smtp": map[string]any{
			"hostname":      "localhost",
			"port":          25,
			"max_pool_size": 10,
			"timeout":       "5s",
		},
		"loader": map[string]any{
			"type":  LoaderLocal,
			"local": map[string]any{"path": "templates"},
		},
	}
}

// sections are the top-level keys an environment variable may address.
var sections = map[string]bool{
	"host": true, "port": true, "server": true, "logging": true, "tracing": true,
	"transport": true, "smtp": true, "ses": true, "graph": true, "loader": true, "render": true,
	"parser": true,
}

// fromEnv turns SECTION__KEY=value variables into a nested map. Keys are
// lowercased; values stay strings and are converted while decoding.
func fromEnv(environ []string) map[string]any {
	out := make(map[string]any)
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		segments := strings.Split(strings.ToLower(key), "__")
		if !sections[segments[0]] || slices.Contains(segments, "") {
			continue
		}
		// A bare SMTP=... cannot replace a whole section.
		if len(segments) == 1 && segments[0] != "host" && segments[0] != "port" {
			continue
		}
		set(out, segments, value)
	}
	return out
}

func set(m map[string]any, path []string, value any) {
	for _, key := range path[:len(path)-1] {
		next, ok := m[key].(map[string]any)
		if !ok {
			next = make(map[string]any)
			m[key] = next
		}
		m = next
	}
	m[path[len(path)-1]] = value
}

// merge copies src into dst, descending into maps present on both sides.
func merge(dst, src map[string]any) {
	for k, v := range src {
		if sv, ok := v.(map[string]any); ok {
			if dv, ok := dst[k].(map[string]any); ok {
				merge(dv, sv)
				continue
			}
		}
		dst[k] = v
	}
}

// durationHook accepts Go duration strings ("5s") and plain numbers, which
// are read as seconds.
func durationHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(time.Duration(0)) {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(secs * float64(time.Second)), nil
		}
		return time.ParseDuration(v)
	case int:
		return time.Duration(v) * time.Second, nil
	case int64:
		return time.Duration(v) * time.Second, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	}
	return data, nil
}

// Validate rejects unknown types and missing required keys.
func (c *Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port: %d out of range", c.Port))
	}
	if c.Server.MaxBodySize <= 0 {
		errs = append(errs, errors.New("server.max_body_size: must be positive"))
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	if c.Tracing.Header == "" {
		errs = append(errs, errors.New("tracing.header: required"))
	}

	switch c.Transport.Type {
	case TransportSMTP:
		if c.SMTP.Hostname == "" {
			errs = append(errs, errors.New("smtp.hostname: required"))
		}
		if c.SMTP.Port <= 0 || c.SMTP.Port > 65535 {
			errs = append(errs, fmt.Errorf("smtp.port: %d out of range", c.SMTP.Port))
		}
		if c.SMTP.MaxPoolSize <= 0 {
			errs = append(errs, errors.New("smtp.max_pool_size: must be positive"))
		}
	case TransportSES:
		if c.SES.Region == "" {
			errs = append(errs, errors.New("ses.region: required"))
		}
		if (c.SES.AccessKeyID == "") != (c.SES.SecretAccessKey == "") {
			errs = append(errs, errors.New("ses: access_key_id and secret_access_key must be set together"))
		}
	case TransportGraph:
		for _, f := range []struct{ key, value string }{
			{"tenant_id", c.Graph.TenantID},
			{"client_id", c.Graph.ClientID},
			{"client_secret", c.Graph.ClientSecret},
			{"sender", c.Graph.Sender},
		} {
			if f.value == "" {
				errs = append(errs, fmt.Errorf("graph.%s: required", f.key))
			}
		}
	case TransportStdout:
	default:
		errs = append(errs, fmt.Errorf("transport.type: unknown transport %q", c.Transport.Type))
	}

	switch c.Loader.Type {
	case LoaderLocal:
		errs = append(errs, c.Loader.validateLocal())
	case LoaderHTTP:
		errs = append(errs, c.Loader.validateHTTP())
	case LoaderCombined:
		errs = append(errs, c.Loader.validateLocal(), c.Loader.validateHTTP())
	default:
		errs = append(errs, fmt.Errorf("loader.type: unknown loader %q", c.Loader.Type))
	}

	if c.Render.SocialIconOrigin != "" {
		errs = append(errs, validateURL("render.social_icon_origin", c.Render.SocialIconOrigin))
	}

	for i, rule := range c.Parser.IncludeLoader {
		prefix := fmt.Sprintf("parser.include_loader[%d]", i)
		switch rule.Filter.Type {
		case FilterStartsWith:
			if rule.Filter.Prefix == "" {
				errs = append(errs, fmt.Errorf("%s.filter.prefix: required", prefix))
			}
		case FilterAny:
		default:
			errs = append(errs, fmt.Errorf("%s.filter.type: unknown filter %q", prefix, rule.Filter.Type))
		}
		switch rule.Loader.Type {
		case IncludeLocal:
			if rule.Loader.Path == "" {
				errs = append(errs, fmt.Errorf("%s.loader.path: required", prefix))
			}
		case IncludeMemory:
		case IncludeHTTP:
			errs = append(errs, validateURL(prefix+".loader.base_url", rule.Loader.BaseURL))
		default:
			errs = append(errs, fmt.Errorf("%s.loader.type: unknown loader %q", prefix, rule.Loader.Type))
		}
	}

	return errors.Join(errs...)
}

func (l LoaderConfig) validateLocal() error {
	if l.Local.Path == "" {
		return errors.New("loader.local.path: required")
	}
	return nil
}

func (l LoaderConfig) validateHTTP() error {
	return validateURL("loader.http.base_url", l.HTTP.BaseURL)
}

func validateURL(key, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s: required", key)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("%s: %q is not an absolute http(s) URL", key, raw)
	}
	return nil
}
