// Package settings resolves the gateway's launch settings from the
// environment, an optional .env file and command-line overrides.
package settings

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	mcpgateway "github.com/vikashloomba/mcp-tool-gateway/pkg/mcp-gateway"
	"github.com/vikashloomba/mcp-tool-gateway/pkg/mcpmgr"
)

// Environment variable names.
const (
	EnvTransport         = "GATEWAY_TRANSPORT"
	EnvHTTPHost          = "GATEWAY_HTTP_HOST"
	EnvHTTPPort          = "GATEWAY_HTTP_PORT"
	EnvHTTPPath          = "GATEWAY_HTTP_PATH"
	EnvToolsets          = "GATEWAY_TOOLSETS"
	EnvReadOnly          = "GATEWAY_READ_ONLY"
	EnvBackendsConfig    = "GATEWAY_BACKENDS_CONFIG"
	EnvTLSCertFile       = "GATEWAY_TLS_CERT_FILE"
	EnvTLSKeyFile        = "GATEWAY_TLS_KEY_FILE"
	EnvTLSClientCAFile   = "GATEWAY_TLS_CLIENT_CA_FILE"
	EnvTokenHeader       = "GATEWAY_TOKEN_HEADER"
	EnvOrgHeader         = "GATEWAY_ORG_HEADER"
	EnvStdioCloseTimeout = "GATEWAY_STDIO_CLOSE_TIMEOUT"
	EnvLogLevel          = "GATEWAY_LOG_LEVEL"
	EnvLogFormat         = "GATEWAY_LOG_FORMAT"
)

// DefaultEnvFile is read when no explicit .env path is given. Its absence is
// not an error.
const DefaultEnvFile = ".env"

// Settings holds every launch setting of the gateway binary.
type Settings struct {
	Transport mcpmgr.TransportMode

	HTTPHost string
	HTTPPort int
	HTTPPath string

	// Toolsets is the comma-separated static category list. Blank enables
	// every category.
	Toolsets string
	ReadOnly bool

	BackendsConfig string

	TLSCertFile     string
	TLSKeyFile      string
	TLSClientCAFile string

	TokenHeader string
	OrgHeader   string

	StdioCloseTimeout time.Duration

	LogLevel  string
	LogFormat string
}

// Defaults returns the settings used when nothing is configured.
func Defaults() Settings {
	return Settings{
		Transport:         mcpmgr.TransportStdio,
		HTTPHost:          "127.0.0.1",
		HTTPPort:          8080,
		HTTPPath:          "/mcp",
		TokenHeader:       mcpgateway.DefaultTokenHeader,
		OrgHeader:         mcpgateway.DefaultOrganizationHeader,
		StdioCloseTimeout: 10 * time.Second,
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

// Load seeds the process environment from envFile (variables already set
// win) and then reads the settings from it. An empty envFile means
// DefaultEnvFile, which may be missing.
func Load(envFile string) (Settings, error) {
	optional := envFile == ""
	if optional {
		envFile = DefaultEnvFile
	}
	if err := godotenv.Load(envFile); err != nil {
		if !optional || !errors.Is(err, fs.ErrNotExist) {
			return Settings{}, fmt.Errorf("settings: load %s: %w", envFile, err)
		}
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup reads the settings through lookup, which has the signature of
// os.LookupEnv. Unset or blank variables keep their defaults.
func FromLookup(lookup func(string) (string, bool)) (Settings, error) {
	s := Defaults()
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvTransport); ok {
		mode, err := mcpmgr.ParseTransportMode(v)
		if err != nil {
			return Settings{}, fmt.Errorf("settings: %s: %w", EnvTransport, err)
		}
		s.Transport = mode
	}
	if v, ok := get(EnvHTTPHost); ok {
		s.HTTPHost = v
	}
	if v, ok := get(EnvHTTPPort); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Settings{}, fmt.Errorf("settings: %s: %w", EnvHTTPPort, err)
		}
		s.HTTPPort = port
	}
	if v, ok := get(EnvHTTPPath); ok {
		s.HTTPPath = v
	}
	if v, ok := get(EnvToolsets); ok {
		s.Toolsets = v
	}
	if v, ok := get(EnvReadOnly); ok {
		readOnly, err := strconv.ParseBool(v)
		if err != nil {
			return Settings{}, fmt.Errorf("settings: %s: %w", EnvReadOnly, err)
		}
		s.ReadOnly = readOnly
	}
	if v, ok := get(EnvBackendsConfig); ok {
		s.BackendsConfig = v
	}
	if v, ok := get(EnvTLSCertFile); ok {
		s.TLSCertFile = v
	}
	if v, ok := get(EnvTLSKeyFile); ok {
		s.TLSKeyFile = v
	}
	if v, ok := get(EnvTLSClientCAFile); ok {
		s.TLSClientCAFile = v
	}
	if v, ok := get(EnvTokenHeader); ok {
		s.TokenHeader = v
	}
	if v, ok := get(EnvOrgHeader); ok {
		s.OrgHeader = v
	}
	if v, ok := get(EnvStdioCloseTimeout); ok {
		var d mcpmgr.Duration
		if err := d.Set(v); err != nil {
			return Settings{}, fmt.Errorf("settings: %s: %w", EnvStdioCloseTimeout, err)
		}
		s.StdioCloseTimeout = d.Duration()
	}
	if v, ok := get(EnvLogLevel); ok {
		s.LogLevel = v
	}
	if v, ok := get(EnvLogFormat); ok {
		s.LogFormat = v
	}
	return s, s.Validate()
}

// Validate reports settings that cannot be served.
func (s Settings) Validate() error {
	var problems []string
	if !s.Transport.Valid() {
		problems = append(problems, fmt.Sprintf("invalid transport %q", s.Transport))
	}
	if s.HTTPPort < 0 || s.HTTPPort > 65535 {
		problems = append(problems, fmt.Sprintf("HTTP port %d out of range", s.HTTPPort))
	}
	if (s.TLSCertFile == "") != (s.TLSKeyFile == "") {
		problems = append(problems, "TLS needs both a certificate and a key file")
	}
	if s.TLSClientCAFile != "" && s.TLSCertFile == "" {
		problems = append(problems, "a TLS client CA needs a server certificate")
	}
	if s.StdioCloseTimeout < 0 {
		problems = append(problems, "stdio close timeout must not be negative")
	}
	if _, err := parseLevel(s.LogLevel); err != nil {
		problems = append(problems, err.Error())
	}
	if f := strings.ToLower(s.LogFormat); f != "" && f != "text" && f != "json" {
		problems = append(problems, fmt.Sprintf("unknown log format %q", s.LogFormat))
	}
	if len(problems) > 0 {
		return fmt.Errorf("settings: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ManagerOptions returns the backend manager options for these settings.
func (s Settings) ManagerOptions(logger *slog.Logger) *mcpmgr.ManagerOptions {
	return &mcpmgr.ManagerOptions{
		Mode:   s.Transport,
		Logger: logger,
	}
}

// GatewayOptions returns the gateway options for these settings.
func (s Settings) GatewayOptions(logger *slog.Logger) *mcpgateway.Options {
	return &mcpgateway.Options{
		Host:     s.HTTPHost,
		Port:     s.HTTPPort,
		Path:     s.HTTPPath,
		Toolsets: mcpgateway.ParseCategories(s.Toolsets),
		ReadOnly: s.ReadOnly,
		Headers: mcpgateway.HeaderNames{
			Token:        s.TokenHeader,
			Organization: s.OrgHeader,
		},
		TLS: mcpgateway.TLSConfig{
			CertFile:     s.TLSCertFile,
			KeyFile:      s.TLSKeyFile,
			ClientCAFile: s.TLSClientCAFile,
		},
		Logger:            logger,
		StdioCloseTimeout: s.StdioCloseTimeout,
	}
}

// NewLogger builds the process logger. It writes to w, which should be
// stderr: in stdio mode stdout carries the protocol.
func NewLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("settings: unknown log format %q", format)
	}
}

func parseLevel(level string) (slog.Level, error) {
	var lvl slog.Level
	if strings.TrimSpace(level) == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return 0, fmt.Errorf("settings: unknown log level %q", level)
	}
	return lvl, nil
}
