package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vikashloomba/mcp-tool-gateway/internal/settings"
	mcpgateway "github.com/vikashloomba/mcp-tool-gateway/pkg/mcp-gateway"
	"github.com/vikashloomba/mcp-tool-gateway/pkg/mcpmgr"
)

var version = "dev"

const shutdownTimeout = 15 * time.Second

type flagValues struct {
	envFile           string
	config            string
	transport         string
	host              string
	port              int
	path              string
	toolsets          string
	readOnly          bool
	tlsCert           string
	tlsKey            string
	tlsClientCA       string
	tokenHeader       string
	orgHeader         string
	stdioCloseTimeout mcpmgr.Duration
	logLevel          string
	logFormat         string
}

func newRootCmd() *cobra.Command {
	return newCommand(&flagValues{})
}

func newCommand(flags *flagValues) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp-gateway",
		Short: "Serve the tools of several MCP backends as one MCP server",
		Long: `mcp-gateway launches every backend listed in the backend config file,
merges their tool catalogs under per-backend namespaces and serves the result
over its own stdio or a stateless HTTP endpoint.

Settings come from GATEWAY_* environment variables, optionally seeded from a
.env file. Flags override both.`,
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := resolveSettings(cmd, flags)
			if err != nil {
				return err
			}
			return run(cmd.Context(), s)
		},
	}
	f := cmd.Flags()
	f.StringVar(&flags.envFile, "env-file", "", "Env file seeding GATEWAY_* variables (default .env when present)")
	f.StringVarP(&flags.config, "config", "c", "", "Backend config file, JSON or YAML")
	f.StringVar(&flags.transport, "transport", "", "Transport to serve: stdio or http")
	f.StringVar(&flags.host, "host", "", "HTTP bind host")
	f.IntVar(&flags.port, "port", 0, "HTTP port")
	f.StringVar(&flags.path, "path", "", "HTTP endpoint path")
	f.StringVar(&flags.toolsets, "toolsets", "", "Comma-separated tool categories to expose (default all)")
	f.BoolVar(&flags.readOnly, "read-only", false, "Expose only tools annotated read-only")
	f.StringVar(&flags.tlsCert, "tls-cert", "", "TLS certificate file")
	f.StringVar(&flags.tlsKey, "tls-key", "", "TLS private key file")
	f.StringVar(&flags.tlsClientCA, "tls-client-ca", "", "CA file for verifying client certificates")
	f.StringVar(&flags.tokenHeader, "token-header", "", "Request header carrying the access token")
	f.StringVar(&flags.orgHeader, "org-header", "", "Request header carrying the organization")
	f.Var(&flags.stdioCloseTimeout, "stdio-close-timeout", "Bound on closing the stdio session at shutdown")
	f.StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	f.StringVar(&flags.logFormat, "log-format", "", "Log format: text or json")
	return cmd
}

// resolveSettings loads the environment settings and applies every flag the
// user set explicitly.
func resolveSettings(cmd *cobra.Command, flags *flagValues) (settings.Settings, error) {
	s, err := settings.Load(flags.envFile)
	if err != nil {
		return settings.Settings{}, err
	}
	changed := cmd.Flags().Changed
	if changed("transport") {
		mode, err := mcpmgr.ParseTransportMode(flags.transport)
		if err != nil {
			return settings.Settings{}, err
		}
		s.Transport = mode
	}
	setString := func(name string, dst *string, v string) {
		if changed(name) {
			*dst = v
		}
	}
	setString("config", &s.BackendsConfig, flags.config)
	setString("host", &s.HTTPHost, flags.host)
	setString("path", &s.HTTPPath, flags.path)
	setString("toolsets", &s.Toolsets, flags.toolsets)
	setString("tls-cert", &s.TLSCertFile, flags.tlsCert)
	setString("tls-key", &s.TLSKeyFile, flags.tlsKey)
	setString("tls-client-ca", &s.TLSClientCAFile, flags.tlsClientCA)
	setString("token-header", &s.TokenHeader, flags.tokenHeader)
	setString("org-header", &s.OrgHeader, flags.orgHeader)
	setString("log-level", &s.LogLevel, flags.logLevel)
	setString("log-format", &s.LogFormat, flags.logFormat)
	if changed("port") {
		s.HTTPPort = flags.port
	}
	if changed("read-only") {
		s.ReadOnly = flags.readOnly
	}
	if changed("stdio-close-timeout") {
		s.StdioCloseTimeout = flags.stdioCloseTimeout.Duration()
	}
	return s, s.Validate()
}

func run(ctx context.Context, s settings.Settings) error {
	logger, err := settings.NewLogger(os.Stderr, s.LogLevel, s.LogFormat)
	if err != nil {
		return err
	}

	var backends []*mcpmgr.BackendDescriptor
	if s.BackendsConfig == "" {
		logger.Warn("no backend config file set; serving an empty catalog", "env", settings.EnvBackendsConfig)
	} else if backends, err = mcpmgr.LoadBackends(s.BackendsConfig); err != nil {
		return err
	}

	managerOpts := s.ManagerOptions(logger)
	managerOpts.RPCLogger = mcpmgr.SlogRPCLogger(logger)
	manager, err := mcpmgr.NewManager(backends, managerOpts)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := manager.Shutdown(shutdownCtx); err != nil {
			logger.Error("backend shutdown", "error", err)
		}
	}()
	if err := manager.Initialize(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	gatewayOpts := s.GatewayOptions(logger)
	gatewayOpts.OnStdinClosed = cancel
	gateway, err := mcpgateway.NewGateway(manager, gatewayOpts)
	if err != nil {
		return err
	}

	switch s.Transport {
	case mcpmgr.TransportHTTP:
		gateway.ServeMux().HandleFunc("/healthz", healthHandler(manager))
		err = gateway.ListenAndServe(ctx)
	default:
		err = gateway.ServeStdio(ctx)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func healthHandler(manager *mcpmgr.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"connected": manager.ConnectedCount(),
			"total":     manager.TotalCount(),
			"backends":  manager.Summaries(),
		})
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "mcp-gateway:", err)
		stop()
		os.Exit(1)
	}
}
