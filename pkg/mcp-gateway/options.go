package mcpgateway

import (
	"io"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Options configure a Gateway instance.
type Options struct {
	// Implementation identifies the gateway's MCP server implementation metadata.
	Implementation *mcp.Implementation
	// Host and Port form the listen address used by ListenAndServe. Defaults
	// to 127.0.0.1:8080. Host also selects the origin policy.
	Host string
	Port int
	// Path mounts the stateless HTTP handler under a specific path. Defaults
	// to "/mcp".
	Path string
	// Instructions is prepended to the backends' instructions.
	Instructions string
	// Toolsets is the static category allow-list. The zero value enables all.
	Toolsets CategorySet
	// ReadOnly exposes only tools annotated read-only.
	ReadOnly bool
	// Headers names the request headers a RequestContext is built from.
	Headers HeaderNames
	TLS     TLSConfig
	// Logger receives structured diagnostics.
	Logger *slog.Logger

	// ShutdownTimeout bounds the HTTP server shutdown after the serving
	// context is cancelled.
	ShutdownTimeout   time.Duration
	ReadHeaderTimeout time.Duration

	// Stdin and Stdout replace the process streams in ServeStdio.
	Stdin  io.Reader
	Stdout io.Writer
	// StdioCloseTimeout bounds the graceful close of the stdio session.
	StdioCloseTimeout time.Duration
	// OnStdinClosed runs once when the stdio client closes its input.
	OnStdinClosed func()
}

func (o *Options) withDefaults() Options {
	if o == nil {
		o = &Options{}
	}
	opts := *o
	if opts.Implementation == nil {
		opts.Implementation = &mcp.Implementation{
			Name:    "mcp-tool-gateway",
			Title:   "MCP Tool Gateway",
			Version: "1.0.0",
		}
	} else {
		impl := *opts.Implementation
		opts.Implementation = &impl
	}
	if opts.Host == "" {
		opts.Host = "127.0.0.1"
	}
	if opts.Port == 0 {
		opts.Port = 8080
	}
	if opts.Path == "" {
		opts.Path = "/mcp"
	}
	opts.Headers = opts.Headers.withDefaults()
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	if opts.ReadHeaderTimeout <= 0 {
		opts.ReadHeaderTimeout = 10 * time.Second
	}
	return opts
}

// Addr returns the host:port listen address.
func (o Options) Addr() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}
