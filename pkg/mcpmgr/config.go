package mcpmgr

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// RPCDirection represents the direction of an observed JSON-RPC message.
type RPCDirection string

const (
	RPCDirectionSend    RPCDirection = "send"
	RPCDirectionReceive RPCDirection = "receive"
)

// RPCLogEvent encapsulates JSON-RPC traffic for custom logging.
type RPCLogEvent struct {
	Direction RPCDirection
	Message   []byte
	ServerID  string
}

// RPCLogger is invoked for each JSON-RPC message when logging is enabled.
type RPCLogger func(RPCLogEvent)

// SlogRPCLogger returns an RPCLogger that writes each message to logger at
// debug level.
func SlogRPCLogger(logger *slog.Logger) RPCLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return func(event RPCLogEvent) {
		if !logger.Enabled(context.Background(), slog.LevelDebug) {
			return
		}
		logger.Debug("jsonrpc "+strings.ToLower(string(event.Direction)),
			"backend", event.ServerID,
			"message", string(event.Message),
		)
	}
}

// StderrHandler receives each line a backend writes to stderr.
type StderrHandler func(backend, line string)

// ManagerOptions configures a Manager instance.
type ManagerOptions struct {
	// ClientName is advertised to backends during initialization. Defaults to
	// "mcp-tool-gateway".
	ClientName string
	// ClientVersion is the semantic version reported to backends.
	ClientVersion string
	// DefaultTimeout bounds connection initialization when a descriptor does
	// not set its own timeout.
	DefaultTimeout time.Duration
	// Mode selects which descriptors are eligible: only those supporting it
	// are connected. Defaults to TransportStdio.
	Mode TransportMode
	// Namespace builds catalog names. Defaults to ServerPrefixNamespace.
	Namespace NamespaceStrategy
	// Logger receives structured diagnostics.
	Logger *slog.Logger
	// RPCLogger, when set, observes all JSON-RPC traffic with every backend.
	RPCLogger RPCLogger
	// StderrHandler overrides the default of logging backend stderr lines.
	StderrHandler StderrHandler
	// GracePeriod and TerminateTimeout tune backend process shutdown. Zero
	// values use the stdio package defaults.
	GracePeriod      time.Duration
	TerminateTimeout time.Duration
}

func (o *ManagerOptions) normalized() ManagerOptions {
	if o == nil {
		o = &ManagerOptions{}
	}
	opts := *o
	if opts.ClientName == "" {
		opts.ClientName = "mcp-tool-gateway"
	}
	if opts.ClientVersion == "" {
		opts.ClientVersion = "1.0.0"
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 30 * time.Second
	}
	if opts.Mode == "" {
		opts.Mode = TransportStdio
	}
	if opts.Namespace == nil {
		opts.Namespace = ServerPrefixNamespace{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}
