package mcpgateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-tool-gateway/pkg/mcpmgr"
	"github.com/vikashloomba/mcp-tool-gateway/pkg/stdio"
)

// Gateway exposes the merged catalog of every backend managed by mcpmgr as a
// single MCP server, reachable over the process's own stdio or a stateless
// HTTP endpoint.
type Gateway struct {
	manager *mcpmgr.Manager
	opts    Options

	features *featureIndex
	filter   *CapabilityFilter

	server        *mcp.Server
	streamHandler *mcp.StreamableHTTPHandler
	mux           *http.ServeMux
	httpHandler   http.Handler

	serverMu     sync.Mutex
	httpServerMu sync.Mutex
	httpServer   *http.Server
}

// NewGateway builds a Gateway and registers the statically permitted tools
// of the manager's current catalog. The manager should already be
// initialized.
func NewGateway(mgr *mcpmgr.Manager, opts *Options) (*Gateway, error) {
	if mgr == nil {
		return nil, fmt.Errorf("mcpgateway: manager is required")
	}
	options := opts.withDefaults()
	g := &Gateway{
		manager:  mgr,
		opts:     options,
		features: newFeatureIndex(),
	}
	g.filter = newCapabilityFilter(options.Toolsets, options.ReadOnly, g.features.Tools, options.Logger)

	g.server = mcp.NewServer(options.Implementation, &mcp.ServerOptions{
		Instructions: joinInstructions(options.Instructions, mgr.Instructions()),
		HasTools:     true,
	})
	g.streamHandler = mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return g.server
	}, &mcp.StreamableHTTPOptions{
		Stateless:    true,
		JSONResponse: true,
	})
	g.httpHandler = g.buildHandler()

	g.Sync()
	return g, nil
}

// Server returns the underlying MCP server.
func (g *Gateway) Server() *mcp.Server {
	return g.server
}

// Filter returns the capability filter applied to HTTP requests.
func (g *Gateway) Filter() *CapabilityFilter {
	return g.filter
}

// Tools returns the gateway names of every registered tool.
func (g *Gateway) Tools() []string {
	targets := g.features.Tools()
	names := make([]string, 0, len(targets))
	for _, target := range targets {
		names = append(names, target.GatewayName)
	}
	return names
}

// Sync reconciles the registered tools with the manager's merged catalog.
// Tools of backends that are no longer connected are unregistered.
func (g *Gateway) Sync() {
	byBackend := make(map[string][]mcpmgr.ToolMapping)
	for _, mapping := range g.manager.MergedCatalog() {
		byBackend[mapping.ServerID] = append(byBackend[mapping.ServerID], mapping)
	}

	g.serverMu.Lock()
	defer g.serverMu.Unlock()
	total := 0
	for _, backend := range g.manager.ListBackends() {
		removed, added := g.features.UpdateTools(backend, byBackend[backend], g.admit)
		if len(removed) > 0 {
			g.server.RemoveTools(removed...)
		}
		for _, reg := range added {
			g.server.AddTool(reg.Tool, g.makeToolHandler(reg.Target))
		}
		total += len(added)
	}
	g.opts.Logger.Info("gateway tools registered",
		"tools", total,
		"toolsets", g.opts.Toolsets.String(),
		"read_only", g.opts.ReadOnly)
}

// admit applies the static filter: the tool's category must be enabled and,
// in read-only mode, the tool must be annotated read-only.
func (g *Gateway) admit(target toolTarget) bool {
	if !g.opts.Toolsets.Allows(target.Category) {
		return false
	}
	return !g.opts.ReadOnly || target.ReadOnly()
}

func (g *Gateway) makeToolHandler(target toolTarget) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := any(map[string]any{})
		if req != nil && req.Params != nil && len(req.Params.Arguments) > 0 {
			args = req.Params.Arguments
		}
		attrs := []any{"tool", target.GatewayName, "backend", target.ServerID}
		if rc, ok := RequestContextFrom(ctx); ok && rc.Organization != "" {
			attrs = append(attrs, "organization", rc.Organization)
		}
		g.opts.Logger.Debug("proxying tool call", attrs...)
		res, err := g.manager.ExecuteTool(ctx, target.ServerID, target.NativeName, args)
		if err != nil {
			g.logError("proxied tool call", err, attrs...)
			return &mcp.CallToolResult{
				IsError: true,
				Content: []mcp.Content{&mcp.TextContent{
					Text: fmt.Sprintf("Failed to execute proxied tool '%s' on server '%s': %v", target.NativeName, target.ServerID, err),
				}},
			}, nil
		}
		return res, nil
	}
}

// Handler exposes the HTTP handler that serves the stateless endpoint.
func (g *Gateway) Handler() http.Handler {
	return g.httpHandler
}

func (g *Gateway) buildHandler() http.Handler {
	guard := newOriginGuard(OriginPolicy{Host: g.opts.Host}, g.opts.Headers, g.opts.Logger)
	return withRequestID(guard.Wrap(g.filter.Wrap(g.mountHandler(), g.opts.Headers)))
}

func (g *Gateway) mountHandler() http.Handler {
	path := g.opts.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	g.mux = http.NewServeMux()
	g.mux.Handle(path, g.streamHandler)
	if !strings.HasSuffix(path, "/") {
		g.mux.Handle(path+"/", g.streamHandler)
	}
	return g.mux
}

// ServeMux exposes the mux the MCP endpoint is mounted on so callers can add
// routes such as health checks. Added routes sit behind the same origin guard.
func (g *Gateway) ServeMux() *http.ServeMux {
	return g.mux
}

// ServeStdio serves one MCP session over the configured stdio streams until
// the client closes its input or ctx is cancelled. Cancellation closes the
// session gracefully within StdioCloseTimeout.
func (g *Gateway) ServeStdio(ctx context.Context) error {
	transport := &stdio.ServerTransport{
		In:           g.opts.Stdin,
		Out:          g.opts.Stdout,
		OnShutdown:   g.opts.OnStdinClosed,
		CloseTimeout: g.opts.StdioCloseTimeout,
		Logger:       g.opts.Logger,
	}
	session, err := g.server.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("mcpgateway: connect stdio session: %w", err)
	}
	g.opts.Logger.Info("serving MCP over stdio")

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	select {
	case err := <-done:
		if err == nil || errors.Is(err, io.EOF) {
			return nil
		}
		return err
	case <-ctx.Done():
		if err := transport.CloseGracefully(session.Close); err != nil && !errors.Is(err, io.EOF) {
			g.logError("close stdio session", err)
		}
		return ctx.Err()
	}
}

// ListenAndServe runs an HTTP (or HTTPS, when TLS is configured) server until
// the provided context is cancelled or the server stops.
func (g *Gateway) ListenAndServe(ctx context.Context) error {
	tlsConfig, err := g.opts.TLS.Build()
	if err != nil {
		return err
	}
	if (OriginPolicy{Host: g.opts.Host}).Wildcard() {
		g.opts.Logger.Warn("gateway bound to all interfaces; every origin is accepted", "host", g.opts.Host)
	}

	g.httpServerMu.Lock()
	if g.httpServer != nil {
		serv := g.httpServer
		g.httpServerMu.Unlock()
		return fmt.Errorf("mcpgateway: server already running on %s", serv.Addr)
	}
	srv := &http.Server{
		Addr:              g.opts.Addr(),
		Handler:           g.Handler(),
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: g.opts.ReadHeaderTimeout,
	}
	g.httpServer = srv
	g.httpServerMu.Unlock()
	defer func() {
		g.httpServerMu.Lock()
		if g.httpServer == srv {
			g.httpServer = nil
		}
		g.httpServerMu.Unlock()
	}()

	errCh := make(chan error, 1)
	go func() {
		if tlsConfig != nil {
			errCh <- srv.ListenAndServeTLS("", "")
			return
		}
		errCh <- srv.ListenAndServe()
	}()
	g.opts.Logger.Info("serving MCP over HTTP", "addr", srv.Addr, "path", g.opts.Path, "tls", tlsConfig != nil)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), g.opts.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown stops the embedded HTTP server if it is running.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.httpServerMu.Lock()
	srv := g.httpServer
	g.httpServer = nil
	g.httpServerMu.Unlock()
	if srv == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return srv.Shutdown(ctx)
}

func (g *Gateway) logError(msg string, err error, args ...any) {
	if err == nil {
		return
	}
	attrs := append([]any{"error", err}, args...)
	g.opts.Logger.Error(msg, attrs...)
}

func joinInstructions(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}
