package mcpmgr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-tool-gateway/pkg/stdio"
)

// ConnectionStatus represents the lifecycle of a backend connection.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusFailed       ConnectionStatus = "failed"
)

// exitStatusWait bounds how long a lost session waits for the process exit
// status before recording the failure.
const exitStatusWait = 500 * time.Millisecond

// BackendSummary is a status snapshot for one eligible backend.
type BackendSummary struct {
	Name      string           `json:"name"`
	Namespace string           `json:"namespace"`
	Status    ConnectionStatus `json:"status"`
	Reason    string           `json:"reason,omitempty"`
	Tools     int              `json:"tools"`
}

// Manager connects a fixed set of backends, merges their tool catalogs and
// routes tool calls. Backends fail independently; one that cannot connect is
// recorded as Failed and stays that way until the next Initialize.
type Manager struct {
	// lifecycle serializes Initialize and Shutdown.
	lifecycle sync.Mutex

	mu sync.RWMutex

	options     ManagerOptions
	logger      *slog.Logger
	order       []string
	descriptors map[string]*BackendDescriptor

	initialized bool
	states      map[string]*managedState
}

type managedState struct {
	descriptor *BackendDescriptor

	status ConnectionStatus
	reason string

	session *mcp.ClientSession
	conn    mcp.Connection
	tools   []*mcp.Tool

	closing bool
}

// NewManager constructs a Manager for the given descriptors. Names must be
// unique and namespaces unique case-insensitively, both before and after
// normalization. Callers can provide nil options to fall back to defaults.
func NewManager(descriptors []*BackendDescriptor, opts *ManagerOptions) (*Manager, error) {
	options := opts.normalized()
	m := &Manager{
		options:     options,
		logger:      options.Logger,
		descriptors: make(map[string]*BackendDescriptor, len(descriptors)),
		states:      make(map[string]*managedState),
	}
	namespaces := make(map[string]string)
	for _, d := range descriptors {
		if d == nil {
			return nil, errors.New("mcpmgr: nil backend descriptor")
		}
		if prefix, ok := options.Namespace.(ServerPrefixNamespace); ok && strings.Contains(d.ToolNamespace(), prefix.separator()) {
			return nil, fmt.Errorf("mcpmgr: backend %q namespace %q contains the separator %q", d.Name, d.Namespace, prefix.separator())
		}
		if _, dup := m.descriptors[d.Name]; dup {
			return nil, fmt.Errorf("mcpmgr: duplicate backend name %q", d.Name)
		}
		for _, key := range []string{strings.ToLower(d.Namespace), d.ToolNamespace()} {
			if owner, dup := namespaces[key]; dup && owner != d.Name {
				return nil, fmt.Errorf("mcpmgr: backend %q namespace %q collides with backend %q", d.Name, d.Namespace, owner)
			}
			namespaces[key] = d.Name
		}
		m.descriptors[d.Name] = d.clone()
		m.order = append(m.order, d.Name)
	}
	return m, nil
}

// Mode returns the transport mode used to select eligible backends.
func (m *Manager) Mode() TransportMode { return m.options.Mode }

// ListBackends returns every configured backend name in configuration order.
func (m *Manager) ListBackends() []string {
	return append([]string(nil), m.order...)
}

// Descriptor returns a copy of the named backend's descriptor.
func (m *Manager) Descriptor(name string) (*BackendDescriptor, bool) {
	d, ok := m.descriptors[name]
	if !ok {
		return nil, false
	}
	return d.clone(), true
}

// Initialized reports whether Initialize has completed since the last Shutdown.
func (m *Manager) Initialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initialized
}

// Initialize connects every backend that supports the manager's transport
// mode and discovers its tools. Backends connect concurrently and failures
// are recorded per backend; Initialize itself only fails when ctx is done
// before any backend was attempted. Calling it again is a no-op until
// Shutdown runs.
func (m *Manager) Initialize(ctx context.Context) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if m.Initialized() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var eligible []*BackendDescriptor
	m.mu.Lock()
	m.states = make(map[string]*managedState)
	for _, name := range m.order {
		d := m.descriptors[name]
		if !d.Supports(m.options.Mode) {
			m.logger.Info("backend skipped for transport mode", "backend", name, "mode", m.options.Mode)
			continue
		}
		m.states[name] = &managedState{descriptor: d, status: StatusConnecting}
		eligible = append(eligible, d)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, d := range eligible {
		wg.Add(1)
		go func(d *BackendDescriptor) {
			defer wg.Done()
			m.connectBackend(ctx, d)
		}(d)
	}
	wg.Wait()

	m.mu.Lock()
	m.initialized = true
	m.mu.Unlock()
	m.logger.Info(fmt.Sprintf("%d/%d backend(s) connected", m.ConnectedCount(), m.TotalCount()))
	return nil
}

func (m *Manager) connectBackend(ctx context.Context, d *BackendDescriptor) {
	logger := m.logger.With("backend", d.Name)
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = m.options.DefaultTimeout
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tracked := &trackingTransport{delegate: m.buildTransport(d)}
	var transport mcp.Transport = tracked
	if m.options.RPCLogger != nil {
		transport = &loggingTransport{serverID: d.Name, delegate: tracked, logger: m.options.RPCLogger}
	}

	client := mcp.NewClient(&mcp.Implementation{Name: m.options.ClientName, Version: m.options.ClientVersion}, nil)
	session, err := client.Connect(connectCtx, transport, nil)
	if err != nil {
		tracked.close()
		m.fail(d.Name, err)
		logger.Warn("backend connection failed", "error", err)
		return
	}

	tools, err := discoverTools(connectCtx, session)
	if err != nil {
		_ = session.Close()
		tracked.close()
		m.fail(d.Name, fmt.Errorf("tool discovery failed: %w", err))
		logger.Warn("backend tool discovery failed", "error", err)
		return
	}

	m.mu.Lock()
	st := m.states[d.Name]
	st.status = StatusConnected
	st.reason = ""
	st.session = session
	st.conn = tracked.conn()
	st.tools = tools
	m.mu.Unlock()
	logger.Info("backend connected", "tools", len(tools))

	go m.monitorSession(d.Name, st, session)
}

func (m *Manager) buildTransport(d *BackendDescriptor) mcp.Transport {
	t := &stdio.CommandTransport{
		Name:             d.Name,
		Command:          d.Command,
		Args:             d.Args,
		Env:              d.Env,
		Logger:           m.logger,
		GracePeriod:      m.options.GracePeriod,
		TerminateTimeout: m.options.TerminateTimeout,
	}
	if h := m.options.StderrHandler; h != nil {
		name := d.Name
		t.StderrHandler = func(line string) { h(name, line) }
	}
	return t
}

// discoverTools pages through tools/list. A backend that does not implement
// tools simply contributes none.
func discoverTools(ctx context.Context, session *mcp.ClientSession) ([]*mcp.Tool, error) {
	var tools []*mcp.Tool
	params := &mcp.ListToolsParams{}
	for {
		res, err := session.ListTools(ctx, params)
		if err != nil {
			if isMethodUnavailableError(err, "tools/list") {
				return tools, nil
			}
			return nil, err
		}
		tools = append(tools, res.Tools...)
		if res.NextCursor == "" {
			return tools, nil
		}
		params = &mcp.ListToolsParams{Cursor: res.NextCursor}
	}
}

func (m *Manager) fail(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.states[name]; ok {
		st.status = StatusFailed
		st.reason = err.Error()
		st.session = nil
		st.conn = nil
		st.tools = nil
	}
}

// monitorSession marks the backend Failed when its session ends without
// Shutdown having asked for it.
func (m *Manager) monitorSession(name string, st *managedState, session *mcp.ClientSession) {
	waitErr := session.Wait()

	m.mu.RLock()
	conn := st.conn
	m.mu.RUnlock()
	cause := waitErr
	if pc, ok := conn.(*stdio.ProcessConn); ok {
		select {
		case <-pc.Exited():
			if exitErr := pc.ExitErr(); exitErr != nil {
				cause = exitErr
			}
		case <-time.After(exitStatusWait):
		}
	}

	m.mu.Lock()
	if st.closing || st.session != session {
		m.mu.Unlock()
		return
	}
	reason := "backend exited"
	if cause != nil && !errors.Is(cause, io.EOF) {
		reason = fmt.Sprintf("backend exited: %v", cause)
	}
	st.status = StatusFailed
	st.reason = reason
	st.session = nil
	st.conn = nil
	st.tools = nil
	m.mu.Unlock()

	m.logger.Warn("backend connection lost", "backend", name, "reason", reason)
	if conn != nil {
		_ = conn.Close()
	}
}

// MergedCatalog returns one ToolMapping per tool of every connected backend,
// in configuration order. Names are qualified with the backend's normalized
// namespace; a qualified name that fails ValidateToolName is logged and
// dropped. When two tools qualify to the same name the later one wins and the
// replacement is logged.
func (m *Manager) MergedCatalog() []ToolMapping {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var catalog []ToolMapping
	index := make(map[string]int)
	for _, name := range m.order {
		st, ok := m.states[name]
		if !ok || st.status != StatusConnected {
			continue
		}
		ns := st.descriptor.ToolNamespace()
		for _, tool := range st.tools {
			if tool == nil {
				continue
			}
			qualified := m.options.Namespace.ToolName(ns, tool.Name)
			if err := ValidateToolName(qualified); err != nil {
				m.logger.Warn("dropping backend tool with invalid name", "backend", name, "tool", tool.Name, "error", err)
				continue
			}
			mapping := ToolMapping{
				Name:             qualified,
				ServerID:         name,
				Namespace:        ns,
				OriginalToolName: tool.Name,
				Toolset:          st.descriptor.Toolset,
				Tool:             tool,
			}
			if i, dup := index[qualified]; dup {
				m.logger.Warn("backend tool replaces another with the same catalog name",
					"tool", qualified, "backend", name, "replaced_backend", catalog[i].ServerID)
				catalog[i] = mapping
				continue
			}
			index[qualified] = len(catalog)
			catalog = append(catalog, mapping)
		}
	}
	return catalog
}

// ExecuteTool forwards a tools/call to the named backend and returns its
// result unchanged, including results flagged IsError. It fails with a
// *BackendUnavailableError when the backend has no live connection.
func (m *Manager) ExecuteTool(ctx context.Context, backendID, toolName string, args any) (*mcp.CallToolResult, error) {
	m.mu.RLock()
	st, ok := m.states[backendID]
	var session *mcp.ClientSession
	reason := ""
	if ok {
		session = st.session
		reason = st.reason
	}
	m.mu.RUnlock()
	if session == nil {
		return nil, &BackendUnavailableError{Backend: backendID, Reason: reason}
	}
	if toolName == "" {
		return nil, fmt.Errorf("mcpmgr: tool name is required for %q", backendID)
	}
	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: toolName, Arguments: args})
	if err != nil {
		m.logger.Error("backend tool call failed", "backend", backendID, "tool", toolName, "error", err)
		return nil, ErrToolExecution
	}
	return res, nil
}

// Status reports the connection status of a backend. Backends that are not
// eligible for the current mode, or unknown, report StatusDisconnected.
func (m *Manager) Status(name string) ConnectionStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if st, ok := m.states[name]; ok {
		return st.status
	}
	return StatusDisconnected
}

// FailureReason returns the recorded failure for a backend, if any.
func (m *Manager) FailureReason(name string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if st, ok := m.states[name]; ok {
		return st.reason
	}
	return ""
}

// ConnectedCount returns the number of backends with a live connection.
func (m *Manager) ConnectedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, st := range m.states {
		if st.status == StatusConnected {
			n++
		}
	}
	return n
}

// TotalCount returns the number of backends eligible for the current mode.
func (m *Manager) TotalCount() int {
	n := 0
	for _, name := range m.order {
		if m.descriptors[name].Supports(m.options.Mode) {
			n++
		}
	}
	return n
}

// Summaries returns status snapshots for the eligible backends in
// configuration order.
func (m *Manager) Summaries() []BackendSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []BackendSummary
	for _, name := range m.order {
		d := m.descriptors[name]
		if !d.Supports(m.options.Mode) {
			continue
		}
		summary := BackendSummary{Name: name, Namespace: d.ToolNamespace(), Status: StatusDisconnected}
		if st, ok := m.states[name]; ok {
			summary.Status = st.status
			summary.Reason = st.reason
			summary.Tools = len(st.tools)
		}
		out = append(out, summary)
	}
	return out
}

// Instructions joins the instructions of every connected backend, each
// introduced by the backend name.
func (m *Manager) Instructions() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var parts []string
	for _, name := range m.order {
		st, ok := m.states[name]
		if !ok || st.status != StatusConnected || st.descriptor.Instructions == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("[%s] %s", name, st.descriptor.Instructions))
	}
	return strings.Join(parts, "\n\n")
}

// Shutdown closes every live backend connection concurrently, clears all
// state and marks the manager uninitialized. A failure closing one backend
// does not prevent closing the others; all failures are joined.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	type closing struct {
		name    string
		session *mcp.ClientSession
		conn    mcp.Connection
	}
	var targets []closing
	m.mu.Lock()
	for name, st := range m.states {
		st.closing = true
		if st.session != nil || st.conn != nil {
			targets = append(targets, closing{name: name, session: st.session, conn: st.conn})
		}
	}
	m.mu.Unlock()

	errCh := make(chan error, len(targets))
	var wg sync.WaitGroup
	for _, target := range targets {
		wg.Add(1)
		go func(target closing) {
			defer wg.Done()
			if err := m.closeBackend(ctx, target.session, target.conn); err != nil {
				m.logger.Warn("backend shutdown failed", "backend", target.name, "error", err)
				errCh <- fmt.Errorf("mcpmgr: close %q: %w", target.name, err)
			}
		}(target)
	}
	wg.Wait()
	close(errCh)
	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}

	m.mu.Lock()
	m.states = make(map[string]*managedState)
	m.initialized = false
	m.mu.Unlock()
	return errors.Join(errs...)
}

func (m *Manager) closeBackend(ctx context.Context, session *mcp.ClientSession, conn mcp.Connection) error {
	done := make(chan error, 1)
	go func() {
		var err error
		if session != nil {
			err = session.Close()
		}
		if conn != nil {
			if cerr := conn.Close(); err == nil {
				err = cerr
			}
		}
		done <- err
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if isClosedError(err) {
			return nil
		}
		return err
	}
}

func isClosedError(err error) bool {
	return err == nil || errors.Is(err, stdio.ErrClosed) || errors.Is(err, io.EOF)
}

// trackingTransport remembers the connection it produced so the manager can
// tear the backend down even when the MCP handshake never completed.
type trackingTransport struct {
	delegate mcp.Transport

	mu   sync.Mutex
	last mcp.Connection
}

func (t *trackingTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	conn, err := t.delegate.Connect(ctx)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.last = conn
	t.mu.Unlock()
	return conn, nil
}

func (t *trackingTransport) conn() mcp.Connection {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

func (t *trackingTransport) close() {
	if c := t.conn(); c != nil {
		_ = c.Close()
	}
}

type loggingTransport struct {
	serverID string
	delegate mcp.Transport
	logger   RPCLogger
}

func (t *loggingTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	conn, err := t.delegate.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &loggingConnection{serverID: t.serverID, delegate: conn, logger: t.logger}, nil
}

type loggingConnection struct {
	serverID string
	delegate mcp.Connection
	logger   RPCLogger
	mu       sync.Mutex
}

func (c *loggingConnection) SessionID() string { return c.delegate.SessionID() }

func (c *loggingConnection) Read(ctx context.Context) (jsonrpc.Message, error) {
	msg, err := c.delegate.Read(ctx)
	if err == nil {
		c.emit(RPCDirectionReceive, msg)
	}
	return msg, err
}

func (c *loggingConnection) Write(ctx context.Context, msg jsonrpc.Message) error {
	if err := c.delegate.Write(ctx, msg); err != nil {
		return err
	}
	c.emit(RPCDirectionSend, msg)
	return nil
}

func (c *loggingConnection) Close() error { return c.delegate.Close() }

func (c *loggingConnection) emit(direction RPCDirection, msg jsonrpc.Message) {
	if c.logger == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	encoded, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		encoded, _ = json.Marshal(err.Error())
	}
	c.logger(RPCLogEvent{Direction: direction, Message: encoded, ServerID: c.serverID})
}

func isMethodUnavailableError(err error, method string) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	if !(strings.Contains(lower, "method not found") ||
		strings.Contains(lower, "not implemented") ||
		strings.Contains(lower, "unsupported") ||
		strings.Contains(lower, "does not support") ||
		strings.Contains(lower, "unimplemented")) {
		return false
	}
	return strings.Contains(lower, strings.ToLower(method)) || strings.Contains(lower, "method not found")
}
