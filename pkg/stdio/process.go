package stdio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	// DefaultGracePeriod is how long Close waits for queued messages to flush
	// and for the child to exit on its own after stdin is closed.
	DefaultGracePeriod = 100 * time.Millisecond
	// DefaultTerminateTimeout bounds the wait after the termination signal.
	DefaultTerminateTimeout = 5 * time.Second
	// DefaultQueueSize is the capacity of the inbound and outbound queues.
	DefaultQueueSize = 64
)

// CommandTransport launches a backend process and speaks newline-delimited
// JSON-RPC over its stdin and stdout. The zero values of the tuning fields
// select the package defaults.
type CommandTransport struct {
	// Name identifies the backend in logs.
	Name    string
	Command string
	Args    []string
	// Env is overlaid on the parent environment; entries here win.
	Env map[string]string
	Dir string

	// StderrHandler receives each line the child writes to stderr. When nil
	// the line is logged at info level.
	StderrHandler func(line string)
	Logger        *slog.Logger

	GracePeriod      time.Duration
	TerminateTimeout time.Duration
	QueueSize        int
}

var _ mcp.Transport = (*CommandTransport)(nil)

// Connect implements mcp.Transport.
func (t *CommandTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	return t.Start(ctx)
}

// Start launches the process and arms the inbound, outbound and stderr loops.
// The context only bounds the launch; the process outlives it.
func (t *CommandTransport) Start(ctx context.Context) (*ProcessConn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(t.Command) == "" {
		return nil, &LaunchError{Command: t.Command, Err: errors.New("command is empty")}
	}

	cmd := exec.Command(t.Command, t.Args...)
	cmd.Env = MergeEnv(os.Environ(), t.Env)
	cmd.Dir = t.Dir
	prepareCommand(cmd)

	var opened []io.Closer
	fail := func(err error) (*ProcessConn, error) {
		for _, c := range opened {
			_ = c.Close()
		}
		return nil, &LaunchError{Command: t.Command, Err: err}
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fail(fmt.Errorf("stdin unavailable: %w", err))
	}
	opened = append(opened, stdin)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fail(fmt.Errorf("stdout unavailable: %w", err))
	}
	opened = append(opened, stdout)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fail(fmt.Errorf("stderr unavailable: %w", err))
	}
	opened = append(opened, stderr)
	if err := cmd.Start(); err != nil {
		return fail(err)
	}

	id := uuid.NewString()
	logger := t.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("backend", t.Name, "conn", id)

	queueSize := t.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	c := &ProcessConn{
		id:          id,
		name:        t.Name,
		cmd:         cmd,
		stdin:       stdin,
		stdout:      stdout,
		stderr:      stderr,
		logger:      logger,
		grace:       durationOr(t.GracePeriod, DefaultGracePeriod),
		termTimeout: durationOr(t.TerminateTimeout, DefaultTerminateTimeout),
		onStderr:    t.StderrHandler,
		inbound:     make(chan jsonrpc.Message, queueSize),
		outbound:    make(chan jsonrpc.Message, queueSize),
		closing:     make(chan struct{}),
		readDone:    make(chan struct{}),
		writeDone:   make(chan struct{}),
		stderrDone:  make(chan struct{}),
		exited:      make(chan struct{}),
	}
	if c.onStderr == nil {
		c.onStderr = func(line string) { c.logger.Info("backend stderr", "line", line) }
	}

	go c.waitExit()
	go c.inboundLoop()
	go c.outboundLoop()
	go c.stderrLoop()

	logger.Debug("backend process started", "pid", cmd.Process.Pid, "command", t.Command)
	return c, nil
}

// ProcessConn is a live connection to one backend process. It implements
// mcp.Connection.
type ProcessConn struct {
	id     string
	name   string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser
	logger *slog.Logger

	grace       time.Duration
	termTimeout time.Duration
	onStderr    func(string)

	inbound  chan jsonrpc.Message
	outbound chan jsonrpc.Message

	closing   chan struct{}
	closeOnce sync.Once

	readDone   chan struct{}
	writeDone  chan struct{}
	stderrDone chan struct{}
	exited     chan struct{}

	mu      sync.Mutex
	readErr error
	exitErr error
}

var _ mcp.Connection = (*ProcessConn)(nil)

// SessionID returns the connection identifier used in logs.
func (c *ProcessConn) SessionID() string { return c.id }

// Pid returns the operating system process ID of the backend.
func (c *ProcessConn) Pid() int { return c.cmd.Process.Pid }

// Exited is closed once the backend process has exited.
func (c *ProcessConn) Exited() <-chan struct{} { return c.exited }

// ExitErr reports how the process ended. It is only meaningful after Exited
// is closed.
func (c *ProcessConn) ExitErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exitErr
}

// Read returns the next inbound message. After the inbound loop stops it
// returns the loop's terminal error: io.EOF, a *FramingError, or
// ErrQueueClosed.
func (c *ProcessConn) Read(ctx context.Context) (jsonrpc.Message, error) {
	select {
	case msg, ok := <-c.inbound:
		if !ok {
			return nil, c.terminalReadErr()
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Write enqueues msg for the outbound loop. It fails with a *SendError once
// the connection is closing or the outbound loop has stopped.
func (c *ProcessConn) Write(ctx context.Context, msg jsonrpc.Message) error {
	select {
	case <-c.closing:
		return &SendError{Err: ErrClosed}
	case <-c.writeDone:
		return &SendError{Err: ErrClosed}
	default:
	}
	select {
	case c.outbound <- msg:
		return nil
	case <-c.closing:
		return &SendError{Err: ErrClosed}
	case <-c.writeDone:
		return &SendError{Err: ErrClosed}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close shuts the connection down in four phases: stop accepting work, flush
// and close stdin within the grace period, send the termination signal and
// wait up to the terminate timeout, then kill. It is safe to call any number
// of times and never returns an error for the forced path.
func (c *ProcessConn) Close() error {
	c.closeOnce.Do(c.shutdown)
	return nil
}

func (c *ProcessConn) shutdown() {
	close(c.closing)

	deadline := time.Now().Add(c.grace)
	waitFor(c.writeDone, time.Until(deadline))
	if !waitFor(c.exited, time.Until(deadline)) {
		if err := terminateProcess(c.cmd.Process); err != nil {
			c.logger.Debug("terminate signal failed", "error", err)
		} else if waitFor(c.exited, c.termTimeout) {
			c.logger.Debug("backend exited after terminate signal")
		}
		select {
		case <-c.exited:
		default:
			c.logger.Warn("backend ignored terminate signal, killing", "timeout", c.termTimeout)
			if err := killProcess(c.cmd.Process); err != nil {
				c.logger.Debug("kill failed", "error", err)
			}
			<-c.exited
		}
	}

	// Descendants may still hold the pipes open; give the readers the grace
	// period to drain and then force them loose.
	if !waitFor(c.readDone, c.grace) {
		_ = c.stdout.Close()
	}
	if !waitFor(c.stderrDone, c.grace) {
		_ = c.stderr.Close()
	}
	<-c.readDone
	<-c.stderrDone
	<-c.writeDone
	_ = c.stdout.Close()
	_ = c.stderr.Close()
	c.logger.Debug("backend connection closed")
}

func (c *ProcessConn) waitExit() {
	state, err := c.cmd.Process.Wait()
	c.mu.Lock()
	switch {
	case err != nil:
		c.exitErr = err
	case !state.Success():
		c.exitErr = fmt.Errorf("stdio: backend %s", state)
	}
	c.mu.Unlock()
	close(c.exited)
}

func (c *ProcessConn) inboundLoop() {
	defer close(c.readDone)
	defer close(c.inbound)

	sc := newLineScanner(c.stdout)
	for sc.Scan() {
		if blank(sc.Bytes()) {
			continue
		}
		line := append([]byte(nil), sc.Bytes()...)
		msg, err := DecodeLine(line)
		if err != nil {
			c.logger.Error("malformed message from backend, closing connection", "error", err)
			c.setReadErr(err)
			go c.Close()
			return
		}
		select {
		case c.inbound <- msg:
		case <-c.closing:
			c.logger.Warn("inbound queue closed, dropping message")
			c.setReadErr(ErrQueueClosed)
			return
		}
	}
	if err := sc.Err(); err != nil && !c.isClosing() {
		c.setReadErr(fmt.Errorf("stdio: read stdout: %w", err))
	}
}

func (c *ProcessConn) outboundLoop() {
	defer close(c.writeDone)
	defer c.stdin.Close()

	w := &lineWriter{w: c.stdin}
	for {
		select {
		case msg := <-c.outbound:
			if err := w.WriteMessage(msg); err != nil {
				c.logger.Error("write to backend failed", "error", err)
				return
			}
		case <-c.closing:
			for {
				select {
				case msg := <-c.outbound:
					if err := w.WriteMessage(msg); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (c *ProcessConn) stderrLoop() {
	defer close(c.stderrDone)
	sc := newLineScanner(c.stderr)
	for sc.Scan() {
		c.onStderr(sc.Text())
	}
}

func (c *ProcessConn) setReadErr(err error) {
	c.mu.Lock()
	if c.readErr == nil {
		c.readErr = err
	}
	c.mu.Unlock()
}

func (c *ProcessConn) terminalReadErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return c.readErr
	}
	return io.EOF
}

func (c *ProcessConn) isClosing() bool {
	select {
	case <-c.closing:
		return true
	default:
		return false
	}
}

// waitFor reports whether ch closed within d.
func waitFor(ch <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-ch:
			return true
		default:
			return false
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ch:
		return true
	case <-t.C:
		return false
	}
}

func durationOr(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}
