package stdio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// DefaultCloseTimeout bounds a graceful close of the self stdio session.
const DefaultCloseTimeout = 10 * time.Second

// ServerTransport serves exactly one session over the current process's
// stdin and stdout (or the supplied In/Out streams).
type ServerTransport struct {
	In  io.Reader
	Out io.Writer

	// OnShutdown runs once when the peer closes the input stream.
	OnShutdown func()
	// CloseTimeout bounds CloseGracefully before it falls back to a hard
	// close. Defaults to DefaultCloseTimeout.
	CloseTimeout time.Duration
	Logger       *slog.Logger
	QueueSize    int

	mu   sync.Mutex
	conn *ServerConn
}

var _ mcp.Transport = (*ServerTransport)(nil)

// Connect implements mcp.Transport. A transport hands out a single
// connection; later calls fail.
func (t *ServerTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return nil, fmt.Errorf("stdio: server transport already connected")
	}
	in, out := t.In, t.Out
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	logger := t.Logger
	if logger == nil {
		logger = slog.Default()
	}
	queueSize := t.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	id := uuid.NewString()
	c := &ServerConn{
		id:        id,
		in:        in,
		out:       &lineWriter{w: out},
		logger:    logger.With("conn", id, "transport", "stdio"),
		timeout:   durationOr(t.CloseTimeout, DefaultCloseTimeout),
		onEOF:     t.OnShutdown,
		inbound:   make(chan jsonrpc.Message, queueSize),
		outbound:  make(chan jsonrpc.Message, queueSize),
		closing:   make(chan struct{}),
		writeDone: make(chan struct{}),
	}
	go c.inboundLoop()
	go c.outboundLoop()
	t.conn = c
	return c, nil
}

// Conn returns the connection created by Connect, or nil.
func (t *ServerTransport) Conn() *ServerConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn
}

// CloseGracefully closes the session through closeSession and waits up to
// CloseTimeout for it to finish. If it does not, the connection is closed
// without flushing.
func (t *ServerTransport) CloseGracefully(closeSession func() error) error {
	timeout := durationOr(t.CloseTimeout, DefaultCloseTimeout)
	done := make(chan error, 1)
	go func() { done <- closeSession() }()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		if c := t.Conn(); c != nil {
			c.logger.Warn("graceful close timed out, closing stdio session", "timeout", timeout)
			c.HardClose()
		}
		return nil
	}
}

// ServerConn is the single connection of a ServerTransport.
type ServerConn struct {
	id      string
	in      io.Reader
	out     *lineWriter
	logger  *slog.Logger
	timeout time.Duration

	onEOF    func()
	eofOnce  sync.Once
	inbound  chan jsonrpc.Message
	outbound chan jsonrpc.Message

	closing   chan struct{}
	closeOnce sync.Once
	writeDone chan struct{}

	mu      sync.Mutex
	readErr error
}

var _ mcp.Connection = (*ServerConn)(nil)

func (c *ServerConn) SessionID() string { return c.id }

// Read returns the next message from the input stream, io.EOF once the peer
// has closed it, or the *FramingError that stopped the read loop.
func (c *ServerConn) Read(ctx context.Context) (jsonrpc.Message, error) {
	select {
	case msg, ok := <-c.inbound:
		if !ok {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.readErr != nil {
				return nil, c.readErr
			}
			return nil, io.EOF
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *ServerConn) Write(ctx context.Context, msg jsonrpc.Message) error {
	select {
	case <-c.closing:
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

// Close stops accepting writes and waits, up to the close timeout, for
// queued messages to reach the output stream.
func (c *ServerConn) Close() error {
	c.closeOnce.Do(func() { close(c.closing) })
	if !waitFor(c.writeDone, c.timeout) {
		c.logger.Warn("stdio output did not drain before close timeout")
	}
	return nil
}

// HardClose stops the connection without waiting for queued output.
func (c *ServerConn) HardClose() {
	c.closeOnce.Do(func() { close(c.closing) })
}

func (c *ServerConn) inboundLoop() {
	defer close(c.inbound)

	sc := newLineScanner(c.in)
	for sc.Scan() {
		if blank(sc.Bytes()) {
			continue
		}
		line := append([]byte(nil), sc.Bytes()...)
		msg, err := DecodeLine(line)
		if err != nil {
			c.logger.Error("malformed message on stdin", "error", err)
			c.setReadErr(err)
			return
		}
		select {
		case c.inbound <- msg:
		case <-c.closing:
			c.setReadErr(ErrQueueClosed)
			return
		}
	}
	if err := sc.Err(); err != nil {
		c.setReadErr(fmt.Errorf("stdio: read stdin: %w", err))
		return
	}
	c.logger.Info("stdin closed by peer, ending session")
	c.eofOnce.Do(func() {
		if c.onEOF != nil {
			c.onEOF()
		}
	})
}

func (c *ServerConn) outboundLoop() {
	defer close(c.writeDone)
	for {
		select {
		case msg := <-c.outbound:
			if err := c.out.WriteMessage(msg); err != nil {
				c.logger.Error("write to stdout failed", "error", err)
				return
			}
		case <-c.closing:
			for {
				select {
				case msg := <-c.outbound:
					if err := c.out.WriteMessage(msg); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (c *ServerConn) setReadErr(err error) {
	c.mu.Lock()
	if c.readErr == nil {
		c.readErr = err
	}
	c.mu.Unlock()
}
