package stdio

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestServerTransportReadsAndWritesLines(t *testing.T) {
	t.Parallel()

	inR, inW := io.Pipe()
	out := &syncBuffer{}
	transport := &ServerTransport{In: inR, Out: out}
	conn, err := transport.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(); _ = inW.Close() })

	go func() {
		_, _ = io.WriteString(inW, "\n{\"jsonrpc\":\"2.0\",\"id\":\"a\",\"method\":\"tools/list\"}\n")
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msg, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if req, ok := msg.(*jsonrpc.Request); !ok || req.Method != "tools/list" {
		t.Fatalf("unexpected message %#v", msg)
	}

	if err := conn.Write(ctx, &jsonrpc.Request{Method: "notifications/tools/list_changed"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	written := out.String()
	if !strings.HasSuffix(written, "\n") || strings.Count(written, "\n") != 1 {
		t.Fatalf("output %q is not a single terminated line", written)
	}
	if !strings.Contains(written, "notifications/tools/list_changed") {
		t.Fatalf("output %q missing written message", written)
	}
}

func TestServerTransportEOFInvokesShutdownOnce(t *testing.T) {
	t.Parallel()

	inR, inW := io.Pipe()
	var calls atomic.Int32
	transport := &ServerTransport{
		In:         inR,
		Out:        io.Discard,
		OnShutdown: func() { calls.Add(1) },
	}
	conn, err := transport.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	_ = inW.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := conn.Read(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("Read after stdin close = %v, want io.EOF", err)
	}
	if _, err := conn.Read(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("second Read = %v, want io.EOF", err)
	}
	_ = conn.Close()
	if got := calls.Load(); got != 1 {
		t.Fatalf("shutdown callback ran %d times, want 1", got)
	}

	if _, err := transport.Connect(context.Background()); err == nil {
		t.Fatalf("second Connect should fail")
	}
}

func TestServerTransportCloseGracefullyFallsBack(t *testing.T) {
	t.Parallel()

	inR, inW := io.Pipe()
	t.Cleanup(func() { _ = inW.Close() })
	transport := &ServerTransport{In: inR, Out: io.Discard, CloseTimeout: 50 * time.Millisecond}
	conn, err := transport.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	start := time.Now()
	err = transport.CloseGracefully(func() error {
		<-block
		return nil
	})
	if err != nil {
		t.Fatalf("CloseGracefully: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("CloseGracefully took %s", elapsed)
	}
	if err := conn.Write(context.Background(), &jsonrpc.Request{Method: "ping"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Write after hard close = %v, want ErrClosed", err)
	}
}

func TestServerTransportCloseGracefullyReturnsSessionError(t *testing.T) {
	t.Parallel()

	transport := &ServerTransport{In: strings.NewReader(""), Out: io.Discard}
	want := errors.New("session close failed")
	if err := transport.CloseGracefully(func() error { return want }); !errors.Is(err, want) {
		t.Fatalf("CloseGracefully = %v, want %v", err, want)
	}
}
