package stdio

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

const (
	initialLineBuffer = 64 * 1024
	maxLineSize       = 32 * 1024 * 1024
)

var escapedNewline = []byte(`\n`)

// EscapeLineBreaks replaces every CRLF, LF and CR in data with the literal
// two-character sequence \n so that the result fits on a single line.
func EscapeLineBreaks(data []byte) []byte {
	if bytes.IndexAny(data, "\r\n") < 0 {
		return data
	}
	out := bytes.ReplaceAll(data, []byte("\r\n"), escapedNewline)
	out = bytes.ReplaceAll(out, []byte("\n"), escapedNewline)
	return bytes.ReplaceAll(out, []byte("\r"), escapedNewline)
}

// EncodeLine serializes msg as a single newline-terminated line.
func EncodeLine(msg jsonrpc.Message) ([]byte, error) {
	data, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		return nil, fmt.Errorf("stdio: encode message: %w", err)
	}
	data = EscapeLineBreaks(data)
	return append(data, '\n'), nil
}

// DecodeLine parses one line received from a peer. Failures are reported as
// *FramingError.
func DecodeLine(line []byte) (jsonrpc.Message, error) {
	msg, err := jsonrpc.DecodeMessage(line)
	if err != nil {
		return nil, &FramingError{Line: string(line), Err: err}
	}
	return msg, nil
}

// lineWriter serializes writes so concurrent callers never interleave lines.
type lineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (lw *lineWriter) WriteMessage(msg jsonrpc.Message) error {
	line, err := EncodeLine(msg)
	if err != nil {
		return err
	}
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if _, err := lw.w.Write(line); err != nil {
		return fmt.Errorf("stdio: write message: %w", err)
	}
	return nil
}

// newLineScanner returns a scanner sized for large protocol messages.
func newLineScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, initialLineBuffer), maxLineSize)
	return sc
}

// blank reports whether line carries nothing but whitespace. Blank lines are
// skipped rather than treated as malformed.
func blank(line []byte) bool {
	return len(bytes.TrimSpace(line)) == 0
}
