package stdio

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

func TestEscapeLineBreaks(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"plain":         "plain",
		"a\nb":          `a\nb`,
		"a\r\nb":        `a\nb`,
		"a\rb":          `a\nb`,
		"x\r\n\r\ny\nz": `x\n\ny\nz`,
	}
	for in, want := range cases {
		if got := string(EscapeLineBreaks([]byte(in))); got != want {
			t.Fatalf("EscapeLineBreaks(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEncodeLineIsSingleTerminatedLine(t *testing.T) {
	t.Parallel()

	id, err := jsonrpc.MakeID(float64(7))
	if err != nil {
		t.Fatalf("MakeID: %v", err)
	}
	req := &jsonrpc.Request{
		ID:     id,
		Method: "tools/call",
		Params: json.RawMessage(`{"name":"echo","arguments":{"text":"line1\nline2"}}`),
	}
	line, err := EncodeLine(req)
	if err != nil {
		t.Fatalf("EncodeLine: %v", err)
	}
	if !bytes.HasSuffix(line, []byte("\n")) {
		t.Fatalf("line not newline terminated: %q", line)
	}
	if n := bytes.Count(line, []byte("\n")); n != 1 {
		t.Fatalf("expected exactly one newline, got %d in %q", n, line)
	}
}

func TestFramingRoundTripPreservesEmbeddedNewline(t *testing.T) {
	t.Parallel()

	id, err := jsonrpc.MakeID("req-1")
	if err != nil {
		t.Fatalf("MakeID: %v", err)
	}
	sent := &jsonrpc.Request{
		ID:     id,
		Method: "tools/call",
		Params: json.RawMessage(`{"text":"first line\nsecond line"}`),
	}
	line, err := EncodeLine(sent)
	if err != nil {
		t.Fatalf("EncodeLine: %v", err)
	}

	msg, err := DecodeLine(bytes.TrimSuffix(line, []byte("\n")))
	if err != nil {
		t.Fatalf("DecodeLine: %v", err)
	}
	got, ok := msg.(*jsonrpc.Request)
	if !ok {
		t.Fatalf("decoded %T, want *jsonrpc.Request", msg)
	}
	var params struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(got.Params, &params); err != nil {
		t.Fatalf("unmarshal params: %v", err)
	}
	if params.Text != "first line\nsecond line" {
		t.Fatalf("text = %q, want multi-line content intact", params.Text)
	}
}

func TestDecodeLineRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := DecodeLine([]byte("this is not json"))
	var framing *FramingError
	if !errors.As(err, &framing) {
		t.Fatalf("DecodeLine error = %v, want *FramingError", err)
	}
	if framing.Line != "this is not json" {
		t.Fatalf("framing error line = %q", framing.Line)
	}
}

func TestLineWriterWritesOneLinePerMessage(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := &lineWriter{w: &buf}
	for _, method := range []string{"ping", "notifications/initialized"} {
		if err := w.WriteMessage(&jsonrpc.Request{Method: method}); err != nil {
			t.Fatalf("WriteMessage(%s): %v", method, err)
		}
	}
	lines := bytes.Split(bytes.TrimSuffix(buf.Bytes(), []byte("\n")), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	for _, line := range lines {
		if _, err := DecodeLine(line); err != nil {
			t.Fatalf("line %q does not decode: %v", line, err)
		}
	}
}

func TestMergeEnvDescriptorWins(t *testing.T) {
	t.Parallel()

	base := []string{"HOME=/root", "MODE=parent", "PATH=/bin"}
	merged := MergeEnv(base, map[string]string{"MODE": "child", "EXTRA": "1"})

	want := []string{"HOME=/root", "PATH=/bin", "EXTRA=1", "MODE=child"}
	if len(merged) != len(want) {
		t.Fatalf("MergeEnv = %v, want %v", merged, want)
	}
	for i := range want {
		if merged[i] != want[i] {
			t.Fatalf("MergeEnv = %v, want %v", merged, want)
		}
	}
	if base[1] != "MODE=parent" {
		t.Fatalf("base slice mutated: %v", base)
	}
}
