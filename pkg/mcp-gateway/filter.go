package mcpgateway

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// JSON-RPC error codes written by the gateway itself.
const (
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
)

const maxFilteredBody = 16 << 20

// CapabilityFilter narrows the statically exposed tool set per request. A
// request can only remove tools: the effective category set is the
// intersection of the static and per-request sets, and read-only applies
// when either side asks for it.
type CapabilityFilter struct {
	static   CategorySet
	readOnly bool
	source   func() []toolTarget
	logger   *slog.Logger
}

func newCapabilityFilter(static CategorySet, readOnly bool, source func() []toolTarget, logger *slog.Logger) *CapabilityFilter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CapabilityFilter{static: static, readOnly: readOnly, source: source, logger: logger}
}

// Permits reports whether a tool of the given category and read-only
// annotation is visible to a request carrying rc.
func (f *CapabilityFilter) Permits(category ToolCategory, readOnlyTool bool, rc RequestContext) bool {
	if !f.static.Allows(category) {
		return false
	}
	if rc.HasToolsets && !rc.Toolsets.Allows(category) {
		return false
	}
	if (f.readOnly || rc.ReadOnly) && !readOnlyTool {
		return false
	}
	return true
}

// Visible returns the tool definitions visible to rc.
func (f *CapabilityFilter) Visible(rc RequestContext) []*mcp.Tool {
	tools := []*mcp.Tool{}
	for _, target := range f.source() {
		if f.Permits(target.Category, target.ReadOnly(), rc) {
			tools = append(tools, target.Tool)
		}
	}
	return tools
}

// Allowed reports whether the named tool exists and is visible to rc.
func (f *CapabilityFilter) Allowed(name string, rc RequestContext) bool {
	for _, target := range f.source() {
		if target.GatewayName == name {
			return f.Permits(target.Category, target.ReadOnly(), rc)
		}
	}
	return false
}

// Wrap intercepts tools/list and tools/call requests that carry per-request
// narrowing. tools/list is answered directly with the narrowed list;
// tools/call for a tool outside it is answered with a method-not-found error
// without reaching next. Every other request passes through unchanged.
func (f *CapabilityFilter) Wrap(next http.Handler, headers HeaderNames) http.Handler {
	headers = headers.withDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := RequestContextFromHeaders(r.Header, headers)
		r = r.WithContext(WithRequestContext(r.Context(), rc))
		if r.Method != http.MethodPost || !rc.Narrows() {
			next.ServeHTTP(w, r)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxFilteredBody))
		_ = r.Body.Close()
		if err != nil {
			writeRPCError(w, http.StatusBadRequest, nil, codeInvalidRequest, "failed to read request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		msg, err := jsonrpc.DecodeMessage(body)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		req, ok := msg.(*jsonrpc.Request)
		if !ok || !req.ID.IsValid() {
			next.ServeHTTP(w, r)
			return
		}

		switch req.Method {
		case "tools/list":
			result, err := json.Marshal(&mcp.ListToolsResult{Tools: f.Visible(rc)})
			if err != nil {
				f.logger.Error("encode filtered tool list", "error", err)
				writeRPCError(w, http.StatusInternalServerError, req.ID.Raw(), codeInvalidRequest, "failed to encode tool list")
				return
			}
			writeRPCResult(w, req.ID.Raw(), result)
			return
		case "tools/call":
			var params struct {
				Name *string `json:"name"`
			}
			if len(req.Params) > 0 {
				_ = json.Unmarshal(req.Params, &params)
			}
			if params.Name != nil && !f.Allowed(*params.Name, rc) {
				f.logger.Debug("tool call rejected by request narrowing", "tool", *params.Name)
				writeRPCError(w, http.StatusOK, req.ID.Raw(), codeMethodNotFound, "Tool not found: "+*params.Name)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

type rpcError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

func writeRPCResult(w http.ResponseWriter, id any, result json.RawMessage) {
	writeRPC(w, http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func writeRPCError(w http.ResponseWriter, status int, id any, code int64, message string) {
	writeRPC(w, status, rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: message}})
}

func writeRPC(w http.ResponseWriter, status int, resp rpcResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
