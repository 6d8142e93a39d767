package mcpgateway

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// Consumers can add routes such as health checks next to the MCP endpoint.
func TestGatewayServeMuxAllowsCustomRoutes(t *testing.T) {
	t.Parallel()

	gateway, err := NewGateway(emptyManager(t), &Options{Path: "rpc", Logger: quietLogger()})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	gateway.ServeMux().HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	srv := httptest.NewServer(gateway.Handler())
	defer srv.Close()

	res, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	if res.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Fatalf("GET /healthz = %d %q, want 200 \"ok\"", res.StatusCode, string(body))
	}
	if res.Header.Get(requestIDHeader) == "" {
		t.Fatalf("custom route response missing %s", requestIDHeader)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	req.Header.Set("Origin", "https://attacker.example")
	res, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /healthz with origin: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("custom route bypassed the origin guard: status %d", res.StatusCode)
	}
}

func TestGatewayMountsEndpointOnPath(t *testing.T) {
	t.Parallel()

	gateway, err := NewGateway(emptyManager(t), &Options{Path: "/rpc", Logger: quietLogger()})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	srv := httptest.NewServer(gateway.Handler())
	defer srv.Close()

	initialize := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","capabilities":{},"clientInfo":{"name":"raw","version":"0"}}}`
	for path, want := range map[string]int{"/rpc": http.StatusOK, "/elsewhere": http.StatusNotFound} {
		req, _ := http.NewRequest(http.MethodPost, srv.URL+path, strings.NewReader(initialize))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json, text/event-stream")
		res, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("POST %s: %v", path, err)
		}
		body, _ := io.ReadAll(res.Body)
		res.Body.Close()
		if res.StatusCode != want {
			t.Fatalf("POST %s = %d (%s), want %d", path, res.StatusCode, body, want)
		}
		if want == http.StatusOK && !strings.Contains(string(body), `"serverInfo"`) {
			t.Fatalf("POST %s body missing serverInfo: %s", path, body)
		}
	}
}
