package mcpgateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vikashloomba/mcp-tool-gateway/pkg/mcpmgr"
	"github.com/vikashloomba/mcp-tool-gateway/pkg/stdio"
)

type headerTransport struct {
	headers map[string]string
	base    http.RoundTripper
}

func (h headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}
	return h.base.RoundTrip(req)
}

func connectHTTP(t *testing.T, ctx context.Context, server *httptest.Server, headers map[string]string) *mcp.ClientSession {
	t.Helper()
	httpClient := server.Client()
	httpClient.Transport = headerTransport{headers: headers, base: httpClient.Transport}
	transport := &mcp.StreamableClientTransport{
		Endpoint:   server.URL + "/mcp",
		HTTPClient: httpClient,
		MaxRetries: 1,
	}
	client := mcp.NewClient(&mcp.Implementation{Name: "gateway-test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, transport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func listedNames(t *testing.T, ctx context.Context, session *mcp.ClientSession) []string {
	t.Helper()
	res, err := session.ListTools(ctx, nil)
	require.NoError(t, err)
	names := make([]string, 0, len(res.Tools))
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)
	return names
}

func TestGatewayServesMergedCatalogOverHTTP(t *testing.T) {
	manager := startManager(t, mcpmgr.TransportHTTP,
		helperBackend(t, "tracker", "issues"),
		helperBackend(t, "Rule Book", "rules"),
		missingBackend(t, "broken"),
	)
	require.Equal(t, 2, manager.ConnectedCount())

	gateway, err := NewGateway(manager, &Options{Logger: quietLogger(), Instructions: "Gateway for tests."})
	require.NoError(t, err)
	server := httptest.NewServer(gateway.Handler())
	t.Cleanup(server.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	session := connectHTTP(t, ctx, server, map[string]string{DefaultTokenHeader: "token"})

	assert.Equal(t, []string{"rule_book__search", "rule_book__update", "tracker__search", "tracker__update"}, listedNames(t, ctx, session))
	if init := session.InitializeResult(); assert.NotNil(t, init) {
		assert.Contains(t, init.Instructions, "Gateway for tests.")
		assert.Contains(t, init.Instructions, "[tracker] Backend tracker tracks issues.")
	}

	tools, err := session.ListTools(ctx, nil)
	require.NoError(t, err)
	for _, tool := range tools.Tools {
		if tool.Name == "tracker__update" {
			assert.Equal(t, "update", tool.Title)
			assert.Equal(t, defaultProxiedDescription, tool.Description)
			assert.Equal(t, "tracker", tool.Meta[metaKeyServerID])
			assert.Equal(t, "issues", tool.Meta[metaKeyCategory])
		}
	}

	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: "tracker__search", Arguments: map[string]any{"query": "bug"}})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, `tracker found "bug"`, textContent(t, res))

	res, err = session.CallTool(ctx, &mcp.CallToolParams{Name: "rule_book__update", Arguments: map[string]any{}})
	require.NoError(t, err)
	assert.True(t, res.IsError, "backend tool errors are returned unchanged")
	assert.Equal(t, "key is required", textContent(t, res))
}

func TestGatewayRequestNarrowing(t *testing.T) {
	manager := startManager(t, mcpmgr.TransportHTTP,
		helperBackend(t, "tracker", "issues"),
		helperBackend(t, "rulebook", "rules"),
	)
	gateway, err := NewGateway(manager, &Options{Logger: quietLogger()})
	require.NoError(t, err)
	server := httptest.NewServer(gateway.Handler())
	t.Cleanup(server.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	session := connectHTTP(t, ctx, server, map[string]string{
		DefaultToolsetsHeader: "rules",
		DefaultReadOnlyHeader: "true",
	})

	assert.Equal(t, []string{"rulebook__search"}, listedNames(t, ctx, session))

	_, err = session.CallTool(ctx, &mcp.CallToolParams{Name: "tracker__search", Arguments: map[string]any{"query": "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Tool not found: tracker__search")

	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: "rulebook__search", Arguments: map[string]any{"query": "x"}})
	require.NoError(t, err)
	assert.Equal(t, `rulebook found "x"`, textContent(t, res))
}

func TestGatewayStaticFilter(t *testing.T) {
	manager := startManager(t, mcpmgr.TransportStdio,
		helperBackend(t, "tracker", "issues"),
		helperBackend(t, "rulebook", "rules"),
	)
	gateway, err := NewGateway(manager, &Options{
		Logger:   quietLogger(),
		Toolsets: ParseCategories("issues"),
		ReadOnly: true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"tracker__search"}, gateway.Tools())

	server := httptest.NewServer(gateway.Handler())
	t.Cleanup(server.Close)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	session := connectHTTP(t, ctx, server, map[string]string{DefaultToolsetsHeader: "issues,rules"})
	assert.Equal(t, []string{"tracker__search"}, listedNames(t, ctx, session), "a request cannot widen the static set")
}

func TestGatewayConvertsUnavailableBackend(t *testing.T) {
	t.Parallel()

	gateway, err := NewGateway(emptyManager(t), &Options{Logger: quietLogger()})
	require.NoError(t, err)

	handler := gateway.makeToolHandler(target("ghost__search", CategoryExternal, true))
	res, err := handler(context.Background(), &mcp.CallToolRequest{})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "Failed to execute proxied tool 'ghost__search' on server 'backend': Service connection not established", textContent(t, res))
}

func TestGatewayServeStdio(t *testing.T) {
	manager := startManager(t, mcpmgr.TransportStdio, helperBackend(t, "tracker", "issues"))

	gwInR, gwInW := io.Pipe()
	gwOutR, gwOutW := io.Pipe()
	var stdinClosed atomic.Int32
	gateway, err := NewGateway(manager, &Options{
		Logger:        quietLogger(),
		Stdin:         gwInR,
		Stdout:        gwOutW,
		OnStdinClosed: func() { stdinClosed.Add(1) },
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- gateway.ServeStdio(ctx) }()

	client := mcp.NewClient(&mcp.Implementation{Name: "stdio-test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, &stdio.ServerTransport{In: gwOutR, Out: gwInW, Logger: quietLogger()}, nil)
	require.NoError(t, err)

	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: "tracker__search", Arguments: map[string]any{"query": "pipes"}})
	require.NoError(t, err)
	assert.Equal(t, `tracker found "pipes"`, textContent(t, res))

	require.NoError(t, gwInW.Close())
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("ServeStdio did not return after stdin closed")
	}
	assert.Equal(t, int32(1), stdinClosed.Load())
	_ = gwOutR.Close()
}

func TestGatewayServeStdioStopsOnCancel(t *testing.T) {
	t.Parallel()

	gwInR, gwInW := io.Pipe()
	t.Cleanup(func() { _ = gwInW.Close() })
	gateway, err := NewGateway(emptyManager(t), &Options{
		Logger:            quietLogger(),
		Stdin:             gwInR,
		Stdout:            io.Discard,
		StdioCloseTimeout: time.Second,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- gateway.ServeStdio(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-served:
		assert.True(t, errors.Is(err, context.Canceled), "err = %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("ServeStdio did not stop after cancellation")
	}
}
