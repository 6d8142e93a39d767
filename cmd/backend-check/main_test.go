package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vikashloomba/mcp-tool-gateway/pkg/mcpmgr"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backends.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRunCheckReportsFailedBackend(t *testing.T) {
	t.Parallel()

	config := writeConfig(t, `
- name: missing
  command: /nonexistent/mcp-backend
  supportedTransports: [stdio]
- name: remote-only
  command: /nonexistent/other
  supportedTransports: [http]
`)
	var out bytes.Buffer
	err := runCheck(context.Background(), &out, &checkOptions{
		config:    config,
		transport: "stdio",
		timeout:   mcpmgr.Duration(10 * time.Second),
		logLevel:  "error",
	})
	require.Error(t, err)
	assert.Contains(t, out.String(), "missing: failed: ")
	assert.NotContains(t, out.String(), "remote-only", "backends for other transports are skipped")
	assert.Contains(t, out.String(), "0/1 backend(s) connected")
}

func TestRunCheckRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	config := writeConfig(t, `[{"command": "x", "supportedTransports": ["stdio"]}]`)
	var out bytes.Buffer
	err := runCheck(context.Background(), &out, &checkOptions{config: config, transport: "stdio", logLevel: "error"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Missing required field 'name'")
	assert.Empty(t, out.String())

	err = runCheck(context.Background(), &out, &checkOptions{config: config, transport: "carrier-pigeon", logLevel: "error"})
	require.Error(t, err)
}

func TestRootCommandRequiresConfig(t *testing.T) {
	t.Parallel()

	cmd := newRootCmd()
	cmd.SetArgs(nil)
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	require.Error(t, cmd.Execute())
}
