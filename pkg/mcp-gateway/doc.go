// Package mcpgateway exposes the merged tool catalog of an mcpmgr.Manager as
// one MCP server. Clients reach it over the process's own stdio or over a
// stateless HTTP endpoint guarded by an origin policy. Tools are filtered
// statically by category and read-only mode when the gateway starts, and a
// request may narrow that set further through headers but never widen it.
package mcpgateway
