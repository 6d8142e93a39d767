// Package stdio implements newline-delimited JSON-RPC transports for the
// Model Context Protocol over byte streams.
//
// CommandTransport launches a backend as a child process and exchanges
// messages with it across the child's stdin and stdout, surfacing stderr as a
// side channel. ServerTransport serves a single session over the current
// process's own stdin and stdout. Both implement mcp.Transport from the
// modelcontextprotocol/go-sdk so they plug directly into mcp.Client and
// mcp.Server.
//
// Every message is written as one line. Line breaks that survive JSON encoding
// are replaced with the two-character sequence \n before the terminating
// newline is appended, and a line that cannot be decoded ends the connection.
package stdio
