// Package mcpmgr aggregates the tool catalogs of several backend MCP servers,
// each launched as a child process speaking newline-delimited JSON-RPC over
// stdio, into one namespaced catalog.
//
// # Core entry points
//
//   - BackendDescriptor declares how one backend is launched. Build it with
//     NewBackendDescriptor, or load a whole set from a JSON or YAML file with
//     LoadBackends, which validates every entry before constructing any.
//   - Manager is the long-lived aggregator. Construct it with NewManager and
//     call Initialize to connect every backend compatible with the active
//     TransportMode. A backend that fails to launch is recorded as Failed and
//     never prevents its siblings from serving.
//   - MergedCatalog returns one ToolMapping per discovered tool, keyed by the
//     qualified name "<namespace>__<tool>". ExecuteTool routes a call to the
//     owning backend, or fails with a BackendUnavailableError carrying the
//     original failure reason.
//   - Shutdown closes every live connection and resets the manager so a later
//     Initialize rebuilds everything.
//
// JSON-RPC traffic can be observed per backend through ManagerOptions.RPCLogger;
// SlogRPCLogger adapts it to a *slog.Logger.
package mcpmgr
