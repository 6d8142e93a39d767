package mcpgateway

import (
	"encoding/json"
	"maps"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-tool-gateway/pkg/mcpmgr"
)

const (
	metaKeyServerID   = "mcpgateway.server_id"
	metaKeyNativeName = "mcpgateway.native_name"
	metaKeyCategory   = "mcpgateway.category"

	defaultProxiedDescription = "Proxied MCP tool"
)

// featureIndex tracks the tools registered on the gateway server, grouped by
// the backend that owns them.
type featureIndex struct {
	mu sync.RWMutex

	tools       map[string]toolTarget
	serverTools map[string][]string
	order       []string
}

type toolTarget struct {
	GatewayName string
	ServerID    string
	NativeName  string
	Category    ToolCategory
	Tool        *mcp.Tool
}

// ReadOnly reports whether the proxied tool is annotated read-only.
func (t toolTarget) ReadOnly() bool {
	return t.Tool != nil && t.Tool.Annotations != nil && t.Tool.Annotations.ReadOnlyHint
}

type toolRegistration struct {
	Tool   *mcp.Tool
	Target toolTarget
}

func newFeatureIndex() *featureIndex {
	return &featureIndex{
		tools:       make(map[string]toolTarget),
		serverTools: make(map[string][]string),
	}
}

// UpdateTools replaces every tool owned by serverID with the given catalog
// entries, returning the names to unregister and the definitions to register.
// admit decides whether an entry is exposed at all.
func (f *featureIndex) UpdateTools(serverID string, upstream []mcpmgr.ToolMapping, admit func(toolTarget) bool) (removed []string, added []toolRegistration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, known := f.serverTools[serverID]
	removed = f.removeToolsLocked(serverID)
	added = make([]toolRegistration, 0, len(upstream))
	names := make([]string, 0, len(upstream))
	for _, mapping := range upstream {
		clone := proxyTool(mapping)
		target := toolTarget{
			GatewayName: mapping.Name,
			ServerID:    serverID,
			NativeName:  mapping.OriginalToolName,
			Category:    categoryOf(mapping.Toolset),
			Tool:        clone,
		}
		clone.Meta[metaKeyCategory] = string(target.Category)
		if admit != nil && !admit(target) {
			continue
		}
		f.tools[mapping.Name] = target
		added = append(added, toolRegistration{Tool: clone, Target: target})
		names = append(names, mapping.Name)
	}
	if !known {
		f.order = append(f.order, serverID)
	}
	f.serverTools[serverID] = names
	return removed, added
}

func (f *featureIndex) ToolTarget(name string) (toolTarget, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	target, ok := f.tools[name]
	return target, ok
}

// Tools returns every registered tool, grouped by backend in registration
// order.
func (f *featureIndex) Tools() []toolTarget {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []toolTarget
	for _, serverID := range f.order {
		for _, name := range f.serverTools[serverID] {
			if target, ok := f.tools[name]; ok {
				out = append(out, target)
			}
		}
	}
	return out
}

func (f *featureIndex) removeToolsLocked(serverID string) []string {
	names := f.serverTools[serverID]
	removed := make([]string, 0, len(names))
	for _, name := range names {
		if target, ok := f.tools[name]; ok && target.ServerID == serverID {
			delete(f.tools, name)
			removed = append(removed, name)
		}
	}
	delete(f.serverTools, serverID)
	return removed
}

// proxyTool builds the gateway-facing definition of a backend tool: the
// qualified name, a title and description that are never empty, the original
// schema and annotations, and metadata naming the owning backend.
func proxyTool(mapping mcpmgr.ToolMapping) *mcp.Tool {
	var clone mcp.Tool
	if mapping.Tool != nil {
		clone = *mapping.Tool
	}
	clone.Name = mapping.Name
	if clone.Title == "" {
		clone.Title = mapping.OriginalToolName
	}
	if clone.Description == "" {
		clone.Description = defaultProxiedDescription
	}
	if clone.InputSchema == nil {
		_ = json.Unmarshal([]byte(`{"type":"object"}`), &clone.InputSchema)
	}
	if mapping.Tool != nil && mapping.Tool.Annotations != nil {
		annotations := *mapping.Tool.Annotations
		clone.Annotations = &annotations
	}
	var base map[string]any
	if mapping.Tool != nil {
		base = mapping.Tool.Meta
	}
	clone.Meta = withMeta(base, map[string]any{
		metaKeyServerID:   mapping.ServerID,
		metaKeyNativeName: mapping.OriginalToolName,
	})
	return &clone
}

func withMeta(base map[string]any, extras map[string]any) map[string]any {
	out := maps.Clone(base)
	if out == nil {
		out = make(map[string]any)
	}
	for k, v := range extras {
		out[k] = v
	}
	return out
}
