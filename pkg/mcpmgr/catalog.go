package mcpmgr

import (
	"fmt"
	"regexp"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const maxToolNameLength = 64

var toolNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_\-./]+$`)

// ValidateToolName checks a catalog tool name against the protocol naming
// rules: 1 to 64 characters drawn from letters, digits, '_', '-', '.' and '/'.
func ValidateToolName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("mcpmgr: tool name is empty")
	case len(name) > maxToolNameLength:
		return fmt.Errorf("mcpmgr: tool name %q is %d characters long (max %d)", name, len(name), maxToolNameLength)
	case !toolNamePattern.MatchString(name):
		return fmt.Errorf("mcpmgr: tool name %q contains invalid characters", name)
	}
	return nil
}

// ToolMapping ties a qualified catalog name to the backend tool it proxies.
type ToolMapping struct {
	// Name is the qualified catalog name.
	Name             string
	ServerID         string
	Namespace        string
	OriginalToolName string
	// Toolset is copied from the owning backend's descriptor.
	Toolset string
	// Tool is the definition reported by the backend, unmodified.
	Tool *mcp.Tool
}

// ReadOnly reports whether the backend annotated the tool as read-only.
func (t ToolMapping) ReadOnly() bool {
	return t.Tool != nil && t.Tool.Annotations != nil && t.Tool.Annotations.ReadOnlyHint
}
