package mcpmgr

import (
	"fmt"
	"regexp"
	"strings"
)

// NamespaceStrategy builds the catalog name of a backend tool. Implementations
// must be deterministic and collision-free for distinct namespace/tool pairs.
type NamespaceStrategy interface {
	ToolName(namespace, toolName string) string
	// NativeToolName reverses ToolName for the given namespace.
	NativeToolName(namespace, qualified string) (string, bool)
}

// DefaultSeparator joins namespace and tool name.
const DefaultSeparator = "__"

// ServerPrefixNamespace prefixes every tool name with the backend namespace,
// separated by a configurable delimiter (defaults to "__", which stays inside
// the MCP tool name character set).
type ServerPrefixNamespace struct {
	Separator string
}

func (s ServerPrefixNamespace) separator() string {
	if s.Separator == "" {
		return DefaultSeparator
	}
	return s.Separator
}

func (s ServerPrefixNamespace) ToolName(namespace, toolName string) string {
	return fmt.Sprintf("%s%s%s", namespace, s.separator(), toolName)
}

func (s ServerPrefixNamespace) NativeToolName(namespace, qualified string) (string, bool) {
	prefix := namespace + s.separator()
	if !strings.HasPrefix(qualified, prefix) {
		return "", false
	}
	return strings.TrimPrefix(qualified, prefix), true
}

var namespaceInvalidChars = regexp.MustCompile(`[^a-z0-9_-]`)

// NormalizeNamespace lowercases ns and replaces every character outside
// [a-z0-9_-] with an underscore.
func NormalizeNamespace(ns string) string {
	return namespaceInvalidChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(ns)), "_")
}
