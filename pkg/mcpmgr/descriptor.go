package mcpmgr

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// DefaultToolset is the tool category assigned to backend tools when the
// descriptor does not name one.
const DefaultToolset = "external"

// BackendDescriptor is the validated launch configuration for one backend.
// Values returned by NewBackendDescriptor are never mutated by this package;
// callers should treat them as read-only.
type BackendDescriptor struct {
	// Name uniquely identifies the backend and is used as its server ID.
	Name string
	// Namespace qualifies the backend's tool names. Defaults to Name.
	Namespace string
	Command   string
	Args      []string
	// Env is overlaid on the parent environment when the backend launches.
	Env                 map[string]string
	SupportedTransports []TransportMode
	// Instructions is optional free text surfaced to the orchestrating client.
	Instructions string
	// Toolset is the tool category of every tool the backend exposes.
	Toolset string
	// Timeout bounds connection initialization. Zero uses the manager default.
	Timeout time.Duration
}

// NewBackendDescriptor validates d and returns a trimmed, defensively copied
// descriptor. It fails when name or command is blank or when no supported
// transport is declared.
func NewBackendDescriptor(d BackendDescriptor) (*BackendDescriptor, error) {
	out := BackendDescriptor{
		Name:         strings.TrimSpace(d.Name),
		Namespace:    strings.TrimSpace(d.Namespace),
		Command:      strings.TrimSpace(d.Command),
		Args:         slices.Clone(d.Args),
		Env:          maps.Clone(d.Env),
		Instructions: strings.TrimSpace(d.Instructions),
		Toolset:      strings.ToLower(strings.TrimSpace(d.Toolset)),
		Timeout:      d.Timeout,
	}
	var errs []error
	if out.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if out.Namespace == "" {
		out.Namespace = out.Name
	}
	if out.Command == "" {
		errs = append(errs, errors.New("command is required"))
	}
	if len(d.SupportedTransports) == 0 {
		errs = append(errs, errors.New("at least one supported transport is required"))
	}
	for _, mode := range d.SupportedTransports {
		if !mode.Valid() {
			errs = append(errs, fmt.Errorf("unsupported transport %q", mode))
			continue
		}
		if !slices.Contains(out.SupportedTransports, mode) {
			out.SupportedTransports = append(out.SupportedTransports, mode)
		}
	}
	if out.Timeout < 0 {
		errs = append(errs, errors.New("timeout must not be negative"))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("mcpmgr: invalid backend %q: %w", out.Name, errors.Join(errs...))
	}
	if out.Env == nil {
		out.Env = map[string]string{}
	}
	if out.Toolset == "" {
		out.Toolset = DefaultToolset
	}
	return &out, nil
}

// Supports reports whether the backend can be served in mode.
func (d *BackendDescriptor) Supports(mode TransportMode) bool {
	return slices.Contains(d.SupportedTransports, mode)
}

// ToolNamespace returns the normalized namespace used to qualify tool names.
func (d *BackendDescriptor) ToolNamespace() string {
	return NormalizeNamespace(d.Namespace)
}

func (d *BackendDescriptor) clone() *BackendDescriptor {
	out := *d
	out.Args = slices.Clone(d.Args)
	out.Env = maps.Clone(d.Env)
	out.SupportedTransports = slices.Clone(d.SupportedTransports)
	return &out
}
