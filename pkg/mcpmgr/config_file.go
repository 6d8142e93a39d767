package mcpmgr

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// backendEntry is the on-disk shape of one backend. Unknown fields are ignored.
type backendEntry struct {
	Name                string            `yaml:"name"`
	Namespace           string            `yaml:"namespace"`
	Command             string            `yaml:"command"`
	Args                []string          `yaml:"args"`
	Env                 map[string]string `yaml:"env"`
	SupportedTransports []string          `yaml:"supportedTransports"`
	Instructions        string            `yaml:"instructions"`
	Toolset             string            `yaml:"toolset"`
	Timeout             Duration          `yaml:"timeout"`
}

// LoadBackends reads a backend configuration file (JSON or YAML) and returns
// the validated descriptors in file order.
func LoadBackends(path string) ([]*BackendDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mcpmgr: read backend config %q: %w", path, err)
	}
	backends, err := ParseBackends(data)
	if err != nil {
		return nil, fmt.Errorf("mcpmgr: backend config %q: %w", path, err)
	}
	return backends, nil
}

// ParseBackends decodes a JSON or YAML array of backend objects. Every entry is
// validated before any descriptor is built; a *ValidationError lists all of
// the problems found. ${VAR} references in command, args and env values are
// expanded from the process environment.
func ParseBackends(data []byte) ([]*BackendDescriptor, error) {
	if strings.TrimSpace(string(data)) == "" {
		return nil, nil
	}
	var raw []map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("mcpmgr: backend config must be an array of objects: %w", err)
	}
	if err := ValidateRawConfigs(raw); err != nil {
		return nil, err
	}

	var entries []backendEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("mcpmgr: decode backend config: %w", err)
	}
	backends := make([]*BackendDescriptor, 0, len(entries))
	for i, entry := range entries {
		d, err := entry.descriptor()
		if err != nil {
			return nil, fmt.Errorf("mcpmgr: backend config entry %d: %w", i, err)
		}
		backends = append(backends, d)
	}
	return backends, nil
}

func (e backendEntry) descriptor() (*BackendDescriptor, error) {
	modes := make([]TransportMode, 0, len(e.SupportedTransports))
	for _, value := range e.SupportedTransports {
		mode, err := ParseTransportMode(value)
		if err != nil {
			return nil, err
		}
		modes = append(modes, mode)
	}
	args := make([]string, len(e.Args))
	for i, arg := range e.Args {
		args[i] = os.ExpandEnv(arg)
	}
	env := make(map[string]string, len(e.Env))
	for k, v := range e.Env {
		env[k] = os.ExpandEnv(v)
	}
	return NewBackendDescriptor(BackendDescriptor{
		Name:                e.Name,
		Namespace:           e.Namespace,
		Command:             os.ExpandEnv(e.Command),
		Args:                args,
		Env:                 env,
		SupportedTransports: modes,
		Instructions:        e.Instructions,
		Toolset:             e.Toolset,
		Timeout:             e.Timeout.Duration(),
	})
}

// ValidateRawConfigs checks decoded backend objects and reports every problem
// rather than stopping at the first: missing name or command, duplicate names,
// case-insensitively duplicate namespaces, wrongly typed args or env, and
// missing or invalid supportedTransports.
func ValidateRawConfigs(configs []map[string]any) error {
	var problems []string
	report := func(i int, format string, args ...any) {
		problems = append(problems, fmt.Sprintf("Config[%d]: ", i)+fmt.Sprintf(format, args...))
	}
	names := make(map[string]bool)
	namespaces := make(map[string]bool)

	for i, cfg := range configs {
		name, hasName := nonBlankString(cfg["name"])
		if !hasName {
			report(i, "Missing required field 'name'")
		} else if names[name] {
			report(i, "Duplicate name '%s'", name)
		} else {
			names[name] = true
		}

		namespace, hasNamespace := nonBlankString(cfg["namespace"])
		if !hasNamespace {
			namespace, hasNamespace = name, hasName
		}
		if hasNamespace {
			key := strings.ToLower(namespace)
			if namespaces[key] {
				report(i, "Duplicate namespace '%s'", namespace)
			} else {
				namespaces[key] = true
			}
		}

		if _, ok := nonBlankString(cfg["command"]); !ok {
			report(i, "Missing required field 'command'")
		}
		if args, ok := cfg["args"]; ok && args != nil {
			if _, isList := args.([]any); !isList {
				report(i, "Field 'args' must be an array")
			}
		}
		if env, ok := cfg["env"]; ok && env != nil {
			if _, isMap := env.(map[string]any); !isMap {
				report(i, "Field 'env' must be an object")
			}
		}

		transports, _ := cfg["supportedTransports"].([]any)
		if len(transports) == 0 {
			report(i, "Field 'supportedTransports' must be a non-empty array")
		}
		for _, item := range transports {
			value, _ := item.(string)
			if _, err := ParseTransportMode(value); err != nil {
				report(i, "Invalid transport '%v' in 'supportedTransports'", item)
			}
		}
	}
	if len(problems) > 0 {
		return &ValidationError{Errors: problems}
	}
	return nil
}

func nonBlankString(v any) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}
