package mcpmgr

import (
	"fmt"
	"strings"
)

// TransportMode identifies how the gateway itself is exposed. Backends declare
// the modes they can serve; only compatible backends are connected.
type TransportMode string

const (
	TransportStdio TransportMode = "stdio"
	TransportHTTP  TransportMode = "http"
)

// ParseTransportMode parses a transport mode case-insensitively.
func ParseTransportMode(value string) (TransportMode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "stdio":
		return TransportStdio, nil
	case "http":
		return TransportHTTP, nil
	case "":
		return "", fmt.Errorf("mcpmgr: transport mode is empty")
	default:
		return "", fmt.Errorf("mcpmgr: invalid transport mode %q (expected stdio or http)", value)
	}
}

func (m TransportMode) String() string { return string(m) }

// Valid reports whether m is one of the known modes.
func (m TransportMode) Valid() bool {
	return m == TransportStdio || m == TransportHTTP
}

// IsStdio reports whether d can be served when the gateway runs over stdio.
func IsStdio(d *BackendDescriptor) bool { return d != nil && d.Supports(TransportStdio) }

// IsHTTP reports whether d can be served when the gateway runs over HTTP.
func IsHTTP(d *BackendDescriptor) bool { return d != nil && d.Supports(TransportHTTP) }
