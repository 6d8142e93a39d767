package mcpmgr

import (
	"reflect"
	"strings"
	"testing"
)

func TestParseTransportMode(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]TransportMode{
		"stdio": TransportStdio, "STDIO": TransportStdio, " Http ": TransportHTTP,
	} {
		got, err := ParseTransportMode(in)
		if err != nil || got != want {
			t.Fatalf("ParseTransportMode(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	for _, in := range []string{"", "  ", "sse", "websocket"} {
		if _, err := ParseTransportMode(in); err == nil {
			t.Fatalf("ParseTransportMode(%q) should fail", in)
		}
	}
}

func TestNewBackendDescriptorDefaultsAndCopies(t *testing.T) {
	t.Parallel()

	args := []string{"serve"}
	env := map[string]string{"A": "B"}
	d, err := NewBackendDescriptor(BackendDescriptor{
		Name:                "  echo ",
		Command:             "sh",
		Args:                args,
		Env:                 env,
		SupportedTransports: []TransportMode{TransportStdio, TransportStdio},
	})
	if err != nil {
		t.Fatalf("NewBackendDescriptor: %v", err)
	}
	if d.Name != "echo" || d.Namespace != "echo" {
		t.Fatalf("name/namespace = %q/%q, want trimmed name as namespace", d.Name, d.Namespace)
	}
	if !reflect.DeepEqual(d.SupportedTransports, []TransportMode{TransportStdio}) {
		t.Fatalf("transports not deduplicated: %v", d.SupportedTransports)
	}
	if d.Toolset != DefaultToolset {
		t.Fatalf("toolset = %q, want %q", d.Toolset, DefaultToolset)
	}
	args[0] = "mutated"
	env["A"] = "mutated"
	if d.Args[0] != "serve" || d.Env["A"] != "B" {
		t.Fatalf("descriptor shares caller slices or maps")
	}
	if !IsStdio(d) || IsHTTP(d) || IsStdio(nil) {
		t.Fatalf("IsStdio/IsHTTP mismatch")
	}
}

func TestNewBackendDescriptorRejectsBlankFields(t *testing.T) {
	t.Parallel()

	valid := BackendDescriptor{Name: "n", Command: "c", SupportedTransports: []TransportMode{TransportHTTP}}
	cases := map[string]func(*BackendDescriptor){
		"blank name":      func(d *BackendDescriptor) { d.Name = " " },
		"blank command":   func(d *BackendDescriptor) { d.Command = "" },
		"no transports":   func(d *BackendDescriptor) { d.SupportedTransports = nil },
		"bad transport":   func(d *BackendDescriptor) { d.SupportedTransports = []TransportMode{"grpc"} },
		"negative timout": func(d *BackendDescriptor) { d.Timeout = -1 },
	}
	for name, mutate := range cases {
		d := valid
		mutate(&d)
		if _, err := NewBackendDescriptor(d); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := NewBackendDescriptor(valid); err != nil {
		t.Fatalf("valid descriptor rejected: %v", err)
	}
}

func TestNamespaceQualification(t *testing.T) {
	t.Parallel()

	if got := NormalizeNamespace(" My.Server/v2 "); got != "my_server_v2" {
		t.Fatalf("NormalizeNamespace = %q", got)
	}
	ns := ServerPrefixNamespace{}
	qualified := ns.ToolName("alpha", "search")
	if qualified != "alpha__search" {
		t.Fatalf("ToolName = %q", qualified)
	}
	native, ok := ns.NativeToolName("alpha", qualified)
	if !ok || native != "search" {
		t.Fatalf("NativeToolName = %q, %v", native, ok)
	}
	if _, ok := ns.NativeToolName("bravo", qualified); ok {
		t.Fatalf("decode should fail when namespaces differ")
	}
	if got := (ServerPrefixNamespace{Separator: "/"}).ToolName("alpha", "search"); got != "alpha/search" {
		t.Fatalf("custom separator ToolName = %q", got)
	}
}

func TestValidateToolName(t *testing.T) {
	t.Parallel()

	for _, ok := range []string{"a", "ns__tool", "a.b-c/d_e", strings.Repeat("x", 64)} {
		if err := ValidateToolName(ok); err != nil {
			t.Fatalf("ValidateToolName(%q): %v", ok, err)
		}
	}
	for _, bad := range []string{"", strings.Repeat("x", 65), "has space", "emoji☃", "semi;colon"} {
		if err := ValidateToolName(bad); err == nil {
			t.Fatalf("ValidateToolName(%q) should fail", bad)
		}
	}
}

func TestBackendUnavailableMessages(t *testing.T) {
	t.Parallel()

	if got := (&BackendUnavailableError{Backend: "a", Reason: "boom"}).Error(); got != "Service unavailable: boom" {
		t.Fatalf("with reason = %q", got)
	}
	if got := (&BackendUnavailableError{Backend: "a"}).Error(); got != "Service connection not established" {
		t.Fatalf("without reason = %q", got)
	}
}
