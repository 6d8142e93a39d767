package mcpgateway

import (
	"context"
	"net/http"
	"strconv"
	"strings"
)

// Default request header names.
const (
	DefaultTokenHeader        = "MCP_TOKEN"
	DefaultOrganizationHeader = "MCP_ORG"
	DefaultToolsetsHeader     = "MCP_TOOLSETS"
	DefaultReadOnlyHeader     = "MCP_READ_ONLY"
)

// HeaderNames names the HTTP headers a RequestContext is derived from.
type HeaderNames struct {
	Token        string
	Organization string
	Toolsets     string
	ReadOnly     string
}

func (h HeaderNames) withDefaults() HeaderNames {
	if h.Token == "" {
		h.Token = DefaultTokenHeader
	}
	if h.Organization == "" {
		h.Organization = DefaultOrganizationHeader
	}
	if h.Toolsets == "" {
		h.Toolsets = DefaultToolsetsHeader
	}
	if h.ReadOnly == "" {
		h.ReadOnly = DefaultReadOnlyHeader
	}
	return h
}

func (h HeaderNames) list() []string {
	return []string{h.Token, h.Organization, h.Toolsets, h.ReadOnly}
}

// RequestContext carries the per-request values derived from transport
// metadata. It lives for the duration of one request.
type RequestContext struct {
	Token        string
	Organization string
	// Toolsets restricts visible categories when HasToolsets is set.
	Toolsets    CategorySet
	HasToolsets bool
	ReadOnly    bool
}

// Narrows reports whether the request asks for any narrowing of the tool set.
func (rc RequestContext) Narrows() bool {
	return rc.HasToolsets || rc.ReadOnly
}

// RequestContextFromHeaders derives a RequestContext from HTTP headers.
// Header lookups are case-insensitive. A read-only value that does not parse
// as a boolean counts as false.
func RequestContextFromHeaders(header http.Header, names HeaderNames) RequestContext {
	names = names.withDefaults()
	rc := RequestContext{
		Token:        strings.TrimSpace(header.Get(names.Token)),
		Organization: strings.TrimSpace(header.Get(names.Organization)),
	}
	if toolsets := header.Get(names.Toolsets); strings.TrimSpace(toolsets) != "" {
		rc.Toolsets = ParseCategories(toolsets)
		rc.HasToolsets = true
	}
	if readOnly, err := strconv.ParseBool(strings.TrimSpace(header.Get(names.ReadOnly))); err == nil {
		rc.ReadOnly = readOnly
	}
	return rc
}

type requestContextKey struct{}

// WithRequestContext returns a child context carrying rc.
func WithRequestContext(ctx context.Context, rc RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc)
}

// RequestContextFrom returns the RequestContext stored in ctx, if any.
func RequestContextFrom(ctx context.Context) (RequestContext, bool) {
	if ctx == nil {
		return RequestContext{}, false
	}
	rc, ok := ctx.Value(requestContextKey{}).(RequestContext)
	return rc, ok
}
