package mcpgateway

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/cors"
)

// ErrOriginRejected is logged when a request from a disallowed origin is
// refused at the HTTP boundary.
var ErrOriginRejected = errors.New("mcpgateway: origin not allowed")

const (
	corsAllowMethods  = "GET, POST, DELETE, OPTIONS"
	corsExposeHeaders = "Mcp-Session-Id"
	corsMaxAge        = 3600

	requestIDHeader = "X-Request-Id"
)

var loopbackOriginHosts = []string{"localhost", "127.0.0.1", "::1"}

// OriginPolicy decides which browser origins may reach a gateway bound to
// Host. A wildcard bind accepts every origin, a loopback bind accepts only
// loopback origins, and any other bind accepts none.
type OriginPolicy struct {
	Host string
}

// Wildcard reports whether the bind host listens on every interface.
func (p OriginPolicy) Wildcard() bool {
	host := strings.Trim(strings.TrimSpace(p.Host), "[]")
	return host == "0.0.0.0" || host == "::"
}

// Loopback reports whether the bind host is a loopback address.
func (p OriginPolicy) Loopback() bool {
	host := strings.Trim(strings.TrimSpace(p.Host), "[]")
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Allows reports whether a request carrying the given Origin header value may
// be served.
func (p OriginPolicy) Allows(origin string) bool {
	switch {
	case p.Wildcard():
		return true
	case p.Loopback():
		u, err := url.Parse(origin)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return false
		}
		host := strings.ToLower(u.Hostname())
		for _, allowed := range loopbackOriginHosts {
			if host == allowed {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// originGuard applies the OriginPolicy and CORS headers in front of next.
// Preflight requests always succeed; any other request from a disallowed
// origin receives a 403 and never reaches next.
type originGuard struct {
	policy       OriginPolicy
	allowHeaders []string
	preflight    *cors.Cors
	actual       *cors.Cors
	logger       *slog.Logger
}

func newOriginGuard(policy OriginPolicy, headers HeaderNames, logger *slog.Logger) *originGuard {
	if logger == nil {
		logger = slog.Default()
	}
	allowHeaders := append([]string{"Content-Type", "Accept", "Mcp-Session-Id", "Last-Event-ID"}, headers.withDefaults().list()...)
	methods := strings.Split(strings.ReplaceAll(corsAllowMethods, " ", ""), ",")
	base := cors.Options{
		AllowedMethods:       methods,
		AllowedHeaders:       allowHeaders,
		ExposedHeaders:       []string{corsExposeHeaders},
		MaxAge:               corsMaxAge,
		OptionsSuccessStatus: http.StatusOK,
	}
	preflight := base
	preflight.AllowOriginFunc = func(string) bool { return true }
	actual := base
	actual.AllowOriginFunc = policy.Allows
	return &originGuard{
		policy:       policy,
		allowHeaders: allowHeaders,
		preflight:    cors.New(preflight),
		actual:       cors.New(actual),
		logger:       logger,
	}
}

func (o *originGuard) Wrap(next http.Handler) http.Handler {
	preflight := o.preflight.Handler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	actual := o.actual.Handler(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.setStaticHeaders(w.Header())
		if r.Method == http.MethodOptions {
			if r.Header.Get("Access-Control-Request-Method") != "" {
				preflight.ServeHTTP(w, r)
				return
			}
			w.WriteHeader(http.StatusOK)
			return
		}
		if origin := r.Header.Get("Origin"); origin != "" && !o.policy.Allows(origin) {
			o.logger.Warn("rejected request", "error", ErrOriginRejected, "origin", origin, "request_id", w.Header().Get(requestIDHeader))
			writeRPCError(w, http.StatusForbidden, nil, codeInvalidRequest, "Origin not allowed")
			return
		}
		actual.ServeHTTP(w, r)
	})
}

func (o *originGuard) setStaticHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Methods", corsAllowMethods)
	h.Set("Access-Control-Allow-Headers", strings.Join(o.allowHeaders, ", "))
	h.Set("Access-Control-Expose-Headers", corsExposeHeaders)
	h.Set("Access-Control-Max-Age", "3600")
}

// withRequestID tags every response with a correlation ID, reusing the
// caller's X-Request-Id when present.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}
