// Package gate implements the per-request admission decision that protects
// a loopback-bound MCP endpoint against DNS-rebinding and cross-origin
// browser attacks. It is installed as http.Handler middleware in front of
// the protocol handler and decides, from request metadata alone, whether a
// connection is a legitimate local client.
//
// The gate holds no mutable state of its own, so a single Gate value is
// safe to share across the HTTP engine's request-handling goroutines.
package gate

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/localrivet/toolgate/internal/origin"
	"github.com/localrivet/toolgate/internal/telemetry"
)

// Rejection reasons. Reasons are logged and audited server-side only; the
// client sees a bare 403 so the response does not aid an attacker.
const (
	ReasonInvalidOrigin     = "invalid origin: possible DNS rebinding"
	ReasonBrowserNoOrigin   = "browser request without Origin header"
	ReasonInvalidHost       = "invalid host: possible DNS rebinding"
	ReasonSuspiciousReferer = "suspicious referer"
)

// Fixed security response headers attached to every allowed response.
var securityHeaders = map[string]string{
	"X-Frame-Options":         "DENY",
	"X-Content-Type-Options":  "nosniff",
	"Referrer-Policy":         "same-origin",
	"Content-Security-Policy": "default-src 'none'",
}

// CORS policy for browser clients on a trusted local origin: GET/POST with
// no credentials, a minimal request-header allowlist, preflight cacheable
// for an hour.
const (
	corsAllowMethods = "GET, POST, OPTIONS"
	corsAllowHeaders = "Content-Type, Accept, Last-Event-ID"
	corsMaxAge       = 3600
)

// Policy is the static bind-derived input to every admission decision.
// When AllowExternalAccess is true the operator has explicitly exposed the
// port beyond loopback and all origin/host/referer/browser checks are
// skipped.
type Policy struct {
	AllowExternalAccess bool
	ExpectedPort        int
}

// Verdict is the outcome of evaluating one request. A Verdict is computed
// fresh per request and never cached: the decision depends only on that
// request's headers and the static Policy.
type Verdict struct {
	Allowed    bool
	StatusCode int
	Reason     string
	Headers    map[string]string
}

// allow builds the ALLOW verdict carrying the fixed security headers.
func allow() Verdict {
	return Verdict{Allowed: true, StatusCode: http.StatusOK, Headers: securityHeaders}
}

// reject builds a 403 verdict with a server-side reason.
func reject(reason string) Verdict {
	return Verdict{Allowed: false, StatusCode: http.StatusForbidden, Reason: reason}
}

// Evaluate decides whether a request with the given headers may proceed
// under the policy. It is a pure function of its inputs.
func Evaluate(headers http.Header, policy Policy) Verdict {
	if policy.AllowExternalAccess {
		return allow()
	}

	originHeader := headers.Get("Origin")
	if originHeader != "" {
		if !origin.IsValidOrigin(originHeader) {
			return reject(ReasonInvalidOrigin)
		}
	} else if origin.IsBrowserRequest(headers.Get("User-Agent")) {
		// A browser issuing a cross-site-capable request sends an Origin
		// header; a browser UA without one is suspicious. Non-browser
		// clients legitimately omit both.
		return reject(ReasonBrowserNoOrigin)
	}

	if hostHeader := headers.Get("Host"); hostHeader != "" {
		if !origin.IsValidHost(hostHeader, policy.ExpectedPort) {
			return reject(ReasonInvalidHost)
		}
	}

	// The referer check applies whenever the host check did not reject,
	// including when a valid Host header is present.
	if refererHeader := headers.Get("Referer"); refererHeader != "" {
		if !origin.IsValidReferer(refererHeader) {
			return reject(ReasonSuspiciousReferer)
		}
	}

	return allow()
}

// RejectionHook is invoked for every rejected request, after logging and
// before the 403 is written. Implementations must be safe for concurrent
// use; the audit store adapter is the usual implementation.
type RejectionHook func(r *http.Request, reason string)

// Gate evaluates requests against a fixed policy and reports outcomes to
// the logger, metrics collector, and optional rejection hook.
type Gate struct {
	policy   Policy
	logger   *slog.Logger
	metrics  *telemetry.MetricsCollector
	onReject RejectionHook
}

// Options configures a Gate. Logger defaults to slog.Default; Metrics and
// OnReject may be nil.
type Options struct {
	Logger   *slog.Logger
	Metrics  *telemetry.MetricsCollector
	OnReject RejectionHook
}

// New creates a Gate enforcing the given policy.
func New(policy Policy, opts Options) *Gate {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		policy:   policy,
		logger:   logger,
		metrics:  opts.Metrics,
		onReject: opts.OnReject,
	}
}

// Policy returns the policy the gate enforces.
func (g *Gate) Policy() Policy {
	return g.policy
}

// Middleware wraps the protocol handler with the admission decision. The
// returned handler rejects with an empty-body 403, answers CORS preflights
// for trusted local origins, and stamps security headers on every allowed
// response before delegating to next.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		verdict := Evaluate(requestHeaders(r), g.policy)
		if !verdict.Allowed {
			g.rejected(r, verdict)
			w.WriteHeader(verdict.StatusCode)
			return
		}

		for name, value := range verdict.Headers {
			w.Header().Set(name, value)
		}

		originHeader := r.Header.Get("Origin")
		if originHeader != "" && (g.policy.AllowExternalAccess || origin.IsValidOrigin(originHeader)) {
			writeCORSHeaders(w.Header(), originHeader)
		}

		if r.Method == http.MethodOptions {
			// Preflight is answered here; the protocol handler never
			// sees OPTIONS requests.
			g.count(telemetry.MetricGatePreflight)
			w.WriteHeader(http.StatusNoContent)
			return
		}

		g.count(telemetry.MetricGateAllowed)
		next.ServeHTTP(w, r)
	})
}

// rejected logs the offending header values, updates metrics, and notifies
// the rejection hook. The client response carries no explanation.
func (g *Gate) rejected(r *http.Request, verdict Verdict) {
	g.logger.Warn("Rejected request at security gate",
		"reason", verdict.Reason,
		"origin", r.Header.Get("Origin"),
		"host", r.Host,
		"referer", r.Header.Get("Referer"),
		"user_agent", r.Header.Get("User-Agent"),
		"remote_addr", r.RemoteAddr,
		"method", r.Method,
		"path", r.URL.Path)

	switch verdict.Reason {
	case ReasonInvalidOrigin:
		g.count(telemetry.MetricGateRejectedOrigin)
	case ReasonBrowserNoOrigin:
		g.count(telemetry.MetricGateRejectedBrowser)
	case ReasonInvalidHost:
		g.count(telemetry.MetricGateRejectedHost)
	case ReasonSuspiciousReferer:
		g.count(telemetry.MetricGateRejectedReferer)
	}

	if g.onReject != nil {
		g.onReject(r, verdict.Reason)
	}
}

func (g *Gate) count(name string) {
	if g.metrics != nil {
		g.metrics.IncrementCounter(name, 1)
	}
}

// requestHeaders returns the request headers with the Host value folded
// back in. net/http strips Host from r.Header and stores it on the
// request, so the pure Evaluate function would otherwise never see it.
func requestHeaders(r *http.Request) http.Header {
	headers := r.Header.Clone()
	if r.Host != "" {
		headers.Set("Host", r.Host)
	}
	return headers
}

// writeCORSHeaders grants a trusted local origin cross-origin access with
// no credentials.
func writeCORSHeaders(h http.Header, originValue string) {
	h.Set("Access-Control-Allow-Origin", originValue)
	h.Add("Vary", "Origin")
	h.Set("Access-Control-Allow-Methods", corsAllowMethods)
	h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
	h.Set("Access-Control-Max-Age", strconv.Itoa(corsMaxAge))
}

// SecurityHeaders returns a copy of the fixed security response headers.
func SecurityHeaders() map[string]string {
	copied := make(map[string]string, len(securityHeaders))
	for name, value := range securityHeaders {
		copied[name] = value
	}
	return copied
}
