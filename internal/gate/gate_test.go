package gate

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/localrivet/toolgate/internal/telemetry"
)

const chromeUA = "Mozilla/5.0 (Macintosh) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func loopbackPolicy() Policy {
	return Policy{AllowExternalAccess: false, ExpectedPort: 8181}
}

func headersWith(pairs map[string]string) http.Header {
	h := http.Header{}
	for name, value := range pairs {
		h.Set(name, value)
	}
	return h
}

// TestEvaluate covers the admission decision branch by branch.
func TestEvaluate(t *testing.T) {
	testCases := []struct {
		name       string
		headers    map[string]string
		policy     Policy
		wantAllow  bool
		wantReason string
	}{
		{
			name:       "evil origin rejected",
			headers:    map[string]string{"Origin": "http://evil.com"},
			policy:     loopbackPolicy(),
			wantAllow:  false,
			wantReason: ReasonInvalidOrigin,
		},
		{
			name:      "local origin allowed",
			headers:   map[string]string{"Origin": "http://localhost:8181"},
			policy:    loopbackPolicy(),
			wantAllow: true,
		},
		{
			name:       "browser without origin rejected",
			headers:    map[string]string{"User-Agent": chromeUA},
			policy:     loopbackPolicy(),
			wantAllow:  false,
			wantReason: ReasonBrowserNoOrigin,
		},
		{
			name:      "curl without origin allowed",
			headers:   map[string]string{"User-Agent": "curl/8.0"},
			policy:    loopbackPolicy(),
			wantAllow: true,
		},
		{
			name:       "rebound host rejected",
			headers:    map[string]string{"Host": "evil.com:8181", "User-Agent": "curl/8.0"},
			policy:     loopbackPolicy(),
			wantAllow:  false,
			wantReason: ReasonInvalidHost,
		},
		{
			name:      "matching host allowed",
			headers:   map[string]string{"Host": "127.0.0.1:8181", "User-Agent": "curl/8.0"},
			policy:    loopbackPolicy(),
			wantAllow: true,
		},
		{
			name:       "wrong port rejected",
			headers:    map[string]string{"Host": "127.0.0.1:9999"},
			policy:     loopbackPolicy(),
			wantAllow:  false,
			wantReason: ReasonInvalidHost,
		},
		{
			name:       "suspicious referer rejected",
			headers:    map[string]string{"Referer": "http://attacker.example/page"},
			policy:     loopbackPolicy(),
			wantAllow:  false,
			wantReason: ReasonSuspiciousReferer,
		},
		{
			name: "suspicious referer rejected despite valid host",
			headers: map[string]string{
				"Host":       "localhost:8181",
				"Referer":    "http://evil.com/csrf",
				"User-Agent": "curl/8.0",
			},
			policy:     loopbackPolicy(),
			wantAllow:  false,
			wantReason: ReasonSuspiciousReferer,
		},
		{
			name: "local referer with valid host allowed",
			headers: map[string]string{
				"Host":       "localhost:8181",
				"Referer":    "http://localhost:8181/app",
				"User-Agent": "curl/8.0",
			},
			policy:    loopbackPolicy(),
			wantAllow: true,
		},
		{
			name: "external access bypasses all checks",
			headers: map[string]string{
				"Origin":     "http://evil.com",
				"Host":       "evil.com:9999",
				"Referer":    "http://evil.com/csrf",
				"User-Agent": chromeUA,
			},
			policy:    Policy{AllowExternalAccess: true, ExpectedPort: 8181},
			wantAllow: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			verdict := Evaluate(headersWith(tc.headers), tc.policy)
			if verdict.Allowed != tc.wantAllow {
				t.Fatalf("Evaluate() allowed = %v, want %v (reason %q)",
					verdict.Allowed, tc.wantAllow, verdict.Reason)
			}
			if !tc.wantAllow {
				if verdict.StatusCode != http.StatusForbidden {
					t.Errorf("Expected status 403, got %d", verdict.StatusCode)
				}
				if verdict.Reason != tc.wantReason {
					t.Errorf("Expected reason %q, got %q", tc.wantReason, verdict.Reason)
				}
			}
		})
	}
}

// TestMiddlewareRejection verifies a rejected request gets an empty-body
// 403 and never reaches the protocol handler.
func TestMiddlewareRejection(t *testing.T) {
	var reached bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	})

	var hookReason string
	g := New(loopbackPolicy(), Options{
		OnReject: func(r *http.Request, reason string) {
			hookReason = reason
		},
	})

	req := httptest.NewRequest(http.MethodPost, "http://localhost:8181/mcp", nil)
	req.Header.Set("Origin", "http://evil.com")
	rec := httptest.NewRecorder()

	g.Middleware(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("Expected empty body, got %q", rec.Body.String())
	}
	if reached {
		t.Error("Protocol handler should not run for rejected requests")
	}
	if hookReason != ReasonInvalidOrigin {
		t.Errorf("Expected rejection hook reason %q, got %q", ReasonInvalidOrigin, hookReason)
	}
}

// TestMiddlewareHostileReferer verifies a cross-site Referer is rejected
// even though the request carries the valid Host header every HTTP request
// has.
func TestMiddlewareHostileReferer(t *testing.T) {
	var reached bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	})

	var hookReason string
	g := New(loopbackPolicy(), Options{
		OnReject: func(r *http.Request, reason string) {
			hookReason = reason
		},
	})

	req := httptest.NewRequest(http.MethodPost, "http://localhost:8181/mcp", nil)
	req.Header.Set("Referer", "http://evil.com/csrf")
	req.Header.Set("User-Agent", "curl/8.0")
	rec := httptest.NewRecorder()

	g.Middleware(next).ServeHTTP(rec, req)

	if req.Host != "localhost:8181" {
		t.Fatalf("Expected the request to carry a Host value, got %q", req.Host)
	}
	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", rec.Code)
	}
	if reached {
		t.Error("Protocol handler should not run for rejected requests")
	}
	if hookReason != ReasonSuspiciousReferer {
		t.Errorf("Expected rejection hook reason %q, got %q", ReasonSuspiciousReferer, hookReason)
	}
}

// TestMiddlewareSecurityHeaders verifies every allowed response carries the
// four fixed security headers.
func TestMiddlewareSecurityHeaders(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	g := New(loopbackPolicy(), Options{})

	req := httptest.NewRequest(http.MethodPost, "http://localhost:8181/mcp", nil)
	req.Header.Set("Origin", "http://localhost:8181")
	rec := httptest.NewRecorder()

	g.Middleware(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}

	expected := map[string]string{
		"X-Frame-Options":         "DENY",
		"X-Content-Type-Options":  "nosniff",
		"Referrer-Policy":         "same-origin",
		"Content-Security-Policy": "default-src 'none'",
	}
	for name, want := range expected {
		if got := rec.Header().Get(name); got != want {
			t.Errorf("Header %s = %q, want %q", name, got, want)
		}
	}
}

// TestMiddlewarePreflight verifies OPTIONS from a trusted local origin is
// answered with the CORS policy and never forwarded.
func TestMiddlewarePreflight(t *testing.T) {
	var reached bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	})

	g := New(loopbackPolicy(), Options{})

	req := httptest.NewRequest(http.MethodOptions, "http://localhost:8181/mcp", nil)
	req.Header.Set("Origin", "http://localhost:8181")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()

	g.Middleware(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("Expected status 204, got %d", rec.Code)
	}
	if reached {
		t.Error("Preflight should not reach the protocol handler")
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:8181" {
		t.Errorf("Allow-Origin = %q, want the requesting origin", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); got != "Content-Type, Accept, Last-Event-ID" {
		t.Errorf("Unexpected Allow-Headers: %q", got)
	}
	if got := rec.Header().Get("Access-Control-Max-Age"); got != "3600" {
		t.Errorf("Unexpected Max-Age: %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "" {
		t.Errorf("Credentials must never be allowed, got %q", got)
	}
}

// TestMiddlewareMetrics verifies the collector sees allowed and rejected
// requests under concurrent load.
func TestMiddlewareMetrics(t *testing.T) {
	metrics := telemetry.NewMetricsCollector()
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	g := New(loopbackPolicy(), Options{Metrics: metrics})
	handler := g.Middleware(next)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(evil bool) {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, "http://localhost:8181/mcp", nil)
			if evil {
				req.Header.Set("Origin", "http://evil.com")
			} else {
				req.Header.Set("User-Agent", "curl/8.0")
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)
		}(i%2 == 0)
	}
	wg.Wait()

	if got := metrics.GetCounter(telemetry.MetricGateAllowed); got != 10 {
		t.Errorf("Expected 10 allowed, got %d", got)
	}
	if got := metrics.GetCounter(telemetry.MetricGateRejectedOrigin); got != 10 {
		t.Errorf("Expected 10 origin rejections, got %d", got)
	}
}
