package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// ── Helpers ──────────────────────────────────────────────────────────────

func setupTestRouter(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw...)
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	r.POST("/echo", func(c *gin.Context) {
		b, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatus(http.StatusRequestEntityTooLarge)
			return
		}
		c.Data(http.StatusOK, "text/plain", b)
	})
	return r
}

func get(r http.Handler, path string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ── Tests ────────────────────────────────────────────────────────────────

func TestRateLimiter_rejectsOverBurst(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := setupTestRouter(RateLimiter(ctx, 1, 2, nil))

	for i := 0; i < 2; i++ {
		if w := get(r, "/ping"); w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, w.Code)
		}
	}
	w := get(r, "/ping")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") != "1" {
		t.Errorf("Retry-After: got %q", w.Header().Get("Retry-After"))
	}
}

func TestRateLimiter_perClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := setupTestRouter(RateLimiter(ctx, 1, 1, nil))

	req := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}
	if code := req("10.0.0.1:1000"); code != http.StatusOK {
		t.Fatalf("first client: got %d", code)
	}
	if code := req("10.0.0.2:1000"); code != http.StatusOK {
		t.Errorf("second client should have its own bucket, got %d", code)
	}
	if code := req("10.0.0.1:1001"); code != http.StatusTooManyRequests {
		t.Errorf("first client again: got %d, want 429", code)
	}
}

func TestRateLimiter_headerKey(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := setupTestRouter(RateLimiter(ctx, 1, 1, HeaderKey("X-Client-ID")))

	// All requests share one remote address, as they would behind a proxy.
	req := func(clientID string) int {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "10.0.0.9:1000"
		if clientID != "" {
			req.Header.Set("X-Client-ID", clientID)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}
	if code := req("alpha"); code != http.StatusOK {
		t.Fatalf("alpha: got %d", code)
	}
	if code := req("beta"); code != http.StatusOK {
		t.Errorf("beta should have its own bucket, got %d", code)
	}
	if code := req("alpha"); code != http.StatusTooManyRequests {
		t.Errorf("alpha again: got %d, want 429", code)
	}
	if code := req(""); code != http.StatusOK {
		t.Errorf("no header should fall back to the client IP bucket, got %d", code)
	}
	if code := req(""); code != http.StatusTooManyRequests {
		t.Errorf("client IP again: got %d, want 429", code)
	}
}

func TestRateLimiter_retryAfterFollowsRate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := setupTestRouter(RateLimiter(ctx, 10, 1, nil))

	get(r, "/ping")
	w := get(r, "/ping")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") != "1" {
		t.Errorf("Retry-After: got %q, want 1", w.Header().Get("Retry-After"))
	}
}

func TestBuckets_sweepDropsIdle(t *testing.T) {
	set := &buckets{rps: 1, burst: 1, m: make(map[string]*bucket)}
	start := time.Now()
	set.take("old", start)
	set.take("fresh", start.Add(9*time.Minute))

	if n := set.sweep(start.Add(11*time.Minute), 10*time.Minute); n != 1 {
		t.Errorf("dropped: got %d, want 1", n)
	}
	if set.size() != 1 {
		t.Fatalf("remaining: got %d, want 1", set.size())
	}
	if !set.take("old", start.Add(11*time.Minute)) {
		t.Error("a swept client should start with a full bucket")
	}
}

func TestSecurityHeaders(t *testing.T) {
	w := get(setupTestRouter(SecurityHeaders()), "/ping")
	want := map[string]string{
		"X-Frame-Options":        "DENY",
		"X-Content-Type-Options": "nosniff",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	}
	for k, v := range want {
		if got := w.Header().Get(k); got != v {
			t.Errorf("%s: got %q, want %q", k, got, v)
		}
	}
}

func TestBodyLimit(t *testing.T) {
	r := setupTestRouter(BodyLimit(8))

	post := func(body string) int {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(body)))
		return w.Code
	}
	if code := post("short"); code != http.StatusOK {
		t.Errorf("small body: got %d, want 200", code)
	}
	if code := post("much longer than eight bytes"); code != http.StatusRequestEntityTooLarge {
		t.Errorf("large body: got %d, want 413", code)
	}
}

func TestCORS_allowsConfiguredOrigin(t *testing.T) {
	r := setupTestRouter(CORS([]string{"http://localhost"}))

	w := get(r, "/ping", "Origin", "http://localhost")
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost" {
		t.Errorf("allowed origin: got %q", got)
	}

	w = get(r, "/ping", "Origin", "http://evil.example")
	if w.Code != http.StatusForbidden {
		t.Errorf("foreign origin: got %d, want 403", w.Code)
	}
}

func TestCORS_wildcard(t *testing.T) {
	w := get(setupTestRouter(CORS([]string{"*"})), "/ping", "Origin", "http://any.example")
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("got %q, want *", got)
	}
	if w.Header().Get("Access-Control-Allow-Credentials") != "" {
		t.Error("wildcard origins must not allow credentials")
	}
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	r := setupTestRouter(RequestLogger(zap.New(core), "/ping"))
	r.GET("/loud", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	get(r, "/ping")
	get(r, "/loud")

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.DebugLevel {
		t.Errorf("quiet path level: got %v", entries[0].Level)
	}
	if entries[1].Level != zapcore.InfoLevel {
		t.Errorf("loud path level: got %v", entries[1].Level)
	}
	fields := entries[1].ContextMap()
	if fields["path"] != "/loud" || fields["status"] != int64(http.StatusNoContent) {
		t.Errorf("fields: got %v", fields)
	}
}
