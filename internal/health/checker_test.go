package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ── Helpers ──────────────────────────────────────────────────────────────

// switchServer answers 200 while healthy is set and 500 otherwise.
func switchServer(t *testing.T, healthy *atomic.Bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// ── Tests ────────────────────────────────────────────────────────────────

func TestProbeEndpoint_success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	checker := New(Config{ProbeTimeout: 5 * time.Second}, zap.NewNop())
	if !checker.probeEndpoint(context.Background(), srv.URL) {
		t.Error("expected probe to succeed")
	}
}

func TestProbeEndpoint_fallsBackToGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	checker := New(Config{ProbeTimeout: 5 * time.Second}, zap.NewNop())
	if !checker.probeEndpoint(context.Background(), srv.URL) {
		t.Error("expected GET fallback to succeed")
	}
}

func TestProbeEndpoint_failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	checker := New(Config{ProbeTimeout: 5 * time.Second}, zap.NewNop())
	if checker.probeEndpoint(context.Background(), srv.URL) {
		t.Error("expected probe to fail")
	}
}

func TestCheckOnce_degradesAfterThreshold(t *testing.T) {
	var healthy atomic.Bool
	srv := switchServer(t, &healthy)

	var changes []Status
	var probes, failures int
	checker := New(Config{Endpoint: srv.URL, ProbeTimeout: 5 * time.Second, FailThreshold: 3}, zap.NewNop())
	checker.SetStatusListener(func(s Status) { changes = append(changes, s) })
	checker.SetMetricsRecord(func(success bool) {
		probes++
		if !success {
			failures++
		}
	})

	if checker.Status() != StatusUnknown {
		t.Fatalf("initial status: got %q, want %q", checker.Status(), StatusUnknown)
	}

	for i := 0; i < 2; i++ {
		if got := checker.CheckOnce(context.Background()); got != StatusUnknown {
			t.Errorf("probe %d: got %q, want %q before threshold", i+1, got, StatusUnknown)
		}
	}
	if got := checker.CheckOnce(context.Background()); got != StatusDegraded {
		t.Errorf("at threshold: got %q, want %q", got, StatusDegraded)
	}

	healthy.Store(true)
	if got := checker.CheckOnce(context.Background()); got != StatusHealthy {
		t.Errorf("after recovery: got %q, want %q", got, StatusHealthy)
	}

	if probes != 4 || failures != 3 {
		t.Errorf("metrics: got %d probes / %d failures, want 4 / 3", probes, failures)
	}
	if len(changes) != 2 || changes[0] != StatusDegraded || changes[1] != StatusHealthy {
		t.Errorf("status changes: got %v", changes)
	}
	if checker.LastChecked().IsZero() {
		t.Error("LastChecked should be set")
	}
}

func TestStart_stopsOnContextCancel(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := switchServer(t, &healthy)

	checker := New(Config{Endpoint: srv.URL, CheckInterval: 10 * time.Millisecond}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		checker.Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for checker.Status() != StatusHealthy && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if checker.Status() != StatusHealthy {
		t.Fatalf("status: got %q, want %q", checker.Status(), StatusHealthy)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	checker := New(Config{Endpoint: "http://127.0.0.1:1/v1/health"}, zap.NewNop())
	r.GET("/health", Handler(Info{Backend: "http://localhost:8000", Model: "llama", Port: 7373}, checker))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var body struct {
		Status   string `json:"status"`
		Backend  string `json:"backend"`
		Model    string `json:"model"`
		Port     int    `json:"port"`
		Upstream string `json:"upstream"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "healthy" || body.Backend != "http://localhost:8000" || body.Model != "llama" || body.Port != 7373 {
		t.Errorf("got %+v", body)
	}
	if body.Upstream != string(StatusUnknown) {
		t.Errorf("upstream: got %q, want %q", body.Upstream, StatusUnknown)
	}
}

func TestRegisterGRPC_followsChecker(t *testing.T) {
	var healthy atomic.Bool
	srv := switchServer(t, &healthy)

	checker := New(Config{Endpoint: srv.URL, FailThreshold: 1}, zap.NewNop())
	gs := grpc.NewServer()
	defer gs.Stop()
	hs := RegisterGRPC(gs, checker)

	check := func() healthpb.HealthCheckResponse_ServingStatus {
		resp, err := hs.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
		return resp.GetStatus()
	}

	if got := check(); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("before first probe: got %v, want SERVING", got)
	}

	checker.CheckOnce(context.Background())
	if got := check(); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("degraded: got %v, want NOT_SERVING", got)
	}

	healthy.Store(true)
	checker.CheckOnce(context.Background())
	if got := check(); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("recovered: got %v, want SERVING", got)
	}
}
