// Package health tracks the reachability of the upstream completion service
// and exposes it over HTTP and gRPC.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status is the probe state of the upstream.
type Status string

const (
	StatusUnknown  Status = "unknown"
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
)

// Config holds health check configuration.
type Config struct {
	Endpoint      string // full URL probed, e.g. http://localhost:8000/v1/health
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	FailThreshold int
}

// MetricsRecordFunc is an optional callback for recording health check results.
type MetricsRecordFunc func(success bool)

// StatusListener is called whenever the upstream status changes.
type StatusListener func(Status)

// Checker runs periodic upstream health probes.
type Checker struct {
	httpClient *http.Client
	cfg        Config

	mu          sync.Mutex
	status      Status
	failCount   int
	lastChecked time.Time

	onMetrics MetricsRecordFunc
	onStatus  StatusListener
	logger    *zap.Logger
}

// New creates a new Checker. The status is unknown until the first probe.
func New(cfg Config, logger *zap.Logger) *Checker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}

	return &Checker{
		httpClient: &http.Client{Timeout: cfg.ProbeTimeout},
		cfg:        cfg,
		status:     StatusUnknown,
		logger:     logger,
	}
}

// SetMetricsRecord configures the metrics recording callback.
func (h *Checker) SetMetricsRecord(fn MetricsRecordFunc) {
	h.onMetrics = fn
}

// SetStatusListener configures the status change callback.
func (h *Checker) SetStatusListener(fn StatusListener) {
	h.onStatus = fn
}

// Status returns the current upstream status.
func (h *Checker) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// LastChecked returns the time of the last completed probe.
func (h *Checker) LastChecked() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastChecked
}

// Start probes once immediately and then every CheckInterval until ctx is done.
func (h *Checker) Start(ctx context.Context) {
	h.CheckOnce(ctx)

	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.CheckOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// CheckOnce probes the upstream and returns the resulting status.
//
// A success marks the upstream healthy. Failures are counted and the
// upstream becomes degraded exactly when the count reaches FailThreshold.
func (h *Checker) CheckOnce(ctx context.Context) Status {
	success := h.probeEndpoint(ctx, h.cfg.Endpoint)
	if h.onMetrics != nil {
		h.onMetrics(success)
	}

	h.mu.Lock()
	prev := h.status
	prevCount := h.failCount
	if success {
		h.failCount = 0
		h.status = StatusHealthy
	} else {
		h.failCount++
		if h.failCount >= h.cfg.FailThreshold {
			h.status = StatusDegraded
		}
	}
	count := h.failCount
	next := h.status
	h.lastChecked = time.Now().UTC()
	h.mu.Unlock()

	switch {
	case success && prevCount >= h.cfg.FailThreshold:
		h.logger.Info("health: upstream recovered", zap.String("endpoint", h.cfg.Endpoint))
	case !success && count == h.cfg.FailThreshold:
		h.logger.Warn("health: upstream degraded",
			zap.String("endpoint", h.cfg.Endpoint),
			zap.Int("fail_count", count),
		)
	case !success:
		h.logger.Debug("health: probe failed",
			zap.String("endpoint", h.cfg.Endpoint),
			zap.Int("fail_count", count),
		)
	}

	if next != prev && h.onStatus != nil {
		h.onStatus(next)
	}
	return next
}

// probeEndpoint attempts HEAD then GET, returning true if any 2xx response.
func (h *Checker) probeEndpoint(ctx context.Context, endpoint string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, endpoint, nil)
	if err != nil {
		return false
	}
	resp, err := h.httpClient.Do(req)
	if err == nil {
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return true
		}
	}

	// Fallback to GET.
	req, err = http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false
	}
	resp, err = h.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
