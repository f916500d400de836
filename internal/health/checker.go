// Package health tracks the reachability of the board's external
// dependencies (ledger database, artifact bucket) for readiness reporting.
package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config holds health check configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	FailThreshold int
}

// Probe checks one dependency. A nil error means reachable.
type Probe func(ctx context.Context) error

// MetricsRecordFunc is an optional callback for recording probe results.
type MetricsRecordFunc func(dependency string, success bool)

// Status is the last known state of one dependency.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Failures  int       `json:"failures"`
	LastError string    `json:"lastError,omitempty"`
	CheckedAt time.Time `json:"checkedAt"`
}

type dependency struct {
	probe  Probe
	status Status
}

// Checker runs periodic dependency probes.
type Checker struct {
	mu        sync.RWMutex
	deps      map[string]*dependency
	cfg       Config
	onMetrics MetricsRecordFunc
	logger    *zap.Logger
}

// New creates a new Checker.
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
		deps:   make(map[string]*dependency),
		cfg:    cfg,
		logger: logger,
	}
}

// Register adds a dependency. It counts as healthy until probed.
func (h *Checker) Register(name string, probe Probe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deps[name] = &dependency{probe: probe, status: Status{Name: name, Healthy: true}}
}

// SetMetricsRecord configures the metrics recording callback.
func (h *Checker) SetMetricsRecord(fn MetricsRecordFunc) {
	h.onMetrics = fn
}

// Start runs the probe loop until ctx is done.
func (h *Checker) Start(ctx context.Context) {
	h.CheckAll(ctx)

	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.CheckAll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// CheckAll probes every registered dependency once, concurrently.
func (h *Checker) CheckAll(ctx context.Context) {
	h.mu.RLock()
	names := make([]string, 0, len(h.deps))
	probes := make([]Probe, 0, len(h.deps))
	for name, d := range h.deps {
		names = append(names, name)
		probes = append(probes, d.probe)
	}
	h.mu.RUnlock()

	var wg sync.WaitGroup
	for i := range names {
		wg.Add(1)
		go func(name string, probe Probe) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, h.cfg.ProbeTimeout)
			err := probe(pctx)
			cancel()
			h.record(name, err)
		}(names[i], probes[i])
	}
	wg.Wait()
}

func (h *Checker) record(name string, err error) {
	if h.onMetrics != nil {
		h.onMetrics(name, err == nil)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	d, ok := h.deps[name]
	if !ok {
		return
	}
	wasHealthy := d.status.Healthy
	d.status.CheckedAt = time.Now().UTC()

	if err == nil {
		d.status.Failures = 0
		d.status.LastError = ""
		d.status.Healthy = true
		if !wasHealthy {
			h.logger.Info("health: recovered", zap.String("dependency", name))
		}
		return
	}

	d.status.Failures++
	d.status.LastError = err.Error()
	if d.status.Failures >= h.cfg.FailThreshold {
		d.status.Healthy = false
		if wasHealthy {
			h.logger.Warn("health: degraded",
				zap.String("dependency", name),
				zap.Int("fail_count", d.status.Failures),
				zap.Error(err),
			)
		}
	}
}

// Ready reports whether every dependency is healthy, with per-dependency
// status sorted by name.
func (h *Checker) Ready() (bool, []Status) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ready := true
	out := make([]Status, 0, len(h.deps))
	for _, d := range h.deps {
		out = append(out, d.status)
		if !d.status.Healthy {
			ready = false
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return ready, out
}
