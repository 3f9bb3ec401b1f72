package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/victorgomez09/sentinel/internal/config"
	"go.uber.org/zap"
)

// PingFunc reports whether a dependency is reachable.
type PingFunc func(ctx context.Context) error

type dependency struct {
	name         string
	ping         PingFunc
	alive        atomic.Bool
	successCount int32
	failureCount int32
	lastError    atomic.Value // string
	checkedAt    atomic.Int64
}

// Checker periodically pings the registered dependencies. A dependency
// starts healthy and flips only after the configured number of
// consecutive results.
type Checker struct {
	interval   time.Duration
	timeout    time.Duration
	thresholds config.Thresholds
	deps       []*dependency
	mu         sync.RWMutex
	logger     *zap.Logger
	running    atomic.Bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

func NewChecker(cfg config.Health, logger *zap.Logger) *Checker {
	if cfg.Thresholds.Healthy < 1 {
		cfg.Thresholds.Healthy = 1
	}
	if cfg.Thresholds.Unhealthy < 1 {
		cfg.Thresholds.Unhealthy = 1
	}
	return &Checker{
		interval:   cfg.Interval,
		timeout:    cfg.Timeout,
		thresholds: cfg.Thresholds,
		logger:     logger,
	}
}

// Register adds a named dependency. Register before Start.
func (c *Checker) Register(name string, ping PingFunc) {
	d := &dependency{name: name, ping: ping}
	d.alive.Store(true)
	c.mu.Lock()
	c.deps = append(c.deps, d)
	c.mu.Unlock()
}

// Start runs one round immediately and then one per interval until Stop.
func (c *Checker) Start(ctx context.Context) {
	if !c.running.CompareAndSwap(false, true) {
		c.logger.Info("Health checker already running")
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		c.logger.Info("Health checker started", zap.Duration("interval", c.interval))
		c.CheckAll(ctx)
		for {
			select {
			case <-ticker.C:
				c.CheckAll(ctx)
			case <-ctx.Done():
				c.logger.Info("Health checker stopping")
				return
			}
		}
	}()
}

// Stop cancels the loop and waits for the running round.
func (c *Checker) Stop() {
	if c.running.Load() {
		c.cancel()
		c.wg.Wait()
		c.running.Store(false)
	}
}

// CheckAll pings every dependency in parallel.
func (c *Checker) CheckAll(ctx context.Context) {
	c.mu.RLock()
	deps := make([]*dependency, len(c.deps))
	copy(deps, c.deps)
	c.mu.RUnlock()

	var wg sync.WaitGroup
	for _, d := range deps {
		wg.Add(1)
		go func(d *dependency) {
			defer wg.Done()
			c.check(ctx, d)
		}(d)
	}
	wg.Wait()
}

func (c *Checker) check(ctx context.Context, d *dependency) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := d.ping(ctx)
	d.checkedAt.Store(time.Now().UnixNano())
	if err != nil {
		d.lastError.Store(err.Error())
	} else {
		d.lastError.Store("")
	}
	c.update(d, err)
}

func (c *Checker) update(d *dependency, err error) {
	if err == nil {
		successes := atomic.AddInt32(&d.successCount, 1)
		atomic.StoreInt32(&d.failureCount, 0)
		if successes >= int32(c.thresholds.Healthy) && !d.alive.Load() {
			d.alive.Store(true)
			c.logger.Info("Dependency marked as healthy", zap.String("dependency", d.name))
		}
		return
	}

	failures := atomic.AddInt32(&d.failureCount, 1)
	atomic.StoreInt32(&d.successCount, 0)
	if failures >= int32(c.thresholds.Unhealthy) && d.alive.Load() {
		d.alive.Store(false)
		c.logger.Warn("Dependency marked as unhealthy", zap.String("dependency", d.name), zap.Error(err))
	}
}

// Status is the state of one dependency.
type Status struct {
	Healthy   bool       `json:"healthy"`
	Error     string     `json:"error,omitempty"`
	CheckedAt *time.Time `json:"checked_at,omitempty"`
}

// Report returns the state of every dependency and whether all are healthy.
func (c *Checker) Report() (map[string]Status, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	report := make(map[string]Status, len(c.deps))
	healthy := true
	for _, d := range c.deps {
		st := Status{Healthy: d.alive.Load()}
		if msg, _ := d.lastError.Load().(string); msg != "" {
			st.Error = msg
		}
		if ns := d.checkedAt.Load(); ns != 0 {
			at := time.Unix(0, ns).UTC()
			st.CheckedAt = &at
		}
		healthy = healthy && st.Healthy
		report[d.name] = st
	}
	return report, healthy
}

// ServeHTTP answers 200 when every dependency is healthy and 503 otherwise.
func (c *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	report, healthy := c.Report()
	status := "ok"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	if r.Method == http.MethodHead {
		return
	}
	if err := json.NewEncoder(w).Encode(map[string]any{"status": status, "dependencies": report}); err != nil {
		c.logger.Debug("Failed to write health response", zap.Error(err))
	}
}
