package shutdown

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Phases run in ascending order; handlers within a phase run in parallel.
const (
	PhaseListeners = iota // stop accepting requests
	PhaseWorkers          // stop background routines
	PhaseStorage          // flush and close stores
)

type handler struct {
	name string
	fn   func(context.Context) error
}

type Manager struct {
	phases map[int][]handler
	logger *zap.Logger
	mu     sync.Mutex
	once   sync.Once
	err    error
}

func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		phases: make(map[int][]handler),
		logger: logger,
	}
}

// RegisterShutdown adds fn to phase under name.
func (sh *Manager) RegisterShutdown(phase int, name string, fn func(context.Context) error) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.phases[phase] = append(sh.phases[phase], handler{name: name, fn: fn})
}

// RegisterCloser adapts a plain Close method.
func (sh *Manager) RegisterCloser(phase int, name string, fn func() error) {
	sh.RegisterShutdown(phase, name, func(context.Context) error { return fn() })
}

// Shutdown runs every phase once. Later calls return the first result. A
// phase that outlives ctx aborts the remaining phases.
func (sh *Manager) Shutdown(ctx context.Context) error {
	sh.once.Do(func() {
		sh.err = sh.run(ctx)
	})
	return sh.err
}

func (sh *Manager) run(ctx context.Context) error {
	sh.mu.Lock()
	order := make([]int, 0, len(sh.phases))
	for phase := range sh.phases {
		order = append(order, phase)
	}
	phases := sh.phases
	sh.mu.Unlock()
	sort.Ints(order)

	var errs []error
	for _, phase := range order {
		timedOut, err := sh.runPhase(ctx, phases[phase])
		if err != nil {
			errs = append(errs, err)
		}
		if timedOut {
			break
		}
	}
	return errors.Join(errs...)
}

func (sh *Manager) runPhase(ctx context.Context, handlers []handler) (timedOut bool, err error) {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, h := range handlers {
		wg.Add(1)
		go func(h handler) {
			defer wg.Done()
			if err := h.fn(ctx); err != nil {
				sh.logger.Error("Error during shutdown", zap.String("component", h.name), zap.Error(err))
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s shutdown: %w", h.name, err))
				mu.Unlock()
				return
			}
			sh.logger.Debug("Component stopped", zap.String("component", h.name))
		}(h)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return true, ctx.Err()
	case <-done:
		return false, errors.Join(errs...)
	}
}
