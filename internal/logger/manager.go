package logger

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// DefaultName is the logger every component falls back to.
const DefaultName = "sentinel"

// LoggerManager owns the named loggers built from the log config files.
type LoggerManager struct {
	loggers map[string]*zap.Logger
	cores   []*AsyncCore
	mu      sync.RWMutex
}

// NewLoggerManager builds every logger listed in configPaths. Missing
// files are skipped; the default logger always exists afterwards.
func NewLoggerManager(configPaths []string) (*LoggerManager, error) {
	lm := &LoggerManager{loggers: make(map[string]*zap.Logger)}
	if err := lm.load(configPaths); err != nil {
		return nil, err
	}
	return lm, nil
}

// AddLogger returns an error if a logger with the same name already exists.
func (lm *LoggerManager) AddLogger(name string, logger *zap.Logger) error {
	if logger == nil {
		return fmt.Errorf("logger cannot be nil")
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()

	if _, exists := lm.loggers[name]; exists {
		return fmt.Errorf("logger '%s' already exists", name)
	}
	lm.loggers[name] = logger
	return nil
}

func (lm *LoggerManager) GetLogger(name string) (*zap.Logger, error) {
	lm.mu.RLock()
	logger, exists := lm.loggers[name]
	lm.mu.RUnlock()
	if exists {
		return logger, nil
	}
	return nil, fmt.Errorf("logger '%s' not found", name)
}

// Named returns the logger called name, or the default logger named after
// it when the config does not define one.
func (lm *LoggerManager) Named(name string) *zap.Logger {
	if logger, err := lm.GetLogger(name); err == nil {
		return logger
	}
	def, err := lm.GetLogger(DefaultName)
	if err != nil {
		return zap.NewNop()
	}
	return def.Named(name)
}

// Sync flushes every logger and stops the async writers.
func (lm *LoggerManager) Sync() error {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	var errs []error
	for name, logger := range lm.loggers {
		if err := logger.Sync(); err != nil && !isStdoutSyncErr(err) {
			errs = append(errs, fmt.Errorf("failed to sync logger '%s': %w", name, err))
		}
	}
	for _, core := range lm.cores {
		if err := core.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (lm *LoggerManager) trackAsync(core *AsyncCore) {
	lm.mu.Lock()
	lm.cores = append(lm.cores, core)
	lm.mu.Unlock()
}
