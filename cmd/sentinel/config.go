package main

import (
	"errors"
	"io/fs"

	"github.com/victorgomez09/sentinel/internal/config"
	"go.uber.org/zap"
)

// ConfigManager loads the main configuration and applies its defaults.
type ConfigManager struct {
	logger *zap.Logger
}

func NewConfigManager(logger *zap.Logger) *ConfigManager {
	return &ConfigManager{
		logger: logger,
	}
}

// Load falls back to an empty configuration when path does not exist, so
// the engine can run from environment variables alone. Any other load or
// validation error is fatal.
func (cm *ConfigManager) Load(path string) *config.Sentinel {
	cfg, err := config.Load(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		cm.logger.Warn("Configuration file not found. Running with defaults", zap.String("path", path))
		cfg = config.Default()
	case err != nil:
		cm.logger.Fatal("Failed to load configuration", zap.String("path", path), zap.Error(err))
	}

	if err := cfg.Validate(cm.logger); err != nil {
		cm.logger.Fatal("Invalid configuration", zap.String("path", path), zap.Error(err))
	}
	return cfg
}
