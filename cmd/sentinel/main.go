package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/victorgomez09/sentinel/internal/logger"
	"github.com/victorgomez09/sentinel/internal/shutdown"
	"go.uber.org/zap"
)

const shutdownGracePeriod = 15 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to main config file")
	customLogConfigs := flag.String("log-config", "", "comma-separated paths to custom provided log config files")
	flag.Parse()

	logManager, zLog := initializeLogging(*customLogConfigs)
	defer syncLoggers(logManager)

	cfg := NewConfigManager(zLog).Load(*configPath)

	errChan := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	builder := NewServerBuilder(cfg, zLog, logManager)
	shutdownManager, err := builder.Build(ctx, errChan)
	if err != nil {
		zLog.Error("Failed to initialize server", zap.Error(err))
		if shutdownManager != nil {
			_ = shutdownManager.Shutdown(context.Background())
		}
		syncLoggers(logManager)
		os.Exit(1)
	}

	runServer(shutdownManager, errChan, zLog)
}

// initializeLogging builds the logger manager from log.config.json plus
// any custom config files.
func initializeLogging(customLogConfigs string) (*logger.LoggerManager, *zap.Logger) {
	logConfigPaths := []string{"log.config.json"}
	for _, customConfig := range strings.Split(customLogConfigs, ",") {
		if tp := strings.TrimSpace(customConfig); tp != "" {
			logConfigPaths = append(logConfigPaths, tp)
		}
	}

	logManager, err := logger.NewLoggerManager(logConfigPaths)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	return logManager, logManager.Named(logger.DefaultName)
}

func syncLoggers(logManager *logger.LoggerManager) {
	if err := logManager.Sync(); err != nil {
		log.Printf("Failed to sync loggers: %s", err)
	}
}

// runServer blocks until a signal or a serve error, then shuts every
// component down within the grace period.
func runServer(shutdownManager *shutdown.Manager, errChan <-chan error, zLog *zap.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		zLog.Warn("Shutdown signal received. Initializing graceful shutdown", zap.String("signal", sig.String()))
	case err := <-errChan:
		zLog.Error("Server error triggered shutdown", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer shutdownCancel()
	if err := shutdownManager.Shutdown(shutdownCtx); err != nil {
		zLog.Error("Error during shutdown", zap.Error(err))
		return
	}
	zLog.Info("Server shutdown completed")
}
