package logger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Level        string       `json:"level"`
	OutputPaths  []string     `json:"outputPaths"`
	Development  bool         `json:"development"`
	LogToConsole bool         `json:"logToConsole"`
	Encoding     Encoding     `json:"encodingConfig"`
	LogRotation  LogRotation  `json:"logRotation"`
	Sanitization Sanitization `json:"sanitization"`
	Async        Async        `json:"async"`
}

type Encoding struct {
	TimeKey         string `json:"timeKey"`
	LevelKey        string `json:"levelKey"`
	NameKey         string `json:"nameKey"`
	CallerKey       string `json:"callerKey"`
	MessageKey      string `json:"messageKey"`
	StacktraceKey   string `json:"stacktraceKey"`
	LineEnding      string `json:"lineEnding"`
	LevelEncoder    string `json:"levelEncoder"`
	TimeEncoder     string `json:"timeEncoder"`
	DurationEncoder string `json:"durationEncoder"`
	CallerEncoder   string `json:"callerEncoder"`
}

type LogRotation struct {
	Enabled    bool `json:"enabled"`
	MaxSizeMB  int  `json:"maxSizeMB"`
	MaxBackups int  `json:"maxBackups"`
	MaxAgeDays int  `json:"maxAgeDays"`
	Compress   bool `json:"compress"`
}

// Sanitization adds fields to the default masked and truncated sets.
type Sanitization struct {
	SensitiveFields []string       `json:"sensitiveFields"`
	TruncatedFields map[string]int `json:"truncatedFields"`
	Mask            string         `json:"mask"`
}

// Async batches file writes. Zero values use the built-in sizes.
type Async struct {
	BufferSize    int    `json:"bufferSize"`
	BatchSize     int    `json:"batchSize"`
	FlushInterval string `json:"flushInterval"`
}

type configFile struct {
	Loggers map[string]Config `json:"loggers"`
}

func (lm *LoggerManager) load(configPaths []string) error {
	for _, configPath := range configPaths {
		data, err := os.ReadFile(configPath)
		if err != nil {
			if os.IsNotExist(err) {
				fmt.Fprintf(os.Stderr, "Log configuration file '%s' not found. Skipping.\n", configPath)
				continue
			}
			return fmt.Errorf("failed to read configuration file '%s': %w", configPath, err)
		}

		var file configFile
		if err := json.Unmarshal(data, &file); err != nil {
			return fmt.Errorf("failed to parse configuration file '%s': %w", configPath, err)
		}

		for name, cfg := range file.Loggers {
			logger, err := lm.buildLogger(name, cfg)
			if err != nil {
				return fmt.Errorf("failed to build logger '%s': %w", name, err)
			}
			if err := lm.AddLogger(name, logger); err != nil {
				return fmt.Errorf("failed to add logger '%s' from config '%s': %w", name, configPath, err)
			}
		}
	}

	if _, err := lm.GetLogger(DefaultName); err != nil {
		logger, err := lm.buildLogger(DefaultName, DefaultConfig)
		if err != nil {
			return fmt.Errorf("failed to build default logger: %w", err)
		}
		return lm.AddLogger(DefaultName, logger)
	}
	return nil
}

func (lm *LoggerManager) buildLogger(name string, cfg Config) (*zap.Logger, error) {
	assignDefaultValues(&cfg)

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        cfg.Encoding.TimeKey,
		LevelKey:       cfg.Encoding.LevelKey,
		NameKey:        cfg.Encoding.NameKey,
		CallerKey:      cfg.Encoding.CallerKey,
		MessageKey:     cfg.Encoding.MessageKey,
		StacktraceKey:  cfg.Encoding.StacktraceKey,
		LineEnding:     cfg.Encoding.LineEnding,
		EncodeLevel:    getZapLevelEncoder(cfg.Encoding.LevelEncoder),
		EncodeTime:     getZapTimeEncoder(cfg.Encoding.TimeEncoder),
		EncodeDuration: getZapDurationEncoder(cfg.Encoding.DurationEncoder),
		EncodeCaller:   getZapCallerEncoder(cfg.Encoding.CallerEncoder),
	}
	atomicLevel := zap.NewAtomicLevelAt(getZapLevel(cfg.Level))

	var allCores []zapcore.Core
	if cfg.Development || cfg.LogToConsole {
		consoleEncoderConfig := encoderConfig
		var encoder zapcore.Encoder
		if cfg.Development {
			consoleEncoderConfig.EncodeLevel = coloredLevelEncoder
			encoder = zapcore.NewConsoleEncoder(consoleEncoderConfig)
		} else {
			encoder = zapcore.NewJSONEncoder(encoderConfig)
		}
		allCores = append(allCores, zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), atomicLevel))
	}

	flush, err := parseFlushInterval(cfg.Async.FlushInterval)
	if err != nil {
		return nil, err
	}
	jsonEncoder := zapcore.NewJSONEncoder(encoderConfig)
	for _, path := range cfg.OutputPaths {
		if path == "stdout" || path == "stderr" {
			continue
		}

		var fileWS zapcore.WriteSyncer
		if cfg.LogRotation.Enabled {
			fileWS = zapcore.AddSync(ljLogger(path, cfg.LogRotation))
		} else {
			file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
			if err != nil {
				return nil, fmt.Errorf("failed to open log file '%s': %w", path, err)
			}
			fileWS = zapcore.AddSync(file)
		}

		async := NewAsyncCore(zapcore.NewCore(jsonEncoder, fileWS, atomicLevel), cfg.Async.BufferSize, cfg.Async.BatchSize, flush)
		lm.trackAsync(async)
		allCores = append(allCores, async)
	}

	sensitive := append(append([]string(nil), DefaultSensitiveFields...), cfg.Sanitization.SensitiveFields...)
	truncated := make(map[string]int, len(DefaultTruncatedFields)+len(cfg.Sanitization.TruncatedFields))
	for k, v := range DefaultTruncatedFields {
		truncated[k] = v
	}
	for k, v := range cfg.Sanitization.TruncatedFields {
		truncated[k] = v
	}
	core := NewSanitizerCore(zapcore.NewTee(allCores...), sensitive, truncated, cfg.Sanitization.Mask)

	return zap.New(core,
		zap.AddCaller(),
		zap.AddStacktrace(zap.ErrorLevel),
	).Named(name), nil
}

func parseFlushInterval(s string) (time.Duration, error) {
	if s == "" {
		return 500 * time.Millisecond, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid async flushInterval %q: %w", s, err)
	}
	return d, nil
}

// isStdoutSyncErr reports the error fsync returns for terminals and pipes.
func isStdoutSyncErr(err error) bool {
	return errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY)
}

// maps string levels to zapcore.Level.
func getZapLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zap.DebugLevel
	case "info":
		return zap.InfoLevel
	case "warn", "warning":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	case "dpanic":
		return zap.DPanicLevel
	case "panic":
		return zap.PanicLevel
	case "fatal":
		return zap.FatalLevel
	default:
		return zap.InfoLevel
	}
}

// maps string encoders to zapcore.LevelEncoder.
func getZapLevelEncoder(encoder string) zapcore.LevelEncoder {
	switch strings.ToLower(encoder) {
	case "lowercase":
		return zapcore.LowercaseLevelEncoder
	case "uppercase":
		return zapcore.CapitalLevelEncoder
	case "capital":
		return zapcore.CapitalLevelEncoder
	default:
		return zapcore.LowercaseLevelEncoder
	}
}

// maps string encoders to zapcore.TimeEncoder.
func getZapTimeEncoder(encoder string) zapcore.TimeEncoder {
	switch strings.ToLower(encoder) {
	case "iso8601":
		return zapcore.ISO8601TimeEncoder
	case "epoch":
		return zapcore.EpochTimeEncoder
	case "millis":
		return zapcore.EpochMillisTimeEncoder
	case "nanos":
		return zapcore.EpochNanosTimeEncoder
	default:
		return zapcore.ISO8601TimeEncoder
	}
}

// maps string encoders to zapcore.DurationEncoder.
func getZapDurationEncoder(encoder string) zapcore.DurationEncoder {
	switch strings.ToLower(encoder) {
	case "string":
		return zapcore.StringDurationEncoder
	case "seconds":
		return zapcore.SecondsDurationEncoder
	case "millis":
		return zapcore.MillisDurationEncoder
	case "nanos":
		return zapcore.NanosDurationEncoder
	default:
		return zapcore.StringDurationEncoder
	}
}

// maps string encoders to zapcore.CallerEncoder.
func getZapCallerEncoder(encoder string) zapcore.CallerEncoder {
	switch strings.ToLower(encoder) {
	case "full":
		return zapcore.FullCallerEncoder
	case "short":
		return zapcore.ShortCallerEncoder
	default:
		return zapcore.ShortCallerEncoder
	}
}

// adds color codes to log levels for console output - this is a bit slow so only in dev
func coloredLevelEncoder(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	var level string
	switch l {
	case zapcore.DebugLevel:
		level = "\x1b[36m" + l.String() + "\x1b[0m" // Cyan
	case zapcore.InfoLevel:
		level = "\x1b[32m" + l.String() + "\x1b[0m" // Green
	case zapcore.WarnLevel:
		level = "\x1b[33m" + l.String() + "\x1b[0m" // Yellow
	case zapcore.ErrorLevel:
		level = "\x1b[31m" + l.String() + "\x1b[0m" // Red
	case zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		level = "\x1b[35m" + l.String() + "\x1b[0m" // Magenta
	default:
		level = l.String()
	}
	enc.AppendString(level)
}

// creates a new Lumberjack logger with the given path and configuration.
func ljLogger(path string, l LogRotation) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAge:     l.MaxAgeDays,
		Compress:   l.Compress,
	}
}
