package logger

import (
	"log"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// noisyPrefixes are http.Server messages triggered by clients, logged at
// debug level so scanners cannot flood the error log.
var noisyPrefixes = []string{
	"http: TLS handshake error",
	"http: superfluous response.WriteHeader",
	"http: URL query contains semicolon",
}

// ZapWriter is an io.Writer that forwards each line to a zap logger, used
// as the target of the standard library loggers.
type ZapWriter struct {
	logger *zap.Logger
	level  zapcore.Level
}

func NewZapWriter(logger *zap.Logger, level zapcore.Level) *ZapWriter {
	return &ZapWriter{
		logger: logger.WithOptions(zap.AddCallerSkip(3)),
		level:  level,
	}
}

// NewStdLogger returns a *log.Logger for http.Server.ErrorLog.
func NewStdLogger(logger *zap.Logger, level zapcore.Level) *log.Logger {
	return log.New(NewZapWriter(logger, level), "", 0)
}

func (w *ZapWriter) Write(p []byte) (int, error) {
	msg := strings.TrimSpace(string(p))
	if msg == "" {
		return len(p), nil
	}

	level := w.level
	for _, prefix := range noisyPrefixes {
		if strings.HasPrefix(msg, prefix) {
			level = zapcore.DebugLevel
			break
		}
	}
	if ce := w.logger.Check(level, msg); ce != nil {
		ce.Write()
	}
	return len(p), nil
}
