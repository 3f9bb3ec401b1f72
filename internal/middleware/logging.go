package middleware

import (
	"net/http"
	"strings"
	"time"

	authmw "github.com/victorgomez09/sentinel/internal/auth/middleware"
	"github.com/victorgomez09/sentinel/pkg/trace"
	"go.uber.org/zap"
)

// redactedHeaders never reach the access log.
var redactedHeaders = map[string]struct{}{
	"Authorization":           {},
	"Cookie":                  {},
	authmw.SecondFactorHeader: {},
	authmw.FingerprintHeader:  {},
}

type LoggingMiddleware struct {
	logger         *zap.Logger
	trustProxy     bool
	includeHeaders bool
	excludePaths   []string
}

type LoggingOption func(*LoggingMiddleware)

// WithHeaders enables logging of request headers, minus credentials.
func WithHeaders(enabled bool) LoggingOption {
	return func(l *LoggingMiddleware) {
		l.includeHeaders = enabled
	}
}

// WithTrustProxy logs the forwarded client address instead of RemoteAddr.
func WithTrustProxy(enabled bool) LoggingOption {
	return func(l *LoggingMiddleware) {
		l.trustProxy = enabled
	}
}

// excludes specified paths from logging.
func WithExcludePaths(paths []string) LoggingOption {
	return func(l *LoggingMiddleware) {
		l.excludePaths = paths
	}
}

func NewLoggingMiddleware(logger *zap.Logger, opts ...LoggingOption) *LoggingMiddleware {
	lm := &LoggingMiddleware{logger: logger}
	for _, opt := range opts {
		opt(lm)
	}
	return lm
}

func (l *LoggingMiddleware) shouldExcludePath(path string) bool {
	for _, excludePath := range l.excludePaths {
		if strings.HasPrefix(path, excludePath) {
			return true
		}
	}
	return false
}

// Middleware logs one line per request. Query strings are never logged.
func (l *LoggingMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.shouldExcludePath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		sw := newStatusWriter(w)
		next.ServeHTTP(sw, r)

		fields := make([]zap.Field, 0, 9)
		fields = append(fields,
			zap.String("request_id", trace.GetRequestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("ip", authmw.ClientIP(r, l.trustProxy)),
			zap.String("user_agent", r.UserAgent()),
			zap.Int("response_size", sw.Length()),
		)

		if l.includeHeaders {
			headers := make(map[string]string, len(r.Header))
			for key, values := range r.Header {
				if _, secret := redactedHeaders[key]; secret {
					continue
				}
				headers[key] = strings.Join(values, ",")
			}
			fields = append(fields, zap.Any("headers", headers))
		}

		switch {
		case sw.Status() >= 500:
			l.logger.Error("Server error", fields...)
		case sw.Status() >= 400:
			l.logger.Warn("Client error", fields...)
		default:
			l.logger.Info("Request completed", fields...)
		}
	})
}
