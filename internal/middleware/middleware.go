package middleware

import (
	"bufio"
	"fmt"
	"net"
	"net/http"

	"github.com/victorgomez09/sentinel/internal/config"
	"go.uber.org/zap"
)

// Middleware defines an interface for HTTP middleware.
type Middleware interface {
	Middleware(next http.Handler) http.Handler
}

// statusWriter captures the status code and body length of a response.
type statusWriter struct {
	http.ResponseWriter
	status int
	length int
}

func newStatusWriter(w http.ResponseWriter) *statusWriter {
	return &statusWriter{
		ResponseWriter: w,
		status:         http.StatusOK,
	}
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.length += n
	return n, err
}

func (w *statusWriter) Status() int {
	return w.status
}

func (w *statusWriter) Length() int {
	return w.length
}

// Hijack lets the event websocket upgrade through the chain.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := w.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("upstream ResponseWriter does not implement http.Hijacker")
}

func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// MiddlewareChain applies middleware in the order they were added: the
// first one added sees the request first.
type MiddlewareChain struct {
	middlewares []Middleware
}

func NewMiddlewareChain(middlewares ...Middleware) *MiddlewareChain {
	return &MiddlewareChain{
		middlewares: middlewares,
	}
}

func (c *MiddlewareChain) Use(middleware Middleware) {
	c.middlewares = append(c.middlewares, middleware)
}

func (c *MiddlewareChain) Len() int {
	return len(c.middlewares)
}

// Then wraps final with the chain.
func (c *MiddlewareChain) Then(final http.Handler) http.Handler {
	if final == nil {
		final = http.NotFoundHandler()
	}

	for i := len(c.middlewares) - 1; i >= 0; i-- {
		final = c.middlewares[i].Middleware(final)
	}
	return final
}

// AddConfiguredMiddlewares adds the rate limit, security header and CORS
// middleware enabled in cfg, in file order.
func (c *MiddlewareChain) AddConfiguredMiddlewares(cfg *config.Sentinel, logger *zap.Logger) {
	for _, mw := range cfg.Middleware {
		switch {
		case mw.RateLimit != nil:
			rml := mw.RateLimit
			c.Use(NewRateLimiterMiddleware(rml.RequestsPerSecond, rml.Burst))
			logger.Info("Global Rate Limiter middleware configured",
				zap.Float64("requests_per_second", rml.RequestsPerSecond),
				zap.Int("burst", rml.Burst))
		case mw.SecurityHeaders != nil:
			c.Use(NewSecurityMiddleware(mw.SecurityHeaders))
			logger.Info("Global Security middleware configured")
		case mw.CORS != nil:
			c.Use(NewCORSMiddleware(mw.CORS))
			logger.Info("Global CORS middleware configured",
				zap.Strings("allowed_origins", mw.CORS.AllowedOrigins))
		}
	}
}
