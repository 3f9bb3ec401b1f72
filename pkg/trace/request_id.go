package trace

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// ContextKey is a custom type for context keys to avoid collisions.
type ContextKey string

const (
	RequestIDKey    ContextKey = "request_id"
	RequestIDHeader            = "X-Request-ID"
)

type RequestID struct {
	trustIncoming bool
}

// WithRequestID returns the request-ID middleware. With trustIncoming an
// upstream X-Request-ID is kept when it is a valid UUID.
func WithRequestID(trustIncoming bool) *RequestID {
	return &RequestID{trustIncoming: trustIncoming}
}

// Middleware stores a request ID in the context and echoes it in the
// response headers.
func (rid *RequestID) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := ""
		if rid.trustIncoming {
			if id, err := uuid.Parse(r.Header.Get(RequestIDHeader)); err == nil {
				requestID = id.String()
			}
		}
		if requestID == "" {
			requestID = uuid.New().String()
		}

		w.Header().Set(RequestIDHeader, requestID)
		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID retrieves the request ID from the context.
// Returns an empty string if not found.
func GetRequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if reqID, ok := ctx.Value(RequestIDKey).(string); ok {
		return reqID
	}
	return ""
}
