package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/victorgomez09/sentinel/internal/config"
	"github.com/victorgomez09/sentinel/internal/logger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Server runs the HTTP listener of the auth API.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
	errorChan  chan<- error
	wg         sync.WaitGroup

	mu       sync.Mutex
	listener net.Listener
}

// NewServer wraps handler in an http.Server configured from cfg. Serve
// errors other than a clean close are sent to errChan.
func NewServer(cfg config.Server, handler http.Handler, errChan chan<- error, zLog *zap.Logger) *Server {
	read, write, idle := cfg.Timeouts()
	return &Server{
		httpServer: &http.Server{
			Addr:              net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
			Handler:           handler,
			ReadTimeout:       read,
			ReadHeaderTimeout: read,
			WriteTimeout:      write,
			IdleTimeout:       idle,
			MaxHeaderBytes:    1 << 16,
			ErrorLog:          logger.NewStdLogger(zLog.Named("http"), zapcore.ErrorLevel),
		},
		logger:    zLog,
		errorChan: errChan,
	}
}

// Start binds the listener and serves in the background. A bind error is
// returned directly.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.wg.Add(1)
	go s.serve(ln)
	return nil
}

func (s *Server) serve(ln net.Listener) {
	defer s.wg.Done()

	s.logger.Info("Server started", zap.String("listen_on", ln.Addr().String()))
	err := s.httpServer.Serve(ln)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("Server stopped with error", zap.Error(err))
		if s.errorChan != nil {
			s.errorChan <- err
		}
		return
	}
	s.logger.Info("Server stopped gracefully")
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.wg.Wait()
	return err
}
