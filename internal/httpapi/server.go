// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package httpapi

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/samber/oops"

	"github.com/gatehouse/gatehouse/internal/observability"
)

// Config holds HTTP server settings.
type Config struct {
	// Addr is the listen address in "host:port" format.
	Addr string
	// Development relaxes error redaction and drops the Secure cookie flag.
	Development bool
	// General applies to every endpoint, Login additionally to POST /login.
	General RateLimiterConfig
	Login   RateLimiterConfig
}

// Server serves the authentication API.
type Server struct {
	cfg      Config
	auth     AuthService
	recovery RecoveryService
	metrics  *observability.Metrics
	logger   *slog.Logger

	limiter      *RateLimiter
	loginLimiter *RateLimiter

	listener   net.Listener
	httpServer *http.Server
	running    atomic.Bool
}

// NewServer creates the API server and its rate limiters. Callers must call
// Stop (or Close) to release the limiter goroutines. metrics may be nil.
func NewServer(cfg Config, authSvc AuthService, recovery RecoveryService, metrics *observability.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	if metrics != nil {
		cfg.General.ClientsGauge = metrics.LimiterClients.WithLabelValues("general")
		cfg.Login.ClientsGauge = metrics.LimiterClients.WithLabelValues("login")
	}
	if cfg.Login.Max <= 0 {
		cfg.Login.Max = DefaultLoginRateLimitMax
	}
	if cfg.Login.Window <= 0 {
		cfg.Login.Window = DefaultLoginRateLimitWindow
	}

	return &Server{
		cfg:          cfg,
		auth:         authSvc,
		recovery:     recovery,
		metrics:      metrics,
		logger:       logger,
		limiter:      NewRateLimiter(cfg.General),
		loginLimiter: NewRateLimiter(cfg.Login),
	}
}

// Router builds the HTTP handler stack.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	r.Handle("/login", s.rateLimit(s.loginLimiter, "login",
		"Too many login attempts, please try again after 30 minutes.",
		http.HandlerFunc(s.handleLogin))).Methods(http.MethodPost)

	r.HandleFunc("/signup", s.handleSignup).Methods(http.MethodPost)
	r.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)
	r.Handle("/user-details", s.requireSession(http.HandlerFunc(s.handleUserDetails))).Methods(http.MethodGet)
	r.HandleFunc("/forgot-password", s.handleForgotPassword).Methods(http.MethodPost)
	r.HandleFunc("/send-password-reset", s.handleSendPasswordReset).Methods(http.MethodPost)
	r.HandleFunc("/reset-password", s.handleResetPassword).Methods(http.MethodPost)

	var h http.Handler = r
	h = s.rateLimit(s.limiter, "general", "Too many requests, please try again later.", h)
	h = securityHeaders(h)
	h = handlers.LoggingHandler(logWriter{s.logger}, h)
	return h
}

// logWriter adapts slog for gorilla's access log handler.
type logWriter struct {
	logger *slog.Logger
}

func (w logWriter) Write(p []byte) (int, error) {
	w.logger.Info("http request", "access_log", string(p))
	return len(p), nil
}

// Start begins serving the API. It returns an error channel that receives
// any serve failure and closes on graceful shutdown.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("api server already running")
	}

	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", s.cfg.Addr).Wrap(err)
	}
	s.listener = listener

	httpSrv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			s.logger.Error("api server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	s.logger.Info("api server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts down the server and the rate limiters.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		s.closeLimiters()
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.With("operation", "shutdown_api_server").Wrap(err)
		}
	}

	s.closeLimiters()
	s.logger.Info("api server stopped")
	return nil
}

func (s *Server) closeLimiters() {
	s.limiter.Close()
	s.loginLimiter.Close()
}

// Addr returns the listen address, or empty when not running.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

func (s *Server) countLogin(result string) {
	if s.metrics != nil {
		s.metrics.LoginsTotal.WithLabelValues(result).Inc()
	}
}

func (s *Server) countSignup(result string) {
	if s.metrics != nil {
		s.metrics.SignupsTotal.WithLabelValues(result).Inc()
	}
}

func (s *Server) countReset(stage, result string) {
	if s.metrics != nil {
		s.metrics.PasswordResetsTotal.WithLabelValues(stage, result).Inc()
	}
}

func (s *Server) countRateLimited(limiter string) {
	if s.metrics != nil {
		s.metrics.RateLimitedTotal.WithLabelValues(limiter).Inc()
	}
}
