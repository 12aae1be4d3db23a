// Package server exposes assistant runs over HTTP with SSE progress streams.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dcui26/multiagent-coding-assistant/internal/pipeline/engine"
)

// Runner executes one request. *assistant.Assistant satisfies it.
type Runner interface {
	RunWith(ctx context.Context, request string, ro engine.RunOptions) (*engine.Result, error)
}

type Config struct {
	Addr string // listen address, e.g. "127.0.0.1:8420"

	// Metrics serves GET /metrics when non-nil.
	Metrics http.Handler
	Logger  *zap.Logger
}

// Server runs requests one at a time against a shared workspace.
type Server struct {
	config   Config
	runner   Runner
	registry *RunRegistry
	baseCtx  context.Context
	cancel   context.CancelFunc
	httpSrv  *http.Server
	logger   *zap.Logger

	// runLock admits one run at a time. A buffered channel lets queued
	// runs give up on cancellation.
	runLock chan struct{}
}

func New(cfg Config, runner Runner) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		config:   cfg,
		runner:   runner,
		registry: NewRunRegistry(),
		baseCtx:  ctx,
		cancel:   cancel,
		logger:   logger.Named("server"),
		runLock:  make(chan struct{}, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /runs", s.handleListRuns)
	mux.HandleFunc("POST /runs", s.handleSubmitRun)
	mux.HandleFunc("GET /runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /runs/{id}/events", s.handleRunEvents)
	mux.HandleFunc("POST /runs/{id}/cancel", s.handleCancelRun)
	mux.HandleFunc("GET /runs/{id}/context", s.handleGetContext)
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	s.httpSrv = &http.Server{
		Handler:      csrfProtect(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE requires no write timeout
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	return s
}

// Handler returns the routed handler, CSRF guard included.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

// ListenAndServe starts the server and blocks until shutdown.
func (s *Server) ListenAndServe() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Info("shutting down", zap.String("signal", sig.String()))
			s.Shutdown()
		case <-s.baseCtx.Done():
		}
	}()

	s.logger.Info("listening", zap.String("addr", s.config.Addr))
	s.httpSrv.Addr = s.config.Addr
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// csrfProtect rejects cross-origin POST requests. Browsers set Origin on
// cross-origin requests; CLI callers omit it.
func csrfProtect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if origin := r.Header.Get("Origin"); origin != "" {
				u, err := url.Parse(origin)
				if err != nil {
					writeError(w, http.StatusForbidden, "invalid Origin header")
					return
				}
				host := u.Hostname()
				if host != "localhost" && host != "127.0.0.1" && host != "::1" {
					writeError(w, http.StatusForbidden, "cross-origin request blocked")
					return
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

// acquireRun blocks until the run lock is free or ctx ends.
func (s *Server) acquireRun(ctx context.Context) error {
	select {
	case s.runLock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

func (s *Server) releaseRun() { <-s.runLock }

// Shutdown cancels every run and stops the listener.
func (s *Server) Shutdown() {
	s.registry.CancelAll("server shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	_ = s.httpSrv.Shutdown(shutdownCtx)

	s.cancel()
}
