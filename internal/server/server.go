// Copyright 2025 Flant JSC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server exposes the scheduler's HTTP surface: Prometheus
// metrics and liveness/readiness probes. It never serves job data
// directly — that is the CLI's job via the core operations.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/primus-labs/gpu-scheduler/internal/metrics"
)

var defaultShutdownTimeout = 5 * time.Second

type httpServer interface {
	ListenAndServe() error
	Shutdown(context.Context) error
}

// Config controls the HTTP server's behaviour.
type Config struct {
	ListenAddr      string
	ShutdownTimeout time.Duration
}

// Server exposes /metrics, /healthz and /readyz.
type Server struct {
	cfg       Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
	registry  *prometheus.Registry
	ready     func() bool
	httpSrv   httpServer
	factory   func(addr string, handler http.Handler) httpServer
	startedCh chan struct{}
}

// New constructs a Server. ready is consulted by /readyz to report
// whether the caller considers the scheduler ready (nil means always
// ready); cmd/gpu-scheduler marks it ready when the admission loop
// goroutine starts.
func New(cfg Config, m *metrics.Metrics, ready func() bool, logger *slog.Logger) *Server {
	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	if ready == nil {
		ready = func() bool { return true }
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(m.Collectors()...)

	return &Server{
		cfg:     Config{ListenAddr: cfg.ListenAddr, ShutdownTimeout: timeout},
		logger:  logger,
		metrics: m,
		ready:   ready,
		factory: func(addr string, handler http.Handler) httpServer {
			return &stdHTTPServer{srv: &http.Server{Addr: addr, Handler: handler}}
		},
		registry:  registry,
		startedCh: make(chan struct{}),
	}
}

// Run blocks until ctx is cancelled or the HTTP server fails.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	s.httpSrv = s.factory(s.cfg.ListenAddr, mux)

	errCh := make(chan error, 1)
	go func() {
		close(s.startedCh)
		s.logger.Info("gpu-scheduler HTTP server started", slog.String("addr", s.cfg.ListenAddr))
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if !s.ready() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready"))
}

func (s *Server) shutdown() error {
	if s.httpSrv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	err := s.httpSrv.Shutdown(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	s.logger.Info("gpu-scheduler HTTP server stopped")
	return nil
}

type stdHTTPServer struct {
	srv *http.Server
}

func (s *stdHTTPServer) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

func (s *stdHTTPServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
