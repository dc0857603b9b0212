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

package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/primus-labs/gpu-scheduler/internal/metrics"
)

func slogDiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func newTestServer(ready func() bool) *Server {
	return New(Config{ListenAddr: "127.0.0.1:0", ShutdownTimeout: 0}, metrics.New(), ready, slogDiscardLogger())
}

func TestHandleHealthzAlwaysOK(t *testing.T) {
	srv := newTestServer(nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()

	srv.handleHealthz(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestHandleReadyzReflectsReadyFunc(t *testing.T) {
	srv := newTestServer(func() bool { return false })
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()

	srv.handleReadyz(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestHandleReadyzDefaultsToReady(t *testing.T) {
	srv := newTestServer(nil)
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()

	srv.handleReadyz(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestServerRunShutdown(t *testing.T) {
	srv := newTestServer(nil)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)

	go func() {
		errCh <- srv.Run(ctx)
	}()

	select {
	case <-srv.startedCh:
	case <-time.After(time.Second):
		t.Fatal("server did not start")
	}

	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServerRunListenError(t *testing.T) {
	srv := newTestServer(nil)
	srv.factory = func(string, http.Handler) httpServer {
		return &fakeHTTPServer{listenErr: errors.New("boom")}
	}
	if err := srv.Run(context.Background()); err == nil {
		t.Fatal("expected error when listener fails")
	}
}

func TestServerRunGracefulExit(t *testing.T) {
	srv := newTestServer(nil)
	srv.factory = func(string, http.Handler) httpServer {
		return &fakeHTTPServer{listenErr: http.ErrServerClosed}
	}
	if err := srv.Run(context.Background()); err != nil {
		t.Fatalf("expected graceful shutdown, got %v", err)
	}
}

func TestServerShutdownNil(t *testing.T) {
	srv := newTestServer(nil)
	srv.httpSrv = nil
	if err := srv.shutdown(); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestServerShutdownError(t *testing.T) {
	srv := newTestServer(nil)
	srv.httpSrv = &fakeHTTPServer{shutdownErr: errors.New("boom")}
	if err := srv.shutdown(); err == nil {
		t.Fatal("expected error from shutdown")
	}
}

func TestMetricsEndpointExposed(t *testing.T) {
	srv := newTestServer(nil)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	handler := promhttp.HandlerFor(srv.registry, promhttp.HandlerOpts{})
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected metrics 200, got %d", rr.Code)
	}
	if rr.Body.Len() == 0 {
		t.Fatal("expected metrics body")
	}
}

func TestStdHTTPServerWrappers(t *testing.T) {
	s := &http.Server{Addr: "127.0.0.1:0", Handler: http.NewServeMux()}
	wrapper := &stdHTTPServer{srv: s}
	errCh := make(chan error, 1)
	go func() { errCh <- wrapper.ListenAndServe() }()
	time.Sleep(50 * time.Millisecond)
	_ = wrapper.Shutdown(context.Background())
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		t.Fatalf("unexpected listen error: %v", err)
	}
}

type fakeHTTPServer struct {
	listenErr   error
	shutdownErr error
}

func (f *fakeHTTPServer) ListenAndServe() error {
	return f.listenErr
}

func (f *fakeHTTPServer) Shutdown(context.Context) error {
	return f.shutdownErr
}
