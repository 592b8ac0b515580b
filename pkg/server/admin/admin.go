// Package admin serves liveness, readiness, and prometheus metrics over HTTP.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jacktea/sumgate/pkg/server/middleware"
)

// Options configure rate limiting and the metrics source.
type Options struct {
	RateLimit middleware.RateLimitOptions
	// Gatherer defaults to the prometheus default registry.
	Gatherer prometheus.Gatherer
}

// Server exposes /healthz, /readyz and /metrics.
type Server struct {
	// Ready reports whether the gateway accepts traffic. Nil means always
	// ready.
	Ready func() bool
	Log   logr.Logger
	Opts  Options
}

// Start begins listening on addr until ctx is canceled.
func (s *Server) Start(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, lis)
}

// Serve handles requests on lis until ctx is canceled.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if s.Log.GetSink() != nil {
		s.Log.Info("serving admin http", "address", lis.Addr().String())
	}
	if err := srv.Serve(lis); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler returns the routed and wrapped handler.
func (s *Server) Handler() http.Handler {
	gatherer := s.Opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/readyz", s.handleReady)
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return otelhttp.NewHandler(
		middleware.Wrap(mux, middleware.RateLimit(s.Opts.RateLimit)),
		"admin",
	)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.Ready != nil && !s.Ready() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}
