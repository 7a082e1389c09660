// Package server composes the protocol adapter and the optional metrics
// endpoint into one runnable unit with a shared lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ftpy/ftpy/internal/logger"
	"github.com/ftpy/ftpy/internal/metrics"
	"github.com/ftpy/ftpy/pkg/adapter"
)

// Server runs a protocol adapter and, when enabled, the Prometheus metrics
// HTTP endpoint. Serve blocks until the context is cancelled, then drains
// both components.
type Server struct {
	adapter         adapter.Adapter
	metricsServer   *http.Server
	shutdownTimeout time.Duration
}

// New creates a server around the given adapter. shutdownTimeout bounds how
// long shutdown waits for the metrics endpoint to drain.
func New(a adapter.Adapter, shutdownTimeout time.Duration) *Server {
	return &Server{
		adapter:         a,
		shutdownTimeout: shutdownTimeout,
	}
}

// EnableMetrics attaches a Prometheus scrape endpoint on the given port.
// Requires metrics.InitRegistry to have been called.
func (s *Server) EnableMetrics(port int) error {
	reg := metrics.GetRegistry()
	if reg == nil {
		return errors.New("metrics registry not initialized")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	s.metricsServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return nil
}

// Serve runs the adapter (and metrics endpoint) until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	var errs *multierror.Error

	metricsDone := make(chan error, 1)
	if s.metricsServer != nil {
		go func() {
			logger.Info("Metrics endpoint listening", logger.KeyAddress, s.metricsServer.Addr)
			if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				metricsDone <- err
				return
			}
			metricsDone <- nil
		}()
	}

	logger.Info("Adapter starting",
		"protocol", s.adapter.Protocol(), logger.KeyPort, s.adapter.Port())

	if err := s.adapter.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		errs = multierror.Append(errs, fmt.Errorf("%s adapter: %w", s.adapter.Protocol(), err))
	}

	if s.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.metricsServer.Shutdown(shutdownCtx); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("metrics endpoint: %w", err))
		}
		if err := <-metricsDone; err != nil {
			errs = multierror.Append(errs, fmt.Errorf("metrics endpoint: %w", err))
		}
	}

	return errs.ErrorOrNil()
}
