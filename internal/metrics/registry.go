// Package metrics provides optional Prometheus instrumentation. Collection
// is off unless InitRegistry is called; every recorder is nil-safe so
// callers never branch on whether metrics are enabled.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	mu       sync.Mutex
	registry *prometheus.Registry
)

// InitRegistry enables metrics collection. Safe to call more than once; the
// registry is created on the first call.
func InitRegistry() {
	mu.Lock()
	defer mu.Unlock()
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return registry != nil
}

// GetRegistry returns the process registry, or nil when metrics are
// disabled.
func GetRegistry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()
	return registry
}

// resetRegistry drops the registry. Tests use it to start clean.
func resetRegistry() {
	mu.Lock()
	defer mu.Unlock()
	registry = nil
}
