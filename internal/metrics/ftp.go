package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// FTPMetrics collects counters for the FTP adapter. All methods are nil-safe:
// pass nil to disable collection with zero overhead.
type FTPMetrics struct {
	connectionsAccepted prometheus.Counter
	connectionsClosed   prometheus.Counter
	connectionsForced   prometheus.Counter
	activeSessions      prometheus.Gauge
	authAttempts        *prometheus.CounterVec
	commands            *prometheus.CounterVec
	transfers           *prometheus.CounterVec
	transferBytes       *prometheus.CounterVec
}

// NewFTPMetrics creates a Prometheus-backed FTPMetrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewFTPMetrics() *FTPMetrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &FTPMetrics{
		connectionsAccepted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "ftpy_connections_accepted_total",
				Help: "Total number of accepted control connections",
			},
		),
		connectionsClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "ftpy_connections_closed_total",
				Help: "Total number of control connections closed",
			},
		),
		connectionsForced: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "ftpy_connections_force_closed_total",
				Help: "Total number of control connections force-closed during shutdown",
			},
		),
		activeSessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "ftpy_active_sessions",
				Help: "Number of control sessions currently being served",
			},
		),
		authAttempts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ftpy_auth_attempts_total",
				Help: "Total number of login attempts by result",
			},
			[]string{"result"}, // "success", "failure"
		),
		commands: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ftpy_commands_total",
				Help: "Total number of control commands by verb",
			},
			[]string{"verb"},
		),
		transfers: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ftpy_transfers_total",
				Help: "Total number of completed data transfers by direction",
			},
			[]string{"direction"}, // "inbound", "outbound"
		),
		transferBytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ftpy_transfer_bytes_total",
				Help: "Total bytes moved over data connections by direction",
			},
			[]string{"direction"},
		),
	}
}

// RecordConnectionAccepted increments the accepted-connection counter and
// the active session gauge.
func (m *FTPMetrics) RecordConnectionAccepted() {
	if m == nil {
		return
	}
	m.connectionsAccepted.Inc()
	m.activeSessions.Inc()
}

// RecordConnectionClosed decrements the active session gauge.
func (m *FTPMetrics) RecordConnectionClosed() {
	if m == nil {
		return
	}
	m.connectionsClosed.Inc()
	m.activeSessions.Dec()
}

// RecordConnectionForced counts a connection terminated by the shutdown
// grace deadline.
func (m *FTPMetrics) RecordConnectionForced() {
	if m == nil {
		return
	}
	m.connectionsForced.Inc()
}

// RecordAuthAttempt counts a login attempt. result is "success" or
// "failure".
func (m *FTPMetrics) RecordAuthAttempt(result string) {
	if m == nil {
		return
	}
	m.authAttempts.WithLabelValues(result).Inc()
}

// RecordCommand counts one dispatched command by verb.
func (m *FTPMetrics) RecordCommand(verb string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(verb).Inc()
}

// RecordTransfer counts one completed transfer and its payload size.
// direction is "inbound" for uploads and "outbound" for downloads and
// listings.
func (m *FTPMetrics) RecordTransfer(direction string, bytes int64) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues(direction).Inc()
	m.transferBytes.WithLabelValues(direction).Add(float64(bytes))
}
