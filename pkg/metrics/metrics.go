// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package metrics provides Prometheus instrumentation for mc3p.
//
// All observe methods accept a nil *Metrics so components can run
// uninstrumented in tests.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for mc3p.
type Metrics struct {
	// Session metrics
	ActiveSessions   prometheus.Gauge
	SessionsTotal    *prometheus.CounterVec
	SessionDuration  prometheus.Histogram
	ConnectionErrors *prometheus.CounterVec

	// Message metrics
	Messages         *prometheus.CounterVec
	MessageSize      *prometheus.HistogramVec
	DroppedMessages  *prometheus.CounterVec
	ModifiedMessages *prometheus.CounterVec
	InjectedMessages *prometheus.CounterVec
	Desyncs          *prometheus.CounterVec
	PassthroughBytes *prometheus.CounterVec
	ProtocolVersions *prometheus.CounterVec

	// Backend metrics
	BackendDialDuration prometheus.Histogram
	BackendErrors       *prometheus.CounterVec

	// Circuit breaker metrics
	CircuitBreakerState *prometheus.GaugeVec
	CircuitBreakerTrips *prometheus.CounterVec

	// Rate limiter metrics
	RateLimitedConnections prometheus.Counter

	// Plugin configuration reloads
	ConfigReloads *prometheus.CounterVec
}

// New creates a new Metrics instance registered with reg.
// A nil reg registers with the default Prometheus registry.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "mc3p"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		ActiveSessions: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_sessions",
				Help:      "Number of currently proxied sessions",
			},
		),
		SessionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_total",
				Help:      "Total number of sessions",
			},
			[]string{"status"},
		),
		SessionDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "session_duration_seconds",
				Help:      "Session duration in seconds",
				Buckets:   []float64{.1, 1, 10, 60, 300, 600, 1800, 3600, 7200},
			},
		),
		ConnectionErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connection_errors_total",
				Help:      "Total number of connection errors",
			},
			[]string{"error_type"},
		),
		Messages: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_total",
				Help:      "Total number of parsed messages",
			},
			[]string{"direction", "type"},
		),
		MessageSize: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "message_size_bytes",
				Help:      "Parsed message size in bytes",
				Buckets:   []float64{8, 32, 128, 512, 2048, 8192, 32768, 131072},
			},
			[]string{"direction"},
		),
		DroppedMessages: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dropped_messages_total",
				Help:      "Total number of messages dropped by plugins",
			},
			[]string{"direction", "type"},
		),
		ModifiedMessages: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "modified_messages_total",
				Help:      "Total number of messages re-encoded after modification",
			},
			[]string{"direction", "type"},
		),
		InjectedMessages: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "injected_messages_total",
				Help:      "Total number of messages injected by plugins",
			},
			[]string{"direction"},
		),
		Desyncs: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "desyncs_total",
				Help:      "Total number of relays that fell back to raw passthrough",
			},
			[]string{"direction", "reason"},
		),
		PassthroughBytes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "passthrough_bytes_total",
				Help:      "Bytes forwarded verbatim by desynchronized relays",
			},
			[]string{"direction"},
		),
		ProtocolVersions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "protocol_versions_total",
				Help:      "Protocol versions announced by clients",
			},
			[]string{"version"},
		),
		BackendDialDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "backend_dial_duration_seconds",
				Help:      "Time to connect to the game server",
				Buckets:   prometheus.DefBuckets,
			},
		),
		BackendErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backend_errors_total",
				Help:      "Total number of backend errors",
			},
			[]string{"backend", "error_type"},
		),
		CircuitBreakerState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=half_open, 2=open)",
			},
			[]string{"backend"},
		),
		CircuitBreakerTrips: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_trips_total",
				Help:      "Total number of circuit breaker trips",
			},
			[]string{"backend"},
		),
		RateLimitedConnections: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_connections_total",
				Help:      "Total number of connections refused by the rate limiter",
			},
		),
		ConfigReloads: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reloads_total",
				Help:      "Plugin configuration reloads",
			},
			[]string{"status"},
		),
	}
}

// ObserveSession tracks a session lifecycle.
func (m *Metrics) ObserveSession(f func() error) error {
	if m == nil {
		return f()
	}
	m.ActiveSessions.Inc()
	defer m.ActiveSessions.Dec()

	start := time.Now()
	defer func() {
		m.SessionDuration.Observe(time.Since(start).Seconds())
	}()

	err := f()
	status := "success"
	if err != nil {
		status = "error"
	}
	m.SessionsTotal.WithLabelValues(status).Inc()

	return err
}

// ObserveMessage counts a parsed message.
func (m *Metrics) ObserveMessage(dir string, typ byte, size int) {
	if m == nil {
		return
	}
	m.Messages.WithLabelValues(dir, TypeLabel(typ)).Inc()
	m.MessageSize.WithLabelValues(dir).Observe(float64(size))
}

// ObserveDrop counts a message dropped by a plugin.
func (m *Metrics) ObserveDrop(dir string, typ byte) {
	if m == nil {
		return
	}
	m.DroppedMessages.WithLabelValues(dir, TypeLabel(typ)).Inc()
}

// ObserveModified counts a re-encoded message.
func (m *Metrics) ObserveModified(dir string, typ byte) {
	if m == nil {
		return
	}
	m.ModifiedMessages.WithLabelValues(dir, TypeLabel(typ)).Inc()
}

// ObserveInjected counts injected messages.
func (m *Metrics) ObserveInjected(dir string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.InjectedMessages.WithLabelValues(dir).Add(float64(n))
}

// ObserveDesync counts a relay switching to passthrough.
func (m *Metrics) ObserveDesync(dir, reason string) {
	if m == nil {
		return
	}
	m.Desyncs.WithLabelValues(dir, reason).Inc()
}

// ObservePassthrough counts verbatim forwarded bytes.
func (m *Metrics) ObservePassthrough(dir string, n int) {
	if m == nil {
		return
	}
	m.PassthroughBytes.WithLabelValues(dir).Add(float64(n))
}

// ObserveVersion counts a protocol version announced by a client.
func (m *Metrics) ObserveVersion(version int32) {
	if m == nil {
		return
	}
	m.ProtocolVersions.WithLabelValues(fmt.Sprint(version)).Inc()
}

// ObserveConnectionError counts a failed session by cause.
func (m *Metrics) ObserveConnectionError(errorType string) {
	if m == nil {
		return
	}
	m.ConnectionErrors.WithLabelValues(errorType).Inc()
}

// ObserveDial tracks an outbound dial.
func (m *Metrics) ObserveDial(backend string, f func() error) error {
	if m == nil {
		return f()
	}
	start := time.Now()
	err := f()
	m.BackendDialDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		m.BackendErrors.WithLabelValues(backend, "dial").Inc()
	}
	return err
}

// ObserveBreaker records a circuit breaker transition.
func (m *Metrics) ObserveBreaker(backend string, state int, open bool) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(backend).Set(float64(state))
	if open {
		m.CircuitBreakerTrips.WithLabelValues(backend).Inc()
	}
}

// ObserveRateLimited counts a refused connection.
func (m *Metrics) ObserveRateLimited() {
	if m == nil {
		return
	}
	m.RateLimitedConnections.Inc()
}

// ObserveReload counts a plugin configuration reload.
func (m *Metrics) ObserveReload(err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ConfigReloads.WithLabelValues(status).Inc()
}

// TypeLabel formats a message type as a metric label.
func TypeLabel(typ byte) string {
	return fmt.Sprintf("0x%02x", typ)
}
