package service

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	registry        *prometheus.Registry
	commands        *prometheus.CounterVec
	commandDuration prometheus.Histogram
	serviceStarts   *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sandbox_commands_total",
				Help: "Commands handled by the gateway, by outcome.",
			},
			[]string{"outcome"},
		),
		commandDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sandbox_command_duration_seconds",
				Help:    "Wall time of commands that were spawned.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
		),
		serviceStarts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sandbox_service_starts_total",
				Help: "Background service start requests, by result.",
			},
			[]string{"service", "result"},
		),
	}
	m.registry.MustRegister(m.commands, m.commandDuration, m.serviceStarts)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) observeCommand(res CommandResult, d time.Duration) {
	if m == nil {
		return
	}
	outcome := commandOutcome(res)
	m.commands.WithLabelValues(outcome).Inc()
	if outcome != "rejected" {
		m.commandDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) observeStart(service string, res StartResult) {
	if m == nil {
		return
	}
	m.serviceStarts.WithLabelValues(service, startStatus(res)).Inc()
}

func commandOutcome(res CommandResult) string {
	switch res.(type) {
	case Completed:
		return "completed"
	case TimedOut:
		return "timed_out"
	case Rejected:
		return "rejected"
	default:
		return "failed"
	}
}
