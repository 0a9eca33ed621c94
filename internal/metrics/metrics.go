package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CommandsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sirenlink_commands_published_total",
			Help: "Commands accepted by the broker, by action and cause.",
		},
		[]string{"action", "cause"},
	)

	CommandsRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sirenlink_commands_rejected_total",
		Help: "Command requests denied by the access check.",
	})

	AutoOffFired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sirenlink_auto_off_fired_total",
		Help: "Auto-off timers that expired and issued an OFF command.",
	})

	AutoOffArmed = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sirenlink_auto_off_armed",
		Help: "Auto-off timers currently armed.",
	})

	TelemetryMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sirenlink_telemetry_messages_total",
			Help: "Inbound telemetry messages handled, by class.",
		},
		[]string{"class"},
	)

	TelemetryDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sirenlink_telemetry_dropped_total",
			Help: "Inbound telemetry messages dropped, by reason.",
		},
		[]string{"reason"},
	)

	LedgerWriteFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sirenlink_ledger_write_failures_total",
		Help: "Activation ledger entries that could not be persisted.",
	})
)

func init() {
	prometheus.MustRegister(
		CommandsPublished,
		CommandsRejected,
		AutoOffFired,
		AutoOffArmed,
		TelemetryMessages,
		TelemetryDropped,
		LedgerWriteFailures,
	)
}

// Handler serves the default registry.
func Handler() http.Handler { return promhttp.Handler() }
