package observability

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for completed requests.
const (
	OutcomeSuccess     = "success"
	OutcomeRejected    = "rejected"
	OutcomeMalformed   = "malformed"
	OutcomeUnavailable = "unavailable"
	OutcomeTimeout     = "timeout"
	OutcomeCanceled    = "canceled"
)

var (
	registerOnce sync.Once

	requestsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modemctl",
			Subsystem: "requests",
			Name:      "submitted_total",
			Help:      "Requests written to the modem daemon.",
		},
		[]string{"kind"},
	)
	requestsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modemctl",
			Subsystem: "requests",
			Name:      "completed_total",
			Help:      "Requests retired from the pending table by outcome.",
		},
		[]string{"kind", "outcome"},
	)
	requestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "modemctl",
			Subsystem: "requests",
			Name:      "in_flight",
			Help:      "Requests awaiting a response.",
		},
	)
	responsesUnmatched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "modemctl",
			Subsystem: "responses",
			Name:      "unmatched_total",
			Help:      "Solicited responses whose serial had no owner.",
		},
	)
	eventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modemctl",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Unsolicited events published to subscribers.",
		},
		[]string{"kind", "remapped"},
	)
	eventsUnhandled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "modemctl",
			Subsystem: "events",
			Name:      "fallback_total",
			Help:      "Unsolicited events forwarded to the fallback handler.",
		},
	)
	connectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modemctl",
			Subsystem: "transport",
			Name:      "connect_attempts_total",
			Help:      "Connection attempts to the modem daemon.",
		},
		[]string{"result"},
	)
	connectionState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "modemctl",
			Subsystem: "transport",
			Name:      "state",
			Help:      "Connection state (0 disconnected, 1 connecting, 2 connected, 3 unavailable).",
		},
	)
	callControl = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modemctl",
			Subsystem: "callctl",
			Name:      "decisions_total",
			Help:      "Call-control serializer decisions.",
		},
		[]string{"decision"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			requestsSubmitted,
			requestsCompleted,
			requestsInFlight,
			responsesUnmatched,
			eventsPublished,
			eventsUnhandled,
			connectAttempts,
			connectionState,
			callControl,
		)
	})
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}

func RecordSubmitted(kind string) {
	RegisterMetrics()
	requestsSubmitted.WithLabelValues(kind).Inc()
	requestsInFlight.Inc()
}

func RecordCompleted(kind, outcome string) {
	RegisterMetrics()
	requestsCompleted.WithLabelValues(kind, outcome).Inc()
	requestsInFlight.Dec()
}

func RecordUnmatched() {
	RegisterMetrics()
	responsesUnmatched.Inc()
}

func RecordEvent(kind string, remapped bool) {
	RegisterMetrics()
	label := "false"
	if remapped {
		label = "true"
	}
	eventsPublished.WithLabelValues(kind, label).Inc()
}

func RecordFallbackEvent() {
	RegisterMetrics()
	eventsUnhandled.Inc()
}

func RecordConnectAttempt(ok bool) {
	RegisterMetrics()
	result := "error"
	if ok {
		result = "ok"
	}
	connectAttempts.WithLabelValues(result).Inc()
}

func RecordConnectionState(state int) {
	RegisterMetrics()
	connectionState.Set(float64(state))
}

func RecordCallControl(decision string) {
	RegisterMetrics()
	callControl.WithLabelValues(decision).Inc()
}
