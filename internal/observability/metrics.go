package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeDropped  = "dropped"
	OutcomeError    = "error"
	OutcomeLimited  = "limited"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "beacon",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total ops HTTP requests.",
		},
		[]string{"node", "method", "route", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "beacon",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Ops HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "route", "status"},
	)
	datagrams = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "beacon",
			Subsystem: "data_plane",
			Name:      "datagrams_total",
			Help:      "Inbound datagrams by outcome.",
		},
		[]string{"node", "outcome"},
	)
	datagramDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "beacon",
			Subsystem: "data_plane",
			Name:      "datagram_duration_seconds",
			Help:      "Time from datagram receipt to reply.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		},
		[]string{"node", "outcome"},
	)
	controlExchanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "beacon",
			Subsystem: "control_plane",
			Name:      "exchanges_total",
			Help:      "Control-plane exchanges by request kind and outcome.",
		},
		[]string{"node", "kind", "outcome"},
	)
	conversations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "beacon",
			Subsystem: "agent",
			Name:      "conversations_total",
			Help:      "Agent conversations by outcome.",
		},
		[]string{"target", "success"},
	)
	conversationExchanges = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "beacon",
			Subsystem: "agent",
			Name:      "conversation_exchanges",
			Help:      "Request/reply exchanges per agent conversation.",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64},
		},
		[]string{"target"},
	)
	poolCommands = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "beacon",
			Subsystem: "pool",
			Name:      "commands",
			Help:      "Commands currently queued.",
		},
		[]string{"node"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			datagrams,
			datagramDuration,
			controlExchanges,
			conversations,
			conversationExchanges,
			poolCommands,
		)
	})
}

func RecordHTTPRequest(node, method, route string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, route, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, route, statusLabel).Observe(duration.Seconds())
}

func RecordDatagram(node, outcome string, duration time.Duration) {
	RegisterMetrics()
	datagrams.WithLabelValues(node, outcome).Inc()
	datagramDuration.WithLabelValues(node, outcome).Observe(duration.Seconds())
}

func RecordControlExchange(node, kind, outcome string) {
	RegisterMetrics()
	controlExchanges.WithLabelValues(node, kind, outcome).Inc()
}

func RecordConversation(target string, exchanges int, success bool) {
	RegisterMetrics()
	conversations.WithLabelValues(target, strconv.FormatBool(success)).Inc()
	conversationExchanges.WithLabelValues(target).Observe(float64(exchanges))
}

func SetPoolCommands(node string, n int) {
	RegisterMetrics()
	poolCommands.WithLabelValues(node).Set(float64(n))
}
