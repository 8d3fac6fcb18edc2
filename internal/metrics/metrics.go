// Package metrics provides Prometheus instrumentation for QuickChat: live
// connection counts, message delivery outcomes, seen-state updates and send
// latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the number of identities holding a live connection.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "quickchat_connections_total",
		Help: "Current number of identities with a live WebSocket connection",
	})

	// MessagesTotal counts message delivery outcomes.
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quickchat_messages_total",
		Help: "Messages processed by the delivery pipeline, by outcome",
	}, []string{"outcome"}) // persisted | pushed | relayed | offline | push_failed | rejected

	// SeenUpdates counts seen-state transitions, by path.
	SeenUpdates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quickchat_seen_updates_total",
		Help: "Messages marked as seen, by reconciliation path",
	}, []string{"path"}) // single | conversation

	// SendLatency records the time from send request to persisted message.
	SendLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "quickchat_send_latency_seconds",
		Help:    "Send pipeline latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// PresenceBroadcasts counts online-set broadcasts.
	PresenceBroadcasts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "quickchat_presence_broadcasts_total",
		Help: "Number of online-set broadcasts sent to connected clients",
	})

	// OutboundFailures counts frames that never reached a client, by reason.
	OutboundFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quickchat_outbound_failures_total",
		Help: "Outbound WebSocket frames dropped or failed, by reason",
	}, []string{"reason"}) // queue_full | write_error

	// RateLimited counts send requests refused by the rate limiter.
	RateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "quickchat_rate_limited_total",
		Help: "Send requests refused by the rate limiter",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		MessagesTotal,
		SeenUpdates,
		SendLatency,
		PresenceBroadcasts,
		RateLimited,
		OutboundFailures,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
