// Package metrics exposes the gateway delivery counters.
//
// Counters are fire-and-forget: incrementing never blocks or fails the
// dispatch workflow.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Sent counts messages delivered successfully, per channel.
	Sent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notify_sent_total",
		Help: "Total messages successfully sent",
	}, []string{"channel"})

	// Failed counts messages that reached a terminal failed state, per channel.
	Failed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notify_failed_total",
		Help: "Total messages that permanently failed to send",
	}, []string{"channel"})

	// Queued counts messages accepted for asynchronous dispatch, per channel.
	Queued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notify_queued_total",
		Help: "Total messages queued for async send",
	}, []string{"channel"})
)

// Handler returns the HTTP handler serving the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
