// Package metrics holds the Prometheus collectors of the lottery.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Draw outcomes.
const (
	DrawWinner  = "winner"
	DrawEmpty   = "empty"
	DrawNotDue  = "not_due"
	DrawSkipped = "skipped"
	DrawFailed  = "failed"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	ticketsSold = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lottery",
			Name:      "tickets_sold_total",
			Help:      "Total number of lottery tickets sold.",
		},
	)

	purchaseRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lottery",
			Name:      "purchase_rejected_total",
			Help:      "Ticket purchases refused, by reason.",
		},
		[]string{"reason"},
	)

	draws = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lottery",
			Name:      "draws_total",
			Help:      "Draw task runs, by outcome.",
		},
		[]string{"outcome"},
	)

	currentPot = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lottery",
			Name:      "current_pot",
			Help:      "Points accumulated in the pot of the open term.",
		},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lottery",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "route", "status"},
	)
)

func init() {
	Registry.MustRegister(
		ticketsSold,
		purchaseRejected,
		draws,
		currentPot,
		httpDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// TicketSold records one successful purchase.
func TicketSold() {
	ticketsSold.Inc()
}

// PurchaseRejected records a refused purchase.
func PurchaseRejected(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	purchaseRejected.WithLabelValues(reason).Inc()
}

// DrawRun records the outcome of one draw task run.
func DrawRun(outcome string) {
	draws.WithLabelValues(outcome).Inc()
}

// SetPot publishes the pot of the open term.
func SetPot(pot int64) {
	currentPot.Set(float64(pot))
}

// ObserveHTTP records one served request. route is the matched route pattern.
func ObserveHTTP(method, route string, status int, duration time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	httpDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(duration.Seconds())
}
