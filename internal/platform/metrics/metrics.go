// Package metrics exposes the coordinator's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ehr/caredispatch/pkg/apperr"
)

const namespace = "caredispatch"

var (
	Transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transitions_total",
		Help:      "Committed status transitions by entity and target status.",
	}, []string{"entity", "to"})

	Conflicts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "conflicts_total",
		Help:      "Operations rejected because a precondition did not hold.",
	}, []string{"operation"})

	TxRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tx_retries_total",
		Help:      "Transaction attempts repeated after a lost write race.",
	})

	WardBeds = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ward_beds",
		Help:      "Beds per ward and status as of the last capacity refresh.",
	}, []string{"ward", "status"})

	Notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Notification signals by backend and result.",
	}, []string{"backend", "result"})

	Panics = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_panics_total",
		Help:      "Handler panics recovered, by route.",
	}, []string{"route"})
)

// Registry holds the collectors above plus the Go runtime collectors.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		Transitions, Conflicts, TxRetries, WardBeds, Notifications, Panics,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// ObserveError counts err against operation when it is a Conflict.
func ObserveError(operation string, err error) {
	if apperr.IsConflict(err) {
		Conflicts.WithLabelValues(operation).Inc()
	}
}

// Transition counts one committed status change.
func Transition(entity, to string) {
	Transitions.WithLabelValues(entity, to).Inc()
}

// SetWardBeds records one ward's capacity snapshot.
func SetWardBeds(ward string, counts map[string]int) {
	for status, n := range counts {
		WardBeds.WithLabelValues(ward, status).Set(float64(n))
	}
}
