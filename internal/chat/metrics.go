package chat

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	malformedEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_malformed_events_total",
		Help: "Change events dropped because they could not be normalized.",
	}, []string{"table"})

	mutationsConfirmedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_mutations_confirmed_total",
		Help: "Optimistic mutations confirmed by the remote.",
	}, []string{"kind"})

	mutationsRevertedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_mutations_reverted_total",
		Help: "Optimistic mutations rolled back after a remote failure.",
	}, []string{"kind"})

	storeFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_store_failures_total",
		Help: "Pending store operations that failed and were degraded to session-only state.",
	})
)

func init() {
	prometheus.MustRegister(
		malformedEventsTotal,
		mutationsConfirmedTotal,
		mutationsRevertedTotal,
		storeFailuresTotal,
	)
}
