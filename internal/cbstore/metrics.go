package cbstore

import "github.com/prometheus/client_golang/prometheus"

// Save counters shared by every backend, registered on the default registry
// and served from the /metrics endpoint.
var (
	SavesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "corkboard_document_saves_total",
		Help: "Number of successful document saves.",
	})

	SaveFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "corkboard_document_save_failures_total",
		Help: "Number of document saves that failed after exhausting retries.",
	})

	SaveRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "corkboard_document_save_retries_total",
		Help: "Number of document write attempts that were retried.",
	})
)

func init() {
	prometheus.MustRegister(SavesTotal, SaveFailuresTotal, SaveRetriesTotal)
}
