package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service counters exposed on /metrics.
type Metrics struct {
	Questions       *prometheus.CounterVec
	Fallbacks       prometheus.Counter
	DocumentsQueued prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Questions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docqa_questions_total",
			Help: "Questions answered, labeled by chosen route.",
		}, []string{"route"}),
		Fallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "docqa_strategy_fallbacks_total",
			Help: "Strategy executions that fell back down the chain.",
		}),
		DocumentsQueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "docqa_documents_queued_total",
			Help: "Documents enqueued for ingestion.",
		}),
	}
}
