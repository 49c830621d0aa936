package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "skillquiz",
		Name:      "sessions_started_total",
		Help:      "Quiz sessions that reached InProgress.",
	})

	SessionsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "skillquiz",
		Name:      "sessions_completed_total",
		Help:      "Quiz sessions resolved, by scoring source and completion trigger.",
	}, []string{"source", "trigger"})

	AnalyticsFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "skillquiz",
		Name:      "analytics_failures_total",
		Help:      "Analytics collaborator failures recovered locally, by stage.",
	}, []string{"stage"})

	PersistenceFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "skillquiz",
		Name:      "persistence_failures_total",
		Help:      "Results that could not be saved.",
	})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
