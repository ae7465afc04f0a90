package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slotbook",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slotbook",
			Name:      "state_transitions_total",
			Help:      "Reservation state transition attempts by action and outcome.",
		},
		[]string{"action", "outcome"},
	)

	uploadRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slotbook",
			Name:      "upload_rejections_total",
			Help:      "Rejected image uploads by reason.",
		},
		[]string{"reason"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, stateTransitions, uploadRejections)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// IncTransition records a state transition attempt.
func IncTransition(action, outcome string) {
	stateTransitions.WithLabelValues(action, outcome).Inc()
}

// IncUploadRejection records a rejected upload.
func IncUploadRejection(reason string) {
	uploadRejections.WithLabelValues(reason).Inc()
}
