package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all studyrelay Prometheus metrics.
type Metrics struct {
	EventsTotal       *prometheus.CounterVec
	PublishDuration   *prometheus.HistogramVec
	PublishRejections *prometheus.CounterVec
	ConfigReloads     *prometheus.CounterVec
	HTTPRequests      *prometheus.CounterVec
}

// NewMetrics creates and registers all studyrelay metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "studyrelay_events_total",
			Help: "Study update events handled, by final status.",
		}, []string{"status"}),

		PublishDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "studyrelay_publish_duration_seconds",
			Help:    "Time spent publishing one message to the queue.",
			Buckets: prometheus.DefBuckets,
		}, []string{"backend"}),

		PublishRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "studyrelay_publish_rejections_total",
			Help: "Publishes answered by the queue with a non-success outcome.",
		}, []string{"backend", "status_code"}),

		ConfigReloads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "studyrelay_config_reloads_total",
			Help: "Configuration reloads, by what triggered them and their result.",
		}, []string{"trigger", "status"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "studyrelay_http_requests_total",
			Help: "Requests received by the HTTP ingress, by response code.",
		}, []string{"code"}),
	}
}
