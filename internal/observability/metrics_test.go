package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMetrics_Register(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.EventsTotal.WithLabelValues("success").Inc()
	m.EventsTotal.WithLabelValues("rejected").Inc()
	m.PublishDuration.WithLabelValues("sqs").Observe(0.05)
	m.PublishRejections.WithLabelValues("sqs", "400").Inc()
	m.ConfigReloads.WithLabelValues("env", "success").Inc()
	m.HTTPRequests.WithLabelValues("200").Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	expected := []string{
		"studyrelay_events_total",
		"studyrelay_publish_duration_seconds",
		"studyrelay_publish_rejections_total",
		"studyrelay_config_reloads_total",
		"studyrelay_http_requests_total",
	}
	for _, name := range expected {
		if !names[name] {
			t.Errorf("expected metric %s not found", name)
		}
	}
}

func TestMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)

	defer func() {
		if recover() == nil {
			t.Error("expected panic registering metrics twice")
		}
	}()
	NewMetrics(reg)
}
