package event

import "github.com/prometheus/client_golang/prometheus"

type busMetrics struct {
	publishedVec *prometheus.CounterVec
	deliveredVec *prometheus.CounterVec
	droppedVec   *prometheus.CounterVec
}

func newBusMetrics(registry *prometheus.Registry) *busMetrics {
	if registry == nil {
		return nil
	}

	m := &busMetrics{
		publishedVec: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autoagent_events_published_total",
				Help: "Total number of events published by event type",
			},
			[]string{"event_type"},
		),
		deliveredVec: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autoagent_events_delivered_total",
				Help: "Total number of events delivered by event type",
			},
			[]string{"event_type"},
		),
		droppedVec: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autoagent_events_dropped_total",
				Help: "Total number of events dropped due to full buffers",
			},
			[]string{"event_type"},
		),
	}

	registry.MustRegister(m.publishedVec, m.deliveredVec, m.droppedVec)

	return m
}

func (m *busMetrics) published(eventType string) {
	if m != nil {
		m.publishedVec.WithLabelValues(eventType).Inc()
	}
}

func (m *busMetrics) delivered(eventType string) {
	if m != nil {
		m.deliveredVec.WithLabelValues(eventType).Inc()
	}
}

func (m *busMetrics) dropped(eventType string) {
	if m != nil {
		m.droppedVec.WithLabelValues(eventType).Inc()
	}
}
