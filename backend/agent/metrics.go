package agent

import "github.com/prometheus/client_golang/prometheus"

type prometheusRegisterer = prometheus.Registerer

type coordinatorMetrics struct {
	tasks   *prometheus.CounterVec
	steps   prometheus.Counter
	reviews *prometheus.CounterVec
}

func newCoordinatorMetrics(registry prometheus.Registerer) *coordinatorMetrics {
	if registry == nil {
		return nil
	}

	m := &coordinatorMetrics{
		tasks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autoagent_tasks_total",
				Help: "Total number of finished tasks by outcome",
			},
			[]string{"outcome"},
		),
		steps: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "autoagent_steps_total",
				Help: "Total number of worker steps executed",
			},
		),
		reviews: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autoagent_reviews_total",
				Help: "Total number of asynchronous reviews by outcome",
			},
			[]string{"outcome"},
		),
	}

	registry.MustRegister(m.tasks, m.steps, m.reviews)

	return m
}

func (m *coordinatorMetrics) taskFinished(outcome string) {
	if m != nil {
		m.tasks.WithLabelValues(outcome).Inc()
	}
}

func (m *coordinatorMetrics) stepExecuted() {
	if m != nil {
		m.steps.Inc()
	}
}

func (m *coordinatorMetrics) reviewResolved(outcome string) {
	if m != nil {
		m.reviews.WithLabelValues(outcome).Inc()
	}
}
