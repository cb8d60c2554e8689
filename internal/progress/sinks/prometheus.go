package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/showtimes-crawler/internal/progress"
)

// PrometheusSink mirrors tracker state into gauges.
type PrometheusSink struct {
	taskCompleted *prometheus.GaugeVec
	taskTotal     *prometheus.GaugeVec
	ratio         prometheus.Gauge
	changes       *prometheus.CounterVec
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		taskCompleted: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "showtimes_task_completed_steps",
			Help: "Completed steps per progress task.",
		}, []string{"task"}),
		taskTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "showtimes_task_total_steps",
			Help: "Total steps per progress task.",
		}, []string{"task"}),
		ratio: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "showtimes_progress_ratio",
			Help: "Weighted crawl progress between 0 and 1.",
		}),
		changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "showtimes_progress_events_total",
			Help: "Progress events partitioned by stage.",
		}, []string{"stage"}),
	}
	for _, c := range []prometheus.Collector{s.taskCompleted, s.taskTotal, s.ratio, s.changes} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume applies the batch to the gauges.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.changes.WithLabelValues(string(evt.Stage)).Inc()
		s.ratio.Set(evt.Aggregate.Ratio())
		if evt.Stage == progress.StageTaskRemoved {
			s.taskCompleted.DeleteLabelValues(evt.Task)
			s.taskTotal.DeleteLabelValues(evt.Task)
			continue
		}
		s.taskCompleted.WithLabelValues(evt.Task).Set(float64(evt.Completed))
		s.taskTotal.WithLabelValues(evt.Task).Set(float64(evt.Total))
	}
	return nil
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
