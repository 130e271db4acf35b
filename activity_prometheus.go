package auth

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusActivitySink counts activity events per type
type PrometheusActivitySink struct {
	EventsTotal *prometheus.CounterVec
}

var _ ActivitySink = (*PrometheusActivitySink)(nil)

// NewPrometheusActivitySink creates the counter and registers it when registry is not nil
func NewPrometheusActivitySink(registry prometheus.Registerer) (*PrometheusActivitySink, error) {
	s := &PrometheusActivitySink{
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cms_auth_activity_events_total",
				Help: "Total number of auth activity events",
			},
			[]string{"event_type"},
		),
	}

	if registry != nil {
		if err := registry.Register(s.EventsTotal); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Record implements ActivitySink.
func (s *PrometheusActivitySink) Record(_ context.Context, event ActivityEvent) error {
	s.EventsTotal.WithLabelValues(string(event.EventType)).Inc()
	return nil
}
