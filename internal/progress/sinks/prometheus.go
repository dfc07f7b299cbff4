package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/rankcrawl/internal/crawl"
)

// PrometheusSink exports run and unit metrics via Prometheus.
type PrometheusSink struct {
	runsStarted  prometheus.Counter
	runsFinished *prometheus.CounterVec
	runActive    prometheus.Gauge
	runDuration  *prometheus.HistogramVec

	units        *prometheus.CounterVec
	unitDuration *prometheus.HistogramVec
	records      *prometheus.CounterVec
	currentDelay prometheus.Gauge
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rankcrawl_runs_started_total",
			Help: "Total runs that have started.",
		}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rankcrawl_runs_finished_total",
			Help: "Total runs finished partitioned by terminal status.",
		}, []string{"status"}),
		runActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rankcrawl_run_active",
			Help: "1 while a run is in progress.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rankcrawl_run_duration_seconds",
			Help:    "Wall time per finished run.",
			Buckets: []float64{10, 30, 60, 300, 600, 1800, 3600, 7200, 14400},
		}, []string{"status"}),
		units: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rankcrawl_units_total",
			Help: "Executed units partitioned by content type and outcome.",
		}, []string{"content_type", "outcome"}),
		unitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rankcrawl_unit_duration_seconds",
			Help:    "Upstream latency of the final attempt per unit.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"content_type"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rankcrawl_records_total",
			Help: "Records reported by the upstream per content type.",
		}, []string{"content_type"}),
		currentDelay: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rankcrawl_current_delay_seconds",
			Help: "Inter-request delay chosen by the rate controller.",
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsFinished,
		s.runActive,
		s.runDuration,
		s.units,
		s.unitDuration,
		s.records,
		s.currentDelay,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []crawl.Event) error {
	for _, evt := range batch {
		switch evt.Kind {
		case crawl.EventRunStart:
			s.runsStarted.Inc()
			s.runActive.Set(1)
		case crawl.EventUnitDone:
			s.units.WithLabelValues(evt.Unit.ContentType, string(evt.Outcome)).Inc()
			if evt.Records > 0 {
				s.records.WithLabelValues(evt.Unit.ContentType).Add(float64(evt.Records))
			}
			if evt.Dur > 0 {
				s.unitDuration.WithLabelValues(evt.Unit.ContentType).Observe(evt.Dur.Seconds())
			}
			s.currentDelay.Set(evt.Delay.Seconds())
		case crawl.EventRunDone:
			s.runsFinished.WithLabelValues(string(evt.Status)).Inc()
			if evt.Dur > 0 {
				s.runDuration.WithLabelValues(string(evt.Status)).Observe(evt.Dur.Seconds())
			}
			s.runActive.Set(0)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
