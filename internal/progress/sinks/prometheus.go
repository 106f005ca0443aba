package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/betline-crawler/internal/progress"
)

// PrometheusSink exports run-level crawl metrics. Per-attempt request metrics
// live in internal/metrics; this sink covers what only the progress stream
// knows: run lifecycle, emitted events and breaker transitions.
type PrometheusSink struct {
	runsStarted        prometheus.Counter
	runsCompleted      *prometheus.CounterVec
	runRuntime         *prometheus.HistogramVec
	eventsEmitted      prometheus.Counter
	fetchBytes         *prometheus.CounterVec
	breakerTransitions *prometheus.CounterVec
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "betline_runs_started_total",
			Help: "Total crawl runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "betline_runs_completed_total",
			Help: "Total crawl runs completed partitioned by result.",
		}, []string{"result"}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "betline_run_runtime_seconds",
			Help:    "Wall time per completed crawl run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"result"}),
		eventsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "betline_events_emitted_total",
			Help: "Hydrated events handed to the result sink.",
		}),
		fetchBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "betline_fetch_bytes_total",
			Help: "Response bytes downloaded per endpoint.",
		}, []string{"endpoint"}),
		breakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "betline_breaker_transitions_total",
			Help: "Circuit breaker state changes partitioned by transition.",
		}, []string{"transition"}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runRuntime,
		s.eventsEmitted,
		s.fetchBytes,
		s.breakerTransitions,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
	case progress.StageRunDone:
		s.completeRun(evt, "success")
	case progress.StageRunError:
		s.completeRun(evt, "error")
	case progress.StageEventEmitted:
		s.eventsEmitted.Inc()
	case progress.StageFetchDone:
		if evt.Bytes > 0 {
			s.fetchBytes.WithLabelValues(evt.Endpoint).Add(float64(evt.Bytes))
		}
	case progress.StageBreakerTransition:
		s.breakerTransitions.WithLabelValues(evt.Note).Inc()
	}
}

func (s *PrometheusSink) completeRun(evt progress.Event, result string) {
	s.runsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.runRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
