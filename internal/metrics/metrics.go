package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the detection pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	EventsIngested    *prometheus.CounterVec
	PipelineRuns      *prometheus.CounterVec
	PipelineErrors    prometheus.Counter
	FindingsCreated   *prometheus.CounterVec
	ScoreDuration     prometheus.Histogram
	AttributionMethod *prometheus.CounterVec
	TrainingRuns      *prometheus.CounterVec
	TrainingDuration  prometheus.Histogram
	ModelSamples      prometheus.Gauge
	PublishErrors     prometheus.Counter
}

// New registers all collectors on reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EventsIngested: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_events_ingested_total",
			Help: "Total number of events recorded, by event type",
		}, []string{"type"}),
		PipelineRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_pipeline_runs_total",
			Help: "Detection pipeline runs by outcome",
		}, []string{"outcome"}),
		PipelineErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_pipeline_errors_total",
			Help: "Detection pipeline failures isolated from ingestion",
		}),
		FindingsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_findings_created_total",
			Help: "Findings created, by risk level and source",
		}, []string{"risk_level", "source"}),
		ScoreDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "sentinel_score_duration_seconds",
			Help:    "Time to fingerprint and score one identity",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		AttributionMethod: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_attributions_total",
			Help: "Explanations produced, by attribution method",
		}, []string{"method"}),
		TrainingRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_training_runs_total",
			Help: "Model training runs by outcome",
		}, []string{"outcome"}),
		TrainingDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "sentinel_training_duration_seconds",
			Help:    "Duration of successful training runs",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		ModelSamples: f.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_model_samples",
			Help: "Population size of the loaded model artifact",
		}),
		PublishErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_publish_errors_total",
			Help: "Total number of NATS publish errors",
		}),
	}
}

// IncEventsIngested counts a recorded event
func (m *Metrics) IncEventsIngested(eventType string) {
	if m == nil {
		return
	}
	m.EventsIngested.WithLabelValues(eventType).Inc()
}

// IncPipelineRun counts a pipeline run outcome (finding, normal, skipped, rule, error)
func (m *Metrics) IncPipelineRun(outcome string) {
	if m == nil {
		return
	}
	m.PipelineRuns.WithLabelValues(outcome).Inc()
	if outcome == "error" {
		m.PipelineErrors.Inc()
	}
}

// IncFindingCreated counts a persisted finding
func (m *Metrics) IncFindingCreated(riskLevel, source string) {
	if m == nil {
		return
	}
	m.FindingsCreated.WithLabelValues(riskLevel, source).Inc()
}

// ObserveScore records scoring latency in seconds
func (m *Metrics) ObserveScore(seconds float64) {
	if m == nil {
		return
	}
	m.ScoreDuration.Observe(seconds)
}

// IncAttribution counts an explanation by method
func (m *Metrics) IncAttribution(method string) {
	if m == nil {
		return
	}
	m.AttributionMethod.WithLabelValues(method).Inc()
}

// ObserveTraining records a training outcome and, on success, its duration and size
func (m *Metrics) ObserveTraining(outcome string, seconds float64, samples int) {
	if m == nil {
		return
	}
	m.TrainingRuns.WithLabelValues(outcome).Inc()
	if outcome == "success" {
		m.TrainingDuration.Observe(seconds)
		m.ModelSamples.Set(float64(samples))
	}
}

// IncPublishErrors counts a failed publish
func (m *Metrics) IncPublishErrors() {
	if m == nil {
		return
	}
	m.PublishErrors.Inc()
}
