// Package metrics provides Prometheus metrics for the reimbursement engine.
// It covers the prediction path (throughput, failures, latency, cache use,
// bundle swaps) and training (per-model fit time, held-out R², ensemble
// weights and fit failures).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics of the engine.
type Metrics struct {
	// Prediction metrics
	Predictions        prometheus.Counter   // Predictions served
	PredictionFailures prometheus.Counter   // Predictions that returned an error
	PredictionLatency  prometheus.Histogram // End-to-end ensemble latency in seconds
	CacheHits          prometheus.Counter   // Predictions answered from the cache
	ValidationErrors   prometheus.Counter   // Requests rejected by input validation

	// Bundle metrics
	BundleSwaps prometheus.Counter // Bundles swapped into the service
	ModelAge    prometheus.Gauge   // Age of the serving bundle in seconds

	// Training metrics
	ModelR2        *prometheus.GaugeVec     // Held-out R² per model
	EnsembleWeight *prometheus.GaugeVec     // Ensemble weight per model
	FitDuration    *prometheus.HistogramVec // Fit duration per model in seconds
	FitFailures    *prometheus.CounterVec   // Failed fits per model

	gatherer prometheus.Gatherer
}

// New creates and registers all metrics with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	m := &Metrics{
		Predictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "reimburse_predictions_total",
			Help: "Total number of reimbursement predictions served",
		}),
		PredictionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "reimburse_prediction_failures_total",
			Help: "Total number of predictions that failed",
		}),
		PredictionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "reimburse_prediction_latency_seconds",
			Help:    "Ensemble prediction latency in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "reimburse_prediction_cache_hits_total",
			Help: "Total number of predictions answered from the cache",
		}),
		ValidationErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "reimburse_validation_errors_total",
			Help: "Total number of inputs rejected by validation",
		}),
		BundleSwaps: factory.NewCounter(prometheus.CounterOpts{
			Name: "reimburse_bundle_swaps_total",
			Help: "Total number of artifact bundles swapped in",
		}),
		ModelAge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "reimburse_model_age_seconds",
			Help: "Age of the serving bundle in seconds at swap time",
		}),
		ModelR2: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "reimburse_model_test_r2",
			Help: "Held-out R² of each trained model",
		}, []string{"model"}),
		EnsembleWeight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "reimburse_ensemble_weight",
			Help: "Ensemble weight of each model in the serving bundle",
		}, []string{"model"}),
		FitDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reimburse_fit_duration_seconds",
			Help:    "Time spent fitting each model in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"model"}),
		FitFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reimburse_fit_failures_total",
			Help: "Total number of failed fits per model",
		}, []string{"model"}),
	}

	if g, ok := registerer.(prometheus.Gatherer); ok {
		m.gatherer = g
	} else {
		m.gatherer = prometheus.DefaultGatherer
	}
	return m
}

// Handler serves the registry the metrics were created in.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// GetErrorRate returns failed predictions over all prediction attempts, or 0
// before any prediction.
func (m *Metrics) GetErrorRate() float64 {
	var total, failed float64

	families, err := m.gatherer.Gather()
	if err != nil {
		return 0
	}
	for _, mf := range families {
		switch mf.GetName() {
		case "reimburse_predictions_total":
			for _, metric := range mf.Metric {
				total += metric.GetCounter().GetValue()
			}
		case "reimburse_prediction_failures_total":
			for _, metric := range mf.Metric {
				failed += metric.GetCounter().GetValue()
			}
		}
	}

	if total+failed == 0 {
		return 0
	}
	return failed / (total + failed)
}
