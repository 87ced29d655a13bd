package ml

import (
	"sync"

	"reimburse-engine/internal/estimator"
)

// MockMetrics implements MetricsInterface for testing
type MockMetrics struct {
	mu               sync.Mutex
	predictions      int
	failures         int
	latencySum       float64
	cacheHits        int
	validationErrors int
	swaps            int
	modelAge         float64
	r2               map[string]float64
	weights          map[string]float64
	fitDurations     map[string]float64
	fitFailures      map[string]int
}

func NewMockMetrics() *MockMetrics {
	return &MockMetrics{
		r2:           make(map[string]float64),
		weights:      make(map[string]float64),
		fitDurations: make(map[string]float64),
		fitFailures:  make(map[string]int),
	}
}

func (m *MockMetrics) PredictionsInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.predictions++
}

func (m *MockMetrics) PredictionFailuresInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures++
}

func (m *MockMetrics) PredictionLatencyObserve(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencySum += v
}

func (m *MockMetrics) CacheHitsInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cacheHits++
}

func (m *MockMetrics) ValidationErrorsInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validationErrors++
}

func (m *MockMetrics) BundleSwapsInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.swaps++
}

func (m *MockMetrics) ModelAgeSet(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modelAge = v
}

func (m *MockMetrics) ModelR2Set(model string, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.r2[model] = v
}

func (m *MockMetrics) EnsembleWeightSet(model string, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.weights[model] = v
}

func (m *MockMetrics) FitDurationObserve(model string, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fitDurations[model] += v
}

func (m *MockMetrics) FitFailuresInc(model string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fitFailures[model]++
}

// constModel predicts a fixed value for every row.
type constModel struct {
	value float64
}

func (c *constModel) Fit([][]float64, []float64) error { return nil }

func (c *constModel) Predict(X [][]float64) ([]float64, error) {
	out := make([]float64, len(X))
	for i := range out {
		out[i] = c.value
	}
	return out, nil
}

func (c *constModel) Kind() estimator.Kind { return estimator.KindLinear }

// panicModel panics during Fit.
type panicModel struct{}

func (panicModel) Fit([][]float64, []float64) error { panic("boom") }

func (panicModel) Predict([][]float64) ([]float64, error) { return nil, estimator.ErrNotFitted }

func (panicModel) Kind() estimator.Kind { return estimator.KindLinear }
