package metrics

// MetricsWrapper adapts Metrics to the method set the prediction service
// and trainer report through.
type MetricsWrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *MetricsWrapper {
	return &MetricsWrapper{m: m}
}

func (w *MetricsWrapper) PredictionsInc() {
	w.m.Predictions.Inc()
}

func (w *MetricsWrapper) PredictionFailuresInc() {
	w.m.PredictionFailures.Inc()
}

func (w *MetricsWrapper) PredictionLatencyObserve(v float64) {
	w.m.PredictionLatency.Observe(v)
}

func (w *MetricsWrapper) CacheHitsInc() {
	w.m.CacheHits.Inc()
}

func (w *MetricsWrapper) ValidationErrorsInc() {
	w.m.ValidationErrors.Inc()
}

func (w *MetricsWrapper) BundleSwapsInc() {
	w.m.BundleSwaps.Inc()
}

func (w *MetricsWrapper) ModelAgeSet(v float64) {
	w.m.ModelAge.Set(v)
}

func (w *MetricsWrapper) ModelR2Set(model string, v float64) {
	w.m.ModelR2.WithLabelValues(model).Set(v)
}

func (w *MetricsWrapper) EnsembleWeightSet(model string, v float64) {
	w.m.EnsembleWeight.WithLabelValues(model).Set(v)
}

func (w *MetricsWrapper) FitDurationObserve(model string, v float64) {
	w.m.FitDuration.WithLabelValues(model).Observe(v)
}

func (w *MetricsWrapper) FitFailuresInc(model string) {
	w.m.FitFailures.WithLabelValues(model).Inc()
}
