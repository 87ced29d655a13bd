package ml

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"reimburse-engine/internal/features"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
)

// ErrArtifactUnavailable means no usable trained bundle is loaded.
var ErrArtifactUnavailable = errors.New("trained models are not available")

// MetricsInterface defines the metrics the prediction and training paths
// report.
type MetricsInterface interface {
	PredictionsInc()
	PredictionFailuresInc()
	PredictionLatencyObserve(float64)
	CacheHitsInc()
	ValidationErrorsInc()
	BundleSwapsInc()
	ModelAgeSet(float64)
	ModelR2Set(model string, r2 float64)
	EnsembleWeightSet(model string, weight float64)
	FitDurationObserve(model string, seconds float64)
	FitFailuresInc(model string)
}

type noopMetrics struct{}

func (noopMetrics) PredictionsInc() {}
func (noopMetrics) PredictionFailuresInc() {}
func (noopMetrics) PredictionLatencyObserve(float64) {}
func (noopMetrics) CacheHitsInc() {}
func (noopMetrics) ValidationErrorsInc() {}
func (noopMetrics) BundleSwapsInc() {}
func (noopMetrics) ModelAgeSet(float64) {}
func (noopMetrics) ModelR2Set(string, float64) {}
func (noopMetrics) EnsembleWeightSet(string, float64) {}
func (noopMetrics) FitDurationObserve(string, float64) {}
func (noopMetrics) FitFailuresInc(string) {}

// RoundCents rounds half away from zero to two decimals. The rounding applies
// to the binary value, so RoundCents(1.005) is 1.00. Negative zero is
// returned as zero.
func RoundCents(x float64) float64 {
	out := math.Round(x*100) / 100
	if out == 0 {
		return 0
	}
	return out
}

type cacheKey struct {
	runID string
	trip  features.TripRecord
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	// CacheSize is the number of recent predictions kept; 0 disables the
	// cache.
	CacheSize int
	Metrics   MetricsInterface
}

// Service answers predictions from the currently loaded bundle. The bundle
// pointer is swapped whole, so a request sees either the old or the new
// bundle and never a mix.
type Service struct {
	bundle  atomic.Pointer[Bundle]
	cache   *lru.Cache[cacheKey, float64]
	metrics MetricsInterface
}

// NewService creates a service with no bundle loaded.
func NewService(cfg ServiceConfig) (*Service, error) {
	s := &Service{metrics: cfg.Metrics}
	if s.metrics == nil {
		s.metrics = noopMetrics{}
	}
	if cfg.CacheSize > 0 {
		c, err := lru.New[cacheKey, float64](cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("create prediction cache: %w", err)
		}
		s.cache = c
	}
	return s, nil
}

// Swap validates b and makes it the serving bundle.
func (s *Service) Swap(b *Bundle) error {
	if err := b.Validate(); err != nil {
		return err
	}
	old := s.bundle.Swap(b)
	if s.cache != nil {
		s.cache.Purge()
	}
	s.metrics.BundleSwapsInc()
	s.metrics.ModelAgeSet(time.Since(b.CreatedAt).Seconds())
	for name, w := range b.Weights {
		s.metrics.EnsembleWeightSet(name, w)
	}

	ev := log.Info().Str("run_id", b.RunID).Int("models", len(b.Models))
	if old != nil {
		ev = ev.Str("previous_run_id", old.RunID)
	}
	ev.Msg("Serving bundle swapped in")
	return nil
}

// Current returns the serving bundle or nil.
func (s *Service) Current() *Bundle {
	return s.bundle.Load()
}

// PredictRaw validates three textual inputs and predicts.
func (s *Service) PredictRaw(duration, miles, receipts string) (float64, error) {
	trip, err := features.ParseTrip(duration, miles, receipts)
	if err != nil {
		s.metrics.ValidationErrorsInc()
		return 0, err
	}
	return s.Predict(trip)
}

// Predict returns the rounded ensemble reimbursement for trip.
func (s *Service) Predict(trip features.TripRecord) (float64, error) {
	if err := trip.Validate(); err != nil {
		s.metrics.ValidationErrorsInc()
		return 0, err
	}

	b := s.bundle.Load()
	if b == nil {
		s.metrics.PredictionFailuresInc()
		return 0, ErrArtifactUnavailable
	}

	key := cacheKey{runID: b.RunID, trip: trip}
	if s.cache != nil {
		if v, ok := s.cache.Get(key); ok {
			s.metrics.CacheHitsInc()
			s.metrics.PredictionsInc()
			return v, nil
		}
	}

	start := time.Now()
	raw, err := b.Predict(features.Engineer(trip))
	if err != nil {
		s.metrics.PredictionFailuresInc()
		return 0, fmt.Errorf("ensemble prediction: %w", err)
	}
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		s.metrics.PredictionFailuresInc()
		return 0, fmt.Errorf("ensemble produced a non-finite value for %+v", trip)
	}
	out := RoundCents(raw)

	s.metrics.PredictionLatencyObserve(time.Since(start).Seconds())
	s.metrics.PredictionsInc()
	if s.cache != nil {
		s.cache.Add(key, out)
	}
	return out, nil
}
