// Package harness replays a labeled dataset through a predictor and reports
// how close the predictions land.
package harness

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"reimburse-engine/internal/dataset"
	"reimburse-engine/internal/features"
	"reimburse-engine/internal/ml"
	"reimburse-engine/internal/storage"

	"github.com/rs/zerolog/log"
)

// HighErrorThreshold flags predictions that miss by more than this many dollars.
const HighErrorThreshold = 100.0

// Predictor is anything that turns a trip into a reimbursement.
type Predictor interface {
	Predict(trip features.TripRecord) (float64, error)
}

// Prediction is the outcome of one case.
type Prediction struct {
	Index     int                 `json:"index"`
	Trip      features.TripRecord `json:"trip"`
	Expected  float64             `json:"expected"`
	Predicted float64             `json:"predicted"`
	AbsError  float64             `json:"abs_error"`
	Latency   time.Duration       `json:"latency_ns"`
	Err       string              `json:"error,omitempty"`
}

// Failed reports whether the predictor returned an error for this case.
func (p Prediction) Failed() bool { return p.Err != "" }

// Results holds everything a harness run produced.
type Results struct {
	RunID       string
	Dataset     string
	StartTime   time.Time
	EndTime     time.Time
	Predictions []Prediction
	Failures    int
	HighErrors  int
	Metrics     ml.Metrics
	AvgLatency  time.Duration
	MaxLatency  time.Duration
}

// Run predicts every case in order. Failing cases are recorded and excluded
// from the accuracy metrics; if every case fails, Run returns an error.
func Run(ctx context.Context, p Predictor, cases []dataset.Case) (*Results, error) {
	if len(cases) == 0 {
		return nil, dataset.ErrEmptyDataset
	}

	log.Info().Int("cases", len(cases)).Msg("Starting evaluation")

	results := &Results{
		StartTime:   time.Now(),
		Predictions: make([]Prediction, 0, len(cases)),
	}

	var pred, actual []float64
	var totalLatency time.Duration
	for i, c := range cases {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		start := time.Now()
		v, err := p.Predict(c.Trip)
		latency := time.Since(start)

		totalLatency += latency
		if latency > results.MaxLatency {
			results.MaxLatency = latency
		}

		entry := Prediction{Index: i, Trip: c.Trip, Expected: c.Expected, Latency: latency}
		if err != nil {
			entry.Err = err.Error()
			results.Failures++
			log.Warn().Err(err).Int("case", i).Msg("Prediction failed")
			if errors.Is(err, ml.ErrArtifactUnavailable) {
				return nil, err
			}
		} else {
			entry.Predicted = v
			entry.AbsError = math.Abs(v - c.Expected)
			if entry.AbsError > HighErrorThreshold {
				results.HighErrors++
				log.Debug().
					Int("case", i).
					Float64("expected", c.Expected).
					Float64("predicted", v).
					Msg("High error prediction")
			}
			pred = append(pred, v)
			actual = append(actual, c.Expected)
		}
		results.Predictions = append(results.Predictions, entry)
	}

	results.EndTime = time.Now()
	results.AvgLatency = totalLatency / time.Duration(len(cases))

	if len(pred) == 0 {
		return nil, fmt.Errorf("all %d predictions failed", len(cases))
	}
	m, err := ml.Evaluate(pred, actual)
	if err != nil {
		return nil, err
	}
	results.Metrics = m

	log.Info().
		Int("cases", m.N).
		Int("failures", results.Failures).
		Float64("r2", m.R2).
		Float64("mae", m.MAE).
		Float64("exact_match_rate", m.ExactMatchRate).
		Float64("close_match_rate", m.CloseMatchRate).
		Dur("avg_latency", results.AvgLatency).
		Msg("Evaluation completed")

	return results, nil
}

// Scored returns the successful predictions ordered from smallest to largest
// absolute error, ties broken by case index.
func (r *Results) Scored() []Prediction {
	out := make([]Prediction, 0, len(r.Predictions))
	for _, p := range r.Predictions {
		if !p.Failed() {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].AbsError < out[j].AbsError
	})
	return out
}

// Best returns up to n predictions with the smallest error.
func (r *Results) Best(n int) []Prediction {
	scored := r.Scored()
	if n > len(scored) {
		n = len(scored)
	}
	return scored[:n]
}

// Worst returns up to n predictions with the largest error, largest first.
func (r *Results) Worst(n int) []Prediction {
	scored := r.Scored()
	if n > len(scored) {
		n = len(scored)
	}
	out := make([]Prediction, 0, n)
	for i := len(scored) - 1; i >= len(scored)-n; i-- {
		out = append(out, scored[i])
	}
	return out
}

// Bucket is one bar of the error histogram; Upper is inclusive and +Inf for
// the last bucket.
type Bucket struct {
	Label string
	Upper float64
	Count int
}

var bucketEdges = []struct {
	label string
	upper float64
}{
	{"exact (<= $0.01)", 0.01},
	{"$0.01 - $1", 1},
	{"$1 - $5", 5},
	{"$5 - $10", 10},
	{"$10 - $25", 25},
	{"$25 - $50", 50},
	{"$50 - $100", 100},
	{"> $100", math.Inf(1)},
}

// Histogram buckets the absolute errors of the successful predictions.
func (r *Results) Histogram() []Bucket {
	buckets := make([]Bucket, len(bucketEdges))
	for i, e := range bucketEdges {
		buckets[i] = Bucket{Label: e.label, Upper: e.upper}
	}
	for _, p := range r.Predictions {
		if p.Failed() {
			continue
		}
		for i := range buckets {
			if p.AbsError <= buckets[i].Upper+1e-9 {
				buckets[i].Count++
				break
			}
		}
	}
	return buckets
}

// Record converts the results into a storable evaluation record.
func (r *Results) Record() storage.EvaluationRecord {
	return storage.EvaluationRecord{
		RunID:          r.RunID,
		Timestamp:      r.EndTime,
		Dataset:        r.Dataset,
		Cases:          len(r.Predictions),
		Failures:       r.Failures,
		R2:             r.Metrics.R2,
		MAE:            r.Metrics.MAE,
		RMSE:           r.Metrics.RMSE,
		ExactMatchRate: r.Metrics.ExactMatchRate,
		CloseMatchRate: r.Metrics.CloseMatchRate,
		AvgLatencyMs:   float64(r.AvgLatency) / float64(time.Millisecond),
	}
}
