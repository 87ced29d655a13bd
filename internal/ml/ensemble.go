package ml

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrDegenerateEnsemble means no model earned a positive weight.
var ErrDegenerateEnsemble = errors.New("degenerate ensemble: no model has positive R²")

// Weights maps a model name to its share of the ensemble. Values are
// non-negative and sum to one.
type Weights map[string]float64

// WeightEntry is one row of Weights.Sorted.
type WeightEntry struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// ComputeWeights derives weights from held-out R² scores: negative or NaN
// scores get zero, the rest are normalised.
func ComputeWeights(scores map[string]float64) (Weights, error) {
	raw := make(map[string]float64, len(scores))
	var total float64
	for name, s := range scores {
		w := s
		if math.IsNaN(w) || w < 0 {
			w = 0
		}
		raw[name] = w
		total += w
	}
	if total <= 0 {
		return nil, ErrDegenerateEnsemble
	}

	weights := make(Weights, len(raw))
	for name, w := range raw {
		weights[name] = w / total
	}
	return weights, nil
}

// Validate checks the persisted invariants: non-negative, finite, summing to
// one.
func (w Weights) Validate() error {
	if len(w) == 0 {
		return ErrDegenerateEnsemble
	}
	var total float64
	for name, v := range w {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("weight for %s is invalid: %v", name, v)
		}
		total += v
	}
	if total == 0 {
		return ErrDegenerateEnsemble
	}
	if math.Abs(total-1) > 1e-6 {
		return fmt.Errorf("weights sum to %v, expected 1", total)
	}
	return nil
}

// Combine returns Σ weight·prediction. Models with zero weight may be absent
// from predictions; a positively weighted model may not.
func (w Weights) Combine(predictions map[string]float64) (float64, error) {
	var out float64
	for _, e := range w.Sorted() {
		if e.Weight == 0 {
			continue
		}
		p, ok := predictions[e.Name]
		if !ok {
			return 0, fmt.Errorf("missing prediction for weighted model %s", e.Name)
		}
		out += e.Weight * p
	}
	return out, nil
}

// CombineBatch combines per-model prediction vectors row by row.
func (w Weights) CombineBatch(predictions map[string][]float64) ([]float64, error) {
	n := -1
	for _, e := range w.Sorted() {
		if e.Weight == 0 {
			continue
		}
		p, ok := predictions[e.Name]
		if !ok {
			return nil, fmt.Errorf("missing predictions for weighted model %s", e.Name)
		}
		if n == -1 {
			n = len(p)
		} else if len(p) != n {
			return nil, fmt.Errorf("model %s returned %d predictions, expected %d", e.Name, len(p), n)
		}
	}
	if n == -1 {
		return nil, ErrDegenerateEnsemble
	}

	out := make([]float64, n)
	for _, e := range w.Sorted() {
		if e.Weight == 0 {
			continue
		}
		for i, v := range predictions[e.Name] {
			out[i] += e.Weight * v
		}
	}
	return out, nil
}

// Sorted lists the weights by descending weight, then name, giving a stable
// order for logs and summation.
func (w Weights) Sorted() []WeightEntry {
	out := make([]WeightEntry, 0, len(w))
	for name, v := range w {
		out = append(out, WeightEntry{Name: name, Weight: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].Name < out[j].Name
	})
	return out
}
