package ml

import (
	"context"
	"fmt"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// FeatureImportance is the mean drop in R² when one feature column is
// shuffled, across several repeats.
type FeatureImportance struct {
	Name       string  `json:"name"`
	Importance float64 `json:"importance"`
	StdDev     float64 `json:"std_dev"`
}

// PredictFunc maps a feature matrix to predictions.
type PredictFunc func(X [][]float64) ([]float64, error)

// PermutationImportance scores every feature of X by how much shuffling it
// hurts R². Results follow the column order of names.
func PermutationImportance(ctx context.Context, predict PredictFunc, X [][]float64, y []float64, names []string, repeats int, seed int64) ([]FeatureImportance, error) {
	if len(X) == 0 {
		return nil, fmt.Errorf("permutation importance: no samples")
	}
	if repeats <= 0 {
		repeats = 1
	}

	base, err := predict(X)
	if err != nil {
		return nil, err
	}
	baseline, err := Evaluate(base, y)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(seed))
	shuffled := make([][]float64, len(X))
	for i, row := range X {
		shuffled[i] = append([]float64(nil), row...)
	}

	out := make([]FeatureImportance, len(names))
	drops := make([]float64, repeats)
	for j, name := range names {
		for r := 0; r < repeats; r++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			perm := rng.Perm(len(X))
			for i := range shuffled {
				shuffled[i][j] = X[perm[i]][j]
			}
			pred, err := predict(shuffled)
			if err != nil {
				return nil, err
			}
			m, err := Evaluate(pred, y)
			if err != nil {
				return nil, err
			}
			drops[r] = baseline.R2 - m.R2
		}
		for i := range shuffled {
			shuffled[i][j] = X[i][j]
		}

		mean, std := stat.MeanStdDev(drops, nil)
		if repeats == 1 {
			std = 0
		}
		out[j] = FeatureImportance{Name: name, Importance: mean, StdDev: std}
	}
	return out, nil
}

// SortImportances orders importances from most to least important.
func SortImportances(in []FeatureImportance) []FeatureImportance {
	out := append([]FeatureImportance(nil), in...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Importance > out[j].Importance
	})
	return out
}
