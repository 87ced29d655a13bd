// Package estimator provides the regression model families used by the
// ensemble. Every family satisfies Regressor, is deterministic for a fixed
// seed, and can be persisted with Marshal and restored with Unmarshal.
package estimator

import (
	"errors"
	"fmt"
	"math"

	"reimburse-engine/internal/common"

	"gonum.org/v1/gonum/stat"
)

var (
	// ErrFit is wrapped by every training failure.
	ErrFit = errors.New("estimator fit failed")
	// ErrNotFitted is returned by Predict before a successful Fit.
	ErrNotFitted = errors.New("estimator is not fitted")
)

// Kind identifies a model family in persisted blobs.
type Kind string

const (
	KindLinear           Kind = "linear"
	KindRidge            Kind = "ridge"
	KindLasso            Kind = "lasso"
	KindDecisionTree     Kind = "decision_tree"
	KindRandomForest     Kind = "random_forest"
	KindGradientBoosting Kind = "gradient_boosting"
	KindMLP              Kind = "mlp"
)

// Regressor is a trainable regression model.
type Regressor interface {
	// Fit trains the model on row-major features X and targets y.
	Fit(X [][]float64, y []float64) error
	// Predict returns one prediction per row of X.
	Predict(X [][]float64) ([]float64, error)
	// Kind names the family for persistence.
	Kind() Kind
}

// ImportanceReporter is implemented by models that expose per-feature
// importances summing to one.
type ImportanceReporter interface {
	FeatureImportances() []float64
}

// Spec registers one named model instance of the ensemble.
type Spec struct {
	Name string
	Kind Kind
	// RequiresScaling means inputs must be standardized with a scaler fit on
	// the training split before Fit and Predict.
	RequiresScaling bool
	New             func() Regressor
}

// Params carries the hyperparameters of every family.
type Params struct {
	Seed                  int64
	RidgeAlpha            float64
	LassoAlpha            float64
	LassoMaxIter          int
	TreeMaxDepth          int
	ForestTrees           int
	ForestMaxDepth        int
	BoostStages           int
	BoostMaxDepth         int
	BoostLearningRate     float64
	MLPHiddenLayers       []int
	MLPMaxIter            int
	MLPLearningRate       float64
	MLPBatchSize          int
	MLPValidationFraction float64
	MLPPatience           int
}

// DefaultParams returns the production hyperparameters.
func DefaultParams() Params {
	return Params{
		Seed:                  common.DefaultRandomSeed,
		RidgeAlpha:            common.DefaultRidgeAlpha,
		LassoAlpha:            common.DefaultLassoAlpha,
		LassoMaxIter:          common.DefaultLassoMaxIter,
		TreeMaxDepth:          common.DefaultTreeMaxDepth,
		ForestTrees:           common.DefaultForestTrees,
		ForestMaxDepth:        common.DefaultForestMaxDepth,
		BoostStages:           common.DefaultBoostStages,
		BoostMaxDepth:         common.DefaultBoostMaxDepth,
		BoostLearningRate:     common.DefaultBoostLearnRate,
		MLPHiddenLayers:       append([]int(nil), common.DefaultMLPHiddenLayers...),
		MLPMaxIter:            common.DefaultMLPMaxIter,
		MLPLearningRate:       common.DefaultMLPLearnRate,
		MLPBatchSize:          common.DefaultMLPBatchSize,
		MLPValidationFraction: common.DefaultMLPValFraction,
		MLPPatience:           common.DefaultMLPPatience,
	}
}

// DefaultSpecs returns the seven ensemble members in training order.
func DefaultSpecs(p Params) []Spec {
	return []Spec{
		{
			Name: common.ModelLinear,
			Kind: KindLinear,
			New:  func() Regressor { return &LinearRegression{} },
		},
		{
			Name: common.ModelRidge,
			Kind: KindRidge,
			New:  func() Regressor { return &Ridge{Alpha: p.RidgeAlpha} },
		},
		{
			Name: common.ModelLasso,
			Kind: KindLasso,
			New: func() Regressor {
				return &Lasso{Alpha: p.LassoAlpha, MaxIter: p.LassoMaxIter, Tol: 1e-4}
			},
		},
		{
			Name: common.ModelDecisionTree,
			Kind: KindDecisionTree,
			New:  func() Regressor { return NewDecisionTree(p.TreeMaxDepth) },
		},
		{
			Name: common.ModelRandomForest,
			Kind: KindRandomForest,
			New:  func() Regressor { return NewRandomForest(p.ForestTrees, p.ForestMaxDepth, p.Seed) },
		},
		{
			Name: common.ModelGradientBoosting,
			Kind: KindGradientBoosting,
			New: func() Regressor {
				return NewGradientBoosting(p.BoostStages, p.BoostMaxDepth, p.BoostLearningRate)
			},
		},
		{
			Name:            common.ModelNeuralNetwork,
			Kind:            KindMLP,
			RequiresScaling: true,
			New: func() Regressor {
				m := NewMLP(p.MLPHiddenLayers, p.Seed)
				m.MaxIter = p.MLPMaxIter
				m.LearningRate = p.MLPLearningRate
				m.BatchSize = p.MLPBatchSize
				m.ValidationFraction = p.MLPValidationFraction
				m.Patience = p.MLPPatience
				return m
			},
		},
	}
}

func checkFit(X [][]float64, y []float64) (n, p int, err error) {
	n = len(X)
	if n == 0 {
		return 0, 0, fmt.Errorf("%w: no training rows", ErrFit)
	}
	if len(y) != n {
		return 0, 0, fmt.Errorf("%w: %d rows but %d targets", ErrFit, n, len(y))
	}
	p = len(X[0])
	if p == 0 {
		return 0, 0, fmt.Errorf("%w: rows have no features", ErrFit)
	}
	for i, row := range X {
		if len(row) != p {
			return 0, 0, fmt.Errorf("%w: row %d has %d features, expected %d", ErrFit, i, len(row), p)
		}
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return 0, 0, fmt.Errorf("%w: row %d has a non-finite feature", ErrFit, i)
			}
		}
		if math.IsNaN(y[i]) || math.IsInf(y[i], 0) {
			return 0, 0, fmt.Errorf("%w: target %d is not finite", ErrFit, i)
		}
	}
	return n, p, nil
}

func checkPredict(X [][]float64, p int) error {
	for i, row := range X {
		if len(row) != p {
			return fmt.Errorf("row %d has %d features, model expects %d", i, len(row), p)
		}
	}
	return nil
}

func allFinite(values ...[]float64) bool {
	for _, vs := range values {
		for _, v := range vs {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

func columnMeans(X [][]float64, p int) []float64 {
	means := make([]float64, p)
	for _, row := range X {
		for j, v := range row {
			means[j] += v
		}
	}
	for j := range means {
		means[j] /= float64(len(X))
	}
	return means
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}

// rSquared is the coefficient of determination used for MLP early stopping.
func rSquared(pred, actual []float64) float64 {
	m := mean(actual)
	var ssRes, ssTot float64
	for i := range actual {
		ssRes += (actual[i] - pred[i]) * (actual[i] - pred[i])
		ssTot += (actual[i] - m) * (actual[i] - m)
	}
	if ssTot == 0 {
		if ssRes == 0 {
			return 1
		}
		return 0
	}
	return 1 - ssRes/ssTot
}
