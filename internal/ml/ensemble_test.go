package ml

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeWeightsNormalises(t *testing.T) {
	w, err := ComputeWeights(map[string]float64{"a": 0.8, "b": 0.4})
	require.NoError(t, err)

	assert.InDelta(t, 2.0/3.0, w["a"], 1e-12)
	assert.InDelta(t, 1.0/3.0, w["b"], 1e-12)
	assert.NoError(t, w.Validate())
}

func TestComputeWeightsClampsNonPositive(t *testing.T) {
	w, err := ComputeWeights(map[string]float64{"a": 0.5, "b": -0.2, "c": math.NaN(), "d": 0})
	require.NoError(t, err)

	assert.Equal(t, 1.0, w["a"])
	assert.Equal(t, 0.0, w["b"])
	assert.Equal(t, 0.0, w["c"])
	assert.Equal(t, 0.0, w["d"])
}

func TestComputeWeightsDegenerate(t *testing.T) {
	_, err := ComputeWeights(map[string]float64{"a": -1, "b": 0})
	assert.ErrorIs(t, err, ErrDegenerateEnsemble)

	_, err = ComputeWeights(nil)
	assert.ErrorIs(t, err, ErrDegenerateEnsemble)
}

func TestCombine(t *testing.T) {
	w := Weights{"a": 2.0 / 3.0, "b": 1.0 / 3.0, "c": 0}

	got, err := w.Combine(map[string]float64{"a": 300, "b": 600})
	require.NoError(t, err)
	assert.InDelta(t, 400, got, 1e-9)

	_, err = w.Combine(map[string]float64{"a": 300})
	assert.Error(t, err, "positively weighted model without a prediction")
}

func TestCombineStaysWithinRange(t *testing.T) {
	w, err := ComputeWeights(map[string]float64{"a": 0.9, "b": 0.3, "c": 0.6})
	require.NoError(t, err)

	preds := map[string]float64{"a": 512.4, "b": 1900.1, "c": 880}
	got, err := w.Combine(preds)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, got, 512.4)
	assert.LessOrEqual(t, got, 1900.1)

	// Raising one input never lowers the output.
	preds["b"] += 100
	higher, err := w.Combine(preds)
	require.NoError(t, err)
	assert.Greater(t, higher, got)
}

func TestCombineBatch(t *testing.T) {
	w := Weights{"a": 0.25, "b": 0.75}

	got, err := w.CombineBatch(map[string][]float64{
		"a": {100, 200},
		"b": {200, 400},
	})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{175, 350}, got, 1e-9)

	_, err = w.CombineBatch(map[string][]float64{"a": {1}, "b": {1, 2}})
	assert.Error(t, err)

	_, err = Weights{"a": 0}.CombineBatch(nil)
	assert.ErrorIs(t, err, ErrDegenerateEnsemble)
}

func TestWeightsSorted(t *testing.T) {
	w := Weights{"ridge": 0.2, "lasso": 0.2, "random_forest": 0.6}
	sorted := w.Sorted()

	require.Len(t, sorted, 3)
	assert.Equal(t, "random_forest", sorted[0].Name)
	assert.Equal(t, "lasso", sorted[1].Name)
	assert.Equal(t, "ridge", sorted[2].Name)
}

func TestWeightsValidate(t *testing.T) {
	assert.ErrorIs(t, Weights{}.Validate(), ErrDegenerateEnsemble)
	assert.ErrorIs(t, Weights{"a": 0}.Validate(), ErrDegenerateEnsemble)
	assert.Error(t, Weights{"a": -0.5, "b": 1.5}.Validate())
	assert.Error(t, Weights{"a": 0.5}.Validate())
	assert.NoError(t, Weights{"a": 0.5, "b": 0.5}.Validate())
}
