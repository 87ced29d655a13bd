package ml

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluatePerfect(t *testing.T) {
	actual := []float64{100, 250.5, 812.34}
	m, err := Evaluate(actual, actual)
	require.NoError(t, err)

	assert.Equal(t, 3, m.N)
	assert.Equal(t, 1.0, m.R2)
	assert.Equal(t, 0.0, m.MAE)
	assert.Equal(t, 0.0, m.RMSE)
	assert.Equal(t, 1.0, m.ExactMatchRate)
	assert.Equal(t, 1.0, m.CloseMatchRate)
}

func TestEvaluateMatchThresholds(t *testing.T) {
	actual := []float64{100, 100, 100, 100}
	pred := []float64{100.01, 101.00, 101.02, 99.50}

	m, err := Evaluate(pred, actual)
	require.NoError(t, err)

	assert.Equal(t, 0.25, m.ExactMatchRate)
	assert.Equal(t, 0.75, m.CloseMatchRate)
	assert.InDelta(t, (0.01+1.00+1.02+0.50)/4, m.MAE, 1e-9)
}

func TestEvaluateConstantTargets(t *testing.T) {
	actual := []float64{5, 5, 5}

	m, err := Evaluate([]float64{5, 5, 5}, actual)
	require.NoError(t, err)
	assert.Equal(t, 1.0, m.R2)

	m, err = Evaluate([]float64{4, 5, 6}, actual)
	require.NoError(t, err)
	assert.Equal(t, 0.0, m.R2)
}

func TestEvaluateErrors(t *testing.T) {
	_, err := Evaluate([]float64{1}, []float64{1, 2})
	assert.Error(t, err)

	_, err = Evaluate(nil, nil)
	assert.Error(t, err)
}

func TestEvaluateR2(t *testing.T) {
	actual := []float64{1, 2, 3, 4}
	pred := []float64{1, 2, 3, 5}

	m, err := Evaluate(pred, actual)
	require.NoError(t, err)
	// SSres = 1, SStot = 5
	assert.InDelta(t, 0.8, m.R2, 1e-12)
	assert.InDelta(t, 0.5, m.RMSE, 1e-12)
}

func TestReportOverfitting(t *testing.T) {
	assert.True(t, Report{TrainR2: 0.99, TestR2: 0.80}.Overfitting())
	assert.False(t, Report{TrainR2: 0.90, TestR2: 0.85}.Overfitting())

	r := NewReport(Metrics{R2: 0.9, MAE: 1}, Metrics{R2: 0.7, MAE: 3, RMSE: 4, ExactMatchRate: 0.1, CloseMatchRate: 0.2})
	assert.Equal(t, Report{TrainR2: 0.9, TestR2: 0.7, MAE: 3, RMSE: 4, ExactMatchRate: 0.1, CloseMatchRate: 0.2}, r)
}
