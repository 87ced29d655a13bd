package ml

import (
	"context"
	"errors"
	"math"
	"testing"

	"reimburse-engine/internal/dataset"
	"reimburse-engine/internal/estimator"
	"reimburse-engine/internal/features"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syntheticDataset follows a roughly linear reimbursement rule with a small
// deterministic wobble.
func syntheticDataset(n int) *dataset.Dataset {
	ds := &dataset.Dataset{Source: "synthetic"}
	for i := 0; i < n; i++ {
		trip := features.TripRecord{
			DurationDays: float64(1 + i%14),
			Miles:        float64(20 + (i*37)%900),
			Receipts:     float64(10+(i*53)%1800) + 0.25,
		}
		expected := 100*trip.DurationDays + 0.5*trip.Miles + 0.4*trip.Receipts + 5*math.Sin(float64(i))
		ds.Cases = append(ds.Cases, dataset.Case{Trip: trip, Expected: math.Round(expected*100) / 100})
	}
	return ds
}

func smallTrainerConfig() TrainerConfig {
	cfg := DefaultTrainerConfig()
	cfg.Params.ForestTrees = 5
	cfg.Params.ForestMaxDepth = 5
	cfg.Params.BoostStages = 10
	cfg.Params.BoostMaxDepth = 3
	cfg.Params.MLPHiddenLayers = []int{8}
	cfg.Params.MLPMaxIter = 30
	cfg.ImportanceRepeats = 2
	return cfg
}

func TestTrainerBuildsBundle(t *testing.T) {
	metrics := NewMockMetrics()
	res, err := NewTrainer(smallTrainerConfig(), metrics).Train(context.Background(), syntheticDataset(120))
	require.NoError(t, err)

	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 30, res.TestSize)
	assert.Equal(t, 90, res.TrainSize)
	assert.Empty(t, res.Failures)
	assert.Len(t, res.Models, 7)
	require.NotNil(t, res.Bundle)
	require.NoError(t, res.Bundle.Validate())
	assert.Len(t, res.Bundle.Models, 7)

	var total float64
	for _, w := range res.Bundle.Weights {
		assert.GreaterOrEqual(t, w, 0.0)
		total += w
	}
	assert.InDelta(t, 1.0, total, 1e-9)

	for _, m := range res.Models {
		if m.Kind == estimator.KindLinear {
			assert.Greater(t, m.Report.TestR2, 0.99)
		}
	}
	assert.Greater(t, res.Ensemble.TestR2, 0.8)

	require.Len(t, res.Importances, features.Len())
	assert.Equal(t, features.NameDuration, res.Importances[0].Name)
	assert.Equal(t, features.NameDuration, SortImportances(res.Importances)[0].Name)

	assert.Len(t, metrics.r2, 7)
	for _, m := range res.Bundle.Models {
		assert.Equal(t, m.Kind == estimator.KindMLP, m.Scaler != nil, m.Name)
	}
}

func TestTrainerIsDeterministic(t *testing.T) {
	ds := syntheticDataset(80)
	probe := features.Matrix([]features.TripRecord{{DurationDays: 3, Miles: 93, Receipts: 76.13}})

	a, err := NewTrainer(smallTrainerConfig(), nil).Train(context.Background(), ds)
	require.NoError(t, err)
	b, err := NewTrainer(smallTrainerConfig(), nil).Train(context.Background(), ds)
	require.NoError(t, err)

	assert.NotEqual(t, a.RunID, b.RunID)
	assert.Equal(t, a.Bundle.Weights, b.Bundle.Weights)

	pa, err := a.Bundle.PredictBatch(probe)
	require.NoError(t, err)
	pb, err := b.Bundle.PredictBatch(probe)
	require.NoError(t, err)
	assert.Equal(t, pa, pb)
}

func TestTrainerEmptyDataset(t *testing.T) {
	_, err := NewTrainer(smallTrainerConfig(), nil).Train(context.Background(), &dataset.Dataset{})
	assert.ErrorIs(t, err, dataset.ErrEmptyDataset)
}

func TestTrainerRecordsFitFailures(t *testing.T) {
	cfg := smallTrainerConfig()
	cfg.Specs = []estimator.Spec{
		{Name: "exploding", Kind: estimator.KindLinear, New: func() estimator.Regressor { return panicModel{} }},
		{Name: "ols", Kind: estimator.KindLinear, New: func() estimator.Regressor { return &estimator.LinearRegression{} }},
	}
	metrics := NewMockMetrics()

	res, err := NewTrainer(cfg, metrics).Train(context.Background(), syntheticDataset(60))
	require.NoError(t, err)

	require.Len(t, res.Failures, 1)
	assert.Equal(t, "exploding", res.Failures[0].Model)
	assert.True(t, errors.Is(res.Failures[0], estimator.ErrFit))
	assert.Equal(t, 1, metrics.fitFailures["exploding"])
	assert.Equal(t, Weights{"ols": 1}, res.Bundle.Weights)
}

func TestTrainerAllModelsFail(t *testing.T) {
	cfg := smallTrainerConfig()
	cfg.Specs = []estimator.Spec{
		{Name: "exploding", Kind: estimator.KindLinear, New: func() estimator.Regressor { return panicModel{} }},
	}
	_, err := NewTrainer(cfg, nil).Train(context.Background(), syntheticDataset(40))
	assert.ErrorIs(t, err, ErrDegenerateEnsemble)
}

func TestTrainerNoPositiveR2(t *testing.T) {
	cfg := smallTrainerConfig()
	cfg.Specs = []estimator.Spec{
		{Name: "zero", Kind: estimator.KindLinear, New: func() estimator.Regressor { return &constModel{value: 0} }},
	}
	_, err := NewTrainer(cfg, nil).Train(context.Background(), syntheticDataset(40))
	assert.ErrorIs(t, err, ErrDegenerateEnsemble)
}

func TestTrainerHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewTrainer(smallTrainerConfig(), nil).Train(ctx, syntheticDataset(40))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFitError(t *testing.T) {
	inner := errors.New("singular matrix")
	err := &FitError{Model: "ridge", Err: inner}

	assert.Equal(t, "fit ridge: singular matrix", err.Error())
	assert.ErrorIs(t, err, estimator.ErrFit)
	assert.ErrorIs(t, err, inner)
}
