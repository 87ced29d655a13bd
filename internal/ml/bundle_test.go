package ml

import (
	"context"
	"testing"

	"reimburse-engine/internal/estimator"
	"reimburse-engine/internal/features"
	"reimburse-engine/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBundlePersistenceRoundTrip(t *testing.T) {
	res, err := NewTrainer(smallTrainerConfig(), nil).Train(context.Background(), syntheticDataset(80))
	require.NoError(t, err)

	dir := t.TempDir()
	store, err := storage.Open(dir)
	require.NoError(t, err)
	require.NoError(t, SaveBundle(store, res.Bundle))
	require.NoError(t, store.Close())

	loaded, err := LoadActiveBundleFromDir(dir)
	require.NoError(t, err)

	assert.Equal(t, res.RunID, loaded.RunID)
	assert.Equal(t, res.Bundle.ModelNames(), loaded.ModelNames())
	assert.Equal(t, res.Bundle.Weights, loaded.Weights)
	assert.Equal(t, res.Bundle.Reports.Ensemble, loaded.Reports.Ensemble)
	assert.Equal(t, 80, loaded.TrainSize+loaded.TestSize)

	trips := []features.TripRecord{
		{DurationDays: 5, Miles: 250, Receipts: 150.75},
		{DurationDays: 1, Miles: 0, Receipts: 0},
		{DurationDays: 14, Miles: 1200, Receipts: 2300.5},
	}
	X := features.Matrix(trips)
	want, err := res.Bundle.PredictBatch(X)
	require.NoError(t, err)
	got, err := loaded.PredictBatch(X)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoadActiveBundleUnavailable(t *testing.T) {
	_, err := LoadActiveBundleFromDir(t.TempDir())
	assert.ErrorIs(t, err, ErrArtifactUnavailable)

	dir := t.TempDir()
	store, err := storage.Open(dir)
	require.NoError(t, err)
	_, err = LoadActiveBundle(store)
	assert.ErrorIs(t, err, ErrArtifactUnavailable)
	require.NoError(t, store.Close())
}

func TestSaveBundleRejectsInvalid(t *testing.T) {
	store, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	assert.ErrorIs(t, SaveBundle(store, &Bundle{RunID: "x"}), ErrArtifactUnavailable)

	runs, err := store.ListRuns()
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestBundleFromRunSchemaMismatch(t *testing.T) {
	res, err := NewTrainer(smallTrainerConfig(), nil).Train(context.Background(), syntheticDataset(40))
	require.NoError(t, err)

	dir := t.TempDir()
	store, err := storage.Open(dir)
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, SaveBundle(store, res.Bundle))

	run, err := store.LoadActive()
	require.NoError(t, err)
	run.Schema = []byte(`["trip_duration_days","miles_traveled","total_receipts_amount"]`)

	_, err = BundleFromRun(run)
	assert.ErrorIs(t, err, features.ErrSchemaMismatch)
}

func TestPermutationImportance(t *testing.T) {
	// Only the first column drives the target.
	var X [][]float64
	var y []float64
	for i := 0; i < 50; i++ {
		X = append(X, []float64{float64(i), float64((i * 7) % 11)})
		y = append(y, 3*float64(i))
	}
	predict := func(X [][]float64) ([]float64, error) {
		out := make([]float64, len(X))
		for i, row := range X {
			out[i] = 3 * row[0]
		}
		return out, nil
	}

	imp, err := PermutationImportance(context.Background(), predict, X, y, []string{"signal", "noise"}, 3, 42)
	require.NoError(t, err)
	require.Len(t, imp, 2)

	assert.Equal(t, "signal", imp[0].Name)
	assert.Greater(t, imp[0].Importance, 0.5)
	assert.Equal(t, 0.0, imp[1].Importance)
	assert.Equal(t, 0.0, imp[1].StdDev)
	assert.Equal(t, "signal", SortImportances(imp)[0].Name)
}

func TestBundleValidateScalerWidth(t *testing.T) {
	b := constBundle("run-s", map[string]float64{"a": 10}, Weights{"a": 1})
	width := len(features.CurrentSchema())

	b.Models[0].Scaler = &estimator.StandardScaler{Mean: make([]float64, width), Scale: ones(width)}
	require.NoError(t, b.Validate())

	b.Models[0].Scaler = &estimator.StandardScaler{Mean: make([]float64, width-1), Scale: ones(width - 1)}
	assert.ErrorIs(t, b.Validate(), features.ErrSchemaMismatch)
}

func ones(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}
