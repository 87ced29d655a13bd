package ml

import (
	"context"
	"testing"
	"time"

	"reimburse-engine/internal/estimator"
	"reimburse-engine/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trainLinearBundle(t *testing.T) *Bundle {
	t.Helper()
	cfg := smallTrainerConfig()
	cfg.ImportanceRepeats = 0
	cfg.Specs = []estimator.Spec{
		{Name: "ols", Kind: estimator.KindLinear, New: func() estimator.Regressor { return &estimator.LinearRegression{} }},
	}
	res, err := NewTrainer(cfg, nil).Train(context.Background(), syntheticDataset(40))
	require.NoError(t, err)
	return res.Bundle
}

func saveToDir(t *testing.T, dir string, b *Bundle) {
	t.Helper()
	store, err := storage.Open(dir)
	require.NoError(t, err)
	require.NoError(t, SaveBundle(store, b))
	require.NoError(t, store.Close())
}

func TestReloaderReload(t *testing.T) {
	dir := t.TempDir()
	svc, err := NewService(ServiceConfig{})
	require.NoError(t, err)
	r := NewReloader(dir, svc, 0)

	_, err = r.Reload()
	assert.ErrorIs(t, err, ErrArtifactUnavailable)

	first := trainLinearBundle(t)
	saveToDir(t, dir, first)

	swapped, err := r.Reload()
	require.NoError(t, err)
	assert.True(t, swapped)
	assert.Equal(t, first.RunID, svc.Current().RunID)

	swapped, err = r.Reload()
	require.NoError(t, err)
	assert.False(t, swapped, "same run is not swapped twice")
}

func TestReloaderWatchesForNewRuns(t *testing.T) {
	dir := t.TempDir()
	saveToDir(t, dir, trainLinearBundle(t))

	svc, err := NewService(ServiceConfig{})
	require.NoError(t, err)
	r := NewReloader(dir, svc, 20*time.Millisecond)
	_, err = r.Reload()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	next := trainLinearBundle(t)
	saveToDir(t, dir, next)

	assert.Eventually(t, func() bool {
		cur := svc.Current()
		return cur != nil && cur.RunID == next.RunID
	}, 5*time.Second, 20*time.Millisecond)
}
