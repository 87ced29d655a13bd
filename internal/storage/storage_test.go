package storage

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRun(id string, created time.Time) Run {
	return Run{
		Meta: RunMeta{
			RunID:     id,
			CreatedAt: created,
			TrainSize: 750,
			TestSize:  250,
			Models:    []string{"ridge", "neural_network"},
		},
		Models: map[string][]byte{
			"ridge":          []byte(`{"kind":"ridge"}`),
			"neural_network": []byte(`{"kind":"mlp"}`),
		},
		Scalers: map[string][]byte{"neural_network": []byte(`{"mean":[1]}`)},
		Weights: []byte(`{"ridge":0.5,"neural_network":0.5}`),
		Schema:  []byte(`["a","b"]`),
		Reports: []byte(`{}`),
	}
}

func TestOpenCreatesDatabase(t *testing.T) {
	dir := t.TempDir()

	store, err := Open(dir)
	require.NoError(t, err)
	defer store.Close()

	_, err = os.Stat(Path(dir))
	assert.NoError(t, err)
	assert.Equal(t, Path(dir), store.Path())
}

func TestOpenReadOnlyMissing(t *testing.T) {
	_, err := Open(t.TempDir(), ReadOnly())
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestCloseTwice(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	assert.NoError(t, store.Close())
	assert.NoError(t, store.Close())
}

func TestSaveAndLoadActive(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	_, err = store.LoadActive()
	assert.ErrorIs(t, err, ErrNoActiveRun)

	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	want := sampleRun("run-1", created)
	require.NoError(t, store.SaveRun(want, true))

	got, err := store.LoadActive()
	require.NoError(t, err)
	assert.Equal(t, want.Models, got.Models)
	assert.Equal(t, want.Scalers, got.Scalers)
	assert.Equal(t, want.Weights, got.Weights)
	assert.Equal(t, want.Schema, got.Schema)
	assert.Equal(t, "run-1", got.Meta.RunID)
	assert.True(t, created.Equal(got.Meta.CreatedAt))

	assert.Error(t, store.SaveRun(want, false), "duplicate run IDs are rejected")
}

func TestSaveWithoutActivate(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.SaveRun(sampleRun("staged", time.Now()), false))

	_, err = store.ActiveRunID()
	assert.ErrorIs(t, err, ErrNoActiveRun)

	run, err := store.LoadRun("staged")
	require.NoError(t, err)
	assert.Equal(t, "staged", run.Meta.RunID)

	_, err = store.LoadRun("missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestListActivateRollback(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveRun(sampleRun("a", base), true))
	require.NoError(t, store.SaveRun(sampleRun("b", base.Add(time.Hour)), true))
	require.NoError(t, store.SaveRun(sampleRun("c", base.Add(2*time.Hour)), true))

	runs, err := store.ListRuns()
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{runs[0].RunID, runs[1].RunID, runs[2].RunID})
	assert.True(t, runs[0].Active)
	assert.False(t, runs[1].Active)

	prev, err := store.Rollback()
	require.NoError(t, err)
	assert.Equal(t, "b", prev)

	id, err := store.ActiveRunID()
	require.NoError(t, err)
	assert.Equal(t, "b", id)

	require.NoError(t, store.Activate("a"))
	_, err = store.Rollback()
	assert.Error(t, err, "oldest run has nothing before it")

	assert.ErrorIs(t, store.Activate("zzz"), ErrRunNotFound)
}

func TestRollbackNeedsTwoRuns(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.SaveRun(sampleRun("only", time.Now()), true))
	_, err = store.Rollback()
	assert.Error(t, err)
}

func TestReadOnlySeesCommittedRuns(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, store.SaveRun(sampleRun("r1", time.Now()), true))
	require.NoError(t, store.Close())

	ro, err := Open(dir, ReadOnly())
	require.NoError(t, err)
	defer ro.Close()

	id, err := ro.ActiveRunID()
	require.NoError(t, err)
	assert.Equal(t, "r1", id)
}

func TestEvaluations(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, store.StoreEvaluation(EvaluationRecord{
			RunID:     "r1",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Cases:     100 + i,
		}))
	}
	require.NoError(t, store.StoreEvaluation(EvaluationRecord{RunID: "r10", Timestamp: base, Cases: 7}))

	records, err := store.GetEvaluations("r1")
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, 100, records[0].Cases)
	assert.Equal(t, 102, records[2].Cases)

	none, err := store.GetEvaluations("other")
	require.NoError(t, err)
	assert.Empty(t, none)
}
