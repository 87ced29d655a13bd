package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"reimburse-engine/internal/estimator"
	"reimburse-engine/internal/features"
	"reimburse-engine/internal/storage"
)

// TrainedModel is one fitted ensemble member. Scaler is set only for
// families that need standardized inputs.
type TrainedModel struct {
	Name   string
	Kind   estimator.Kind
	Model  estimator.Regressor
	Scaler *estimator.StandardScaler
}

// Predict applies the scaler, if any, then the model.
func (m TrainedModel) Predict(X [][]float64) ([]float64, error) {
	in := X
	if m.Scaler != nil {
		var err error
		if in, err = m.Scaler.Transform(X); err != nil {
			return nil, fmt.Errorf("%s: %w", m.Name, err)
		}
	}
	out, err := m.Model.Predict(in)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", m.Name, err)
	}
	return out, nil
}

// Bundle is everything inference needs from one training run. A bundle is
// never mutated once built; replacing it means swapping in another one.
type Bundle struct {
	RunID     string
	CreatedAt time.Time
	Schema    features.Schema
	Models    []TrainedModel
	Weights   Weights
	Reports   BundleReports

	TrainSize   int
	TestSize    int
	SkippedRows int
}

// BundleReports is the evaluation record stored with a run.
type BundleReports struct {
	Models      map[string]Report   `json:"models"`
	Ensemble    Report              `json:"ensemble"`
	Importances []FeatureImportance `json:"feature_importances,omitempty"`
}

// Validate checks that the bundle can serve predictions for the current
// feature schema.
func (b *Bundle) Validate() error {
	if b == nil || len(b.Models) == 0 {
		return ErrArtifactUnavailable
	}
	if err := features.CurrentSchema().Check(b.Schema); err != nil {
		return err
	}
	if err := b.Weights.Validate(); err != nil {
		return err
	}

	byName := make(map[string]TrainedModel, len(b.Models))
	for _, m := range b.Models {
		if m.Model == nil {
			return fmt.Errorf("model %s has no fitted state", m.Name)
		}
		if m.Scaler != nil && len(m.Scaler.Mean) != len(b.Schema) {
			return fmt.Errorf("%w: scaler for %s has %d columns, schema has %d",
				features.ErrSchemaMismatch, m.Name, len(m.Scaler.Mean), len(b.Schema))
		}
		byName[m.Name] = m
	}
	for name, w := range b.Weights {
		if _, ok := byName[name]; !ok && w > 0 {
			return fmt.Errorf("weighted model %s missing from bundle", name)
		}
	}
	return nil
}

// ModelNames lists the bundled models in training order.
func (b *Bundle) ModelNames() []string {
	names := make([]string, len(b.Models))
	for i, m := range b.Models {
		names[i] = m.Name
	}
	return names
}

// PredictBatch returns the unrounded ensemble prediction for each row.
func (b *Bundle) PredictBatch(X [][]float64) ([]float64, error) {
	preds := make(map[string][]float64, len(b.Models))
	for _, m := range b.Models {
		if b.Weights[m.Name] == 0 {
			continue
		}
		out, err := m.Predict(X)
		if err != nil {
			return nil, err
		}
		preds[m.Name] = out
	}
	return b.Weights.CombineBatch(preds)
}

// Predict returns the unrounded ensemble prediction for one vector.
func (b *Bundle) Predict(v features.Vector) (float64, error) {
	if err := v.Check(b.Schema); err != nil {
		return 0, err
	}
	out, err := b.PredictBatch([][]float64{v})
	if err != nil {
		return 0, err
	}
	return out[0], nil
}

// SaveBundle persists the bundle as a new run and activates it.
func SaveBundle(store *storage.Store, b *Bundle) error {
	if err := b.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid bundle: %w", err)
	}

	run := storage.Run{
		Meta: storage.RunMeta{
			RunID:       b.RunID,
			CreatedAt:   b.CreatedAt,
			TrainSize:   b.TrainSize,
			TestSize:    b.TestSize,
			SkippedRows: b.SkippedRows,
			EnsembleR2:  b.Reports.Ensemble.TestR2,
			Models:      b.ModelNames(),
		},
		Models:  make(map[string][]byte, len(b.Models)),
		Scalers: make(map[string][]byte),
	}

	for _, m := range b.Models {
		blob, err := estimator.Marshal(m.Model)
		if err != nil {
			return err
		}
		run.Models[m.Name] = blob
		if m.Scaler != nil {
			if run.Scalers[m.Name], err = estimator.MarshalScaler(m.Scaler); err != nil {
				return err
			}
		}
	}

	var err error
	if run.Weights, err = json.Marshal(b.Weights); err != nil {
		return fmt.Errorf("marshal weights: %w", err)
	}
	if run.Schema, err = json.Marshal(b.Schema); err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	if run.Reports, err = json.Marshal(b.Reports); err != nil {
		return fmt.Errorf("marshal reports: %w", err)
	}

	return store.SaveRun(run, true)
}

// BundleFromRun decodes and validates a stored run.
func BundleFromRun(run *storage.Run) (*Bundle, error) {
	b := &Bundle{
		RunID:       run.Meta.RunID,
		CreatedAt:   run.Meta.CreatedAt,
		TrainSize:   run.Meta.TrainSize,
		TestSize:    run.Meta.TestSize,
		SkippedRows: run.Meta.SkippedRows,
	}

	if err := json.Unmarshal(run.Schema, &b.Schema); err != nil {
		return nil, fmt.Errorf("%w: decode schema: %v", ErrArtifactUnavailable, err)
	}
	if err := json.Unmarshal(run.Weights, &b.Weights); err != nil {
		return nil, fmt.Errorf("%w: decode weights: %v", ErrArtifactUnavailable, err)
	}
	if len(run.Reports) > 0 {
		if err := json.Unmarshal(run.Reports, &b.Reports); err != nil {
			return nil, fmt.Errorf("%w: decode reports: %v", ErrArtifactUnavailable, err)
		}
	}

	names := run.Meta.Models
	if len(names) == 0 {
		for name := range run.Models {
			names = append(names, name)
		}
		sort.Strings(names)
	}
	for _, name := range names {
		blob, ok := run.Models[name]
		if !ok {
			return nil, fmt.Errorf("%w: model %s missing from run %s", ErrArtifactUnavailable, name, run.Meta.RunID)
		}
		model, err := estimator.Unmarshal(blob)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrArtifactUnavailable, err)
		}
		tm := TrainedModel{Name: name, Kind: model.Kind(), Model: model}
		if sb, ok := run.Scalers[name]; ok {
			if tm.Scaler, err = estimator.UnmarshalScaler(sb); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrArtifactUnavailable, name, err)
			}
		}
		b.Models = append(b.Models, tm)
	}

	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// LoadActiveBundle loads the active run from an open store.
func LoadActiveBundle(store *storage.Store) (*Bundle, error) {
	run, err := store.LoadActive()
	if err != nil {
		if errors.Is(err, storage.ErrNoActiveRun) || errors.Is(err, storage.ErrRunNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrArtifactUnavailable, err)
		}
		return nil, err
	}
	return BundleFromRun(run)
}

// LoadActiveBundleFromDir opens the artifact directory read-only, loads the
// active bundle and releases the file again.
func LoadActiveBundleFromDir(dir string) (*Bundle, error) {
	store, err := storage.Open(dir, storage.ReadOnly())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: no artifact store in %s", ErrArtifactUnavailable, dir)
		}
		return nil, err
	}
	defer store.Close()
	return LoadActiveBundle(store)
}
