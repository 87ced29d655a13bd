package ml

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"reimburse-engine/internal/common"
	"reimburse-engine/internal/dataset"
	"reimburse-engine/internal/estimator"
	"reimburse-engine/internal/features"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// FitError records an estimator that could not be trained. It matches
// estimator.ErrFit.
type FitError struct {
	Model string
	Err   error
}

func (e *FitError) Error() string {
	return fmt.Sprintf("fit %s: %v", e.Model, e.Err)
}

func (e *FitError) Unwrap() error { return e.Err }

func (e *FitError) Is(target error) bool { return target == estimator.ErrFit }

// TrainerConfig controls a training run.
type TrainerConfig struct {
	TestFraction float64
	Seed         int64
	Params       estimator.Params
	// Specs overrides the default seven families when set.
	Specs []estimator.Spec
	// ImportanceRepeats is the number of shuffles per feature; 0 skips
	// permutation importance.
	ImportanceRepeats int
}

// DefaultTrainerConfig returns the production split and hyperparameters.
func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{
		TestFraction:      common.DefaultTestFraction,
		Seed:              common.DefaultRandomSeed,
		Params:            estimator.DefaultParams(),
		ImportanceRepeats: 5,
	}
}

// ModelResult is the outcome of one successfully trained model.
type ModelResult struct {
	Name        string         `json:"name"`
	Kind        estimator.Kind `json:"kind"`
	Report      Report         `json:"report"`
	FitDuration time.Duration  `json:"fit_duration"`
}

// TrainingResult is everything a training run produced.
type TrainingResult struct {
	RunID       string
	Bundle      *Bundle
	Models      []ModelResult
	Failures    []*FitError
	Ensemble    Report
	Importances []FeatureImportance
	TrainSize   int
	TestSize    int
	SkippedRows int
}

// Trainer fits the ensemble members and builds a bundle.
type Trainer struct {
	cfg     TrainerConfig
	metrics MetricsInterface
	now     func() time.Time
}

// NewTrainer creates a trainer. metrics may be nil.
func NewTrainer(cfg TrainerConfig, metrics MetricsInterface) *Trainer {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if len(cfg.Specs) == 0 {
		cfg.Specs = estimator.DefaultSpecs(cfg.Params)
	}
	return &Trainer{cfg: cfg, metrics: metrics, now: time.Now}
}

// Train splits ds, fits every model on the training split, scores it on both
// splits and weights the survivors by held-out R².
func (t *Trainer) Train(ctx context.Context, ds *dataset.Dataset) (*TrainingResult, error) {
	if ds == nil || len(ds.Cases) == 0 {
		return nil, dataset.ErrEmptyDataset
	}

	train, test, err := dataset.Split(ds.Cases, t.cfg.TestFraction, t.cfg.Seed)
	if err != nil {
		return nil, err
	}

	Xtr, ytr := features.Matrix(dataset.Trips(train)), dataset.Labels(train)
	Xte, yte := features.Matrix(dataset.Trips(test)), dataset.Labels(test)

	log.Info().
		Str("source", ds.Source).
		Int("train", len(train)).
		Int("test", len(test)).
		Int("skipped", ds.Skipped).
		Int("features", features.Len()).
		Msg("Training ensemble")

	res := &TrainingResult{
		RunID:       uuid.NewString(),
		TrainSize:   len(train),
		TestSize:    len(test),
		SkippedRows: ds.Skipped,
	}

	var models []TrainedModel
	reports := make(map[string]Report)
	scores := make(map[string]float64)

	for _, spec := range t.cfg.Specs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		start := time.Now()
		tm, report, err := t.trainOne(spec, Xtr, ytr, Xte, yte)
		elapsed := time.Since(start)
		if err != nil {
			var fe *FitError
			if !errors.As(err, &fe) {
				fe = &FitError{Model: spec.Name, Err: err}
			}
			res.Failures = append(res.Failures, fe)
			t.metrics.FitFailuresInc(spec.Name)
			log.Warn().Err(fe.Err).Str("model", spec.Name).Msg("Estimator failed, excluded from ensemble")
			continue
		}

		t.metrics.FitDurationObserve(spec.Name, elapsed.Seconds())
		t.metrics.ModelR2Set(spec.Name, report.TestR2)

		log.Info().
			Str("model", spec.Name).
			Float64("train_r2", report.TrainR2).
			Float64("test_r2", report.TestR2).
			Float64("mae", report.MAE).
			Float64("rmse", report.RMSE).
			Float64("exact_match_rate", report.ExactMatchRate).
			Float64("close_match_rate", report.CloseMatchRate).
			Dur("fit_time", elapsed).
			Msg("Model trained")
		if report.Overfitting() {
			log.Warn().
				Str("model", spec.Name).
				Float64("gap", report.TrainR2-report.TestR2).
				Msg("Possible overfitting")
		}

		models = append(models, tm)
		reports[spec.Name] = report
		scores[spec.Name] = report.TestR2
		res.Models = append(res.Models, ModelResult{Name: spec.Name, Kind: spec.Kind, Report: report, FitDuration: elapsed})
	}

	if len(models) == 0 {
		return nil, fmt.Errorf("%w: every estimator failed to fit", ErrDegenerateEnsemble)
	}

	weights, err := ComputeWeights(scores)
	if err != nil {
		return nil, err
	}
	for _, e := range weights.Sorted() {
		log.Info().Str("model", e.Name).Float64("weight", e.Weight).Msg("Ensemble weight")
	}

	b := &Bundle{
		RunID:       res.RunID,
		CreatedAt:   t.now().UTC(),
		Schema:      features.CurrentSchema(),
		Models:      models,
		Weights:     weights,
		TrainSize:   len(train),
		TestSize:    len(test),
		SkippedRows: ds.Skipped,
	}

	ensemble, err := t.evaluateEnsemble(b, Xtr, ytr, Xte, yte)
	if err != nil {
		return nil, err
	}
	log.Info().
		Float64("train_r2", ensemble.TrainR2).
		Float64("test_r2", ensemble.TestR2).
		Float64("mae", ensemble.MAE).
		Float64("exact_match_rate", ensemble.ExactMatchRate).
		Float64("close_match_rate", ensemble.CloseMatchRate).
		Msg("Ensemble evaluated")

	if t.cfg.ImportanceRepeats > 0 {
		res.Importances, err = PermutationImportance(ctx, b.PredictBatch, Xte, yte, b.Schema, t.cfg.ImportanceRepeats, t.cfg.Seed)
		if err != nil {
			return nil, fmt.Errorf("feature importance: %w", err)
		}
		for _, fi := range SortImportances(res.Importances) {
			log.Info().Str("feature", fi.Name).Float64("importance", fi.Importance).Msg("Feature importance")
		}
	}

	b.Reports = BundleReports{Models: reports, Ensemble: ensemble, Importances: res.Importances}
	res.Bundle = b
	res.Ensemble = ensemble
	return res, nil
}

func (t *Trainer) trainOne(spec estimator.Spec, Xtr [][]float64, ytr []float64, Xte [][]float64, yte []float64) (tm TrainedModel, report Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &FitError{Model: spec.Name, Err: fmt.Errorf("%w: panic: %v", estimator.ErrFit, r)}
		}
	}()

	tm = TrainedModel{Name: spec.Name, Kind: spec.Kind, Model: spec.New()}
	fitX := Xtr
	if spec.RequiresScaling {
		tm.Scaler = &estimator.StandardScaler{}
		if fitX, err = tm.Scaler.FitTransform(Xtr); err != nil {
			return tm, report, &FitError{Model: spec.Name, Err: fmt.Errorf("%w: %v", estimator.ErrFit, err)}
		}
	}
	if err := tm.Model.Fit(fitX, ytr); err != nil {
		return tm, report, &FitError{Model: spec.Name, Err: err}
	}

	trainPred, err := tm.Predict(Xtr)
	if err != nil {
		return tm, report, &FitError{Model: spec.Name, Err: err}
	}
	testPred, err := tm.Predict(Xte)
	if err != nil {
		return tm, report, &FitError{Model: spec.Name, Err: err}
	}
	if !finite(trainPred) || !finite(testPred) {
		return tm, report, &FitError{Model: spec.Name, Err: fmt.Errorf("%w: non-finite predictions", estimator.ErrFit)}
	}

	trainM, err := Evaluate(trainPred, ytr)
	if err != nil {
		return tm, report, err
	}
	testM, err := Evaluate(testPred, yte)
	if err != nil {
		return tm, report, err
	}
	return tm, NewReport(trainM, testM), nil
}

func (t *Trainer) evaluateEnsemble(b *Bundle, Xtr [][]float64, ytr []float64, Xte [][]float64, yte []float64) (Report, error) {
	trainPred, err := b.PredictBatch(Xtr)
	if err != nil {
		return Report{}, fmt.Errorf("ensemble train predictions: %w", err)
	}
	testPred, err := b.PredictBatch(Xte)
	if err != nil {
		return Report{}, fmt.Errorf("ensemble test predictions: %w", err)
	}
	trainM, err := Evaluate(trainPred, ytr)
	if err != nil {
		return Report{}, err
	}
	testM, err := Evaluate(testPred, yte)
	if err != nil {
		return Report{}, err
	}
	return NewReport(trainM, testM), nil
}

func finite(values []float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
