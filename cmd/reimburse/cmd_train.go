package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"reimburse-engine/internal/dataset"
	"reimburse-engine/internal/ml"
	"reimburse-engine/internal/storage"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newTrainCmd(a *app) *cobra.Command {
	var (
		dataPath  string
		outDir    string
		testSize  float64
		seed      int64
		noPersist bool
	)

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the ensemble and store it as the active run",
		Long: `Train every model family on a labeled dataset, weight the models by their
held-out R², and store the resulting bundle as a new active run.

Examples:
  reimburse train
  reimburse train --data cases.json --out models --test-size 0.2 --seed 7`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(); err != nil {
				return err
			}
			defer a.close()

			s := &a.settings
			if cmd.Flags().Changed("data") {
				s.DatasetPath = dataPath
			}
			if cmd.Flags().Changed("out") {
				s.ArtifactDir = outDir
			}
			if cmd.Flags().Changed("test-size") {
				if testSize <= 0 || testSize >= 1 {
					return &usageError{msg: fmt.Sprintf("--test-size must be between 0 and 1, got %v", testSize)}
				}
				s.TestFraction = testSize
			}
			if cmd.Flags().Changed("seed") {
				s.Seed = seed
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.train(ctx, !noPersist)
		},
	}

	cmd.Flags().StringVar(&dataPath, "data", "", "Labeled dataset (.csv or .json)")
	cmd.Flags().StringVar(&outDir, "out", "", "Artifact directory")
	cmd.Flags().Float64Var(&testSize, "test-size", 0.25, "Held-out fraction")
	cmd.Flags().Int64Var(&seed, "seed", 42, "Random seed for the split and the models")
	cmd.Flags().BoolVar(&noPersist, "dry-run", false, "Train and report without storing the run")
	return cmd
}

func (a *app) train(ctx context.Context, persist bool) error {
	s := a.settings

	ds, err := dataset.Load(s.DatasetPath)
	if err != nil {
		return err
	}

	trainer := ml.NewTrainer(ml.TrainerConfig{
		TestFraction:      s.TestFraction,
		Seed:              s.Seed,
		Params:            s.EstimatorParams(),
		ImportanceRepeats: ml.DefaultTrainerConfig().ImportanceRepeats,
	}, nil)

	res, err := trainer.Train(ctx, ds)
	if err != nil {
		return err
	}

	if persist {
		store, err := storage.Open(s.ArtifactDir)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := ml.SaveBundle(store, res.Bundle); err != nil {
			return err
		}
		log.Info().Str("run_id", res.RunID).Str("store", store.Path()).Msg("Run stored and activated")
	}

	return printTrainingSummary(a, res)
}

func printTrainingSummary(a *app, res *ml.TrainingResult) error {
	w := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Run %s (train %d, test %d, skipped %d)\n\n", res.RunID, res.TrainSize, res.TestSize, res.SkippedRows)

	fmt.Fprintln(w, "MODEL\tWEIGHT\tTRAIN R2\tTEST R2\tMAE\tRMSE\tEXACT\tCLOSE")
	for _, entry := range res.Bundle.Weights.Sorted() {
		r := res.Bundle.Reports.Models[entry.Name]
		fmt.Fprintf(w, "%s\t%.4f\t%.4f\t%.4f\t%.2f\t%.2f\t%.1f%%\t%.1f%%\n",
			entry.Name, entry.Weight, r.TrainR2, r.TestR2, r.MAE, r.RMSE, r.ExactMatchRate*100, r.CloseMatchRate*100)
	}
	e := res.Ensemble
	fmt.Fprintf(w, "ensemble\t1.0000\t%.4f\t%.4f\t%.2f\t%.2f\t%.1f%%\t%.1f%%\n",
		e.TrainR2, e.TestR2, e.MAE, e.RMSE, e.ExactMatchRate*100, e.CloseMatchRate*100)

	for _, f := range res.Failures {
		fmt.Fprintf(w, "%s\tfailed: %v\n", f.Model, f.Err)
	}

	if len(res.Importances) > 0 {
		fmt.Fprintln(w, "\nFEATURE\tIMPORTANCE\tSTD")
		for _, fi := range res.Importances {
			fmt.Fprintf(w, "%s\t%.4f\t%.4f\n", fi.Name, fi.Importance, fi.StdDev)
		}
	}
	return w.Flush()
}
