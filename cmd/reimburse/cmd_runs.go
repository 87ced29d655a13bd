package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"reimburse-engine/internal/storage"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newRunsCmd(a *app) *cobra.Command {
	var modelsDir string

	openStore := func(readOnly bool) (*storage.Store, error) {
		if err := a.setup(); err != nil {
			return nil, err
		}
		dir := a.settings.ArtifactDir
		if modelsDir != "" {
			dir = modelsDir
		}
		var opts []storage.Option
		if readOnly {
			opts = append(opts, storage.ReadOnly())
		}
		store, err := storage.Open(dir, opts...)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("open artifact store in %s: %w", dir, err)
		}
		return store, nil
	}

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect and switch stored training runs",
	}
	cmd.PersistentFlags().StringVar(&modelsDir, "models", "", "Artifact directory")

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored runs, newest first",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(true)
			if err != nil {
				return err
			}
			defer a.close()
			defer store.Close()

			runs, err := store.ListRuns()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ACTIVE\tRUN\tCREATED\tTRAIN\tTEST\tSKIPPED\tTEST R2\tMODELS")
			for _, r := range runs {
				marker := ""
				if r.Active {
					marker = "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%.4f\t%d\n",
					marker, r.RunID, r.CreatedAt.Format(time.RFC3339), r.TrainSize, r.TestSize, r.SkippedRows, r.EnsembleR2, len(r.Models))
			}
			return w.Flush()
		},
	}

	show := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run and its recorded evaluations",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(true)
			if err != nil {
				return err
			}
			defer a.close()
			defer store.Close()

			run, err := store.LoadRun(args[0])
			if err != nil {
				return err
			}
			evals, err := store.GetEvaluations(args[0])
			if err != nil {
				return err
			}

			meta := run.Meta
			fmt.Fprintf(a.stdout, "Run: %s\nCreated: %s\nTrain/test: %d/%d (skipped %d)\nEnsemble test R2: %.4f\nModels: %v\n",
				meta.RunID, meta.CreatedAt.Format(time.RFC3339), meta.TrainSize, meta.TestSize, meta.SkippedRows, meta.EnsembleR2, meta.Models)

			if len(evals) == 0 {
				return nil
			}
			w := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "\nEVALUATED\tDATASET\tCASES\tFAILED\tR2\tMAE\tEXACT\tCLOSE")
			for _, e := range evals {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%.4f\t%.2f\t%.1f%%\t%.1f%%\n",
					e.Timestamp.Format(time.RFC3339), e.Dataset, e.Cases, e.Failures, e.R2, e.MAE, e.ExactMatchRate*100, e.CloseMatchRate*100)
			}
			return w.Flush()
		},
	}

	activate := &cobra.Command{
		Use:   "activate <run-id>",
		Short: "Make a stored run the active one",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(false)
			if err != nil {
				return err
			}
			defer a.close()
			defer store.Close()

			if err := store.Activate(args[0]); err != nil {
				return err
			}
			log.Info().Str("run_id", args[0]).Msg("Run activated")
			fmt.Fprintln(a.stdout, args[0])
			return nil
		},
	}

	rollback := &cobra.Command{
		Use:   "rollback",
		Short: "Activate the run stored before the active one",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(false)
			if err != nil {
				return err
			}
			defer a.close()
			defer store.Close()

			id, err := store.Rollback()
			if err != nil {
				return err
			}
			log.Info().Str("run_id", id).Msg("Rolled back")
			fmt.Fprintln(a.stdout, id)
			return nil
		},
	}

	cmd.AddCommand(list, show, activate, rollback)
	return cmd
}
