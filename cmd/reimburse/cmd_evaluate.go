package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"reimburse-engine/internal/client"
	"reimburse-engine/internal/dataset"
	"reimburse-engine/internal/harness"
	"reimburse-engine/internal/ml"
	"reimburse-engine/internal/storage"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newEvaluateCmd(a *app) *cobra.Command {
	var (
		dataPath  string
		modelsDir string
		remote    string
		reportDir string
		timeout   time.Duration
		noRecord  bool
	)

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score the active run against a labeled dataset",
		Long: `Replay every case of a labeled dataset through the active run (or a remote
model server) and report exact and close match rates, error statistics and
latency. With --report, a summary, a per-case CSV and a JSON report are written.

Examples:
  reimburse evaluate --data public_cases.csv
  reimburse evaluate --report reports/
  reimburse evaluate --remote http://localhost:8080`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(); err != nil {
				return err
			}
			defer a.close()

			s := a.settings
			if cmd.Flags().Changed("data") {
				s.DatasetPath = dataPath
			}
			if cmd.Flags().Changed("models") {
				s.ArtifactDir = modelsDir
			}

			ds, err := dataset.Load(s.DatasetPath)
			if err != nil {
				return err
			}

			var predictor harness.Predictor
			var runID string
			if remote != "" {
				predictor = client.New(remote, timeout)
			} else {
				b, err := ml.LoadActiveBundleFromDir(s.ArtifactDir)
				if err != nil {
					return err
				}
				svc, err := ml.NewService(ml.ServiceConfig{})
				if err != nil {
					return err
				}
				if err := svc.Swap(b); err != nil {
					return err
				}
				predictor, runID = svc, b.RunID
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			res, err := harness.Run(ctx, predictor, ds.Cases)
			if err != nil {
				return err
			}
			res.RunID = runID
			res.Dataset = s.DatasetPath

			if reportDir != "" {
				if err := harness.NewReporter(res, reportDir).GenerateReport(); err != nil {
					return err
				}
			}

			if runID != "" && !noRecord {
				if err := recordEvaluation(s.ArtifactDir, res); err != nil {
					log.Warn().Err(err).Msg("Failed to record evaluation")
				}
			}

			m := res.Metrics
			fmt.Fprintf(a.stdout, "Cases: %d (%d failed)\n", len(res.Predictions), res.Failures)
			fmt.Fprintf(a.stdout, "Exact matches: %d (%.1f%%)\n", int(m.ExactMatchRate*float64(m.N)+0.5), m.ExactMatchRate*100)
			fmt.Fprintf(a.stdout, "Close matches: %d (%.1f%%)\n", int(m.CloseMatchRate*float64(m.N)+0.5), m.CloseMatchRate*100)
			fmt.Fprintf(a.stdout, "MAE: $%.2f  RMSE: $%.2f  R2: %.4f\n", m.MAE, m.RMSE, m.R2)
			fmt.Fprintf(a.stdout, "Latency: avg %s, max %s\n", res.AvgLatency, res.MaxLatency)
			return nil
		},
	}

	cmd.Flags().StringVar(&dataPath, "data", "", "Labeled dataset (.csv or .json)")
	cmd.Flags().StringVar(&modelsDir, "models", "", "Artifact directory")
	cmd.Flags().StringVar(&remote, "remote", "", "Evaluate a running model server instead")
	cmd.Flags().StringVar(&reportDir, "report", "", "Write report files to this directory")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Remote request timeout")
	cmd.Flags().BoolVar(&noRecord, "no-record", false, "Do not store the result with the run")
	return cmd
}

func recordEvaluation(dir string, res *harness.Results) error {
	store, err := storage.Open(dir)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.StoreEvaluation(res.Record())
}
