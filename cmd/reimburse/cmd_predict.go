package main

import (
	"context"
	"fmt"
	"time"

	"reimburse-engine/internal/client"
	"reimburse-engine/internal/features"
	"reimburse-engine/internal/ml"

	"github.com/spf13/cobra"
)

func newPredictCmd(a *app) *cobra.Command {
	var (
		modelsDir string
		remote    string
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "predict <trip_duration_days> <miles_traveled> <total_receipts_amount>",
		Short: "Predict one reimbursement",
		Long: `Predict the reimbursement for one trip and print it with two decimals on
stdout. Diagnostics go to stderr.

Examples:
  reimburse predict 5 250 150.75
  reimburse predict 3 93 1.42 --models ./models
  reimburse predict 3 93 1.42 --remote http://localhost:8080`,
		// Negative inputs look like shorthand flags, so flags are parsed by hand.
		DisableFlagParsing: true,
		Args:               cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			positional, flagArgs := splitPredictArgs(args)
			// InheritedFlags merges --config and the log flags into cmd.Flags().
			cmd.InheritedFlags()
			if err := cmd.Flags().Parse(flagArgs); err != nil {
				return &usageError{msg: err.Error()}
			}
			if help, _ := cmd.Flags().GetBool("help"); help {
				return cmd.Help()
			}
			if len(positional) != 3 {
				return &usageError{msg: fmt.Sprintf("predict needs exactly 3 arguments (duration, miles, receipts), got %d", len(positional))}
			}

			if err := a.setup(); err != nil {
				return err
			}
			defer a.close()

			trip, err := features.ParseTrip(positional[0], positional[1], positional[2])
			if err != nil {
				return err
			}

			var value float64
			if remote != "" {
				ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
				defer cancel()
				resp, err := client.New(remote, timeout).PredictContext(ctx, trip)
				if err != nil {
					return err
				}
				value = resp.Reimbursement
			} else {
				dir := a.settings.ArtifactDir
				if modelsDir != "" {
					dir = modelsDir
				}
				if value, err = predictLocal(dir, trip); err != nil {
					return err
				}
			}

			fmt.Fprintf(a.stdout, "%.2f\n", value)
			return nil
		},
	}

	cmd.Flags().StringVar(&modelsDir, "models", "", "Artifact directory (default from config)")
	cmd.Flags().StringVar(&remote, "remote", "", "Base URL of a running model server")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Remote request timeout")
	return cmd
}

func predictLocal(dir string, trip features.TripRecord) (float64, error) {
	b, err := ml.LoadActiveBundleFromDir(dir)
	if err != nil {
		return 0, err
	}
	svc, err := ml.NewService(ml.ServiceConfig{})
	if err != nil {
		return 0, err
	}
	if err := svc.Swap(b); err != nil {
		return 0, err
	}
	return svc.Predict(trip)
}
