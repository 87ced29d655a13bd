package main

import (
	"fmt"
	"io"
	"os"

	"reimburse-engine/internal/cfg"
	"reimburse-engine/internal/common"

	"github.com/spf13/cobra"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the CLI and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	if args == nil {
		args = []string{}
	}
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	err := root.Execute()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return exitCode(err)
}

// app carries the global flags and the loaded settings shared by every
// subcommand.
type app struct {
	stdout, stderr io.Writer

	configPath string
	logLevel   string
	logFile    string

	settings cfg.Settings
	logClose io.Closer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "reimburse",
		Short: "Travel reimbursement prediction engine",
		Long: `reimburse trains a performance-weighted ensemble of regressors on historical
trip reimbursements and predicts the reimbursement for new trips.

Examples:
  reimburse train --data public_cases.csv
  reimburse predict 5 250 150.75
  reimburse evaluate --report reports/
  reimburse serve --port 8080 --watch`,
		Args:          usageArgs(cobra.NoArgs),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return &usageError{msg: "a subcommand is required (see --help)"}
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &usageError{msg: err.Error()}
	})

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML config file (default $"+common.EnvConfigFile+")")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&a.logFile, "log-file", "", "Also write logs to this rotating file")

	root.AddCommand(
		newTrainCmd(a),
		newPredictCmd(a),
		newEvaluateCmd(a),
		newServeCmd(a),
		newRunsCmd(a),
	)
	return root
}

// setup loads settings and configures logging. Flag values override the
// file and the environment.
func (a *app) setup() error {
	if err := cfg.LoadDotEnv(".env"); err != nil {
		return err
	}
	path := a.configPath
	if path == "" {
		path = os.Getenv(common.EnvConfigFile)
	}
	settings, err := cfg.LoadFile(path)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		settings.LogLevel = a.logLevel
	}
	if a.logFile != "" {
		settings.LogFile = a.logFile
	}

	closer, err := setupLogging(a.stderr, settings.LogLevel, settings.LogFile)
	if err != nil {
		return err
	}
	a.settings = settings
	a.logClose = closer
	return nil
}

func (a *app) close() {
	if a.logClose != nil {
		a.logClose.Close()
		a.logClose = nil
	}
}
