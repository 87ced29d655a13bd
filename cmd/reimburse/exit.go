package main

import (
	"errors"
	"strconv"
	"strings"

	"reimburse-engine/internal/features"
	"reimburse-engine/internal/ml"
	"reimburse-engine/internal/storage"

	"github.com/spf13/cobra"
)

// Process exit codes.
const (
	exitOK                  = 0
	exitFailure             = 1
	exitValidation          = 2
	exitArtifactUnavailable = 3
	exitSchemaMismatch      = 4
	exitDegenerateEnsemble  = 5
	exitUsage               = 64
)

// usageError marks command line misuse: wrong arguments or unknown flags.
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func exitCode(err error) int {
	var uerr *usageError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &uerr):
		return exitUsage
	case errors.Is(err, features.ErrInvalidInput):
		return exitValidation
	case errors.Is(err, ml.ErrArtifactUnavailable), errors.Is(err, storage.ErrNoActiveRun):
		return exitArtifactUnavailable
	case errors.Is(err, features.ErrSchemaMismatch):
		return exitSchemaMismatch
	case errors.Is(err, ml.ErrDegenerateEnsemble):
		return exitDegenerateEnsemble
	default:
		return exitFailure
	}
}

// usageArgs wraps a cobra argument validator so its errors map to the usage
// exit code.
func usageArgs(v cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := v(cmd, args); err != nil {
			return &usageError{msg: err.Error()}
		}
		return nil
	}
}

// valueFlags lists the flags of predict that take a separate value.
var valueFlags = map[string]bool{
	"--models":    true,
	"--remote":    true,
	"--timeout":   true,
	"--config":    true,
	"--log-level": true,
	"--log-file":  true,
}

// splitPredictArgs separates positional inputs from flags. Tokens that parse
// as numbers are positional even with a leading minus, so a negative input
// reaches validation instead of being read as a shorthand flag.
func splitPredictArgs(args []string) (positional, flags []string) {
	for i := 0; i < len(args); i++ {
		tok := args[i]
		switch {
		case tok == "--":
			return append(positional, args[i+1:]...), flags
		case !strings.HasPrefix(tok, "-") || isNumber(tok):
			positional = append(positional, tok)
		default:
			flags = append(flags, tok)
			if valueFlags[tok] && i+1 < len(args) {
				i++
				flags = append(flags, args[i])
			}
		}
	}
	return positional, flags
}

func isNumber(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}
