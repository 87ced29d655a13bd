package main

import (
	"errors"
	"fmt"
	"testing"

	"reimburse-engine/internal/features"
	"reimburse-engine/internal/ml"
	"reimburse-engine/internal/storage"

	"github.com/stretchr/testify/assert"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, exitOK},
		{"usage", &usageError{msg: "bad args"}, exitUsage},
		{"validation", &features.ValidationError{Field: features.FieldMiles, Reason: "miles traveled cannot be negative"}, exitValidation},
		{"wrapped validation", fmt.Errorf("predict: %w", features.ErrInvalidInput), exitValidation},
		{"artifact unavailable", fmt.Errorf("load: %w", ml.ErrArtifactUnavailable), exitArtifactUnavailable},
		{"no active run", storage.ErrNoActiveRun, exitArtifactUnavailable},
		{"schema mismatch", fmt.Errorf("bundle: %w", features.ErrSchemaMismatch), exitSchemaMismatch},
		{"degenerate ensemble", ml.ErrDegenerateEnsemble, exitDegenerateEnsemble},
		{"anything else", errors.New("disk on fire"), exitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestSplitPredictArgs(t *testing.T) {
	tests := []struct {
		name           string
		args           []string
		wantPositional []string
		wantFlags      []string
	}{
		{"plain", []string{"5", "250", "150.75"}, []string{"5", "250", "150.75"}, nil},
		{"negative input", []string{"-1", "250", "150.75"}, []string{"-1", "250", "150.75"}, nil},
		{
			"flags anywhere",
			[]string{"--models", "dir", "5", "--log-level=debug", "250", "-3.5"},
			[]string{"5", "250", "-3.5"},
			[]string{"--models", "dir", "--log-level=debug"},
		},
		{"numeric flag value", []string{"--timeout", "2s", "1", "2", "3"}, []string{"1", "2", "3"}, []string{"--timeout", "2s"}},
		{"double dash", []string{"--remote", "http://x", "--", "-a", "b"}, []string{"-a", "b"}, []string{"--remote", "http://x"}},
		{"non numeric input", []string{"abc", "1", "2"}, []string{"abc", "1", "2"}, nil},
		{"help", []string{"--help"}, nil, []string{"--help"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			positional, flags := splitPredictArgs(tt.args)
			assert.Equal(t, tt.wantPositional, positional)
			assert.Equal(t, tt.wantFlags, flags)
		})
	}
}
