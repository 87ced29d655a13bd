package cfg

import (
	"testing"
	"time"
)

func createValidSettings() *Settings {
	s := Defaults()
	return &s
}

func TestValidateSettings_ValidConfig(t *testing.T) {
	if err := validateSettings(createValidSettings()); err != nil {
		t.Errorf("Expected valid config to pass, got error: %v", err)
	}
}

func TestValidateSettings_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *Settings)
	}{
		{"empty dataset path", func(s *Settings) { s.DatasetPath = "" }},
		{"empty artifact dir", func(s *Settings) { s.ArtifactDir = "" }},
		{"zero test fraction", func(s *Settings) { s.TestFraction = 0 }},
		{"test fraction of one", func(s *Settings) { s.TestFraction = 1 }},
		{"bad log level", func(s *Settings) { s.LogLevel = "verbose" }},
		{"low port", func(s *Settings) { s.ServerPort = 80 }},
		{"high port", func(s *Settings) { s.ServerPort = 70000 }},
		{"short timeout", func(s *Settings) { s.RequestTimeout = 10 * time.Millisecond }},
		{"long timeout", func(s *Settings) { s.RequestTimeout = time.Hour }},
		{"negative cache", func(s *Settings) { s.CacheSize = -1 }},
		{"negative rate limit", func(s *Settings) { s.RateLimit = -1 }},
		{"negative ridge alpha", func(s *Settings) { s.Models.RidgeAlpha = -0.1 }},
		{"negative lasso alpha", func(s *Settings) { s.Models.LassoAlpha = -0.1 }},
		{"zero lasso iterations", func(s *Settings) { s.Models.LassoMaxIter = 0 }},
		{"zero tree depth", func(s *Settings) { s.Models.TreeMaxDepth = 0 }},
		{"zero forest depth", func(s *Settings) { s.Models.ForestMaxDepth = 0 }},
		{"zero trees", func(s *Settings) { s.Models.ForestTrees = 0 }},
		{"zero stages", func(s *Settings) { s.Models.BoostStages = 0 }},
		{"learning rate above one", func(s *Settings) { s.Models.BoostLearningRate = 1.5 }},
		{"no hidden layers", func(s *Settings) { s.Models.MLPHiddenLayers = nil }},
		{"zero width layer", func(s *Settings) { s.Models.MLPHiddenLayers = []int{10, 0} }},
		{"zero mlp iterations", func(s *Settings) { s.Models.MLPMaxIter = 0 }},
		{"zero batch size", func(s *Settings) { s.Models.MLPBatchSize = 0 }},
		{"validation fraction of one", func(s *Settings) { s.Models.MLPValidationFraction = 1 }},
		{"zero patience", func(s *Settings) { s.Models.MLPPatience = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := createValidSettings()
			tt.mutate(s)
			if err := validateSettings(s); err == nil {
				t.Errorf("expected validation error for %s", tt.name)
			}
		})
	}
}

func TestValidateSettings_Boundaries(t *testing.T) {
	s := createValidSettings()
	s.ServerPort = 1024
	s.RequestTimeout = 100 * time.Millisecond
	s.CacheSize = 0
	s.Models.BoostLearningRate = 1
	s.Models.MLPValidationFraction = 0
	if err := validateSettings(s); err != nil {
		t.Errorf("boundary values should be accepted, got %v", err)
	}
}
