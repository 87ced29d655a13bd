// Package cfg loads engine settings from an optional YAML file, a .env file
// and the environment. Environment variables always win over the file.
package cfg

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"reimburse-engine/internal/common"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type ConfigFile struct {
	Data struct {
		Path     string  `yaml:"path"`
		TestSize float64 `yaml:"testSize"`
		Seed     *int64  `yaml:"seed"`
	} `yaml:"data"`

	Artifacts struct {
		Dir   string `yaml:"dir"`
		Watch bool   `yaml:"watch"`
	} `yaml:"artifacts"`

	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`

	Server struct {
		Port           int     `yaml:"port"`
		RequestTimeout string  `yaml:"requestTimeout"`
		CacheSize      *int    `yaml:"cacheSize"`
		RateLimit      float64 `yaml:"rateLimit"`
	} `yaml:"server"`

	Models ModelSettings `yaml:"models"`
}

// LoadDotEnv loads variables from a .env file without overriding ones that
// are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load reads .env, then the YAML file named by CONFIG_FILE if any, then the
// environment.
func Load() (Settings, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return Settings{}, err
	}
	return LoadFile(os.Getenv(common.EnvConfigFile))
}

// LoadFile is Load with an explicit YAML path; an empty path skips the file.
func LoadFile(path string) (Settings, error) {
	settings := Defaults()
	if path != "" {
		if err := applyYAML(&settings, path); err != nil {
			return Settings{}, err
		}
	}
	applyEnv(&settings)

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return settings, nil
}

func applyYAML(s *Settings, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	setString(&s.DatasetPath, config.Data.Path)
	setFloat(&s.TestFraction, config.Data.TestSize)
	if config.Data.Seed != nil {
		s.Seed = *config.Data.Seed
	}
	setString(&s.ArtifactDir, config.Artifacts.Dir)
	s.WatchArtifacts = s.WatchArtifacts || config.Artifacts.Watch
	setString(&s.LogLevel, config.Logging.Level)
	setString(&s.LogFile, config.Logging.File)
	setInt(&s.ServerPort, config.Server.Port)
	if config.Server.RequestTimeout != "" {
		d, err := time.ParseDuration(config.Server.RequestTimeout)
		if err != nil {
			return fmt.Errorf("invalid server.requestTimeout %q: %w", config.Server.RequestTimeout, err)
		}
		s.RequestTimeout = d
	}
	if config.Server.CacheSize != nil {
		s.CacheSize = *config.Server.CacheSize
	}
	setFloat(&s.RateLimit, config.Server.RateLimit)

	m, c := &s.Models, config.Models
	setFloat(&m.RidgeAlpha, c.RidgeAlpha)
	setFloat(&m.LassoAlpha, c.LassoAlpha)
	setInt(&m.LassoMaxIter, c.LassoMaxIter)
	setInt(&m.TreeMaxDepth, c.TreeMaxDepth)
	setInt(&m.ForestTrees, c.ForestTrees)
	setInt(&m.ForestMaxDepth, c.ForestMaxDepth)
	setInt(&m.BoostStages, c.BoostStages)
	setInt(&m.BoostMaxDepth, c.BoostMaxDepth)
	setFloat(&m.BoostLearningRate, c.BoostLearningRate)
	if len(c.MLPHiddenLayers) > 0 {
		m.MLPHiddenLayers = c.MLPHiddenLayers
	}
	setInt(&m.MLPMaxIter, c.MLPMaxIter)
	setFloat(&m.MLPLearningRate, c.MLPLearningRate)
	setInt(&m.MLPBatchSize, c.MLPBatchSize)
	setFloat(&m.MLPValidationFraction, c.MLPValidationFraction)
	setInt(&m.MLPPatience, c.MLPPatience)
	return nil
}

func applyEnv(s *Settings) {
	s.DatasetPath = getEnvOrDefault(common.EnvDatasetPath, s.DatasetPath)
	s.ArtifactDir = getEnvOrDefault(common.EnvArtifactDir, s.ArtifactDir)
	s.TestFraction = getFloatOrDefault(common.EnvTestFraction, s.TestFraction)
	s.Seed = int64(getIntOrDefault(common.EnvRandomSeed, int(s.Seed)))
	s.LogLevel = getEnvOrDefault(common.EnvLogLevel, s.LogLevel)
	s.LogFile = getEnvOrDefault(common.EnvLogFile, s.LogFile)
	s.ServerPort = getIntOrDefault(common.EnvServerPort, s.ServerPort)
	s.RequestTimeout = getDurationOrDefault(common.EnvRequestTimeout, s.RequestTimeout)
	s.CacheSize = getIntOrDefault(common.EnvCacheSize, s.CacheSize)
	s.RateLimit = getFloatOrDefault(common.EnvRateLimit, s.RateLimit)
	s.WatchArtifacts = getBoolOrDefault(common.EnvWatchArtifacts, s.WatchArtifacts)

	m := &s.Models
	m.RidgeAlpha = getFloatOrDefault(common.EnvRidgeAlpha, m.RidgeAlpha)
	m.LassoAlpha = getFloatOrDefault(common.EnvLassoAlpha, m.LassoAlpha)
	m.TreeMaxDepth = getIntOrDefault(common.EnvTreeMaxDepth, m.TreeMaxDepth)
	m.ForestTrees = getIntOrDefault(common.EnvForestTrees, m.ForestTrees)
	m.ForestMaxDepth = getIntOrDefault(common.EnvForestMaxDepth, m.ForestMaxDepth)
	m.BoostStages = getIntOrDefault(common.EnvBoostStages, m.BoostStages)
	m.BoostMaxDepth = getIntOrDefault(common.EnvBoostMaxDepth, m.BoostMaxDepth)
	m.BoostLearningRate = getFloatOrDefault(common.EnvBoostLearnRate, m.BoostLearningRate)
	m.MLPHiddenLayers = getIntsOrDefault(common.EnvMLPHiddenLayers, m.MLPHiddenLayers)
	m.MLPMaxIter = getIntOrDefault(common.EnvMLPMaxIter, m.MLPMaxIter)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setFloat(dst *float64, v float64) {
	if v != 0 {
		*dst = v
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

// getIntsOrDefault parses a comma separated list such as "100,50,25".
func getIntsOrDefault(key string, defaultValue []int) []int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	var out []int
	for _, part := range strings.Split(v, ",") {
		i, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return defaultValue
		}
		out = append(out, i)
	}
	return out
}

// validateSettings performs comprehensive validation of configuration values
func validateSettings(settings *Settings) error {
	if settings.DatasetPath == "" {
		return fmt.Errorf("dataset path cannot be empty")
	}
	if settings.ArtifactDir == "" {
		return fmt.Errorf("artifact directory cannot be empty")
	}
	if settings.TestFraction <= 0 || settings.TestFraction >= 1 {
		return fmt.Errorf("test fraction must be between 0 and 1 (exclusive), got %v", settings.TestFraction)
	}
	if _, err := zerolog.ParseLevel(settings.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q", settings.LogLevel)
	}

	if settings.ServerPort < 1024 || settings.ServerPort > 65535 {
		return fmt.Errorf("server port must be between 1024 and 65535, got %d", settings.ServerPort)
	}
	if settings.RequestTimeout < 100*time.Millisecond || settings.RequestTimeout > 5*time.Minute {
		return fmt.Errorf("request timeout must be between 100ms and 5m, got %v", settings.RequestTimeout)
	}
	if settings.CacheSize < 0 {
		return fmt.Errorf("cache size cannot be negative, got %d", settings.CacheSize)
	}
	if settings.RateLimit < 0 {
		return fmt.Errorf("rate limit cannot be negative, got %v", settings.RateLimit)
	}

	return validateModels(&settings.Models)
}

func validateModels(m *ModelSettings) error {
	if m.RidgeAlpha < 0 || m.LassoAlpha < 0 {
		return fmt.Errorf("regularization strengths cannot be negative")
	}
	if m.LassoMaxIter <= 0 {
		return fmt.Errorf("lasso iterations must be positive, got %d", m.LassoMaxIter)
	}
	for name, depth := range map[string]int{
		"tree max depth":     m.TreeMaxDepth,
		"forest max depth":   m.ForestMaxDepth,
		"boosting max depth": m.BoostMaxDepth,
	} {
		if depth <= 0 || depth > 64 {
			return fmt.Errorf("%s must be between 1 and 64, got %d", name, depth)
		}
	}
	if m.ForestTrees <= 0 || m.ForestTrees > 10000 {
		return fmt.Errorf("forest size must be between 1 and 10000, got %d", m.ForestTrees)
	}
	if m.BoostStages <= 0 || m.BoostStages > 10000 {
		return fmt.Errorf("boosting stages must be between 1 and 10000, got %d", m.BoostStages)
	}
	if m.BoostLearningRate <= 0 || m.BoostLearningRate > 1 {
		return fmt.Errorf("boosting learning rate must be in (0, 1], got %v", m.BoostLearningRate)
	}
	if len(m.MLPHiddenLayers) == 0 {
		return fmt.Errorf("neural network needs at least one hidden layer")
	}
	for _, h := range m.MLPHiddenLayers {
		if h <= 0 {
			return fmt.Errorf("hidden layer sizes must be positive, got %v", m.MLPHiddenLayers)
		}
	}
	if m.MLPMaxIter <= 0 || m.MLPLearningRate <= 0 || m.MLPBatchSize <= 0 || m.MLPPatience <= 0 {
		return fmt.Errorf("neural network iterations, learning rate, batch size and patience must be positive")
	}
	if m.MLPValidationFraction < 0 || m.MLPValidationFraction >= 1 {
		return fmt.Errorf("neural network validation fraction must be in [0, 1), got %v", m.MLPValidationFraction)
	}
	return nil
}
