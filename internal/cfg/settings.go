package cfg

import (
	"time"

	"reimburse-engine/internal/common"
	"reimburse-engine/internal/estimator"
)

type Settings struct {
	DatasetPath    string
	ArtifactDir    string
	TestFraction   float64
	Seed           int64
	LogLevel       string
	LogFile        string
	ServerPort     int
	RequestTimeout time.Duration
	CacheSize      int
	RateLimit      float64
	WatchArtifacts bool
	Models         ModelSettings
}

// ModelSettings holds the hyperparameters of every model family.
type ModelSettings struct {
	RidgeAlpha            float64 `yaml:"ridgeAlpha"`
	LassoAlpha            float64 `yaml:"lassoAlpha"`
	LassoMaxIter          int     `yaml:"lassoMaxIter"`
	TreeMaxDepth          int     `yaml:"treeMaxDepth"`
	ForestTrees           int     `yaml:"forestTrees"`
	ForestMaxDepth        int     `yaml:"forestMaxDepth"`
	BoostStages           int     `yaml:"boostStages"`
	BoostMaxDepth         int     `yaml:"boostMaxDepth"`
	BoostLearningRate     float64 `yaml:"boostLearningRate"`
	MLPHiddenLayers       []int   `yaml:"mlpHiddenLayers"`
	MLPMaxIter            int     `yaml:"mlpMaxIter"`
	MLPLearningRate       float64 `yaml:"mlpLearningRate"`
	MLPBatchSize          int     `yaml:"mlpBatchSize"`
	MLPValidationFraction float64 `yaml:"mlpValidationFraction"`
	MLPPatience           int     `yaml:"mlpPatience"`
}

// Defaults returns the settings used when neither a file nor the
// environment says otherwise.
func Defaults() Settings {
	return Settings{
		DatasetPath:    common.DefaultDatasetPath,
		ArtifactDir:    common.DefaultArtifactDir,
		TestFraction:   common.DefaultTestFraction,
		Seed:           common.DefaultRandomSeed,
		LogLevel:       common.DefaultLogLevel,
		ServerPort:     common.DefaultServerPort,
		RequestTimeout: 5 * time.Second,
		CacheSize:      common.DefaultCacheSize,
		Models: ModelSettings{
			RidgeAlpha:            common.DefaultRidgeAlpha,
			LassoAlpha:            common.DefaultLassoAlpha,
			LassoMaxIter:          common.DefaultLassoMaxIter,
			TreeMaxDepth:          common.DefaultTreeMaxDepth,
			ForestTrees:           common.DefaultForestTrees,
			ForestMaxDepth:        common.DefaultForestMaxDepth,
			BoostStages:           common.DefaultBoostStages,
			BoostMaxDepth:         common.DefaultBoostMaxDepth,
			BoostLearningRate:     common.DefaultBoostLearnRate,
			MLPHiddenLayers:       append([]int(nil), common.DefaultMLPHiddenLayers...),
			MLPMaxIter:            common.DefaultMLPMaxIter,
			MLPLearningRate:       common.DefaultMLPLearnRate,
			MLPBatchSize:          common.DefaultMLPBatchSize,
			MLPValidationFraction: common.DefaultMLPValFraction,
			MLPPatience:           common.DefaultMLPPatience,
		},
	}
}

// EstimatorParams converts the model settings for the trainer.
func (s Settings) EstimatorParams() estimator.Params {
	m := s.Models
	return estimator.Params{
		Seed:                  s.Seed,
		RidgeAlpha:            m.RidgeAlpha,
		LassoAlpha:            m.LassoAlpha,
		LassoMaxIter:          m.LassoMaxIter,
		TreeMaxDepth:          m.TreeMaxDepth,
		ForestTrees:           m.ForestTrees,
		ForestMaxDepth:        m.ForestMaxDepth,
		BoostStages:           m.BoostStages,
		BoostMaxDepth:         m.BoostMaxDepth,
		BoostLearningRate:     m.BoostLearningRate,
		MLPHiddenLayers:       append([]int(nil), m.MLPHiddenLayers...),
		MLPMaxIter:            m.MLPMaxIter,
		MLPLearningRate:       m.MLPLearningRate,
		MLPBatchSize:          m.MLPBatchSize,
		MLPValidationFraction: m.MLPValidationFraction,
		MLPPatience:           m.MLPPatience,
	}
}
