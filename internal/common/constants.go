package common

// Environment variable keys
const (
	EnvConfigFile      = "CONFIG_FILE"
	EnvDatasetPath     = "DATASET_PATH"
	EnvArtifactDir     = "ARTIFACT_DIR"
	EnvTestFraction    = "TEST_FRACTION"
	EnvRandomSeed      = "RANDOM_SEED"
	EnvLogLevel        = "LOG_LEVEL"
	EnvLogFile         = "LOG_FILE"
	EnvServerPort      = "SERVER_PORT"
	EnvRequestTimeout  = "REQUEST_TIMEOUT"
	EnvCacheSize       = "CACHE_SIZE"
	EnvRateLimit       = "RATE_LIMIT"
	EnvWatchArtifacts  = "WATCH_ARTIFACTS"
	EnvRidgeAlpha      = "RIDGE_ALPHA"
	EnvLassoAlpha      = "LASSO_ALPHA"
	EnvTreeMaxDepth    = "TREE_MAX_DEPTH"
	EnvForestTrees     = "FOREST_TREES"
	EnvForestMaxDepth  = "FOREST_MAX_DEPTH"
	EnvBoostStages     = "BOOST_STAGES"
	EnvBoostMaxDepth   = "BOOST_MAX_DEPTH"
	EnvBoostLearnRate  = "BOOST_LEARNING_RATE"
	EnvMLPHiddenLayers = "MLP_HIDDEN_LAYERS"
	EnvMLPMaxIter      = "MLP_MAX_ITER"
)

// Configuration defaults
const (
	DefaultDatasetPath    = "public_cases.csv"
	DefaultArtifactDir    = "models"
	DefaultTestFraction   = 0.25
	DefaultRandomSeed     = 42
	DefaultLogLevel       = "info"
	DefaultServerPort     = 8080
	DefaultCacheSize      = 1024
	DefaultRidgeAlpha     = 1.0
	DefaultLassoAlpha     = 1.0
	DefaultLassoMaxIter   = 1000
	DefaultTreeMaxDepth   = 10
	DefaultForestTrees    = 100
	DefaultForestMaxDepth = 15
	DefaultBoostStages    = 100
	DefaultBoostMaxDepth  = 5
	DefaultBoostLearnRate = 0.1
	DefaultMLPMaxIter     = 1000
	DefaultMLPLearnRate   = 0.001
	DefaultMLPBatchSize   = 200
	DefaultMLPValFraction = 0.1
	DefaultMLPPatience    = 10
)

// DefaultMLPHiddenLayers is the (100, 50, 25) network shape.
var DefaultMLPHiddenLayers = []int{100, 50, 25}

// Tolerance policy for scoring predictions against expected reimbursements.
const (
	ExactMatchTolerance = 0.01 // one cent
	CloseMatchTolerance = 1.00 // one dollar
	OverfitGap          = 0.1
)

// Model names used as keys in the artifact bundle.
const (
	ModelLinear           = "linear_regression"
	ModelRidge            = "ridge"
	ModelLasso            = "lasso"
	ModelDecisionTree     = "decision_tree"
	ModelRandomForest     = "random_forest"
	ModelGradientBoosting = "gradient_boosting"
	ModelNeuralNetwork    = "neural_network"
)

// ArtifactDBName is the bbolt file inside the artifact directory.
const ArtifactDBName = "artifacts.db"
