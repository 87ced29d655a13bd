package estimator

import "fmt"

// GradientBoosting fits shallow trees to squared-loss residuals, starting
// from the target mean.
type GradientBoosting struct {
	Stages       int       `json:"n_estimators"`
	MaxDepth     int       `json:"max_depth"`
	LearningRate float64   `json:"learning_rate"`
	Init         float64   `json:"init"`
	Trees        []*Tree   `json:"trees"`
	Importances  []float64 `json:"importances"`
}

func NewGradientBoosting(stages, maxDepth int, learningRate float64) *GradientBoosting {
	return &GradientBoosting{Stages: stages, MaxDepth: maxDepth, LearningRate: learningRate}
}

func (m *GradientBoosting) Kind() Kind { return KindGradientBoosting }

func (m *GradientBoosting) Fit(X [][]float64, y []float64) error {
	n, p, err := checkFit(X, y)
	if err != nil {
		return err
	}
	if m.Stages <= 0 || m.LearningRate <= 0 {
		return fmt.Errorf("%w: boosting needs positive stages and learning rate", ErrFit)
	}

	init := mean(y)
	current := make([]float64, n)
	for i := range current {
		current[i] = init
	}

	rows := make([]int, n)
	for i := range rows {
		rows[i] = i
	}

	residual := make([]float64, n)
	imp := make([]float64, p)
	trees := make([]*Tree, 0, m.Stages)
	for s := 0; s < m.Stages; s++ {
		for i := range residual {
			residual[i] = y[i] - current[i]
		}
		b := newTreeBuilder(X, residual, m.MaxDepth)
		tree := b.fit(rows)
		for j, v := range b.importances {
			imp[j] += v
		}
		for i, row := range X {
			current[i] += m.LearningRate * tree.predictOne(row)
		}
		trees = append(trees, tree)
	}

	if !allFinite(current) {
		return fmt.Errorf("%w: boosting diverged", ErrFit)
	}

	m.Init = init
	m.Trees = trees
	m.Importances = normalize(imp)
	return nil
}

func (m *GradientBoosting) Predict(X [][]float64) ([]float64, error) {
	if len(m.Trees) == 0 {
		return nil, ErrNotFitted
	}
	out := make([]float64, len(X))
	for i := range out {
		out[i] = m.Init
	}
	for _, t := range m.Trees {
		pred, err := t.predict(X)
		if err != nil {
			return nil, err
		}
		for i, v := range pred {
			out[i] += m.LearningRate * v
		}
	}
	return out, nil
}

func (m *GradientBoosting) FeatureImportances() []float64 {
	return append([]float64(nil), m.Importances...)
}
