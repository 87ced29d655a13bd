package estimator

import (
	"fmt"
	"math/rand"
	"runtime"
	"sync"
)

// RandomForest averages bootstrapped CART trees. Each tree draws its sample
// from its own seed so the fitted forest does not depend on goroutine
// scheduling.
type RandomForest struct {
	NTrees      int       `json:"n_trees"`
	MaxDepth    int       `json:"max_depth"`
	Seed        int64     `json:"seed"`
	Trees       []*Tree   `json:"trees"`
	Importances []float64 `json:"importances"`
}

func NewRandomForest(nTrees, maxDepth int, seed int64) *RandomForest {
	return &RandomForest{NTrees: nTrees, MaxDepth: maxDepth, Seed: seed}
}

func (m *RandomForest) Kind() Kind { return KindRandomForest }

func (m *RandomForest) Fit(X [][]float64, y []float64) error {
	n, p, err := checkFit(X, y)
	if err != nil {
		return err
	}
	if m.NTrees <= 0 {
		return fmt.Errorf("%w: forest needs at least one tree", ErrFit)
	}

	trees := make([]*Tree, m.NTrees)
	importances := make([][]float64, m.NTrees)

	var wg sync.WaitGroup
	sem := make(chan struct{}, runtime.GOMAXPROCS(0))
	for t := 0; t < m.NTrees; t++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(t int) {
			defer wg.Done()
			defer func() { <-sem }()

			rng := rand.New(rand.NewSource(m.Seed + int64(t)))
			rows := make([]int, n)
			for i := range rows {
				rows[i] = rng.Intn(n)
			}
			b := newTreeBuilder(X, y, m.MaxDepth)
			trees[t] = b.fit(rows)
			importances[t] = normalize(b.importances)
		}(t)
	}
	wg.Wait()

	avg := make([]float64, p)
	for _, imp := range importances {
		for j, v := range imp {
			avg[j] += v / float64(m.NTrees)
		}
	}

	m.Trees = trees
	m.Importances = normalize(avg)
	return nil
}

func (m *RandomForest) Predict(X [][]float64) ([]float64, error) {
	if len(m.Trees) == 0 {
		return nil, ErrNotFitted
	}
	out := make([]float64, len(X))
	for _, t := range m.Trees {
		pred, err := t.predict(X)
		if err != nil {
			return nil, err
		}
		for i, v := range pred {
			out[i] += v
		}
	}
	for i := range out {
		out[i] /= float64(len(m.Trees))
	}
	return out, nil
}

func (m *RandomForest) FeatureImportances() []float64 {
	return append([]float64(nil), m.Importances...)
}
