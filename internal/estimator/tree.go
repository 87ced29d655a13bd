package estimator

import (
	"fmt"
	"sort"
)

// Node is one entry of a flattened regression tree. Children are indices
// into the same slice; leaves carry Value.
type Node struct {
	Feature   int     `json:"feature_idx"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left_child"`
	Right     int     `json:"right_child"`
	Value     float64 `json:"value"`
	IsLeaf    bool    `json:"is_leaf"`
}

// Tree is a fitted CART regression tree.
type Tree struct {
	Nodes     []Node `json:"nodes"`
	NFeatures int    `json:"n_features"`
}

func (t *Tree) predictOne(x []float64) float64 {
	idx := 0
	for {
		node := t.Nodes[idx]
		if node.IsLeaf {
			return node.Value
		}
		if x[node.Feature] <= node.Threshold {
			idx = node.Left
		} else {
			idx = node.Right
		}
	}
}

func (t *Tree) predict(X [][]float64) ([]float64, error) {
	if t == nil || len(t.Nodes) == 0 {
		return nil, ErrNotFitted
	}
	if err := checkPredict(X, t.NFeatures); err != nil {
		return nil, err
	}
	out := make([]float64, len(X))
	for i, row := range X {
		out[i] = t.predictOne(row)
	}
	return out, nil
}

// validate guards against corrupt persisted trees that would loop or index
// out of range.
func (t *Tree) validate() error {
	if len(t.Nodes) == 0 {
		return ErrNotFitted
	}
	for i, n := range t.Nodes {
		if n.IsLeaf {
			continue
		}
		if n.Feature < 0 || n.Feature >= t.NFeatures {
			return fmt.Errorf("node %d: feature index %d out of range", i, n.Feature)
		}
		if n.Left <= i || n.Right <= i || n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) {
			return fmt.Errorf("node %d: invalid children %d/%d", i, n.Left, n.Right)
		}
	}
	return nil
}

// treeBuilder grows a tree over a subset of rows by greedy squared-error
// splits. Rows may repeat (bootstrap samples).
type treeBuilder struct {
	X              [][]float64
	y              []float64
	maxDepth       int
	minSamplesLeaf int
	minSplit       int
	nodes          []Node
	importances    []float64
}

func newTreeBuilder(X [][]float64, y []float64, maxDepth int) *treeBuilder {
	return &treeBuilder{
		X:              X,
		y:              y,
		maxDepth:       maxDepth,
		minSamplesLeaf: 1,
		minSplit:       2,
		importances:    make([]float64, len(X[0])),
	}
}

func (b *treeBuilder) fit(rows []int) *Tree {
	b.nodes = b.nodes[:0]
	b.build(rows, 0)
	return &Tree{Nodes: append([]Node(nil), b.nodes...), NFeatures: len(b.X[0])}
}

func (b *treeBuilder) build(rows []int, depth int) int {
	id := len(b.nodes)

	var sum, sumSq float64
	for _, r := range rows {
		sum += b.y[r]
		sumSq += b.y[r] * b.y[r]
	}
	n := float64(len(rows))
	b.nodes = append(b.nodes, Node{Feature: -1, Left: -1, Right: -1, Value: sum / n, IsLeaf: true})

	sse := sumSq - sum*sum/n
	if (b.maxDepth > 0 && depth >= b.maxDepth) || len(rows) < b.minSplit || sse <= 1e-12 {
		return id
	}

	feature, threshold, gain, ok := b.bestSplit(rows, sum)
	if !ok {
		return id
	}

	left := make([]int, 0, len(rows))
	right := make([]int, 0, len(rows))
	for _, r := range rows {
		if b.X[r][feature] <= threshold {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return id
	}

	b.importances[feature] += gain

	l := b.build(left, depth+1)
	r := b.build(right, depth+1)

	b.nodes[id].Feature = feature
	b.nodes[id].Threshold = threshold
	b.nodes[id].Left = l
	b.nodes[id].Right = r
	b.nodes[id].IsLeaf = false
	return id
}

// bestSplit maximizes the reduction in squared error over every feature and
// every boundary between distinct values. Ties keep the first candidate.
func (b *treeBuilder) bestSplit(rows []int, total float64) (feature int, threshold, gain float64, ok bool) {
	n := len(rows)
	parent := total * total / float64(n)
	best := -1.0
	sorted := make([]int, n)

	for f := range b.importances {
		copy(sorted, rows)
		sort.Slice(sorted, func(i, j int) bool {
			return b.X[sorted[i]][f] < b.X[sorted[j]][f]
		})

		var leftSum float64
		for i := 1; i < n; i++ {
			leftSum += b.y[sorted[i-1]]

			lo, hi := b.X[sorted[i-1]][f], b.X[sorted[i]][f]
			if lo == hi || i < b.minSamplesLeaf || n-i < b.minSamplesLeaf {
				continue
			}

			rightSum := total - leftSum
			score := leftSum*leftSum/float64(i) + rightSum*rightSum/float64(n-i) - parent
			if score > best {
				best = score
				feature = f
				threshold = lo + (hi-lo)/2
				if threshold >= hi {
					threshold = lo
				}
				ok = true
			}
		}
	}

	return feature, threshold, best, ok
}

func normalize(values []float64) []float64 {
	out := make([]float64, len(values))
	var total float64
	for _, v := range values {
		total += v
	}
	if total <= 0 {
		return out
	}
	for i, v := range values {
		out[i] = v / total
	}
	return out
}

// DecisionTree is a single CART regression tree.
type DecisionTree struct {
	MaxDepth    int       `json:"max_depth"`
	Tree        *Tree     `json:"tree"`
	Importances []float64 `json:"importances"`
}

// NewDecisionTree returns an unfitted tree limited to maxDepth levels
// (0 means unlimited).
func NewDecisionTree(maxDepth int) *DecisionTree {
	return &DecisionTree{MaxDepth: maxDepth}
}

func (m *DecisionTree) Kind() Kind { return KindDecisionTree }

func (m *DecisionTree) Fit(X [][]float64, y []float64) error {
	n, _, err := checkFit(X, y)
	if err != nil {
		return err
	}

	rows := make([]int, n)
	for i := range rows {
		rows[i] = i
	}

	b := newTreeBuilder(X, y, m.MaxDepth)
	m.Tree = b.fit(rows)
	m.Importances = normalize(b.importances)
	return nil
}

func (m *DecisionTree) Predict(X [][]float64) ([]float64, error) {
	return m.Tree.predict(X)
}

// FeatureImportances returns the normalized squared-error reduction per
// feature.
func (m *DecisionTree) FeatureImportances() []float64 {
	return append([]float64(nil), m.Importances...)
}
