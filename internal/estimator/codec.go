package estimator

import (
	"encoding/json"
	"fmt"
)

type envelope struct {
	Kind  Kind            `json:"kind"`
	Model json.RawMessage `json:"model"`
}

var registry = map[Kind]func() Regressor{
	KindLinear:           func() Regressor { return &LinearRegression{} },
	KindRidge:            func() Regressor { return &Ridge{} },
	KindLasso:            func() Regressor { return &Lasso{} },
	KindDecisionTree:     func() Regressor { return &DecisionTree{} },
	KindRandomForest:     func() Regressor { return &RandomForest{} },
	KindGradientBoosting: func() Regressor { return &GradientBoosting{} },
	KindMLP:              func() Regressor { return &MLP{} },
}

// Marshal encodes a fitted model together with its kind.
func Marshal(r Regressor) ([]byte, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", r.Kind(), err)
	}
	return json.Marshal(envelope{Kind: r.Kind(), Model: body})
}

// Unmarshal restores a model written by Marshal.
func Unmarshal(data []byte) (Regressor, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode model envelope: %w", err)
	}
	newFn, ok := registry[env.Kind]
	if !ok {
		return nil, fmt.Errorf("decode model: unknown kind %q", env.Kind)
	}
	r := newFn()
	if err := json.Unmarshal(env.Model, r); err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Kind, err)
	}
	if err := checkDecoded(r); err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Kind, err)
	}
	return r, nil
}

func checkDecoded(r Regressor) error {
	switch m := r.(type) {
	case *LinearRegression:
		return checkLinear(&m.linearModel)
	case *Ridge:
		return checkLinear(&m.linearModel)
	case *Lasso:
		return checkLinear(&m.linearModel)
	case *DecisionTree:
		if m.Tree == nil {
			return ErrNotFitted
		}
		return m.Tree.validate()
	case *RandomForest:
		return checkTrees(m.Trees)
	case *GradientBoosting:
		return checkTrees(m.Trees)
	case *MLP:
		if len(m.Layers) == 0 {
			return ErrNotFitted
		}
		_, err := netFromLayers(m.Layers)
		return err
	}
	return nil
}

func checkLinear(m *linearModel) error {
	if len(m.Coef) == 0 {
		return ErrNotFitted
	}
	return nil
}

func checkTrees(trees []*Tree) error {
	if len(trees) == 0 {
		return ErrNotFitted
	}
	for i, t := range trees {
		if t == nil {
			return fmt.Errorf("tree %d missing", i)
		}
		if err := t.validate(); err != nil {
			return fmt.Errorf("tree %d: %w", i, err)
		}
	}
	return nil
}
