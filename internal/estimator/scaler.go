package estimator

import (
	"encoding/json"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// StandardScaler centres each column on its training mean and divides by the
// population standard deviation. Constant columns keep a scale of one.
type StandardScaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

func (s *StandardScaler) Fit(X [][]float64) error {
	if len(X) == 0 {
		return errors.New("scaler: no rows")
	}
	p := len(X[0])
	s.Mean = make([]float64, p)
	s.Scale = make([]float64, p)
	col := make([]float64, len(X))
	for j := 0; j < p; j++ {
		for i, row := range X {
			if len(row) != p {
				return fmt.Errorf("scaler: row %d has %d features, expected %d", i, len(row), p)
			}
			col[i] = row[j]
		}
		m, sd := stat.PopMeanStdDev(col, nil)
		s.Mean[j] = m
		if sd == 0 {
			sd = 1
		}
		s.Scale[j] = sd
	}
	return nil
}

// Transform returns a standardized copy of X.
func (s *StandardScaler) Transform(X [][]float64) ([][]float64, error) {
	if len(s.Mean) == 0 {
		return nil, ErrNotFitted
	}
	out := make([][]float64, len(X))
	for i, row := range X {
		if len(row) != len(s.Mean) {
			return nil, fmt.Errorf("scaler: row %d has %d features, expected %d", i, len(row), len(s.Mean))
		}
		scaled := make([]float64, len(row))
		for j, v := range row {
			scaled[j] = (v - s.Mean[j]) / s.Scale[j]
		}
		out[i] = scaled
	}
	return out, nil
}

func (s *StandardScaler) FitTransform(X [][]float64) ([][]float64, error) {
	if err := s.Fit(X); err != nil {
		return nil, err
	}
	return s.Transform(X)
}

func MarshalScaler(s *StandardScaler) ([]byte, error) {
	return json.Marshal(s)
}

func UnmarshalScaler(data []byte) (*StandardScaler, error) {
	var s StandardScaler
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode scaler: %w", err)
	}
	if len(s.Mean) == 0 || len(s.Mean) != len(s.Scale) {
		return nil, errors.New("decode scaler: inconsistent dimensions")
	}
	for _, v := range s.Scale {
		if v == 0 {
			return nil, errors.New("decode scaler: zero scale")
		}
	}
	return &s, nil
}
