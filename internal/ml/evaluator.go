package ml

import (
	"errors"
	"fmt"
	"math"

	"reimburse-engine/internal/common"
)

// matchSlack absorbs binary rounding so a one-cent error counts as exact.
const matchSlack = 1e-9

// Metrics summarises predictions against expected reimbursements.
type Metrics struct {
	N              int     `json:"n"`
	R2             float64 `json:"r2"`
	MAE            float64 `json:"mae"`
	RMSE           float64 `json:"rmse"`
	ExactMatchRate float64 `json:"exact_match_rate"`
	CloseMatchRate float64 `json:"close_match_rate"`
}

// Report is the evaluation of one model on both splits.
type Report struct {
	TrainR2        float64 `json:"train_r2"`
	TestR2         float64 `json:"test_r2"`
	MAE            float64 `json:"mae"`
	RMSE           float64 `json:"rmse"`
	ExactMatchRate float64 `json:"exact_match_rate"`
	CloseMatchRate float64 `json:"close_match_rate"`
}

// Overfitting reports a train/test R² gap larger than the allowed margin.
func (r Report) Overfitting() bool {
	return r.TrainR2-r.TestR2 > common.OverfitGap
}

// NewReport combines train and test metrics; error metrics come from the
// test split.
func NewReport(train, test Metrics) Report {
	return Report{
		TrainR2:        train.R2,
		TestR2:         test.R2,
		MAE:            test.MAE,
		RMSE:           test.RMSE,
		ExactMatchRate: test.ExactMatchRate,
		CloseMatchRate: test.CloseMatchRate,
	}
}

// Evaluate scores pred against actual.
func Evaluate(pred, actual []float64) (Metrics, error) {
	if len(pred) != len(actual) {
		return Metrics{}, fmt.Errorf("evaluate: %d predictions for %d targets", len(pred), len(actual))
	}
	if len(actual) == 0 {
		return Metrics{}, errors.New("evaluate: no samples")
	}

	n := float64(len(actual))
	var sum float64
	for _, v := range actual {
		sum += v
	}
	meanActual := sum / n

	var absSum, sqSum, ssTot float64
	var exact, near int
	for i, a := range actual {
		diff := math.Abs(pred[i] - a)
		absSum += diff
		sqSum += diff * diff
		ssTot += (a - meanActual) * (a - meanActual)
		if diff <= common.ExactMatchTolerance+matchSlack {
			exact++
		}
		if diff <= common.CloseMatchTolerance+matchSlack {
			near++
		}
	}

	return Metrics{
		N:              len(actual),
		R2:             r2(sqSum, ssTot),
		MAE:            absSum / n,
		RMSE:           math.Sqrt(sqSum / n),
		ExactMatchRate: float64(exact) / n,
		CloseMatchRate: float64(near) / n,
	}, nil
}

func r2(ssRes, ssTot float64) float64 {
	if ssTot == 0 {
		if ssRes == 0 {
			return 1
		}
		return 0
	}
	return 1 - ssRes/ssTot
}
