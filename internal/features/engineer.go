// Package features turns raw trip attributes into the fixed-order feature
// vector shared by training and inference.
//
// The three identity features are followed by three ratios smoothed with
// Epsilon so that zero-day or zero-mile trips stay finite:
//
//	cost_per_day  = receipts / (days  + Epsilon)
//	cost_per_mile = receipts / (miles + Epsilon)
//	miles_per_day = miles    / (days  + Epsilon)
package features

import (
	"errors"
	"fmt"
)

// Epsilon smooths the ratio denominators. It is part of the feature
// definition and must match the value used when the models were trained.
const Epsilon = 0.01

// ErrSchemaMismatch means a feature vector or recorded schema disagrees with
// the feature layout of this build.
var ErrSchemaMismatch = errors.New("feature schema mismatch")

// Feature names in vector order.
const (
	NameDuration    = "trip_duration_days"
	NameMiles       = "miles_traveled"
	NameReceipts    = "total_receipts_amount"
	NameCostPerDay  = "cost_per_day"
	NameCostPerMile = "cost_per_mile"
	NameMilesPerDay = "miles_per_day"
)

// Schema is the ordered list of feature names.
type Schema []string

// CurrentSchema returns the schema produced by Engineer.
func CurrentSchema() Schema {
	return Schema{NameDuration, NameMiles, NameReceipts, NameCostPerDay, NameCostPerMile, NameMilesPerDay}
}

// Len is the number of features in the current schema.
func Len() int { return len(CurrentSchema()) }

// Check returns ErrSchemaMismatch unless other has the same names in the
// same order.
func (s Schema) Check(other Schema) error {
	if len(s) != len(other) {
		return fmt.Errorf("%w: expected %d features, got %d", ErrSchemaMismatch, len(s), len(other))
	}
	for i := range s {
		if s[i] != other[i] {
			return fmt.Errorf("%w: feature %d is %q, expected %q", ErrSchemaMismatch, i, other[i], s[i])
		}
	}
	return nil
}

// Vector is one engineered feature row.
type Vector []float64

// Check verifies that v has the shape described by s.
func (v Vector) Check(s Schema) error {
	if len(v) != len(s) {
		return fmt.Errorf("%w: vector has %d values, schema has %d", ErrSchemaMismatch, len(v), len(s))
	}
	return nil
}

// Engineer derives the feature vector for a trip. It does not validate t.
func Engineer(t TripRecord) Vector {
	return Vector{
		t.DurationDays,
		t.Miles,
		t.Receipts,
		t.Receipts / (t.DurationDays + Epsilon),
		t.Receipts / (t.Miles + Epsilon),
		t.Miles / (t.DurationDays + Epsilon),
	}
}

// Matrix engineers every trip into a row-major feature matrix.
func Matrix(trips []TripRecord) [][]float64 {
	rows := make([][]float64, len(trips))
	for i, t := range trips {
		rows[i] = Engineer(t)
	}
	return rows
}
