package features

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidInput is matched by every ValidationError.
var ErrInvalidInput = errors.New("invalid input")

// Field names reported by ValidationError.
const (
	FieldDuration = "trip_duration_days"
	FieldMiles    = "miles_traveled"
	FieldReceipts = "total_receipts_amount"
)

// ValidationError describes why a raw trip was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// TripRecord is one raw trip as supplied by a user or a dataset row.
type TripRecord struct {
	DurationDays float64 `json:"trip_duration_days"`
	Miles        float64 `json:"miles_traveled"`
	Receipts     float64 `json:"total_receipts_amount"`
}

// ParseTrip converts three raw inputs into a TripRecord.
// All fields are converted before any sign check, so a conversion failure
// anywhere is reported as a type error even if another field is negative.
func ParseTrip(duration, miles, receipts string) (TripRecord, error) {
	raw := []struct {
		field string
		value string
	}{
		{FieldDuration, duration},
		{FieldMiles, miles},
		{FieldReceipts, receipts},
	}

	values := make([]float64, len(raw))
	for i, r := range raw {
		v, err := parseReal(r.value)
		if err != nil {
			return TripRecord{}, &ValidationError{
				Field:  r.field,
				Reason: fmt.Sprintf("invalid input type: %s: %v", r.field, err),
			}
		}
		values[i] = v
	}

	t := TripRecord{DurationDays: values[0], Miles: values[1], Receipts: values[2]}
	if err := t.Validate(); err != nil {
		return TripRecord{}, err
	}
	return t, nil
}

// ValidateInputs reports whether the raw inputs form a valid trip, with the
// reason when they do not.
func ValidateInputs(duration, miles, receipts string) (bool, string) {
	if _, err := ParseTrip(duration, miles, receipts); err != nil {
		return false, err.Error()
	}
	return true, ""
}

// Validate checks an already numeric record.
func (t TripRecord) Validate() error {
	checks := []struct {
		field  string
		value  float64
		reason string
	}{
		{FieldDuration, t.DurationDays, "trip duration cannot be negative"},
		{FieldMiles, t.Miles, "miles traveled cannot be negative"},
		{FieldReceipts, t.Receipts, "receipt amount cannot be negative"},
	}

	for _, c := range checks {
		if math.IsNaN(c.value) || math.IsInf(c.value, 0) {
			return &ValidationError{
				Field:  c.field,
				Reason: fmt.Sprintf("invalid input type: %s is not a finite number", c.field),
			}
		}
	}
	for _, c := range checks {
		if c.value < 0 {
			return &ValidationError{Field: c.field, Reason: c.reason}
		}
	}
	return nil
}

func parseReal(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		var numErr *strconv.NumError
		if errors.As(err, &numErr) {
			return 0, fmt.Errorf("could not convert %q to a number", s)
		}
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%q is not a finite number", s)
	}
	return v, nil
}
