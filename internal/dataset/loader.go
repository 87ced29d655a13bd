// Package dataset loads labeled reimbursement cases and splits them into
// training and held-out subsets.
//
// Two layouts are accepted: a CSV file whose header names the three input
// columns and the expected output (the "input/" prefix is optional), and a
// JSON array of {"input": {...}, "expected_output": n} objects. Rows that do
// not form a valid trip are skipped and counted rather than aborting the load.
package dataset

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"reimburse-engine/internal/features"

	"github.com/rs/zerolog/log"
)

var (
	// ErrMissingColumns is returned when a CSV header lacks a required column.
	ErrMissingColumns = errors.New("dataset is missing required columns")
	// ErrEmptyDataset is returned when no usable case was loaded.
	ErrEmptyDataset = errors.New("dataset has no usable rows")
)

// ColumnExpected is the label column.
const ColumnExpected = "expected_output"

const inputPrefix = "input/"

// RequiredColumns lists the columns every dataset must provide.
var RequiredColumns = []string{
	features.FieldDuration,
	features.FieldMiles,
	features.FieldReceipts,
	ColumnExpected,
}

// Case is one labeled trip.
type Case struct {
	Trip     features.TripRecord
	Expected float64
}

// Dataset holds the usable cases of one source plus the number of rows that
// were skipped while loading.
type Dataset struct {
	Source  string
	Cases   []Case
	Skipped int
}

// Len returns the number of usable cases.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Cases)
}

// Trips returns the trip of every case in order.
func Trips(cases []Case) []features.TripRecord {
	trips := make([]features.TripRecord, len(cases))
	for i, c := range cases {
		trips[i] = c.Trip
	}
	return trips
}

// Labels returns the expected output of every case in order.
func Labels(cases []Case) []float64 {
	y := make([]float64, len(cases))
	for i, c := range cases {
		y[i] = c.Expected
	}
	return y
}

// Load reads a dataset file, choosing the parser by extension.
func Load(path string) (*Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer file.Close()

	var ds *Dataset
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		ds, err = LoadJSON(file)
	default:
		ds, err = LoadCSV(file)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	ds.Source = path

	log.Info().
		Str("file", path).
		Int("cases", len(ds.Cases)).
		Int("skipped", ds.Skipped).
		Msg("Dataset loaded")

	return ds, nil
}

// LoadCSV parses a CSV dataset.
func LoadCSV(r io.Reader) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyDataset
		}
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	indices := make(map[string]int, len(header))
	for i, col := range header {
		name := strings.TrimPrefix(strings.TrimSpace(col), inputPrefix)
		indices[name] = i
	}

	var missing []string
	cols := make([]int, len(RequiredColumns))
	for i, name := range RequiredColumns {
		idx, ok := indices[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		cols[i] = idx
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}

	ds := &Dataset{}
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			var perr *csv.ParseError
			if !errors.As(err, &perr) {
				return nil, fmt.Errorf("failed to read CSV line %d: %w", line, err)
			}
			log.Debug().Err(err).Int("line", line).Msg("Skipping unreadable row")
			ds.Skipped++
			continue
		}

		c, err := parseRow(record, cols)
		if err != nil {
			log.Debug().Err(err).Int("line", line).Msg("Skipping invalid row")
			ds.Skipped++
			continue
		}
		ds.Cases = append(ds.Cases, c)
	}

	if len(ds.Cases) == 0 {
		return nil, ErrEmptyDataset
	}
	return ds, nil
}

func parseRow(record []string, cols []int) (Case, error) {
	for _, idx := range cols {
		if idx >= len(record) {
			return Case{}, fmt.Errorf("row has %d fields, need column %d", len(record), idx+1)
		}
	}

	trip, err := features.ParseTrip(record[cols[0]], record[cols[1]], record[cols[2]])
	if err != nil {
		return Case{}, err
	}

	expected, err := strconv.ParseFloat(strings.TrimSpace(record[cols[3]]), 64)
	if err != nil {
		return Case{}, fmt.Errorf("invalid expected output %q: %w", record[cols[3]], err)
	}
	if math.IsNaN(expected) || math.IsInf(expected, 0) {
		return Case{}, fmt.Errorf("expected output %q is not finite", record[cols[3]])
	}

	return Case{Trip: trip, Expected: expected}, nil
}

type jsonCase struct {
	Input *struct {
		DurationDays *float64 `json:"trip_duration_days"`
		Miles        *float64 `json:"miles_traveled"`
		Receipts     *float64 `json:"total_receipts_amount"`
	} `json:"input"`
	Expected *float64 `json:"expected_output"`
}

// checkJSONLayout reports ErrMissingColumns when the first case lacks one of
// the required keys. Keys that are present with a null value only make that
// case invalid.
func checkJSONLayout(msg json.RawMessage) error {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(msg, &top); err != nil {
		return fmt.Errorf("%w: first case is not an object", ErrMissingColumns)
	}
	var input map[string]json.RawMessage
	if rawInput, ok := top["input"]; ok {
		// A null or non-object input leaves the map empty.
		_ = json.Unmarshal(rawInput, &input)
	}

	var missing []string
	for _, name := range RequiredColumns {
		var ok bool
		if name == ColumnExpected {
			_, ok = top[name]
		} else {
			_, ok = input[name]
		}
		if !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: first case lacks %s", ErrMissingColumns, strings.Join(missing, ", "))
	}
	return nil
}

// LoadJSON parses a JSON array of cases.
func LoadJSON(r io.Reader) (*Dataset, error) {
	var raw []json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode JSON dataset: %w", err)
	}

	if len(raw) > 0 {
		if err := checkJSONLayout(raw[0]); err != nil {
			return nil, err
		}
	}

	ds := &Dataset{}
	for i, msg := range raw {
		var jc jsonCase
		if err := json.Unmarshal(msg, &jc); err != nil {
			log.Debug().Err(err).Int("index", i).Msg("Skipping undecodable case")
			ds.Skipped++
			continue
		}

		if jc.Input == nil || jc.Input.DurationDays == nil || jc.Input.Miles == nil ||
			jc.Input.Receipts == nil || jc.Expected == nil {
			log.Debug().Int("index", i).Msg("Skipping incomplete case")
			ds.Skipped++
			continue
		}

		trip := features.TripRecord{
			DurationDays: *jc.Input.DurationDays,
			Miles:        *jc.Input.Miles,
			Receipts:     *jc.Input.Receipts,
		}
		if err := trip.Validate(); err != nil {
			log.Debug().Err(err).Int("index", i).Msg("Skipping invalid case")
			ds.Skipped++
			continue
		}
		ds.Cases = append(ds.Cases, Case{Trip: trip, Expected: *jc.Expected})
	}

	if len(ds.Cases) == 0 {
		return nil, ErrEmptyDataset
	}
	return ds, nil
}
