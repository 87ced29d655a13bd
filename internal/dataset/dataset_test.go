package dataset

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `input/trip_duration_days,input/miles_traveled,input/total_receipts_amount,expected_output
5,250,450.50,812.30
3,93,1.42,364.51
-1,10,20,100.00
two,10,20,100.00
1,55,3.6,126.06
4,100,
`

func TestLoadCSV(t *testing.T) {
	ds, err := LoadCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)

	assert.Equal(t, 3, ds.Len())
	assert.Equal(t, 3, ds.Skipped, "negative, non-numeric and short rows are skipped")
	assert.Equal(t, 450.50, ds.Cases[0].Trip.Receipts)
	assert.Equal(t, 812.30, ds.Cases[0].Expected)
}

func TestLoadCSV_UnprefixedHeader(t *testing.T) {
	data := "trip_duration_days,miles_traveled,total_receipts_amount,expected_output\n2,20,30,40\n"
	ds, err := LoadCSV(strings.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 1, ds.Len())
}

func TestLoadCSV_MissingColumns(t *testing.T) {
	data := "input/trip_duration_days,input/miles_traveled,expected_output\n1,2,3\n"
	_, err := LoadCSV(strings.NewReader(data))
	require.ErrorIs(t, err, ErrMissingColumns)
	assert.Contains(t, err.Error(), "total_receipts_amount")
}

func TestLoadCSV_Empty(t *testing.T) {
	_, err := LoadCSV(strings.NewReader(""))
	assert.ErrorIs(t, err, ErrEmptyDataset)

	_, err = LoadCSV(strings.NewReader("trip_duration_days,miles_traveled,total_receipts_amount,expected_output\n"))
	assert.ErrorIs(t, err, ErrEmptyDataset)
}

func TestLoadJSON(t *testing.T) {
	data := `[
	  {"input": {"trip_duration_days": 3, "miles_traveled": 93, "total_receipts_amount": 1.42}, "expected_output": 364.51},
	  {"input": {"trip_duration_days": -2, "miles_traveled": 93, "total_receipts_amount": 1.42}, "expected_output": 10},
	  {"input": {"trip_duration_days": 1, "miles_traveled": 55}, "expected_output": 126.06}
	]`
	ds, err := LoadJSON(strings.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 1, ds.Len())
	assert.Equal(t, 2, ds.Skipped)
}

func TestLoadJSON_WrongLayout(t *testing.T) {
	_, err := LoadJSON(strings.NewReader(`[{"days": 3}]`))
	assert.ErrorIs(t, err, ErrMissingColumns)
}

func TestLoadJSON_NullValueInFirstCase(t *testing.T) {
	data := `[
	  {"input": {"trip_duration_days": 2, "miles_traveled": 10, "total_receipts_amount": 5}, "expected_output": null},
	  {"input": {"trip_duration_days": 3, "miles_traveled": 93, "total_receipts_amount": 1.42}, "expected_output": 364.51}
	]`
	ds, err := LoadJSON(strings.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 1, ds.Len())
	assert.Equal(t, 1, ds.Skipped)
}

func TestLoadJSON_FirstCaseMissingKey(t *testing.T) {
	data := `[{"input": {"trip_duration_days": 2, "miles_traveled": 10}, "expected_output": 20}]`
	_, err := LoadJSON(strings.NewReader(data))
	assert.ErrorIs(t, err, ErrMissingColumns)
	assert.Contains(t, err.Error(), "total_receipts_amount")
}

func TestLoadCSV_ReadFailure(t *testing.T) {
	readErr := errors.New("disk went away")
	r := io.MultiReader(
		strings.NewReader("trip_duration_days,miles_traveled,total_receipts_amount,expected_output\n5,250,450.50,812.30\n"),
		iotest.ErrReader(readErr),
	)
	_, err := LoadCSV(r)
	assert.ErrorIs(t, err, readErr)
}

func TestLoad_ByExtension(t *testing.T) {
	dir := t.TempDir()

	csvPath := filepath.Join(dir, "cases.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(sampleCSV), 0o644))
	ds, err := Load(csvPath)
	require.NoError(t, err)
	assert.Equal(t, csvPath, ds.Source)

	jsonPath := filepath.Join(dir, "cases.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`[{"input":{"trip_duration_days":1,"miles_traveled":2,"total_receipts_amount":3},"expected_output":4}]`), 0o644))
	ds, err = Load(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, 1, ds.Len())

	_, err = Load(filepath.Join(dir, "missing.csv"))
	assert.Error(t, err)
}

func makeCases(n int) []Case {
	cases := make([]Case, n)
	for i := range cases {
		cases[i].Trip.DurationDays = float64(i)
		cases[i].Expected = float64(i * 10)
	}
	return cases
}

func TestSplit(t *testing.T) {
	cases := makeCases(100)

	train, test, err := Split(cases, 0.25, 42)
	require.NoError(t, err)
	assert.Len(t, test, 25)
	assert.Len(t, train, 75)

	seen := make(map[float64]bool)
	for _, c := range append(append([]Case{}, train...), test...) {
		seen[c.Trip.DurationDays] = true
	}
	assert.Len(t, seen, 100, "every case lands in exactly one side")

	train2, test2, err := Split(cases, 0.25, 42)
	require.NoError(t, err)
	assert.Equal(t, train, train2)
	assert.Equal(t, test, test2)

	_, test3, err := Split(cases, 0.25, 7)
	require.NoError(t, err)
	assert.NotEqual(t, test, test3)

	assert.Equal(t, float64(0), cases[0].Trip.DurationDays, "input is not reordered")
}

func TestSplit_RoundsUpHeldOut(t *testing.T) {
	train, test, err := Split(makeCases(10), 0.25, 1)
	require.NoError(t, err)
	assert.Len(t, test, 3)
	assert.Len(t, train, 7)
}

func TestSplit_Invalid(t *testing.T) {
	_, _, err := Split(makeCases(10), 0, 1)
	assert.Error(t, err)
	_, _, err = Split(makeCases(10), 1, 1)
	assert.Error(t, err)
	_, _, err = Split(makeCases(1), 0.25, 1)
	assert.Error(t, err)
}

func TestTripsAndLabels(t *testing.T) {
	cases := makeCases(3)
	assert.Equal(t, []float64{0, 10, 20}, Labels(cases))
	assert.Len(t, Trips(cases), 3)
}
