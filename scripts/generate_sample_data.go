//go:build ignore

// Command generate_sample_data writes a synthetic labeled dataset in the
// public cases format for trying out training and evaluation locally.
//
//	go run scripts/generate_sample_data.go -n 1000 -out sample_cases.csv
package main

import (
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type sampleCase struct {
	Input struct {
		TripDurationDays    float64 `json:"trip_duration_days"`
		MilesTraveled       float64 `json:"miles_traveled"`
		TotalReceiptsAmount float64 `json:"total_receipts_amount"`
	} `json:"input"`
	ExpectedOutput float64 `json:"expected_output"`
}

func main() {
	var (
		n     = flag.Int("n", 1000, "Number of cases")
		out   = flag.String("out", "sample_cases.csv", "Output file (.csv or .json)")
		seed  = flag.Int64("seed", 42, "Random seed")
		noise = flag.Float64("noise", 15, "Standard deviation of the noise added to each reimbursement")
	)
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	rng := rand.New(rand.NewSource(*seed))
	cases := make([]sampleCase, *n)
	for i := range cases {
		days := float64(1 + rng.Intn(14))
		miles := math.Round(rng.Float64() * 150 * days)
		receipts := math.Round(rng.ExpFloat64()*120*days*100) / 100

		var c sampleCase
		c.Input.TripDurationDays = days
		c.Input.MilesTraveled = miles
		c.Input.TotalReceiptsAmount = receipts
		c.ExpectedOutput = math.Round((reimbursement(days, miles, receipts)+rng.NormFloat64()*(*noise))*100) / 100
		cases[i] = c
	}

	var err error
	if strings.EqualFold(filepath.Ext(*out), ".json") {
		err = writeJSON(*out, cases)
	} else {
		err = writeCSV(*out, cases)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to write dataset")
	}
	log.Info().Int("cases", *n).Str("file", *out).Msg("Sample dataset generated")
}

// reimbursement is a made-up policy: per diem with a five day bonus, tiered
// mileage, and receipts reimbursed at a diminishing rate.
func reimbursement(days, miles, receipts float64) float64 {
	total := 100 * days
	if days == 5 {
		total += 50
	}

	if miles <= 100 {
		total += 0.58 * miles
	} else {
		total += 58 + 0.4*(miles-100)
	}

	perDay := receipts / days
	switch {
	case perDay < 20:
		total += receipts * 0.5
	case perDay < 120:
		total += receipts * 0.8
	default:
		total += 120*days*0.8 + (receipts-120*days)*0.25
	}
	return total
}

func writeCSV(path string, cases []sampleCase) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"trip_duration_days", "miles_traveled", "total_receipts_amount", "expected_output"}); err != nil {
		return err
	}
	for _, c := range cases {
		if err := w.Write([]string{
			fmt.Sprintf("%.0f", c.Input.TripDurationDays),
			fmt.Sprintf("%.0f", c.Input.MilesTraveled),
			fmt.Sprintf("%.2f", c.Input.TotalReceiptsAmount),
			fmt.Sprintf("%.2f", c.ExpectedOutput),
		}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func writeJSON(path string, cases []sampleCase) error {
	data, err := json.MarshalIndent(cases, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
