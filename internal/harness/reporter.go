package harness

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Report file names inside the output directory.
const (
	SummaryFile     = "evaluation_summary.txt"
	PredictionsFile = "predictions.csv"
	JSONFile        = "evaluation.json"
)

const listSize = 5

// Reporter generates evaluation reports
type Reporter struct {
	results    *Results
	outputPath string
}

// NewReporter creates a new reporter
func NewReporter(results *Results, outputPath string) *Reporter {
	return &Reporter{
		results:    results,
		outputPath: outputPath,
	}
}

// GenerateReport generates all report formats
func (r *Reporter) GenerateReport() error {
	if err := os.MkdirAll(r.outputPath, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := r.generateSummary(); err != nil {
		return err
	}

	if err := r.generatePredictionLog(); err != nil {
		return err
	}

	return r.generateJSONReport()
}

// generateSummary generates a human-readable summary
func (r *Reporter) generateSummary() error {
	summaryPath := filepath.Join(r.outputPath, SummaryFile)
	file, err := os.Create(summaryPath)
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer file.Close()

	res := r.results
	m := res.Metrics

	fmt.Fprintf(file, "EVALUATION SUMMARY\n")
	fmt.Fprintf(file, "==================\n\n")
	if res.RunID != "" {
		fmt.Fprintf(file, "Run: %s\n", res.RunID)
	}
	if res.Dataset != "" {
		fmt.Fprintf(file, "Dataset: %s\n", res.Dataset)
	}
	fmt.Fprintf(file, "Cases: %d (%d scored, %d failed)\n\n", len(res.Predictions), m.N, res.Failures)

	fmt.Fprintf(file, "ACCURACY METRICS\n")
	fmt.Fprintf(file, "----------------\n")
	fmt.Fprintf(file, "Exact matches (+/- $0.01): %.2f%%\n", m.ExactMatchRate*100)
	fmt.Fprintf(file, "Close matches (+/- $1.00): %.2f%%\n", m.CloseMatchRate*100)
	fmt.Fprintf(file, "MAE: $%.2f\n", m.MAE)
	fmt.Fprintf(file, "RMSE: $%.2f\n", m.RMSE)
	fmt.Fprintf(file, "R2: %.4f\n\n", m.R2)

	fmt.Fprintf(file, "ERROR DISTRIBUTION\n")
	fmt.Fprintf(file, "------------------\n")
	for _, b := range res.Histogram() {
		share := 0.0
		if m.N > 0 {
			share = float64(b.Count) / float64(m.N)
		}
		fmt.Fprintf(file, "%-18s %6d  %s\n", b.Label, b.Count, strings.Repeat("#", int(share*50+0.5)))
	}

	fmt.Fprintf(file, "\nWORST PREDICTIONS\n")
	fmt.Fprintf(file, "-----------------\n")
	for _, p := range res.Worst(listSize) {
		writePrediction(file, p)
	}

	fmt.Fprintf(file, "\nBEST PREDICTIONS\n")
	fmt.Fprintf(file, "----------------\n")
	for _, p := range res.Best(listSize) {
		writePrediction(file, p)
	}

	fmt.Fprintf(file, "\nPERFORMANCE\n")
	fmt.Fprintf(file, "-----------\n")
	fmt.Fprintf(file, "Total time: %s\n", res.EndTime.Sub(res.StartTime))
	fmt.Fprintf(file, "Average latency: %s\n", res.AvgLatency)
	fmt.Fprintf(file, "Max latency: %s\n", res.MaxLatency)
	fmt.Fprintf(file, "High error predictions (> $%.0f): %d\n", HighErrorThreshold, res.HighErrors)

	log.Info().Str("file", summaryPath).Msg("Summary report generated")
	return nil
}

func writePrediction(file *os.File, p Prediction) {
	fmt.Fprintf(file, "#%d: %.0f days, %.0f miles, $%.2f receipts -> expected $%.2f, got $%.2f (error $%.2f)\n",
		p.Index, p.Trip.DurationDays, p.Trip.Miles, p.Trip.Receipts, p.Expected, p.Predicted, p.AbsError)
}

// generatePredictionLog writes one CSV row per case
func (r *Reporter) generatePredictionLog() error {
	csvPath := filepath.Join(r.outputPath, PredictionsFile)
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create prediction log: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{
		"case", "trip_duration_days", "miles_traveled", "total_receipts_amount",
		"expected", "predicted", "abs_error", "latency_us", "error",
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, p := range r.results.Predictions {
		predicted, absErr := "", ""
		if !p.Failed() {
			predicted = fmt.Sprintf("%.2f", p.Predicted)
			absErr = fmt.Sprintf("%.2f", p.AbsError)
		}
		record := []string{
			strconv.Itoa(p.Index),
			strconv.FormatFloat(p.Trip.DurationDays, 'f', -1, 64),
			strconv.FormatFloat(p.Trip.Miles, 'f', -1, 64),
			strconv.FormatFloat(p.Trip.Receipts, 'f', -1, 64),
			fmt.Sprintf("%.2f", p.Expected),
			predicted,
			absErr,
			strconv.FormatInt(p.Latency.Microseconds(), 10),
			p.Err,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to write prediction log: %w", err)
	}

	log.Info().Str("file", csvPath).Msg("Prediction log generated")
	return nil
}

// generateJSONReport generates a JSON report with all data
func (r *Reporter) generateJSONReport() error {
	jsonPath := filepath.Join(r.outputPath, JSONFile)
	res := r.results

	histogram := make(map[string]int)
	for _, b := range res.Histogram() {
		histogram[b.Label] = b.Count
	}

	report := map[string]interface{}{
		"summary": map[string]interface{}{
			"run_id":           res.RunID,
			"dataset":          res.Dataset,
			"cases":            len(res.Predictions),
			"scored":           res.Metrics.N,
			"failures":         res.Failures,
			"high_errors":      res.HighErrors,
			"r2":               res.Metrics.R2,
			"mae":              res.Metrics.MAE,
			"rmse":             res.Metrics.RMSE,
			"exact_match_rate": res.Metrics.ExactMatchRate,
			"close_match_rate": res.Metrics.CloseMatchRate,
			"avg_latency_ms":   float64(res.AvgLatency) / float64(time.Millisecond),
			"max_latency_ms":   float64(res.MaxLatency) / float64(time.Millisecond),
			"start_time":       res.StartTime,
			"end_time":         res.EndTime,
		},
		"error_histogram": histogram,
		"worst":           res.Worst(listSize),
		"best":            res.Best(listSize),
		"generated_at":    time.Now(),
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if err := os.WriteFile(jsonPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write JSON report: %w", err)
	}

	log.Info().Str("file", jsonPath).Msg("JSON report generated")
	return nil
}
