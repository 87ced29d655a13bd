package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const evaluationsBucket = "evaluations"

// EvaluationRecord is one harness run of a stored bundle against a labeled
// dataset.
type EvaluationRecord struct {
	RunID          string    `json:"run_id"`
	Timestamp      time.Time `json:"timestamp"`
	Dataset        string    `json:"dataset"`
	Cases          int       `json:"cases"`
	Failures       int       `json:"failures"`
	R2             float64   `json:"r2"`
	MAE            float64   `json:"mae"`
	RMSE           float64   `json:"rmse"`
	ExactMatchRate float64   `json:"exact_match_rate"`
	CloseMatchRate float64   `json:"close_match_rate"`
	AvgLatencyMs   float64   `json:"avg_latency_ms"`
}

func evaluationKey(runID string, ts time.Time) []byte {
	return []byte(fmt.Sprintf("%s_%020d", runID, ts.UnixNano()))
}

// StoreEvaluation appends an evaluation record for its run.
func (s *Store) StoreEvaluation(record EvaluationRecord) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(evaluationsBucket))
		if err != nil {
			return fmt.Errorf("create evaluations bucket: %w", err)
		}

		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal evaluation record: %w", err)
		}

		return b.Put(evaluationKey(record.RunID, record.Timestamp), data)
	})
}

// GetEvaluations returns the evaluations recorded for runID, oldest first.
func (s *Store) GetEvaluations(runID string) ([]EvaluationRecord, error) {
	var records []EvaluationRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(evaluationsBucket))
		if b == nil {
			return nil
		}

		c := b.Cursor()
		prefix := []byte(runID + "_")

		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var record EvaluationRecord
			if err := json.Unmarshal(v, &record); err != nil {
				continue // Skip malformed records
			}
			records = append(records, record)
		}
		return nil
	})

	return records, err
}
