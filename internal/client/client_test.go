package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"reimburse-engine/internal/features"
	"reimburse-engine/internal/ml"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredictSendsTrip(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/predict", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ml.PredictionResponse{Reimbursement: 847.25, RunID: "run-9"})
	}))
	defer srv.Close()

	c := New(srv.URL+"/", time.Second)
	resp, err := c.PredictContext(context.Background(), features.TripRecord{DurationDays: 5, Miles: 250, Receipts: 150.75})
	require.NoError(t, err)
	assert.Equal(t, 847.25, resp.Reimbursement)
	assert.Equal(t, "run-9", resp.RunID)

	assert.EqualValues(t, 5, got["trip_duration_days"])
	assert.EqualValues(t, 250, got["miles_traveled"])
	assert.EqualValues(t, 150.75, got["total_receipts_amount"])
	assert.NotEmpty(t, got["request_id"])

	v, err := c.Predict(features.TripRecord{DurationDays: 1, Miles: 1, Receipts: 1})
	require.NoError(t, err)
	assert.Equal(t, 847.25, v)
}

func TestPredictMapsValidationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(ml.ErrorResponse{Error: "miles traveled cannot be negative", Field: features.FieldMiles})
	}))
	defer srv.Close()

	_, err := New(srv.URL, time.Second).Predict(features.TripRecord{DurationDays: 1, Miles: -1})
	require.Error(t, err)
	assert.ErrorIs(t, err, features.ErrInvalidInput)

	var verr *features.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, features.FieldMiles, verr.Field)
	assert.Equal(t, "miles traveled cannot be negative", verr.Error())
}

func TestPredictOtherStatuses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(ml.ErrorResponse{Error: "rate limit exceeded"})
	}))
	defer srv.Close()

	_, err := New(srv.URL, time.Second).Predict(features.TripRecord{DurationDays: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "rate limit exceeded")
}

func TestAgainstServerWithoutBundle(t *testing.T) {
	svc, err := ml.NewService(ml.ServiceConfig{})
	require.NoError(t, err)
	srv := httptest.NewServer(ml.NewModelServer(svc, ml.ServerConfig{}).Handler())
	defer srv.Close()

	c := New(srv.URL, time.Second)
	assert.ErrorIs(t, c.Health(context.Background()), ml.ErrArtifactUnavailable)

	_, err = c.Predict(features.TripRecord{DurationDays: 3, Miles: 100, Receipts: 20})
	assert.ErrorIs(t, err, ml.ErrArtifactUnavailable)

	_, err = c.Predict(features.TripRecord{DurationDays: -3, Miles: 100, Receipts: 20})
	assert.ErrorIs(t, err, features.ErrInvalidInput)
}

func TestUnreachableServer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url, 200*time.Millisecond).Predict(features.TripRecord{DurationDays: 1})
	assert.Error(t, err)
}
