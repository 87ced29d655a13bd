// Package client talks to a running model server.
package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"reimburse-engine/internal/features"
	"reimburse-engine/internal/ml"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

type Client struct {
	base string
	rest *resty.Client
}

func New(base string, timeout time.Duration) *Client {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(5 * time.Second)
	}
	r.SetHeader("Content-Type", "application/json")
	return &Client{base: strings.TrimRight(base, "/"), rest: r}
}

// Predict satisfies the evaluation harness predictor.
func (c *Client) Predict(trip features.TripRecord) (float64, error) {
	resp, err := c.PredictContext(context.Background(), trip)
	if err != nil {
		return 0, err
	}
	return resp.Reimbursement, nil
}

// PredictContext asks the server for one reimbursement. Validation failures
// come back as *features.ValidationError and a server without a bundle as
// ml.ErrArtifactUnavailable.
func (c *Client) PredictContext(ctx context.Context, trip features.TripRecord) (*ml.PredictionResponse, error) {
	req := ml.PredictionRequest{
		TripDurationDays:    trip.DurationDays,
		MilesTraveled:       trip.Miles,
		TotalReceiptsAmount: trip.Receipts,
		RequestID:           uuid.NewString(),
	}

	result := &ml.PredictionResponse{}
	apiErr := &ml.ErrorResponse{}
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(result).
		SetError(apiErr).
		Post(c.base + "/predict")
	if err != nil {
		return nil, fmt.Errorf("predict request: %w", err)
	}
	if resp.IsError() {
		return nil, statusError(resp.StatusCode(), apiErr)
	}
	return result, nil
}

// Health returns nil when the server reports a loaded bundle.
func (c *Client) Health(ctx context.Context) error {
	apiErr := &ml.ErrorResponse{}
	resp, err := c.rest.R().
		SetContext(ctx).
		SetError(apiErr).
		Get(c.base + "/health")
	if err != nil {
		return fmt.Errorf("health request: %w", err)
	}
	if resp.IsError() {
		return statusError(resp.StatusCode(), apiErr)
	}
	return nil
}

func statusError(status int, apiErr *ml.ErrorResponse) error {
	switch status {
	case http.StatusBadRequest:
		return &features.ValidationError{Field: apiErr.Field, Reason: apiErr.Error}
	case http.StatusServiceUnavailable:
		return fmt.Errorf("remote server: %w", ml.ErrArtifactUnavailable)
	default:
		if apiErr.Error != "" {
			return fmt.Errorf("remote server: %d %s", status, apiErr.Error)
		}
		return fmt.Errorf("remote server: status %d", status)
	}
}
