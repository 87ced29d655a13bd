package ml

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"reimburse-engine/internal/features"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// ServerConfig configures the HTTP model server.
type ServerConfig struct {
	Port           int
	RequestTimeout time.Duration
	// RateLimit is the sustained number of predictions per second; 0
	// disables limiting.
	RateLimit float64
	Burst     int
	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler
}

// ModelServer provides HTTP API for model predictions
type ModelServer struct {
	svc     *Service
	server  *http.Server
	limiter *rate.Limiter
	handler http.Handler
}

// PredictionRequest is the body of POST /predict. Fields are kept raw so a
// non-numeric value is reported as an input type error rather than a
// decoding failure.
type PredictionRequest struct {
	TripDurationDays    any    `json:"trip_duration_days"`
	MilesTraveled       any    `json:"miles_traveled"`
	TotalReceiptsAmount any    `json:"total_receipts_amount"`
	RequestID           string `json:"request_id,omitempty"`
}

// PredictionResponse represents the prediction result
type PredictionResponse struct {
	Reimbursement float64   `json:"reimbursement"`
	RunID         string    `json:"run_id"`
	RequestID     string    `json:"request_id,omitempty"`
	Latency       float64   `json:"latency_ms"`
	Timestamp     time.Time `json:"timestamp"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// NewModelServer creates a new HTTP server for model serving
func NewModelServer(svc *Service, cfg ServerConfig) *ModelServer {
	ms := &ModelServer{svc: svc}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = int(cfg.RateLimit) + 1
		}
		ms.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	mux := http.NewServeMux()
	mux.Handle("/predict", ms.limit(http.HandlerFunc(ms.handlePredict)))
	mux.HandleFunc("/health", ms.handleHealth)
	mux.HandleFunc("/model/info", ms.handleModelInfo)
	if cfg.MetricsHandler != nil {
		mux.Handle("/metrics", cfg.MetricsHandler)
	}

	var handler http.Handler = mux
	if cfg.RequestTimeout > 0 {
		handler = http.TimeoutHandler(mux, cfg.RequestTimeout, `{"error":"request timed out"}`)
	}
	ms.handler = handler

	ms.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return ms
}

// Handler exposes the routing for embedding and tests.
func (ms *ModelServer) Handler() http.Handler {
	return ms.handler
}

// Start begins serving HTTP requests
func (ms *ModelServer) Start() error {
	log.Info().Str("addr", ms.server.Addr).Msg("starting model server")
	return ms.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (ms *ModelServer) Shutdown(ctx context.Context) error {
	return ms.server.Shutdown(ctx)
}

func (ms *ModelServer) limit(next http.Handler) http.Handler {
	if ms.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !ms.limiter.Allow() {
			writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (ms *ModelServer) handlePredict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method not allowed"})
		return
	}

	start := time.Now()

	var req PredictionRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("invalid request: %v", err)})
		return
	}

	value, err := ms.svc.PredictRaw(rawField(req.TripDurationDays), rawField(req.MilesTraveled), rawField(req.TotalReceiptsAmount))
	if err != nil {
		var verr *features.ValidationError
		switch {
		case errors.As(err, &verr):
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: verr.Reason, Field: verr.Field})
		case errors.Is(err, ErrArtifactUnavailable):
			writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: err.Error()})
		default:
			log.Error().Err(err).Msg("prediction failed")
			writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: fmt.Sprintf("prediction failed: %v", err)})
		}
		return
	}

	var runID string
	if b := ms.svc.Current(); b != nil {
		runID = b.RunID
	}
	writeJSON(w, http.StatusOK, PredictionResponse{
		Reimbursement: value,
		RunID:         runID,
		RequestID:     req.RequestID,
		Latency:       float64(time.Since(start).Microseconds()) / 1000,
		Timestamp:     time.Now(),
	})
}

func (ms *ModelServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	b := ms.svc.Current()
	if b == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"healthy": false,
			"error":   ErrArtifactUnavailable.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"healthy": true,
		"run_id":  b.RunID,
		"models":  len(b.Models),
	})
}

func (ms *ModelServer) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	b := ms.svc.Current()
	if b == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: ErrArtifactUnavailable.Error()})
		return
	}

	info := map[string]interface{}{
		"run_id":       b.RunID,
		"created_at":   b.CreatedAt,
		"features":     b.Schema,
		"models":       b.ModelNames(),
		"weights":      b.Weights.Sorted(),
		"reports":      b.Reports,
		"train_size":   b.TrainSize,
		"test_size":    b.TestSize,
		"skipped_rows": b.SkippedRows,
	}
	writeJSON(w, http.StatusOK, info)
}

func rawField(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case json.Number:
		return x.String()
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to write response")
	}
}
