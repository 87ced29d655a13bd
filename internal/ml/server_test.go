package ml

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"reimburse-engine/internal/features"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, cfg ServerConfig, b *Bundle) *httptest.Server {
	t.Helper()
	svc, err := NewService(ServiceConfig{CacheSize: 4})
	require.NoError(t, err)
	if b != nil {
		require.NoError(t, svc.Swap(b))
	}
	srv := httptest.NewServer(NewModelServer(svc, cfg).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func postPredict(t *testing.T, url, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.Post(url+"/predict", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestServerPredict(t *testing.T) {
	srv := newTestServer(t, ServerConfig{}, constBundle("run-7", map[string]float64{"a": 812.349}, Weights{"a": 1}))

	resp, out := postPredict(t, srv.URL,
		`{"trip_duration_days": 5, "miles_traveled": 250, "total_receipts_amount": 150.75, "request_id": "abc"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 812.35, out["reimbursement"])
	assert.Equal(t, "run-7", out["run_id"])
	assert.Equal(t, "abc", out["request_id"])

	resp, out = postPredict(t, srv.URL,
		`{"trip_duration_days": "3", "miles_traveled": "93", "total_receipts_amount": "1.42"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "numeric strings are accepted")
	assert.Equal(t, 812.35, out["reimbursement"])
}

func TestServerPredictValidation(t *testing.T) {
	srv := newTestServer(t, ServerConfig{}, constBundle("r", map[string]float64{"a": 1}, Weights{"a": 1}))

	resp, out := postPredict(t, srv.URL,
		`{"trip_duration_days": 5, "miles_traveled": -1, "total_receipts_amount": 10}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "miles traveled cannot be negative", out["error"])
	assert.Equal(t, features.FieldMiles, out["field"])

	resp, out = postPredict(t, srv.URL,
		`{"trip_duration_days": "five", "miles_traveled": 1, "total_receipts_amount": 10}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, features.FieldDuration, out["field"])

	resp, _ = postPredict(t, srv.URL, `{"miles_traveled": 1, "total_receipts_amount": 10}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "missing fields are type errors")

	resp, _ = postPredict(t, srv.URL, `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServerWithoutBundle(t *testing.T) {
	srv := newTestServer(t, ServerConfig{}, nil)

	resp, _ := postPredict(t, srv.URL, `{"trip_duration_days": 1, "miles_traveled": 1, "total_receipts_amount": 1}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	health, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, health.StatusCode)

	info, err := http.Get(srv.URL + "/model/info")
	require.NoError(t, err)
	info.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, info.StatusCode)
}

func TestServerHealthAndInfo(t *testing.T) {
	srv := newTestServer(t, ServerConfig{}, constBundle("run-9", map[string]float64{"a": 1, "b": 2}, Weights{"a": 0.25, "b": 0.75}))

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	var health map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, true, health["healthy"])
	assert.Equal(t, "run-9", health["run_id"])

	resp, err = http.Get(srv.URL + "/model/info")
	require.NoError(t, err)
	var info struct {
		RunID    string        `json:"run_id"`
		Features []string      `json:"features"`
		Weights  []WeightEntry `json:"weights"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	resp.Body.Close()
	assert.Equal(t, "run-9", info.RunID)
	assert.Equal(t, []string(features.CurrentSchema()), info.Features)
	require.Len(t, info.Weights, 2)
	assert.Equal(t, "b", info.Weights[0].Name)
}

func TestServerMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, ServerConfig{}, nil)
	resp, err := http.Get(srv.URL + "/predict")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServerRateLimit(t *testing.T) {
	srv := newTestServer(t, ServerConfig{RateLimit: 0.001, Burst: 1}, constBundle("r", map[string]float64{"a": 1}, Weights{"a": 1}))

	body := `{"trip_duration_days": 1, "miles_traveled": 1, "total_receipts_amount": 1}`
	first, _ := postPredict(t, srv.URL, body)
	assert.Equal(t, http.StatusOK, first.StatusCode)

	second, out := postPredict(t, srv.URL, body)
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
	assert.Equal(t, "rate limit exceeded", out["error"])
}

func TestServerMetricsHandler(t *testing.T) {
	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("# metrics\n"))
	})
	srv := newTestServer(t, ServerConfig{MetricsHandler: metricsHandler}, nil)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
