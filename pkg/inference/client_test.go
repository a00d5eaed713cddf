package inference

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewScoringClient(t *testing.T) {
	c := NewScoringClient("http://localhost:8001", "audit_cnn", 64, 8, 0)
	assert.NotNil(t, c)
	assert.Equal(t, 64, c.InputSize())
	assert.Equal(t, 8, c.OutputSize())
	assert.Equal(t, 10*time.Second, c.httpClient.Timeout)
}

func TestScoringClient_Infer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/audit_cnn/predict", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req predictRequest
		err := json.NewDecoder(r.Body).Decode(&req)
		require.NoError(t, err)
		assert.Len(t, req.Features, 64)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(predictResponse{
			Probabilities: []float64{0.1, 0.2, 0.7},
		})
	}))
	defer server.Close()

	c := NewScoringClient(server.URL, "audit_cnn", 64, 3, 0)
	probs, err := c.Infer(context.Background(), make([]float64, 64))

	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2, 0.7}, probs)
}

func TestScoringClient_InferNon200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := NewScoringClient(server.URL, "audit_cnn", 4, 3, 0)
	_, err := c.Infer(context.Background(), []float64{1, 2, 3, 4})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestScoringClient_InferEmptyProbabilities(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"probabilities": []}`))
	}))
	defer server.Close()

	c := NewScoringClient(server.URL, "audit_cnn", 4, 3, 0)
	_, err := c.Infer(context.Background(), []float64{1, 2, 3, 4})
	require.Error(t, err)
}

func TestScoringClient_AdapterIntegration(t *testing.T) {
	// Backend failures surface through the adapter as ErrInference.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	a := NewAdapter(NewScoringClient(server.URL, "audit_cnn", 4, 3, 0), 0)
	_, err := a.Infer(context.Background(), []float64{1})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInference)
}

func TestScoringClient_Health(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(healthResponse{
			Status:       "healthy",
			LoadedModels: []string{"other", "audit_cnn"},
		})
	}))
	defer server.Close()

	c := NewScoringClient(server.URL, "audit_cnn", 64, 8, 0)
	assert.NoError(t, c.Health(context.Background()))

	missing := NewScoringClient(server.URL, "absent_model", 64, 8, 0)
	assert.Error(t, missing.Health(context.Background()))
}
