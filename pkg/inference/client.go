package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ScoringClient is a Model backed by a remote scoring service speaking a
// small JSON protocol: POST {base}/models/{name}/predict with a feature
// vector, receive class probabilities.
type ScoringClient struct {
	baseURL    string
	modelName  string
	inputSize  int
	outputSize int
	httpClient *http.Client
}

// NewScoringClient creates a client for one named model. inputSize and
// outputSize describe the deployed model's shape; the adapter uses them to
// length-normalize vectors and reconcile probability vectors.
func NewScoringClient(baseURL, modelName string, inputSize, outputSize int, timeout time.Duration) *ScoringClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ScoringClient{
		baseURL:    baseURL,
		modelName:  modelName,
		inputSize:  inputSize,
		outputSize: outputSize,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *ScoringClient) InputSize() int  { return c.inputSize }
func (c *ScoringClient) OutputSize() int { return c.outputSize }

type predictRequest struct {
	Features []float64 `json:"features"`
}

type predictResponse struct {
	Probabilities []float64 `json:"probabilities"`
}

type healthResponse struct {
	Status       string   `json:"status"`
	LoadedModels []string `json:"loaded_models"`
}

// Infer scores one feature vector.
func (c *ScoringClient) Infer(ctx context.Context, vector []float64) ([]float64, error) {
	body, err := json.Marshal(predictRequest{Features: vector})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s/predict", c.baseURL, c.modelName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("predict request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("predict failed with status %d: %s", resp.StatusCode, string(body))
	}

	var result predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode predict response: %w", err)
	}
	if len(result.Probabilities) == 0 {
		return nil, fmt.Errorf("predict response carried no probabilities")
	}
	return result.Probabilities, nil
}

// Health checks whether the scoring service is up and the model is loaded.
func (c *ScoringClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("health check failed with status %d: %s", resp.StatusCode, string(body))
	}

	var result healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode health response: %w", err)
	}
	for _, m := range result.LoadedModels {
		if m == c.modelName {
			return nil
		}
	}
	return fmt.Errorf("model %q not loaded (status %s)", c.modelName, result.Status)
}
