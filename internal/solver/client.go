// Package solver is the client for the remote hybrid CQM solver service.
// The solver itself is opaque: the client submits a serialized model, the
// service runs its hybrid algorithm for the requested time limit and
// returns a sample set ordered best-first.
package solver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"vmbalance/internal/cqm"
)

// DefaultLabel tags submitted problems in the solver service's dashboard.
const DefaultLabel = "VM Balancing Demo"

// Sampler abstracts the solve call so the run manager and tests can swap
// in a fake without a live service.
type Sampler interface {
	SampleCQM(ctx context.Context, model *cqm.Model, timeLimit time.Duration, label string) (*SampleSet, error)
}

// Sample is one candidate solution: variable values keyed by name.
type Sample struct {
	Energy     float64            `json:"energy"`
	IsFeasible bool               `json:"is_feasible"`
	Values     map[string]float64 `json:"values"`
}

// Selected returns the names of variables set to 1, sorted for stable
// output.
func (s *Sample) Selected() []string {
	selected := make([]string, 0, len(s.Values))
	for name, v := range s.Values {
		if v == 1 {
			selected = append(selected, name)
		}
	}
	sort.Strings(selected)
	return selected
}

// SampleSet is the solver's response, samples ordered best (lowest energy)
// first.
type SampleSet struct {
	Samples []Sample `json:"samples"`
}

// First returns the best sample.
func (ss *SampleSet) First() (*Sample, error) {
	if len(ss.Samples) == 0 {
		return nil, fmt.Errorf("solver returned no samples")
	}
	return &ss.Samples[0], nil
}

// Client submits CQMs to the solver service over HTTP.
type Client struct {
	apiKey        string
	baseURL       string
	maxRetries    int
	timeoutMargin time.Duration
	backoffBase   time.Duration
	httpClient    *http.Client
}

// Config holds configuration for the solver client.
type Config struct {
	APIKey  string
	BaseURL string
	// MaxRetries bounds retry attempts after 429 or 5xx responses.
	MaxRetries int
	// TimeoutMargin is added to the solve time limit to form the request
	// deadline, covering queueing and transfer overhead.
	TimeoutMargin time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:        apiKey,
		BaseURL:       "https://solver.example.com",
		MaxRetries:    3,
		TimeoutMargin: 30 * time.Second,
	}
}

// New creates a solver client with default config.
func New(apiKey string) *Client {
	return NewWithConfig(DefaultConfig(apiKey))
}

// NewWithConfig creates a solver client with custom config.
func NewWithConfig(config Config) *Client {
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.TimeoutMargin <= 0 {
		config.TimeoutMargin = 30 * time.Second
	}
	return &Client{
		apiKey:        config.APIKey,
		baseURL:       config.BaseURL,
		maxRetries:    config.MaxRetries,
		timeoutMargin: config.TimeoutMargin,
		backoffBase:   time.Second,
		httpClient:    &http.Client{},
	}
}

// solveRequest is the submission payload.
type solveRequest struct {
	Model     *cqm.Model `json:"model"`
	TimeLimit int        `json:"time_limit"`
	Label     string     `json:"label,omitempty"`
}

// solveResponse wraps the sample set with the service's error envelope.
type solveResponse struct {
	SampleSet
	Error *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// SampleCQM submits the model and blocks until the service returns a
// sample set or the context is cancelled. timeLimit is how long the remote
// solver works on the problem; the HTTP deadline is timeLimit plus the
// configured margin.
func (c *Client) SampleCQM(ctx context.Context, model *cqm.Model, timeLimit time.Duration, label string) (*SampleSet, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("API key not configured")
	}
	if model == nil || model.NumVariables() == 0 {
		return nil, fmt.Errorf("empty model")
	}
	if label == "" {
		label = DefaultLabel
	}

	seconds := int(timeLimit / time.Second)
	if seconds < 1 {
		seconds = 1
	}

	reqBody := solveRequest{
		Model:     model,
		TimeLimit: seconds,
		Label:     label,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeLimit+c.timeoutMargin)
	defer cancel()

	var lastErr error
	for i := 0; i <= c.maxRetries; i++ {
		if i > 0 {
			// Exponential backoff: 1s, 2s, 4s...
			backoff := time.Duration(1<<uint(i-1)) * c.backoffBase
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("solve cancelled: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		ss, retryable, err := c.doSolve(ctx, jsonData)
		if err == nil {
			return ss, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, fmt.Errorf("solve cancelled: %w", ctx.Err())
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// doSolve performs one submission attempt. The bool reports whether the
// failure is worth retrying.
func (c *Client) doSolve(ctx context.Context, jsonData []byte) (*SampleSet, bool, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/cqm/solve", bytes.NewReader(jsonData))
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("request failed: %w", err)
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, true, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, true, fmt.Errorf("rate limit exceeded (429)")
	}
	if resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("solver service error (status %d): %s", resp.StatusCode, string(body))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("solve request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var solveResp solveResponse
	if err := json.Unmarshal(body, &solveResp); err != nil {
		return nil, false, fmt.Errorf("failed to parse response: %w", err)
	}
	if solveResp.Error != nil {
		return nil, false, fmt.Errorf("solver error: %s", solveResp.Error.Message)
	}

	return &solveResp.SampleSet, false, nil
}
