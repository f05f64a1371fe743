// Package embed provides a client for an OpenAI-compatible text embedding
// service. The engine treats every failure from this service as
// degradable: callers retry with backoff and then fall back to lexical
// scoring rather than failing a run.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/shelfwatch/pricematch/internal/resilience"
)

// Client defines the embedding operations used by the matcher.
type Client interface {
	// Embed returns one fixed-length vector per input string, in input
	// order. Rate-limit and server errors are returned as
	// resilience.TransientError.
	Embed(ctx context.Context, inputs []string) ([][]float64, error)
}

// request is the embeddings API request body.
type request struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// response is the embeddings API response body.
type response struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Option configures the embedding client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithModel sets the embedding model.
func WithModel(model string) Option {
	return func(c *httpClient) {
		c.model = model
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.http.Timeout = d
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	model   string
	http    *http.Client
}

// NewClient creates an embedding client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://api.openai.com/v1",
		model:   "text-embedding-3-small",
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Embed(ctx context.Context, inputs []string) ([][]float64, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	payload, err := json.Marshal(request{Model: c.model, Input: inputs})
	if err != nil {
		return nil, eris.Wrap(err, "embed: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "embed: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// Network errors are transient by the resilience taxonomy already;
		// wrap for context only.
		return nil, eris.Wrap(err, "embed: request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "embed: read response body")
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("embed: status %d: %s", resp.StatusCode, string(body))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	var parsed response
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, eris.Wrap(err, "embed: parse response")
	}
	if parsed.Error != nil {
		return nil, eris.Errorf("embed: api error: %s", parsed.Error.Message)
	}
	if len(parsed.Data) != len(inputs) {
		return nil, eris.Errorf("embed: expected %d vectors, got %d", len(inputs), len(parsed.Data))
	}

	// The API may reorder; respect the index field.
	vectors := make([][]float64, len(inputs))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(inputs) {
			return nil, eris.Errorf("embed: vector index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	for i, v := range vectors {
		if v == nil {
			return nil, eris.Errorf("embed: missing vector for input %d", i)
		}
	}

	return vectors, nil
}
