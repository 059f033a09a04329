// Package extractor provides an adapter for the feature-extraction sidecar.
// The sidecar decodes an audio file and returns the raw sub-feature blocks
// (signal statistics, deep embedding, instrument confidences) as JSON.
package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/resona-audio/resona/internal/adapters/audio"
	"github.com/resona-audio/resona/internal/core/domain"
	"github.com/resona-audio/resona/internal/core/ports"
)

const defaultBaseURL = "http://localhost:8500"

// Client is an HTTP client for the extraction sidecar.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
}

// compile-time interface assertion
var _ ports.FeatureExtractor = (*Client)(nil)

type extractRequest struct {
	Path string `json:"path"`
}

type extractResponse struct {
	Traditional []float32 `json:"traditional"`
	Embedding   []float32 `json:"embedding"`
	Instruments []float32 `json:"instruments"`
	Duration    float64   `json:"duration"`
	Error       string    `json:"error,omitempty"`
}

// NewClient constructs a sidecar client. An empty baseURL falls back to the
// local default.
func NewClient(baseURL string) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		maxRetries:  3,
		baseBackoff: 500 * time.Millisecond,
	}
}

// Extract asks the sidecar for the raw features of one audio file. Any
// failure surfaces as a ports.ExtractionError; the query gets no partial
// result.
func (c *Client) Extract(ctx context.Context, audioPath string) (domain.RawFeatures, error) {
	body, err := json.Marshal(extractRequest{Path: audioPath})
	if err != nil {
		return domain.RawFeatures{}, ports.ExtractionError{Path: audioPath, Err: fmt.Errorf("extractor: marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/extract", bytes.NewReader(body))
	if err != nil {
		return domain.RawFeatures{}, ports.ExtractionError{Path: audioPath, Err: fmt.Errorf("extractor: build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.doRequestWithRetry(req)
	if err != nil {
		return domain.RawFeatures{}, ports.ExtractionError{Path: audioPath, Err: fmt.Errorf("extractor: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.RawFeatures{}, ports.ExtractionError{Path: audioPath, Err: fmt.Errorf("extractor: status %d", resp.StatusCode)}
	}

	var er extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return domain.RawFeatures{}, ports.ExtractionError{Path: audioPath, Err: fmt.Errorf("extractor: decode response: %w", err)}
	}
	if er.Error != "" {
		return domain.RawFeatures{}, ports.ExtractionError{Path: audioPath, Err: fmt.Errorf("extractor: %s", er.Error)}
	}

	// Some sidecar builds omit the duration; recover it with a local decode
	// so the scalar block does not go out as zero.
	if er.Duration <= 0 {
		if info, perr := audio.Probe(audioPath); perr == nil {
			er.Duration = info.Duration
		} else {
			log.Printf("WARN extractor: duration probe failed for %s: %v", audioPath, perr)
		}
	}

	return domain.RawFeatures{
		Traditional: er.Traditional,
		Embedding:   er.Embedding,
		Instrument:  er.Instruments,
		Duration:    er.Duration,
	}, nil
}
