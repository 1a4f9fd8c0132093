// Package embed provides embedding clients used by both the offline index
// build and query-time retrieval. Remote failures are tagged as
// *llm.UpstreamError so the query path can degrade gracefully.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/mffacts/mffacts/pkg/llm"
)

const (
	// DefaultOpenAIModel produces 1536-dimension vectors.
	DefaultOpenAIModel = "text-embedding-3-small"
	// DefaultTimeout bounds one embedding call.
	DefaultTimeout = 30 * time.Second
)

// ErrNoEmbedding is returned when a service answers without a vector.
var ErrNoEmbedding = errors.New("embed: no embedding returned")

// OpenAIConfig configures an OpenAI-compatible embeddings client.
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	// Dimensions asks models that support it for shorter vectors. Zero
	// keeps the model default.
	Dimensions int
	Timeout    time.Duration
}

// OpenAI calls an /embeddings endpoint.
type OpenAI struct {
	baseURL    string
	apiKey     string
	model      string
	dimensions int
	client     *http.Client
}

// NewOpenAI creates an embeddings client. An API key is required.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("embed: openai: missing api key")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = llm.DefaultOpenAIBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &OpenAI{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		client:     &http.Client{Timeout: cfg.Timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}, nil
}

type embeddingsReq struct {
	Input      string `json:"input"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type embeddingsResp struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the embedding of text.
func (c *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	body, _ := json.Marshal(embeddingsReq{Input: text, Model: c.model, Dimensions: c.dimensions})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embed: openai: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, llm.Upstream(fmt.Errorf("openai embeddings: %w", err))
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, llm.Upstream(fmt.Errorf("openai embeddings: read body: %w", err))
	}
	if resp.StatusCode >= 300 {
		return nil, llm.StatusError("openai embeddings", resp.StatusCode, payload)
	}

	var out embeddingsResp
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("embed: openai decode: %w", err)
	}
	if len(out.Data) == 0 || len(out.Data[0].Embedding) == 0 {
		return nil, ErrNoEmbedding
	}
	return toFloat32(out.Data[0].Embedding), nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
