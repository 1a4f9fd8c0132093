// Package llm provides text generation clients for the answer composer. Each
// client turns a Request into a single completion and tags remote failures
// as *UpstreamError.
package llm

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

	"github.com/mffacts/mffacts/pkg/fn"
)

const (
	// DefaultOpenAIBaseURL is the OpenAI REST root.
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	// OpenRouterBaseURL serves the same chat API for many model vendors.
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
	// DefaultTimeout bounds one generation call.
	DefaultTimeout = 30 * time.Second
)

// OpenAIConfig configures an OpenAI-compatible chat client.
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
	// Headers are sent with every request (OpenRouter wants HTTP-Referer
	// and X-Title).
	Headers map[string]string
}

// OpenAI calls a /chat/completions endpoint.
type OpenAI struct {
	baseURL string
	apiKey  string
	model   string
	headers map[string]string
	client  *http.Client
}

// NewOpenAI creates a chat client. An API key is required.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm: openai: missing api key")
	}
	if cfg.Model == "" {
		return nil, errors.New("llm: openai: missing model")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &OpenAI{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		headers: cfg.Headers,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// apiError is the error envelope shared by OpenAI-compatible services.
type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete implements the composer's generation collaborator.
func (c *OpenAI) Complete(ctx context.Context, req Request) fn.Result[string] {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return fn.Errf[string]("llm: openai: encode: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return fn.Errf[string]("llm: openai: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fn.Err[string](Upstream(fmt.Errorf("openai: %w", err)))
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fn.Err[string](Upstream(fmt.Errorf("openai: read body: %w", err)))
	}
	if resp.StatusCode >= 300 {
		return fn.Err[string](StatusError("openai", resp.StatusCode, payload))
	}

	var out chatResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return fn.Errf[string]("llm: openai: decode: %w", err)
	}
	if len(out.Choices) == 0 {
		return fn.Err[string](ErrEmptyCompletion)
	}
	return fn.Ok(out.Choices[0].Message.Content)
}

// StatusError builds the upstream error for a non-2xx response, keeping the
// service's own message when the body carries one.
func StatusError(service string, code int, body []byte) error {
	msg := http.StatusText(code)
	var ae apiError
	if json.Unmarshal(body, &ae) == nil && ae.Error.Message != "" {
		msg = ae.Error.Message
	}
	return NewUpstreamError(KindForStatus(code), fmt.Errorf("%s: status %d: %s", service, code, msg))
}
