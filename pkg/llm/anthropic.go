package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/mffacts/mffacts/pkg/fn"
)

// DefaultClaudeModel is used when the config names no model.
const DefaultClaudeModel = "claude-3-5-haiku-latest"

// AnthropicConfig configures the Claude client.
type AnthropicConfig struct {
	APIKey string
	Model  string
	// BaseURL overrides the API root; tests point it at a local server.
	BaseURL string
}

// Anthropic generates answers with the Claude Messages API.
type Anthropic struct {
	client anthropic.Client
	model  string
}

// NewAnthropic creates a Claude client. The SDK's own retries are disabled;
// failures surface to the caller immediately.
func NewAnthropic(cfg AnthropicConfig) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm: anthropic: missing api key")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultClaudeModel
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(DefaultTimeout),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Anthropic{client: anthropic.NewClient(opts...), model: cfg.Model}, nil
}

// Complete implements the composer's generation collaborator.
func (a *Anthropic) Complete(ctx context.Context, req Request) fn.Result[string] {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   int64(req.MaxTokens),
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(req.User))},
		Temperature: anthropic.Float(req.Temperature),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return fn.Err[string](Upstream(fmt.Errorf("anthropic: %w", err)))
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(tb.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return fn.Err[string](ErrEmptyCompletion)
	}
	return fn.Ok(text.String())
}
