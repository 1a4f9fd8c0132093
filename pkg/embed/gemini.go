package embed

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/mffacts/mffacts/pkg/llm"
)

// DefaultGeminiModel is used when the config names no model.
const DefaultGeminiModel = "text-embedding-004"

// GeminiConfig configures the Gemini embedder.
type GeminiConfig struct {
	APIKey     string
	Model      string
	Dimensions int
	BaseURL    string
}

// Gemini embeds text with the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
	dims   int32
}

// NewGemini creates a Gemini embedder.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("embed: gemini: missing api key")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	client, err := llm.NewGenAIClient(ctx, cfg.APIKey, cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	return &Gemini{client: client, model: cfg.Model, dims: int32(cfg.Dimensions)}, nil
}

// Embed returns the embedding of text.
func (g *Gemini) Embed(ctx context.Context, text string) ([]float32, error) {
	var cfg *genai.EmbedContentConfig
	if g.dims > 0 {
		cfg = &genai.EmbedContentConfig{OutputDimensionality: &g.dims}
	}
	res, err := g.client.Models.EmbedContent(ctx, g.model,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}, cfg)
	if err != nil {
		return nil, llm.Upstream(fmt.Errorf("gemini embed: %w", err))
	}
	if res == nil || len(res.Embeddings) == 0 || len(res.Embeddings[0].Values) == 0 {
		return nil, ErrNoEmbedding
	}
	return res.Embeddings[0].Values, nil
}
