// Package bootstrap constructs the engine's collaborators from a loaded
// config.Config. Binaries call it once at startup and pass the results down;
// nothing here is global.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mffacts/mffacts/engine/domain"
	"github.com/mffacts/mffacts/engine/ingest"
	"github.com/mffacts/mffacts/engine/rag"
	"github.com/mffacts/mffacts/engine/semantic"
	"github.com/mffacts/mffacts/engine/semantic/pgstore"
	"github.com/mffacts/mffacts/pkg/config"
	"github.com/mffacts/mffacts/pkg/embed"
	"github.com/mffacts/mffacts/pkg/fetch"
	"github.com/mffacts/mffacts/pkg/llm"
	"github.com/mffacts/mffacts/pkg/resilience"
	"github.com/mffacts/mffacts/pkg/snapshot"
)

// Embedder is satisfied by every pkg/embed client.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Store is a vector index usable by both the build and the query path.
type Store interface {
	Reset(ctx context.Context, dims int) error
	Upsert(ctx context.Context, records []semantic.Record) error
	Search(ctx context.Context, embedding []float32, topK int) ([]domain.Candidate, error)
}

// App holds the shared collaborators.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Embedder Embedder
	Store    Store

	closers []func() error
}

// New builds the embedder and vector store named by cfg.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	emb, err := NewEmbedder(ctx, cfg.Embedder)
	if err != nil {
		return nil, err
	}
	a.Embedder = emb

	store, closeStore, err := NewStore(ctx, cfg.VectorStore)
	if err != nil {
		return nil, err
	}
	a.Store = store
	a.closers = append(a.closers, closeStore)

	logger.Info("bootstrap ready",
		"embedder", cfg.Embedder.Provider,
		"vector_store", cfg.VectorStore.Type,
	)
	return a, nil
}

// Close releases connections in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// QueryService assembles the query pipeline with the configured generator.
// An empty in-process store is first filled from the local snapshot.
func (a *App) QueryService(ctx context.Context) (*rag.Service, error) {
	if err := a.loadMemoryIndex(ctx); err != nil {
		return nil, err
	}
	gen, err := NewGenerator(ctx, a.Config.Generator)
	if err != nil {
		return nil, err
	}
	breaker := NewBreaker(a.Config.Generator.Breaker, a.Logger)
	return rag.New(a.Embedder, a.Store, gen, breaker, RetrievalOptions(a.Config.Retrieval), a.Logger), nil
}

// loadMemoryIndex rebuilds an empty MemoryStore from the local snapshot. The
// in-process index does not outlive the build that filled it, so a query
// process must replay the saved corpus itself.
func (a *App) loadMemoryIndex(ctx context.Context) error {
	mem, ok := a.Store.(*semantic.MemoryStore)
	if !ok || mem.Len() > 0 {
		return nil
	}
	if a.Config.Snapshot.Type != "local" {
		a.Logger.Warn("memory vector store is empty and no local snapshot is configured", "snapshot", a.Config.Snapshot.Type)
		return nil
	}
	recs, err := snapshot.NewLocal(a.Config.Snapshot.Dir).Load(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: load memory index: %w", err)
	}
	corpus := snapshot.NewCorpus(recs)
	b := ingest.NewBuilder(ingest.Deps{
		Fetcher:  corpus,
		Embedder: a.Embedder,
		Store:    a.Store,
		Logger:   a.Logger,
	}, BuildOptions(a.Config))
	rep, err := b.Build(ctx, corpus.URLs())
	if err != nil {
		return fmt.Errorf("bootstrap: load memory index: %w", err)
	}
	a.Logger.Info("memory index loaded from snapshot", "documents", rep.Documents, "indexed", rep.Indexed)
	return nil
}

// Builder assembles the index build with the live page fetcher.
func (a *App) Builder(ctx context.Context) (*ingest.Builder, error) {
	return a.BuilderWithFetcher(ctx, NewFetcher(a.Config.Build, a.Logger))
}

// BuilderWithFetcher assembles the index build over f, for example a
// snapshot.Corpus replaying a previous run.
func (a *App) BuilderWithFetcher(ctx context.Context, f ingest.Fetcher) (*ingest.Builder, error) {
	snap, err := NewSnapshot(ctx, a.Config.Snapshot)
	if err != nil {
		return nil, err
	}
	deps := ingest.Deps{
		Fetcher:  f,
		Embedder: a.Embedder,
		Store:    a.Store,
		Logger:   a.Logger,
	}
	if snap != nil {
		deps.Snapshot = snap
	}
	return ingest.NewBuilder(deps, BuildOptions(a.Config)), nil
}

// NewEmbedder returns the embedding client for cfg.Provider.
func NewEmbedder(ctx context.Context, cfg config.EmbedderConfig) (Embedder, error) {
	switch cfg.Provider {
	case "openai":
		return embed.NewOpenAI(embed.OpenAIConfig{
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey(),
			Model:      cfg.Model,
			Dimensions: openAIDimensions(cfg),
			Timeout:    cfg.Timeout(),
		})
	case "ollama":
		return embed.NewOllama(cfg.BaseURL, cfg.Model), nil
	case "gemini":
		return embed.NewGemini(ctx, embed.GeminiConfig{
			APIKey:     cfg.APIKey(),
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			BaseURL:    cfg.BaseURL,
		})
	default:
		return nil, fmt.Errorf("bootstrap: unknown embedder %q", cfg.Provider)
	}
}

// openAIDimensions only requests a size from the text-embedding-3 family,
// the models that accept one.
func openAIDimensions(cfg config.EmbedderConfig) int {
	if strings.HasPrefix(cfg.Model, "text-embedding-3") {
		return cfg.Dimensions
	}
	return 0
}

// NewGenerator returns the generation client for cfg.Provider.
func NewGenerator(ctx context.Context, cfg config.GeneratorConfig) (rag.Generator, error) {
	switch cfg.Provider {
	case "openai":
		return llm.NewOpenAI(llm.OpenAIConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey(),
			Model:   cfg.Model,
			Timeout: cfg.Timeout(),
		})
	case "openrouter":
		base := cfg.BaseURL
		if base == "" {
			base = llm.OpenRouterBaseURL
		}
		return llm.NewOpenAI(llm.OpenAIConfig{
			BaseURL: base,
			APIKey:  cfg.APIKey(),
			Model:   cfg.Model,
			Timeout: cfg.Timeout(),
			Headers: map[string]string{"HTTP-Referer": "https://github.com/mffacts/mffacts", "X-Title": "mffacts"},
		})
	case "anthropic":
		return llm.NewAnthropic(llm.AnthropicConfig{APIKey: cfg.APIKey(), Model: cfg.Model, BaseURL: cfg.BaseURL})
	case "gemini":
		return llm.NewGemini(ctx, llm.GeminiConfig{APIKey: cfg.APIKey(), Model: cfg.Model, BaseURL: cfg.BaseURL})
	default:
		return nil, fmt.Errorf("bootstrap: unknown generator %q", cfg.Provider)
	}
}

// NewBreaker guards generation. Only upstream failures count against it. A
// zero threshold disables the breaker.
func NewBreaker(cfg config.BreakerConfig, logger *slog.Logger) *resilience.Breaker {
	if cfg.FailThreshold <= 0 {
		return nil
	}
	return resilience.NewBreaker(resilience.BreakerOpts{
		FailThreshold: cfg.FailThreshold,
		Timeout:       cfg.ResetTimeout(),
		IsFailure: func(err error) bool {
			_, ok := llm.AsUpstream(err)
			return ok
		},
		OnStateChange: func(from, to resilience.State) {
			logger.Warn("generation breaker state changed", "from", from.String(), "to", to.String())
		},
	})
}

// NewStore connects the configured vector store and returns its closer.
func NewStore(ctx context.Context, cfg config.VectorStoreConfig) (Store, func() error, error) {
	switch cfg.Type {
	case "qdrant":
		s, err := semantic.New(cfg.Qdrant.Addr, cfg.Qdrant.Collection)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "pgvector":
		s, err := pgstore.Connect(ctx, cfg.Postgres.DSN, cfg.Postgres.Table)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "memory":
		return semantic.NewMemoryStore(), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("bootstrap: unknown vector store %q", cfg.Type)
	}
}

// NewSnapshot returns the configured corpus sink, or nil for "none".
func NewSnapshot(ctx context.Context, cfg config.SnapshotConfig) (ingest.Snapshotter, error) {
	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "local":
		return snapshot.NewLocal(cfg.Dir), nil
	case "s3":
		return snapshot.NewS3(ctx, snapshot.S3Options{
			Bucket:    cfg.S3.Bucket,
			Prefix:    cfg.S3.Prefix,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: os.Getenv(cfg.S3.AccessKeyEnv),
			SecretKey: os.Getenv(cfg.S3.SecretKeyEnv),
		})
	default:
		return nil, fmt.Errorf("bootstrap: unknown snapshot sink %q", cfg.Type)
	}
}

// NewFetcher returns the page fetcher, paced by cfg.FetchInterval.
func NewFetcher(cfg config.BuildConfig, logger *slog.Logger) *fetch.Fetcher {
	return fetch.New(
		fetch.WithLimiter(resilience.NewLimiter(cfg.FetchInterval(), 1)),
		fetch.WithLogger(logger),
	)
}

// RetrievalOptions maps config onto rag.Options.
func RetrievalOptions(cfg config.RetrievalConfig) rag.Options {
	return rag.Options{
		TopK:             cfg.TopK,
		MultiFacetedTopK: cfg.MultiFacetedTopK,
		MinScore:         float32(cfg.MinScore),
		KeywordFactor:    cfg.KeywordFactor,
		SearchTimeout:    cfg.SearchTimeout(),
	}
}

// BuildOptions maps config onto ingest.Options.
func BuildOptions(cfg *config.Config) ingest.Options {
	return ingest.Options{
		MaxPassageLength: cfg.Segmenter.MaxPassageLength,
		Dimensions:       cfg.Embedder.Dimensions,
		BatchSize:        cfg.Build.BatchSize,
		FetchWorkers:     cfg.Build.FetchWorkers,
		EmbedInterval:    cfg.Build.EmbedInterval(),
	}
}

// SourceURLs returns the configured URL list, reading the URL file when no
// URLs are inlined.
func SourceURLs(cfg config.SourcesConfig) ([]string, error) {
	if len(cfg.URLs) > 0 {
		return cfg.URLs, nil
	}
	f, err := os.Open(cfg.URLFile)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open url list: %w", err)
	}
	defer f.Close()
	return ingest.ReadURLList(f)
}

// NewLogger builds the process logger. JSON goes to services; text suits
// files and terminals.
func NewLogger(w io.Writer, level string, json bool) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if json {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
