// Package rag answers fund questions from indexed passages. A query is
// classified, refused if it asks for advice, otherwise embedded, searched,
// reranked by category and handed to the generation service with a
// category-specific prompt.
package rag

import (
	"context"
	"log/slog"
	"time"

	"github.com/mffacts/mffacts/engine/classify"
	"github.com/mffacts/mffacts/engine/domain"
	"github.com/mffacts/mffacts/engine/rerank"
	"github.com/mffacts/mffacts/pkg/resilience"
)

// Embedder turns the query into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher runs similarity search over the passage index.
type Searcher interface {
	Search(ctx context.Context, embedding []float32, topK int) ([]domain.Candidate, error)
}

// Options configures retrieval.
type Options struct {
	// TopK is the number of passages kept for ordinary queries.
	TopK int
	// MultiFacetedTopK is used when a query asks for several facts.
	MultiFacetedTopK int
	// MinScore drops candidates less similar than this.
	MinScore float32
	// KeywordFactor widens the search for queries naming a fact category.
	KeywordFactor int
	// SearchTimeout bounds the vector store call. Zero means no extra bound.
	SearchTimeout time.Duration
}

// DefaultOptions returns the production retrieval settings.
func DefaultOptions() Options {
	return Options{
		TopK:             DefaultContextPassages,
		MultiFacetedTopK: MultiFacetedContextPassages,
		MinScore:         0.6,
		KeywordFactor:    2,
		SearchTimeout:    5 * time.Second,
	}
}

// Service is the query entry point.
type Service struct {
	embed    Embedder
	search   Searcher
	composer *Composer
	opts     Options
	logger   *slog.Logger
}

// New creates a Service. breaker, if non-nil, guards generation calls.
func New(embed Embedder, search Searcher, gen Generator, breaker *resilience.Breaker, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultOptions()
	if opts.TopK <= 0 {
		opts.TopK = def.TopK
	}
	if opts.MultiFacetedTopK <= 0 {
		opts.MultiFacetedTopK = def.MultiFacetedTopK
	}
	if opts.KeywordFactor <= 0 {
		opts.KeywordFactor = 1
	}
	return &Service{
		embed:    embed,
		search:   search,
		composer: NewComposer(gen, breaker, logger),
		opts:     opts,
		logger:   logger,
	}
}

// AnswerQuery answers a free-text question. It always returns an Answer;
// failures become apology or degraded answers.
func (s *Service) AnswerQuery(ctx context.Context, query string) domain.Answer {
	ans, _ := s.Answer(ctx, query)
	return ans
}

// Answer is AnswerQuery that also reports the outcome, for metrics.
func (s *Service) Answer(ctx context.Context, query string) (ans domain.Answer, out Outcome) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("rag: query panicked", "panic", r)
			ans, out = s.composer.unexpected(), OutcomeUnexpected
		}
		s.logger.Info("rag query done", "outcome", out, "duration", time.Since(start))
	}()

	if err := domain.ValidateQuery(query); err != nil {
		s.logger.Info("rag: rejected query", "err", err)
		return s.composer.noInfo(), OutcomeNoInfo
	}

	cls := classify.Classify(query)
	if cls.IsAdvice {
		return s.composer.refusal(), OutcomeRefused
	}
	s.logger.Info("rag query start", "question_len", len(query), "categories", cls.Categories.String())

	vec, err := s.embed.Embed(ctx, query)
	if err != nil {
		s.logger.Warn("rag: embed query", "err", err)
		return s.composer.upstream(err), OutcomeUpstream
	}

	candidates := s.retrieve(ctx, vec, cls)
	if len(candidates) == 0 {
		return s.composer.noInfo(), OutcomeNoInfo
	}
	return s.composer.compose(ctx, query, cls, rerank.Rerank(cls, candidates))
}

// retrieve searches the index and applies the similarity floor. Queries
// naming a fact category search twice as wide before the floor. Store
// errors are logged and treated as an empty result.
func (s *Service) retrieve(ctx context.Context, vec []float32, cls domain.Classification) []domain.Candidate {
	limit := s.opts.TopK
	if cls.Categories.Has(domain.CategoryMultiFaceted) {
		limit = s.opts.MultiFacetedTopK
	}
	fetch := limit
	for _, c := range domain.FactCategories {
		if cls.Categories.Has(c) {
			fetch = limit * s.opts.KeywordFactor
			break
		}
	}

	if s.opts.SearchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.SearchTimeout)
		defer cancel()
	}
	results, err := s.search.Search(ctx, vec, fetch)
	if err != nil {
		s.logger.Error("rag: semantic search", "err", err)
		return nil
	}

	kept := make([]domain.Candidate, 0, len(results))
	for _, r := range results {
		if r.Score >= s.opts.MinScore {
			kept = append(kept, r)
		}
	}
	if len(kept) > limit {
		kept = kept[:limit]
	}
	s.logger.Info("rag semantic search done", "results", len(results), "kept", len(kept))
	return kept
}
