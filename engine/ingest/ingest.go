// Package ingest builds the passage index: it fetches source pages, segments
// them into passages, embeds every passage and loads the vector store.
package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/mffacts/mffacts/engine/domain"
	"github.com/mffacts/mffacts/engine/semantic"
	"github.com/mffacts/mffacts/pkg/fn"
	"github.com/mffacts/mffacts/pkg/resilience"
	"github.com/mffacts/mffacts/pkg/snapshot"
)

const (
	// DefaultBatchSize is the number of records sent per upsert.
	DefaultBatchSize = 50
	// DefaultFetchWorkers bounds concurrent page fetches.
	DefaultFetchWorkers = 4
	// DefaultEmbedInterval spaces embedding calls.
	DefaultEmbedInterval = 100 * time.Millisecond
)

// ErrNothingIndexed is returned when a build produced no embeddable passage.
// The store is left untouched in that case.
var ErrNothingIndexed = errors.New("ingest: no passages embedded")

// Fetcher returns the extracted text of a source page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Store is the vector index being rebuilt.
type Store interface {
	Reset(ctx context.Context, dims int) error
	Upsert(ctx context.Context, records []semantic.Record) error
}

// Snapshotter persists the extracted corpus for inspection.
type Snapshotter interface {
	Save(ctx context.Context, records []snapshot.Record) error
}

// Deps holds the collaborators of a build. Snapshot and Logger are optional.
type Deps struct {
	Fetcher  Fetcher
	Embedder Embedder
	Store    Store
	Snapshot Snapshotter
	Logger   *slog.Logger
}

// Options tunes a build.
type Options struct {
	MaxPassageLength int
	// Dimensions is the expected embedding size. Zero takes the size of the
	// first embedding returned.
	Dimensions    int
	BatchSize     int
	FetchWorkers  int
	EmbedInterval time.Duration
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		MaxPassageLength: DefaultMaxPassageLength,
		Dimensions:       1536,
		BatchSize:        DefaultBatchSize,
		FetchWorkers:     DefaultFetchWorkers,
		EmbedInterval:    DefaultEmbedInterval,
	}
}

// Report summarises a build. Failures are counted, never fatal.
type Report struct {
	URLs           int           `json:"urls"`
	Documents      int           `json:"documents"`
	Skipped        int           `json:"skipped"`
	FetchFailures  int           `json:"fetch_failures"`
	Passages       int           `json:"passages"`
	EmbedFailures  int           `json:"embed_failures"`
	UpsertFailures int           `json:"upsert_failures"`
	Indexed        int           `json:"indexed"`
	Dimensions     int           `json:"dimensions"`
	Duration       time.Duration `json:"duration"`
}

// Builder runs full index rebuilds.
type Builder struct {
	deps    Deps
	opts    Options
	log     *slog.Logger
	limiter *resilience.Limiter
}

// NewBuilder creates a Builder, filling unset options with defaults.
func NewBuilder(deps Deps, opts Options) *Builder {
	def := DefaultOptions()
	if opts.MaxPassageLength <= 0 {
		opts.MaxPassageLength = def.MaxPassageLength
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.FetchWorkers <= 0 {
		opts.FetchWorkers = def.FetchWorkers
	}
	if opts.EmbedInterval < 0 {
		opts.EmbedInterval = 0
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Builder{
		deps:    deps,
		opts:    opts,
		log:     log,
		limiter: resilience.NewLimiter(opts.EmbedInterval, 1),
	}
}

// --- Pipeline stages ---

// FetchStage downloads one source URL into a Document.
func FetchStage(f Fetcher) fn.Stage[string, domain.Document] {
	return func(ctx context.Context, url string) fn.Result[domain.Document] {
		url = strings.TrimSpace(url)
		if err := domain.ValidateSourceURL(url); err != nil {
			return fn.Err[domain.Document](err)
		}
		text, err := f.Fetch(ctx, url)
		if err != nil {
			return fn.Err[domain.Document](fmt.Errorf("fetch %s: %w", url, err))
		}
		return fn.Ok(domain.Document{URL: url, Text: text})
	}
}

// Validate rejects documents too small to be worth indexing.
var Validate fn.Stage[domain.Document, domain.Document] = func(_ context.Context, d domain.Document) fn.Result[domain.Document] {
	if err := domain.ValidateDocument(d); err != nil {
		return fn.Err[domain.Document](err)
	}
	return fn.Ok(d)
}

// SegmentStage splits a document into identified passages.
func SegmentStage(maxLen int) fn.Stage[domain.Document, []domain.Passage] {
	return fn.MapStage(func(d domain.Document) []domain.Passage {
		return AssignIDs(d, Segment(d.Text, maxLen))
	})
}

// EmbedStage attaches an embedding to a passage. A non-zero dims rejects
// vectors of any other size.
func EmbedStage(e Embedder, dims int) fn.Stage[domain.Passage, semantic.Record] {
	return func(ctx context.Context, p domain.Passage) fn.Result[semantic.Record] {
		vec, err := e.Embed(ctx, p.Text)
		if err != nil {
			return fn.Err[semantic.Record](fmt.Errorf("embed %s: %w", p.ID, err))
		}
		if len(vec) == 0 || (dims > 0 && len(vec) != dims) {
			return fn.Err[semantic.Record](fmt.Errorf("embed %s: got %d dims, want %d: %w",
				p.ID, len(vec), dims, domain.ErrDimensionMismatch))
		}
		return fn.Ok(semantic.Record{Passage: p, Embedding: vec})
	}
}

// LoggedTap logs a value passing a named point of the pipeline.
func LoggedTap[T any](name string, log *slog.Logger) fn.Stage[T, T] {
	return fn.TapStage(func(ctx context.Context, _ T) {
		log.DebugContext(ctx, "stage.enter", "stage", name)
	})
}

// --- Build ---

// Build fetches urls, rebuilds the store from scratch and reports what
// happened. Individual fetch, embed and upsert failures are logged and
// counted; Build fails only when nothing could be embedded, when the store
// cannot be reset, or when ctx ends.
func (b *Builder) Build(ctx context.Context, urls []string) (Report, error) {
	start := time.Now()
	rep := Report{URLs: len(urls)}

	docs := b.collect(ctx, urls, &rep)
	if err := ctx.Err(); err != nil {
		return rep, err
	}
	if len(docs) == 0 {
		return rep, fmt.Errorf("ingest: no documents extracted from %d urls", len(urls))
	}

	if b.deps.Snapshot != nil {
		if err := b.deps.Snapshot.Save(ctx, snapshotRecords(docs)); err != nil {
			b.log.Warn("ingest: snapshot failed", "error", err)
		}
	}

	segment := fn.TracedStage("ingest.segment", SegmentStage(b.opts.MaxPassageLength))
	var passages []domain.Passage
	for _, d := range docs {
		ps, _ := segment(ctx, d).Unwrap()
		passages = append(passages, ps...)
	}
	rep.Passages = len(passages)
	b.log.Info("ingest: segmented", "documents", len(docs), "passages", len(passages))

	records, err := b.embedAll(ctx, passages, &rep)
	if err != nil {
		return rep, err
	}
	if len(records) == 0 {
		return rep, ErrNothingIndexed
	}

	rep.Dimensions = len(records[0].Embedding)
	if err := b.deps.Store.Reset(ctx, rep.Dimensions); err != nil {
		return rep, fmt.Errorf("ingest: reset store: %w", err)
	}

	for i, batch := range fn.Chunk(records, b.opts.BatchSize) {
		if err := b.deps.Store.Upsert(ctx, batch); err != nil {
			rep.UpsertFailures += len(batch)
			b.log.Error("ingest: upsert batch failed", "batch", i+1, "size", len(batch), "error", err)
			continue
		}
		rep.Indexed += len(batch)
		b.log.Info("ingest: upserted batch", "batch", i+1, "size", len(batch))
	}

	rep.Duration = time.Since(start)
	b.log.Info("ingest: build complete",
		"documents", rep.Documents,
		"passages", rep.Passages,
		"indexed", rep.Indexed,
		"embed_failures", rep.EmbedFailures,
		"upsert_failures", rep.UpsertFailures,
		"duration", rep.Duration,
	)
	return rep, nil
}

// collect fetches and validates all urls with bounded parallelism, keeping
// the input order.
func (b *Builder) collect(ctx context.Context, urls []string, rep *Report) []domain.Document {
	load := fn.Then(
		fn.Then(LoggedTap[string]("fetch", b.log), fn.TracedStage("ingest.fetch", FetchStage(b.deps.Fetcher))),
		fn.TracedStage("ingest.validate", Validate),
	)
	results := fn.ParMapResult(urls, b.opts.FetchWorkers, func(u string) fn.Result[domain.Document] {
		return load(ctx, u)
	})

	var docs []domain.Document
	for i, r := range results {
		d, err := r.Unwrap()
		if r.IsOk() {
			docs = append(docs, d)
			continue
		}
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			rep.Skipped++
			b.log.Warn("ingest: skipping source", "url", urls[i], "reason", err)
		} else {
			rep.FetchFailures++
			b.log.Error("ingest: fetch failed", "url", urls[i], "error", err)
		}
	}
	rep.Documents = len(docs)
	return docs
}

// embedAll embeds passages one at a time behind the pacing limiter. A
// failed passage is dropped and counted.
func (b *Builder) embedAll(ctx context.Context, passages []domain.Passage, rep *Report) ([]semantic.Record, error) {
	dims := b.opts.Dimensions
	records := make([]semantic.Record, 0, len(passages))
	for i, p := range passages {
		embed := resilience.LimiterStageWait(b.limiter, EmbedStage(b.deps.Embedder, dims))
		rec, err := embed(ctx, p).Unwrap()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return records, ctxErr
			}
			rep.EmbedFailures++
			b.log.Warn("ingest: embedding failed", "passage", p.ID, "n", i+1, "of", len(passages), "error", err)
			continue
		}
		if dims == 0 {
			dims = len(rec.Embedding)
		}
		records = append(records, rec)
	}
	if rep.EmbedFailures > 0 {
		b.log.Warn("ingest: some embeddings failed", "failed", rep.EmbedFailures)
	}
	return records, nil
}

func snapshotRecords(docs []domain.Document) []snapshot.Record {
	out := make([]snapshot.Record, len(docs))
	for i, d := range docs {
		out[i] = snapshot.Record{URL: d.URL, Text: d.Text}
	}
	return out
}

// ReadURLList reads a source list with one URL in the first column of each
// record. Blank lines and '#' comments are ignored; extra columns and
// duplicates are dropped.
func ReadURLList(r io.Reader) ([]string, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.LazyQuotes = true

	var urls []string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ingest: read url list: %w", err)
		}
		u := strings.TrimSpace(rec[0])
		if u == "" || strings.HasPrefix(u, "#") {
			continue
		}
		urls = append(urls, u)
	}
	return fn.Unique(urls), nil
}
