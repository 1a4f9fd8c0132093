package rag

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/mffacts/mffacts/engine/classify"
	"github.com/mffacts/mffacts/engine/domain"
	"github.com/mffacts/mffacts/pkg/fn"
	"github.com/mffacts/mffacts/pkg/llm"
	"github.com/mffacts/mffacts/pkg/resilience"
)

// Fixed answer texts.
const (
	NoInfoText     = "I couldn't find relevant information in the source documents. Please try rephrasing your question or check the official sources directly."
	UnexpectedText = "I encountered an unexpected error while processing your request. Please try rephrasing your question or try again later."
	upstreamPrefix = "I'm having trouble connecting to the AI service. Error: "

	maxErrorChars = 200
)

// Context sizes per query kind.
const (
	DefaultContextPassages      = 5
	MultiFacetedContextPassages = 10
)

// Outcome classifies how a query was answered.
type Outcome string

const (
	OutcomeAnswered   Outcome = "answered"
	OutcomeRefused    Outcome = "refused"
	OutcomeNoInfo     Outcome = "no_info"
	OutcomeUpstream   Outcome = "upstream_error"
	OutcomeUnexpected Outcome = "unexpected_error"
)

// Generator produces text from a prompt. Failures of the remote service
// must be reported as *llm.UpstreamError.
type Generator interface {
	Complete(ctx context.Context, req llm.Request) fn.Result[string]
}

// Composer turns ranked passages into an Answer.
type Composer struct {
	gen     Generator
	breaker *resilience.Breaker
	log     *slog.Logger
	now     func() time.Time
}

// NewComposer creates a Composer. breaker may be nil.
func NewComposer(gen Generator, breaker *resilience.Breaker, logger *slog.Logger) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{gen: gen, breaker: breaker, log: logger, now: time.Now}
}

// Compose answers query from ranked passages. It never fails: errors are
// turned into degraded answers.
func (c *Composer) Compose(ctx context.Context, query string, cls domain.Classification, ranked []domain.Candidate) domain.Answer {
	ans, _ := c.compose(ctx, query, cls, ranked)
	return ans
}

func (c *Composer) compose(ctx context.Context, query string, cls domain.Classification, ranked []domain.Candidate) (ans domain.Answer, out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("rag: compose panicked", "panic", r)
			ans, out = c.unexpected(), OutcomeUnexpected
		}
	}()

	if len(ranked) == 0 {
		return c.noInfo(), OutcomeNoInfo
	}

	n := DefaultContextPassages
	if cls.Categories.Has(domain.CategoryMultiFaceted) {
		n = MultiFacetedContextPassages
	}
	text, citations := BuildContext(ranked, n)
	if text == "" {
		return c.noInfo(), OutcomeNoInfo
	}

	tmpl := SelectTemplate(cls)
	req := llm.Request{
		System:      tmpl.System,
		User:        UserPrompt(cls, text, query),
		Temperature: Temperature,
		MaxTokens:   MaxTokens(cls),
	}
	c.log.Debug("rag: generating", "template", tmpl.Name, "passages", min(n, len(ranked)), "max_tokens", req.MaxTokens)

	reply, err := c.complete(ctx, req).Unwrap()
	if err != nil {
		if ue, ok := llm.AsUpstream(err); ok {
			c.log.Warn("rag: generation failed", "kind", ue.Kind, "err", err)
			return c.upstream(err), OutcomeUpstream
		}
		c.log.Error("rag: generation failed unexpectedly", "err", err)
		return c.unexpected(), OutcomeUnexpected
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		c.log.Error("rag: generation failed unexpectedly", "err", llm.ErrEmptyCompletion)
		return c.unexpected(), OutcomeUnexpected
	}

	var citation *string
	if len(citations) > 0 {
		citation = &citations[0]
	}
	return domain.Answer{
		Answer:    reply,
		Citation:  citation,
		Refused:   false,
		Timestamp: c.today(),
	}, OutcomeAnswered
}

// complete calls the generator through the breaker, if any.
func (c *Composer) complete(ctx context.Context, req llm.Request) fn.Result[string] {
	call := func(ctx context.Context) fn.Result[string] { return c.gen.Complete(ctx, req) }
	if c.breaker == nil {
		return call(ctx)
	}
	r := resilience.CallResult(c.breaker, ctx, call)
	if _, err := r.Unwrap(); errors.Is(err, resilience.ErrCircuitOpen) {
		return fn.Err[string](llm.NewUpstreamError(llm.UpstreamUnavailable, err))
	}
	return r
}

// BuildContext joins the texts of the first n passages, skipping exact
// duplicates, and lists their source URLs in first-seen order.
func BuildContext(ranked []domain.Candidate, n int) (string, []string) {
	if n > len(ranked) {
		n = len(ranked)
	}
	top := ranked[:n]
	texts := fn.Unique(fn.FilterMap(top, func(c domain.Candidate) (string, bool) {
		return c.Passage.Text, c.Passage.Text != ""
	}))
	urls := fn.Unique(fn.FilterMap(top, func(c domain.Candidate) (string, bool) {
		return c.Passage.Meta.URL, c.Passage.Meta.URL != ""
	}))
	return strings.Join(texts, "\n\n"), urls
}

func (c *Composer) today() string { return c.now().Format(domain.DateLayout) }

func (c *Composer) noInfo() domain.Answer {
	return domain.Answer{Answer: NoInfoText, Timestamp: c.today()}
}

func (c *Composer) unexpected() domain.Answer {
	return domain.Answer{Answer: UnexpectedText, Timestamp: c.today()}
}

func (c *Composer) upstream(err error) domain.Answer {
	msg := []rune(err.Error())
	if len(msg) > maxErrorChars {
		msg = msg[:maxErrorChars]
	}
	return domain.Answer{Answer: upstreamPrefix + string(msg), Timestamp: c.today()}
}

func (c *Composer) refusal() domain.Answer {
	link := classify.EducationalLink
	return domain.Answer{
		Answer:    classify.RefusalText,
		Citation:  &link,
		Refused:   true,
		Timestamp: c.today(),
	}
}
