package main

import (
	"time"

	"github.com/mffacts/mffacts/engine/rag"
	"github.com/mffacts/mffacts/pkg/metrics"
)

var outcomes = []rag.Outcome{
	rag.OutcomeAnswered,
	rag.OutcomeRefused,
	rag.OutcomeNoInfo,
	rag.OutcomeUpstream,
	rag.OutcomeUnexpected,
}

type apiMetrics struct {
	reg      *metrics.Registry
	answers  map[rag.Outcome]*metrics.Counter
	duration *metrics.Histogram
	indexed  *metrics.Gauge
}

// newAPIMetrics registers every outcome series up front so that they
// render as zero before the first query.
func newAPIMetrics(reg *metrics.Registry) *apiMetrics {
	m := &apiMetrics{
		reg:      reg,
		answers:  make(map[rag.Outcome]*metrics.Counter, len(outcomes)),
		duration: reg.Histogram("mffacts_ask_duration_seconds", "Time to answer a question", nil),
		indexed:  reg.Gauge("mffacts_indexed_passages", "Passages in the index as of the last rebuild event"),
	}
	for _, o := range outcomes {
		m.answers[o] = reg.Counter(metrics.WithLabels("mffacts_answers_total", "outcome", string(o)), "Questions answered, by outcome")
	}
	return m
}

func (m *apiMetrics) observe(out rag.Outcome, d time.Duration) {
	if c, ok := m.answers[out]; ok {
		c.Inc()
	}
	m.duration.Observe(d.Seconds())
}
