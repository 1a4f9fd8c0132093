// Package rerank reorders retrieved passages by category-aware keyword
// relevance to the classified query.
package rerank

import (
	"sort"
	"strings"

	"github.com/mffacts/mffacts/engine/classify"
	"github.com/mffacts/mffacts/engine/domain"
)

// Score sums the weights of the query's categories whose passage keywords
// occur in text, plus the comparison weight when text names a scheme the
// query compares.
func Score(cls domain.Classification, text string) int {
	lower := strings.ToLower(text)
	score := 0
	for _, r := range classify.Rules {
		if cls.Categories.Has(r.Category) && r.Passage.Match(lower) {
			score += r.Weight
		}
	}
	if cls.Categories.Has(domain.CategoryComparison) {
		for _, s := range cls.Schemes {
			if strings.Contains(lower, strings.ToLower(s)) {
				score += classify.ComparisonWeight
				break
			}
		}
	}
	return score
}

// Rerank returns candidates with relevant passages (score > 0) first, ordered
// by descending score, followed by the rest in their original order. Ties
// keep retrieval order. The input slice is not modified.
func Rerank(cls domain.Classification, candidates []domain.Candidate) []domain.Candidate {
	type scored struct {
		c     domain.Candidate
		score int
	}
	var relevant []scored
	var other []domain.Candidate
	for _, c := range candidates {
		if s := Score(cls, c.Passage.Text); s > 0 {
			relevant = append(relevant, scored{c: c, score: s})
		} else {
			other = append(other, c)
		}
	}
	sort.SliceStable(relevant, func(i, j int) bool {
		return relevant[i].score > relevant[j].score
	})

	out := make([]domain.Candidate, 0, len(candidates))
	for _, r := range relevant {
		out = append(out, r.c)
	}
	return append(out, other...)
}
