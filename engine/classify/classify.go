// Package classify inspects a user query before retrieval: it detects
// requests for investment advice and tags the fact categories asked about.
package classify

import (
	"strings"

	"github.com/mffacts/mffacts/engine/domain"
)

// Classify tags query with its advice flag, categories and any allow-listed
// scheme names it compares.
func Classify(query string) domain.Classification {
	lower := strings.ToLower(query)
	cls := domain.Classification{IsAdvice: isAdvice(lower)}

	var set domain.CategorySet
	facts := 0
	for _, r := range Rules {
		if r.Query.Match(lower) {
			set = set.With(r.Category)
			facts++
		}
	}
	if ComparisonKeywords.Match(lower) {
		set = set.With(domain.CategoryComparison)
		cls.Schemes = MentionedSchemes(lower)
	}
	if facts >= 2 {
		set = set.With(domain.CategoryMultiFaceted)
	}
	if set == 0 {
		set = set.With(domain.CategoryGeneral)
	}
	cls.Categories = set
	return cls
}

// IsAdvice reports whether query asks for a recommendation rather than a fact.
func IsAdvice(query string) bool {
	return isAdvice(strings.ToLower(query))
}

func isAdvice(lower string) bool {
	return containsAny(lower, ComparisonAdvicePatterns) || containsAny(lower, AdvicePhrases)
}

// MentionedSchemes returns the allow-listed scheme names present in text.
func MentionedSchemes(text string) []string {
	lower := strings.ToLower(text)
	var out []string
	for _, s := range Schemes {
		if strings.Contains(lower, strings.ToLower(s)) {
			out = append(out, s)
		}
	}
	return out
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
