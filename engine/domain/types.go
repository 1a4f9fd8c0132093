// Package domain defines the core types shared by the indexing and query
// pipelines, plus the validation gate at their entry points.
package domain

import "strings"

// Document is the extracted text of one source page, identified by URL.
type Document struct {
	URL  string `json:"url"`
	Text string `json:"text"`
}

// PassageMeta records where a passage came from.
type PassageMeta struct {
	URL         string `json:"url"`
	ChunkIndex  int    `json:"chunk_index"`
	TotalChunks int    `json:"total_chunks"`
}

// Passage is a bounded, retrievable slice of a Document.
type Passage struct {
	ID   string      `json:"id"`
	Text string      `json:"text"`
	Meta PassageMeta `json:"metadata"`
}

// Candidate is a passage returned by similarity search. Every vector store
// returns this shape.
type Candidate struct {
	Passage Passage `json:"passage"`
	Score   float32 `json:"score"`
}

// Category labels what a query asks about.
type Category string

const (
	CategoryExitLoad     Category = "exit_load"
	CategoryExpenseRatio Category = "expense_ratio"
	CategorySIP          Category = "sip"
	CategoryNAV          Category = "nav"
	CategoryAUM          Category = "aum"
	CategoryComparison   Category = "comparison"
	CategoryMultiFaceted Category = "multi_faceted"
	CategoryGeneral      Category = "general"
)

// FactCategories are the single-fact categories counted for multi_faceted.
var FactCategories = []Category{
	CategoryExitLoad, CategoryExpenseRatio, CategorySIP, CategoryNAV, CategoryAUM,
}

var categoryBits = map[Category]CategorySet{
	CategoryExitLoad:     1 << 0,
	CategoryExpenseRatio: 1 << 1,
	CategorySIP:          1 << 2,
	CategoryNAV:          1 << 3,
	CategoryAUM:          1 << 4,
	CategoryComparison:   1 << 5,
	CategoryMultiFaceted: 1 << 6,
	CategoryGeneral:      1 << 7,
}

// allCategories fixes the order used by List and String.
var allCategories = []Category{
	CategoryExitLoad, CategoryExpenseRatio, CategorySIP, CategoryNAV, CategoryAUM,
	CategoryComparison, CategoryMultiFaceted, CategoryGeneral,
}

// CategorySet is a set of categories; several may hold for one query.
type CategorySet uint16

// NewCategorySet builds a set from the given categories.
func NewCategorySet(cs ...Category) CategorySet {
	var s CategorySet
	for _, c := range cs {
		s = s.With(c)
	}
	return s
}

// With returns s with c added.
func (s CategorySet) With(c Category) CategorySet { return s | categoryBits[c] }

// Has reports whether c is in s.
func (s CategorySet) Has(c Category) bool {
	b, ok := categoryBits[c]
	return ok && s&b != 0
}

// List returns the members of s in canonical order.
func (s CategorySet) List() []Category {
	var out []Category
	for _, c := range allCategories {
		if s.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

func (s CategorySet) String() string {
	parts := make([]string, 0, len(allCategories))
	for _, c := range s.List() {
		parts = append(parts, string(c))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// Classification is the result of inspecting a query before retrieval.
type Classification struct {
	IsAdvice   bool        `json:"is_advice"`
	Categories CategorySet `json:"categories"`
	// Schemes holds allow-listed scheme names found in a comparison query.
	Schemes []string `json:"schemes,omitempty"`
}

// Answer is the record returned for every query. It is built fresh per query
// and never mutated afterwards.
type Answer struct {
	Answer    string  `json:"answer"`
	Citation  *string `json:"citation"`
	Refused   bool    `json:"refused"`
	Timestamp string  `json:"timestamp"`
}

// DateLayout is the Answer timestamp format.
const DateLayout = "2006-01-02"
