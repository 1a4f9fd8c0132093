package classify

import (
	"strings"

	"github.com/mffacts/mffacts/engine/domain"
)

// EducationalLink is cited by every refusal.
const EducationalLink = "https://www.amfiindia.com/investor-corner/knowledge-center"

// RefusalText is returned verbatim for advice queries.
const RefusalText = "I can only provide factual information about mutual fund schemes, not investment advice. " +
	"For educational resources about mutual funds, please visit: " + EducationalLink

// AdvicePhrases mark a query as a request for investment advice.
var AdvicePhrases = []string{
	"should i", "should i buy", "should i sell", "should i invest",
	"is it good", "is it bad", "is it worth", "worth investing",
	"recommend", "recommendation", "advice", "suggest",
	"best", "worst", "better", "compare returns",
	"portfolio", "allocation", "how much to invest",
	"which would you recommend", "which would you choose",
}

// ComparisonAdvicePatterns ask the assistant to pick between schemes.
var ComparisonAdvicePatterns = []string{
	"which is better", "should i choose", "which one should i pick",
}

// Schemes is the allow-list of scheme names recognised in comparisons.
var Schemes = []string{
	"Groww Value Fund",
	"Groww Large Cap Fund",
	"Groww Aggressive Hybrid Fund",
	"Groww Liquid Fund",
}

// ComparisonWeight is added to a passage naming a scheme from the query.
const ComparisonWeight = 3

// ComparisonKeywords put a query in the comparison category.
var ComparisonKeywords = NewKeywords("compare", "which has", "which one has", "difference between", "vs", "versus")

// exitLoadPassage catches "exit load", "Exit  Load" and "exitload" alike.
var exitLoadPassage = Keywords{Compact: true, terms: []string{"exitload"}}

// Rule ties a fact category to the keywords that detect it in a query and
// in a passage, and to the passage score it contributes.
type Rule struct {
	Category domain.Category
	Query    Keywords
	Passage  Keywords
	Weight   int
}

// Rules drive both query classification and passage reranking.
var Rules = []Rule{
	{
		Category: domain.CategoryExitLoad,
		Query:    NewKeywords("exit load", "exitload", "withdrawal", "redemption"),
		Passage:  exitLoadPassage,
		Weight:   5,
	},
	{
		Category: domain.CategoryExpenseRatio,
		Query:    NewKeywords("expense ratio", "expenseratio", "ter"),
		Passage:  NewKeywords("expense ratio", "ter"),
		Weight:   5,
	},
	{
		Category: domain.CategorySIP,
		Query:    NewKeywords("sip", "systematic investment plan", "minimum investment"),
		Passage:  NewKeywords("sip", "systematic investment plan", "minimum investment"),
		Weight:   5,
	},
	{
		Category: domain.CategoryNAV,
		Query:    NewKeywords("nav", "net asset value"),
		Passage:  NewKeywords("nav", "net asset value"),
		Weight:   2,
	},
	{
		Category: domain.CategoryAUM,
		Query:    NewKeywords("aum", "assets under management"),
		Passage:  NewKeywords("aum", "assets under management"),
		Weight:   2,
	},
}

// Keywords matches lowercased text against a fixed term list by substring
// membership, so "ter" also fires inside longer words.
type Keywords struct {
	// Compact matches against the text with all whitespace removed.
	Compact bool
	terms   []string
}

// NewKeywords builds a matcher for the given lowercase terms.
func NewKeywords(terms ...string) Keywords {
	return Keywords{terms: terms}
}

// Match reports whether any term occurs in lower.
func (k Keywords) Match(lower string) bool {
	if k.Compact {
		lower = strings.Join(strings.Fields(lower), "")
	}
	for _, t := range k.terms {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}
