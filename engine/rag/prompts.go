package rag

import (
	"fmt"

	"github.com/mffacts/mffacts/engine/domain"
)

// Template is a system instruction set for one kind of query.
type Template struct {
	Name   string
	System string
}

var (
	multiFacetedTemplate = Template{
		Name: "multi_faceted",
		System: `You are an expert mutual fund assistant providing multiple pieces of information.
Your role is to provide clear, factual answers to all parts of the query based only on the provided context.

Rules for responses:
1. Address each part of the query separately under its own heading
2. Be specific about the values (e.g., percentages, amounts)
3. If information for any part is missing, clearly state what's missing
4. Never rank schemes or recommend what to buy
5. Always cite the source URL for the information`,
	}

	comparisonTemplate = Template{
		Name: "comparison",
		System: `You are an expert mutual fund assistant specializing in comparing mutual fund schemes.
Your role is to provide clear, factual comparisons based only on the provided context.

Rules for comparison responses:
1. List each scheme and its relevant details in a clear, structured format
2. Be specific about the values being compared (expense ratios, exit loads, etc.)
3. If the context covers some schemes but not others, clearly state what information is missing
4. Never say which scheme is better and never recommend one
5. Always cite the source URL for the information`,
	}

	exitLoadTemplate = Template{
		Name: "exit_load",
		System: `You are an expert mutual fund assistant specializing in exit load information.
Your role is to provide clear, accurate information about exit loads based only on the provided context.

Rules for exit load responses:
1. Be specific about the exit load percentage and holding period
2. If multiple exit loads are mentioned, list them clearly
3. If no exit load is mentioned, state that clearly
4. Keep the response concise but complete (max 3 sentences)
5. Never give investment advice
6. Always cite the source URL for the information`,
	}

	expenseRatioTemplate = Template{
		Name: "expense_ratio",
		System: `You are an expert mutual fund assistant specializing in expense ratio information.
Your role is to provide clear, accurate information about expense ratios based only on the provided context.

Rules for expense ratio responses:
1. State the exact expense ratio percentage if available
2. Mention if it's the direct or regular plan if specified
3. Note any additional charges if mentioned
4. If the context has no expense ratio, say so
5. Keep the response concise (max 3 sentences) and never give investment advice
6. Always cite the source URL for the information`,
	}

	sipTemplate = Template{
		Name: "sip",
		System: `You are an expert mutual fund assistant specializing in SIP information.
Your role is to provide clear, accurate information about SIPs based only on the provided context.

Rules for SIP responses:
1. State the minimum SIP amount if available
2. Mention any frequency options (monthly, quarterly, etc.)
3. Note any special conditions or requirements
4. If the context has no SIP details, say so
5. Keep the response concise (max 3 sentences) and never give investment advice
6. Always cite the source URL for the information`,
	}

	generalTemplate = Template{
		Name: "general",
		System: `You are a facts-only assistant for mutual fund information. Your role is to provide concise, factual answers based ONLY on the provided context.

Rules:
1. Answer in maximum 3 sentences
2. Only state facts from the context - no opinions, no advice
3. Be precise and clear
4. If the context doesn't contain the answer, say so clearly
5. Never provide investment advice, recommendations, or comparisons of returns
6. Focus on factual information like expense ratios, exit loads, minimum SIP amounts, etc.`,
	}
)

// templateOrder is checked first to last; general is the fallback.
var templateOrder = []struct {
	category domain.Category
	tmpl     Template
}{
	{domain.CategoryMultiFaceted, multiFacetedTemplate},
	{domain.CategoryComparison, comparisonTemplate},
	{domain.CategoryExitLoad, exitLoadTemplate},
	{domain.CategoryExpenseRatio, expenseRatioTemplate},
	{domain.CategorySIP, sipTemplate},
}

// SelectTemplate picks the instruction set for a classified query.
func SelectTemplate(cls domain.Classification) Template {
	for _, t := range templateOrder {
		if cls.Categories.Has(t.category) {
			return t.tmpl
		}
	}
	return generalTemplate
}

// metricGuides spell out the expected section for each requested fact in a
// multi-faceted answer.
var metricGuides = []struct {
	category domain.Category
	text     string
}{
	{domain.CategoryExitLoad, `Exit Load:
   - State the exit load percentage
   - Mention any holding period requirements
   - Example: "Exit Load: 1% if redeemed within 1 year"`},
	{domain.CategoryExpenseRatio, `Expense Ratio:
   - State the exact percentage
   - Mention if it's for direct or regular plan if specified
   - Example: "Expense Ratio: 0.50% (Direct Plan)"`},
	{domain.CategorySIP, `Minimum SIP Amount:
   - State the minimum amount
   - Mention any frequency options if available
   - Example: "Minimum SIP: ₹500 per month"`},
	{domain.CategoryNAV, `NAV:
   - State the latest NAV and its date if given`},
	{domain.CategoryAUM, `AUM (Fund Size):
   - State the assets under management and the unit (e.g. ₹ Cr)`},
}

// UserPrompt embeds the context and the raw query.
func UserPrompt(cls domain.Classification, context, query string) string {
	if !cls.Categories.Has(domain.CategoryMultiFaceted) {
		return fmt.Sprintf(`Context from source documents:
%s

Question: %s

Provide a factual answer based ONLY on the context above. If the context doesn't contain the answer, say that you couldn't find this information in the source documents.`, context, query)
	}

	guides := ""
	n := 0
	for _, g := range metricGuides {
		if cls.Categories.Has(g.category) {
			n++
			guides += fmt.Sprintf("%d. %s\n\n", n, g.text)
		}
	}
	return fmt.Sprintf(`Context from source documents:
%s

Question: %s

Please provide a complete response addressing all requested metrics. For each metric:

%sIf any information is not available in the context, clearly state which specific metric is missing.

Format your response with clear section headers for each metric.`, context, query, guides)
}

const (
	// Temperature keeps generation close to deterministic.
	Temperature = 0.1
	// ShortAnswerTokens bounds single-fact answers.
	ShortAnswerTokens = 250
	// LongAnswerTokens bounds comparison and multi-faceted answers.
	LongAnswerTokens = 500
)

// MaxTokens returns the generation budget for a query.
func MaxTokens(cls domain.Classification) int {
	if cls.Categories.Has(domain.CategoryComparison) || cls.Categories.Has(domain.CategoryMultiFaceted) {
		return LongAnswerTokens
	}
	return ShortAnswerTokens
}
