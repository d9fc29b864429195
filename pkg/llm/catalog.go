package llm

import "strings"

// ModelRates are USD prices per 1k tokens.
type ModelRates struct {
	PromptPer1K     float64
	CompletionPer1K float64
}

// catalog maps model name prefixes to pricing. Longest prefix wins.
// Unknown models cost zero; accounting still records their token counts.
var catalog = map[string]ModelRates{
	"gpt-4o":            {PromptPer1K: 0.0025, CompletionPer1K: 0.01},
	"gpt-4o-mini":       {PromptPer1K: 0.00015, CompletionPer1K: 0.0006},
	"gpt-4-turbo":       {PromptPer1K: 0.01, CompletionPer1K: 0.03},
	"gpt-4":             {PromptPer1K: 0.03, CompletionPer1K: 0.06},
	"gpt-3.5-turbo":     {PromptPer1K: 0.0005, CompletionPer1K: 0.0015},
	"o1":                {PromptPer1K: 0.015, CompletionPer1K: 0.06},
	"claude-3-5-sonnet": {PromptPer1K: 0.003, CompletionPer1K: 0.015},
	"claude-3-5-haiku":  {PromptPer1K: 0.0008, CompletionPer1K: 0.004},
	"claude-3-opus":     {PromptPer1K: 0.015, CompletionPer1K: 0.075},
	"claude-3-haiku":    {PromptPer1K: 0.00025, CompletionPer1K: 0.00125},
	"claude-sonnet-4":   {PromptPer1K: 0.003, CompletionPer1K: 0.015},
	"claude-opus-4":     {PromptPer1K: 0.015, CompletionPer1K: 0.075},
}

// RatesFor returns the pricing for a model, matching the longest known
// prefix. ok is false for unknown models.
func RatesFor(model string) (ModelRates, bool) {
	var best ModelRates
	bestLen := 0
	for prefix, rates := range catalog {
		if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			best = rates
			bestLen = len(prefix)
		}
	}
	return best, bestLen > 0
}

// Cost computes the USD cost of a request's usage. Unknown models cost 0.
func Cost(model string, usage Usage) float64 {
	rates, ok := RatesFor(model)
	if !ok {
		return 0
	}
	return float64(usage.PromptTokens)/1000*rates.PromptPer1K +
		float64(usage.CompletionTokens)/1000*rates.CompletionPer1K
}
