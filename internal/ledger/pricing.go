package ledger

import "strings"

// Rate is the price per single token, in USD.
type Rate struct {
	Input  float64
	Output float64
}

// RateTable maps model ids to per-token prices. Models absent from the table
// price at the rate of DefaultModel.
type RateTable struct {
	Models       map[string]Rate
	DefaultModel string
}

// Lookup returns the rate for a model, falling back to the default model's
// rate for unknown models. Matching ignores a provider prefix such as
// "openai/" that gateway-style providers prepend to model ids.
func (t RateTable) Lookup(model string) Rate {
	if r, ok := t.Models[model]; ok {
		return r
	}
	if i := strings.LastIndex(model, "/"); i >= 0 {
		if r, ok := t.Models[model[i+1:]]; ok {
			return r
		}
	}
	return t.Models[t.DefaultModel]
}

// DefaultRates is the static pricing table. Prices are USD per token
// (vendor list prices are per million tokens; divide by 1e6).
func DefaultRates() RateTable {
	return RateTable{
		DefaultModel: "gpt-4o-mini",
		Models: map[string]Rate{
			"gpt-4o":                   {Input: 2.50 / 1e6, Output: 10.00 / 1e6},
			"gpt-4o-mini":              {Input: 0.15 / 1e6, Output: 0.60 / 1e6},
			"gpt-4.1":                  {Input: 2.00 / 1e6, Output: 8.00 / 1e6},
			"gpt-4.1-mini":             {Input: 0.40 / 1e6, Output: 1.60 / 1e6},
			"o3-mini":                  {Input: 1.10 / 1e6, Output: 4.40 / 1e6},
			"claude-sonnet-4-20250514": {Input: 3.00 / 1e6, Output: 15.00 / 1e6},
			"claude-3-5-haiku-latest":  {Input: 0.80 / 1e6, Output: 4.00 / 1e6},
			"llama-3.3-70b-versatile":  {Input: 0.59 / 1e6, Output: 0.79 / 1e6},
			"deepseek-chat":            {Input: 0.27 / 1e6, Output: 1.10 / 1e6},
		},
	}
}
