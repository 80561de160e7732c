package normalize

import (
	"strconv"

	"github.com/syaikhipin/ipinproxy/internal/domain"
)

// Providers disagree on usage field names; the first present alias wins.
var (
	promptAliases     = []string{"prompt_tokens", "promptTokens", "input_tokens", "inputTokens", "prompt"}
	completionAliases = []string{"completion_tokens", "completionTokens", "output_tokens", "outputTokens", "completion"}
	totalAliases      = []string{"total_tokens", "totalTokens", "total"}
)

// Usage reconciles any usage-shaped value into canonical token counts.
// Missing or unusable fields default to 0; total_tokens comes from an
// explicit total alias when the upstream supplied one (preserved even when it
// disagrees with the sum), otherwise prompt + completion.
func Usage(raw any) domain.Usage {
	obj, ok := raw.(map[string]any)
	if !ok {
		return domain.Usage{}
	}

	prompt := aliasValue(obj, promptAliases)
	completion := aliasValue(obj, completionAliases)

	total, found := aliasLookup(obj, totalAliases)
	if !found {
		total = prompt + completion
	}

	return domain.Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      total,
	}
}

func aliasValue(obj map[string]any, aliases []string) int {
	v, _ := aliasLookup(obj, aliases)
	return v
}

func aliasLookup(obj map[string]any, aliases []string) (int, bool) {
	for _, alias := range aliases {
		if v, ok := obj[alias]; ok {
			return tokenCount(v), true
		}
	}
	return 0, false
}

// tokenCount coerces a value to a non-negative integer count.
func tokenCount(v any) int {
	var n int
	switch val := v.(type) {
	case float64:
		n = int(val)
	case int:
		n = val
	case int64:
		n = int(val)
	case string:
		parsed, err := strconv.Atoi(val)
		if err != nil {
			return 0
		}
		n = parsed
	default:
		return 0
	}
	if n < 0 {
		return 0
	}
	return n
}
