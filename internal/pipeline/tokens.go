package pipeline

import (
	"math"
	"strings"
)

// CountWords returns the whitespace-separated word count.
func CountWords(s string) int {
	return len(strings.Fields(s))
}

// EstimateTokens approximates the token count as ceil(words * 1.33), the
// usual English words-to-tokens ratio. Close enough for budgeting without
// shipping a tokenizer.
func EstimateTokens(s string) int {
	return int(math.Ceil(float64(CountWords(s)) * 1.33))
}
