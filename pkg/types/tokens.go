package types

// EstimateTokens estimates the token count of a piece of text.
// Uses a simple heuristic: characters / 4. The average English word is
// ~4 chars and code tokens are similar; good enough for budget math
// without pulling in a tokenizer.
func EstimateTokens(text string) int {
	return len(text) / 4
}
