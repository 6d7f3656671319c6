package prompt

// CharsPerToken is the rough character-to-token ratio used everywhere a
// budget is enforced. Providers tokenize differently; four chars per token
// is a conservative estimate for English prose.
const CharsPerToken = 4

// EstimateTokens returns ceil(len(s) / CharsPerToken).
func EstimateTokens(s string) int {
	return (len(s) + CharsPerToken - 1) / CharsPerToken
}
