package fallback

import "github.com/nidhogg/jarvis-hub/internal/provider"

// fitHistory drops the oldest turns until the estimated size of history
// fits budget tokens. A budget of zero or less keeps everything.
func fitHistory(history []provider.Message, budget int) []provider.Message {
	if budget <= 0 {
		return history
	}
	total := estimateTokens(history)
	for len(history) > 0 && total > budget {
		total -= estimateTokensStr(history[0].Content)
		history = history[1:]
	}
	return history
}

// estimateTokens estimates total tokens for a slice of messages.
func estimateTokens(msgs []provider.Message) int {
	total := 0
	for _, m := range msgs {
		total += estimateTokensStr(m.Content)
	}
	return total
}

// estimateTokensStr assumes roughly four bytes per token.
func estimateTokensStr(s string) int {
	return (len(s) + 3) / 4
}
