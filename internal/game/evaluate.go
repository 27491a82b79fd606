// internal/game/evaluate.go
package game

import (
	"strings"
	"unicode"
)

// MaxSentenceScore is the ceiling of the built-in evaluator, matching the
// "Score: n/20" scale shown to players.
const MaxSentenceScore = 20

// normalizeSentence trims surrounding whitespace; interior spacing is the
// player's own.
func normalizeSentence(text string) string {
	return strings.TrimSpace(text)
}

// EvaluateSentence scores a contribution out of MaxSentenceScore. This is
// the server's built-in heuristic; the Redis action feed carries every
// sentence to the external evaluation service, which can re-score
// asynchronously for analytics without affecting live play.
//
// The heuristic rewards sentence mechanics rather than meaning: length,
// word count, an initial capital and terminal punctuation.
func EvaluateSentence(text string) int {
	sentence := normalizeSentence(text)
	if sentence == "" {
		return 0
	}

	score := 4 // base credit for a non-empty contribution

	words := strings.Fields(sentence)
	switch {
	case len(words) >= 8:
		score += 8
	case len(words) >= 5:
		score += 6
	case len(words) >= 3:
		score += 4
	default:
		score += 1
	}

	runes := []rune(sentence)
	if unicode.IsUpper(runes[0]) {
		score += 4
	}
	switch runes[len(runes)-1] {
	case '.', '!', '?':
		score += 4
	}

	if score > MaxSentenceScore {
		score = MaxSentenceScore
	}
	return score
}
