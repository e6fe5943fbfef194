package agent

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hupe1980/agencymesh/core"
	"github.com/hupe1980/agencymesh/model"
)

// EstimateTokens approximates the token count of text as runes / 2.7,
// weighting fenced code blocks 1.5x. It never reports zero for non-empty text.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	runes := float64(utf8.RuneCountInString(text))
	if strings.Contains(text, "```") {
		runes *= 1.5
	}
	return int(runes/2.7) + 1
}

// fitPrompt assembles the messages of one request within limit estimated
// tokens. The oldest history is dropped first; a prompt whose system text and
// message alone exceed limit is rejected. A limit of zero disables the check.
func fitPrompt(system string, past []model.Message, msg model.Message, limit int) ([]model.Message, int, error) {
	if limit <= 0 {
		return append(past, msg), 0, nil
	}

	total := EstimateTokens(system) + EstimateTokens(msg.Text)
	if total > limit {
		return nil, 0, &core.InvalidInputError{
			Field:   "message",
			Message: fmt.Sprintf("prompt needs about %d tokens, max_prompt_tokens is %d", total, limit),
		}
	}

	start := len(past)
	for i := len(past) - 1; i >= 0; i-- {
		n := EstimateTokens(past[i].Text)
		if total+n > limit {
			break
		}
		total += n
		start = i
	}
	// The kept window must open with a user turn.
	for start < len(past) && past[start].Role != model.RoleUser {
		start++
	}

	return append(past[start:len(past):len(past)], msg), start, nil
}
