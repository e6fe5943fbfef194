package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypedErrors_MatchSentinels(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"configuration", NewConfigurationError("temperature", "out of range"), ErrConfiguration},
		{"routing", &RoutingError{From: "a", To: "b", Reason: "no edge"}, ErrRouting},
		{"provider", NewProviderError("claude", KindRateLimited, errors.New("429")), ErrProvider},
		{"round limit", &RoundLimitError{Limit: 1, Rounds: 2}, ErrRoundLimitExceeded},
		{"input", &InvalidInputError{Field: "message", Message: "empty"}, ErrInvalidInput},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tc.err)
			assert.ErrorIs(t, wrapped, tc.sentinel)
		})
	}
}

func TestDispatchError_UnwrapsToProviderError(t *testing.T) {
	pe := NewProviderError("gemini", KindSafetyBlocked, errors.New("blocked"))
	err := &DispatchError{Agent: "writer", From: "ceo", To: "writer", Err: pe}

	got, ok := AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, KindSafetyBlocked, got.Kind)
	assert.False(t, got.Retryable())
	assert.Contains(t, err.Error(), "ceo -> writer")
}

func TestChainError_KeepsPartial(t *testing.T) {
	err := &ChainError{Step: 2, Agent: "c", Partial: "from b", Err: &RoutingError{Reason: "x"}}

	assert.ErrorIs(t, err, ErrRouting)
	assert.Equal(t, "from b", err.Partial)
	assert.Contains(t, err.Error(), "step 2")
}

func TestProviderErrorKind_Transient(t *testing.T) {
	assert.True(t, KindRateLimited.Transient())
	assert.True(t, KindServerError.Transient())
	assert.True(t, KindTimeout.Transient())
	assert.False(t, KindContextLengthExceeded.Transient())
	assert.False(t, KindSafetyBlocked.Transient())
	assert.False(t, KindInvalidRequest.Transient())
}

func TestParseProviderErrorKind(t *testing.T) {
	k, err := ParseProviderErrorKind(" Rate_Limited ")
	require.NoError(t, err)
	assert.Equal(t, KindRateLimited, k)

	_, err = ParseProviderErrorKind("flaky")
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestRoutingError_MessageNamesMissingEndpoints(t *testing.T) {
	err := &RoutingError{To: "qa", Reason: "unknown agent"}
	assert.Equal(t, "routing error (<none> -> qa): unknown agent", err.Error())
}
