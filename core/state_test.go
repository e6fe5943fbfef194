package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageState_Transitions(t *testing.T) {
	assert.True(t, StateSubmitted.CanTransition(StateRouteValidated))
	assert.True(t, StateSubmitted.CanTransition(StateFailed))
	assert.False(t, StateSubmitted.CanTransition(StateDispatched))
	assert.True(t, StateRouteValidated.CanTransition(StateDispatched))
	assert.True(t, StateDispatched.CanTransition(StateCompleted))
	assert.True(t, StateDispatched.CanTransition(StateFailed))
	assert.False(t, StateCompleted.CanTransition(StateFailed))
	assert.False(t, StateFailed.CanTransition(StateSubmitted))
}

func TestMessageState_String(t *testing.T) {
	assert.Equal(t, "ROUTE_VALIDATED", StateRouteValidated.String())
	assert.Equal(t, "UNKNOWN", MessageState(42).String())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateDispatched.Terminal())
}
