package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/hupe1980/agencymesh/core"
	"github.com/hupe1980/agencymesh/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateTokens(t *testing.T) {
	assert.Zero(t, EstimateTokens(""))
	assert.Equal(t, 2, EstimateTokens("abc"))
	assert.Equal(t, 11, EstimateTokens(strings.Repeat("a", 27)))
	assert.Equal(t, 11, EstimateTokens(strings.Repeat("ä", 27)))
	assert.Greater(t, EstimateTokens("```"+strings.Repeat("x", 24)), EstimateTokens(strings.Repeat("x", 27)))
}

func TestFitPrompt(t *testing.T) {
	turn := strings.Repeat("a", 27) // 11 tokens
	past := []model.Message{
		{Role: model.RoleUser, Text: turn},
		{Role: model.RoleAssistant, Text: turn},
		{Role: model.RoleUser, Text: turn},
		{Role: model.RoleAssistant, Text: turn},
	}
	msg := model.Message{Role: model.RoleUser, Text: "hi"} // 1 token

	t.Run("unlimited", func(t *testing.T) {
		msgs, dropped, err := fitPrompt("", past, msg, 0)
		require.NoError(t, err)
		assert.Len(t, msgs, 5)
		assert.Zero(t, dropped)
	})

	t.Run("keeps the newest pair", func(t *testing.T) {
		msgs, dropped, err := fitPrompt("", past, msg, 23)
		require.NoError(t, err)
		assert.Equal(t, 2, dropped)
		assert.Equal(t, append(past[2:4:4], msg), msgs)
	})

	t.Run("never opens with an assistant turn", func(t *testing.T) {
		msgs, dropped, err := fitPrompt("", past, msg, 34)
		require.NoError(t, err)
		assert.Equal(t, 2, dropped)
		assert.Equal(t, model.RoleUser, msgs[0].Role)
	})

	t.Run("message alone too large", func(t *testing.T) {
		_, _, err := fitPrompt(turn, past, msg, 5)
		assert.ErrorIs(t, err, core.ErrInvalidInput)
	})
}

func TestRespond_MaxPromptTokens(t *testing.T) {
	llm := model.NewMockModel("mock-1", "mock")
	llm.AddResponse("first question", "first answer")
	llm.AddResponse("second", "second answer")

	a := newTestAgent(t, testConfig(), llm, func(o *Options) {
		o.Instruction = NewInstructionFromText("Be brief.")
		o.HistorySize = 10
	})

	_, err := a.Respond(context.Background(), Input{Message: "first question"})
	require.NoError(t, err)

	// "Be brief." and "second" fit; the earlier exchange does not.
	reply, err := a.Respond(context.Background(), Input{Message: "second", MaxPromptTokens: 8})
	require.NoError(t, err)
	assert.Equal(t, "second answer", reply.Text)
	assert.Len(t, llm.Requests()[1].Messages, 1)

	_, err = a.Respond(context.Background(), Input{Message: strings.Repeat("long ", 20), MaxPromptTokens: 8})
	var inErr *core.InvalidInputError
	require.ErrorAs(t, err, &inErr)
	assert.Equal(t, 2, llm.Calls())
}
