package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hupe1980/agencymesh/core"
	"github.com/hupe1980/agencymesh/logging"
	"github.com/hupe1980/agencymesh/model"
	"github.com/hupe1980/agencymesh/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func fastRetry(attempts int) *RetryPolicy {
	return &RetryPolicy{MaxRetries: attempts, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func testConfig() Config {
	return Config{Name: "support", Description: "Answers customer questions", Temperature: 0.2}
}

func newTestAgent(t *testing.T, cfg Config, llm model.Model, optFns ...func(o *Options)) *Agent {
	t.Helper()
	a, err := New(cfg, llm, optFns...)
	require.NoError(t, err)
	return a
}

func providerErr(kind core.ProviderErrorKind) error {
	return core.NewProviderError("mock", kind, errors.New(string(kind)))
}

func TestProcess_ReturnsProviderText(t *testing.T) {
	llm := model.NewMockModel("mock-1", "mock")
	llm.AddResponse("hello", "Hi there")

	a := newTestAgent(t, testConfig(), llm)

	out, err := a.Process(context.Background(), "hello", "")
	require.NoError(t, err)
	assert.Equal(t, "Hi there", out)
	assert.Equal(t, 1, llm.Calls())
}

func TestRespond_EmptyMessage(t *testing.T) {
	llm := model.NewMockModel("mock-1", "mock")
	a := newTestAgent(t, testConfig(), llm)

	for _, msg := range []string{"", "   \n\t"} {
		_, err := a.Respond(context.Background(), Input{Message: msg})
		require.Error(t, err)
		assert.ErrorIs(t, err, core.ErrInvalidInput)
	}
	assert.Zero(t, llm.Calls())
}

func TestRespond_RetriesTransientFailures(t *testing.T) {
	llm := model.NewMockModel("mock-1", "mock")
	llm.FailTimes(2, providerErr(core.KindRateLimited))
	llm.AddResponse("ping", "pong")

	cfg := testConfig()
	cfg.Retry = fastRetry(3)

	obs, logs := observer.New(zap.DebugLevel)
	a := newTestAgent(t, cfg, llm, func(o *Options) {
		o.Logger = logging.NewZapAdapter(zap.New(obs))
	})

	reply, err := a.Respond(context.Background(), Input{Message: "ping"})
	require.NoError(t, err)
	assert.Equal(t, "pong", reply.Text)
	assert.Equal(t, 3, reply.Attempts)
	assert.Equal(t, 3, llm.Calls())
	assert.Equal(t, 2, logs.FilterMessage("agent.retry.scheduled").Len())
}

func TestRespond_RetryExhausted(t *testing.T) {
	llm := model.NewMockModel("mock-1", "mock")
	llm.FailTimes(5, providerErr(core.KindServerError))

	cfg := testConfig()
	cfg.Retry = fastRetry(2)
	a := newTestAgent(t, cfg, llm)

	reply, err := a.Respond(context.Background(), Input{Message: "ping"})
	require.Error(t, err)

	pe, ok := core.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, core.KindServerError, pe.Kind)
	assert.Equal(t, 2, pe.Attempts)
	assert.Equal(t, 2, reply.Attempts)
	assert.Equal(t, 2, llm.Calls())
}

func TestRespond_PermanentKindsAreNotRetried(t *testing.T) {
	for _, kind := range []core.ProviderErrorKind{
		core.KindSafetyBlocked,
		core.KindContextLengthExceeded,
		core.KindInvalidRequest,
	} {
		t.Run(string(kind), func(t *testing.T) {
			llm := model.NewMockModel("mock-1", "mock")
			llm.FailTimes(3, providerErr(kind))

			cfg := testConfig()
			cfg.Retry = fastRetry(3)
			a := newTestAgent(t, cfg, llm)

			_, err := a.Respond(context.Background(), Input{Message: "ping"})
			pe, ok := core.AsProviderError(err)
			require.True(t, ok)
			assert.Equal(t, kind, pe.Kind)
			assert.Equal(t, 1, pe.Attempts)
			assert.Equal(t, 1, llm.Calls())
		})
	}
}

func TestRespond_RetryOnSubset(t *testing.T) {
	llm := model.NewMockModel("mock-1", "mock")
	llm.FailTimes(3, providerErr(core.KindServerError))

	cfg := testConfig()
	cfg.Retry = fastRetry(3)
	cfg.Retry.RetryOn = []core.ProviderErrorKind{core.KindRateLimited}
	a := newTestAgent(t, cfg, llm)

	_, err := a.Respond(context.Background(), Input{Message: "ping"})
	require.Error(t, err)
	assert.Equal(t, 1, llm.Calls())
}

func TestRespond_UnknownErrorsAreWrapped(t *testing.T) {
	llm := model.NewMockModel("mock-1", "mock")
	llm.FailTimes(1, errors.New("socket closed"))

	cfg := testConfig()
	cfg.Retry = fastRetry(3)
	a := newTestAgent(t, cfg, llm)

	_, err := a.Respond(context.Background(), Input{Message: "ping"})
	pe, ok := core.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, core.KindUnknown, pe.Kind)
	assert.Equal(t, 1, llm.Calls())
}

func TestRespond_AttemptTimeoutIsTransient(t *testing.T) {
	llm := model.NewMockModel("mock-1", "mock")
	llm.Enqueue(model.MockStep{Text: "late", Delay: time.Second})
	llm.AddResponse("ping", "pong")

	cfg := testConfig()
	cfg.Retry = fastRetry(2)
	a := newTestAgent(t, cfg, llm)

	reply, err := a.Respond(context.Background(), Input{Message: "ping", Timeout: 20 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, "pong", reply.Text)
	assert.Equal(t, 2, reply.Attempts)
}

func TestRespond_AttemptTimeoutExhausted(t *testing.T) {
	llm := model.NewMockModel("mock-1", "mock")
	llm.Enqueue(
		model.MockStep{Text: "late", Delay: time.Second},
		model.MockStep{Text: "late", Delay: time.Second},
	)

	cfg := testConfig()
	cfg.Retry = fastRetry(2)
	a := newTestAgent(t, cfg, llm)

	_, err := a.Respond(context.Background(), Input{Message: "ping", Timeout: 10 * time.Millisecond})
	pe, ok := core.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, core.KindTimeout, pe.Kind)
	assert.Equal(t, 2, pe.Attempts)
}

func TestRespond_CallerCancellation(t *testing.T) {
	llm := model.NewMockModel("mock-1", "mock")
	llm.Enqueue(model.MockStep{Text: "late", Delay: 5 * time.Second})

	cfg := testConfig()
	cfg.Retry = fastRetry(3)
	a := newTestAgent(t, cfg, llm)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := a.Respond(ctx, Input{Message: "ping"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, llm.Calls())
}

func TestRespond_DefaultRetryFromInput(t *testing.T) {
	llm := model.NewMockModel("mock-1", "mock")
	llm.FailTimes(3, providerErr(core.KindRateLimited))

	a := newTestAgent(t, testConfig(), llm)

	_, err := a.Respond(context.Background(), Input{Message: "ping", DefaultRetry: fastRetry(1)})
	require.Error(t, err)
	assert.Equal(t, 1, llm.Calls())
}

func TestRespond_SystemPrompt(t *testing.T) {
	llm := model.NewMockModel("mock-1", "mock")

	a := newTestAgent(t, testConfig(), llm, func(o *Options) {
		o.Instruction = NewInstructionFromText("You are {{.AgentName}}. {{.Description}}.")
	})

	_, err := a.Respond(context.Background(), Input{Message: "hi", SharedInstructions: "Be polite."})
	require.NoError(t, err)

	reqs := llm.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "Be polite.\n\nYou are support. Answers customer questions.", reqs[0].System)
}

func TestRespond_SystemPromptWithoutShared(t *testing.T) {
	llm := model.NewMockModel("mock-1", "mock")

	a := newTestAgent(t, testConfig(), llm, func(o *Options) {
		o.Instruction = NewInstructionFromFunc(func(context.Context) (string, error) {
			return "Dynamic rules", nil
		})
	})

	_, err := a.Respond(context.Background(), Input{Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "Dynamic rules", llm.Requests()[0].System)
}

func TestRespond_InvalidDynamicInstruction(t *testing.T) {
	llm := model.NewMockModel("mock-1", "mock")

	a := newTestAgent(t, testConfig(), llm, func(o *Options) {
		o.Instruction = NewInstructionFromFunc(func(context.Context) (string, error) {
			return "Render with {{ name }} placeholders", nil
		})
	})

	_, err := a.Process(context.Background(), "hi", "")
	var cfgErr *core.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "instruction", cfgErr.Field)
	assert.Zero(t, llm.Calls())
}

func TestRespond_Transform(t *testing.T) {
	llm := model.NewMockModel("mock-1", "mock")

	a := newTestAgent(t, testConfig(), llm, func(o *Options) {
		o.Transform = func(req model.Request) model.Request {
			req.System = strings.ToUpper(req.System)
			return req
		}
		o.Instruction = NewInstructionFromText("quiet")
	})

	_, err := a.Respond(context.Background(), Input{Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "QUIET", llm.Requests()[0].System)
}

func TestRespond_StreamingChunks(t *testing.T) {
	llm := model.NewMockModel("mock-1", "mock")
	llm.AddResponse("hi", "streamed")

	cfg := testConfig()
	cfg.Streaming = true
	a := newTestAgent(t, cfg, llm)

	var chunks []string
	reply, err := a.Respond(context.Background(), Input{
		Message: "hi",
		OnChunk: func(c string) { chunks = append(chunks, c) },
	})
	require.NoError(t, err)
	assert.Equal(t, "streamed", reply.Text)
	assert.Equal(t, "streamed", strings.Join(chunks, ""))
	assert.Len(t, chunks, len("streamed"))
}

func lookupTool() tool.Tool {
	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"order": map[string]any{"type": "string"},
		},
		"required": []string{"order"},
	}
	return tool.NewFunctionTool("lookup_order", "Look up an order", params, func(_ context.Context, args map[string]any) (any, error) {
		return map[string]any{"order": args["order"], "status": "shipped"}, nil
	})
}

func TestRespond_ToolLoop(t *testing.T) {
	llm := model.NewMockModel("mock-1", "mock")
	llm.Enqueue(
		model.MockStep{ToolCalls: []model.ToolCall{{ID: "c1", Name: "lookup_order", Arguments: json.RawMessage(`{"order":"A-1"}`)}}},
		model.MockStep{Text: "Your order shipped."},
	)

	a := newTestAgent(t, testConfig(), llm, func(o *Options) {
		o.Tools = []tool.Tool{lookupTool()}
	})

	reply, err := a.Respond(context.Background(), Input{Message: "where is A-1?"})
	require.NoError(t, err)
	assert.Equal(t, "Your order shipped.", reply.Text)
	assert.Equal(t, 2, reply.Attempts)

	reqs := llm.Requests()
	require.Len(t, reqs, 2)
	require.Len(t, reqs[0].Tools, 1)
	assert.Equal(t, "lookup_order", reqs[0].Tools[0].Name)

	msgs := reqs[1].Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.Equal(t, model.RoleTool, msgs[2].Role)
	require.Len(t, msgs[2].ToolResults, 1)
	assert.Equal(t, "c1", msgs[2].ToolResults[0].CallID)
	assert.JSONEq(t, `{"order":"A-1","status":"shipped"}`, msgs[2].ToolResults[0].Content)
}

func TestRespond_ToolValidationError(t *testing.T) {
	llm := model.NewMockModel("mock-1", "mock")
	llm.Enqueue(model.MockStep{ToolCalls: []model.ToolCall{{ID: "c1", Name: "lookup_order", Arguments: json.RawMessage(`{}`)}}})

	a := newTestAgent(t, testConfig(), llm, func(o *Options) {
		o.Tools = []tool.Tool{lookupTool()}
	})

	_, err := a.Respond(context.Background(), Input{Message: "where?"})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrTool)

	var toolErr *tool.ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, tool.CodeValidation, toolErr.Code)
}

func TestRespond_UnknownTool(t *testing.T) {
	llm := model.NewMockModel("mock-1", "mock")
	llm.Enqueue(model.MockStep{ToolCalls: []model.ToolCall{{ID: "c1", Name: "rm_rf"}}})

	a := newTestAgent(t, testConfig(), llm)

	_, err := a.Respond(context.Background(), Input{Message: "do it"})
	var toolErr *tool.ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, tool.CodeNotFound, toolErr.Code)
}

func TestRespond_ToolRoundLimit(t *testing.T) {
	llm := model.NewMockModel("mock-1", "mock")
	call := model.MockStep{ToolCalls: []model.ToolCall{{ID: "c", Name: "lookup_order", Arguments: json.RawMessage(`{"order":"A"}`)}}}
	llm.Enqueue(call, call, call)

	a := newTestAgent(t, testConfig(), llm, func(o *Options) {
		o.Tools = []tool.Tool{lookupTool()}
		o.MaxToolRounds = 2
	})

	_, err := a.Respond(context.Background(), Input{Message: "loop"})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrTool)
	assert.Equal(t, 2, llm.Calls())
}

func TestRespond_Delegation(t *testing.T) {
	llm := model.NewMockModel("mock-1", "mock")
	llm.Enqueue(model.MockStep{
		Text: "Handing over.",
		ToolCalls: []model.ToolCall{{
			ID:        "c1",
			Name:      tool.SendMessageToolName,
			Arguments: json.RawMessage(`{"recipient":"billing","message":"refund order A-1"}`),
		}},
	})

	a := newTestAgent(t, testConfig(), llm)

	reply, err := a.Respond(context.Background(), Input{Message: "refund please", Recipients: []string{"billing"}})
	require.NoError(t, err)
	require.NotNil(t, reply.Delegation)
	assert.Equal(t, "billing", reply.Delegation.Recipient)
	assert.Equal(t, "refund order A-1", reply.Delegation.Message)
	assert.Equal(t, "Handing over.", reply.Text)

	tools := llm.Requests()[0].Tools
	require.Len(t, tools, 1)
	assert.Equal(t, tool.SendMessageToolName, tools[0].Name)
}

func TestRespond_NoDelegationToolWithoutRecipients(t *testing.T) {
	llm := model.NewMockModel("mock-1", "mock")
	a := newTestAgent(t, testConfig(), llm)

	_, err := a.Respond(context.Background(), Input{Message: "hi"})
	require.NoError(t, err)
	assert.Empty(t, llm.Requests()[0].Tools)
}

func TestRespond_History(t *testing.T) {
	llm := model.NewMockModel("mock-1", "mock")
	a := newTestAgent(t, testConfig(), llm, func(o *Options) { o.HistorySize = 4 })

	for _, msg := range []string{"one", "two", "three"} {
		_, err := a.Respond(context.Background(), Input{Message: msg})
		require.NoError(t, err)
	}

	reqs := llm.Requests()
	require.Len(t, reqs, 3)
	assert.Len(t, reqs[0].Messages, 1)
	assert.Len(t, reqs[1].Messages, 3)
	assert.Len(t, reqs[2].Messages, 5)
	assert.Equal(t, "one", reqs[2].Messages[0].Text)
	assert.Equal(t, "two", a.History()[0].Text)

	assert.Len(t, a.History(), 4)
	a.ResetHistory()
	assert.Empty(t, a.History())
}

func TestRespond_StatelessByDefault(t *testing.T) {
	llm := model.NewMockModel("mock-1", "mock")
	a := newTestAgent(t, testConfig(), llm)

	_, _ = a.Respond(context.Background(), Input{Message: "one"})
	_, _ = a.Respond(context.Background(), Input{Message: "two"})

	assert.Len(t, llm.Requests()[1].Messages, 1)
	assert.Empty(t, a.History())
}

func TestRunTool(t *testing.T) {
	a := newTestAgent(t, testConfig(), model.NewMockModel("mock-1", "mock"), func(o *Options) {
		o.Tools = []tool.Tool{lookupTool()}
	})

	out, err := a.RunTool(context.Background(), "lookup_order", map[string]any{"order": "B-2"})
	require.NoError(t, err)
	assert.Equal(t, "shipped", out.(map[string]any)["status"])

	_, err = a.RunTool(context.Background(), "missing", nil)
	var toolErr *tool.ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, tool.CodeNotFound, toolErr.Code)
}

func TestNew_Validation(t *testing.T) {
	llm := model.NewMockModel("mock-1", "mock")

	tests := []struct {
		name  string
		cfg   func(c *Config)
		opts  func(o *Options)
		noLLM bool
		field string
	}{
		{name: "empty name", cfg: func(c *Config) { c.Name = " " }, field: "name"},
		{name: "empty description", cfg: func(c *Config) { c.Description = "" }, field: "description"},
		{name: "temperature above one", cfg: func(c *Config) { c.Temperature = 1.5 }, field: "temperature"},
		{name: "negative temperature", cfg: func(c *Config) { c.Temperature = -0.1 }, field: "temperature"},
		{name: "unknown model", cfg: func(c *Config) { c.Provider = "openai"; c.Model = "gpt-2" }, field: "model"},
		{name: "bad retry", cfg: func(c *Config) { c.Retry = &RetryPolicy{MaxRetries: -1} }, field: "retry_config.max_retries"},
		{name: "permanent retry_on", cfg: func(c *Config) {
			c.Retry = &RetryPolicy{RetryOn: []core.ProviderErrorKind{core.KindSafetyBlocked}}
		}, field: "retry_config.retry_on"},
		{name: "nil model", noLLM: true, field: "model"},
		{name: "tool round limit", opts: func(o *Options) { o.MaxToolRounds = 0 }, field: "max_tool_rounds"},
		{name: "negative history", opts: func(o *Options) { o.HistorySize = -1 }, field: "history_size"},
		{name: "duplicate tool", opts: func(o *Options) { o.Tools = []tool.Tool{lookupTool(), lookupTool()} }, field: "tools.lookup_order"},
		{name: "reserved tool", opts: func(o *Options) { o.Tools = []tool.Tool{tool.NewSendMessageTool(nil)} }, field: "tools.send_message"},
		{name: "unparseable instruction", opts: func(o *Options) {
			o.Instruction = NewInstructionFromText("Render with {{ name }} placeholders")
		}, field: "instruction"},
		{name: "unknown instruction key", opts: func(o *Options) {
			o.Instruction = NewInstructionFromText("Greet {{.Customer}}")
		}, field: "instruction"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			if tt.cfg != nil {
				tt.cfg(&cfg)
			}
			var m model.Model = llm
			if tt.noLLM {
				m = nil
			}
			var optFns []func(o *Options)
			if tt.opts != nil {
				optFns = append(optFns, tt.opts)
			}

			_, err := New(cfg, m, optFns...)
			require.Error(t, err)
			assert.ErrorIs(t, err, core.ErrConfiguration)

			var cfgErr *core.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestNew_RateLimiterFromProviderConfig(t *testing.T) {
	cfg := testConfig()
	cfg.ProviderConfig.RequestsPerMinute = 6000

	a := newTestAgent(t, cfg, model.NewMockModel("mock-1", "mock"))
	require.NotNil(t, a.limiter)

	_, err := a.Process(context.Background(), "hi", "")
	require.NoError(t, err)
}

func TestAccessors(t *testing.T) {
	cfg := testConfig()
	cfg.Retry = &RetryPolicy{MaxRetries: 2}

	a := newTestAgent(t, cfg, model.NewMockModel("mock-1", "mock"), func(o *Options) {
		o.Tools = []tool.Tool{lookupTool()}
	})

	assert.Equal(t, "support", a.Name())
	assert.Equal(t, "Answers customer questions", a.Description())
	require.NotNil(t, a.Config().Retry)
	assert.Equal(t, DefaultBaseDelay, a.Config().Retry.BaseDelay)
	assert.Len(t, a.Tools(), 1)
}
