package model

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockStep scripts the outcome of one Generate call on a MockModel.
type MockStep struct {
	Text      string
	ToolCalls []ToolCall
	Err       error
	Delay     time.Duration // Wait before answering; honours ctx cancellation
}

// MockModel is a lightweight in‑memory Model useful for tests & examples.
// Scripted steps are consumed in order; once exhausted it falls back to
// canned responses keyed by the last user message, then to an echo.
type MockModel struct {
	info      Info
	mu        sync.Mutex
	responses map[string]string
	script    []MockStep
	calls     int
	requests  []Request
}

// NewMockModel constructs a MockModel with basic tool support enabled.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info: Info{
			Name:          name,
			Provider:      provider,
			SupportsTools: true,
		},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for an input prompt.
func (m *MockModel) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// Enqueue appends scripted steps.
func (m *MockModel) Enqueue(steps ...MockStep) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, steps...)
}

// FailTimes scripts n consecutive failures with err.
func (m *MockModel) FailTimes(n int, err error) {
	for i := 0; i < n; i++ {
		m.Enqueue(MockStep{Err: err})
	}
}

// Calls returns the number of Generate invocations.
func (m *MockModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Requests returns a copy of every request received.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

func (m *MockModel) next(req Request) MockStep {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	m.requests = append(m.requests, req)

	if len(m.script) > 0 {
		step := m.script[0]
		m.script = m.script[1:]
		return step
	}

	input := req.LastUserText()
	if full, ok := m.responses[input]; ok {
		return MockStep{Text: full}
	}
	return MockStep{Text: fmt.Sprintf("Mock response to: %s", input)}
}

// Generate implements Model; emits optional streaming char chunks then final response.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)

		if len(req.Messages) == 0 {
			errCh <- fmt.Errorf("no messages provided")
			return
		}

		step := m.next(req)

		if step.Delay > 0 {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case <-time.After(step.Delay):
			}
		}

		if step.Err != nil {
			errCh <- step.Err
			return
		}

		if req.Stream {
			for _, r := range step.Text {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{Partial: true, Text: string(r)}:
				}
			}
		}

		finish := "stop"
		if len(step.ToolCalls) > 0 {
			finish = "tool_calls"
		}

		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case respCh <- Response{Text: step.Text, ToolCalls: step.ToolCalls, FinishReason: finish}:
		}
	}()

	return respCh, errCh
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }
