package agent

import (
	"sync"

	"github.com/hupe1980/agencymesh/model"
)

// history is a bounded conversation log owned by one agent.
type history struct {
	mu    sync.Mutex
	limit int
	msgs  []model.Message
}

func newHistory(limit int) *history {
	return &history{limit: limit}
}

func (h *history) enabled() bool { return h.limit > 0 }

func (h *history) snapshot() []model.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]model.Message(nil), h.msgs...)
}

// append adds msgs, dropping the oldest entries beyond the limit.
func (h *history) append(msgs ...model.Message) {
	if !h.enabled() {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, msgs...)
	if over := len(h.msgs) - h.limit; over > 0 {
		h.msgs = append([]model.Message(nil), h.msgs[over:]...)
	}
	// A window must not open with an assistant turn.
	for len(h.msgs) > 0 && h.msgs[0].Role != model.RoleUser {
		h.msgs = h.msgs[1:]
	}
}

func (h *history) reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = nil
}
