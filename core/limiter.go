package core

import "sync"

// RoundLimiter enforces a maximum number of routing rounds for one top-level
// exchange. It is safe for concurrent use.
type RoundLimiter struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewRoundLimiter creates a limiter allowing max rounds.
// If max == 0, unlimited rounds are allowed.
func NewRoundLimiter(max int) *RoundLimiter {
	return &RoundLimiter{max: max}
}

// Increment consumes one round and returns a *RoundLimitError if the limit is
// exceeded. A rejected round is still counted.
func (rl *RoundLimiter) Increment() error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.count++
	if rl.max > 0 && rl.count > rl.max {
		return &RoundLimitError{Limit: rl.max, Rounds: rl.count}
	}

	return nil
}

// Count returns the number of rounds consumed so far.
func (rl *RoundLimiter) Count() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return rl.count
}

// Remaining returns how many rounds are left before hitting the limit.
func (rl *RoundLimiter) Remaining() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.max == 0 {
		return -1 // unlimited
	}

	if rl.count >= rl.max {
		return 0
	}

	return rl.max - rl.count
}
