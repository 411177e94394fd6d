package extract

import "time"

// CallBudget is a fixed-window limiter for generative calls: after
// limit acquisitions the whole batch pauses for the cooldown and the
// counter resets. The external quota resets on a rolling per-minute
// window, so a full pause is both simpler and sufficient; messages are
// processed sequentially so no locking is needed.
type CallBudget struct {
	limit    int
	cooldown time.Duration
	used     int
	sleep    func(time.Duration)
}

// NewCallBudget creates a budget of limit calls per cooldown window.
func NewCallBudget(limit int, cooldown time.Duration) *CallBudget {
	return &CallBudget{
		limit:    limit,
		cooldown: cooldown,
		sleep:    time.Sleep,
	}
}

// Acquire blocks until a call slot is available and consumes it.
func (b *CallBudget) Acquire() {
	if b.used >= b.limit {
		b.sleep(b.cooldown)
		b.used = 0
	}
	b.used++
}

// Used reports how many slots the current window has consumed.
func (b *CallBudget) Used() int {
	return b.used
}

// Reset opens a fresh window. Called at batch start so a new scan never
// inherits the previous batch's usage.
func (b *CallBudget) Reset() {
	b.used = 0
}
