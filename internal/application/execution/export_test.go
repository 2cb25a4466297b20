package execution

import "time"

// SetJitter lets tests make retry waits deterministic.
func (e *Engine) SetJitter(fn func(time.Duration) time.Duration) {
	e.jitter = fn
}
