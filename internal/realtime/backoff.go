package realtime

import "time"

// backoff produces the reconnect delay schedule: the configured initial
// delay, doubled after every failed attempt, capped at the ceiling, reset
// to the initial value after a successful connect.
type backoff struct {
	initial time.Duration
	max     time.Duration
	cur     time.Duration
}

func newBackoff(initial, max time.Duration) *backoff {
	return &backoff{initial: initial, max: max, cur: initial}
}

// Next returns the delay to wait before the next attempt and advances the
// schedule.
func (b *backoff) Next() time.Duration {
	d := b.cur
	b.cur *= 2
	if b.cur > b.max {
		b.cur = b.max
	}
	return d
}

// Reset restarts the schedule at the initial delay.
func (b *backoff) Reset() {
	b.cur = b.initial
}
