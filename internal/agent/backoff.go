package agent

import "time"

// reconnectTimer doubles the wait after each failed attempt, capped at max.
type reconnectTimer struct {
	min, max time.Duration
	cur      time.Duration
}

func newReconnectTimer(min, max time.Duration) *reconnectTimer {
	if max < min {
		max = min
	}
	return &reconnectTimer{min: min, max: max, cur: min}
}

// Next returns the delay to wait now and advances the timer.
func (t *reconnectTimer) Next() time.Duration {
	d := t.cur
	t.cur *= 2
	if t.cur > t.max {
		t.cur = t.max
	}
	return d
}

func (t *reconnectTimer) Reset() { t.cur = t.min }
