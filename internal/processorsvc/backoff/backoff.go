package backoff

import "time"

// Policy maps a 0-based attempt index to a requeue delay and decides when a
// request has exhausted its retry budget. The schedule is an arbitrary finite
// list, not a formula.
type Policy struct {
	Delays     []time.Duration
	MaxRetries int
}

// Default mirrors the broker retry configuration: 1s, 2s, 4s with at most
// three retries before dead-lettering.
func Default() Policy {
	return Policy{
		Delays:     []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second},
		MaxRetries: 3,
	}
}

// NextDelay returns the delay to wait before requeuing the given attempt.
// Attempts past the end of the schedule reuse the last delay.
func (p Policy) NextDelay(attempt int) time.Duration {
	if len(p.Delays) == 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(p.Delays) {
		return p.Delays[len(p.Delays)-1]
	}
	return p.Delays[attempt]
}

// ShouldEscalate reports whether the attempt has reached the retry budget and
// the message belongs on the dead-letter topic.
func (p Policy) ShouldEscalate(attempt int) bool {
	return attempt >= p.MaxRetries
}
