package session

import "time"

// Health is the publish pacing state. Only the event loop writes it.
type Health struct {
	BackingOff bool
	Backoff    time.Duration
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// NewHealth returns a healthy state with Backoff at min.
func NewHealth(minBackoff, maxBackoff time.Duration) Health {
	return Health{
		Backoff:    minBackoff,
		MinBackoff: minBackoff,
		MaxBackoff: maxBackoff,
	}
}

// EnterBackoff marks the transport unhealthy. Backoff keeps its current value.
func (h *Health) EnterBackoff() {
	h.BackingOff = true
}

// Exhausted reports whether backoff has reached its ceiling.
func (h Health) Exhausted() bool {
	return h.Backoff >= h.MaxBackoff
}

// Escalate doubles Backoff, capped at MaxBackoff.
func (h *Health) Escalate() {
	h.Backoff *= 2
	if h.Backoff > h.MaxBackoff {
		h.Backoff = h.MaxBackoff
	}
}

// Reset returns to the healthy state after a successful send.
func (h *Health) Reset() {
	h.BackingOff = false
	h.Backoff = h.MinBackoff
}

// Delay is how long the next publish waits. jitter is in [0, 1) seconds.
func (h Health) Delay(jitter float64) time.Duration {
	if !h.BackingOff {
		return 0
	}
	return h.Backoff + time.Duration(jitter*float64(time.Second))
}
