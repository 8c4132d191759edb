package session

import "errors"

// Domain errors for the session.
var (
	// ErrBackoffExhausted is returned once backoff reached its maximum. Terminal.
	ErrBackoffExhausted = errors.New("session: backoff exhausted, giving up")

	// ErrQueueFull is returned when too many publishes are waiting for their delay.
	ErrQueueFull = errors.New("session: publish queue full")

	// ErrClosed is returned by calls made after Run has returned.
	ErrClosed = errors.New("session: closed")

	// ErrConnect is returned when a transport cannot be dialled or subscribed.
	ErrConnect = errors.New("session: connect failed")

	// ErrInvalidOptions is returned by New for incomplete options.
	ErrInvalidOptions = errors.New("session: invalid options")
)
