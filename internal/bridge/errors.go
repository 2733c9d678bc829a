package bridge

import "errors"

// Domain errors for the bridge package.
var (
	// ErrResolution is returned when a characteristic reference cannot be
	// matched against the device's catalog.
	ErrResolution = errors.New("bridge: characteristic resolution failed")

	// ErrLink is returned when a connect, read, or write against the
	// device fails.
	ErrLink = errors.New("bridge: device link failed")

	// ErrProtocol is returned when an inbound payload is malformed.
	ErrProtocol = errors.New("bridge: malformed payload")

	// ErrRetryExhausted is returned when a batch fails with no retry
	// budget remaining.
	ErrRetryExhausted = errors.New("bridge: retry budget exhausted")

	// ErrQueueFull is returned when the retry queue cannot accept
	// another pending re-submission.
	ErrQueueFull = errors.New("bridge: retry queue full")

	// ErrStopped is returned when work is submitted after shutdown began.
	ErrStopped = errors.New("bridge: stopped")
)
