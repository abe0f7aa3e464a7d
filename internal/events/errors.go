package events

import "errors"

// Sentinel errors for event production and consumption.
var (
	// ErrDecode indicates a stream line was not a valid event.
	ErrDecode = errors.New("events: decode failed")

	// ErrStreamFatal indicates the listener exhausted its retries.
	ErrStreamFatal = errors.New("events: stream retries exhausted")

	// ErrStreamClosed indicates the hub closed the stream.
	ErrStreamClosed = errors.New("events: stream closed by hub")

	// ErrStreamIdle indicates no line arrived within the idle timeout.
	ErrStreamIdle = errors.New("events: stream idle timeout")

	// ErrPollInFlight indicates a poll was skipped because another is running.
	ErrPollInFlight = errors.New("events: poll already in flight")
)
