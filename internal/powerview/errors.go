package powerview

import "errors"

// Sentinel errors for hub operations.
//
//	if errors.Is(err, powerview.ErrUnsupported) {
//	    // command not available on this hub generation
//	}
var (
	// ErrUnsupported indicates the command does not exist on this hub generation.
	ErrUnsupported = errors.New("powerview: not supported by hub generation")

	// ErrUnknownGeneration indicates the hub generation could not be determined.
	ErrUnknownGeneration = errors.New("powerview: unknown hub generation")

	// ErrNotFound indicates the hub has no such shade or scene.
	ErrNotFound = errors.New("powerview: not found")

	// ErrRequestFailed indicates an HTTP request to the hub failed.
	ErrRequestFailed = errors.New("powerview: request failed")

	// ErrInvalidPosition indicates a position outside 0-100.
	ErrInvalidPosition = errors.New("powerview: position must be between 0 and 100")
)
