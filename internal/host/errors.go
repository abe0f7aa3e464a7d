package host

import "errors"

var (
	// ErrNodeNotFound is returned when renaming or deleting an address the
	// host does not know.
	ErrNodeNotFound = errors.New("host: node not found")

	// ErrUnknownDelivery is returned for configuration deliveries the
	// startup gate does not wait on.
	ErrUnknownDelivery = errors.New("host: unknown configuration delivery")

	// ErrBadCommand is returned for command messages that cannot be parsed.
	ErrBadCommand = errors.New("host: malformed command")
)
