package engine

import "errors"

// Domain errors for the engine package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, engine.ErrShadeNotFound) {
//	    // unknown shade id
//	}
var (
	// ErrStartupTimeout is returned when the startup deliveries did not all
	// arrive within the configured timeout.
	ErrStartupTimeout = errors.New("engine: startup deliveries timed out")

	// ErrCreationTimeout is returned when the host did not acknowledge a
	// device creation in time.
	ErrCreationTimeout = errors.New("engine: device creation not acknowledged")

	// ErrShadeNotFound is returned for commands naming an unknown shade.
	ErrShadeNotFound = errors.New("engine: shade not found")

	// ErrSceneNotFound is returned for commands naming an unknown scene.
	ErrSceneNotFound = errors.New("engine: scene not found")

	// ErrUnknownCommand is returned when a command name is not recognised.
	ErrUnknownCommand = errors.New("engine: unknown command")

	// ErrNotTiltCapable is returned for tilt commands on shades without vanes.
	ErrNotTiltCapable = errors.New("engine: shade cannot tilt")

	// ErrInvalidAddress is returned when a node address cannot be parsed.
	ErrInvalidAddress = errors.New("engine: invalid node address")
)
