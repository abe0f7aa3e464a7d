package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/nerrad567/powerview-bridge/internal/powerview"
)

// Logger defines the logging interface used by the engine.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Gateway is the subset of the hub client the engine drives.
// *powerview.Client satisfies it.
type Gateway interface {
	Generation() powerview.Generation
	EventsURL() string
	Home(ctx context.Context) (*powerview.Home, error)
	Shade(ctx context.Context, id int) (*powerview.Shade, error)
	SetPosition(ctx context.Context, shade powerview.Shade, pos powerview.Positions) error
	Stop(ctx context.Context, id int) error
	Jog(ctx context.Context, id int) error
	Calibrate(ctx context.Context, id int) error
	ActivateScene(ctx context.Context, id int) error
}

// NodeKind distinguishes shade nodes from scene nodes on the host.
type NodeKind string

// Node kinds.
const (
	NodeShade NodeKind = "shade"
	NodeScene NodeKind = "scene"
)

// Node is a device object registered with the automation host.
type Node struct {
	Kind  NodeKind `json:"kind"`
	HubID int      `json:"hub_id"`
	Name  string   `json:"name"`
}

// Address returns the host address of the node, e.g. "shade12".
func (n Node) Address() string {
	return Address(n.Kind, n.HubID)
}

// Address builds a host address from a kind and hub id.
func Address(kind NodeKind, id int) string {
	return string(kind) + strconv.Itoa(id)
}

// ParseAddress splits a host address into kind and hub id.
func ParseAddress(addr string) (NodeKind, int, error) {
	for _, kind := range []NodeKind{NodeShade, NodeScene} {
		rest, ok := strings.CutPrefix(addr, string(kind))
		if !ok {
			continue
		}
		id, err := strconv.Atoi(rest)
		if err != nil || id < 0 {
			break
		}
		return kind, id, nil
	}
	return "", 0, fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
}

// Registrar creates and removes device objects on the automation host.
//
// CreateDevice only requests creation; completion is signalled separately
// through CreationWaiter.Ack.
type Registrar interface {
	CreateDevice(ctx context.Context, node Node) error
	DeleteDevice(ctx context.Context, address string) error
	ListDevices(ctx context.Context) ([]Node, error)
	RenameDevice(ctx context.Context, address, name string) error
}

// Pulse is a discrete scene transition report, distinct from the level.
type Pulse string

// Transition pulses.
const (
	PulseOn  Pulse = "DON"
	PulseOff Pulse = "DOF"
)

// StatusReporter receives state changes for publication to the host,
// WebSocket clients and telemetry. Implementations must not block.
type StatusReporter interface {
	ShadeStatus(shade powerview.Shade)
	SceneStatus(id int, active bool)
	SceneTransition(id int, pulse Pulse)

	// Heartbeat is the bridge liveness pulse, alternating DON and DOF on
	// every long poll.
	Heartbeat(pulse Pulse)
}

// reporters fans a report out to every registered StatusReporter.
type reporters []StatusReporter

func (rs reporters) ShadeStatus(shade powerview.Shade) {
	for _, r := range rs {
		r.ShadeStatus(shade.Clone())
	}
}

func (rs reporters) SceneStatus(id int, active bool) {
	for _, r := range rs {
		r.SceneStatus(id, active)
	}
}

func (rs reporters) SceneTransition(id int, pulse Pulse) {
	for _, r := range rs {
		r.SceneTransition(id, pulse)
	}
}

func (rs reporters) Heartbeat(pulse Pulse) {
	for _, r := range rs {
		r.Heartbeat(pulse)
	}
}
