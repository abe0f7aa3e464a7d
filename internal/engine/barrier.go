package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Startup deliveries the Gate waits for before discovery.
const (
	DeliveryParams      = "params"
	DeliveryData        = "data"
	DeliveryTypedParams = "typed_params"
	DeliveryTypedData   = "typed_data"

	// DeliveryNodes is the host's device list. Only hosts that send it
	// separately from the configuration add it to their gate.
	DeliveryNodes = "nodes"
)

// StartupDeliveries lists every delivery a default Gate waits for.
var StartupDeliveries = []string{
	DeliveryParams,
	DeliveryData,
	DeliveryTypedParams,
	DeliveryTypedData,
}

// Gate opens once every named delivery has signalled.
//
// Thread Safety: All methods are safe for concurrent use.
type Gate struct {
	mu      sync.Mutex
	pending map[string]bool
	open    chan struct{}
}

// NewGate creates a gate waiting on the given deliveries. With no names it
// waits on StartupDeliveries.
func NewGate(names ...string) *Gate {
	if len(names) == 0 {
		names = StartupDeliveries
	}
	g := &Gate{
		pending: make(map[string]bool, len(names)),
		open:    make(chan struct{}),
	}
	for _, n := range names {
		g.pending[n] = true
	}
	return g
}

// Signal marks a delivery as complete. Unknown and repeated names are
// ignored. Returns true if this signal opened the gate.
func (g *Gate) Signal(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.pending[name] {
		return false
	}
	delete(g.pending, name)
	if len(g.pending) == 0 {
		close(g.open)
		return true
	}
	return false
}

// Pending returns the deliveries not yet signalled, sorted.
func (g *Gate) Pending() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.pending))
	for n := range g.pending {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Wait blocks until the gate opens, ctx is cancelled, or timeout elapses.
//
// Returns:
//   - nil once every delivery signalled
//   - ErrStartupTimeout naming the missing deliveries
//   - ctx.Err() on cancellation
func (g *Gate) Wait(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-g.open:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%w after %s: missing %s", ErrStartupTimeout, timeout, strings.Join(g.Pending(), ", "))
	}
}

// CreationWaiter pairs device creation requests with the host's
// asynchronous acknowledgements.
//
// Expect must be called before the creation request is sent so that an ack
// arriving early is not lost.
//
// Thread Safety: All methods are safe for concurrent use.
type CreationWaiter struct {
	mu      sync.Mutex
	waiting map[string]chan struct{}
}

// NewCreationWaiter creates a waiter with nothing expected.
func NewCreationWaiter() *CreationWaiter {
	return &CreationWaiter{waiting: make(map[string]chan struct{})}
}

// Expect registers interest in an acknowledgement for address.
func (w *CreationWaiter) Expect(address string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.waiting[address]; !ok {
		w.waiting[address] = make(chan struct{})
	}
}

// Ack marks the creation of address as complete. Acks nobody expects are
// dropped and reported as false.
func (w *CreationWaiter) Ack(address string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch, ok := w.waiting[address]
	if !ok {
		return false
	}
	select {
	case <-ch:
	default:
		close(ch)
	}
	return true
}

// Wait blocks until address is acknowledged, then forgets it.
func (w *CreationWaiter) Wait(ctx context.Context, address string, timeout time.Duration) error {
	w.mu.Lock()
	ch, ok := w.waiting[address]
	w.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s was never requested", ErrCreationTimeout, address)
	}
	defer w.forget(address)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%w: %s after %s", ErrCreationTimeout, address, timeout)
	}
}

func (w *CreationWaiter) forget(address string) {
	w.mu.Lock()
	delete(w.waiting, address)
	w.mu.Unlock()
}
