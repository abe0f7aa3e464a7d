package engine

import (
	"context"
	"errors"
	"fmt"
)

// Discover fetches the hub snapshot, registers any shade or scene the host
// does not know yet and starts consumers for them.
//
// Each creation blocks on the host's acknowledgement before the next one is
// requested. A failed creation is logged and discovery moves on.
//
// Returns an error only when the hub or the host device list cannot be read.
// Concurrent calls run one after another.
func (e *Engine) Discover(ctx context.Context) error {
	e.discoverMu.Lock()
	defer e.discoverMu.Unlock()

	home, err := e.gw.Home(ctx)
	if err != nil {
		return fmt.Errorf("fetching home: %w", err)
	}
	e.ApplyHome(home)

	nodes, err := e.host.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("listing host devices: %w", err)
	}
	known := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		known[n.Address()] = n
	}

	wanted := make(map[string]bool)
	created := 0
	for _, shade := range e.store.Shades() {
		node := Node{Kind: NodeShade, HubID: shade.ID, Name: shade.Name}
		wanted[node.Address()] = true
		if _, ok := known[node.Address()]; ok {
			continue
		}
		if e.createNode(ctx, node) {
			created++
		}
	}
	for _, scene := range e.store.Scenes() {
		node := Node{Kind: NodeScene, HubID: scene.ID, Name: e.store.SceneName(scene)}
		wanted[node.Address()] = true
		if _, ok := known[node.Address()]; ok {
			continue
		}
		if e.createNode(ctx, node) {
			created++
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	removed := 0
	if e.cfg.RemoveStaleNodes {
		for addr := range known {
			if wanted[addr] {
				continue
			}
			if err := e.host.DeleteDevice(ctx, addr); err != nil {
				e.logger.Warn("removing stale node failed", "address", addr, "error", err)
				continue
			}
			removed++
		}
	}

	e.logger.Info("discovery complete",
		"generation", e.gw.Generation().String(),
		"shades", len(home.Shades),
		"scenes", len(home.Scenes),
		"created", created,
		"removed", removed,
	)

	e.spawnConsumers()
	for _, shade := range e.store.Shades() {
		e.report.ShadeStatus(shade)
	}
	return nil
}

// createNode requests a host device and waits for its acknowledgement.
func (e *Engine) createNode(ctx context.Context, node Node) bool {
	addr := node.Address()
	e.creations.Expect(addr)
	if err := e.host.CreateDevice(ctx, node); err != nil {
		e.creations.forget(addr)
		e.logger.Error("creating node failed", "address", addr, "name", node.Name, "error", err)
		return false
	}
	if err := e.creations.Wait(ctx, addr, e.cfg.CreationTimeout); err != nil {
		if !errors.Is(err, context.Canceled) {
			e.logger.Error("node creation not confirmed", "address", addr, "error", err)
		}
		return false
	}
	e.logger.Info("node created", "address", addr, "name", node.Name)
	return true
}

// resync refreshes the store from the hub without touching the host.
func (e *Engine) resync(ctx context.Context) error {
	home, err := e.gw.Home(ctx)
	if err != nil {
		return err
	}
	e.ApplyHome(home)
	return nil
}
