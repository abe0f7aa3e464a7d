// Package engine mirrors a PowerView hub's shades and scenes onto an
// automation host.
//
// Startup is gated: Run waits until the host has delivered its four
// configuration sets (Gate), then discovers the hub and registers one node
// per shade and scene, blocking on each creation acknowledgement
// (CreationWaiter).
//
// After discovery every shade and every scene gets its own consumer
// goroutine reading the shared events.Log. Each consumer iteration handles,
// in order:
//
//  1. a home refresh naming its subject (rename if needed, strip its id)
//  2. events for its subject (shade motion and battery, scene activation
//     and recalculation requests)
//  3. garbage collection of events older than EventMaxAge
//
// A further engine consumer handles stream errors, new scenes and drained
// events. A "Not Found" stream error raises the shared stop signal and Run
// restarts event processing from scratch.
//
// Scene state is computed from live shade positions by ComputeActive. The
// hub's own active list is kept alongside in ActiveSets; disagreement is
// logged, never corrected.
//
// Every LongPoll the engine reports a Heartbeat, alternating DON and DOF,
// so the host can tell a stalled bridge from a quiet one.
package engine
