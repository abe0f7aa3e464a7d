// Package events carries hub events from producers to device consumers.
//
// Producers:
//   - Listener reads the Gen-3 hub's streaming endpoint, skipping the
//     100HELO heartbeat, and reconnects with capped exponential backoff.
//   - Poller fetches full snapshots (Gen-2 hubs, and periodic Gen-3 refresh)
//     and emits a home-refresh event naming every shade and scene.
//
// Both append to a Log, a mutex-guarded ordered list with a broadcast wake
// up. Consumers take snapshots with Wait and remove what they handled by
// sequence number. Removal is idempotent; two consumers racing for the same
// event both see it and one of them wins the removal.
package events
