// Package api implements the HTTP REST API and WebSocket server for the
// PowerView bridge.
//
// This package provides:
//   - REST endpoints for shade and scene state and commands
//   - Bridge-wide discovery and re-report at /api/v1/discover and /api/v1/query
//   - A WebSocket hub that relays shade and scene status in real time
//   - Optional HS256 bearer authentication with ticket-based WebSocket auth
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//   - Prometheus metrics at /metrics
//   - The command history at /api/v1/commands when a command log is set
//
// # Architecture
//
// The server sits beside the MQTT host link as a second command surface.
// Requests go straight to the engine, which talks to the hub. The Hub type
// implements engine.StatusReporter, so every status update the engine
// reports is broadcast to subscribed WebSocket clients. A client that
// subscribes to shade.state or scene.state first receives the current
// state of every shade or scene.
//
// # Security
//
// When security.jwt.secret is empty the API is open. Otherwise every route
// except /health, /metrics and /ws requires an "Authorization: Bearer"
// token signed with the secret. WebSocket clients exchange their token for
// a single-use ticket at POST /api/v1/auth/ws-ticket and connect with
// ?ticket=.
package api
