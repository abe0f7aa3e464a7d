package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/powerview-bridge/internal/engine"
	"github.com/nerrad567/powerview-bridge/internal/infrastructure/config"
	"github.com/nerrad567/powerview-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/powerview-bridge/internal/powerview"
)

// Message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// Broadcast channels.
const (
	ChannelShadeState = "shade.state"
	ChannelSceneState = "scene.state"
	ChannelSceneEvent = "scene.event"
	ChannelHeartbeat  = "bridge.heartbeat"
)

const (
	defaultPingInterval   = 30
	defaultPongTimeout    = 10
	defaultMaxMessageSize = 8192

	// clientQueueSize is how many frames may wait for a slow client before
	// new ones are dropped.
	clientQueueSize = 256
)

// WSMessage is a frame sent to a client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// SceneStatusPayload is broadcast on scene.state.
type SceneStatusPayload struct {
	ID     int  `json:"id"`
	Active bool `json:"active"`
}

// SceneEventPayload is broadcast on scene.event for each DON/DOF pulse.
type SceneEventPayload struct {
	ID    int          `json:"id"`
	Pulse engine.Pulse `json:"pulse"`
}

// HeartbeatPayload is broadcast on bridge.heartbeat every long poll.
type HeartbeatPayload struct {
	Pulse engine.Pulse `json:"pulse"`
}

// SnapshotFunc returns the current payloads of a state channel. A client
// subscribing to the channel receives them before any live update.
type SnapshotFunc func(channel string) []any

var _ engine.StatusReporter = (*Hub)(nil)

// Hub fans shade and scene status out to WebSocket clients. It is an
// engine.StatusReporter, so the engine calls it directly.
//
// Thread Safety: All methods are safe for concurrent use.
type Hub struct {
	logger       *logging.Logger
	pingInterval time.Duration
	pongWait     time.Duration
	maxMessage   int64

	mu       sync.RWMutex
	clients  map[*wsClient]struct{}
	snapshot SnapshotFunc

	dropped atomic.Uint64
}

type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu   sync.RWMutex
	subs map[string]struct{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The CORS middleware has already vetted the origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewHub creates a hub. Zero fields in cfg take the defaults 30 s ping,
// 10 s pong and 8 KiB inbound messages.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaultPongTimeout
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	return &Hub{
		logger:       logger,
		pingInterval: time.Duration(cfg.PingInterval) * time.Second,
		pongWait:     time.Duration(cfg.PongTimeout) * time.Second,
		maxMessage:   int64(cfg.MaxMessageSize),
		clients:      make(map[*wsClient]struct{}),
	}
}

// SetSnapshot installs the source of subscribe-time state.
func (h *Hub) SetSnapshot(fn SnapshotFunc) {
	h.mu.Lock()
	h.snapshot = fn
	h.mu.Unlock()
}

// Run blocks until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		c.conn.Close()
		delete(h.clients, c)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many frames were discarded because a client's queue
// was full.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

func (h *Hub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// remove forgets c. Only the caller that finds c in the map closes its
// queue, so Run and the read loop cannot both close it.
func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		close(c.send)
		h.logger.Debug("websocket client disconnected", "clients", n)
	}
}

// Broadcast sends payload to every client subscribed to channel.
func (h *Hub) Broadcast(channel string, payload any) {
	frame, err := eventFrame(channel, payload)
	if err != nil {
		h.logger.Error("encoding websocket event failed", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if c.subscribed(channel) {
			c.enqueue(frame)
		}
	}
}

// ShadeStatus broadcasts a shade on shade.state.
func (h *Hub) ShadeStatus(shade powerview.Shade) {
	h.Broadcast(ChannelShadeState, shade)
}

// SceneStatus broadcasts a scene's active state on scene.state.
func (h *Hub) SceneStatus(id int, active bool) {
	h.Broadcast(ChannelSceneState, SceneStatusPayload{ID: id, Active: active})
}

// SceneTransition broadcasts a pulse on scene.event.
func (h *Hub) SceneTransition(id int, pulse engine.Pulse) {
	h.Broadcast(ChannelSceneEvent, SceneEventPayload{ID: id, Pulse: pulse})
}

// Heartbeat broadcasts the bridge liveness pulse on bridge.heartbeat.
func (h *Hub) Heartbeat(pulse engine.Pulse) {
	h.Broadcast(ChannelHeartbeat, HeartbeatPayload{Pulse: pulse})
}

func eventFrame(channel string, payload any) ([]byte, error) {
	return json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
}

// snapshotState returns the current status payloads for the state channels.
// Pulses are transient, so scene.event has none.
func (s *Server) snapshotState(channel string) []any {
	var out []any
	switch channel {
	case ChannelShadeState:
		for _, sh := range s.engine.Store().Shades() {
			out = append(out, sh)
		}
	case ChannelSceneState:
		for _, st := range s.engine.SceneStates() {
			out = append(out, SceneStatusPayload{ID: st.ID, Active: st.Active})
		}
	}
	return out
}

// handleWebSocket upgrades the connection. With auth enabled the request
// must carry a ticket from POST /auth/ws-ticket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.authEnabled() {
		ticket := r.URL.Query().Get("ticket")
		if ticket == "" {
			writeUnauthorized(w, "ticket query parameter is required")
			return
		}
		if !s.tickets.redeem(ticket) {
			writeUnauthorized(w, "invalid or expired ticket")
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, clientQueueSize),
		subs: make(map[string]struct{}),
	}
	s.hub.add(c)

	go c.writeLoop()
	go c.readLoop()
}

func (c *wsClient) readLoop() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	deadline := c.hub.pingInterval + c.hub.pongWait
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(deadline)) }

	c.conn.SetReadLimit(c.hub.maxMessage)
	extend() //nolint:errcheck // a failed deadline surfaces as a read error
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		// Browsers may not answer protocol pings; application traffic
		// counts as liveness too.
		extend() //nolint:errcheck // as above
		c.handle(data)
	}
}

func (c *wsClient) writeLoop() {
	ping := time.NewTicker(c.hub.pingInterval)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		c.conn.SetWriteDeadline(time.Now().Add(c.hub.pongWait)) //nolint:errcheck // write reports failure
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				write(websocket.CloseMessage, nil) //nolint:errcheck // closing anyway
				return
			}
			if err := write(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ping.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type wsRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func knownChannel(name string) bool {
	switch name {
	case ChannelShadeState, ChannelSceneState, ChannelSceneEvent, ChannelHeartbeat:
		return true
	}
	return false
}

func (c *wsClient) handle(data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.reply("", WSTypeError, errorBody("invalid JSON message"))
		return
	}

	switch req.Type {
	case WSTypeSubscribe:
		c.subscribe(req, true)
	case WSTypeUnsubscribe:
		c.subscribe(req, false)
	case WSTypePing:
		c.reply(req.ID, WSTypePong, nil)
	default:
		c.reply(req.ID, WSTypeError, errorBody("unknown message type: "+req.Type))
	}
}

// subscribe adds or removes channels. One unknown name rejects the whole
// request. New subscribers then get the channel's current state.
func (c *wsClient) subscribe(req wsRequest, on bool) {
	var p WSSubscribePayload
	if err := json.Unmarshal(req.Payload, &p); err != nil || len(p.Channels) == 0 {
		c.reply(req.ID, WSTypeError, errorBody("payload must list channels"))
		return
	}
	for _, ch := range p.Channels {
		if !knownChannel(ch) {
			c.reply(req.ID, WSTypeError, errorBody("unknown channel: "+ch))
			return
		}
	}

	var added []string
	c.mu.Lock()
	for _, ch := range p.Channels {
		_, had := c.subs[ch]
		switch {
		case on && !had:
			c.subs[ch] = struct{}{}
			added = append(added, ch)
		case !on:
			delete(c.subs, ch)
		}
	}
	c.mu.Unlock()

	if !on {
		c.reply(req.ID, WSTypeResponse, map[string]any{"unsubscribed": p.Channels})
		return
	}
	c.reply(req.ID, WSTypeResponse, map[string]any{"subscribed": p.Channels})

	c.hub.mu.RLock()
	snapshot := c.hub.snapshot
	c.hub.mu.RUnlock()
	if snapshot == nil {
		return
	}
	for _, ch := range added {
		for _, payload := range snapshot(ch) {
			if frame, err := eventFrame(ch, payload); err == nil {
				c.enqueue(frame)
			}
		}
	}
}

// enqueue queues a frame without blocking. A full queue drops the frame.
// A queue closed by a concurrent disconnect is tolerated.
func (c *wsClient) enqueue(frame []byte) {
	defer func() {
		recover() //nolint:errcheck // send on a queue closed by remove
	}()

	select {
	case c.send <- frame:
	default:
		c.hub.dropped.Add(1)
	}
}

func (c *wsClient) subscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subs[channel]
	return ok
}

func (c *wsClient) reply(id, kind string, payload any) {
	frame, err := json.Marshal(WSMessage{
		Type:      kind,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.enqueue(frame)
}

func errorBody(message string) map[string]string {
	return map[string]string{"message": message}
}
