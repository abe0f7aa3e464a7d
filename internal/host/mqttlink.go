package host

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/powerview-bridge/internal/engine"
	"github.com/nerrad567/powerview-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/powerview-bridge/internal/powerview"
)

// commandTimeout bounds a single command received over MQTT.
const commandTimeout = 30 * time.Second

// discoverTimeout bounds a discovery requested over MQTT. Each node
// creation may wait for its ack, so it runs far longer than a command.
const discoverTimeout = 10 * time.Minute

// MQTTStartupDeliveries are the deliveries an mqtt-mode gate waits for:
// the configuration topics plus the retained host/nodes list, so discovery
// never runs against an empty device list.
var MQTTStartupDeliveries = append(slices.Clone(engine.StartupDeliveries), engine.DeliveryNodes)

// bridgeKind addresses the bridge itself: command/bridge/0/{discover|query}.
const bridgeKind = "bridge"

// Broker is the subset of *mqtt.Client the link uses.
type Broker interface {
	Topics() mqtt.Topics
	PublishJSON(topic string, v any, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// CommandHandler executes commands received from the host.
// *engine.Engine satisfies it.
type CommandHandler interface {
	ShadeCommand(ctx context.Context, id int, cmd string) error
	SetShadePosition(ctx context.Context, id int, pos powerview.Positions) error
	SceneCommand(ctx context.Context, id int, cmd string) error
	BridgeCommand(ctx context.Context, cmd string) error
}

// NodeRequest is published on the addnode, removenode and rename topics.
type NodeRequest struct {
	RequestID string          `json:"request_id"`
	Address   string          `json:"address"`
	Kind      engine.NodeKind `json:"kind,omitempty"`
	HubID     int             `json:"hub_id,omitempty"`
	Name      string          `json:"name,omitempty"`
}

// ShadeState is the retained status of a shade.
type ShadeState struct {
	ID        int                 `json:"id"`
	Name      string              `json:"name"`
	Room      string              `json:"room,omitempty"`
	Positions powerview.Positions `json:"positions"`
	Battery   int                 `json:"battery"`
	InMotion  bool                `json:"in_motion"`
	Timestamp string              `json:"timestamp"`
}

// SceneStatePayload is the retained status of a scene.
type SceneStatePayload struct {
	ID        int    `json:"id"`
	Active    bool   `json:"active"`
	Timestamp string `json:"timestamp"`
}

// HeartbeatPayload is published on the bridge heartbeat topic.
type HeartbeatPayload struct {
	Pulse     engine.Pulse `json:"pulse"`
	Timestamp string       `json:"timestamp"`
}

// PulsePayload is published on a scene's event topic.
type PulsePayload struct {
	ID        int          `json:"id"`
	Pulse     engine.Pulse `json:"pulse"`
	Timestamp string       `json:"timestamp"`
}

var (
	_ engine.Registrar      = (*MQTTLink)(nil)
	_ engine.StatusReporter = (*MQTTLink)(nil)
)

// MQTTLink is the mqtt-mode host. Registration requests go out on the
// host topics and acks, configuration deliveries and commands come back
// through subscriptions. It also publishes shade and scene status.
//
// Thread Safety: All methods are safe for concurrent use.
type MQTTLink struct {
	broker  Broker
	topics  mqtt.Topics
	qos     byte
	acks    *engine.CreationWaiter
	gate    *engine.Gate
	handler CommandHandler
	logger  Logger
	now     func() time.Time

	mu    sync.RWMutex
	nodes map[string]engine.Node
}

// LinkOption configures an MQTTLink.
type LinkOption func(*MQTTLink)

// WithLinkAcks delivers creation acks to w.
func WithLinkAcks(w *engine.CreationWaiter) LinkOption {
	return func(l *MQTTLink) { l.acks = w }
}

// WithLinkGate signals configuration deliveries on g.
func WithLinkGate(g *engine.Gate) LinkOption {
	return func(l *MQTTLink) { l.gate = g }
}

// WithLinkLogger sets the logger.
func WithLinkLogger(lg Logger) LinkOption {
	return func(l *MQTTLink) { l.logger = lg }
}

// WithQoS sets the subscription QoS.
func WithQoS(qos byte) LinkOption {
	return func(l *MQTTLink) { l.qos = qos }
}

// NewMQTTLink creates a link over broker. Call Start before use.
func NewMQTTLink(broker Broker, opts ...LinkOption) *MQTTLink {
	l := &MQTTLink{
		broker: broker,
		topics: broker.Topics(),
		qos:    1,
		logger: noopLogger{},
		now:    time.Now,
		nodes:  make(map[string]engine.Node),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetCommandHandler sets where host commands are sent. Commands received
// before a handler is set are rejected.
func (l *MQTTLink) SetCommandHandler(h CommandHandler) {
	l.mu.Lock()
	l.handler = h
	l.mu.Unlock()
}

// Start subscribes to the host's device list, acks, configuration
// deliveries and commands.
func (l *MQTTLink) Start() error {
	subs := []struct {
		topic   string
		handler mqtt.MessageHandler
	}{
		{l.topics.HostNodes(), l.handleNodes},
		{l.topics.AllHostAcks(), l.handleAck},
		{l.topics.AllHostConfig(), l.handleConfig},
		{l.topics.AllCommands(), l.handleCommand},
	}
	for _, s := range subs {
		if err := l.broker.Subscribe(s.topic, l.qos, s.handler); err != nil {
			return fmt.Errorf("subscribing to %s: %w", s.topic, err)
		}
	}
	return nil
}

// =============================================================================
// engine.Registrar
// =============================================================================

// CreateDevice publishes an addnode request. The host answers on
// host/ack/{address}.
func (l *MQTTLink) CreateDevice(_ context.Context, node engine.Node) error {
	req := NodeRequest{
		RequestID: uuid.NewString(),
		Address:   node.Address(),
		Kind:      node.Kind,
		HubID:     node.HubID,
		Name:      node.Name,
	}
	if err := l.broker.PublishJSON(l.topics.HostAddNode(), req, false); err != nil {
		return fmt.Errorf("requesting node %s: %w", req.Address, err)
	}
	l.mu.Lock()
	l.nodes[req.Address] = node
	l.mu.Unlock()
	l.logger.Debug("node creation requested", "address", req.Address, "request_id", req.RequestID)
	return nil
}

// DeleteDevice publishes a removenode request.
func (l *MQTTLink) DeleteDevice(_ context.Context, address string) error {
	req := NodeRequest{RequestID: uuid.NewString(), Address: address}
	if err := l.broker.PublishJSON(l.topics.HostRemoveNode(), req, false); err != nil {
		return fmt.Errorf("removing node %s: %w", address, err)
	}
	l.mu.Lock()
	delete(l.nodes, address)
	l.mu.Unlock()
	return nil
}

// RenameDevice publishes a rename request.
func (l *MQTTLink) RenameDevice(_ context.Context, address, name string) error {
	req := NodeRequest{RequestID: uuid.NewString(), Address: address, Name: name}
	if err := l.broker.PublishJSON(l.topics.HostRename(), req, false); err != nil {
		return fmt.Errorf("renaming node %s: %w", address, err)
	}
	l.mu.Lock()
	if n, ok := l.nodes[address]; ok {
		n.Name = name
		l.nodes[address] = n
	}
	l.mu.Unlock()
	return nil
}

// ListDevices returns the nodes the host last reported on host/nodes,
// updated with this link's own requests since.
func (l *MQTTLink) ListDevices(context.Context) ([]engine.Node, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]engine.Node, 0, len(l.nodes))
	for _, n := range l.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address() < out[j].Address() })
	return out, nil
}

// =============================================================================
// Inbound messages
// =============================================================================

// handleNodes replaces the known device list with the host's. Entries
// with unparseable addresses are skipped.
func (l *MQTTLink) handleNodes(_ string, payload []byte) error {
	var list []NodeRequest
	if err := json.Unmarshal(payload, &list); err != nil {
		return fmt.Errorf("decoding node list: %w", err)
	}

	nodes := make(map[string]engine.Node, len(list))
	for _, item := range list {
		kind, id, err := engine.ParseAddress(item.Address)
		if err != nil {
			l.logger.Warn("ignoring host node", "address", item.Address, "error", err)
			continue
		}
		nodes[item.Address] = engine.Node{Kind: kind, HubID: id, Name: item.Name}
	}

	l.mu.Lock()
	l.nodes = nodes
	l.mu.Unlock()
	l.logger.Debug("host node list received", "count", len(nodes))
	l.signal(engine.DeliveryNodes)
	return nil
}

func (l *MQTTLink) handleAck(topic string, _ []byte) error {
	address := mqtt.LastSegment(topic)
	if l.acks == nil || !l.acks.Ack(address) {
		l.logger.Debug("unexpected creation ack", "address", address)
	}
	return nil
}

func (l *MQTTLink) handleConfig(topic string, _ []byte) error {
	name := mqtt.LastSegment(topic)
	l.logger.Debug("configuration delivery received", "delivery", name)
	l.signal(name)
	return nil
}

func (l *MQTTLink) signal(delivery string) {
	if l.gate != nil && l.gate.Signal(delivery) {
		l.logger.Info("startup deliveries complete")
	}
}

// handleCommand routes command/{kind}/{id}/{op}. A position op carries a
// JSON Positions body; other ops ignore the payload. Bridge commands ignore
// the id level.
func (l *MQTTLink) handleCommand(topic string, payload []byte) error {
	kind, id, op, ok := l.topics.ParseCommand(topic)
	if !ok {
		return fmt.Errorf("%w: %s", ErrBadCommand, topic)
	}

	l.mu.RLock()
	h := l.handler
	l.mu.RUnlock()
	if h == nil {
		return fmt.Errorf("%w: no handler for %s", ErrBadCommand, topic)
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	switch engine.NodeKind(kind) {
	case engine.NodeShade:
		if strings.EqualFold(op, "position") {
			var pos powerview.Positions
			if err := json.Unmarshal(payload, &pos); err != nil {
				return fmt.Errorf("%w: position body: %w", ErrBadCommand, err)
			}
			return h.SetShadePosition(ctx, id, pos)
		}
		return h.ShadeCommand(ctx, id, op)
	case engine.NodeScene:
		return h.SceneCommand(ctx, id, op)
	case bridgeKind:
		if strings.EqualFold(op, engine.CmdDiscover) {
			// Creation acks arrive through this client's message handlers,
			// so discovery must not block them.
			go l.discover(h)
			return nil
		}
		return h.BridgeCommand(ctx, op)
	default:
		return fmt.Errorf("%w: kind %q", ErrBadCommand, kind)
	}
}

func (l *MQTTLink) discover(h CommandHandler) {
	ctx, cancel := context.WithTimeout(context.Background(), discoverTimeout)
	defer cancel()
	if err := h.BridgeCommand(ctx, engine.CmdDiscover); err != nil {
		l.logger.Warn("discovery requested by host failed", "error", err)
	}
}

// =============================================================================
// engine.StatusReporter
// =============================================================================

// ShadeStatus publishes the shade's retained state.
func (l *MQTTLink) ShadeStatus(s powerview.Shade) {
	msg := ShadeState{
		ID:        s.ID,
		Name:      s.Name,
		Room:      s.RoomName,
		Positions: s.Positions,
		Battery:   s.BatteryStatus,
		InMotion:  s.InMotion,
		Timestamp: l.stamp(),
	}
	l.publish(l.topics.State(string(engine.NodeShade), s.ID), msg, true)
}

// SceneStatus publishes the scene's retained active state.
func (l *MQTTLink) SceneStatus(id int, active bool) {
	l.publish(l.topics.State(string(engine.NodeScene), id),
		SceneStatePayload{ID: id, Active: active, Timestamp: l.stamp()}, true)
}

// SceneTransition publishes a DON or DOF pulse.
func (l *MQTTLink) SceneTransition(id int, p engine.Pulse) {
	l.publish(l.topics.SceneEvent(id), PulsePayload{ID: id, Pulse: p, Timestamp: l.stamp()}, false)
}

// Heartbeat publishes the bridge liveness pulse.
func (l *MQTTLink) Heartbeat(p engine.Pulse) {
	l.publish(l.topics.Heartbeat(), HeartbeatPayload{Pulse: p, Timestamp: l.stamp()}, false)
}

func (l *MQTTLink) publish(topic string, v any, retained bool) {
	if err := l.broker.PublishJSON(topic, v, retained); err != nil {
		l.logger.Warn("status publish failed", "topic", topic, "error", err)
	}
}

func (l *MQTTLink) stamp() string {
	return l.now().UTC().Format(time.RFC3339)
}
