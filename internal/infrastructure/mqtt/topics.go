package mqtt

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultPrefix is the topic root used when no prefix is configured.
const DefaultPrefix = "pvbridge"

// Topics builds the bridge's MQTT topics under a common prefix.
//
//	topics := mqtt.Topics{Prefix: "pvbridge"}
//	topics.State("shade", 12)   // pvbridge/state/shade/12
//	topics.HostAck("scene4")    // pvbridge/host/ack/scene4
//
// A zero Topics uses DefaultPrefix.
type Topics struct {
	Prefix string
}

func (t Topics) root() string {
	if t.Prefix == "" {
		return DefaultPrefix
	}
	return strings.TrimSuffix(t.Prefix, "/")
}

// =============================================================================
// Host registration
// =============================================================================

// HostAddNode is where device creation requests are published.
func (t Topics) HostAddNode() string {
	return t.root() + "/host/addnode"
}

// HostRemoveNode is where device removal requests are published.
func (t Topics) HostRemoveNode() string {
	return t.root() + "/host/removenode"
}

// HostRename is where device rename requests are published.
func (t Topics) HostRename() string {
	return t.root() + "/host/rename"
}

// HostNodes is where the host publishes its retained device list.
func (t Topics) HostNodes() string {
	return t.root() + "/host/nodes"
}

// HostAck is where the host acknowledges creation of address.
func (t Topics) HostAck(address string) string {
	return fmt.Sprintf("%s/host/ack/%s", t.root(), address)
}

// AllHostAcks matches every creation acknowledgement.
func (t Topics) AllHostAcks() string {
	return t.root() + "/host/ack/+"
}

// HostConfig is the retained configuration delivery topic for name.
//
// Example: pvbridge/host/config/typed_params
func (t Topics) HostConfig(name string) string {
	return fmt.Sprintf("%s/host/config/%s", t.root(), name)
}

// AllHostConfig matches every configuration delivery.
func (t Topics) AllHostConfig() string {
	return t.root() + "/host/config/+"
}

// =============================================================================
// Devices
// =============================================================================

// Command is where the host sends op to a shade or scene.
//
// Example: pvbridge/command/shade/12/open
func (t Topics) Command(kind string, id int, op string) string {
	return fmt.Sprintf("%s/command/%s/%d/%s", t.root(), kind, id, op)
}

// AllCommands matches every device command.
func (t Topics) AllCommands() string {
	return t.root() + "/command/+/+/+"
}

// State is the retained status topic of a shade or scene.
func (t Topics) State(kind string, id int) string {
	return fmt.Sprintf("%s/state/%s/%d", t.root(), kind, id)
}

// SceneEvent carries DON/DOF pulses when a scene's active state changes.
func (t Topics) SceneEvent(id int) string {
	return fmt.Sprintf("%s/event/scene/%d", t.root(), id)
}

// Heartbeat carries the bridge's alternating DON/DOF liveness pulse.
func (t Topics) Heartbeat() string {
	return t.root() + "/event/bridge/heartbeat"
}

// BridgeStatus is the retained online/offline topic, also used as the
// last will.
func (t Topics) BridgeStatus() string {
	return t.root() + "/bridge/status"
}

// =============================================================================
// Parsing
// =============================================================================

// ParseCommand splits a command topic into its kind, id and op.
// ok is false for topics outside the command tree.
func (t Topics) ParseCommand(topic string) (kind string, id int, op string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.root()+"/command/")
	if !found {
		return "", 0, "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return "", 0, "", false
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil || n < 0 {
		return "", 0, "", false
	}
	return parts[0], n, parts[2], true
}

// LastSegment returns the final level of a topic, which for acks and
// configuration deliveries names the subject.
func LastSegment(topic string) string {
	if i := strings.LastIndexByte(topic, '/'); i >= 0 {
		return topic[i+1:]
	}
	return topic
}
