package influxdb

import (
	"strconv"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/powerview-bridge/internal/engine"
	"github.com/nerrad567/powerview-bridge/internal/powerview"
)

// Measurement names.
const (
	MeasurementShadePosition = "shade_position"
	MeasurementShadeBattery  = "shade_battery"
	MeasurementSceneState    = "scene_state"
	MeasurementScenePulse    = "scene_pulse"
	MeasurementHeartbeat     = "bridge_heartbeat"
)

var _ engine.StatusReporter = (*Client)(nil)

// WriteShadePosition records the channels present in pos, as percentages.
// Nothing is written when pos is empty.
//
// Example:
//
//	client.WriteShadePosition(11, powerview.Positions{Primary: powerview.Pct(40)})
func (c *Client) WriteShadePosition(id int, pos powerview.Positions) {
	fields := make(map[string]any, 3)
	for _, ch := range []powerview.Channel{powerview.Primary, powerview.Secondary, powerview.Tilt} {
		if v, ok := pos.Get(ch); ok {
			fields[string(ch)] = v
		}
	}
	if len(fields) == 0 {
		return
	}
	c.WritePoint(MeasurementShadePosition, shadeTags(id), fields)
}

// WriteBattery records a shade's battery status as reported by the hub.
func (c *Client) WriteBattery(id, level int) {
	c.WritePoint(MeasurementShadeBattery, shadeTags(id), map[string]any{"level": level})
}

// WriteSceneState records whether a scene is active.
func (c *Client) WriteSceneState(id int, active bool) {
	c.WritePoint(MeasurementSceneState, sceneTags(id), map[string]any{"active": active})
}

// WritePoint writes a point stamped now. Writes are dropped while the
// client is disconnected.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, c.now()))
}

// ShadeStatus records a shade's position and battery.
func (c *Client) ShadeStatus(shade powerview.Shade) {
	c.WriteShadePosition(shade.ID, shade.Positions)
	c.WriteBattery(shade.ID, shade.BatteryStatus)
}

// SceneStatus records a scene's active state.
func (c *Client) SceneStatus(id int, active bool) {
	c.WriteSceneState(id, active)
}

// SceneTransition records a DON/DOF pulse.
func (c *Client) SceneTransition(id int, pulse engine.Pulse) {
	c.WritePoint(MeasurementScenePulse, sceneTags(id), map[string]any{"pulse": string(pulse)})
}

// Heartbeat records the bridge liveness pulse.
func (c *Client) Heartbeat(pulse engine.Pulse) {
	c.WritePoint(MeasurementHeartbeat, nil, map[string]any{"pulse": string(pulse)})
}

func shadeTags(id int) map[string]string {
	return map[string]string{"shade_id": strconv.Itoa(id)}
}

func sceneTags(id int) map[string]string {
	return map[string]string{"scene_id": strconv.Itoa(id)}
}
