// Package influxdb records shade and scene telemetry in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Client implements
// engine.StatusReporter, so it can be handed to the engine next to the
// MQTT link and WebSocket hub:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//
// Measurements:
//   - shade_position: primary, secondary and tilt percentages, tagged shade_id
//   - shade_battery: hub battery status, tagged shade_id
//   - scene_state: active flag, tagged scene_id
//   - scene_pulse: DON or DOF, tagged scene_id
//   - bridge_heartbeat: DON or DOF on every long poll
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval. Async write failures go to the SetOnError callback.
package influxdb
