package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/nerrad567/powerview-bridge/internal/powerview"
)

// Command names accepted by ShadeCommand and SceneCommand.
const (
	CmdOpen      = "open"
	CmdClose     = "close"
	CmdStop      = "stop"
	CmdTiltOpen  = "tiltopen"
	CmdTiltClose = "tiltclose"
	CmdJog       = "jog"
	CmdCalibrate = "calibrate"
	CmdQuery     = "query"
	CmdActivate  = "activate"
	CmdDiscover  = "discover"
)

// Tilt targets for the tilt commands.
const (
	TiltOpenPosition   = 50
	TiltClosedPosition = 0
)

// ShadeCommand runs a named command against a shade.
//
// Returns:
//   - ErrShadeNotFound for an unknown shade
//   - ErrUnknownCommand for an unrecognised name
//   - ErrNotTiltCapable for tilt commands on shades without vanes
//   - powerview.ErrUnsupported when the hub generation lacks the command
func (e *Engine) ShadeCommand(ctx context.Context, id int, cmd string) error {
	shade, ok := e.store.Shade(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrShadeNotFound, id)
	}

	gen := e.gw.Generation()
	cmd = strings.ToLower(cmd)

	var err error
	switch cmd {
	case CmdOpen:
		err = e.moveShade(ctx, shade, powerview.Positions{Primary: powerview.Pct(powerview.OpenPosition(gen))}, true)
	case CmdClose:
		err = e.moveShade(ctx, shade, powerview.Positions{Primary: powerview.Pct(powerview.ClosedPosition(gen))}, true)
	case CmdTiltOpen, CmdTiltClose:
		if !shade.Capability.TiltCapable() {
			return fmt.Errorf("%w: shade %d capability %d", ErrNotTiltCapable, id, shade.Capability)
		}
		tilt := TiltClosedPosition
		if cmd == CmdTiltOpen {
			tilt = TiltOpenPosition
		}
		err = e.moveShade(ctx, shade, powerview.Positions{Tilt: powerview.Pct(tilt)}, false)
	case CmdStop:
		err = e.gw.Stop(ctx, id)
	case CmdJog:
		err = e.gw.Jog(ctx, id)
	case CmdCalibrate:
		err = e.gw.Calibrate(ctx, id)
	case CmdQuery:
		_, err = e.QueryShade(ctx, id)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
	}

	if err != nil {
		e.logger.Warn("shade command failed", "shade_id", id, "command", cmd, "error", err)
		return fmt.Errorf("shade %d %s: %w", id, cmd, err)
	}
	e.logger.Info("shade command sent", "shade_id", id, "command", cmd)
	return nil
}

// SetShadePosition moves a shade to the given channel positions (0-100).
// Channels left nil are not sent.
func (e *Engine) SetShadePosition(ctx context.Context, id int, pos powerview.Positions) error {
	shade, ok := e.store.Shade(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrShadeNotFound, id)
	}
	if err := e.moveShade(ctx, shade, pos, false); err != nil {
		e.logger.Warn("set position failed", "shade_id", id, "positions", pos.String(), "error", err)
		return fmt.Errorf("shade %d position: %w", id, err)
	}
	e.logger.Info("shade position sent", "shade_id", id, "positions", pos.String())
	return nil
}

// moveShade sends pos, optionally merged over the shade's other channels,
// and records it once the hub accepted the request.
func (e *Engine) moveShade(ctx context.Context, shade powerview.Shade, pos powerview.Positions, merge bool) error {
	send := pos
	if merge {
		send = shade.Positions.Merge(pos).Restrict(shade.Capability)
	}
	if err := e.gw.SetPosition(ctx, shade, send); err != nil {
		return err
	}

	if pos.Tilt != nil {
		pos.Tilt = powerview.Pct(powerview.ClampTilt(shade.Capability, *pos.Tilt))
	}
	updated, ok := e.store.UpdateShade(shade.ID, func(s *powerview.Shade) {
		s.Positions = s.Positions.Merge(pos.Restrict(s.Capability))
	})
	if ok {
		e.report.ShadeStatus(updated)
	}
	return nil
}

// QueryShade re-reads a shade from the hub and reports it.
func (e *Engine) QueryShade(ctx context.Context, id int) (powerview.Shade, error) {
	if _, ok := e.store.Shade(id); !ok {
		return powerview.Shade{}, fmt.Errorf("%w: %d", ErrShadeNotFound, id)
	}
	fresh, err := e.gw.Shade(ctx, id)
	if err != nil {
		return powerview.Shade{}, err
	}
	updated, ok := e.store.UpdateShade(id, func(s *powerview.Shade) {
		s.Positions = s.Positions.Merge(fresh.Positions)
		s.BatteryStatus = fresh.BatteryStatus
		if fresh.Name != "" {
			s.Name = fresh.Name
		}
	})
	if !ok {
		return powerview.Shade{}, fmt.Errorf("%w: %d", ErrShadeNotFound, id)
	}
	e.report.ShadeStatus(updated)
	return updated, nil
}

// SceneCommand runs a named command against a scene: activate or query.
func (e *Engine) SceneCommand(ctx context.Context, id int, cmd string) error {
	switch strings.ToLower(cmd) {
	case CmdActivate:
		return e.ActivateScene(ctx, id)
	case CmdQuery:
		_, err := e.QueryScene(ctx, id)
		return err
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
	}
}

// ActivateScene asks the hub to run a scene.
//
// Gen-3 hubs confirm through scene-activated events. Gen-2 hubs send
// nothing back, so the scene is reported active at once and held until the
// next long poll.
func (e *Engine) ActivateScene(ctx context.Context, id int) error {
	if _, ok := e.store.Scene(id); !ok {
		return fmt.Errorf("%w: %d", ErrSceneNotFound, id)
	}
	if err := e.gw.ActivateScene(ctx, id); err != nil {
		e.logger.Warn("scene activation failed", "scene_id", id, "error", err)
		return fmt.Errorf("scene %d activate: %w", id, err)
	}
	e.logger.Info("scene activated", "scene_id", id)

	if e.gw.Generation() == powerview.Gen2 {
		e.holdActive(id)
		e.report.SceneStatus(id, true)
		e.report.SceneTransition(id, PulseOn)
	}
	return nil
}

// QueryScene recomputes and reports a scene's active state.
func (e *Engine) QueryScene(_ context.Context, id int) (bool, error) {
	if _, ok := e.store.Scene(id); !ok {
		return false, fmt.Errorf("%w: %d", ErrSceneNotFound, id)
	}
	return e.reconcile(id), nil
}

// BridgeCommand runs a bridge-level command: discover re-runs discovery
// and query re-reports every shade and scene.
func (e *Engine) BridgeCommand(ctx context.Context, cmd string) error {
	switch strings.ToLower(cmd) {
	case CmdDiscover:
		return e.Discover(ctx)
	case CmdQuery:
		e.QueryAll()
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
	}
}

// QueryAll reports the held state of every shade and scene again without
// asking the hub.
func (e *Engine) QueryAll() {
	for _, shade := range e.store.Shades() {
		e.report.ShadeStatus(shade)
	}
	for _, id := range e.store.SceneIDs() {
		e.report.SceneStatus(id, e.active.Computed(id))
	}
}

// SceneState is a scene together with both views of its active state.
type SceneState struct {
	powerview.Scene
	DisplayName string `json:"display_name"`
	Active      bool   `json:"active"`
	HubActive   *bool  `json:"hub_active,omitempty"`
}

// SceneStates returns every scene with its computed and hub state.
func (e *Engine) SceneStates() []SceneState {
	scenes := e.store.Scenes()
	out := make([]SceneState, len(scenes))
	for i, sc := range scenes {
		out[i] = e.sceneState(sc)
	}
	return out
}

// SceneState returns one scene's state.
func (e *Engine) SceneState(id int) (SceneState, error) {
	sc, ok := e.store.Scene(id)
	if !ok {
		return SceneState{}, fmt.Errorf("%w: %d", ErrSceneNotFound, id)
	}
	return e.sceneState(sc), nil
}

func (e *Engine) sceneState(sc powerview.Scene) SceneState {
	st := SceneState{
		Scene:       sc,
		DisplayName: e.store.SceneName(sc),
		Active:      e.active.Computed(sc.ID),
	}
	if hub, known := e.active.Hub(sc.ID); known {
		st.HubActive = &hub
	}
	return st
}
