package engine

import (
	"context"
	"sort"
	"time"

	"github.com/nerrad567/powerview-bridge/internal/events"
	"github.com/nerrad567/powerview-bridge/internal/powerview"
)

// consume runs step for every snapshot the log hands out until ctx is
// cancelled, the stop signal is raised or step returns false. A panic in
// step is logged and the loop carries on.
func (e *Engine) consume(ctx context.Context, r *runState, name string, step func(snap []events.Event) bool) {
	var gen uint64
	for {
		snap, g, err := e.log.Wait(ctx, gen)
		if err != nil {
			return
		}
		gen = g
		if r.stopped() {
			return
		}

		keep := true
		e.guard(name, func() { keep = step(snap) })
		if !keep {
			return
		}
	}
}

func (e *Engine) guard(name string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("consumer iteration panicked", "consumer", name, "panic", p)
		}
	}()
	fn()
}

// shadeConsumer keeps one shade in sync with the event log.
//
// Per iteration: a home refresh naming the shade first, then the most
// recent event for the shade, and garbage collection only when neither
// applied.
func (e *Engine) shadeConsumer(ctx context.Context, r *runState, id int) {
	shade, ok := e.store.Shade(id)
	if !ok {
		return
	}
	name := shade.Name
	addr := Address(NodeShade, id)

	e.consume(ctx, r, addr, func(snap []events.Event) bool {
		if _, ok := e.store.Shade(id); !ok {
			e.logger.Info("shade no longer on hub, consumer exiting", "shade_id", id)
			return false
		}

		handled := false
		if ev, ok := find(snap, func(ev events.Event) bool {
			return ev.Kind == events.KindHomeRefresh && ev.ListsShade(id)
		}); ok {
			current, _ := e.store.Shade(id)
			if current.Name != name && e.rename(ctx, addr, current.Name) {
				name = current.Name
			}
			e.report.ShadeStatus(current)
			e.log.Update(ev.Seq, func(ev *events.Event) bool {
				ev.StripShade(id)
				return !ev.Drained()
			})
			handled = true
		}

		if e.shadeEvents(id, snap) {
			handled = true
		}
		if !handled {
			e.collectGarbage(snap)
		}
		return true
	})
}

// shadeEvents applies the most recent event naming the shade. Older events
// for the same shade are superseded: only their battery level is kept.
func (e *Engine) shadeEvents(id int, snap []events.Event) bool {
	var mine []events.Event
	for _, ev := range snap {
		if ev.Kind.ShadeScoped() && ev.ID != nil && *ev.ID == id {
			mine = append(mine, ev)
		}
	}
	if len(mine) == 0 {
		return false
	}

	sortByTime(mine)
	latest := mine[len(mine)-1]
	for _, ev := range mine[:len(mine)-1] {
		if ev.BatteryLevel != nil {
			level := *ev.BatteryLevel
			e.store.UpdateShade(id, func(s *powerview.Shade) { s.BatteryStatus = level })
		}
		e.log.Remove(ev.Seq)
	}

	e.applyShadeEvent(id, latest)
	e.log.Remove(latest.Seq)
	return true
}

func (e *Engine) applyShadeEvent(id int, ev events.Event) {
	shade, ok := e.store.UpdateShade(id, func(s *powerview.Shade) {
		switch ev.Kind {
		case events.KindMotionStarted:
			s.InMotion = true
			s.Positions = s.Positions.Merge(eventPositions(ev.TargetPositions, s.Capability))
		case events.KindMotionStopped:
			s.InMotion = false
			s.Positions = s.Positions.Merge(eventPositions(ev.CurrentPositions, s.Capability))
		case events.KindShadeOnline, events.KindShadeOffline:
			s.Positions = s.Positions.Merge(eventPositions(ev.CurrentPositions, s.Capability))
		case events.KindBatteryAlert:
			if ev.BatteryLevel != nil {
				s.BatteryStatus = *ev.BatteryLevel
			}
			s.Positions = s.Positions.Merge(eventPositions(ev.CurrentPositions, s.Capability))
		}
	})
	if !ok {
		return
	}

	e.logger.Debug("shade event applied",
		"shade_id", id,
		"event", ev.Kind.String(),
		"positions", shade.Positions.String(),
		"in_motion", shade.InMotion,
	)
	e.report.ShadeStatus(shade)

	if ev.Kind == events.KindMotionStopped {
		if scenes := e.store.SceneIDs(); len(scenes) > 0 {
			e.log.Append(events.NewSceneRecalculate(scenes, e.now()))
		}
	}
}

// eventPositions converts stream positions (0.0-1.0 per channel) to
// percentages, keeping only channels the shade has.
func eventPositions(raw map[string]float64, c powerview.Capability) powerview.Positions {
	var p powerview.Positions
	for key, v := range raw {
		pct := powerview.ToPercent(powerview.Gen3, v)
		switch powerview.Channel(key) {
		case powerview.Primary:
			p.Primary = powerview.Pct(pct)
		case powerview.Secondary:
			p.Secondary = powerview.Pct(pct)
		case powerview.Tilt:
			p.Tilt = powerview.Pct(pct)
		}
	}
	return p.Restrict(c)
}

// sceneConsumer keeps one scene's active state current.
func (e *Engine) sceneConsumer(ctx context.Context, r *runState, id int) {
	scene, ok := e.store.Scene(id)
	if !ok {
		return
	}
	name := e.store.SceneName(scene)
	addr := Address(NodeScene, id)
	e.reconcile(id)

	e.consume(ctx, r, addr, func(snap []events.Event) bool {
		if _, ok := e.store.Scene(id); !ok {
			e.logger.Info("scene no longer on hub, consumer exiting", "scene_id", id)
			return false
		}

		handled := false
		if ev, ok := find(snap, func(ev events.Event) bool {
			return ev.Kind == events.KindHomeRefresh && ev.ListsScene(id)
		}); ok {
			if current, ok := e.store.Scene(id); ok {
				if n := e.store.SceneName(current); n != name && e.rename(ctx, addr, n) {
					name = n
				}
			}
			e.log.Update(ev.Seq, stripScene(id))
			handled = true
		}

		for _, ev := range snap {
			switch {
			case ev.Kind == events.KindSceneRecalculate && ev.ListsScene(id):
				e.log.Update(ev.Seq, stripScene(id))
				handled = true
			case ev.Is(events.KindSceneActivated, id), ev.Is(events.KindSceneDeactivated, id):
				e.active.SetHub(id, ev.Kind == events.KindSceneActivated)
				e.log.Remove(ev.Seq)
				handled = true
			case ev.Is(events.KindSceneAdded, id):
				e.log.Remove(ev.Seq)
				if err := e.resync(ctx); err != nil {
					e.logger.Warn("resync for updated scene failed", "scene_id", id, "error", err)
				}
				handled = true
			}
		}

		if handled {
			e.reconcile(id)
		} else {
			e.collectGarbage(snap)
		}
		return true
	})
}

func stripScene(id int) func(*events.Event) bool {
	return func(ev *events.Event) bool {
		ev.StripScene(id)
		return !ev.Drained()
	}
}

// engineConsumer handles events no shade or scene owns: stream errors,
// scenes new to the engine, home document changes and drained or
// unrecognised events. Home document changes are dropped without
// discovery.
//
// An error event carrying the Not Found message raises the stop signal so
// Run restarts the stream from scratch.
func (e *Engine) engineConsumer(ctx context.Context, r *runState) {
	e.consume(ctx, r, "engine", func(snap []events.Event) bool {
		handled := false
		for _, ev := range snap {
			switch ev.Kind {
			case events.KindError:
				e.log.Remove(ev.Seq)
				handled = true
				if ev.Message == events.NotFoundMessage {
					e.logger.Error("hub stream reported Not Found, restarting", "seq", ev.Seq)
					r.signalStop()
					return false
				}
				e.logger.Warn("hub reported error event", "message", ev.Message)

			case events.KindSceneAdded:
				sceneID := -1
				if ev.ID != nil {
					sceneID = *ev.ID
					if _, known := e.store.Scene(sceneID); known {
						continue
					}
				}
				e.log.Remove(ev.Seq)
				handled = true
				e.logger.Info("scene added on hub, running discovery", "scene_id", sceneID)
				if err := e.Discover(ctx); err != nil {
					e.logger.Warn("discovery after scene-add failed", "error", err)
				}

			case events.KindHomeDocUpdated:
				// The long-poll refresh picks up whatever changed.
				e.log.Remove(ev.Seq)
				handled = true
				e.logger.Debug("home document updated", "seq", ev.Seq)

			case events.KindHomeRefresh, events.KindSceneRecalculate:
				if ev.Drained() {
					e.log.Remove(ev.Seq)
					handled = true
				}

			case events.KindUnknown:
				e.logger.Debug("dropping unrecognised event", "event", ev.RawKind, "seq", ev.Seq)
				e.log.Remove(ev.Seq)
				handled = true
			}
		}
		if !handled {
			e.collectGarbage(snap)
		}
		return true
	})
}

// collectGarbage removes events older than the maximum age, or whose
// timestamp cannot be parsed.
func (e *Engine) collectGarbage(snap []events.Event) {
	now := e.now()
	for _, ev := range snap {
		if ev.Expired(now, e.cfg.EventMaxAge) && e.log.Remove(ev.Seq) {
			e.logger.Debug("expired event removed", "event", ev.Kind.String(), "seq", ev.Seq, "date", ev.ISODate)
		}
	}
}

func (e *Engine) rename(ctx context.Context, addr, name string) bool {
	if err := e.host.RenameDevice(ctx, addr, name); err != nil {
		e.logger.Warn("renaming node failed", "address", addr, "name", name, "error", err)
		return false
	}
	e.logger.Info("node renamed", "address", addr, "name", name)
	return true
}

// reconcile recomputes a scene's active state and reports it.
//
// Disagreement with the hub's own active list is logged and left alone.
// Gen-2 scenes activated by command stay active until the next long poll.
func (e *Engine) reconcile(id int) bool {
	scene, ok := e.store.Scene(id)
	if !ok {
		return false
	}

	e.heldMu.Lock()
	if _, held := e.held[id]; held {
		e.heldMu.Unlock()
		return true
	}
	active := ComputeActive(scene, e.store)
	changed := e.active.SetComputed(id, active)
	e.heldMu.Unlock()

	if changed {
		e.logger.Info("scene state changed", "scene_id", id, "active", active)
	}
	e.report.SceneStatus(id, active)
	e.report.SceneTransition(id, pulseFor(active))

	if !e.active.Agrees(id) {
		hub, _ := e.active.Hub(id)
		e.logger.Warn("computed scene state disagrees with hub",
			"scene_id", id,
			"computed", active,
			"hub", hub,
		)
	}
	return active
}

func pulseFor(active bool) Pulse {
	if active {
		return PulseOn
	}
	return PulseOff
}

func find(snap []events.Event, pred func(events.Event) bool) (events.Event, bool) {
	for _, ev := range snap {
		if pred(ev) {
			return ev, true
		}
	}
	return events.Event{}, false
}

// sortByTime orders events oldest first. Unparseable timestamps sort
// first; ties keep log order.
func sortByTime(evs []events.Event) {
	at := func(ev events.Event) time.Time {
		t, err := ev.Timestamp()
		if err != nil {
			return time.Time{}
		}
		return t
	}
	sort.SliceStable(evs, func(i, j int) bool {
		return at(evs[i]).Before(at(evs[j]))
	})
}
