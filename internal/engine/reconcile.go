package engine

import (
	"math"

	"github.com/nerrad567/powerview-bridge/internal/powerview"
)

// PositionTolerance is the largest difference, in percent, at which a shade
// still counts as being at a scene target.
const PositionTolerance = 2

// Scene target keys that do not describe a position.
var ignoredTargets = map[string]bool{
	"vel":      true,
	"velocity": true,
	"duration": true,
}

// ShadeLookup finds the current record of a shade. *Store satisfies it.
type ShadeLookup interface {
	Shade(id int) (powerview.Shade, bool)
}

// targetChannel maps a scene target key to the shade channel it drives.
// Top-down/bottom-up shades report their rails the other way round.
func targetChannel(key string, c powerview.Capability) (powerview.Channel, bool) {
	swap := c == powerview.CapTopDownBottomUp
	switch key {
	case "pos1":
		if swap {
			return powerview.Secondary, true
		}
		return powerview.Primary, true
	case "pos2":
		if swap {
			return powerview.Primary, true
		}
		return powerview.Secondary, true
	case "tilt":
		return powerview.Tilt, true
	}
	return "", false
}

// ComputeActive reports whether every shade in the scene currently sits at
// its stored target.
//
// A scene with no members is never active. A member whose shade is unknown,
// or whose targeted channel has no current value, does not match. Targets
// are stored in hundredths of a percent and match when within
// PositionTolerance of the current value.
//
// Duolite shades have an extra interlock: a pos1 target also needs the
// secondary rail at exactly 100, and a pos2 target needs the primary rail
// at exactly 0.
func ComputeActive(scene powerview.Scene, shades ShadeLookup) bool {
	if len(scene.Members) == 0 {
		return false
	}
	for _, m := range scene.Members {
		shade, ok := shades.Shade(m.ShadeID)
		if !ok || !memberMatches(m, shade) {
			return false
		}
	}
	return true
}

func memberMatches(m powerview.SceneMember, shade powerview.Shade) bool {
	for key, raw := range m.Targets {
		if ignoredTargets[key] {
			continue
		}
		ch, ok := targetChannel(key, shade.Capability)
		if !ok {
			continue
		}
		current, ok := shade.Positions.Get(ch)
		if !ok {
			return false
		}
		target := raw / 100
		if math.Abs(float64(target-current)) > PositionTolerance {
			return false
		}
		if shade.Capability.Duolite() && !duoliteInterlock(key, shade.Positions) {
			return false
		}
	}
	return true
}

func duoliteInterlock(key string, pos powerview.Positions) bool {
	switch key {
	case "pos1":
		v, ok := pos.Get(powerview.Secondary)
		return ok && v == 100
	case "pos2":
		v, ok := pos.Get(powerview.Primary)
		return ok && v == 0
	}
	return true
}
