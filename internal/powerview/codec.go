package powerview

import (
	"encoding/base64"
	"math"
	"strings"
	"unicode/utf8"
)

// G2Divisor is the full-scale raw position value on Gen-2 hubs.
const G2Divisor = 65535

// MultiRoom prefixes the display name of scenes that span several rooms.
const MultiRoom = "Multi-Room"

// ToPercent converts a raw hub position to a 0-100 percentage, rounding
// half up. Gen-2 raw values run 0..65535, Gen-3 values 0.0..1.0.
func ToPercent(gen Generation, raw float64) int {
	div := 1.0
	if gen == Gen2 {
		div = G2Divisor
	}
	return int(math.Trunc(raw/div*100.0 + 0.5))
}

// FromPercent converts a 0-100 percentage to the hub's raw scale.
// Gen-2 values are truncated to an integer.
func FromPercent(gen Generation, pct int) float64 {
	if gen == Gen2 {
		return math.Trunc(float64(pct) / 100.0 * G2Divisor)
	}
	return float64(pct) / 100.0
}

// ClampTilt limits a tilt target for shades whose vanes only rotate 90 degrees.
func ClampTilt(c Capability, tilt int) int {
	if c.Tilt90() && tilt >= 50 {
		return 49
	}
	return tilt
}

// OpenPosition returns the primary value that fully opens a shade.
// Gen-2 hubs count open as 100, Gen-3 hubs as 0.
func OpenPosition(gen Generation) int {
	if gen == Gen2 {
		return 100
	}
	return 0
}

// ClosedPosition returns the primary value that fully closes a shade.
func ClosedPosition(gen Generation) int {
	return 100 - OpenPosition(gen)
}

// DecodeName decodes a base64 name as sent by the hub. Values that are not
// valid base64 text are returned unchanged.
func DecodeName(s string) string {
	if s == "" {
		return s
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil || !utf8.Valid(b) {
		return s
	}
	return strings.TrimSpace(string(b))
}

// SceneDisplayName builds "<room> - <scene>" for single-room scenes and
// "Multi-Room - <scene>" otherwise.
func SceneDisplayName(rooms map[int]string, roomIDs []int, name string) string {
	prefix := MultiRoom
	if len(roomIDs) == 1 {
		if r, ok := rooms[roomIDs[0]]; ok && r != "" {
			prefix = r
		}
	}
	return prefix + " - " + name
}
