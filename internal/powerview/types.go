package powerview

import "fmt"

// Generation identifies the hub API family.
type Generation int

// Supported hub generations.
const (
	GenUnknown Generation = 0
	Gen2       Generation = 2
	Gen3       Generation = 3
)

func (g Generation) String() string {
	switch g {
	case Gen2:
		return "gen2"
	case Gen3:
		return "gen3"
	default:
		return "unknown"
	}
}

// Channel names one positional axis of a shade.
type Channel string

// Position channels.
const (
	Primary   Channel = "primary"
	Secondary Channel = "secondary"
	Tilt      Channel = "tilt"
)

// Capability is the hub's shade capability code (0-10).
type Capability int

// Capability codes as reported by the hub.
const (
	CapBottomUp           Capability = 0
	CapBottomUpTilt90     Capability = 1
	CapBottomUpTilt180    Capability = 2
	CapVerticalTraversing Capability = 3
	CapVerticalTilt180    Capability = 4
	CapTiltOnly180        Capability = 5
	CapTopDown            Capability = 6
	CapTopDownBottomUp    Capability = 7
	CapDuolite            Capability = 8
	CapDuoliteTilt90      Capability = 9
	CapDuoliteTilt180     Capability = 10
)

// Channels returns the position channels a shade with this capability exposes.
// Unknown codes expose all three.
func (c Capability) Channels() []Channel {
	switch c {
	case CapBottomUp, CapVerticalTraversing:
		return []Channel{Primary}
	case CapBottomUpTilt90, CapBottomUpTilt180, CapVerticalTilt180:
		return []Channel{Primary, Tilt}
	case CapTiltOnly180:
		return []Channel{Tilt}
	case CapTopDown:
		return []Channel{Secondary}
	case CapTopDownBottomUp, CapDuolite:
		return []Channel{Primary, Secondary}
	default:
		return []Channel{Primary, Secondary, Tilt}
	}
}

// Has reports whether the capability exposes ch.
func (c Capability) Has(ch Channel) bool {
	for _, x := range c.Channels() {
		if x == ch {
			return true
		}
	}
	return false
}

// TiltCapable reports whether tilt commands are accepted by the hub.
func (c Capability) TiltCapable() bool {
	switch c {
	case CapBottomUpTilt90, CapBottomUpTilt180, CapVerticalTilt180,
		CapTiltOnly180, CapDuoliteTilt90, CapDuoliteTilt180:
		return true
	}
	return false
}

// Tilt90 reports whether the vanes only rotate through 90 degrees.
func (c Capability) Tilt90() bool {
	return c == CapBottomUpTilt90 || c == CapDuoliteTilt90
}

// Duolite reports whether the shade has a front sheer and rear blackout
// that interlock.
func (c Capability) Duolite() bool {
	return c == CapDuolite || c == CapDuoliteTilt90 || c == CapDuoliteTilt180
}

// Positions holds the 0-100 position of each channel. A nil field means
// the channel does not apply or is unknown.
type Positions struct {
	Primary   *int `json:"primary,omitempty"`
	Secondary *int `json:"secondary,omitempty"`
	Tilt      *int `json:"tilt,omitempty"`
}

// Pct returns a pointer to v, for building Positions literals.
func Pct(v int) *int { return &v }

// Get returns the value of ch and whether it is set.
func (p Positions) Get(ch Channel) (int, bool) {
	var v *int
	switch ch {
	case Primary:
		v = p.Primary
	case Secondary:
		v = p.Secondary
	case Tilt:
		v = p.Tilt
	}
	if v == nil {
		return 0, false
	}
	return *v, true
}

// Merge returns p with every channel that is set in o replaced.
func (p Positions) Merge(o Positions) Positions {
	if o.Primary != nil {
		p.Primary = Pct(*o.Primary)
	}
	if o.Secondary != nil {
		p.Secondary = Pct(*o.Secondary)
	}
	if o.Tilt != nil {
		p.Tilt = Pct(*o.Tilt)
	}
	return p
}

// Restrict drops the channels c does not expose.
func (p Positions) Restrict(c Capability) Positions {
	var out Positions
	if c.Has(Primary) {
		out.Primary = p.Primary
	}
	if c.Has(Secondary) {
		out.Secondary = p.Secondary
	}
	if c.Has(Tilt) {
		out.Tilt = p.Tilt
	}
	return out
}

// Empty reports whether no channel is set.
func (p Positions) Empty() bool {
	return p.Primary == nil && p.Secondary == nil && p.Tilt == nil
}

// Clone returns a deep copy.
func (p Positions) Clone() Positions {
	return Positions{}.Merge(p)
}

func (p Positions) String() string {
	f := func(v *int) string {
		if v == nil {
			return "-"
		}
		return fmt.Sprint(*v)
	}
	return fmt.Sprintf("p=%s s=%s t=%s", f(p.Primary), f(p.Secondary), f(p.Tilt))
}

// Shade is the engine's record of one hub shade.
type Shade struct {
	ID            int        `json:"id"`
	Name          string     `json:"name"`
	RoomID        int        `json:"room_id"`
	RoomName      string     `json:"room_name,omitempty"`
	Capability    Capability `json:"capability"`
	BatteryStatus int        `json:"battery_status"`
	Positions     Positions  `json:"positions"`
	InMotion      bool       `json:"in_motion"`
}

// Clone returns a deep copy of the shade.
func (s Shade) Clone() Shade {
	s.Positions = s.Positions.Clone()
	return s
}

// Room is a hub room.
type Room struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// SceneMember is one shade's stored target inside a scene. Targets are keyed
// by the hub's field names (pos1, pos2, tilt, vel, ...) and hold hundredths
// of a percent.
type SceneMember struct {
	ShadeID int            `json:"shade_id"`
	Targets map[string]int `json:"targets"`
}

// Scene is a hub scene. Name is the hub's own name, without the room
// prefix the host sees.
type Scene struct {
	ID      int           `json:"id"`
	Name    string        `json:"name"`
	RoomIDs []int         `json:"room_ids"`
	Members []SceneMember `json:"members"`
}

// Clone returns a deep copy of the scene.
func (s Scene) Clone() Scene {
	s.RoomIDs = append([]int(nil), s.RoomIDs...)
	members := make([]SceneMember, len(s.Members))
	for i, m := range s.Members {
		targets := make(map[string]int, len(m.Targets))
		for k, v := range m.Targets {
			targets[k] = v
		}
		members[i] = SceneMember{ShadeID: m.ShadeID, Targets: targets}
	}
	s.Members = members
	return s
}

// Home is a full snapshot of the hub.
type Home struct {
	Rooms  []Room
	Shades []Shade
	Scenes []Scene

	// ActiveScenes is the hub's own active-scene list. Nil when the hub
	// generation does not report one.
	ActiveScenes []int
}

// ShadeIDs returns the ids of every shade in the snapshot.
func (h *Home) ShadeIDs() []int {
	ids := make([]int, len(h.Shades))
	for i, s := range h.Shades {
		ids[i] = s.ID
	}
	return ids
}

// SceneIDs returns the ids of every scene in the snapshot.
func (h *Home) SceneIDs() []int {
	ids := make([]int, len(h.Scenes))
	for i, s := range h.Scenes {
		ids[i] = s.ID
	}
	return ids
}
