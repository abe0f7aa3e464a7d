package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Kind is the closed set of hub event types.
type Kind int

// Event kinds.
const (
	KindUnknown Kind = iota
	KindHomeRefresh
	KindMotionStarted
	KindMotionStopped
	KindShadeOnline
	KindShadeOffline
	KindBatteryAlert
	KindSceneActivated
	KindSceneDeactivated
	KindSceneAdded
	KindSceneRecalculate
	KindHomeDocUpdated
	KindError
)

var kindNames = map[Kind]string{
	KindHomeRefresh:      "home",
	KindMotionStarted:    "motion-started",
	KindMotionStopped:    "motion-stopped",
	KindShadeOnline:      "shade-online",
	KindShadeOffline:     "shade-offline",
	KindBatteryAlert:     "battery-alert",
	KindSceneActivated:   "scene-activated",
	KindSceneDeactivated: "scene-deactivated",
	KindSceneAdded:       "scene-add",
	KindSceneRecalculate: "scene-calc",
	KindHomeDocUpdated:   "homedoc-updated",
	KindError:            "error",
}

var kindsByName = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames))
	for k, n := range kindNames {
		m[n] = k
	}
	return m
}()

// ParseKind maps a wire event name to a Kind. Unrecognised names yield KindUnknown.
func ParseKind(name string) Kind {
	return kindsByName[name]
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// ShadeScoped reports whether the event's ID names a shade.
func (k Kind) ShadeScoped() bool {
	switch k {
	case KindMotionStarted, KindMotionStopped, KindShadeOnline, KindShadeOffline, KindBatteryAlert:
		return true
	}
	return false
}

// SceneScoped reports whether the event's ID names a scene.
func (k Kind) SceneScoped() bool {
	switch k {
	case KindSceneActivated, KindSceneDeactivated, KindSceneAdded:
		return true
	}
	return false
}

// NotFoundMessage is the error message that forces a full stream restart.
const NotFoundMessage = "Not Found"

// Event is one entry in the Log.
//
// Home-refresh and scene-recalculate events carry membership lists instead
// of a single ID; consumers strip their own id as they handle them.
type Event struct {
	// Seq is assigned by the Log on append and identifies the event for removal.
	Seq uint64

	Kind    Kind
	RawKind string

	ID      *int
	ISODate string

	TargetPositions  map[string]float64
	CurrentPositions map[string]float64
	BatteryLevel     *int

	Shades []int
	Scenes []int

	Message string
}

// Clone returns a deep copy of the event.
func (e Event) Clone() Event {
	e.TargetPositions = cloneFloats(e.TargetPositions)
	e.CurrentPositions = cloneFloats(e.CurrentPositions)
	if e.ID != nil {
		id := *e.ID
		e.ID = &id
	}
	if e.BatteryLevel != nil {
		b := *e.BatteryLevel
		e.BatteryLevel = &b
	}
	e.Shades = append([]int(nil), e.Shades...)
	e.Scenes = append([]int(nil), e.Scenes...)
	return e
}

// Is reports whether the event is of kind k and names subject id.
func (e Event) Is(k Kind, id int) bool {
	return e.Kind == k && e.ID != nil && *e.ID == id
}

// ListsShade reports whether id is in the event's shade list.
func (e Event) ListsShade(id int) bool { return contains(e.Shades, id) }

// ListsScene reports whether id is in the event's scene list.
func (e Event) ListsScene(id int) bool { return contains(e.Scenes, id) }

// StripShade removes id from the shade list.
func (e *Event) StripShade(id int) { e.Shades = without(e.Shades, id) }

// StripScene removes id from the scene list.
func (e *Event) StripScene(id int) { e.Scenes = without(e.Scenes, id) }

// Drained reports whether every listed consumer has handled the event.
func (e Event) Drained() bool { return len(e.Shades) == 0 && len(e.Scenes) == 0 }

// Timestamp parses ISODate.
func (e Event) Timestamp() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, e.ISODate)
}

// Expired reports whether the event is older than maxAge at now, or carries
// a timestamp that cannot be parsed.
func (e Event) Expired(now time.Time, maxAge time.Duration) bool {
	ts, err := e.Timestamp()
	if err != nil {
		return true
	}
	return now.Sub(ts) > maxAge
}

// FormatISO renders t the way the hub stamps events: UTC, millisecond precision.
func FormatISO(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// NewHomeRefresh builds a full-refresh event listing every known shade and scene.
func NewHomeRefresh(shades, scenes []int, now time.Time) Event {
	return Event{
		Kind:    KindHomeRefresh,
		RawKind: KindHomeRefresh.String(),
		ISODate: FormatISO(now),
		Shades:  append([]int(nil), shades...),
		Scenes:  append([]int(nil), scenes...),
	}
}

// NewSceneRecalculate builds a recalculation request for the given scenes.
func NewSceneRecalculate(scenes []int, now time.Time) Event {
	return Event{
		Kind:    KindSceneRecalculate,
		RawKind: KindSceneRecalculate.String(),
		ISODate: FormatISO(now),
		Scenes:  append([]int(nil), scenes...),
	}
}

// wireEvent is the hub's JSON representation.
type wireEvent struct {
	Evt              string             `json:"evt"`
	ID               *flexInt           `json:"id"`
	ISODate          string             `json:"isoDate"`
	TargetPositions  map[string]float64 `json:"targetPositions"`
	CurrentPositions map[string]float64 `json:"currentPositions"`
	BatteryLevel     *flexInt           `json:"batteryLevel"`
	Shades           []int              `json:"shades"`
	Scenes           []int              `json:"scenes"`
	Message          string             `json:"message"`
	ErrMsg           string             `json:"errMsg"`
}

// Decode parses one stream line into an Event.
func Decode(line []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(line, &w); err != nil {
		return Event{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if w.Evt == "" {
		return Event{}, fmt.Errorf("%w: missing evt field", ErrDecode)
	}
	ev := Event{
		Kind:             ParseKind(w.Evt),
		RawKind:          w.Evt,
		ISODate:          w.ISODate,
		TargetPositions:  w.TargetPositions,
		CurrentPositions: w.CurrentPositions,
		Shades:           w.Shades,
		Scenes:           w.Scenes,
		Message:          w.Message,
	}
	if ev.Message == "" {
		ev.Message = w.ErrMsg
	}
	if w.ID != nil {
		id := int(*w.ID)
		ev.ID = &id
	}
	if w.BatteryLevel != nil {
		b := int(*w.BatteryLevel)
		ev.BatteryLevel = &b
	}
	return ev, nil
}

// flexInt accepts both 12 and "12".
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	n, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	*f = flexInt(int(n))
	return nil
}

func cloneFloats(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func contains(ids []int, id int) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func without(ids []int, id int) []int {
	out := ids[:0:0]
	for _, x := range ids {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}
