package powerview

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/carlmjohnson/requests"
)

const defaultRequestTimeout = 10 * time.Second

// Logger defines the logging interface used by the client.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Client talks to a PowerView hub over its local REST API.
//
// The same Client serves both hub generations; the generation selects
// endpoint layout, position scale and which commands exist.
//
// Thread Safety: All methods are safe for concurrent use.
type Client struct {
	base       string
	gen        atomic.Int32
	httpClient *http.Client
	logger     Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the client logger.
func WithLogger(l Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a client for the hub at address ("host", "host:port" or
// a full http URL). gen may be GenUnknown; call DetectGeneration before use.
func NewClient(address string, gen Generation, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	base := strings.TrimRight(address, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	c := &Client{
		base:       base,
		httpClient: &http.Client{Timeout: timeout},
		logger:     noopLogger{},
	}
	c.gen.Store(int32(gen))
	for _, o := range opts {
		o(c)
	}
	return c
}

// Generation returns the hub generation in use.
func (c *Client) Generation() Generation {
	return Generation(c.gen.Load())
}

// BaseURL returns the hub base URL.
func (c *Client) BaseURL() string {
	return c.base
}

// EventsURL returns the Gen-3 event stream URL, or "" on Gen-2 hubs which
// have no stream.
func (c *Client) EventsURL() string {
	if c.Generation() != Gen3 {
		return ""
	}
	return c.base + "/home/events"
}

// DetectGeneration probes the hub and records its generation. A configured
// generation is returned without probing.
func (c *Client) DetectGeneration(ctx context.Context) (Generation, error) {
	if g := c.Generation(); g != GenUnknown {
		return g, nil
	}
	var probe map[string]any
	if err := c.get(ctx, "/gateway", &probe); err == nil {
		c.gen.Store(int32(Gen3))
		c.logger.Info("detected PowerView hub", "generation", Gen3.String())
		return Gen3, nil
	}
	if err := c.get(ctx, "/api/userdata", &probe); err == nil {
		c.gen.Store(int32(Gen2))
		c.logger.Info("detected PowerView hub", "generation", Gen2.String())
		return Gen2, nil
	}
	return GenUnknown, ErrUnknownGeneration
}

// Home fetches a full snapshot of rooms, shades and scenes.
func (c *Client) Home(ctx context.Context) (*Home, error) {
	switch c.Generation() {
	case Gen2:
		return c.homeG2(ctx)
	case Gen3:
		return c.homeG3(ctx)
	default:
		return nil, ErrUnknownGeneration
	}
}

// Shade fetches a single shade.
func (c *Client) Shade(ctx context.Context, id int) (*Shade, error) {
	switch c.Generation() {
	case Gen2:
		var resp struct {
			Shade g2Shade `json:"shade"`
		}
		if err := c.get(ctx, fmt.Sprintf("/api/shades/%d", id), &resp); err != nil {
			return nil, err
		}
		s := resp.Shade.toShade()
		return &s, nil
	case Gen3:
		var raw g3Shade
		if err := c.get(ctx, fmt.Sprintf("/home/shades/%d", id), &raw); err != nil {
			return nil, err
		}
		s := raw.toShade()
		return &s, nil
	default:
		return nil, ErrUnknownGeneration
	}
}

// ActiveScenes returns the hub's active-scene list. Gen-2 hubs do not track
// one and return nil.
func (c *Client) ActiveScenes(ctx context.Context) ([]int, error) {
	if c.Generation() != Gen3 {
		return nil, nil
	}
	var raw []struct {
		ID int `json:"id"`
	}
	if err := c.get(ctx, "/home/scenes/active", &raw); err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(raw))
	for _, r := range raw {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

// SetPosition moves the channels set in pos. Tilt is ignored for shades
// that cannot tilt and clamped for 90 degree shades.
func (c *Client) SetPosition(ctx context.Context, shade Shade, pos Positions) error {
	for _, v := range []*int{pos.Primary, pos.Secondary, pos.Tilt} {
		if v != nil && (*v < 0 || *v > 100) {
			return ErrInvalidPosition
		}
	}
	gen := c.Generation()

	var tilt *int
	if pos.Tilt != nil && shade.Capability.TiltCapable() {
		tilt = Pct(ClampTilt(shade.Capability, *pos.Tilt))
	}

	switch gen {
	case Gen2:
		p := map[string]any{}
		if tilt != nil {
			p["posKind1"] = 3
			p["position1"] = FromPercent(gen, *tilt)
		}
		if pos.Primary != nil {
			p["posKind1"] = 1
			p["position1"] = FromPercent(gen, *pos.Primary)
		}
		if pos.Secondary != nil {
			p["posKind2"] = 2
			p["position2"] = FromPercent(gen, *pos.Secondary)
		}
		body := map[string]any{"shade": map[string]any{"positions": p}}
		return c.put(ctx, fmt.Sprintf("/api/shades/%d", shade.ID), body)
	case Gen3:
		p := map[string]any{}
		if pos.Primary != nil {
			p["primary"] = FromPercent(gen, *pos.Primary)
		}
		if pos.Secondary != nil {
			p["secondary"] = FromPercent(gen, *pos.Secondary)
		}
		if tilt != nil {
			p["tilt"] = FromPercent(gen, *tilt)
		}
		body := map[string]any{"positions": p}
		return c.put(ctx, fmt.Sprintf("/home/shades/positions?ids=%d", shade.ID), body)
	default:
		return ErrUnknownGeneration
	}
}

// Stop halts shade motion. Gen-3 only.
func (c *Client) Stop(ctx context.Context, id int) error {
	if c.Generation() != Gen3 {
		return ErrUnsupported
	}
	return c.put(ctx, fmt.Sprintf("/home/shades/stop?ids=%d", id), nil)
}

// Jog briefly moves a shade so it can be identified. On Gen-2 hubs this is
// the battery level refresh request, which jogs as a side effect.
func (c *Client) Jog(ctx context.Context, id int) error {
	switch c.Generation() {
	case Gen2:
		return c.put(ctx, fmt.Sprintf("/api/shades/%d?updateBatteryLevel=true", id), map[string]any{})
	case Gen3:
		return c.put(ctx, fmt.Sprintf("/home/shades/%d/motion", id), map[string]string{"motion": "jog"})
	default:
		return ErrUnknownGeneration
	}
}

// Calibrate asks a Gen-2 hub to recalibrate a shade. Gen-3 hubs calibrate
// automatically.
func (c *Client) Calibrate(ctx context.Context, id int) error {
	if c.Generation() != Gen2 {
		return ErrUnsupported
	}
	body := map[string]any{"shade": map[string]string{"motion": "calibrate"}}
	return c.put(ctx, fmt.Sprintf("/api/shades/%d", id), body)
}

// ActivateScene triggers a scene.
func (c *Client) ActivateScene(ctx context.Context, id int) error {
	switch c.Generation() {
	case Gen2:
		var ignored map[string]any
		return c.get(ctx, fmt.Sprintf("/api/scenes?sceneId=%d", id), &ignored)
	case Gen3:
		return c.put(ctx, fmt.Sprintf("/home/scenes/%d/activate", id), nil)
	default:
		return ErrUnknownGeneration
	}
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	url := c.base + path
	err := requests.URL(url).
		Client(c.httpClient).
		Accept("application/json").
		ToJSON(out).
		Fetch(ctx)
	return c.wrap(http.MethodGet, url, err)
}

func (c *Client) put(ctx context.Context, path string, body any) error {
	url := c.base + path
	b := requests.URL(url).
		Client(c.httpClient).
		Accept("application/json").
		Put()
	if body != nil {
		b.BodyJSON(body)
	}
	err := b.Fetch(ctx)
	if err == nil {
		c.logger.Debug("hub request", "method", http.MethodPut, "url", url)
	}
	return c.wrap(http.MethodPut, url, err)
}

func (c *Client) wrap(method, url string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if requests.HasStatusErr(err, http.StatusNotFound) {
		return fmt.Errorf("%w: %s %s", ErrNotFound, method, url)
	}
	return fmt.Errorf("%w: %s %s: %w", ErrRequestFailed, method, url, err)
}

// Gen-3 wire types.

type g3Room struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	PtName string `json:"ptName"`
}

func (r g3Room) displayName() string {
	if r.PtName != "" {
		return r.PtName
	}
	return DecodeName(r.Name)
}

type g3Positions struct {
	Primary   *float64 `json:"primary"`
	Secondary *float64 `json:"secondary"`
	Tilt      *float64 `json:"tilt"`
}

type g3Shade struct {
	ID            int         `json:"id"`
	Name          string      `json:"name"`
	PtName        string      `json:"ptName"`
	RoomID        int         `json:"roomId"`
	Capabilities  int         `json:"capabilities"`
	BatteryStatus int         `json:"batteryStatus"`
	Positions     g3Positions `json:"positions"`
}

func (s g3Shade) toShade() Shade {
	name := s.PtName
	if name == "" {
		name = DecodeName(s.Name)
	}
	capability := Capability(s.Capabilities)
	conv := func(v *float64) *int {
		if v == nil {
			return nil
		}
		return Pct(ToPercent(Gen3, *v))
	}
	pos := Positions{
		Primary:   conv(s.Positions.Primary),
		Secondary: conv(s.Positions.Secondary),
		Tilt:      conv(s.Positions.Tilt),
	}
	return Shade{
		ID:            s.ID,
		Name:          name,
		RoomID:        s.RoomID,
		Capability:    capability,
		BatteryStatus: s.BatteryStatus,
		Positions:     pos.Restrict(capability),
	}
}

type g3Member struct {
	ShadeID int                `json:"shd_Id"`
	Pos     map[string]float64 `json:"pos"`
}

type g3Scene struct {
	ID      int        `json:"id"`
	Name    string     `json:"name"`
	PtName  string     `json:"ptName"`
	RoomIDs []int      `json:"roomIds"`
	Members []g3Member `json:"members"`
}

func (c *Client) homeG3(ctx context.Context) (*Home, error) {
	var rooms []g3Room
	if err := c.get(ctx, "/home/rooms", &rooms); err != nil {
		return nil, err
	}
	var shades []g3Shade
	if err := c.get(ctx, "/home/shades", &shades); err != nil {
		return nil, err
	}
	var scenes []g3Scene
	if err := c.get(ctx, "/home/scenes", &scenes); err != nil {
		return nil, err
	}

	home := &Home{}
	roomNames := make(map[int]string, len(rooms))
	for _, r := range rooms {
		name := r.displayName()
		roomNames[r.ID] = name
		home.Rooms = append(home.Rooms, Room{ID: r.ID, Name: name})
	}
	for _, raw := range shades {
		s := raw.toShade()
		s.RoomName = roomNames[s.RoomID]
		home.Shades = append(home.Shades, s)
	}
	for _, raw := range scenes {
		name := raw.PtName
		if name == "" {
			name = DecodeName(raw.Name)
		}
		sc := Scene{
			ID:      raw.ID,
			Name:    name,
			RoomIDs: raw.RoomIDs,
		}
		for _, m := range raw.Members {
			targets := make(map[string]int, len(m.Pos))
			for k, v := range m.Pos {
				targets[k] = int(math.Round(v))
			}
			sc.Members = append(sc.Members, SceneMember{ShadeID: m.ShadeID, Targets: targets})
		}
		home.Scenes = append(home.Scenes, sc)
	}

	active, err := c.ActiveScenes(ctx)
	if err != nil {
		c.logger.Warn("active scene list unavailable", "error", err)
	} else {
		home.ActiveScenes = active
	}
	return home, nil
}

// Gen-2 wire types.

type g2Positions struct {
	PosKind1  int      `json:"posKind1"`
	Position1 *float64 `json:"position1"`
	PosKind2  int      `json:"posKind2"`
	Position2 *float64 `json:"position2"`
}

// channels maps the posKind/position pairs onto named channels.
func (p g2Positions) channels() map[Channel]int {
	out := map[Channel]int{}
	put := func(kind int, v *float64) {
		if v == nil {
			return
		}
		pct := ToPercent(Gen2, *v)
		switch kind {
		case 1:
			out[Primary] = pct
		case 2:
			out[Secondary] = pct
		case 3:
			out[Tilt] = pct
		}
	}
	put(p.PosKind1, p.Position1)
	put(p.PosKind2, p.Position2)
	return out
}

type g2Shade struct {
	ID            int         `json:"id"`
	Name          string      `json:"name"`
	RoomID        int         `json:"roomId"`
	Capabilities  *int        `json:"capabilities"`
	BatteryStatus int         `json:"batteryStatus"`
	Positions     g2Positions `json:"positions"`
}

func (s g2Shade) toShade() Shade {
	// Hubs on older firmware omit capabilities; treat as all channels.
	capability := Capability(-1)
	if s.Capabilities != nil {
		capability = Capability(*s.Capabilities)
	}
	var pos Positions
	for ch, v := range s.Positions.channels() {
		switch ch {
		case Primary:
			pos.Primary = Pct(v)
		case Secondary:
			pos.Secondary = Pct(v)
		case Tilt:
			pos.Tilt = Pct(v)
		}
	}
	return Shade{
		ID:            s.ID,
		Name:          DecodeName(s.Name),
		RoomID:        s.RoomID,
		Capability:    capability,
		BatteryStatus: s.BatteryStatus,
		Positions:     pos.Restrict(capability),
	}
}

type g2Scene struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	RoomID int    `json:"roomId"`
}

type g2Member struct {
	SceneID   int         `json:"sceneId"`
	ShadeID   int         `json:"shadeId"`
	Positions g2Positions `json:"positions"`
}

var g2TargetKeys = map[Channel]string{Primary: "pos1", Secondary: "pos2", Tilt: "tilt"}

func (c *Client) homeG2(ctx context.Context) (*Home, error) {
	var rooms struct {
		RoomData []struct {
			ID   int    `json:"id"`
			Name string `json:"name"`
		} `json:"roomData"`
	}
	if err := c.get(ctx, "/api/rooms", &rooms); err != nil {
		return nil, err
	}
	var shades struct {
		ShadeData []g2Shade `json:"shadeData"`
	}
	if err := c.get(ctx, "/api/shades", &shades); err != nil {
		return nil, err
	}
	var scenes struct {
		SceneData []g2Scene `json:"sceneData"`
	}
	if err := c.get(ctx, "/api/scenes", &scenes); err != nil {
		return nil, err
	}
	var members struct {
		SceneMemberData []g2Member `json:"sceneMemberData"`
	}
	if err := c.get(ctx, "/api/scenemembers", &members); err != nil {
		c.logger.Warn("scene members unavailable", "error", err)
	}

	home := &Home{}
	roomNames := make(map[int]string, len(rooms.RoomData))
	for _, r := range rooms.RoomData {
		name := DecodeName(r.Name)
		roomNames[r.ID] = name
		home.Rooms = append(home.Rooms, Room{ID: r.ID, Name: name})
	}
	for _, raw := range shades.ShadeData {
		s := raw.toShade()
		s.RoomName = roomNames[s.RoomID]
		home.Shades = append(home.Shades, s)
	}

	bySceneID := map[int][]SceneMember{}
	for _, m := range members.SceneMemberData {
		targets := map[string]int{}
		for ch, pct := range m.Positions.channels() {
			targets[g2TargetKeys[ch]] = pct * 100
		}
		bySceneID[m.SceneID] = append(bySceneID[m.SceneID], SceneMember{ShadeID: m.ShadeID, Targets: targets})
	}
	for _, raw := range scenes.SceneData {
		roomIDs := []int{raw.RoomID}
		home.Scenes = append(home.Scenes, Scene{
			ID:      raw.ID,
			Name:    DecodeName(raw.Name),
			RoomIDs: roomIDs,
			Members: bySceneID[raw.ID],
		})
	}
	return home, nil
}
