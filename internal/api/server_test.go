package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/powerview-bridge/internal/engine"
	"github.com/nerrad567/powerview-bridge/internal/events"
	"github.com/nerrad567/powerview-bridge/internal/infrastructure/config"
	"github.com/nerrad567/powerview-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/powerview-bridge/internal/powerview"
)

// fakeEngine records commands and serves state from a real Store.
type fakeEngine struct {
	mu     sync.Mutex
	store  *engine.Store
	log    *events.Log
	stats  events.ListenerStats
	active map[int]bool
	calls  []string
	pos    powerview.Positions
	err    error
}

func newFakeEngine() *fakeEngine {
	store := engine.NewStore()
	store.ReplaceHome(&powerview.Home{
		Rooms: []powerview.Room{{ID: 1, Name: "Lounge"}},
		Shades: []powerview.Shade{
			{ID: 11, Name: "Bay", RoomID: 1, Positions: powerview.Positions{Primary: powerview.Pct(100)}},
			{ID: 12, Name: "Vanes", RoomID: 1},
		},
		Scenes: []powerview.Scene{
			{ID: 3, Name: "Closed", RoomIDs: []int{1}},
		},
	})
	return &fakeEngine{
		store:  store,
		log:    events.NewLog(),
		stats:  events.ListenerStats{Connected: true, Connects: 2, Events: 7},
		active: map[int]bool{},
	}
}

func (f *fakeEngine) Store() *engine.Store                { return f.store }
func (f *fakeEngine) Log() *events.Log                    { return f.log }
func (f *fakeEngine) ListenerStats() events.ListenerStats { return f.stats }

func (f *fakeEngine) SceneStates() []engine.SceneState {
	var out []engine.SceneState
	for _, sc := range f.store.Scenes() {
		st, _ := f.SceneState(sc.ID)
		out = append(out, st)
	}
	return out
}

func (f *fakeEngine) SceneState(id int) (engine.SceneState, error) {
	sc, ok := f.store.Scene(id)
	if !ok {
		return engine.SceneState{}, fmt.Errorf("%w: %d", engine.ErrSceneNotFound, id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return engine.SceneState{Scene: sc, DisplayName: f.store.SceneName(sc), Active: f.active[id]}, nil
}

func (f *fakeEngine) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeEngine) QueryShade(_ context.Context, id int) (powerview.Shade, error) {
	if err := f.record(fmt.Sprintf("query %d", id)); err != nil {
		return powerview.Shade{}, err
	}
	sh, ok := f.store.Shade(id)
	if !ok {
		return powerview.Shade{}, fmt.Errorf("%w: %d", engine.ErrShadeNotFound, id)
	}
	return sh, nil
}

func (f *fakeEngine) ShadeCommand(_ context.Context, id int, cmd string) error {
	return f.record(fmt.Sprintf("%s %d", cmd, id))
}

func (f *fakeEngine) SetShadePosition(_ context.Context, id int, pos powerview.Positions) error {
	f.mu.Lock()
	f.pos = pos
	f.mu.Unlock()
	return f.record(fmt.Sprintf("position %d", id))
}

func (f *fakeEngine) SceneCommand(_ context.Context, id int, cmd string) error {
	if err := f.record(fmt.Sprintf("%s scene %d", cmd, id)); err != nil {
		return err
	}
	f.mu.Lock()
	f.active[id] = true
	f.mu.Unlock()
	return nil
}

func (f *fakeEngine) BridgeCommand(_ context.Context, cmd string) error {
	return f.record("bridge " + cmd)
}

func newTestServer(t *testing.T, eng Engine, sec config.SecurityConfig) *Server {
	t.Helper()
	s, err := New(Deps{
		Config:   config.APIConfig{Host: "127.0.0.1", Port: 0},
		WS:       config.WebSocketConfig{Path: "/ws", MaxMessageSize: 4096, PingInterval: 30, PongTimeout: 10},
		Security: sec,
		Logger:   logging.Discard(),
		Engine:   eng,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func do(t *testing.T, h http.Handler, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{Engine: newFakeEngine()}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: logging.Discard()}); err == nil {
		t.Error("New() without engine should fail")
	}
}

func TestServer_HealthAndEvents(t *testing.T) {
	eng := newFakeEngine()
	eng.log.Append(events.NewSceneRecalculate([]int{3}, time.Now()))
	h := newTestServer(t, eng, config.SecurityConfig{}).Handler()

	rec := do(t, h, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
	var health map[string]any
	decode(t, rec, &health)
	if health["status"] != "ok" || health["version"] != "test" || health["hub_connected"] != true {
		t.Errorf("health = %v", health)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header not set")
	}

	rec = do(t, h, http.MethodGet, "/api/v1/events", "")
	var ev struct {
		Pending  int                  `json:"pending"`
		Listener events.ListenerStats `json:"listener"`
	}
	decode(t, rec, &ev)
	if ev.Pending != 1 || ev.Listener.Events != 7 || !ev.Listener.Connected {
		t.Errorf("events = %+v", ev)
	}
}

func TestServer_RequestIDPassthrough(t *testing.T) {
	h := newTestServer(t, newFakeEngine(), config.SecurityConfig{}).Handler()
	rec := do(t, h, http.MethodGet, "/api/v1/health", "", "X-Request-ID", "abc-123")
	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q", got)
	}
}

func TestServer_Shades(t *testing.T) {
	h := newTestServer(t, newFakeEngine(), config.SecurityConfig{}).Handler()

	rec := do(t, h, http.MethodGet, "/api/v1/shades", "")
	var list struct {
		Shades []powerview.Shade `json:"shades"`
		Count  int               `json:"count"`
	}
	decode(t, rec, &list)
	if list.Count != 2 || list.Shades[0].ID != 11 || list.Shades[0].RoomName != "Lounge" {
		t.Errorf("shades = %+v", list)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/shades/11", "")
	var shade powerview.Shade
	decode(t, rec, &shade)
	if p, _ := shade.Positions.Get(powerview.Primary); rec.Code != http.StatusOK || p != 100 {
		t.Errorf("shade 11 = %d %+v", rec.Code, shade)
	}

	tests := []struct {
		path string
		want int
	}{
		{"/api/v1/shades/99", http.StatusNotFound},
		{"/api/v1/shades/abc", http.StatusBadRequest},
		{"/api/v1/shades/-1", http.StatusBadRequest},
	}
	for _, tt := range tests {
		if rec := do(t, h, http.MethodGet, tt.path, ""); rec.Code != tt.want {
			t.Errorf("GET %s = %d, want %d", tt.path, rec.Code, tt.want)
		}
	}
}

func TestServer_ShadeCommands(t *testing.T) {
	eng := newFakeEngine()
	h := newTestServer(t, eng, config.SecurityConfig{}).Handler()

	for _, cmd := range []string{"open", "CLOSE", "stop", "tiltopen", "jog"} {
		rec := do(t, h, http.MethodPost, "/api/v1/shades/11/"+cmd, "")
		if rec.Code != http.StatusAccepted {
			t.Errorf("POST %s = %d: %s", cmd, rec.Code, rec.Body)
		}
	}

	rec := do(t, h, http.MethodPost, "/api/v1/shades/11/query", "")
	var shade powerview.Shade
	decode(t, rec, &shade)
	if rec.Code != http.StatusOK || shade.ID != 11 {
		t.Errorf("query = %d %+v", rec.Code, shade)
	}

	want := []string{"open 11", "close 11", "stop 11", "tiltopen 11", "jog 11", "query 11"}
	if fmt.Sprint(eng.calls) != fmt.Sprint(want) {
		t.Errorf("calls = %v, want %v", eng.calls, want)
	}
}

func TestServer_ShadeCommandErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unknown shade", fmt.Errorf("%w: 5", engine.ErrShadeNotFound), http.StatusNotFound},
		{"unknown command", engine.ErrUnknownCommand, http.StatusBadRequest},
		{"no vanes", engine.ErrNotTiltCapable, http.StatusBadRequest},
		{"generation", fmt.Errorf("stop: %w", powerview.ErrUnsupported), http.StatusConflict},
		{"hub down", fmt.Errorf("put: %w", powerview.ErrRequestFailed), http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newFakeEngine()
			eng.err = tt.err
			h := newTestServer(t, eng, config.SecurityConfig{}).Handler()

			rec := do(t, h, http.MethodPost, "/api/v1/shades/11/open", "")
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			var body Error
			decode(t, rec, &body)
			if body.Status != tt.want || body.Code == "" {
				t.Errorf("error body = %+v", body)
			}
		})
	}
}

func TestServer_SetShadePosition(t *testing.T) {
	eng := newFakeEngine()
	h := newTestServer(t, eng, config.SecurityConfig{}).Handler()

	rec := do(t, h, http.MethodPut, "/api/v1/shades/12/position", `{"primary":40,"tilt":20}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("PUT position = %d: %s", rec.Code, rec.Body)
	}
	if p, _ := eng.pos.Get(powerview.Primary); p != 40 {
		t.Errorf("primary = %d", p)
	}
	if v, ok := eng.pos.Get(powerview.Tilt); !ok || v != 20 {
		t.Errorf("tilt = %d, %v", v, ok)
	}
	if _, ok := eng.pos.Get(powerview.Secondary); ok {
		t.Error("secondary should be absent")
	}

	for _, body := range []string{`{}`, `not json`} {
		if rec := do(t, h, http.MethodPut, "/api/v1/shades/12/position", body); rec.Code != http.StatusBadRequest {
			t.Errorf("PUT %q = %d, want 400", body, rec.Code)
		}
	}
}

func TestServer_Scenes(t *testing.T) {
	eng := newFakeEngine()
	h := newTestServer(t, eng, config.SecurityConfig{}).Handler()

	rec := do(t, h, http.MethodGet, "/api/v1/scenes", "")
	var list struct {
		Scenes []engine.SceneState `json:"scenes"`
		Count  int                 `json:"count"`
	}
	decode(t, rec, &list)
	if list.Count != 1 || list.Scenes[0].DisplayName != "Lounge - Closed" || list.Scenes[0].Active {
		t.Errorf("scenes = %+v", list)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/scenes/3/activate", "")
	var st engine.SceneState
	decode(t, rec, &st)
	if rec.Code != http.StatusAccepted || !st.Active {
		t.Errorf("activate = %d %+v", rec.Code, st)
	}
	if eng.calls[0] != "activate scene 3" {
		t.Errorf("calls = %v", eng.calls)
	}

	if rec := do(t, h, http.MethodGet, "/api/v1/scenes/3", ""); rec.Code != http.StatusOK {
		t.Errorf("GET scene 3 = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/scenes/8", ""); rec.Code != http.StatusNotFound {
		t.Errorf("GET scene 8 = %d, want 404", rec.Code)
	}
}

func TestServer_BridgeCommands(t *testing.T) {
	eng := newFakeEngine()
	h := newTestServer(t, eng, config.SecurityConfig{}).Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/discover", "")
	var body struct {
		Status string `json:"status"`
		Shades int    `json:"shades"`
		Scenes int    `json:"scenes"`
	}
	decode(t, rec, &body)
	if rec.Code != http.StatusOK || body.Status != "discovered" || body.Shades != 2 || body.Scenes != 1 {
		t.Errorf("discover = %d %+v", rec.Code, body)
	}

	if rec := do(t, h, http.MethodPost, "/api/v1/query", ""); rec.Code != http.StatusOK {
		t.Errorf("query = %d", rec.Code)
	}
	want := []string{"bridge discover", "bridge query"}
	if fmt.Sprint(eng.calls) != fmt.Sprint(want) {
		t.Errorf("calls = %v, want %v", eng.calls, want)
	}

	eng.err = fmt.Errorf("fetching home: %w", powerview.ErrRequestFailed)
	if rec := do(t, h, http.MethodPost, "/api/v1/discover", ""); rec.Code != http.StatusBadGateway {
		t.Errorf("discover with hub down = %d, want 502", rec.Code)
	}
}

func TestServer_CORS(t *testing.T) {
	s := newTestServer(t, newFakeEngine(), config.SecurityConfig{})
	s.cfg.CORS.AllowedOrigins = []string{"http://panel.local"}
	h := s.Handler()

	rec := do(t, h, http.MethodOptions, "/api/v1/shades", "", "Origin", "http://panel.local")
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "http://panel.local" {
		t.Errorf("preflight = %d %v", rec.Code, rec.Header())
	}
	rec = do(t, h, http.MethodGet, "/api/v1/health", "", "Origin", "http://evil.example")
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("disallowed origin echoed")
	}
}

func TestServer_HealthCheckLifecycle(t *testing.T) {
	s := newTestServer(t, newFakeEngine(), config.SecurityConfig{})
	if err := s.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() before Start error = %v", err)
	}

	s.cfg.Port = 0
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
