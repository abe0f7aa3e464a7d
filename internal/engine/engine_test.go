package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/powerview-bridge/internal/events"
	"github.com/nerrad567/powerview-bridge/internal/powerview"
)

// ─── Mock Dependencies ──────────────────────────────────────────────────────

type sentPosition struct {
	shadeID int
	pos     powerview.Positions
}

// mockGateway serves a fixed home and records commands.
type mockGateway struct {
	mu        sync.Mutex
	gen       powerview.Generation
	home      *powerview.Home
	homeErr   error
	cmdErr    error
	positions []sentPosition
	calls     []string
	homeCalls int
}

func newMockGateway(gen powerview.Generation, home *powerview.Home) *mockGateway {
	return &mockGateway{gen: gen, home: home}
}

func (g *mockGateway) Generation() powerview.Generation { return g.gen }
func (g *mockGateway) EventsURL() string                { return "" }

func (g *mockGateway) Home(context.Context) (*powerview.Home, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.homeCalls++
	if g.homeErr != nil {
		return nil, g.homeErr
	}
	return g.home, nil
}

func (g *mockGateway) setHome(h *powerview.Home) {
	g.mu.Lock()
	g.home = h
	g.mu.Unlock()
}

func (g *mockGateway) Shade(_ context.Context, id int) (*powerview.Shade, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, s := range g.home.Shades {
		if s.ID == id {
			s = s.Clone()
			return &s, nil
		}
	}
	return nil, powerview.ErrNotFound
}

func (g *mockGateway) SetPosition(_ context.Context, shade powerview.Shade, pos powerview.Positions) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cmdErr != nil {
		return g.cmdErr
	}
	g.positions = append(g.positions, sentPosition{shadeID: shade.ID, pos: pos.Clone()})
	return nil
}

func (g *mockGateway) record(call string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cmdErr != nil {
		return g.cmdErr
	}
	g.calls = append(g.calls, call)
	return nil
}

func (g *mockGateway) Stop(_ context.Context, id int) error {
	if g.gen != powerview.Gen3 {
		return powerview.ErrUnsupported
	}
	return g.record(fmt.Sprintf("stop %d", id))
}

func (g *mockGateway) Jog(_ context.Context, id int) error {
	return g.record(fmt.Sprintf("jog %d", id))
}

func (g *mockGateway) Calibrate(_ context.Context, id int) error {
	if g.gen != powerview.Gen2 {
		return powerview.ErrUnsupported
	}
	return g.record(fmt.Sprintf("calibrate %d", id))
}

func (g *mockGateway) ActivateScene(_ context.Context, id int) error {
	return g.record(fmt.Sprintf("activate %d", id))
}

func (g *mockGateway) sent() []sentPosition {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]sentPosition(nil), g.positions...)
}

func (g *mockGateway) recorded() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

// mockRegistrar keeps nodes in memory and acknowledges creations at once
// when acks is set.
type mockRegistrar struct {
	mu      sync.Mutex
	nodes   map[string]Node
	created []string
	deleted []string
	renamed map[string]string
	acks    *CreationWaiter
	listErr error
}

func newMockRegistrar(acks *CreationWaiter, existing ...Node) *mockRegistrar {
	r := &mockRegistrar{
		nodes:   make(map[string]Node),
		renamed: make(map[string]string),
		acks:    acks,
	}
	for _, n := range existing {
		r.nodes[n.Address()] = n
	}
	return r
}

func (r *mockRegistrar) CreateDevice(_ context.Context, node Node) error {
	r.mu.Lock()
	r.nodes[node.Address()] = node
	r.created = append(r.created, node.Address())
	r.mu.Unlock()
	if r.acks != nil {
		r.acks.Ack(node.Address())
	}
	return nil
}

func (r *mockRegistrar) DeleteDevice(_ context.Context, address string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.nodes, address)
	r.deleted = append(r.deleted, address)
	return nil
}

func (r *mockRegistrar) ListDevices(context.Context) ([]Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	out := make([]Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n)
	}
	return out, nil
}

func (r *mockRegistrar) RenameDevice(_ context.Context, address, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.renamed[address] = name
	return nil
}

func (r *mockRegistrar) createdAddrs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.created...)
}

func (r *mockRegistrar) renamedTo(address string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.renamed[address]
}

// recordingReporter captures every report. panicNext makes the next
// ShadeStatus call panic.
type recordingReporter struct {
	mu        sync.Mutex
	shades    []powerview.Shade
	scenes    map[int][]bool
	pulses    map[int][]Pulse
	beats     []Pulse
	panicNext atomic.Bool
}

func newRecordingReporter() *recordingReporter {
	return &recordingReporter{
		scenes: make(map[int][]bool),
		pulses: make(map[int][]Pulse),
	}
}

func (r *recordingReporter) ShadeStatus(s powerview.Shade) {
	if r.panicNext.CompareAndSwap(true, false) {
		panic("reporter exploded")
	}
	r.mu.Lock()
	r.shades = append(r.shades, s)
	r.mu.Unlock()
}

func (r *recordingReporter) SceneStatus(id int, active bool) {
	r.mu.Lock()
	r.scenes[id] = append(r.scenes[id], active)
	r.mu.Unlock()
}

func (r *recordingReporter) SceneTransition(id int, p Pulse) {
	r.mu.Lock()
	r.pulses[id] = append(r.pulses[id], p)
	r.mu.Unlock()
}

func (r *recordingReporter) Heartbeat(p Pulse) {
	r.mu.Lock()
	r.beats = append(r.beats, p)
	r.mu.Unlock()
}

func (r *recordingReporter) heartbeats() []Pulse {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Pulse(nil), r.beats...)
}

func (r *recordingReporter) sceneReports(id int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.scenes[id])
}

func (r *recordingReporter) shadeReports() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.shades)
}

func (r *recordingReporter) lastScene(id int) (active, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.scenes[id]
	if len(s) == 0 {
		return false, false
	}
	return s[len(s)-1], true
}

func (r *recordingReporter) lastPulse(id int) Pulse {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.pulses[id]
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func intp(v int) *int { return &v }

// testHome has a bottom-up shade 11 fully down (Gen-3 orientation), a
// tilt shade 12 and two scenes naming shade 11.
func testHome() *powerview.Home {
	return &powerview.Home{
		Rooms: []powerview.Room{{ID: 1, Name: "Lounge"}},
		Shades: []powerview.Shade{
			{ID: 11, Name: "Bay", RoomID: 1, Capability: powerview.CapBottomUp,
				Positions: powerview.Positions{Primary: powerview.Pct(100)}},
			{ID: 12, Name: "Vanes", RoomID: 1, Capability: powerview.CapBottomUpTilt90,
				Positions: powerview.Positions{Primary: powerview.Pct(0), Tilt: powerview.Pct(0)}},
		},
		Scenes: []powerview.Scene{
			{ID: 1, Name: "Closed", RoomIDs: []int{1}, Members: []powerview.SceneMember{
				{ShadeID: 11, Targets: map[string]int{"pos1": 10000}},
			}},
			{ID: 2, Name: "Open", RoomIDs: []int{1}, Members: []powerview.SceneMember{
				{ShadeID: 11, Targets: map[string]int{"pos1": 0}},
			}},
		},
	}
}

type testRig struct {
	engine *Engine
	gw     *mockGateway
	reg    *mockRegistrar
	rep    *recordingReporter
}

func newTestRig(t *testing.T, gen powerview.Generation, cfg Config) *testRig {
	t.Helper()
	if cfg.RecheckInterval == 0 {
		cfg.RecheckInterval = 10 * time.Millisecond
	}
	waiter := NewCreationWaiter()
	gw := newMockGateway(gen, testHome())
	reg := newMockRegistrar(waiter)
	rep := newRecordingReporter()
	e := New(gw, reg, cfg, WithReporter(rep), WithCreationWaiter(waiter))
	e.ApplyHome(gw.home)
	return &testRig{engine: e, gw: gw, reg: reg, rep: rep}
}

// startRun creates a run state torn down with the test.
func startRun(t *testing.T) *runState {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	r := newRunState(ctx)
	t.Cleanup(func() {
		cancel()
		r.wg.Wait()
	})
	return r
}

func (r *runState) isRunning(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running[key]
}

// ─── Run ────────────────────────────────────────────────────────────────────

func TestRun_StartupTimeout(t *testing.T) {
	rig := newTestRig(t, powerview.Gen3, Config{StartupTimeout: 20 * time.Millisecond})
	rig.engine.Gate().Signal(DeliveryParams)

	err := rig.engine.Run(context.Background())
	if !errors.Is(err, ErrStartupTimeout) {
		t.Fatalf("Run() error = %v, want ErrStartupTimeout", err)
	}
	if rig.gw.homeCalls != 0 {
		t.Error("discovery must not start before the gate opens")
	}
}

func TestRun_InitialDiscoveryFailure(t *testing.T) {
	rig := newTestRig(t, powerview.Gen2, Config{})
	rig.gw.homeErr = errors.New("hub offline")
	for _, d := range StartupDeliveries {
		rig.engine.Gate().Signal(d)
	}

	if err := rig.engine.Run(context.Background()); err == nil {
		t.Fatal("Run() should fail when the hub cannot be read")
	}
}

func TestRun_Gen2DiscoversAndHoldsActivation(t *testing.T) {
	rig := newTestRig(t, powerview.Gen2, Config{
		ShortPoll: 20 * time.Millisecond,
		LongPoll:  time.Hour,
	})
	e := rig.engine
	for _, d := range StartupDeliveries {
		e.Gate().Signal(d)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	waitFor(t, "nodes created", func() bool { return len(rig.reg.createdAddrs()) == 4 })
	waitFor(t, "scene 2 reported", func() bool {
		_, ok := rig.rep.lastScene(2)
		return ok
	})

	// Scene 2 wants shade 11 at 0 but it sits at 100.
	if e.ActiveSets().Computed(2) {
		t.Fatal("scene 2 should start inactive")
	}
	if err := e.ActivateScene(ctx, 2); err != nil {
		t.Fatalf("ActivateScene() error = %v", err)
	}
	if got := rig.gw.recorded(); len(got) != 1 || got[0] != "activate 2" {
		t.Errorf("gateway calls = %v", got)
	}

	// Several polls later the held activation is still reported.
	time.Sleep(100 * time.Millisecond)
	if !e.ActiveSets().Computed(2) {
		t.Error("Gen-2 activation should be held until the long poll")
	}

	for _, id := range e.releaseHeld() {
		e.reconcile(id)
	}
	if e.ActiveSets().Computed(2) {
		t.Error("released scene should be recomputed from positions")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil on cancel", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_HeartbeatAlternatesOnLongPoll(t *testing.T) {
	rig := newTestRig(t, powerview.Gen2, Config{
		ShortPoll: time.Hour,
		LongPoll:  15 * time.Millisecond,
	})
	e := rig.engine
	for _, d := range StartupDeliveries {
		e.Gate().Signal(d)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	waitFor(t, "four heartbeats", func() bool { return len(rig.rep.heartbeats()) >= 4 })
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error = %v", err)
	}

	beats := rig.rep.heartbeats()
	for i, p := range beats {
		want := PulseOn
		if i%2 == 1 {
			want = PulseOff
		}
		if p != want {
			t.Fatalf("heartbeat[%d] = %s, want %s (all %v)", i, p, want, beats)
		}
	}
}

func TestRun_RestartsOnNotFound(t *testing.T) {
	rig := newTestRig(t, powerview.Gen2, Config{ShortPoll: time.Hour, LongPoll: time.Hour})
	e := rig.engine
	for _, d := range StartupDeliveries {
		e.Gate().Signal(d)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	waitFor(t, "first poll", func() bool {
		rig.gw.mu.Lock()
		defer rig.gw.mu.Unlock()
		return rig.gw.homeCalls >= 2
	})
	before := func() int {
		rig.gw.mu.Lock()
		defer rig.gw.mu.Unlock()
		return rig.gw.homeCalls
	}()

	e.Log().Append(events.Event{Kind: events.KindError, Message: events.NotFoundMessage})

	// The restart resyncs from the hub.
	waitFor(t, "resync after restart", func() bool {
		rig.gw.mu.Lock()
		defer rig.gw.mu.Unlock()
		return rig.gw.homeCalls > before
	})

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error = %v", err)
	}
}

// ─── Discovery ──────────────────────────────────────────────────────────────

func TestDiscover_CreatesMissingAndRemovesStale(t *testing.T) {
	waiter := NewCreationWaiter()
	gw := newMockGateway(powerview.Gen3, testHome())
	reg := newMockRegistrar(waiter,
		Node{Kind: NodeShade, HubID: 11, Name: "Bay"},
		Node{Kind: NodeShade, HubID: 99, Name: "Gone"},
	)
	e := New(gw, reg, Config{RemoveStaleNodes: true}, WithCreationWaiter(waiter))

	if err := e.Discover(context.Background()); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}

	want := []string{"shade12", "scene1", "scene2"}
	got := reg.createdAddrs()
	if len(got) != len(want) {
		t.Fatalf("created = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("created[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if len(reg.deleted) != 1 || reg.deleted[0] != "shade99" {
		t.Errorf("deleted = %v, want [shade99]", reg.deleted)
	}
	if n := reg.nodes["scene1"]; n.Name != "Lounge - Closed" {
		t.Errorf("scene node name = %q", n.Name)
	}
}

func TestDiscover_UnacknowledgedCreationContinues(t *testing.T) {
	gw := newMockGateway(powerview.Gen3, testHome())
	reg := newMockRegistrar(nil)
	e := New(gw, reg, Config{CreationTimeout: 10 * time.Millisecond})

	if err := e.Discover(context.Background()); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if got := len(reg.createdAddrs()); got != 4 {
		t.Errorf("creation requests = %d, want 4 despite missing acks", got)
	}
}

func TestDiscover_HostListFailure(t *testing.T) {
	gw := newMockGateway(powerview.Gen3, testHome())
	reg := newMockRegistrar(nil)
	reg.listErr = errors.New("host down")
	e := New(gw, reg, Config{})

	if err := e.Discover(context.Background()); err == nil {
		t.Fatal("Discover() should fail when the host cannot list devices")
	}
}

func TestAddress_RoundTrip(t *testing.T) {
	kind, id, err := ParseAddress(Address(NodeScene, 4521))
	if err != nil || kind != NodeScene || id != 4521 {
		t.Errorf("ParseAddress = %v %d %v", kind, id, err)
	}
	for _, bad := range []string{"", "shade", "blind3", "scene-1", "shadeX"} {
		if _, _, err := ParseAddress(bad); !errors.Is(err, ErrInvalidAddress) {
			t.Errorf("ParseAddress(%q) error = %v, want ErrInvalidAddress", bad, err)
		}
	}
}
