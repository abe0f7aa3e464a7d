package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/powerview-bridge/internal/events"
	"github.com/nerrad567/powerview-bridge/internal/powerview"
)

// Default timings, used when the matching Config field is zero.
const (
	defaultStartupTimeout  = 300 * time.Second
	defaultEventMaxAge     = 2 * time.Minute
	defaultCreationTimeout = 60 * time.Second
	defaultShortPoll       = 30 * time.Second
	defaultLongPoll        = 60 * time.Second
)

// Config holds the engine timings.
type Config struct {
	Stream events.ListenerConfig

	StartupTimeout  time.Duration
	EventMaxAge     time.Duration
	RecheckInterval time.Duration
	CreationTimeout time.Duration

	// ShortPoll is the Gen-2 polling interval.
	ShortPoll time.Duration

	// LongPoll is the Gen-3 full refresh interval, and the interval after
	// which a Gen-2 scene activation is cleared.
	LongPoll time.Duration

	// RemoveStaleNodes deletes host nodes whose hub shade or scene is gone.
	RemoveStaleNodes bool
}

func (c *Config) applyDefaults() {
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = defaultStartupTimeout
	}
	if c.EventMaxAge <= 0 {
		c.EventMaxAge = defaultEventMaxAge
	}
	if c.CreationTimeout <= 0 {
		c.CreationTimeout = defaultCreationTimeout
	}
	if c.ShortPoll <= 0 {
		c.ShortPoll = defaultShortPoll
	}
	if c.LongPoll <= 0 {
		c.LongPoll = defaultLongPoll
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithReporter adds a status reporter. May be given several times.
func WithReporter(r StatusReporter) Option {
	return func(e *Engine) {
		if r != nil {
			e.report = append(e.report, r)
		}
	}
}

// WithGate replaces the startup gate, so a host link created before the
// engine can signal it.
func WithGate(g *Gate) Option {
	return func(e *Engine) { e.gate = g }
}

// WithCreationWaiter replaces the creation waiter.
func WithCreationWaiter(w *CreationWaiter) Option {
	return func(e *Engine) { e.creations = w }
}

// WithStreamClient sets the HTTP client used for the Gen-3 event stream.
func WithStreamClient(hc *http.Client) Option {
	return func(e *Engine) { e.streamClient = hc }
}

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine mirrors a PowerView hub onto an automation host.
//
// It waits for the startup Gate, discovers shades and scenes, registers them
// with the host, then runs one consumer goroutine per shade and per scene
// against a shared event Log fed by the stream Listener (Gen-3) or the
// Poller (Gen-2).
//
// Thread Safety: Commands and accessors are safe for concurrent use while
// Run is active.
type Engine struct {
	gw           Gateway
	host         Registrar
	cfg          Config
	store        *Store
	active       *ActiveSets
	log          *events.Log
	gate         *Gate
	creations    *CreationWaiter
	report       reporters
	logger       Logger
	now          func() time.Time
	streamClient *http.Client

	poller   *events.Poller
	listener atomic.Pointer[events.Listener]

	runMu sync.Mutex
	cur   *runState

	// Gen-2 scenes activated by command, held active until the next long poll.
	heldMu sync.Mutex
	held   map[int]struct{}

	// discoverMu serialises discovery between startup, the engine consumer
	// and bridge commands.
	discoverMu sync.Mutex

	beats atomic.Uint64
}

// New creates an engine.
//
// Parameters:
//   - gw: Hub client
//   - host: Device registration on the automation host
//   - cfg: Timings; zero fields take defaults
//   - opts: Logger, reporters, shared gate and creation waiter
func New(gw Gateway, host Registrar, cfg Config, opts ...Option) *Engine {
	cfg.applyDefaults()
	e := &Engine{
		gw:     gw,
		host:   host,
		cfg:    cfg,
		store:  NewStore(),
		active: NewActiveSets(),
		logger: noopLogger{},
		now:    time.Now,
		held:   make(map[int]struct{}),
	}
	for _, o := range opts {
		o(e)
	}
	if e.gate == nil {
		e.gate = NewGate()
	}
	if e.creations == nil {
		e.creations = NewCreationWaiter()
	}
	e.log = events.NewLog(events.WithRecheck(cfg.RecheckInterval), events.WithClock(e.now))
	e.poller = events.NewPoller(e.gw, e, e.log, e.logger)
	return e
}

// Store returns the shade and scene store.
func (e *Engine) Store() *Store { return e.store }

// ActiveSets returns the computed and hub active-scene sets.
func (e *Engine) ActiveSets() *ActiveSets { return e.active }

// Log returns the pending event log.
func (e *Engine) Log() *events.Log { return e.log }

// Gate returns the startup gate.
func (e *Engine) Gate() *Gate { return e.gate }

// Creations returns the creation waiter the host acknowledges through.
func (e *Engine) Creations() *CreationWaiter { return e.creations }

// ListenerStats returns the event stream counters. Zero on Gen-2 hubs.
func (e *Engine) ListenerStats() events.ListenerStats {
	if l := e.listener.Load(); l != nil {
		return l.Stats()
	}
	return events.ListenerStats{}
}

// ApplyHome merges a hub snapshot into the store and, when the snapshot
// carries one, replaces the hub active-scene set.
func (e *Engine) ApplyHome(home *powerview.Home) {
	e.store.ReplaceHome(home)
	if home.ActiveScenes != nil {
		e.active.ReplaceHub(home.ActiveScenes)
	}
}

// Run starts the engine and blocks until ctx is cancelled.
//
// Startup failures (the gate timing out or the first discovery failing) are
// returned. After that, stream failures restart the producers and
// consumers; Run only returns nil on cancellation.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("waiting for startup deliveries", "pending", e.gate.Pending())
	if err := e.gate.Wait(ctx, e.cfg.StartupTimeout); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	if err := e.Discover(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("initial discovery: %w", err)
	}
	e.heartbeat()

	for attempt := 1; ; attempt++ {
		reason := e.runOnce(ctx)
		if ctx.Err() != nil {
			e.logger.Info("engine stopped")
			return nil
		}
		e.logger.Warn("restarting event processing", "reason", reason, "attempt", attempt)

		if errors.Is(reason, events.ErrStreamFatal) {
			if err := sleepCtx(ctx, e.cfg.Stream.Backoff.Max); err != nil {
				return nil
			}
		}
		if err := e.poller.PollOnce(ctx); err != nil && ctx.Err() == nil {
			e.logger.Warn("resync after restart failed", "error", err)
		}
	}
}

// errStopSignal reports that a consumer raised the shared stop signal.
var errStopSignal = errors.New("stop signal raised")

// runOnce runs producers and consumers until ctx is cancelled, the stop
// signal is raised or the stream listener gives up.
func (e *Engine) runOnce(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	r := newRunState(runCtx)

	e.runMu.Lock()
	e.cur = r
	e.runMu.Unlock()

	e.spawnConsumers()
	r.start("engine", func(ctx context.Context) { e.engineConsumer(ctx, r) })
	r.start("heartbeat", func(ctx context.Context) { e.heartbeatLoop(ctx) })

	producerDone := make(chan error, 1)
	switch e.gw.Generation() {
	case powerview.Gen3:
		l := events.NewListener(e.gw.EventsURL(), e.log, e.cfg.Stream, e.listenerOptions()...)
		e.listener.Store(l)
		r.start("refresh", func(ctx context.Context) { _ = e.poller.Run(ctx, e.cfg.LongPoll) })
		go func() { producerDone <- l.Run(runCtx) }()
	default:
		r.start("poller", func(ctx context.Context) { _ = e.poller.Run(ctx, e.cfg.ShortPoll) })
		r.start("release", func(ctx context.Context) { e.releaseLoop(ctx) })
		go func() { <-runCtx.Done(); producerDone <- runCtx.Err() }()
	}

	var reason error
	select {
	case <-ctx.Done():
		reason = ctx.Err()
	case <-r.stop:
		reason = errStopSignal
	case reason = <-producerDone:
	}

	cancel()
	r.wg.Wait()

	e.runMu.Lock()
	e.cur = nil
	e.runMu.Unlock()

	return reason
}

func (e *Engine) listenerOptions() []events.ListenerOption {
	opts := []events.ListenerOption{events.WithListenerLogger(e.logger)}
	if e.streamClient != nil {
		opts = append(opts, events.WithStreamClient(e.streamClient))
	}
	return opts
}

// releaseLoop clears Gen-2 scene activations on every long poll.
func (e *Engine) releaseLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.LongPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range e.releaseHeld() {
				e.reconcile(id)
			}
		}
	}
}

// heartbeatLoop sends a liveness pulse on every long poll.
func (e *Engine) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.LongPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.heartbeat()
		}
	}
}

// heartbeat reports the next pulse: DON first, then alternating DOF/DON.
func (e *Engine) heartbeat() {
	pulse := PulseOn
	if e.beats.Add(1)%2 == 0 {
		pulse = PulseOff
	}
	e.logger.Debug("heartbeat", "pulse", string(pulse))
	e.report.Heartbeat(pulse)
}

// holdActive marks a scene active and keeps reconcile from clearing it
// until releaseHeld.
func (e *Engine) holdActive(id int) {
	e.heldMu.Lock()
	defer e.heldMu.Unlock()
	e.held[id] = struct{}{}
	e.active.SetComputed(id, true)
}

func (e *Engine) releaseHeld() []int {
	e.heldMu.Lock()
	defer e.heldMu.Unlock()
	ids := sortedSet(e.held)
	e.held = make(map[int]struct{})
	return ids
}

// runState is one generation of consumers sharing a stop signal.
type runState struct {
	ctx      context.Context
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu      sync.Mutex
	running map[string]bool
}

func newRunState(ctx context.Context) *runState {
	return &runState{
		ctx:     ctx,
		stop:    make(chan struct{}),
		running: make(map[string]bool),
	}
}

// start launches fn under key unless a goroutine with that key is running.
func (r *runState) start(key string, fn func(ctx context.Context)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running[key] || r.ctx.Err() != nil {
		return false
	}
	r.running[key] = true
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.running, key)
			r.mu.Unlock()
		}()
		fn(r.ctx)
	}()
	return true
}

func (r *runState) signalStop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *runState) stopped() bool {
	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}

func (e *Engine) current() *runState {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	return e.cur
}

// spawnConsumers starts a consumer for every known shade and scene that
// does not have one yet.
func (e *Engine) spawnConsumers() {
	r := e.current()
	if r == nil {
		return
	}
	for _, id := range e.store.ShadeIDs() {
		id := id
		if r.start(Address(NodeShade, id), func(ctx context.Context) { e.shadeConsumer(ctx, r, id) }) {
			e.logger.Debug("shade consumer started", "shade_id", id)
		}
	}
	for _, id := range e.store.SceneIDs() {
		id := id
		if r.start(Address(NodeScene, id), func(ctx context.Context) { e.sceneConsumer(ctx, r, id) }) {
			e.logger.Debug("scene consumer started", "scene_id", id)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
