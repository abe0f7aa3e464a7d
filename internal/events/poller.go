package events

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nerrad567/powerview-bridge/internal/powerview"
)

// Snapshotter fetches a full hub snapshot.
type Snapshotter interface {
	Home(ctx context.Context) (*powerview.Home, error)
}

// SnapshotSink merges a fetched snapshot into the device store.
type SnapshotSink interface {
	ApplyHome(home *powerview.Home)
}

// Poller is the polling fallback for hubs without an event stream. Each
// poll refreshes the store and replaces any pending home-refresh event with
// a fresh one naming every shade and scene.
type Poller struct {
	source   Snapshotter
	sink     SnapshotSink
	log      *Log
	logger   Logger
	now      func() time.Time
	inFlight atomic.Bool
}

// NewPoller creates a poller.
func NewPoller(source Snapshotter, sink SnapshotSink, log *Log, logger Logger) *Poller {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Poller{
		source: source,
		sink:   sink,
		log:    log,
		logger: logger,
		now:    time.Now,
	}
}

// PollOnce performs a single refresh. If a poll is already running it
// returns ErrPollInFlight without touching the store or the log.
func (p *Poller) PollOnce(ctx context.Context) error {
	if !p.inFlight.CompareAndSwap(false, true) {
		p.logger.Debug("poll skipped, previous poll still running")
		return ErrPollInFlight
	}
	defer p.inFlight.Store(false)

	home, err := p.source.Home(ctx)
	if err != nil {
		return fmt.Errorf("polling hub: %w", err)
	}
	p.sink.ApplyHome(home)

	stale := p.log.RemoveWhere(func(ev Event) bool { return ev.Kind == KindHomeRefresh })
	ev := p.log.Append(NewHomeRefresh(home.ShadeIDs(), home.SceneIDs(), p.now()))
	p.logger.Debug("poll complete",
		"shades", len(home.Shades),
		"scenes", len(home.Scenes),
		"replaced", stale,
		"seq", ev.Seq,
	)
	return nil
}

// Run polls immediately and then every interval until ctx is cancelled.
// Poll failures are logged and do not stop the loop.
func (p *Poller) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := p.PollOnce(ctx); err != nil && !errors.Is(err, ErrPollInFlight) && ctx.Err() == nil {
			p.logger.Warn("poll failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
