package events

import (
	"context"
	"sync"
	"time"
)

const defaultRecheck = 2 * time.Second

// Log is the shared, ordered list of pending events.
//
// Producers Append; consumers Wait for a snapshot, decide what to handle and
// then Remove or Update by sequence number. Remove and Update are no-ops for
// events another consumer already took, so delivery is at-least-once and
// concurrent consumers never fail on a missing event.
//
// Thread Safety: All methods are safe for concurrent use. No method holds
// the lock while blocking.
type Log struct {
	mu      sync.Mutex
	events  []Event
	nextSeq uint64
	gen     uint64
	changed chan struct{}

	recheck time.Duration
	now     func() time.Time
}

// LogOption configures a Log.
type LogOption func(*Log)

// WithRecheck sets how often Wait returns an unchanged, non-empty log so
// consumers can reconsider ageing events.
func WithRecheck(d time.Duration) LogOption {
	return func(l *Log) {
		if d > 0 {
			l.recheck = d
		}
	}
}

// WithClock overrides the time source used to stamp events.
func WithClock(now func() time.Time) LogOption {
	return func(l *Log) { l.now = now }
}

// NewLog creates an empty Log.
func NewLog(opts ...LogOption) *Log {
	l := &Log{
		changed: make(chan struct{}),
		recheck: defaultRecheck,
		now:     time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Append adds ev to the end of the log and wakes every waiter. Events
// without a timestamp are stamped with the current time.
//
// Returns the stored event with its sequence number.
func (l *Log) Append(ev Event) Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextSeq++
	ev.Seq = l.nextSeq
	if ev.ISODate == "" {
		ev.ISODate = FormatISO(l.now())
	}
	l.events = append(l.events, ev.Clone())
	l.bumpLocked()
	return ev
}

// bumpLocked advances the generation and releases current waiters.
func (l *Log) bumpLocked() {
	l.gen++
	close(l.changed)
	l.changed = make(chan struct{})
}

// Snapshot returns a copy of the pending events and the current generation.
func (l *Log) Snapshot() ([]Event, uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.copyLocked(), l.gen
}

func (l *Log) copyLocked() []Event {
	out := make([]Event, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.Clone()
	}
	return out
}

// Wait blocks until the log is non-empty and either something was appended
// since generation after, or the recheck interval elapsed.
//
// Returns the snapshot and the generation it was taken at. The caller passes
// that generation back on the next call.
func (l *Log) Wait(ctx context.Context, after uint64) ([]Event, uint64, error) {
	for {
		l.mu.Lock()
		if len(l.events) > 0 && l.gen > after {
			snap, gen := l.copyLocked(), l.gen
			l.mu.Unlock()
			return snap, gen, nil
		}
		nonEmpty := len(l.events) > 0
		ch := l.changed
		l.mu.Unlock()

		var tick <-chan time.Time
		var timer *time.Timer
		if nonEmpty {
			timer = time.NewTimer(l.recheck)
			tick = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil, after, ctx.Err()
		case <-ch:
			if timer != nil {
				timer.Stop()
			}
		case <-tick:
			l.mu.Lock()
			if len(l.events) > 0 {
				snap, gen := l.copyLocked(), l.gen
				l.mu.Unlock()
				return snap, gen, nil
			}
			l.mu.Unlock()
		}
	}
}

// Remove deletes the event with sequence seq. Removing an event that is no
// longer present is a no-op.
//
// Returns true if this call removed it.
func (l *Log) Remove(seq uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, ev := range l.events {
		if ev.Seq == seq {
			l.events = append(l.events[:i], l.events[i+1:]...)
			return true
		}
	}
	return false
}

// Update applies fn to the stored event with sequence seq. If fn returns
// false the event is removed. Absent events are ignored.
//
// Returns true if the event was present.
func (l *Log) Update(seq uint64, fn func(ev *Event) (keep bool)) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.events {
		if l.events[i].Seq != seq {
			continue
		}
		if !fn(&l.events[i]) {
			l.events = append(l.events[:i], l.events[i+1:]...)
		}
		return true
	}
	return false
}

// RemoveWhere deletes every event matching pred.
//
// Returns the number removed.
func (l *Log) RemoveWhere(pred func(Event) bool) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.events[:0]
	removed := 0
	for _, ev := range l.events {
		if pred(ev) {
			removed++
			continue
		}
		kept = append(kept, ev)
	}
	for i := len(kept); i < len(l.events); i++ {
		l.events[i] = Event{}
	}
	l.events = kept
	return removed
}

// Len returns the number of pending events.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}
