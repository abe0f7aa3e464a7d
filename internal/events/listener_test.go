package events

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBackoff_MonotoneToCap(t *testing.T) {
	b := Backoff{Base: 2 * time.Second, Max: 60 * time.Second}
	want := []time.Duration{2, 4, 8, 16, 32, 60, 60, 60}

	prev := time.Duration(0)
	for retries, w := range want {
		got := b.Delay(retries)
		if got != w*time.Second {
			t.Errorf("Delay(%d) = %v, want %v", retries, got, w*time.Second)
		}
		if got < prev {
			t.Errorf("Delay(%d) = %v decreased from %v", retries, got, prev)
		}
		prev = got
	}
}

// recordSleeps captures requested delays without sleeping. After limit
// calls it cancels the run.
type recordSleeps struct {
	mu     sync.Mutex
	delays []time.Duration
	limit  int
	cancel context.CancelFunc
}

func (r *recordSleeps) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	n := len(r.delays)
	r.mu.Unlock()
	if r.limit > 0 && n >= r.limit {
		r.cancel()
		return context.Canceled
	}
	return ctx.Err()
}

func (r *recordSleeps) got() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func testListenerConfig(maxRetries int) ListenerConfig {
	return ListenerConfig{
		Backoff:    Backoff{Base: time.Second, Max: 8 * time.Second},
		MaxRetries: maxRetries,
	}
}

func TestListener_IngestsStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "100HELO\n")
		_, _ = io.WriteString(w, "\n")
		_, _ = io.WriteString(w, `{"evt":"motion-started","id":11,"isoDate":"2025-01-01T12:00:00.000Z","targetPositions":{"primary":1}}`+"\n")
		_, _ = io.WriteString(w, "{broken\n")
		_, _ = io.WriteString(w, `data: {"evt":"scene-activated","id":101}`+"\n")
	}))
	defer srv.Close()

	log := NewLog()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	rec := &recordSleeps{limit: 1, cancel: cancel}
	l := NewListener(srv.URL, log, testListenerConfig(5))
	l.sleep = rec.sleep

	if err := l.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}

	snap, _ := log.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("len(log) = %d, want 2: %+v", len(snap), snap)
	}
	if !snap[0].Is(KindMotionStarted, 11) || !snap[1].Is(KindSceneActivated, 101) {
		t.Errorf("unexpected events %+v", snap)
	}

	stats := l.Stats()
	if stats.Connects != 1 || stats.Events != 2 || stats.DecodeErrors != 1 {
		t.Errorf("stats = %+v, want 1 connect, 2 events, 1 decode error", stats)
	}
	// A drop after a good connection waits the base delay.
	if d := rec.got(); len(d) != 1 || d[0] != time.Second {
		t.Errorf("delays = %v, want [1s]", d)
	}
}

func TestListener_RetriesExhausted(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	rec := &recordSleeps{cancel: cancel}
	l := NewListener(srv.URL, NewLog(), testListenerConfig(3))
	l.sleep = rec.sleep

	err := l.Run(ctx)
	if !errors.Is(err, ErrStreamFatal) {
		t.Fatalf("Run() error = %v, want ErrStreamFatal", err)
	}
	if got := hits.Load(); got != 4 {
		t.Errorf("connection attempts = %d, want 4", got)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	got := rec.got()
	if len(got) != len(want) {
		t.Fatalf("delays = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestListener_SuccessResetsRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch hits.Add(1) {
		case 2:
			_, _ = io.WriteString(w, "100HELO\n")
		default:
			http.Error(w, "busy", http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	rec := &recordSleeps{limit: 3, cancel: cancel}
	l := NewListener(srv.URL, NewLog(), testListenerConfig(10))
	l.sleep = rec.sleep

	_ = l.Run(ctx)

	// fail, connect+drop (reset), fail
	want := []time.Duration{time.Second, time.Second, 2 * time.Second}
	got := rec.got()
	if len(got) != len(want) {
		t.Fatalf("delays = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestListener_IdleTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	l := NewListener(srv.URL, NewLog(), ListenerConfig{IdleTimeout: 50 * time.Millisecond})
	established, err := l.stream(context.Background())
	if !established {
		t.Error("stream should have been established")
	}
	if !errors.Is(err, ErrStreamIdle) {
		t.Errorf("stream() error = %v, want ErrStreamIdle", err)
	}
}
