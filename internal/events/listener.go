package events

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/carlmjohnson/requests"
)

// Heartbeat is the keep-alive line the hub writes between events.
const Heartbeat = "100HELO"

const maxLineSize = 1 << 20

// Logger defines the logging interface used by this package.
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

// Backoff computes reconnect delays: Base doubled per retry, capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the wait before the attempt following retries failures.
func (b Backoff) Delay(retries int) time.Duration {
	d := b.Base
	for i := 0; i < retries && d < b.Max; i++ {
		d *= 2
	}
	if d > b.Max {
		d = b.Max
	}
	return d
}

// ListenerConfig controls reconnect behaviour.
type ListenerConfig struct {
	Backoff     Backoff
	MaxRetries  int
	IdleTimeout time.Duration
}

// ListenerStats is a point-in-time view of listener counters.
type ListenerStats struct {
	Connected           bool   `json:"connected"`
	Connects            uint64 `json:"connects"`
	Events              uint64 `json:"events"`
	DecodeErrors        uint64 `json:"decode_errors"`
	ConsecutiveFailures int64  `json:"consecutive_failures"`
}

// Listener reads the hub's newline-delimited event stream into a Log,
// reconnecting with exponential backoff.
type Listener struct {
	url        string
	log        *Log
	cfg        ListenerConfig
	httpClient *http.Client
	logger     Logger
	sleep      func(ctx context.Context, d time.Duration) error

	connected    atomic.Bool
	connects     atomic.Uint64
	received     atomic.Uint64
	decodeErrors atomic.Uint64
	failures     atomic.Int64
}

// ListenerOption configures a Listener.
type ListenerOption func(*Listener)

// WithListenerLogger sets the listener logger.
func WithListenerLogger(l Logger) ListenerOption {
	return func(ln *Listener) {
		if l != nil {
			ln.logger = l
		}
	}
}

// WithStreamClient replaces the HTTP client used for the stream. The client
// must not set an overall Timeout.
func WithStreamClient(hc *http.Client) ListenerOption {
	return func(ln *Listener) { ln.httpClient = hc }
}

// NewListener creates a listener for the stream at url that appends to log.
func NewListener(url string, log *Log, cfg ListenerConfig, opts ...ListenerOption) *Listener {
	l := &Listener{
		url:        url,
		log:        log,
		cfg:        cfg,
		httpClient: &http.Client{},
		logger:     noopLogger{},
		sleep:      sleepCtx,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Run streams events until ctx is cancelled or retries are exhausted.
//
// A connection that was established resets the retry counter when it drops.
// After MaxRetries consecutive failed attempts Run returns ErrStreamFatal.
func (l *Listener) Run(ctx context.Context) error {
	retries := 0
	for {
		established, err := l.stream(ctx)
		l.connected.Store(false)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if established {
			retries = 0
		}
		retries++
		l.failures.Store(int64(retries))

		if retries > l.cfg.MaxRetries {
			l.logger.Error("event stream giving up", "url", l.url, "attempts", retries, "error", err)
			return fmt.Errorf("%w: %d attempts: %w", ErrStreamFatal, retries, err)
		}

		delay := l.cfg.Backoff.Delay(retries - 1)
		l.logger.Warn("event stream lost, reconnecting",
			"error", err,
			"retry", retries,
			"delay", delay,
		)
		if err := l.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// Stats returns the listener counters.
func (l *Listener) Stats() ListenerStats {
	return ListenerStats{
		Connected:           l.connected.Load(),
		Connects:            l.connects.Load(),
		Events:              l.received.Load(),
		DecodeErrors:        l.decodeErrors.Load(),
		ConsecutiveFailures: l.failures.Load(),
	}
}

// stream performs one connection. established reports whether the hub
// accepted the request.
func (l *Listener) stream(ctx context.Context) (established bool, err error) {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var idle atomic.Bool
	var watchdog *time.Timer
	if l.cfg.IdleTimeout > 0 {
		watchdog = time.AfterFunc(l.cfg.IdleTimeout, func() {
			idle.Store(true)
			cancel()
		})
		defer watchdog.Stop()
	}

	err = requests.URL(l.url).
		Client(l.httpClient).
		Accept("application/x-ndjson, text/event-stream, application/json").
		Handle(func(res *http.Response) error {
			established = true
			l.connected.Store(true)
			l.connects.Add(1)
			l.failures.Store(0)
			l.logger.Info("event stream connected", "url", l.url)
			return l.consume(res.Body, watchdog)
		}).
		Fetch(streamCtx)

	if idle.Load() {
		return established, ErrStreamIdle
	}
	if err == nil {
		err = ErrStreamClosed
	}
	return established, err
}

// consume appends every decodable line to the log.
func (l *Listener) consume(body io.Reader, watchdog *time.Timer) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		if watchdog != nil {
			watchdog.Reset(l.cfg.IdleTimeout)
		}
		line := bytes.TrimSpace(scanner.Bytes())
		line = bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))
		if len(line) == 0 || string(line) == Heartbeat {
			continue
		}

		ev, err := Decode(line)
		if err != nil {
			l.decodeErrors.Add(1)
			l.logger.Warn("dropping undecodable event", "line", string(line), "error", err)
			continue
		}
		l.received.Add(1)
		stored := l.log.Append(ev)
		l.logger.Debug("event received", "evt", stored.RawKind, "seq", stored.Seq)
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
