package audit

import (
	"context"
	"strings"
	"time"

	"github.com/nerrad567/powerview-bridge/internal/powerview"
)

// recordTimeout bounds the insert after a command returns. The caller's
// context may already be done by then.
const recordTimeout = 5 * time.Second

// queryCommand reads state without changing it and is never recorded.
const queryCommand = "query"

// Commander is the set of hub commands a Recorder wraps.
// *engine.Engine satisfies it.
type Commander interface {
	ShadeCommand(ctx context.Context, id int, cmd string) error
	SetShadePosition(ctx context.Context, id int, pos powerview.Positions) error
	SceneCommand(ctx context.Context, id int, cmd string) error
	BridgeCommand(ctx context.Context, cmd string) error
}

// Logger is the logging surface the recorder needs.
type Logger interface {
	Warn(msg string, args ...any)
}

type subjectKey struct{}

// WithSubject tags ctx with the authenticated caller. Entries recorded
// under ctx carry it.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey{}, subject)
}

// SubjectFrom returns the caller stored by WithSubject.
func SubjectFrom(ctx context.Context) string {
	s, _ := ctx.Value(subjectKey{}).(string)
	return s
}

var _ Commander = (*Recorder)(nil)

// Recorder passes commands to the next Commander and records each one
// except queries. A failed insert is logged and never changes the
// command's result.
type Recorder struct {
	next   Commander
	repo   Repository
	source string
	logger Logger
}

// NewRecorder records commands arriving through source.
func NewRecorder(next Commander, repo Repository, source string, logger Logger) *Recorder {
	return &Recorder{next: next, repo: repo, source: source, logger: logger}
}

// ShadeCommand runs and records a named shade command.
func (r *Recorder) ShadeCommand(ctx context.Context, id int, cmd string) error {
	err := r.next.ShadeCommand(ctx, id, cmd)
	r.record(ctx, TargetShade, id, cmd, nil, err)
	return err
}

// SetShadePosition runs and records a position command.
func (r *Recorder) SetShadePosition(ctx context.Context, id int, pos powerview.Positions) error {
	err := r.next.SetShadePosition(ctx, id, pos)
	details := make(map[string]any, 3)
	for _, ch := range []powerview.Channel{powerview.Primary, powerview.Secondary, powerview.Tilt} {
		if v, ok := pos.Get(ch); ok {
			details[string(ch)] = v
		}
	}
	r.record(ctx, TargetShade, id, "position", details, err)
	return err
}

// SceneCommand runs and records a scene command.
func (r *Recorder) SceneCommand(ctx context.Context, id int, cmd string) error {
	err := r.next.SceneCommand(ctx, id, cmd)
	r.record(ctx, TargetScene, id, cmd, nil, err)
	return err
}

// BridgeCommand runs and records a bridge-level command.
func (r *Recorder) BridgeCommand(ctx context.Context, cmd string) error {
	err := r.next.BridgeCommand(ctx, cmd)
	r.record(ctx, TargetBridge, 0, cmd, nil, err)
	return err
}

func (r *Recorder) record(ctx context.Context, target string, id int, cmd string, details map[string]any, cmdErr error) {
	if strings.EqualFold(cmd, queryCommand) {
		return
	}
	e := &Entry{
		Source:   r.source,
		Subject:  SubjectFrom(ctx),
		Target:   target,
		TargetID: id,
		Command:  cmd,
		Details:  details,
		Outcome:  OutcomeAccepted,
	}
	if cmdErr != nil {
		e.Outcome = OutcomeFailed
		e.Error = cmdErr.Error()
	}

	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := r.repo.Create(recCtx, e); err != nil && r.logger != nil {
		r.logger.Warn("recording command failed", "target", target, "id", id, "command", cmd, "error", err)
	}
}
