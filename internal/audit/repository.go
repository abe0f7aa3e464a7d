// Package audit keeps a history of the commands the bridge sends to the
// hub: who asked, through which surface, and whether the hub took it.
//
// Entries live in the SQLite command_log table (local host mode). A
// Recorder wraps the engine's command methods and writes one entry per
// call; the REST API exposes the history read-only.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sources of a command.
const (
	SourceAPI  = "api"
	SourceMQTT = "mqtt"
)

// Targets of a command.
const (
	TargetShade = "shade"
	TargetScene = "scene"

	// TargetBridge entries always carry target id 0.
	TargetBridge = "bridge"
)

// Outcomes of a command.
const (
	OutcomeAccepted = "accepted"
	OutcomeFailed   = "failed"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// timeLayout sorts lexically in UTC.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

// Entry is one recorded command.
type Entry struct {
	ID        string         `json:"id"`
	Source    string         `json:"source"`
	Subject   string         `json:"subject,omitempty"`
	Target    string         `json:"target"`
	TargetID  int            `json:"target_id"`
	Command   string         `json:"command"`
	Details   map[string]any `json:"details,omitempty"`
	Outcome   string         `json:"outcome"`
	Error     string         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Filter narrows a List call. Zero fields match everything.
type Filter struct {
	Source   string
	Target   string
	TargetID *int
	Outcome  string
	Limit    int // default 50, max 200
	Offset   int
}

// Page is one page of entries, newest first.
type Page struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository stores command history.
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	List(ctx context.Context, f Filter) (*Page, error)
}

// SQLiteRepository is a Repository over the command_log table.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository returns a repository using db. The schema comes
// from the bridge migrations.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// Create inserts e, filling ID and CreatedAt when empty.
func (r *SQLiteRepository) Create(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = "cmd-" + uuid.NewString()[:8]
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now()
	}
	e.CreatedAt = e.CreatedAt.UTC()

	var details *string
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshalling command details: %w", err)
		}
		s := string(b)
		details = &s
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO command_log (id, source, subject, target, target_id, command, details, outcome, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Source, nullable(e.Subject), e.Target, e.TargetID, e.Command,
		details, e.Outcome, nullable(e.Error), e.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting command log entry: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns the entries matching f, newest first.
func (r *SQLiteRepository) List(ctx context.Context, f Filter) (*Page, error) { //nolint:gocognit // WHERE assembly plus row scanning
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	var conds []string
	var args []any
	add := func(cond string, arg any) {
		conds = append(conds, cond)
		args = append(args, arg)
	}
	if f.Source != "" {
		add("source = ?", f.Source)
	}
	if f.Target != "" {
		add("target = ?", f.Target)
	}
	if f.TargetID != nil {
		add("target_id = ?", *f.TargetID)
	}
	if f.Outcome != "" {
		add("outcome = ?", f.Outcome)
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	//nolint:gosec // WHERE holds only placeholders
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM command_log "+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting command log: %w", err)
	}

	//nolint:gosec // WHERE holds only placeholders
	query := "SELECT id, source, subject, target, target_id, command, details, outcome, error, created_at FROM command_log " +
		where + " ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?"
	rows, err := r.db.QueryContext(ctx, query, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying command log: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var subject, details, errText sql.NullString
		var created string
		if err := rows.Scan(&e.ID, &e.Source, &subject, &e.Target, &e.TargetID,
			&e.Command, &details, &e.Outcome, &errText, &created); err != nil {
			return nil, fmt.Errorf("scanning command log entry: %w", err)
		}
		e.Subject = subject.String
		e.Error = errText.String
		if details.Valid {
			if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
				return nil, fmt.Errorf("decoding details of %s: %w", e.ID, err)
			}
		}
		if e.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return nil, fmt.Errorf("parsing timestamp of %s: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command log: %w", err)
	}

	return &Page{Entries: entries, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}
