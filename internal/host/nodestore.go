package host

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/nerrad567/powerview-bridge/internal/engine"
	"github.com/nerrad567/powerview-bridge/internal/infrastructure/database"
)

var _ engine.Registrar = (*NodeStore)(nil)

// NodeStore is the local-mode host: nodes live in the SQLite nodes table
// and creation is acknowledged as soon as the row is written.
//
// Thread Safety: All methods are safe for concurrent use; SQLite
// serialises writers.
type NodeStore struct {
	db     *database.DB
	acks   *engine.CreationWaiter
	gate   *engine.Gate
	logger Logger
	now    func() time.Time
}

// NodeStoreOption configures a NodeStore.
type NodeStoreOption func(*NodeStore)

// WithAcks acknowledges every created node on w.
func WithAcks(w *engine.CreationWaiter) NodeStoreOption {
	return func(s *NodeStore) { s.acks = w }
}

// WithGate signals deliveries recorded through Deliver on g.
func WithGate(g *engine.Gate) NodeStoreOption {
	return func(s *NodeStore) { s.gate = g }
}

// WithStoreLogger sets the logger.
func WithStoreLogger(l Logger) NodeStoreOption {
	return func(s *NodeStore) { s.logger = l }
}

// NewNodeStore wraps a migrated database.
func NewNodeStore(db *database.DB, opts ...NodeStoreOption) *NodeStore {
	s := &NodeStore{
		db:     db,
		logger: noopLogger{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateDevice inserts or replaces the node and acknowledges it.
func (s *NodeStore) CreateDevice(ctx context.Context, node engine.Node) error {
	ts := s.now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO nodes (address, kind, hub_id, name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET name = excluded.name, updated_at = excluded.updated_at`,
		node.Address(), string(node.Kind), node.HubID, node.Name, ts, ts,
	)
	if err != nil {
		return fmt.Errorf("creating node %s: %w", node.Address(), err)
	}

	s.logger.Debug("node created", "address", node.Address(), "name", node.Name)
	if s.acks != nil {
		s.acks.Ack(node.Address())
	}
	return nil
}

// DeleteDevice removes the node at address.
func (s *NodeStore) DeleteDevice(ctx context.Context, address string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM nodes WHERE address = ?", address)
	if err != nil {
		return fmt.Errorf("deleting node %s: %w", address, err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // sqlite always reports rows affected
		return fmt.Errorf("%w: %s", ErrNodeNotFound, address)
	}
	s.logger.Debug("node deleted", "address", address)
	return nil
}

// RenameDevice changes a node's display name.
func (s *NodeStore) RenameDevice(ctx context.Context, address, name string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE nodes SET name = ?, updated_at = ? WHERE address = ?",
		name, s.now().UTC().Format(time.RFC3339), address,
	)
	if err != nil {
		return fmt.Errorf("renaming node %s: %w", address, err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // sqlite always reports rows affected
		return fmt.Errorf("%w: %s", ErrNodeNotFound, address)
	}
	return nil
}

// ListDevices returns every node, shades first, each kind ordered by hub id.
func (s *NodeStore) ListDevices(ctx context.Context) ([]engine.Node, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT kind, hub_id, name FROM nodes ORDER BY kind DESC, hub_id")
	if err != nil {
		return nil, fmt.Errorf("listing nodes: %w", err)
	}
	defer rows.Close()

	var nodes []engine.Node
	for rows.Next() {
		var n engine.Node
		var kind string
		if err := rows.Scan(&kind, &n.HubID, &n.Name); err != nil {
			return nil, fmt.Errorf("scanning node: %w", err)
		}
		n.Kind = engine.NodeKind(kind)
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating nodes: %w", err)
	}
	return nodes, nil
}

// Node returns the node stored at address.
func (s *NodeStore) Node(ctx context.Context, address string) (engine.Node, error) {
	var n engine.Node
	var kind string
	err := s.db.QueryRowContext(ctx,
		"SELECT kind, hub_id, name FROM nodes WHERE address = ?", address,
	).Scan(&kind, &n.HubID, &n.Name)
	if err == sql.ErrNoRows {
		return engine.Node{}, fmt.Errorf("%w: %s", ErrNodeNotFound, address)
	}
	if err != nil {
		return engine.Node{}, fmt.Errorf("reading node %s: %w", address, err)
	}
	n.Kind = engine.NodeKind(kind)
	return n, nil
}

// Deliver records a configuration delivery and signals the gate.
func (s *NodeStore) Deliver(ctx context.Context, name string, payload any) error {
	if !slices.Contains(engine.StartupDeliveries, name) {
		return fmt.Errorf("%w: %q", ErrUnknownDelivery, name)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding delivery %s: %w", name, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO host_settings (name, payload, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		name, string(body), s.now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("storing delivery %s: %w", name, err)
	}

	if s.gate != nil && s.gate.Signal(name) {
		s.logger.Info("startup deliveries complete")
	}
	return nil
}

// Delivery returns the stored payload of a delivery.
func (s *NodeStore) Delivery(ctx context.Context, name string) (json.RawMessage, error) {
	var body string
	err := s.db.QueryRowContext(ctx, "SELECT payload FROM host_settings WHERE name = ?", name).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %q not delivered", ErrUnknownDelivery, name)
	}
	if err != nil {
		return nil, fmt.Errorf("reading delivery %s: %w", name, err)
	}
	return json.RawMessage(body), nil
}
