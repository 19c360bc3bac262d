// Package statstore persists one simulation run's MAC-layer counters to
// SQLite so a completed run can be inspected after the process exits.
// Grounded on store.go's Open/migrate/Store shape, with the chat schema
// replaced by the named counters a run accumulates.
package statstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrRunNotFound is returned when no run row exists for an ID.
var ErrRunNotFound = errors.New("run not found")

// Snapshot is one node's counters at the moment a run ends, matching the
// user-visible failure and third-party-observation counters the MAC core
// tracks per node.
type Snapshot struct {
	NodeID                 int32
	Collisions             int64
	DMEDropped             int64
	ChannelErrorsDropped   int64
	DutyCycleThrottled     int64
	ExceededMaxAttempts    int64
	ThirdPartyRequestsRcvd int64
	ThirdPartyRepliesRcvd  int64
	LinksEstablished       int64
	LinksTornDown          int64
}

// Run is one persisted simulation run: an ID, a label, when it started,
// and (once Finish is called) when it ended.
type Run struct {
	ID        string
	Label     string
	StartedAt time.Time
	EndedAt   time.Time
}

// Store persists run metadata and per-node snapshots in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database and runs migrations.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	st := &Store{db: db}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.Info("stat store opened", "path", path)
	return st, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		return fmt.Errorf("enable foreign keys: %w", err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	label TEXT NOT NULL,
	started_at_unix_ms INTEGER NOT NULL,
	ended_at_unix_ms INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS node_snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL REFERENCES runs(id),
	node_id INTEGER NOT NULL,
	collisions INTEGER NOT NULL DEFAULT 0,
	dme_dropped INTEGER NOT NULL DEFAULT 0,
	channel_errors_dropped INTEGER NOT NULL DEFAULT 0,
	duty_cycle_throttled INTEGER NOT NULL DEFAULT 0,
	exceeded_max_attempts INTEGER NOT NULL DEFAULT 0,
	third_party_requests_rcvd INTEGER NOT NULL DEFAULT 0,
	third_party_replies_rcvd INTEGER NOT NULL DEFAULT 0,
	links_established INTEGER NOT NULL DEFAULT 0,
	links_torn_down INTEGER NOT NULL DEFAULT 0,
	UNIQUE(run_id, node_id)
);
CREATE INDEX IF NOT EXISTS idx_node_snapshots_run ON node_snapshots(run_id);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("run sqlite migrations: %w", err)
	}
	slog.Debug("stat store migrations applied")
	return nil
}

// StartRun creates a new run row, stamped at startedAt, and returns its
// generated ID.
func (s *Store) StartRun(ctx context.Context, label string, startedAt time.Time) (string, error) {
	id := uuid.New().String()
	const q = `INSERT INTO runs (id, label, started_at_unix_ms) VALUES (?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, id, label, startedAt.UnixMilli()); err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	slog.Debug("run started", "run_id", id, "label", label)
	return id, nil
}

// FinishRun stamps a run's end time.
func (s *Store) FinishRun(ctx context.Context, runID string, endedAt time.Time) error {
	const q = `UPDATE runs SET ended_at_unix_ms = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, q, endedAt.UnixMilli(), runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRunNotFound
	}
	return nil
}

// RecordSnapshot upserts one node's counters for a run. Called once per
// node at the end of a simulation, or periodically for a long-running
// one — the UNIQUE(run_id, node_id) constraint makes repeat calls
// idempotent overwrites rather than accumulating duplicate rows.
func (s *Store) RecordSnapshot(ctx context.Context, runID string, snap Snapshot) error {
	const q = `
INSERT INTO node_snapshots (
	run_id, node_id, collisions, dme_dropped, channel_errors_dropped,
	duty_cycle_throttled, exceeded_max_attempts, third_party_requests_rcvd,
	third_party_replies_rcvd, links_established, links_torn_down
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(run_id, node_id) DO UPDATE SET
	collisions = excluded.collisions,
	dme_dropped = excluded.dme_dropped,
	channel_errors_dropped = excluded.channel_errors_dropped,
	duty_cycle_throttled = excluded.duty_cycle_throttled,
	exceeded_max_attempts = excluded.exceeded_max_attempts,
	third_party_requests_rcvd = excluded.third_party_requests_rcvd,
	third_party_replies_rcvd = excluded.third_party_replies_rcvd,
	links_established = excluded.links_established,
	links_torn_down = excluded.links_torn_down
`
	_, err := s.db.ExecContext(ctx, q, runID, snap.NodeID,
		snap.Collisions, snap.DMEDropped, snap.ChannelErrorsDropped, snap.DutyCycleThrottled,
		snap.ExceededMaxAttempts, snap.ThirdPartyRequestsRcvd, snap.ThirdPartyRepliesRcvd,
		snap.LinksEstablished, snap.LinksTornDown)
	if err != nil {
		return fmt.Errorf("record node snapshot: %w", err)
	}
	slog.Debug("node snapshot recorded", "run_id", runID, "node_id", snap.NodeID)
	return nil
}

// Snapshots returns every node's counters for a run, ordered by node ID.
func (s *Store) Snapshots(ctx context.Context, runID string) ([]Snapshot, error) {
	const q = `
SELECT node_id, collisions, dme_dropped, channel_errors_dropped, duty_cycle_throttled,
	exceeded_max_attempts, third_party_requests_rcvd, third_party_replies_rcvd,
	links_established, links_torn_down
FROM node_snapshots WHERE run_id = ? ORDER BY node_id
`
	rows, err := s.db.QueryContext(ctx, q, runID)
	if err != nil {
		return nil, fmt.Errorf("query node snapshots: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var sn Snapshot
		if err := rows.Scan(&sn.NodeID, &sn.Collisions, &sn.DMEDropped, &sn.ChannelErrorsDropped,
			&sn.DutyCycleThrottled, &sn.ExceededMaxAttempts, &sn.ThirdPartyRequestsRcvd,
			&sn.ThirdPartyRepliesRcvd, &sn.LinksEstablished, &sn.LinksTornDown); err != nil {
			return nil, fmt.Errorf("scan node snapshot: %w", err)
		}
		out = append(out, sn)
	}
	return out, rows.Err()
}

// RunIDs returns every recorded run's ID, most recently started first.
func (s *Store) RunIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM runs ORDER BY started_at_unix_ms DESC`)
	if err != nil {
		return nil, fmt.Errorf("query run ids: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan run id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Run returns a run's metadata by ID.
func (s *Store) Run(ctx context.Context, runID string) (Run, error) {
	const q = `SELECT id, label, started_at_unix_ms, ended_at_unix_ms FROM runs WHERE id = ?`
	var (
		r                  Run
		startedMs, endedMs int64
	)
	err := s.db.QueryRowContext(ctx, q, runID).Scan(&r.ID, &r.Label, &startedMs, &endedMs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, ErrRunNotFound
		}
		return Run{}, fmt.Errorf("query run: %w", err)
	}
	r.StartedAt = time.UnixMilli(startedMs).UTC()
	if endedMs > 0 {
		r.EndedAt = time.UnixMilli(endedMs).UTC()
	}
	return r, nil
}

// Summary renders a human-readable one-line recap of a run's snapshots,
// for the CLI's "stats" subcommand.
func Summary(run Run, snaps []Snapshot) string {
	var collisions, established int64
	for _, sn := range snaps {
		collisions += sn.Collisions
		established += sn.LinksEstablished
	}
	dur := "in progress"
	if !run.EndedAt.IsZero() {
		dur = humanize.RelTime(run.StartedAt, run.EndedAt, "", "")
	}
	return fmt.Sprintf("run %s (%s): %s nodes, %s collisions, %s links established, duration %s",
		run.Label, run.ID[:8], humanize.Comma(int64(len(snaps))), humanize.Comma(collisions),
		humanize.Comma(established), dur)
}
