package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/waveline-labs/chatflow/flow"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS flows (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	description TEXT,
	status TEXT NOT NULL,
	triggers BLOB NOT NULL,
	definition BLOB NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS broadcast_schedules (
	id TEXT PRIMARY KEY,
	flow_id TEXT NOT NULL,
	cron_expr TEXT NOT NULL,
	enabled INTEGER NOT NULL DEFAULT 1,
	audience_tag TEXT,
	next_run_at TEXT NOT NULL,
	last_run_at TEXT,
	last_status TEXT,
	last_error TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	FOREIGN KEY(flow_id) REFERENCES flows(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_broadcast_schedules_flow
ON broadcast_schedules(flow_id);

CREATE INDEX IF NOT EXISTS idx_broadcast_schedules_due
ON broadcast_schedules(enabled, next_run_at);`

// flowDefinition is the opaque graph blob stored per flow. Metadata
// lives in its own columns so list views never decode the graph.
type flowDefinition struct {
	Nodes []flow.Node `json:"nodes"`
	Edges []flow.Edge `json:"edges"`
}

// SQLiteStoreConfig configures the SQLite store.
type SQLiteStoreConfig struct {
	DSN string
}

// SQLiteStore persists flows and broadcast schedules in SQLite. It
// implements both FlowStore and ScheduleStore.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite-backed store.
func NewSQLiteStore(cfg SQLiteStoreConfig) (*SQLiteStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("sqlite store dsn is required")
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlite store open: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite store set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite store enable foreign keys: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite store create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- FlowStore ---

func (s *SQLiteStore) List(ctx context.Context) ([]flow.Flow, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, name, description, status, triggers, definition, created_at, updated_at
FROM flows
ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite store list flows: %w", err)
	}
	defer rows.Close()

	var flows []flow.Flow
	for rows.Next() {
		f, err := scanFlow(rows)
		if err != nil {
			return nil, err
		}
		flows = append(flows, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store list flows rows: %w", err)
	}
	return flows, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (flow.Flow, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, name, description, status, triggers, definition, created_at, updated_at
FROM flows
WHERE id = ?`, id)

	f, err := scanFlow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return flow.Flow{}, false, nil
		}
		return flow.Flow{}, false, err
	}
	return f, true, nil
}

func (s *SQLiteStore) Create(ctx context.Context, f flow.Flow) error {
	now := time.Now().UTC()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	if f.UpdatedAt.IsZero() {
		f.UpdatedAt = f.CreatedAt
	}

	triggers, definition, err := marshalFlowBlobs(f)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO flows (id, name, description, status, triggers, definition, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.Name, f.Description, string(f.Status), triggers, definition,
		f.CreatedAt.Format(time.RFC3339Nano), f.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrFlowExists, f.ID)
		}
		return fmt.Errorf("sqlite store create flow: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, f flow.Flow) error {
	f.UpdatedAt = time.Now().UTC()

	triggers, definition, err := marshalFlowBlobs(f)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE flows
SET name = ?, description = ?, status = ?, triggers = ?, definition = ?, updated_at = ?
WHERE id = ?`,
		f.Name, f.Description, string(f.Status), triggers, definition,
		f.UpdatedAt.Format(time.RFC3339Nano), f.ID)
	if err != nil {
		return fmt.Errorf("sqlite store update flow: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrFlowNotFound, f.ID)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM flows WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite store delete flow: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrFlowNotFound, id)
	}
	return nil
}

// --- ScheduleStore ---

func (s *SQLiteStore) ListSchedules(ctx context.Context) ([]BroadcastSchedule, error) {
	return s.querySchedules(ctx, `
SELECT id, flow_id, cron_expr, enabled, audience_tag, next_run_at, last_run_at, last_status, last_error, created_at, updated_at
FROM broadcast_schedules
ORDER BY created_at ASC, id ASC`)
}

func (s *SQLiteStore) GetSchedule(ctx context.Context, id string) (BroadcastSchedule, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, flow_id, cron_expr, enabled, audience_tag, next_run_at, last_run_at, last_status, last_error, created_at, updated_at
FROM broadcast_schedules
WHERE id = ?`, id)

	sched, err := scanSchedule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return BroadcastSchedule{}, false, nil
		}
		return BroadcastSchedule{}, false, err
	}
	return sched, true, nil
}

func (s *SQLiteStore) CreateSchedule(ctx context.Context, sched BroadcastSchedule) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO broadcast_schedules (id, flow_id, cron_expr, enabled, audience_tag, next_run_at, last_run_at, last_status, last_error, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sched.ID, sched.FlowID, sched.Cron, boolToInt(sched.Enabled), sched.AudienceTag,
		sched.NextRunAt.UTC().Format(time.RFC3339Nano), nullableTime(sched.LastRunAt),
		sched.LastStatus, sched.LastError,
		sched.CreatedAt.UTC().Format(time.RFC3339Nano), sched.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrScheduleExists, sched.ID)
		}
		return fmt.Errorf("sqlite store create schedule: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateSchedule(ctx context.Context, sched BroadcastSchedule) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE broadcast_schedules
SET flow_id = ?, cron_expr = ?, enabled = ?, audience_tag = ?, next_run_at = ?, last_run_at = ?, last_status = ?, last_error = ?, updated_at = ?
WHERE id = ?`,
		sched.FlowID, sched.Cron, boolToInt(sched.Enabled), sched.AudienceTag,
		sched.NextRunAt.UTC().Format(time.RFC3339Nano), nullableTime(sched.LastRunAt),
		sched.LastStatus, sched.LastError,
		sched.UpdatedAt.UTC().Format(time.RFC3339Nano), sched.ID)
	if err != nil {
		return fmt.Errorf("sqlite store update schedule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrScheduleNotFound, sched.ID)
	}
	return nil
}

func (s *SQLiteStore) DeleteSchedule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM broadcast_schedules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite store delete schedule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrScheduleNotFound, id)
	}
	return nil
}

func (s *SQLiteStore) DeleteSchedulesByFlow(ctx context.Context, flowID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM broadcast_schedules WHERE flow_id = ?`, flowID)
	if err != nil {
		return fmt.Errorf("sqlite store delete schedules by flow: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]BroadcastSchedule, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.querySchedules(ctx, `
SELECT id, flow_id, cron_expr, enabled, audience_tag, next_run_at, last_run_at, last_status, last_error, created_at, updated_at
FROM broadcast_schedules
WHERE enabled = 1 AND next_run_at <= ?
ORDER BY next_run_at ASC
LIMIT ?`, now.UTC().Format(time.RFC3339Nano), limit)
}

// --- scanning helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFlow(row rowScanner) (flow.Flow, error) {
	var (
		f           flow.Flow
		status      string
		description sql.NullString
		triggers    []byte
		definition  []byte
		createdAt   string
		updatedAt   string
	)
	if err := row.Scan(&f.ID, &f.Name, &description, &status, &triggers, &definition, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return flow.Flow{}, err
		}
		return flow.Flow{}, fmt.Errorf("sqlite store scan flow: %w", err)
	}

	f.Description = description.String
	f.Status = flow.FlowStatus(status)
	if err := json.Unmarshal(triggers, &f.Triggers); err != nil {
		return flow.Flow{}, fmt.Errorf("sqlite store decode triggers: %w", err)
	}
	var def flowDefinition
	if err := json.Unmarshal(definition, &def); err != nil {
		return flow.Flow{}, fmt.Errorf("sqlite store decode definition: %w", err)
	}
	f.Nodes = def.Nodes
	f.Edges = def.Edges

	var err error
	if f.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return flow.Flow{}, fmt.Errorf("sqlite store parse created_at: %w", err)
	}
	if f.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return flow.Flow{}, fmt.Errorf("sqlite store parse updated_at: %w", err)
	}

	f.Normalize()
	return f, nil
}

func (s *SQLiteStore) querySchedules(ctx context.Context, query string, args ...any) ([]BroadcastSchedule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite store list schedules: %w", err)
	}
	defer rows.Close()

	var schedules []BroadcastSchedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, sched)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store list schedules rows: %w", err)
	}
	return schedules, nil
}

func scanSchedule(row rowScanner) (BroadcastSchedule, error) {
	var (
		sched       BroadcastSchedule
		enabled     int
		audienceTag sql.NullString
		nextRunAt   string
		lastRunAt   sql.NullString
		lastStatus  sql.NullString
		lastError   sql.NullString
		createdAt   string
		updatedAt   string
	)
	if err := row.Scan(&sched.ID, &sched.FlowID, &sched.Cron, &enabled, &audienceTag,
		&nextRunAt, &lastRunAt, &lastStatus, &lastError, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return BroadcastSchedule{}, err
		}
		return BroadcastSchedule{}, fmt.Errorf("sqlite store scan schedule: %w", err)
	}

	sched.Enabled = enabled != 0
	sched.AudienceTag = audienceTag.String
	sched.LastStatus = lastStatus.String
	sched.LastError = lastError.String

	var err error
	if sched.NextRunAt, err = time.Parse(time.RFC3339Nano, nextRunAt); err != nil {
		return BroadcastSchedule{}, fmt.Errorf("sqlite store parse next_run_at: %w", err)
	}
	if lastRunAt.Valid && lastRunAt.String != "" {
		t, err := time.Parse(time.RFC3339Nano, lastRunAt.String)
		if err != nil {
			return BroadcastSchedule{}, fmt.Errorf("sqlite store parse last_run_at: %w", err)
		}
		sched.LastRunAt = &t
	}
	if sched.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return BroadcastSchedule{}, fmt.Errorf("sqlite store parse created_at: %w", err)
	}
	if sched.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return BroadcastSchedule{}, fmt.Errorf("sqlite store parse updated_at: %w", err)
	}
	return sched, nil
}

func marshalFlowBlobs(f flow.Flow) (triggers, definition []byte, err error) {
	f.Normalize()
	triggers, err = json.Marshal(f.Triggers)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite store encode triggers: %w", err)
	}
	definition, err = json.Marshal(flowDefinition{Nodes: f.Nodes, Edges: f.Edges})
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite store encode definition: %w", err)
	}
	return triggers, definition, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

var (
	_ FlowStore     = (*SQLiteStore)(nil)
	_ ScheduleStore = (*SQLiteStore)(nil)
)
