package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/fnworker/internal/model"

	_ "modernc.org/sqlite"
)

const createInvocationsTable = `
CREATE TABLE IF NOT EXISTS invocations (
    id          TEXT PRIMARY KEY,
    op          TEXT NOT NULL,
    backend     TEXT NOT NULL,
    function    TEXT NOT NULL DEFAULT '',
    runtime     TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL,
    output      BLOB,
    error_kind  TEXT NOT NULL DEFAULT '',
    error       TEXT NOT NULL DEFAULT '',
    duration_ms INTEGER,
    created_at  DATETIME NOT NULL,
    started_at  DATETIME,
    finished_at DATETIME
)`

const createLogLinesTable = `
CREATE TABLE IF NOT EXISTS log_lines (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    invocation_id TEXT NOT NULL REFERENCES invocations(id),
    seq           INTEGER NOT NULL,
    stream        TEXT NOT NULL,
    line          TEXT NOT NULL,
    created_at    DATETIME NOT NULL
)`

const createLogLinesIndex = `
CREATE INDEX IF NOT EXISTS idx_log_lines_invocation ON log_lines (invocation_id, seq)`

const invocationColumns = `id, op, backend, function, runtime, status, output,
	error_kind, error, duration_ms, created_at, started_at, finished_at`

// ErrNotFound is returned when an invocation is not found.
var ErrNotFound = errors.New("invocation not found")

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
// ":memory:" opens a private in-memory database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Every connection to ":memory:" is a separate database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for _, stmt := range []string{createInvocationsTable, createLogLinesTable, createLogLinesIndex} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateInvocation inserts a new invocation record.
func (s *SQLiteStore) CreateInvocation(ctx context.Context, inv *model.Invocation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO invocations (`+invocationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, string(inv.Op), inv.Backend, inv.Function, inv.Runtime, inv.Status, inv.Output,
		inv.ErrorKind, inv.Error, inv.DurationMS, inv.CreatedAt, inv.StartedAt, inv.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert invocation: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInvocation(row scanner) (*model.Invocation, error) {
	inv := &model.Invocation{}
	var op string
	err := row.Scan(
		&inv.ID, &op, &inv.Backend, &inv.Function, &inv.Runtime, &inv.Status, &inv.Output,
		&inv.ErrorKind, &inv.Error, &inv.DurationMS, &inv.CreatedAt, &inv.StartedAt, &inv.FinishedAt,
	)
	inv.Op = model.Op(op)
	return inv, err
}

// GetInvocation retrieves an invocation by ID.
func (s *SQLiteStore) GetInvocation(ctx context.Context, id string) (*model.Invocation, error) {
	inv, err := scanInvocation(s.db.QueryRowContext(ctx,
		`SELECT `+invocationColumns+` FROM invocations WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get invocation: %w", err)
	}
	return inv, nil
}

// ListInvocations returns a paginated list of invocations ordered by
// created_at DESC, along with the total count of all invocations.
func (s *SQLiteStore) ListInvocations(ctx context.Context, limit, offset int) ([]*model.Invocation, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM invocations").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count invocations: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+invocationColumns+` FROM invocations
		ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list invocations: %w", err)
	}
	defer rows.Close()

	var invocations []*model.Invocation
	for rows.Next() {
		inv, err := scanInvocation(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan invocation: %w", err)
		}
		invocations = append(invocations, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate invocations: %w", err)
	}

	return invocations, total, nil
}

// currentStatus reads the status of an invocation inside tx.
func currentStatus(ctx context.Context, tx *sql.Tx, id string) (string, error) {
	var status string
	err := tx.QueryRowContext(ctx, "SELECT status FROM invocations WHERE id = ?", id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read status: %w", err)
	}
	return status, nil
}

// UpdateInvocationStatus moves an invocation to status. Dispatch sets
// started_at; terminal statuses set finished_at.
func (s *SQLiteStore) UpdateInvocationStatus(ctx context.Context, id, status string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	from, err := currentStatus(ctx, tx, id)
	if err != nil {
		return err
	}
	if !model.ValidTransition(from, status) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, status)
	}

	now := time.Now().UTC()
	switch {
	case status == model.StatusDispatched:
		_, err = tx.ExecContext(ctx,
			"UPDATE invocations SET status = ?, started_at = ? WHERE id = ?", status, now, id)
	case model.Terminal(status):
		_, err = tx.ExecContext(ctx,
			"UPDATE invocations SET status = ?, finished_at = ? WHERE id = ?", status, now, id)
	default:
		_, err = tx.ExecContext(ctx,
			"UPDATE invocations SET status = ? WHERE id = ?", status, id)
	}
	if err != nil {
		return fmt.Errorf("update invocation status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// UpdateInvocation writes every mutable field of inv. A status change must be
// a valid transition.
func (s *SQLiteStore) UpdateInvocation(ctx context.Context, inv *model.Invocation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	from, err := currentStatus(ctx, tx, inv.ID)
	if err != nil {
		return err
	}
	if from != inv.Status && !model.ValidTransition(from, inv.Status) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, inv.Status)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE invocations SET
			function = ?, runtime = ?, status = ?, output = ?, error_kind = ?, error = ?,
			duration_ms = ?, started_at = ?, finished_at = ?
		WHERE id = ?`,
		inv.Function, inv.Runtime, inv.Status, inv.Output, inv.ErrorKind, inv.Error,
		inv.DurationMS, inv.StartedAt, inv.FinishedAt, inv.ID,
	)
	if err != nil {
		return fmt.Errorf("update invocation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetInvocationStats aggregates counts and the mean duration of finished
// invocations.
func (s *SQLiteStore) GetInvocationStats(ctx context.Context) (*InvocationStats, error) {
	stats := &InvocationStats{
		CountByStatus:    map[string]int{},
		CountByBackend:   map[string]int{},
		CountByOp:        map[string]int{},
		CountByErrorKind: map[string]int{},
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var avg sql.NullFloat64
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*), AVG(duration_ms) FROM invocations",
	).Scan(&stats.Total, &avg); err != nil {
		return nil, fmt.Errorf("count invocations: %w", err)
	}
	stats.AvgDurationMS = avg.Float64

	groups := []struct {
		column string
		into   map[string]int
	}{
		{"status", stats.CountByStatus},
		{"backend", stats.CountByBackend},
		{"op", stats.CountByOp},
		{"error_kind", stats.CountByErrorKind},
	}
	for _, g := range groups {
		if err := countBy(ctx, tx, g.column, g.into); err != nil {
			return nil, err
		}
	}
	delete(stats.CountByErrorKind, "")

	return stats, nil
}

func countBy(ctx context.Context, tx *sql.Tx, column string, into map[string]int) error {
	rows, err := tx.QueryContext(ctx,
		"SELECT "+column+", COUNT(*) FROM invocations GROUP BY "+column)
	if err != nil {
		return fmt.Errorf("count by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan %s count: %w", column, err)
		}
		into[key] = n
	}
	return rows.Err()
}

// InsertLogLine appends one output line to an invocation's log.
func (s *SQLiteStore) InsertLogLine(ctx context.Context, invocationID string, seq int, line model.LogLine) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO log_lines (invocation_id, seq, stream, line, created_at) VALUES (?, ?, ?, ?, ?)",
		invocationID, seq, line.Stream, line.Line, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert log line: %w", err)
	}
	return nil
}

// GetLogLines returns an invocation's log lines ordered by sequence.
func (s *SQLiteStore) GetLogLines(ctx context.Context, invocationID string) ([]model.StoredLogLine, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, invocation_id, seq, stream, line, created_at
		FROM log_lines WHERE invocation_id = ? ORDER BY seq`, invocationID,
	)
	if err != nil {
		return nil, fmt.Errorf("get log lines: %w", err)
	}
	defer rows.Close()

	var lines []model.StoredLogLine
	for rows.Next() {
		var l model.StoredLogLine
		if err := rows.Scan(&l.ID, &l.InvocationID, &l.Seq, &l.Stream, &l.Line, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan log line: %w", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate log lines: %w", err)
	}
	return lines, nil
}
