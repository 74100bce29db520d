// Package store persists scheduled instances in SQLite. Generation runs work
// through a Tx handle scoped to one run; status updates from the API are
// short independent writes against the pool. The pool is limited to a single
// connection, so those writes queue behind an in-flight generation
// transaction instead of racing its cleanup phase.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"choreflow/internal/domain"
)

// ErrNotFound is returned when a lookup matches no instance.
var ErrNotFound = errors.New("scheduled instance not found")

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS scheduled_instances (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  task_id INTEGER NOT NULL,
  user_id INTEGER NOT NULL,
  scheduled_date TEXT NOT NULL,
  status TEXT NOT NULL CHECK(status IN ('pending','completed','incomplete')) DEFAULT 'pending'
);
CREATE INDEX IF NOT EXISTS idx_instances_date_status ON scheduled_instances(scheduled_date, status);
CREATE INDEX IF NOT EXISTS idx_instances_task ON scheduled_instances(task_id, status, scheduled_date DESC);
CREATE INDEX IF NOT EXISTS idx_instances_user ON scheduled_instances(user_id, status);
`
	_, err := db.Exec(schema)
	return err
}

// Filter narrows a query; nil fields are ignored.
type Filter struct {
	Date   *time.Time
	Status *domain.Status
	UserID *int
	TaskID *int
}

// Store is the record store for scheduled instances.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
	Get(ctx context.Context, id int64) (domain.ScheduledInstance, error)
	Query(ctx context.Context, f Filter) ([]domain.ScheduledInstance, error)
	SetStatus(ctx context.Context, id int64, to domain.Status) error
	SetStatusForUser(ctx context.Context, userID int, from, to domain.Status) (int64, error)
}

// Tx is a transaction handle scoped to one generation run. Rollback after
// Commit is a no-op, so callers may defer Rollback unconditionally.
type Tx interface {
	Query(ctx context.Context, f Filter) ([]domain.ScheduledInstance, error)
	Insert(ctx context.Context, inst domain.ScheduledInstance) (int64, error)
	DeleteNotCompleted(ctx context.Context, date time.Time) (int64, error)
	MarkBefore(ctx context.Context, date time.Time, from, to domain.Status) (int64, error)
	LastCompleted(ctx context.Context, taskID int) (domain.ScheduledInstance, error)
	Commit() error
	Rollback() error
}

type sqliteStore struct{ db *sql.DB }

// NewSQLiteStore wraps an open SQLite database.
func NewSQLiteStore(db *sql.DB) Store { return &sqliteStore{db: db} }

func (s *sqliteStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &sqliteTx{tx: tx}, nil
}

func (s *sqliteStore) Get(ctx context.Context, id int64) (domain.ScheduledInstance, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, task_id, user_id, scheduled_date, status
FROM scheduled_instances WHERE id=?`, id)
	return scanInstance(row)
}

func (s *sqliteStore) Query(ctx context.Context, f Filter) ([]domain.ScheduledInstance, error) {
	return queryInstances(ctx, s.db, f)
}

func (s *sqliteStore) SetStatus(ctx context.Context, id int64, to domain.Status) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_instances SET status=? WHERE id=?`, string(to), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) SetStatusForUser(ctx context.Context, userID int, from, to domain.Status) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_instances SET status=? WHERE user_id=? AND status=?`,
		string(to), userID, string(from))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

type sqliteTx struct{ tx *sql.Tx }

func (t *sqliteTx) Commit() error { return t.tx.Commit() }

func (t *sqliteTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func (t *sqliteTx) Query(ctx context.Context, f Filter) ([]domain.ScheduledInstance, error) {
	return queryInstances(ctx, t.tx, f)
}

func (t *sqliteTx) Insert(ctx context.Context, inst domain.ScheduledInstance) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `
INSERT INTO scheduled_instances (task_id, user_id, scheduled_date, status)
VALUES (?,?,?,?)`,
		inst.TaskID, inst.UserID, inst.ScheduledDate.Format(domain.DateFormat), string(inst.Status))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (t *sqliteTx) DeleteNotCompleted(ctx context.Context, date time.Time) (int64, error) {
	res, err := t.tx.ExecContext(ctx,
		`DELETE FROM scheduled_instances WHERE scheduled_date=? AND status!=?`,
		date.Format(domain.DateFormat), string(domain.StatusCompleted))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (t *sqliteTx) MarkBefore(ctx context.Context, date time.Time, from, to domain.Status) (int64, error) {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE scheduled_instances SET status=? WHERE scheduled_date<? AND status=?`,
		string(to), date.Format(domain.DateFormat), string(from))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (t *sqliteTx) LastCompleted(ctx context.Context, taskID int) (domain.ScheduledInstance, error) {
	row := t.tx.QueryRowContext(ctx, `
SELECT id, task_id, user_id, scheduled_date, status
FROM scheduled_instances
WHERE task_id=? AND status=?
ORDER BY scheduled_date DESC, id DESC
LIMIT 1`, taskID, string(domain.StatusCompleted))
	return scanInstance(row)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryInstances(ctx context.Context, q querier, f Filter) ([]domain.ScheduledInstance, error) {
	var (
		where []string
		args  []any
	)
	if f.Date != nil {
		where = append(where, "scheduled_date=?")
		args = append(args, f.Date.Format(domain.DateFormat))
	}
	if f.Status != nil {
		where = append(where, "status=?")
		args = append(args, string(*f.Status))
	}
	if f.UserID != nil {
		where = append(where, "user_id=?")
		args = append(args, *f.UserID)
	}
	if f.TaskID != nil {
		where = append(where, "task_id=?")
		args = append(args, *f.TaskID)
	}
	query := "SELECT id, task_id, user_id, scheduled_date, status FROM scheduled_instances"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ScheduledInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstance(row rowScanner) (domain.ScheduledInstance, error) {
	var (
		inst    domain.ScheduledInstance
		rawDate string
		rawStat string
	)
	err := row.Scan(&inst.ID, &inst.TaskID, &inst.UserID, &rawDate, &rawStat)
	if err == sql.ErrNoRows {
		return domain.ScheduledInstance{}, ErrNotFound
	}
	if err != nil {
		return domain.ScheduledInstance{}, err
	}
	inst.ScheduledDate, err = time.ParseInLocation(domain.DateFormat, rawDate, time.UTC)
	if err != nil {
		return domain.ScheduledInstance{}, fmt.Errorf("bad scheduled_date %q: %w", rawDate, err)
	}
	inst.Status, err = domain.ParseStatus(rawStat)
	if err != nil {
		return domain.ScheduledInstance{}, err
	}
	return inst, nil
}
