package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"choreflow/internal/domain"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)
	if err := EnsureSchema(db); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return NewSQLiteStore(db)
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func insert(t *testing.T, st Store, taskID, userID int, day time.Time, status domain.Status) int64 {
	t.Helper()
	ctx := context.Background()
	tx, err := st.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	id, err := tx.Insert(ctx, domain.ScheduledInstance{
		TaskID: taskID, UserID: userID, ScheduledDate: day, Status: status,
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return id
}

func TestInsertAndGet(t *testing.T) {
	st := newTestStore(t)
	day := date(2026, 3, 2)
	id := insert(t, st, 1, 2, day, domain.StatusPending)

	inst, err := st.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if inst.TaskID != 1 || inst.UserID != 2 || inst.Status != domain.StatusPending {
		t.Fatalf("unexpected instance: %+v", inst)
	}
	if !inst.ScheduledDate.Equal(day) {
		t.Fatalf("scheduled date = %v, want %v", inst.ScheduledDate, day)
	}
}

func TestGetMissing(t *testing.T) {
	st := newTestStore(t)
	if _, err := st.Get(context.Background(), 99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestQueryFilters(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	mon := date(2026, 3, 2)
	tue := date(2026, 3, 3)
	insert(t, st, 1, 1, mon, domain.StatusPending)
	insert(t, st, 2, 1, mon, domain.StatusCompleted)
	insert(t, st, 1, 2, tue, domain.StatusPending)

	byDate, err := st.Query(ctx, Filter{Date: &mon})
	if err != nil {
		t.Fatalf("query by date: %v", err)
	}
	if len(byDate) != 2 {
		t.Fatalf("expected 2 instances on mon, got %d", len(byDate))
	}

	pending := domain.StatusPending
	user := 1
	got, err := st.Query(ctx, Filter{Status: &pending, UserID: &user})
	if err != nil {
		t.Fatalf("query by status+user: %v", err)
	}
	if len(got) != 1 || got[0].TaskID != 1 {
		t.Fatalf("unexpected result: %+v", got)
	}

	task := 1
	got, err = st.Query(ctx, Filter{TaskID: &task})
	if err != nil {
		t.Fatalf("query by task: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 instances of task 1, got %d", len(got))
	}
}

func TestSetStatus(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	id := insert(t, st, 1, 1, date(2026, 3, 2), domain.StatusPending)

	if err := st.SetStatus(ctx, id, domain.StatusCompleted); err != nil {
		t.Fatalf("set status: %v", err)
	}
	inst, err := st.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if inst.Status != domain.StatusCompleted {
		t.Fatalf("status = %q, want completed", inst.Status)
	}

	if err := st.SetStatus(ctx, 404, domain.StatusCompleted); !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestSetStatusForUser(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	mon := date(2026, 3, 2)
	insert(t, st, 1, 1, mon, domain.StatusPending)
	insert(t, st, 2, 1, mon, domain.StatusPending)
	insert(t, st, 3, 1, mon, domain.StatusIncomplete)
	insert(t, st, 4, 2, mon, domain.StatusPending)

	n, err := st.SetStatusForUser(ctx, 1, domain.StatusPending, domain.StatusCompleted)
	if err != nil {
		t.Fatalf("bulk update: %v", err)
	}
	if n != 2 {
		t.Fatalf("updated %d rows, want 2", n)
	}

	pending := domain.StatusPending
	other := 2
	left, err := st.Query(ctx, Filter{Status: &pending, UserID: &other})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(left) != 1 {
		t.Fatalf("user 2's pending instance should be untouched")
	}
}

func TestDeleteNotCompleted(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	mon := date(2026, 3, 2)
	tue := date(2026, 3, 3)
	insert(t, st, 1, 1, mon, domain.StatusPending)
	insert(t, st, 2, 1, mon, domain.StatusIncomplete)
	keep := insert(t, st, 3, 1, mon, domain.StatusCompleted)
	insert(t, st, 4, 1, tue, domain.StatusPending)

	tx, err := st.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	n, err := tx.DeleteNotCompleted(ctx, mon)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if n != 2 {
		t.Fatalf("deleted %d rows, want 2", n)
	}

	rest, err := st.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rest) != 2 {
		t.Fatalf("expected 2 surviving instances, got %d", len(rest))
	}
	if rest[0].ID != keep {
		t.Fatalf("completed instance should survive cleanup")
	}
}

func TestMarkBefore(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	insert(t, st, 1, 1, date(2026, 3, 1), domain.StatusPending)
	insert(t, st, 2, 1, date(2026, 2, 20), domain.StatusPending)
	insert(t, st, 3, 1, date(2026, 3, 1), domain.StatusCompleted)
	insert(t, st, 4, 1, date(2026, 3, 2), domain.StatusPending)

	tx, err := st.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	n, err := tx.MarkBefore(ctx, date(2026, 3, 2), domain.StatusPending, domain.StatusIncomplete)
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if n != 2 {
		t.Fatalf("marked %d rows, want 2", n)
	}

	pending := domain.StatusPending
	left, err := st.Query(ctx, Filter{Status: &pending})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(left) != 1 || left[0].TaskID != 4 {
		t.Fatalf("only today's pending instance should remain: %+v", left)
	}
}

func TestLastCompleted(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	insert(t, st, 1, 1, date(2026, 2, 20), domain.StatusCompleted)
	insert(t, st, 1, 2, date(2026, 2, 25), domain.StatusCompleted)
	insert(t, st, 1, 1, date(2026, 3, 1), domain.StatusPending)
	insert(t, st, 2, 1, date(2026, 3, 1), domain.StatusCompleted)

	tx, err := st.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()

	last, err := tx.LastCompleted(ctx, 1)
	if err != nil {
		t.Fatalf("last completed: %v", err)
	}
	// Pending on 3/1 must not win over completed 2/25.
	if got := last.ScheduledDate.Format(domain.DateFormat); got != "2026-02-25" {
		t.Fatalf("last completed date = %s, want 2026-02-25", got)
	}

	if _, err := tx.LastCompleted(ctx, 9); !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestRollbackDiscardsWrites(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	tx, err := st.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := tx.Insert(ctx, domain.ScheduledInstance{TaskID: 1, UserID: 1, ScheduledDate: date(2026, 3, 2), Status: domain.StatusPending}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	got, err := st.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("rolled back insert should not be visible, got %d rows", len(got))
	}
}

func TestRollbackAfterCommitIsNoop(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	tx, err := st.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback after commit should be a no-op, got %v", err)
	}
}
