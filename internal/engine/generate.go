// Package engine implements the daily generation run: aging of missed work,
// cleanup of the current date, mandatory round-robin assignment and
// budget-constrained effort assignment, committed as a single transaction.
package engine

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"choreflow/internal/domain"
	"choreflow/internal/store"
)

// ErrEmptyRoster marks a generation attempt with no users to assign to.
var ErrEmptyRoster = errors.New("engine: roster is empty")

// Report summarizes one committed generation run.
type Report struct {
	RunID            string `json:"run_id"`
	Date             string `json:"date"`
	Assigned         int    `json:"assigned_count"`
	UnassignedEffort int    `json:"unassigned_effort"`
}

// Engine runs daily generation. Runs serialize through an internal lock, so
// the cron trigger and the manual endpoint can never interleave two runs.
type Engine struct {
	store store.Store
	mu    sync.Mutex
	rnd   *rand.Rand

	// shuffle randomizes the effort pass order; replaced in tests for
	// deterministic assignment.
	shuffle func(tasks []domain.TaskDefinition)
}

// New builds an engine whose shuffle is seeded from system entropy.
func New(st store.Store) *Engine {
	e := &Engine{store: st, rnd: rand.New(rand.NewSource(entropySeed()))}
	e.shuffle = func(tasks []domain.TaskDefinition) {
		e.rnd.Shuffle(len(tasks), func(i, j int) {
			tasks[i], tasks[j] = tasks[j], tasks[i]
		})
	}
	return e
}

func entropySeed() int64 {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return time.Now().UnixNano()
	}
	return int64(binary.LittleEndian.Uint64(b[:]))
}

// Generate executes the four-phase algorithm for the given date. It is
// idempotent per date: re-running recomputes pending assignments without
// duplicating or losing completed work. On any error the transaction is
// rolled back and the previously committed state stands.
func (e *Engine) Generate(ctx context.Context, tasks []domain.TaskDefinition, users []domain.UserProfile, today time.Time) (Report, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	today = domain.DateOnly(today)
	day := domain.WeekdayTag(today)
	rep := Report{RunID: "run_" + uuid.NewString(), Date: today.Format(domain.DateFormat)}

	if len(users) == 0 {
		return rep, ErrEmptyRoster
	}

	logger := log.With().Str("run_id", rep.RunID).Str("date", rep.Date).Str("day", day).Logger()
	logger.Info().Msg("generation run started")
	for _, u := range users {
		logger.Info().Str("user", u.Username).Int("available_effort", u.BudgetOn(day)).Msg("user budget for today")
	}

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return rep, err
	}
	defer tx.Rollback()

	// Phase 1: cleanup. Re-running mid-day must recompute pending work from
	// scratch; completed instances are never touched.
	if _, err := tx.DeleteNotCompleted(ctx, today); err != nil {
		return rep, fmt.Errorf("cleanup: %w", err)
	}

	// Phase 2: aging. Pending work from earlier dates becomes incomplete,
	// a terminal transition for generation.
	aged, err := tx.MarkBefore(ctx, today, domain.StatusPending, domain.StatusIncomplete)
	if err != nil {
		return rep, fmt.Errorf("aging: %w", err)
	}
	if aged > 0 {
		logger.Info().Int64("aged", aged).Msg("marked stale pending tasks incomplete")
	}

	// Phase 3: snapshot. After cleanup only completed instances can remain
	// for today; their task ids must not be assigned again.
	claimed, err := claimedTaskIDs(ctx, tx, today)
	if err != nil {
		return rep, fmt.Errorf("snapshot: %w", err)
	}

	// Phase 4a: randomize the effort pass so scarce budget doesn't always
	// starve the same tail of the catalog.
	shuffled := make([]domain.TaskDefinition, len(tasks))
	copy(shuffled, tasks)
	e.shuffle(shuffled)

	// Phase 4b: mandatory tasks rotate over the roster in catalog order.
	if err := e.assignMandatory(ctx, tx, tasks, users, today, claimed, &rep, logger); err != nil {
		return rep, err
	}

	// Phase 4c: effort-bearing tasks, first user with enough remaining budget.
	remaining := make(map[int]int, len(users))
	for _, u := range users {
		remaining[u.ID] = u.BudgetOn(day)
	}
	for _, task := range shuffled {
		if claimed[task.ID] {
			continue
		}
		user, ok := firstFit(task, users, remaining)
		if !ok {
			rep.UnassignedEffort += task.Effort
			logger.Debug().Str("task", task.Name).Int("effort", task.Effort).Msg("no remaining effort for task")
			continue
		}
		assigned, err := e.scheduleIfEligible(ctx, tx, task, user, today, claimed, logger)
		if err != nil {
			return rep, err
		}
		if assigned {
			remaining[user.ID] -= task.Effort
			rep.Assigned++
		}
	}
	if rep.UnassignedEffort > 0 {
		logger.Warn().Int("unassigned_effort", rep.UnassignedEffort).Msg("effort points left unassigned, not enough capacity")
	}

	// Phase 5: commit everything or nothing.
	if err := tx.Commit(); err != nil {
		return rep, fmt.Errorf("commit: %w", err)
	}
	logger.Info().Int("assigned", rep.Assigned).Int("unassigned_effort", rep.UnassignedEffort).Msg("generation run finished")
	return rep, nil
}

// assignMandatory walks the catalog in order and rotates zero-effort tasks
// over the roster. The rotation index advances even when a task turns out
// ineligible, and every mandatory id ends up claimed, so the effort pass
// never reconsiders one.
func (e *Engine) assignMandatory(ctx context.Context, tx store.Tx, tasks []domain.TaskDefinition, users []domain.UserProfile, today time.Time, claimed map[int]bool, rep *Report, logger zerolog.Logger) error {
	idx := 0
	for _, task := range tasks {
		if !task.Mandatory() {
			continue
		}
		user := users[idx%len(users)]
		idx++
		assigned, err := e.scheduleIfEligible(ctx, tx, task, user, today, claimed, logger)
		if err != nil {
			return err
		}
		if assigned {
			rep.Assigned++
		}
		claimed[task.ID] = true
	}
	return nil
}

// scheduleIfEligible inserts a pending instance for the task when the
// eligibility rules accept it. Rejection is a normal outcome, not an error.
func (e *Engine) scheduleIfEligible(ctx context.Context, tx store.Tx, task domain.TaskDefinition, user domain.UserProfile, today time.Time, claimed map[int]bool, logger zerolog.Logger) (bool, error) {
	eligible, err := isEligible(ctx, tx, task, today, claimed)
	if err != nil {
		return false, err
	}
	if !eligible {
		logger.Debug().Str("task", task.Name).Msg("task not eligible today")
		return false, nil
	}
	_, err = tx.Insert(ctx, domain.ScheduledInstance{
		TaskID:        task.ID,
		UserID:        user.ID,
		ScheduledDate: today,
		Status:        domain.StatusPending,
	})
	if err != nil {
		return false, fmt.Errorf("insert task %d: %w", task.ID, err)
	}
	claimed[task.ID] = true
	logger.Info().Str("task", task.Name).Str("user", user.Username).Int("effort", task.Effort).Msg("task assigned")
	return true, nil
}

// isEligible decides whether a task may be scheduled on the given date:
// not already claimed today, weekday allowed, and recurrence interval elapsed
// since the most recent completed instance. Only completed history anchors
// the interval; pending or incomplete instances never extend it.
func isEligible(ctx context.Context, tx store.Tx, task domain.TaskDefinition, date time.Time, claimed map[int]bool) (bool, error) {
	if claimed[task.ID] {
		return false, nil
	}
	if !task.AllowedOn(domain.WeekdayTag(date)) {
		return false, nil
	}
	last, err := tx.LastCompleted(ctx, task.ID)
	if errors.Is(err, store.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("last completed for task %d: %w", task.ID, err)
	}
	elapsed := int(date.Sub(last.ScheduledDate).Hours() / 24)
	return elapsed >= task.DaysInterval, nil
}

// firstFit returns the first roster user whose remaining budget covers the
// task's effort.
func firstFit(task domain.TaskDefinition, users []domain.UserProfile, remaining map[int]int) (domain.UserProfile, bool) {
	for _, u := range users {
		if task.Effort <= remaining[u.ID] {
			return u, true
		}
	}
	return domain.UserProfile{}, false
}

func claimedTaskIDs(ctx context.Context, tx store.Tx, date time.Time) (map[int]bool, error) {
	instances, err := tx.Query(ctx, store.Filter{Date: &date})
	if err != nil {
		return nil, err
	}
	claimed := make(map[int]bool, len(instances))
	for _, inst := range instances {
		claimed[inst.TaskID] = true
	}
	return claimed, nil
}
