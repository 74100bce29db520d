// Package scheduler triggers the daily generation run on a cron schedule.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"choreflow/internal/catalog"
	"choreflow/internal/engine"
)

// Service owns the cron entry that fires one generation run per day. The
// catalog is reloaded on every trigger so file edits apply without a restart.
type Service struct {
	engine   *engine.Engine
	provider catalog.Provider
	cron     *cron.Cron
}

// NewService builds the service without starting the cron loop.
func NewService(eng *engine.Engine, provider catalog.Provider) *Service {
	return &Service{engine: eng, provider: provider, cron: cron.New()}
}

// Start registers the generation job and starts the cron loop. Failed runs
// are logged, never fatal: the next trigger or a manual call retries the
// whole idempotent run.
func (s *Service) Start(ctx context.Context, spec string) error {
	if _, err := s.cron.AddFunc(spec, func() { s.RunOnce(ctx) }); err != nil {
		return err
	}
	s.cron.Start()
	log.Info().Str("cron", spec).Msg("daily generation scheduled")
	return nil
}

// Stop halts the cron loop and waits for an in-flight job to finish.
func (s *Service) Stop() {
	<-s.cron.Stop().Done()
}

// RunOnce loads the catalog and roster and runs generation for the current
// date. Used by the cron entry and once at startup.
func (s *Service) RunOnce(ctx context.Context) {
	tasks, err := s.provider.Tasks()
	if err != nil {
		log.Error().Err(err).Msg("load task catalog")
		return
	}
	users, err := s.provider.Users()
	if err != nil {
		log.Error().Err(err).Msg("load user roster")
		return
	}
	rep, err := s.engine.Generate(ctx, tasks, users, time.Now())
	if err != nil {
		log.Error().Err(err).Msg("generation run failed")
		return
	}
	log.Info().Str("run_id", rep.RunID).Int("assigned", rep.Assigned).Int("unassigned_effort", rep.UnassignedEffort).Msg("scheduled generation run committed")
}

// ValidateCronSpec validates a cron expression before the service starts.
func ValidateCronSpec(spec string) error {
	_, err := cron.ParseStandard(spec)
	return err
}
