package scheduler

import (
	"context"
	"fmt"

	"timebank/internal/core/ports"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler runs the background reconciliation sweep on a cron schedule.
type Scheduler struct {
	cron       *cron.Cron
	reconciler ports.Reconciler
	log        zerolog.Logger
}

// New creates a Scheduler around the reconciler.
func New(reconciler ports.Reconciler, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:       cron.New(),
		reconciler: reconciler,
		log:        log,
	}
}

// Start registers the sweep under the given cron spec and starts the cron
// loop. Spec syntax follows robfig/cron, "@every 5m" included.
func (s *Scheduler) Start(spec string) error {
	if _, err := s.cron.AddFunc(spec, s.sweep); err != nil {
		return fmt.Errorf("schedule reconciliation: %w", err)
	}
	s.cron.Start()
	s.log.Info().Str("schedule", spec).Msg("reconciliation scheduler started")
	return nil
}

// Stop halts the cron loop and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("reconciliation scheduler stopped")
}

func (s *Scheduler) sweep() {
	if _, err := s.reconciler.Run(context.Background()); err != nil {
		s.log.Error().Err(err).Msg("reconciliation sweep failed")
	}
}
