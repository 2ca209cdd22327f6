package worker

import (
	"context"
	"fmt"
	"time"

	"studiobook/internal/clock"
	"studiobook/internal/metrics"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler runs periodic tasks on cron specs evaluated in the studio zone.
// A task still running when its next tick fires is skipped.
type Scheduler struct {
	cron    *cron.Cron
	timeout time.Duration
	logger  *zerolog.Logger
}

func NewScheduler(zone *clock.Zone, logger *zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(zone.Location()),
			cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
		),
		timeout: 10 * time.Minute,
		logger:  logger,
	}
}

// Add registers fn under name. Each run gets its own timeout-bound context.
func (s *Scheduler) Add(name, spec string, fn func(ctx context.Context) error) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		start := time.Now()
		if err := fn(ctx); err != nil {
			metrics.IncJob("cron_"+name, "failed")
			s.logger.Error().Err(err).Str("task", name).Msg("scheduled task failed")
			return
		}
		metrics.IncJob("cron_"+name, "completed")
		s.logger.Info().Str("task", name).Dur("duration", time.Since(start)).Msg("scheduled task done")
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	s.logger.Info().Str("task", name).Str("spec", spec).Msg("task scheduled")
	return nil
}

// Len reports how many tasks are registered.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Start runs the scheduler until ctx is done, then waits for running tasks.
func (s *Scheduler) Start(ctx context.Context) {
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
}
