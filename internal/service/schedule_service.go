package service

import (
	"context"
	"errors"
	"fmt"

	"studiobook/internal/clock"
	"studiobook/internal/domain"
	"studiobook/internal/events"
	"studiobook/internal/metrics"
	"studiobook/internal/models"
	"studiobook/internal/schedule"

	"github.com/rs/zerolog"
)

// ScheduleService stores weekly templates and runs or queues their expansion into lessons.
type ScheduleService struct {
	store     domain.Store
	generator *schedule.Generator
	zone      *clock.Zone
	clock     clock.Clock
	jobs      domain.JobQueue
	eventBus  domain.EventPublisher
	logger    *zerolog.Logger
}

func NewScheduleService(
	store domain.Store,
	generator *schedule.Generator,
	zone *clock.Zone,
	clk clock.Clock,
	eventBus domain.EventPublisher,
	logger *zerolog.Logger,
) *ScheduleService {
	if clk == nil {
		clk = clock.System{}
	}
	return &ScheduleService{
		store:     store,
		generator: generator,
		zone:      zone,
		clock:     clk,
		eventBus:  eventBus,
		logger:    logger,
	}
}

// SetJobQueue wires the queue used by EnqueueGeneration. The worker depends on this service, so it comes later.
func (s *ScheduleService) SetJobQueue(jobs domain.JobQueue) {
	s.jobs = jobs
}

// SaveTemplate validates and upserts the tenant's template.
func (s *ScheduleService) SaveTemplate(ctx context.Context, tpl *models.ScheduleTemplate) error {
	if err := tpl.Validate(); err != nil {
		return domain.Validation(err)
	}
	for _, id := range referencedOptions(tpl) {
		if _, err := s.store.GetClassOption(ctx, id); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.NewError(domain.KindValidation, "schedule refers to unknown class option %d", id)
			}
			return err
		}
	}
	if err := s.store.SaveSchedule(ctx, tpl); err != nil {
		return err
	}
	s.logger.Info().Str("tenant_id", tpl.TenantID).Int64("schedule_id", tpl.ID).Msg("schedule saved")
	return nil
}

func referencedOptions(tpl *models.ScheduleTemplate) []int64 {
	seen := make(map[int64]bool)
	var ids []int64
	add := func(id int64) {
		if id > 0 && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	add(tpl.DefaultClassOptionID)
	for i := range tpl.Days {
		for j := range tpl.Days[i].Slots {
			add(tpl.ResolveClassOption(&tpl.Days[i].Slots[j]))
		}
	}
	return ids
}

func (s *ScheduleService) GetTemplate(ctx context.Context, tenantID string) (*models.ScheduleTemplate, error) {
	return s.store.GetSchedule(ctx, tenantID)
}

func (s *ScheduleService) ListTemplates(ctx context.Context) ([]models.ScheduleTemplate, error) {
	return s.store.ListSchedules(ctx)
}

// Generate expands the tenant's stored template over the requested window.
func (s *ScheduleService) Generate(ctx context.Context, req models.GenerationRequest) (*models.GenerationResult, error) {
	tpl, err := s.store.GetSchedule(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}
	return s.GenerateFromTemplate(ctx, tpl, req.Start, req.End, req.ClearExisting)
}

// GenerateFromTemplate expands a template that need not be stored.
func (s *ScheduleService) GenerateFromTemplate(
	ctx context.Context,
	tpl *models.ScheduleTemplate,
	start, end clock.Date,
	clearExisting bool,
) (*models.GenerationResult, error) {
	result, err := s.generator.Generate(ctx, tpl, start, end, clearExisting)
	if result == nil {
		return nil, err
	}

	metrics.AddGeneration(len(result.Created), len(result.Skipped), len(result.Conflicts), result.Cleared)
	if pubErr := s.eventBus.PublishJSON(events.EventLessonsGenerated, events.GenerationEventPayload{
		TenantID:  tpl.TenantID,
		Start:     start.String(),
		End:       end.String(),
		Created:   len(result.Created),
		Skipped:   len(result.Skipped),
		Conflicts: len(result.Conflicts),
		Cleared:   result.Cleared,
	}); pubErr != nil {
		s.logger.Error().Err(pubErr).Str("event_type", events.EventLessonsGenerated).Msg("publish event error")
	}
	return result, err
}

// EnqueueGeneration hands the request to the job worker.
func (s *ScheduleService) EnqueueGeneration(ctx context.Context, req models.GenerationRequest) error {
	if req.Start.IsZero() || req.End.IsZero() {
		return domain.NewError(domain.KindValidation, "generation window needs start and end dates")
	}
	if req.End.Before(req.Start) {
		return domain.NewError(domain.KindValidation, "generation end %s is before start %s", req.End, req.Start)
	}
	if s.jobs == nil {
		return fmt.Errorf("job queue is not configured")
	}
	if err := s.jobs.Enqueue(ctx, models.JobGenerateLessons, req); err != nil {
		return err
	}
	s.logger.Info().Str("tenant_id", req.TenantID).Str("start", req.Start.String()).Str("end", req.End.String()).
		Msg("generation enqueued")
	return nil
}

// RollingWindow is the window a rolling run covers for tpl: today through today+horizonDays,
// clipped to the template dates. ok is false when nothing is left to generate.
func RollingWindow(tpl *models.ScheduleTemplate, today clock.Date, horizonDays int) (start, end clock.Date, ok bool) {
	start, end = today, today.AddDays(horizonDays)
	if !tpl.StartDate.IsZero() && start.Before(tpl.StartDate) {
		start = tpl.StartDate
	}
	if !tpl.EndDate.IsZero() && end.After(tpl.EndDate) {
		end = tpl.EndDate
	}
	return start, end, !end.Before(start)
}

// EnqueueRolling queues a non-destructive generation of every stored template over its rolling window.
func (s *ScheduleService) EnqueueRolling(ctx context.Context, horizonDays int) (int, error) {
	templates, err := s.store.ListSchedules(ctx)
	if err != nil {
		return 0, err
	}
	today := s.zone.CivilDate(s.clock.Now())

	queued := 0
	for i := range templates {
		tpl := &templates[i]
		start, end, ok := RollingWindow(tpl, today, horizonDays)
		if !ok {
			continue
		}
		req := models.GenerationRequest{TenantID: tpl.TenantID, Start: start, End: end}
		if err := s.EnqueueGeneration(ctx, req); err != nil {
			s.logger.Error().Err(err).Str("tenant_id", tpl.TenantID).Msg("rolling generation enqueue error")
			continue
		}
		queued++
	}
	return queued, nil
}
