package worker

import (
	"context"
	"errors"
	"fmt"

	"studiobook/internal/clock"
	"studiobook/internal/domain"
	"studiobook/internal/models"
	"studiobook/internal/service"

	"github.com/rs/zerolog"
)

// Generator runs a stored template over a window.
type Generator interface {
	Generate(ctx context.Context, req models.GenerationRequest) (*models.GenerationResult, error)
}

// GenerationHandler runs generate_lessons jobs. Validation and missing templates are not retried.
func GenerationHandler(gen Generator, logger *zerolog.Logger) Handler {
	return func(ctx context.Context, job *models.Job) error {
		var req models.GenerationRequest
		if err := Decode(job, &req); err != nil {
			return err
		}
		res, err := gen.Generate(ctx, req)
		if err != nil {
			if errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("%w: %v", ErrPermanent, err)
			}
			return err
		}
		logger.Info().Int64("job_id", job.ID).Str("tenant_id", req.TenantID).
			Int("created", len(res.Created)).Int("conflicts", len(res.Conflicts)).Msg("generation job done")
		return nil
	}
}

// LessonLister lists lessons with their capacity.
type LessonLister interface {
	ListLessons(ctx context.Context, query service.LessonQuery) ([]service.LessonDetails, error)
}

// SchedulePublisher replaces the published schedule.
type SchedulePublisher interface {
	ReplaceLessons(ctx context.Context, zone *clock.Zone, lessons []service.LessonDetails) error
}

// SheetsPublishHandler runs sheets_publish jobs.
func SheetsPublishHandler(lessons LessonLister, publisher SchedulePublisher, zone *clock.Zone, logger *zerolog.Logger) Handler {
	return func(ctx context.Context, job *models.Job) error {
		var req models.PublishRequest
		if err := Decode(job, &req); err != nil {
			return err
		}
		list, err := lessons.ListLessons(ctx, service.LessonQuery{TenantID: req.TenantID, From: req.From, To: req.To})
		if err != nil {
			return err
		}
		if err := publisher.ReplaceLessons(ctx, zone, list); err != nil {
			return err
		}
		logger.Info().Int64("job_id", job.ID).Int("lessons", len(list)).Msg("schedule published")
		return nil
	}
}
