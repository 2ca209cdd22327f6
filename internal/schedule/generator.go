package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"studiobook/internal/clock"
	"studiobook/internal/domain"
	"studiobook/internal/models"

	"github.com/rs/zerolog"
)

// Generator materializes lessons from a weekly template.
type Generator struct {
	store  domain.Store
	zone   *clock.Zone
	logger *zerolog.Logger
}

func NewGenerator(store domain.Store, zone *clock.Zone, logger *zerolog.Logger) *Generator {
	return &Generator{store: store, zone: zone, logger: logger}
}

// Generate walks every civil day from start to end inclusive and creates the lessons the template
// asks for. Existing matching lessons are left alone, overlapping ones are reported as conflicts.
// When ctx is cancelled the partial result is returned with ctx.Err(); created lessons are kept.
func (g *Generator) Generate(ctx context.Context, tpl *models.ScheduleTemplate, start, end clock.Date, clearExisting bool) (*models.GenerationResult, error) {
	if tpl == nil {
		return nil, domain.NewError(domain.KindValidation, "schedule template is required")
	}
	if end.Before(start) {
		return nil, domain.NewError(domain.KindValidation, "end date %s is before start date %s", end, start)
	}
	if err := tpl.Validate(); err != nil {
		return nil, domain.Validation(err)
	}

	result := &models.GenerationResult{
		Created:   []models.GeneratedLesson{},
		Skipped:   []models.SlotOutcome{},
		Conflicts: []models.SlotOutcome{},
	}

	if clearExisting {
		if err := g.clear(ctx, tpl, g.zone.StartOfDay(start), g.zone.EndOfDay(end), result); err != nil {
			return result, err
		}
	}

	for d := start; !d.After(end); d = d.AddDays(1) {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if !tpl.Covers(d) {
			continue
		}
		day := tpl.Day(d.Weekday())
		if day == nil || !day.Active || len(day.Slots) == 0 {
			continue
		}
		for i := range day.Slots {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			g.generateSlot(ctx, tpl, d, &day.Slots[i], result)
		}
	}

	g.logger.Info().
		Str("tenant_id", tpl.TenantID).
		Str("start", start.String()).
		Str("end", end.String()).
		Int("created", len(result.Created)).
		Int("skipped", len(result.Skipped)).
		Int("conflicts", len(result.Conflicts)).
		Int("cleared", result.Cleared).
		Msg("lesson generation finished")

	return result, nil
}

// clear deletes in-window lessons of the template's tenant that have no confirmed booking.
// The lesson row is locked before the booking check so a concurrent confirm either
// commits first and keeps the lesson, or waits and finds it gone.
func (g *Generator) clear(ctx context.Context, tpl *models.ScheduleTemplate, from, to time.Time, result *models.GenerationResult) error {
	lessons, err := g.store.ListLessons(ctx, domain.LessonFilter{
		TenantID:     tpl.TenantID,
		TenantScoped: true,
		StartFrom:    from,
		EndBy:        to,
	})
	if err != nil {
		return fmt.Errorf("list lessons to clear: %w", err)
	}

	for i := range lessons {
		if err := ctx.Err(); err != nil {
			return err
		}
		id := lessons[i].ID
		deleted := false
		err := g.store.InTx(ctx, func(q domain.Queries) error {
			if _, err := q.LockLesson(ctx, id); err != nil {
				return err
			}
			confirmed, err := q.CountBookings(ctx, domain.BookingFilter{
				LessonID: id,
				Statuses: []models.BookingStatus{models.StatusConfirmed},
			})
			if err != nil {
				return err
			}
			if confirmed > 0 {
				return nil
			}
			if err := q.DeleteLesson(ctx, id); err != nil {
				return err
			}
			deleted = true
			return nil
		})
		switch {
		case errors.Is(err, domain.ErrNotFound):
			// already gone
		case err != nil:
			return fmt.Errorf("clear lesson %d: %w", id, err)
		case deleted:
			result.Cleared++
		default:
			result.Retained = append(result.Retained, id)
		}
	}
	return nil
}

func (g *Generator) generateSlot(ctx context.Context, tpl *models.ScheduleTemplate, d clock.Date, slot *models.TimeSlot, result *models.GenerationResult) {
	start := g.zone.At(d, slot.Start)
	end := g.zone.At(d, slot.End)
	outcome := models.SlotOutcome{Date: d, Start: start, End: end}

	if slot.Skips(d) {
		outcome.Reason = models.SkipExplicit
		result.Skipped = append(result.Skipped, outcome)
		return
	}

	if !end.After(start) {
		// a DST gap can fold a short slot onto itself
		outcome.Reason = models.SkipFailed
		outcome.Detail = "resolved end time is not after start time"
		result.Skipped = append(result.Skipped, outcome)
		return
	}

	var created *models.Lesson
	err := g.store.InTx(ctx, func(q domain.Queries) error {
		location := slot.Location
		existing, err := q.ListLessons(ctx, domain.LessonFilter{
			TenantID:     tpl.TenantID,
			TenantScoped: true,
			StartFrom:    start,
			EndBy:        end,
			Location:     &location,
		})
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			outcome.Reason = models.SkipExists
			outcome.LessonID = existing[0].ID
			return nil
		}

		overlapping, err := q.ListLessons(ctx, domain.LessonFilter{
			TenantID:     tpl.TenantID,
			TenantScoped: true,
			StartFrom:    g.zone.StartOfDay(d),
			StartBefore:  end,
			EndAfter:     start,
		})
		if err != nil {
			return err
		}
		if len(overlapping) > 0 {
			outcome.LessonID = overlapping[0].ID
			outcome.Detail = "overlaps an existing lesson"
			return nil
		}

		lesson := &models.Lesson{
			TenantID:      tpl.TenantID,
			Date:          g.zone.StartOfDay(d),
			StartTime:     start,
			EndTime:       end,
			ClassOptionID: tpl.ResolveClassOption(slot),
			Location:      slot.Location,
			InstructorID:  slot.InstructorID,
			LockOutTime:   tpl.ResolveLockOut(slot),
			Active:        true,
		}
		if err := lesson.Validate(); err != nil {
			return domain.Validation(err)
		}
		if err := q.CreateLesson(ctx, lesson); err != nil {
			return err
		}
		created = lesson
		return nil
	})

	switch {
	case err != nil:
		g.logger.Warn().Err(err).
			Str("tenant_id", tpl.TenantID).
			Str("date", d.String()).
			Str("start", slot.Start.String()).
			Str("location", slot.Location).
			Msg("slot generation failed, skipping")
		outcome.Reason = models.SkipFailed
		outcome.Detail = err.Error()
		outcome.LessonID = 0
		result.Skipped = append(result.Skipped, outcome)
	case created != nil:
		result.Created = append(result.Created, models.GeneratedLesson{
			LessonID: created.ID,
			Date:     d,
			Start:    start,
			End:      end,
		})
	case outcome.Reason == models.SkipExists:
		result.Skipped = append(result.Skipped, outcome)
	default:
		result.Conflicts = append(result.Conflicts, outcome)
	}
}
