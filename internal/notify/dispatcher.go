package notify

import (
	"context"
	"errors"
	"fmt"

	"studiobook/internal/clock"
	"studiobook/internal/domain"
	"studiobook/internal/models"
	"studiobook/internal/worker"

	"github.com/rs/zerolog"
)

const availableSubject = "Lesson is now available"

// Dispatcher queues one waitlist notice per waiting booking.
type Dispatcher struct {
	queue  domain.JobQueue
	logger *zerolog.Logger
}

func NewDispatcher(queue domain.JobQueue, logger *zerolog.Logger) *Dispatcher {
	return &Dispatcher{queue: queue, logger: logger}
}

// NotifyLessonAvailable keeps going after a failed enqueue and returns the joined errors.
func (d *Dispatcher) NotifyLessonAvailable(ctx context.Context, lesson *models.Lesson, waiting []models.Booking) error {
	var errs []error
	for _, b := range waiting {
		notice := models.WaitlistNotice{BookingID: b.ID, LessonID: lesson.ID, UserID: b.UserID}
		if err := d.queue.Enqueue(ctx, models.JobWaitlistNotify, notice); err != nil {
			errs = append(errs, fmt.Errorf("booking %d: %w", b.ID, err))
			continue
		}
		d.logger.Debug().Int64("lesson_id", lesson.ID).Int64("booking_id", b.ID).Msg("waitlist notice queued")
	}
	return errors.Join(errs...)
}

// NoticeReader is what the notice handler reads before sending.
type NoticeReader interface {
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	GetLesson(ctx context.Context, id int64) (*models.Lesson, error)
	GetClassOption(ctx context.Context, id int64) (*models.ClassOption, error)
	GetUser(ctx context.Context, id int64) (*models.User, error)
}

// WaitlistHandler sends the notice for a waitlist_notify job.
// Notices for bookings that are no longer waiting, or users that are gone, are dropped.
func WaitlistHandler(store NoticeReader, sender Sender, zone *clock.Zone, logger *zerolog.Logger) worker.Handler {
	return func(ctx context.Context, job *models.Job) error {
		var notice models.WaitlistNotice
		if err := worker.Decode(job, &notice); err != nil {
			return err
		}

		booking, err := store.GetBooking(ctx, notice.BookingID)
		if errors.Is(err, domain.ErrNotFound) {
			logger.Info().Int64("booking_id", notice.BookingID).Msg("waitlist booking gone, notice dropped")
			return nil
		}
		if err != nil {
			return err
		}
		if booking.Status != models.StatusWaiting {
			logger.Info().Int64("booking_id", booking.ID).Str("status", string(booking.Status)).Msg("booking left waitlist, notice dropped")
			return nil
		}

		user, err := store.GetUser(ctx, booking.UserID)
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn().Int64("user_id", booking.UserID).Msg("waitlist user not found, notice dropped")
			return nil
		}
		if err != nil {
			return err
		}

		lesson, err := store.GetLesson(ctx, booking.LessonID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		name := "Your lesson"
		if opt, err := store.GetClassOption(ctx, lesson.ClassOptionID); err == nil {
			name = opt.Name
		}

		if err := sender.Send(ctx, user, availableSubject, availableBody(name, lesson, zone)); err != nil {
			if errors.Is(err, ErrNoAddress) {
				return fmt.Errorf("%w: %v", worker.ErrPermanent, err)
			}
			return err
		}
		logger.Info().Int64("booking_id", booking.ID).Int64("user_id", user.ID).Msg("waitlist notice sent")
		return nil
	}
}

func availableBody(name string, lesson *models.Lesson, zone *clock.Zone) string {
	start := lesson.StartTime.In(zone.Location())
	return fmt.Sprintf("A place opened up in %s on %s at %s. Book now to take it.",
		name, start.Format("Mon 2 Jan"), start.Format("15:04"))
}
