package service

import (
	"context"
	"errors"
	"time"

	"studiobook/internal/clock"
	"studiobook/internal/domain"
	"studiobook/internal/events"
	"studiobook/internal/metrics"
	"studiobook/internal/models"

	"github.com/rs/zerolog"
)

var activeStatuses = []models.BookingStatus{models.StatusPending, models.StatusConfirmed, models.StatusWaiting}

// BookingService owns the capacity rules. Every check-then-write runs in one store transaction.
type BookingService struct {
	store    domain.Store
	clock    clock.Clock
	notifier domain.WaitlistNotifier
	eventBus domain.EventPublisher
	logger   *zerolog.Logger
}

func NewBookingService(
	store domain.Store,
	clk clock.Clock,
	notifier domain.WaitlistNotifier,
	eventBus domain.EventPublisher,
	logger *zerolog.Logger,
) *BookingService {
	if clk == nil {
		clk = clock.System{}
	}
	return &BookingService{
		store:    store,
		clock:    clk,
		notifier: notifier,
		eventBus: eventBus,
		logger:   logger,
	}
}

// capacity is the booking picture of one lesson at a point in a transaction.
type capacity struct {
	lesson    *models.Lesson
	option    *models.ClassOption
	confirmed int
}

func (c *capacity) remaining() int {
	r := c.option.Places - c.confirmed
	if r < 0 {
		return 0
	}
	return r
}

func loadCapacity(ctx context.Context, q domain.Queries, lessonID int64, lock bool) (*capacity, error) {
	var (
		lesson *models.Lesson
		err    error
	)
	if lock {
		lesson, err = q.LockLesson(ctx, lessonID)
	} else {
		lesson, err = q.GetLesson(ctx, lessonID)
	}
	if err != nil {
		return nil, err
	}
	option, err := q.GetClassOption(ctx, lesson.ClassOptionID)
	if err != nil {
		return nil, err
	}
	confirmed, err := q.CountBookings(ctx, domain.BookingFilter{
		LessonID: lessonID,
		Statuses: []models.BookingStatus{models.StatusConfirmed},
	})
	if err != nil {
		return nil, err
	}
	return &capacity{lesson: lesson, option: option, confirmed: confirmed}, nil
}

func unavailable(kind domain.Kind, format string, args ...interface{}) *domain.Error {
	return domain.NewError(kind, domain.UnavailableMessage+": "+format, args...)
}

// checkOpen fails when the lesson no longer accepts bookings.
func (s *BookingService) checkOpen(c *capacity) error {
	return checkOpenAt(c, s.clock.Now())
}

func checkOpenAt(c *capacity, now time.Time) error {
	if !c.lesson.Active {
		return unavailable(domain.KindLessonClosed, "lesson %d is inactive", c.lesson.ID)
	}
	if c.lesson.IsClosed(now, c.confirmed) {
		return unavailable(domain.KindLessonClosed, "booking closed at %s",
			c.lesson.ClosesAt(c.confirmed).UTC().Format("2006-01-02T15:04:05Z"))
	}
	return nil
}

// checkPlace guards single-place bookings.
func checkPlace(c *capacity) error {
	if c.remaining() <= 0 {
		return unavailable(domain.KindLessonFull, "lesson is full")
	}
	return nil
}

// checkFits guards batch bookings, whatever the batch size.
func checkFits(c *capacity, qty int) error {
	if remaining := c.remaining(); qty > remaining {
		return unavailable(domain.KindInsufficientCapacity, "requested %d places, %d remaining", qty, remaining)
	}
	return nil
}

// syncLockOut persists the effective lock-out after the confirmed count changed.
func syncLockOut(ctx context.Context, q domain.Queries, c *capacity, confirmed int) error {
	effective := c.lesson.EffectiveLockOut(confirmed)
	if effective == c.lesson.LockOutTime {
		return nil
	}
	if err := q.UpdateLessonLockOut(ctx, c.lesson.ID, effective); err != nil {
		return err
	}
	c.lesson.LockOutTime = effective
	return nil
}

func requestedStatus(status models.BookingStatus) (models.BookingStatus, error) {
	if status == "" {
		return models.StatusConfirmed, nil
	}
	if !status.Valid() || status == models.StatusCancelled {
		return "", domain.NewError(domain.KindValidation, "cannot create a booking with status %q", status)
	}
	return status, nil
}

// CreateBooking books one place.
func (s *BookingService) CreateBooking(
	ctx context.Context,
	lessonID, userID int64,
	status models.BookingStatus,
) (*models.Booking, error) {
	bookings, err := s.createBookings(ctx, lessonID, userID, 1, status, checkPlace)
	if err != nil {
		return nil, err
	}
	return &bookings[0], nil
}

// CreateBookings books qty places for one user, all or nothing.
// A batch that does not fit fails with InsufficientCapacity, also for qty 1.
func (s *BookingService) CreateBookings(
	ctx context.Context,
	lessonID, userID int64,
	qty int,
	status models.BookingStatus,
) ([]models.Booking, error) {
	return s.createBookings(ctx, lessonID, userID, qty, status, func(c *capacity) error {
		return checkFits(c, qty)
	})
}

func (s *BookingService) createBookings(
	ctx context.Context,
	lessonID, userID int64,
	qty int,
	status models.BookingStatus,
	fits func(*capacity) error,
) ([]models.Booking, error) {
	if qty < 1 {
		return nil, s.reject(domain.NewError(domain.KindInvalidQuantity, "quantity must be at least 1, got %d", qty))
	}
	status, err := requestedStatus(status)
	if err != nil {
		return nil, s.reject(err)
	}

	userIDs := make([]int64, qty)
	for i := range userIDs {
		userIDs[i] = userID
	}

	var (
		created []models.Booking
		lesson  *models.Lesson
	)
	err = s.store.InTx(ctx, func(q domain.Queries) error {
		c, err := loadCapacity(ctx, q, lessonID, true)
		if err != nil {
			return err
		}
		if err := s.checkOpen(c); err != nil {
			return err
		}
		if status == models.StatusConfirmed {
			if err := fits(c); err != nil {
				return err
			}
		}
		created, err = insertBookings(ctx, q, c, userIDs, status)
		lesson = c.lesson
		return err
	})
	if err != nil {
		return nil, s.reject(err)
	}

	metrics.AddBookings(string(status), len(created))
	s.publishBookingEvent(events.EventBookingCreated, lesson, userID, userID, status, created)
	return created, nil
}

func insertBookings(
	ctx context.Context,
	q domain.Queries,
	c *capacity,
	userIDs []int64,
	status models.BookingStatus,
) ([]models.Booking, error) {
	created := make([]models.Booking, 0, len(userIDs))
	for _, uid := range userIDs {
		b := models.Booking{LessonID: c.lesson.ID, UserID: uid, Status: status}
		if err := q.CreateBooking(ctx, &b); err != nil {
			return nil, err
		}
		created = append(created, b)
	}
	if status == models.StatusConfirmed {
		c.confirmed += len(created)
		if err := syncLockOut(ctx, q, c, c.confirmed); err != nil {
			return nil, err
		}
	}
	return created, nil
}

// CancelBooking cancels a booking owned by the actor, or any booking for an admin.
// Waiting bookings hear about the freed place when the lesson was full.
func (s *BookingService) CancelBooking(ctx context.Context, bookingID int64, actor domain.Actor) (*models.Booking, error) {
	var (
		booking *models.Booking
		lesson  *models.Lesson
		waiting []models.Booking
	)
	err := s.store.InTx(ctx, func(q domain.Queries) error {
		found, err := q.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		c, err := loadCapacity(ctx, q, found.LessonID, true)
		if err != nil {
			return err
		}
		// Re-read under the lesson lock; a concurrent cancel may have committed meanwhile.
		b, err := q.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if b.UserID != actor.UserID && !actor.IsAdmin() {
			return domain.NewError(domain.KindForbidden, "booking %d belongs to another user", bookingID)
		}
		if !b.Status.CanTransitionTo(models.StatusCancelled) {
			return domain.NewError(domain.KindValidation, "booking %d is already %s", bookingID, b.Status)
		}
		wasFull := c.remaining() == 0

		if err := q.UpdateBookingStatus(ctx, b.ID, models.StatusCancelled); err != nil {
			return err
		}
		prev := b.Status
		b.Status = models.StatusCancelled
		booking, lesson = b, c.lesson

		if prev != models.StatusConfirmed {
			return nil
		}
		c.confirmed--
		if err := syncLockOut(ctx, q, c, c.confirmed); err != nil {
			return err
		}
		if wasFull {
			waiting, err = q.ListBookings(ctx, domain.BookingFilter{
				LessonID: b.LessonID,
				Statuses: []models.BookingStatus{models.StatusWaiting},
			})
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.IncBookingCancelled()
	s.publishBookingEvent(events.EventBookingCancelled, lesson, booking.UserID, actor.UserID,
		booking.Status, []models.Booking{*booking})
	if len(waiting) > 0 {
		s.notifyWaitlist(ctx, lesson, waiting)
	}
	return booking, nil
}

func (s *BookingService) notifyWaitlist(ctx context.Context, lesson *models.Lesson, waiting []models.Booking) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyLessonAvailable(context.WithoutCancel(ctx), lesson, waiting); err != nil {
		s.logger.Error().Err(err).Int64("lesson_id", lesson.ID).Int("waiting", len(waiting)).Msg("waitlist notify error")
		return
	}
	s.logger.Info().Int64("lesson_id", lesson.ID).Int("waiting", len(waiting)).Msg("waitlist notified")
}

// GetRemainingCapacity returns places minus confirmed bookings, never below zero.
func (s *BookingService) GetRemainingCapacity(ctx context.Context, lessonID int64) (int, error) {
	c, err := loadCapacity(ctx, s.store, lessonID, false)
	if err != nil {
		return 0, err
	}
	return c.remaining(), nil
}

// GetBookingStatus classifies the lesson for a requester; nil means anonymous.
func (s *BookingService) GetBookingStatus(ctx context.Context, lessonID int64, requesterID *int64) (models.LessonStatus, error) {
	c, err := loadCapacity(ctx, s.store, lessonID, false)
	if err != nil {
		return "", err
	}

	if requesterID != nil && c.option.IsChild() {
		booked, err := s.childrenBooked(ctx, lessonID, *requesterID)
		if err != nil {
			return "", err
		}
		if booked {
			return models.LessonChildrenBooked, nil
		}
	}

	if !c.lesson.Active || c.lesson.IsClosed(s.clock.Now(), c.confirmed) {
		return models.LessonClosed, nil
	}

	var hasWaiting bool
	if requesterID != nil {
		mine, err := s.store.ListBookings(ctx, domain.BookingFilter{
			LessonID: lessonID,
			UserIDs:  []int64{*requesterID},
			Statuses: []models.BookingStatus{models.StatusConfirmed, models.StatusWaiting},
		})
		if err != nil {
			return "", err
		}
		confirmed := 0
		for _, b := range mine {
			switch b.Status {
			case models.StatusConfirmed:
				confirmed++
			case models.StatusWaiting:
				hasWaiting = true
			}
		}
		switch {
		case confirmed >= 2:
			return models.LessonMultipleBooked, nil
		case confirmed == 1:
			return models.LessonBooked, nil
		}
	}

	if c.remaining() == 0 {
		if hasWaiting {
			return models.LessonWaiting, nil
		}
		return models.LessonWaitlist, nil
	}

	if c.option.TrialEnabled {
		if requesterID == nil {
			return models.LessonTrialable, nil
		}
		n, err := s.store.CountBookings(ctx, domain.BookingFilter{
			UserIDs:  []int64{*requesterID},
			Statuses: []models.BookingStatus{models.StatusConfirmed},
		})
		if err != nil {
			return "", err
		}
		if n == 0 {
			return models.LessonTrialable, nil
		}
	}
	return models.LessonActive, nil
}

func (s *BookingService) childrenBooked(ctx context.Context, lessonID, parentID int64) (bool, error) {
	children, err := s.store.ListChildren(ctx, parentID)
	if err != nil {
		return false, err
	}
	if len(children) == 0 {
		return false, nil
	}
	ids := make([]int64, len(children))
	for i, ch := range children {
		ids[i] = ch.ID
	}
	n, err := s.store.CountBookings(ctx, domain.BookingFilter{
		LessonID: lessonID,
		UserIDs:  ids,
		Statuses: []models.BookingStatus{models.StatusConfirmed},
	})
	return n > 0, err
}

// GetUserBookingsForLesson lists the user's non-cancelled bookings, oldest first.
func (s *BookingService) GetUserBookingsForLesson(ctx context.Context, lessonID, userID int64) ([]models.Booking, error) {
	if _, err := s.store.GetLesson(ctx, lessonID); err != nil {
		return nil, err
	}
	return s.store.ListBookings(ctx, domain.BookingFilter{
		LessonID: lessonID,
		UserIDs:  []int64{userID},
		Statuses: activeStatuses,
	})
}

// JoinWaitlist queues the user on an open, full lesson. A pending booking is replaced by the waiting one.
func (s *BookingService) JoinWaitlist(ctx context.Context, lessonID, userID int64) (*models.Booking, error) {
	var (
		booking *models.Booking
		lesson  *models.Lesson
	)
	err := s.store.InTx(ctx, func(q domain.Queries) error {
		c, err := loadCapacity(ctx, q, lessonID, true)
		if err != nil {
			return err
		}
		if err := s.checkOpen(c); err != nil {
			return err
		}
		if c.remaining() > 0 {
			return domain.NewError(domain.KindValidation, "lesson %d has %d places left, book it directly", lessonID, c.remaining())
		}

		mine, err := q.ListBookings(ctx, domain.BookingFilter{LessonID: lessonID, UserIDs: []int64{userID}, Statuses: activeStatuses})
		if err != nil {
			return err
		}
		for _, b := range mine {
			if b.Status != models.StatusPending {
				return domain.NewError(domain.KindValidation, "user %d already holds a %s booking for lesson %d", userID, b.Status, lessonID)
			}
		}
		for _, b := range mine {
			if err := q.UpdateBookingStatus(ctx, b.ID, models.StatusCancelled); err != nil {
				return err
			}
		}

		created, err := insertBookings(ctx, q, c, []int64{userID}, models.StatusWaiting)
		if err != nil {
			return err
		}
		booking, lesson = &created[0], c.lesson
		return nil
	})
	if err != nil {
		return nil, s.reject(err)
	}

	metrics.AddBookings(string(models.StatusWaiting), 1)
	s.publishBookingEvent(events.EventBookingCreated, lesson, userID, userID, models.StatusWaiting, []models.Booking{*booking})
	return booking, nil
}

// LeaveWaitlist cancels the user's waiting booking.
func (s *BookingService) LeaveWaitlist(ctx context.Context, lessonID, userID int64) (*models.Booking, error) {
	var booking *models.Booking
	err := s.store.InTx(ctx, func(q domain.Queries) error {
		if _, err := q.LockLesson(ctx, lessonID); err != nil {
			return err
		}
		waiting, err := q.ListBookings(ctx, domain.BookingFilter{
			LessonID: lessonID,
			UserIDs:  []int64{userID},
			Statuses: []models.BookingStatus{models.StatusWaiting},
		})
		if err != nil {
			return err
		}
		if len(waiting) == 0 {
			return domain.NewError(domain.KindNotFound, "user %d is not on the waitlist of lesson %d", userID, lessonID)
		}
		b := waiting[0]
		if err := q.UpdateBookingStatus(ctx, b.ID, models.StatusCancelled); err != nil {
			return err
		}
		b.Status = models.StatusCancelled
		booking = &b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return booking, nil
}

// CheckIn marks attendance, confirming or creating the user's booking first when needed.
func (s *BookingService) CheckIn(ctx context.Context, lessonID, userID int64) (*models.Booking, error) {
	var (
		booking *models.Booking
		lesson  *models.Lesson
	)
	err := s.store.InTx(ctx, func(q domain.Queries) error {
		c, err := loadCapacity(ctx, q, lessonID, true)
		if err != nil {
			return err
		}
		if c.option.IsChild() {
			return domain.NewError(domain.KindValidation, "lesson %d is a children class, use children booking", lessonID)
		}

		mine, err := q.ListBookings(ctx, domain.BookingFilter{LessonID: lessonID, UserIDs: []int64{userID}, Statuses: activeStatuses})
		if err != nil {
			return err
		}

		var target *models.Booking
		for i := range mine {
			if mine[i].Status == models.StatusConfirmed {
				target = &mine[i]
				break
			}
		}

		if target == nil {
			if err := s.checkOpen(c); err != nil {
				return err
			}
			if err := checkPlace(c); err != nil {
				return err
			}
			if len(mine) > 0 {
				target = &mine[0]
				if !target.Status.CanTransitionTo(models.StatusConfirmed) {
					return domain.NewError(domain.KindValidation, "booking %d cannot be confirmed from %s", target.ID, target.Status)
				}
				if err := q.UpdateBookingStatus(ctx, target.ID, models.StatusConfirmed); err != nil {
					return err
				}
				target.Status = models.StatusConfirmed
				c.confirmed++
				if err := syncLockOut(ctx, q, c, c.confirmed); err != nil {
					return err
				}
			} else {
				created, err := insertBookings(ctx, q, c, []int64{userID}, models.StatusConfirmed)
				if err != nil {
					return err
				}
				target = &created[0]
			}
		}

		if err := q.SetCheckedIn(ctx, target.ID, true); err != nil {
			return err
		}
		target.CheckedIn = true
		booking, lesson = target, c.lesson
		return nil
	})
	if err != nil {
		return nil, s.reject(err)
	}

	s.publishBookingEvent(events.EventBookingCheckedIn, lesson, userID, userID, booking.Status, []models.Booking{*booking})
	return booking, nil
}

// BookChildren books one confirmed place per child of the parent on a children class.
func (s *BookingService) BookChildren(ctx context.Context, lessonID, parentID int64, childIDs []int64) ([]models.Booking, error) {
	if len(childIDs) == 0 {
		return nil, s.reject(domain.NewError(domain.KindInvalidQuantity, "at least one child is required"))
	}

	var (
		created []models.Booking
		lesson  *models.Lesson
	)
	err := s.store.InTx(ctx, func(q domain.Queries) error {
		c, err := loadCapacity(ctx, q, lessonID, true)
		if err != nil {
			return err
		}
		if !c.option.IsChild() {
			return domain.NewError(domain.KindValidation, "lesson %d is not a children class", lessonID)
		}
		for _, id := range childIDs {
			child, err := q.GetUser(ctx, id)
			if err != nil {
				return err
			}
			if !child.IsChildOf(parentID) {
				return domain.NewError(domain.KindForbidden, "user %d is not a child of user %d", id, parentID)
			}
		}
		if err := s.checkOpen(c); err != nil {
			return err
		}
		if err := checkFits(c, len(childIDs)); err != nil {
			return err
		}
		created, err = insertBookings(ctx, q, c, childIDs, models.StatusConfirmed)
		lesson = c.lesson
		return err
	})
	if err != nil {
		return nil, s.reject(err)
	}

	metrics.AddBookings(string(models.StatusConfirmed), len(created))
	s.publishBookingEvent(events.EventBookingCreated, lesson, parentID, parentID, models.StatusConfirmed, created)
	return created, nil
}

func (s *BookingService) reject(err error) error {
	var typed *domain.Error
	if errors.As(err, &typed) && typed.Kind != domain.KindStorage {
		metrics.IncBookingRejected(string(typed.Kind))
	}
	return err
}

func (s *BookingService) publishBookingEvent(
	eventType string,
	lesson *models.Lesson,
	userID, changedBy int64,
	status models.BookingStatus,
	bookings []models.Booking,
) {
	if s.eventBus == nil {
		return
	}
	ids := make([]int64, len(bookings))
	for i, b := range bookings {
		ids[i] = b.ID
	}
	payload := events.BookingEventPayload{
		BookingIDs:  ids,
		LessonID:    lesson.ID,
		UserID:      userID,
		Status:      string(status),
		LessonStart: lesson.StartTime,
		ChangedByID: changedBy,
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("lesson_id", lesson.ID).Msg("publish event error")
	}
}
