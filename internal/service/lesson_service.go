package service

import (
	"context"
	"errors"
	"time"

	"studiobook/internal/clock"
	"studiobook/internal/domain"
	"studiobook/internal/models"

	"github.com/rs/zerolog"
)

// LessonDetails is a lesson with its capacity picture. Lesson.LockOutTime holds the effective value.
type LessonDetails struct {
	Lesson      models.Lesson      `json:"lesson"`
	ClassOption models.ClassOption `json:"class_option"`
	Confirmed   int                `json:"confirmed"`
	Remaining   int                `json:"remaining"`
	ClosesAt    time.Time          `json:"closes_at"`
}

// RosterEntry is one booking of a lesson with its user, when known.
type RosterEntry struct {
	Booking models.Booking `json:"booking"`
	User    *models.User   `json:"user,omitempty"`
}

// LessonQuery selects lessons by civil dates in the studio zone. Zero dates are open ends.
type LessonQuery struct {
	TenantID   string
	From       clock.Date
	To         clock.Date
	ActiveOnly bool
}

type LessonService struct {
	store  domain.Store
	zone   *clock.Zone
	clock  clock.Clock
	logger *zerolog.Logger
}

func NewLessonService(store domain.Store, zone *clock.Zone, clk clock.Clock, logger *zerolog.Logger) *LessonService {
	if clk == nil {
		clk = clock.System{}
	}
	return &LessonService{store: store, zone: zone, clock: clk, logger: logger}
}

func details(c *capacity) *LessonDetails {
	lesson := *c.lesson
	lesson.LockOutTime = lesson.EffectiveLockOut(c.confirmed)
	return &LessonDetails{
		Lesson:      lesson,
		ClassOption: *c.option,
		Confirmed:   c.confirmed,
		Remaining:   c.remaining(),
		ClosesAt:    c.lesson.ClosesAt(c.confirmed),
	}
}

func (s *LessonService) GetLesson(ctx context.Context, id int64) (*LessonDetails, error) {
	c, err := loadCapacity(ctx, s.store, id, false)
	if err != nil {
		return nil, err
	}
	return details(c), nil
}

// GetByIDForBooking returns the lesson only while it still accepts a confirmed booking.
func (s *LessonService) GetByIDForBooking(ctx context.Context, id int64) (*LessonDetails, error) {
	c, err := loadCapacity(ctx, s.store, id, false)
	if err != nil {
		return nil, err
	}
	if err := checkOpenAt(c, s.clock.Now()); err != nil {
		return nil, err
	}
	if err := checkPlace(c); err != nil {
		return nil, err
	}
	return details(c), nil
}

func (s *LessonService) ListLessons(ctx context.Context, query LessonQuery) ([]LessonDetails, error) {
	filter := domain.LessonFilter{TenantID: query.TenantID, ActiveOnly: query.ActiveOnly}
	if !query.From.IsZero() {
		filter.StartFrom = s.zone.StartOfDay(query.From)
	}
	if !query.To.IsZero() {
		filter.StartBefore = s.zone.StartOfDay(query.To.AddDays(1))
	}

	lessons, err := s.store.ListLessons(ctx, filter)
	if err != nil {
		return nil, err
	}

	options := make(map[int64]*models.ClassOption)
	out := make([]LessonDetails, 0, len(lessons))
	for i := range lessons {
		l := &lessons[i]
		option, ok := options[l.ClassOptionID]
		if !ok {
			option, err = s.store.GetClassOption(ctx, l.ClassOptionID)
			if err != nil {
				return nil, err
			}
			options[l.ClassOptionID] = option
		}
		confirmed, err := s.store.CountBookings(ctx, domain.BookingFilter{
			LessonID: l.ID,
			Statuses: []models.BookingStatus{models.StatusConfirmed},
		})
		if err != nil {
			return nil, err
		}
		out = append(out, *details(&capacity{lesson: l, option: option, confirmed: confirmed}))
	}
	return out, nil
}

// DeleteLesson removes a lesson with no confirmed bookings. Its other bookings go with it.
func (s *LessonService) DeleteLesson(ctx context.Context, id int64) error {
	return s.store.InTx(ctx, func(q domain.Queries) error {
		c, err := loadCapacity(ctx, q, id, true)
		if err != nil {
			return err
		}
		if c.confirmed > 0 {
			return domain.NewError(domain.KindValidation, "lesson %d has %d confirmed bookings", id, c.confirmed)
		}
		return q.DeleteLesson(ctx, id)
	})
}

// Roster lists the lesson's non-cancelled bookings with their users.
func (s *LessonService) Roster(ctx context.Context, id int64) (*LessonDetails, []RosterEntry, error) {
	c, err := loadCapacity(ctx, s.store, id, false)
	if err != nil {
		return nil, nil, err
	}
	bookings, err := s.store.ListBookings(ctx, domain.BookingFilter{LessonID: id, Statuses: activeStatuses})
	if err != nil {
		return nil, nil, err
	}

	users := make(map[int64]*models.User)
	entries := make([]RosterEntry, 0, len(bookings))
	for _, b := range bookings {
		user, ok := users[b.UserID]
		if !ok {
			user, err = s.store.GetUser(ctx, b.UserID)
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				return nil, nil, err
			}
			users[b.UserID] = user
		}
		entries = append(entries, RosterEntry{Booking: b, User: user})
	}
	return details(c), entries, nil
}
