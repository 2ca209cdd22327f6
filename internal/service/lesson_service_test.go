package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"studiobook/internal/clock"
	"studiobook/internal/domain"
	"studiobook/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetByIDForBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	opt := f.option(t, "Private", 1)
	start := f.now.Add(48 * time.Hour)
	lesson := f.lesson(t, opt.ID, start, 30)

	d, err := f.lessons.GetByIDForBooking(ctx, lesson.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Remaining)
	assert.Equal(t, 30, d.Lesson.LockOutTime)
	assert.Equal(t, start.Add(-30*time.Minute), d.ClosesAt)

	_, err = f.lessons.GetByIDForBooking(ctx, 999)
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = f.bookings.CreateBooking(ctx, lesson.ID, 1, models.StatusConfirmed)
	require.NoError(t, err)

	_, err = f.lessons.GetByIDForBooking(ctx, lesson.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrLessonFull))
	assert.Contains(t, err.Error(), "no longer available for booking")

	d, err = f.lessons.GetLesson(ctx, lesson.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, d.Lesson.LockOutTime)
	assert.Equal(t, 1, d.Confirmed)
	assert.Equal(t, 0, d.Remaining)
}

func TestGetByIDForBooking_Closed(t *testing.T) {
	f := newFixture(t)
	opt := f.option(t, "Vinyasa", 10)
	start := f.now.Add(48 * time.Hour)
	lesson := f.lesson(t, opt.ID, start, 60)

	f.setNow(start.Add(-30 * time.Minute))
	_, err := f.lessons.GetByIDForBooking(context.Background(), lesson.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrLessonClosed))
	assert.Contains(t, err.Error(), "no longer available for booking")
}

func TestListLessons(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	opt := f.option(t, "Vinyasa", 10)
	zone := clock.MustLoad("Europe/Dublin")

	// 2025-06-10 and 2025-06-11 at 09:00 Dublin (08:00Z).
	d10 := zone.At(clock.Date{Year: 2025, Month: time.June, Day: 10}, clock.WallClock{Hour: 9})
	d11 := zone.At(clock.Date{Year: 2025, Month: time.June, Day: 11}, clock.WallClock{Hour: 9})
	l10 := f.lesson(t, opt.ID, d10, 0)
	l11 := f.lesson(t, opt.ID, d11, 0)

	_, err := f.bookings.CreateBookings(ctx, l11.ID, 1, 4, models.StatusConfirmed)
	require.NoError(t, err)

	all, err := f.lessons.ListLessons(ctx, LessonQuery{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, l10.ID, all[0].Lesson.ID)
	assert.Equal(t, "Vinyasa", all[0].ClassOption.Name)
	assert.Equal(t, 6, all[1].Remaining)

	one, err := f.lessons.ListLessons(ctx, LessonQuery{
		From: clock.Date{Year: 2025, Month: time.June, Day: 11},
		To:   clock.Date{Year: 2025, Month: time.June, Day: 11},
	})
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, l11.ID, one[0].Lesson.ID)
}

func TestDeleteLesson(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	opt := f.option(t, "Vinyasa", 10)
	booked := f.lesson(t, opt.ID, f.now.Add(48*time.Hour), 0)
	free := f.lesson(t, opt.ID, f.now.Add(72*time.Hour), 0)

	_, err := f.bookings.CreateBooking(ctx, booked.ID, 1, models.StatusConfirmed)
	require.NoError(t, err)
	_, err = f.bookings.CreateBooking(ctx, free.ID, 1, models.StatusPending)
	require.NoError(t, err)

	err = f.lessons.DeleteLesson(ctx, booked.ID)
	assert.True(t, errors.Is(err, domain.ErrValidation))

	require.NoError(t, f.lessons.DeleteLesson(ctx, free.ID))
	_, err = f.db.GetLesson(ctx, free.ID)
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	err = f.lessons.DeleteLesson(ctx, free.ID)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestRoster(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	opt := f.option(t, "Vinyasa", 10)
	lesson := f.lesson(t, opt.ID, f.now.Add(48*time.Hour), 0)
	ann := f.user(t, "Ann", nil)

	_, err := f.bookings.CreateBooking(ctx, lesson.ID, ann.ID, models.StatusConfirmed)
	require.NoError(t, err)
	_, err = f.bookings.CreateBooking(ctx, lesson.ID, 777, models.StatusPending)
	require.NoError(t, err)

	d, entries, err := f.lessons.Roster(ctx, lesson.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Confirmed)
	require.Len(t, entries, 2)
	require.NotNil(t, entries[0].User)
	assert.Equal(t, "Ann", entries[0].User.Name)
	assert.Nil(t, entries[1].User)
}

func TestClassOptionService(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	logger := zerolog.Nop()
	svc := NewClassOptionService(f.db, &logger)

	err := svc.Create(ctx, &models.ClassOption{Name: "", Places: 5})
	assert.True(t, errors.Is(err, domain.ErrValidation))

	used := &models.ClassOption{Name: "Vinyasa", Places: 10}
	require.NoError(t, svc.Create(ctx, used))
	unused := &models.ClassOption{Name: "Yin", Places: 8}
	require.NoError(t, svc.Create(ctx, unused))
	assert.Equal(t, models.ClassTypeAdult, used.Type)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	f.lesson(t, used.ID, f.now.Add(48*time.Hour), 0)

	err = svc.Delete(ctx, used.ID)
	assert.True(t, errors.Is(err, domain.ErrValidation))

	require.NoError(t, svc.Delete(ctx, unused.ID))
	_, err = svc.Get(ctx, unused.ID)
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	used.Places = 12
	require.NoError(t, svc.Update(ctx, used))
	got, err := svc.Get(ctx, used.ID)
	require.NoError(t, err)
	assert.Equal(t, 12, got.Places)

	err = svc.Delete(ctx, 999)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}
