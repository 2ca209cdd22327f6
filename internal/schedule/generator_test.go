package schedule

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"studiobook/internal/clock"
	"studiobook/internal/database"
	"studiobook/internal/domain"
	"studiobook/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var dublin = clock.MustLoad("Europe/Dublin")

type fixture struct {
	db    *database.DB
	gen   *Generator
	class *models.ClassOption
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "schedule.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	class := &models.ClassOption{Name: "Vinyasa", Places: 10, Type: models.ClassTypeAdult}
	require.NoError(t, db.CreateClassOption(context.Background(), class))

	return &fixture{db: db, gen: NewGenerator(db, dublin, &logger), class: class}
}

func date(y int, m time.Month, d int) clock.Date {
	return clock.Date{Year: y, Month: m, Day: d}
}

func slot(startHour, endHour int, location string) models.TimeSlot {
	return models.TimeSlot{
		Start:    clock.WallClock{Hour: startHour},
		End:      clock.WallClock{Hour: endHour},
		Location: location,
	}
}

// template with the same slot on every weekday in days.
func (f *fixture) template(s models.TimeSlot, days ...int) *models.ScheduleTemplate {
	tpl := &models.ScheduleTemplate{DefaultClassOptionID: f.class.ID}
	for _, d := range days {
		tpl.Days[d] = models.ScheduleDay{Active: true, Slots: []models.TimeSlot{s}}
	}
	return tpl
}

func (f *fixture) lessons(t *testing.T) []models.Lesson {
	t.Helper()
	lessons, err := f.db.ListLessons(context.Background(), domain.LessonFilter{})
	require.NoError(t, err)
	return lessons
}

func TestGenerate_CreatesLessonsOnMatchingWeekdays(t *testing.T) {
	f := newFixture(t)
	tpl := f.template(slot(9, 10, "Studio A"), 0, 2)
	lockOut := 45
	tpl.LockOutTime = &lockOut

	// Monday 2 June to Sunday 15 June 2025
	res, err := f.gen.Generate(context.Background(), tpl, date(2025, time.June, 2), date(2025, time.June, 15), false)
	require.NoError(t, err)

	require.Len(t, res.Created, 4)
	assert.Empty(t, res.Conflicts)
	assert.Empty(t, res.Skipped)

	wantDays := []clock.Date{date(2025, 6, 2), date(2025, 6, 4), date(2025, 6, 9), date(2025, 6, 11)}
	for i, c := range res.Created {
		assert.Equal(t, wantDays[i], c.Date)
	}

	lessons := f.lessons(t)
	require.Len(t, lessons, 4)
	for _, l := range lessons {
		assert.Equal(t, f.class.ID, l.ClassOptionID)
		assert.Equal(t, "Studio A", l.Location)
		assert.Equal(t, 45, l.LockOutTime)
		assert.Equal(t, 45, l.OriginalLockOutTime)
		assert.True(t, l.Active)
		assert.Equal(t, clock.WallClock{Hour: 9}, dublin.WallClockOf(l.StartTime))
		assert.Equal(t, dublin.CivilDate(l.StartTime), dublin.CivilDate(l.Date))
	}
}

func TestGenerate_KeepsLocalTimeAcrossDST(t *testing.T) {
	f := newFixture(t)
	tpl := f.template(slot(9, 10, ""), 0)

	res, err := f.gen.Generate(context.Background(), tpl, date(2025, time.March, 24), date(2025, time.March, 31), false)
	require.NoError(t, err)
	require.Len(t, res.Created, 2)

	assert.Equal(t, time.Date(2025, 3, 24, 9, 0, 0, 0, time.UTC), res.Created[0].Start.UTC())
	assert.Equal(t, time.Date(2025, 3, 31, 8, 0, 0, 0, time.UTC), res.Created[1].Start.UTC())
}

func TestGenerate_Idempotent(t *testing.T) {
	f := newFixture(t)
	tpl := f.template(slot(18, 19, "Mat 1"), 0, 1, 2, 3, 4)
	ctx := context.Background()

	first, err := f.gen.Generate(ctx, tpl, date(2025, 6, 2), date(2025, 6, 8), false)
	require.NoError(t, err)
	require.Len(t, first.Created, 5)
	before := f.lessons(t)

	second, err := f.gen.Generate(ctx, tpl, date(2025, 6, 2), date(2025, 6, 8), false)
	require.NoError(t, err)
	assert.Empty(t, second.Created)
	assert.Empty(t, second.Conflicts)
	assert.Equal(t, 5, second.SkippedFor(models.SkipExists))

	assert.Equal(t, before, f.lessons(t))
}

func TestGenerate_SkipDateHonored(t *testing.T) {
	f := newFixture(t)
	s := slot(7, 8, "")
	s.SkipDates = []clock.Date{date(2025, 6, 9)}
	tpl := f.template(s, 0)

	for run := 0; run < 3; run++ {
		res, err := f.gen.Generate(context.Background(), tpl, date(2025, 6, 2), date(2025, 6, 16), false)
		require.NoError(t, err)
		assert.Equal(t, 1, res.SkippedFor(models.SkipExplicit))
	}

	lessons := f.lessons(t)
	require.Len(t, lessons, 2)
	for _, l := range lessons {
		assert.NotEqual(t, date(2025, 6, 9), dublin.CivilDate(l.StartTime))
	}
}

func TestGenerate_ConflictIsNonDestructive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	manual := &models.Lesson{
		Date:          dublin.StartOfDay(date(2025, 6, 2)),
		StartTime:     dublin.WallClockToInstant(date(2025, 6, 2), 9, 30),
		EndTime:       dublin.WallClockToInstant(date(2025, 6, 2), 10, 30),
		ClassOptionID: f.class.ID,
		Location:      "Garden",
		Active:        true,
	}
	require.NoError(t, f.db.CreateLesson(ctx, manual))

	tpl := f.template(slot(9, 10, "Studio A"), 0)
	res, err := f.gen.Generate(ctx, tpl, date(2025, 6, 2), date(2025, 6, 9), false)
	require.NoError(t, err)

	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, manual.ID, res.Conflicts[0].LessonID)
	assert.Equal(t, date(2025, 6, 2), res.Conflicts[0].Date)
	require.Len(t, res.Created, 1)
	assert.Equal(t, date(2025, 6, 9), res.Created[0].Date)

	got, err := f.db.GetLesson(ctx, manual.ID)
	require.NoError(t, err)
	assert.Equal(t, "Garden", got.Location)
	assert.Len(t, f.lessons(t), 2)
}

func TestGenerate_ClearExistingPreservesBookedLessons(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tpl := f.template(slot(12, 13, "Main"), 0, 1, 2, 3, 4)

	first, err := f.gen.Generate(ctx, tpl, date(2025, 6, 2), date(2025, 6, 6), false)
	require.NoError(t, err)
	require.Len(t, first.Created, 5)

	booked := first.Created[2].LessonID
	require.NoError(t, f.db.CreateBooking(ctx, &models.Booking{LessonID: booked, UserID: 7, Status: models.StatusConfirmed}))
	// a waiting booking does not protect a lesson
	require.NoError(t, f.db.CreateBooking(ctx, &models.Booking{LessonID: first.Created[0].LessonID, UserID: 8, Status: models.StatusWaiting}))

	res, err := f.gen.Generate(ctx, tpl, date(2025, 6, 2), date(2025, 6, 6), true)
	require.NoError(t, err)

	assert.Equal(t, 4, res.Cleared)
	assert.Equal(t, []int64{booked}, res.Retained)
	assert.Len(t, res.Created, 4)
	assert.Equal(t, 1, res.SkippedFor(models.SkipExists))

	for _, c := range first.Created {
		_, err := f.db.GetLesson(ctx, c.LessonID)
		if c.LessonID == booked {
			assert.NoError(t, err)
		} else {
			assert.True(t, errors.Is(err, domain.ErrNotFound))
		}
	}

	n, err := f.db.CountBookings(ctx, domain.BookingFilter{LessonID: booked})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, f.lessons(t), 5)
}

// tracingStore records the lesson lock and booking count calls made inside transactions.
type tracingStore struct {
	domain.Store
	calls []string
}

type tracingQueries struct {
	domain.Queries
	s *tracingStore
}

func (s *tracingStore) InTx(ctx context.Context, fn func(q domain.Queries) error) error {
	return s.Store.InTx(ctx, func(q domain.Queries) error {
		return fn(tracingQueries{Queries: q, s: s})
	})
}

func (q tracingQueries) LockLesson(ctx context.Context, id int64) (*models.Lesson, error) {
	q.s.calls = append(q.s.calls, "lock")
	return q.Queries.LockLesson(ctx, id)
}

func (q tracingQueries) CountBookings(ctx context.Context, f domain.BookingFilter) (int, error) {
	q.s.calls = append(q.s.calls, "count")
	return q.Queries.CountBookings(ctx, f)
}

func (q tracingQueries) DeleteLesson(ctx context.Context, id int64) error {
	q.s.calls = append(q.s.calls, "delete")
	return q.Queries.DeleteLesson(ctx, id)
}

func TestGenerate_ClearLocksLessonBeforeCheckingBookings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.gen.Generate(ctx, f.template(slot(7, 8, ""), 0), date(2025, 6, 2), date(2025, 6, 2), false)
	require.NoError(t, err)

	logger := zerolog.Nop()
	traced := &tracingStore{Store: f.db}
	res, err := NewGenerator(traced, dublin, &logger).Generate(ctx, &models.ScheduleTemplate{}, date(2025, 6, 2), date(2025, 6, 2), true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Cleared)
	assert.Equal(t, []string{"lock", "count", "delete"}, traced.calls)
}

func TestGenerate_ClearExistingIsTenantScoped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	other := f.template(slot(6, 7, ""), 0)
	other.TenantID = "south"
	_, err := f.gen.Generate(ctx, other, date(2025, 6, 2), date(2025, 6, 2), false)
	require.NoError(t, err)

	tpl := f.template(slot(20, 21, ""), 0)
	tpl.TenantID = "north"
	_, err = f.gen.Generate(ctx, tpl, date(2025, 6, 2), date(2025, 6, 2), false)
	require.NoError(t, err)

	res, err := f.gen.Generate(ctx, tpl, date(2025, 6, 2), date(2025, 6, 2), true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Cleared)

	south, err := f.db.ListLessons(ctx, domain.LessonFilter{TenantID: "south"})
	require.NoError(t, err)
	assert.Len(t, south, 1)
}

func TestGenerate_GlobalTemplateLeavesTenantLessonsAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	acme := &models.Lesson{
		TenantID:      "acme",
		Date:          dublin.StartOfDay(date(2025, 3, 10)),
		StartTime:     dublin.WallClockToInstant(date(2025, 3, 10), 18, 0),
		EndTime:       dublin.WallClockToInstant(date(2025, 3, 10), 19, 0),
		ClassOptionID: f.class.ID,
		Active:        true,
	}
	require.NoError(t, f.db.CreateLesson(ctx, acme))

	global := f.template(slot(18, 19, ""), 0)
	res, err := f.gen.Generate(ctx, global, date(2025, 3, 10), date(2025, 3, 10), true)
	require.NoError(t, err)
	assert.Zero(t, res.Cleared)
	assert.Empty(t, res.Conflicts)
	assert.Zero(t, res.SkippedFor(models.SkipExists))
	require.Len(t, res.Created, 1)

	got, err := f.db.GetLesson(ctx, acme.ID)
	require.NoError(t, err)
	assert.Equal(t, "acme", got.TenantID)

	mine, err := f.db.ListLessons(ctx, domain.LessonFilter{TenantScoped: true})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, res.Created[0].LessonID, mine[0].ID)
	assert.Len(t, f.lessons(t), 2)

	// A second clearing run only touches the global tenant.
	res, err = f.gen.Generate(ctx, global, date(2025, 3, 10), date(2025, 3, 10), true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Cleared)
	require.Len(t, res.Created, 1)
	_, err = f.db.GetLesson(ctx, acme.ID)
	assert.NoError(t, err)
}

func TestGenerate_SlotOverrides(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	kids := &models.ClassOption{Name: "Kids", Places: 6, Type: models.ClassTypeChild}
	require.NoError(t, f.db.CreateClassOption(ctx, kids))

	instructor := int64(5)
	zero := 0
	s := slot(16, 17, "Dojo")
	s.ClassOptionID = &kids.ID
	s.InstructorID = &instructor
	s.LockOutTime = &zero

	tplLockOut := 60
	tpl := f.template(s, 5)
	tpl.LockOutTime = &tplLockOut
	tpl.TenantID = "north"

	res, err := f.gen.Generate(ctx, tpl, date(2025, 6, 7), date(2025, 6, 7), false)
	require.NoError(t, err)
	require.Len(t, res.Created, 1)

	l, err := f.db.GetLesson(ctx, res.Created[0].LessonID)
	require.NoError(t, err)
	assert.Equal(t, kids.ID, l.ClassOptionID)
	assert.Equal(t, 0, l.LockOutTime)
	require.NotNil(t, l.InstructorID)
	assert.Equal(t, instructor, *l.InstructorID)
	assert.Equal(t, "north", l.TenantID)
}

func TestGenerate_FailedSlotIsSkipped(t *testing.T) {
	f := newFixture(t)
	missing := int64(999)
	broken := slot(8, 9, "")
	broken.ClassOptionID = &missing

	tpl := f.template(slot(10, 11, ""), 0)
	tpl.Days[0].Slots = append(tpl.Days[0].Slots, broken)

	res, err := f.gen.Generate(context.Background(), tpl, date(2025, 6, 2), date(2025, 6, 2), false)
	require.NoError(t, err)
	assert.Len(t, res.Created, 1)
	assert.Equal(t, 1, res.SkippedFor(models.SkipFailed))
}

func TestGenerate_RespectsTemplateWindow(t *testing.T) {
	f := newFixture(t)
	tpl := f.template(slot(9, 10, ""), 0)
	tpl.StartDate = date(2025, 6, 9)
	tpl.EndDate = date(2025, 6, 15)

	res, err := f.gen.Generate(context.Background(), tpl, date(2025, 6, 1), date(2025, 6, 30), false)
	require.NoError(t, err)
	require.Len(t, res.Created, 1)
	assert.Equal(t, date(2025, 6, 9), res.Created[0].Date)
}

func TestGenerate_Validation(t *testing.T) {
	f := newFixture(t)
	tpl := f.template(slot(9, 10, ""), 0)

	_, err := f.gen.Generate(context.Background(), tpl, date(2025, 6, 9), date(2025, 6, 2), false)
	assert.True(t, errors.Is(err, domain.ErrValidation))

	backwards := f.template(slot(10, 9, ""), 0)
	_, err = f.gen.Generate(context.Background(), backwards, date(2025, 6, 2), date(2025, 6, 9), false)
	assert.True(t, errors.Is(err, domain.ErrValidation))

	_, err = f.gen.Generate(context.Background(), nil, date(2025, 6, 2), date(2025, 6, 9), false)
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestGenerate_Cancelled(t *testing.T) {
	f := newFixture(t)
	tpl := f.template(slot(9, 10, ""), 0, 1, 2, 3, 4, 5, 6)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.gen.Generate(ctx, tpl, date(2025, 6, 1), date(2025, 12, 31), false)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Empty(t, res.Created)

	// a later run converges
	res, err = f.gen.Generate(context.Background(), tpl, date(2025, 6, 1), date(2025, 6, 7), false)
	require.NoError(t, err)
	assert.Len(t, res.Created, 7)
}
