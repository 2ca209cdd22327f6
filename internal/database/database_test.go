package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"studiobook/internal/clock"
	"studiobook/internal/domain"
	"studiobook/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func createClassOption(t *testing.T, db *DB, name string, places int) *models.ClassOption {
	t.Helper()
	c := &models.ClassOption{Name: name, Places: places, Type: models.ClassTypeAdult}
	require.NoError(t, db.CreateClassOption(context.Background(), c))
	return c
}

func createLesson(t *testing.T, db *DB, classID int64, start time.Time, location string) *models.Lesson {
	t.Helper()
	l := &models.Lesson{
		Date:          time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC),
		StartTime:     start,
		EndTime:       start.Add(time.Hour),
		ClassOptionID: classID,
		Location:      location,
		LockOutTime:   15,
		Active:        true,
	}
	require.NoError(t, db.CreateLesson(context.Background(), l))
	return l
}

func TestNewDB_DirectoryCreation(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "test.db")
	logger := zerolog.Nop()

	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer db.Close()

	assert.FileExists(t, dbPath)
	assert.Equal(t, dbPath, db.Path())
	assert.NoError(t, db.PingContext(context.Background()))
}

func TestNewDB_Memory(t *testing.T) {
	logger := zerolog.Nop()
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	defer db.Close()

	c := createClassOption(t, db, "Yoga", 5)
	got, err := db.GetClassOption(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Yoga", got.Name)
}

func TestClassOptions(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	seeded := &models.ClassOption{ID: 42, Name: "Kids BJJ", Places: 12, Type: models.ClassTypeChild, TrialEnabled: true}
	require.NoError(t, db.CreateClassOption(ctx, seeded))
	assert.Equal(t, int64(42), seeded.ID)

	other := createClassOption(t, db, "Adults BJJ", 20)

	got, err := db.GetClassOption(ctx, 42)
	require.NoError(t, err)
	assert.True(t, got.IsChild())
	assert.True(t, got.TrialEnabled)

	options, err := db.ListClassOptions(ctx)
	require.NoError(t, err)
	require.Len(t, options, 2)
	assert.Equal(t, "Adults BJJ", options[0].Name)

	other.Places = 25
	require.NoError(t, db.UpdateClassOption(ctx, other))
	got, err = db.GetClassOption(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, 25, got.Places)

	err = db.CreateClassOption(ctx, &models.ClassOption{Name: "Adults BJJ", Places: 3})
	assert.True(t, errors.Is(err, domain.ErrStorage), "duplicate name")

	_, err = db.GetClassOption(ctx, 999)
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	require.NoError(t, db.DeleteClassOption(ctx, other.ID))
	assert.True(t, errors.Is(db.DeleteClassOption(ctx, other.ID), domain.ErrNotFound))
}

func TestUsers(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	parent := &models.User{Name: "Parent", Email: "parent@example.com"}
	require.NoError(t, db.CreateUser(ctx, parent))
	assert.Equal(t, models.RoleUser, parent.Role)

	child := &models.User{Name: "Child", ParentID: &parent.ID}
	require.NoError(t, db.CreateUser(ctx, child))

	children, err := db.ListChildren(ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.True(t, children[0].IsChildOf(parent.ID))

	got, err := db.GetUser(ctx, parent.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ParentID)
	assert.Equal(t, "parent@example.com", got.Email)

	_, err = db.GetUser(ctx, 999)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestLessons_Filters(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	c := createClassOption(t, db, "Yoga", 10)

	base := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	morning := createLesson(t, db, c.ID, base, "Studio A")
	noon := createLesson(t, db, c.ID, base.Add(3*time.Hour), "Studio B")
	tenant := &models.Lesson{
		TenantID: "north", Date: morning.Date, StartTime: base.Add(6 * time.Hour), EndTime: base.Add(7 * time.Hour),
		ClassOptionID: c.ID, Active: true,
	}
	require.NoError(t, db.CreateLesson(ctx, tenant))

	got, err := db.GetLesson(ctx, morning.ID)
	require.NoError(t, err)
	assert.True(t, got.StartTime.Equal(base))
	assert.Equal(t, 15, got.OriginalLockOutTime)

	all, err := db.ListLessons(ctx, domain.LessonFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	locB := "Studio B"
	byLoc, err := db.ListLessons(ctx, domain.LessonFilter{Location: &locB})
	require.NoError(t, err)
	require.Len(t, byLoc, 1)
	assert.Equal(t, noon.ID, byLoc[0].ID)

	contained, err := db.ListLessons(ctx, domain.LessonFilter{StartFrom: base, EndBy: base.Add(time.Hour)})
	require.NoError(t, err)
	require.Len(t, contained, 1)
	assert.Equal(t, morning.ID, contained[0].ID)

	overlapping, err := db.ListLessons(ctx, domain.LessonFilter{
		StartBefore: base.Add(3*time.Hour + 30*time.Minute),
		EndAfter:    base.Add(30 * time.Minute),
	})
	require.NoError(t, err)
	assert.Len(t, overlapping, 2)

	scoped, err := db.ListLessons(ctx, domain.LessonFilter{TenantID: "north"})
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, tenant.ID, scoped[0].ID)

	byClass, err := db.ListLessons(ctx, domain.LessonFilter{ClassOptionID: c.ID + 1})
	require.NoError(t, err)
	assert.Empty(t, byClass)

	require.NoError(t, db.UpdateLessonLockOut(ctx, morning.ID, 0))
	got, err = db.GetLesson(ctx, morning.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.LockOutTime)
	assert.Equal(t, 15, got.OriginalLockOutTime)
}

func TestLessons_DeleteCascadesBookings(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	c := createClassOption(t, db, "Yoga", 10)
	l := createLesson(t, db, c.ID, time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC), "")

	b := &models.Booking{LessonID: l.ID, UserID: 1, Status: models.StatusConfirmed}
	require.NoError(t, db.CreateBooking(ctx, b))

	require.NoError(t, db.DeleteLesson(ctx, l.ID))

	_, err := db.GetBooking(ctx, b.ID)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	assert.True(t, errors.Is(db.DeleteLesson(ctx, l.ID), domain.ErrNotFound))

	// referenced class options cannot be removed
	l2 := createLesson(t, db, c.ID, time.Date(2025, 6, 3, 9, 0, 0, 0, time.UTC), "")
	assert.Error(t, db.DeleteClassOption(ctx, c.ID))
	require.NoError(t, db.DeleteLesson(ctx, l2.ID))
}

func TestBookings(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	c := createClassOption(t, db, "Yoga", 10)
	l := createLesson(t, db, c.ID, time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC), "")

	statuses := []models.BookingStatus{models.StatusConfirmed, models.StatusWaiting, models.StatusCancelled, models.StatusWaiting}
	var ids []int64
	for i, st := range statuses {
		b := &models.Booking{LessonID: l.ID, UserID: int64(i + 1), Status: st}
		require.NoError(t, db.CreateBooking(ctx, b))
		ids = append(ids, b.ID)
	}

	waiting, err := db.ListBookings(ctx, domain.BookingFilter{LessonID: l.ID, Statuses: []models.BookingStatus{models.StatusWaiting}})
	require.NoError(t, err)
	require.Len(t, waiting, 2)
	assert.Equal(t, ids[1], waiting[0].ID)
	assert.Equal(t, ids[3], waiting[1].ID)

	n, err := db.CountBookings(ctx, domain.BookingFilter{LessonID: l.ID, Statuses: []models.BookingStatus{models.StatusConfirmed}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	byUsers, err := db.ListBookings(ctx, domain.BookingFilter{UserIDs: []int64{1, 3}})
	require.NoError(t, err)
	assert.Len(t, byUsers, 2)

	require.NoError(t, db.UpdateBookingStatus(ctx, ids[1], models.StatusConfirmed))
	require.NoError(t, db.SetCheckedIn(ctx, ids[1], true))
	got, err := db.GetBooking(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, got.Status)
	assert.True(t, got.CheckedIn)

	assert.True(t, errors.Is(db.UpdateBookingStatus(ctx, 999, models.StatusConfirmed), domain.ErrNotFound))
	assert.Error(t, db.CreateBooking(ctx, &models.Booking{LessonID: l.ID, UserID: 9, Status: "changed"}))
}

func TestInTx_RollsBack(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	c := createClassOption(t, db, "Yoga", 10)
	l := createLesson(t, db, c.ID, time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC), "")

	boom := errors.New("boom")
	err := db.InTx(ctx, func(q domain.Queries) error {
		for i := 0; i < 3; i++ {
			if err := q.CreateBooking(ctx, &models.Booking{LessonID: l.ID, UserID: 1, Status: models.StatusConfirmed}); err != nil {
				return err
			}
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	n, err := db.CountBookings(ctx, domain.BookingFilter{LessonID: l.ID})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	err = db.InTx(ctx, func(q domain.Queries) error {
		return q.CreateBooking(ctx, &models.Booking{LessonID: l.ID, UserID: 1, Status: models.StatusConfirmed})
	})
	require.NoError(t, err)
	n, err = db.CountBookings(ctx, domain.BookingFilter{LessonID: l.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSchedules(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	lockOut := 30
	classID := int64(3)
	tpl := &models.ScheduleTemplate{
		TenantID:             "north",
		Name:                 "Summer",
		StartDate:            clock.Date{Year: 2025, Month: time.June, Day: 1},
		EndDate:              clock.Date{Year: 2025, Month: time.August, Day: 31},
		DefaultClassOptionID: 1,
		LockOutTime:          &lockOut,
	}
	tpl.Days[2] = models.ScheduleDay{Active: true, Slots: []models.TimeSlot{{
		Start:         clock.WallClock{Hour: 18, Minute: 30},
		End:           clock.WallClock{Hour: 19, Minute: 30},
		ClassOptionID: &classID,
		Location:      "Mat 1",
		SkipDates:     []clock.Date{{Year: 2025, Month: time.July, Day: 2}},
	}}}

	require.NoError(t, db.SaveSchedule(ctx, tpl))
	firstID := tpl.ID
	assert.NotZero(t, firstID)

	got, err := db.GetSchedule(ctx, "north")
	require.NoError(t, err)
	assert.Equal(t, tpl.StartDate, got.StartDate)
	assert.Equal(t, tpl.EndDate, got.EndDate)
	require.NotNil(t, got.LockOutTime)
	assert.Equal(t, 30, *got.LockOutTime)
	require.Len(t, got.Days[2].Slots, 1)
	assert.Equal(t, tpl.Days[2].Slots[0], got.Days[2].Slots[0])
	assert.False(t, got.Days[0].Active)

	tpl.Name = "Summer v2"
	tpl.LockOutTime = nil
	require.NoError(t, db.SaveSchedule(ctx, tpl))
	assert.Equal(t, firstID, tpl.ID)

	got, err = db.GetSchedule(ctx, "north")
	require.NoError(t, err)
	assert.Equal(t, "Summer v2", got.Name)
	assert.Nil(t, got.LockOutTime)

	all, err := db.ListSchedules(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = db.GetSchedule(ctx, "south")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestJobs(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	job := &models.Job{Type: models.JobGenerateLessons, Payload: `{"tenant_id":"north"}`}
	require.NoError(t, db.CreateJob(ctx, job))
	assert.Equal(t, models.JobStatusPending, job.Status)

	pending, err := db.GetPendingJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, models.JobGenerateLessons, pending[0].Type)

	msg := "temporary"
	later := time.Now().Add(time.Hour)
	require.NoError(t, db.UpdateJobStatus(ctx, job.ID, models.JobStatusPending, &msg, &later))

	pending, err = db.GetPendingJobs(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "not due yet")

	got, err := db.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.RetryCount)
	require.NotNil(t, got.LastError)
	assert.Equal(t, "temporary", *got.LastError)

	require.NoError(t, db.UpdateJobStatus(ctx, job.ID, models.JobStatusFailed, &msg, nil))
	failed, err := db.GetFailedJobs(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.NotNil(t, failed[0].ProcessedAt)

	assert.True(t, errors.Is(db.UpdateJobStatus(ctx, 999, models.JobStatusCompleted, nil, nil), domain.ErrNotFound))
}

func TestClaimJob(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	job := &models.Job{Type: models.JobWaitlistNotify, Payload: `{}`}
	require.NoError(t, db.CreateJob(ctx, job))

	won, err := db.ClaimJob(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = db.ClaimJob(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, won)

	n, err := db.ResetProcessingJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := db.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, got.Status)
}

func TestDB_ClosedErrors(t *testing.T) {
	logger := zerolog.Nop()
	db, err := NewDB(filepath.Join(t.TempDir(), "closed.db"), &logger)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	ctx := context.Background()
	_, err = db.ListLessons(ctx, domain.LessonFilter{})
	assert.True(t, errors.Is(err, domain.ErrStorage))

	err = db.InTx(ctx, func(domain.Queries) error { return nil })
	assert.True(t, errors.Is(err, domain.ErrStorage))

	assert.Error(t, db.CreateJob(ctx, &models.Job{Type: "x"}))
}
