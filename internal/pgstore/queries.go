package pgstore

import (
	"context"
	"errors"
	"fmt"

	"studiobook/internal/domain"
	"studiobook/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type queries struct {
	db *gorm.DB
}

var _ domain.Queries = (*queries)(nil)

func notFoundOr(err error, what string, id interface{}, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.NotFound(what, id)
	}
	return domain.WrapStorage(err, op)
}

func affected(res *gorm.DB, what string, id int64, op string) error {
	if res.Error != nil {
		return domain.WrapStorage(res.Error, op)
	}
	if res.RowsAffected == 0 {
		return domain.NotFound(what, id)
	}
	return nil
}

// syncSequence moves the serial past explicitly inserted ids.
func (q *queries) syncSequence(ctx context.Context, table string) error {
	sql := fmt.Sprintf(`SELECT setval(pg_get_serial_sequence('%[1]s', 'id'), (SELECT COALESCE(MAX(id), 1) FROM %[1]s))`, table)
	return q.db.WithContext(ctx).Exec(sql).Error
}

func (q *queries) GetClassOption(ctx context.Context, id int64) (*models.ClassOption, error) {
	var c models.ClassOption
	if err := q.db.WithContext(ctx).First(&c, id).Error; err != nil {
		return nil, notFoundOr(err, "class option", id, "get class option")
	}
	return &c, nil
}

func (q *queries) ListClassOptions(ctx context.Context) ([]models.ClassOption, error) {
	var options []models.ClassOption
	if err := q.db.WithContext(ctx).Order("name ASC").Find(&options).Error; err != nil {
		return nil, domain.WrapStorage(err, "list class options")
	}
	return options, nil
}

func (q *queries) CreateClassOption(ctx context.Context, c *models.ClassOption) error {
	explicit := c.ID != 0
	if err := q.db.WithContext(ctx).Create(c).Error; err != nil {
		return domain.WrapStorage(err, "create class option")
	}
	if explicit {
		return domain.WrapStorage(q.syncSequence(ctx, "class_options"), "sync class option ids")
	}
	return nil
}

func (q *queries) UpdateClassOption(ctx context.Context, c *models.ClassOption) error {
	res := q.db.WithContext(ctx).Model(&models.ClassOption{}).Where("id = ?", c.ID).Updates(map[string]interface{}{
		"name":          c.Name,
		"places":        c.Places,
		"description":   c.Description,
		"type":          c.Type,
		"trial_enabled": c.TrialEnabled,
	})
	return affected(res, "class option", c.ID, "update class option")
}

func (q *queries) DeleteClassOption(ctx context.Context, id int64) error {
	res := q.db.WithContext(ctx).Delete(&models.ClassOption{}, id)
	return affected(res, "class option", id, "delete class option")
}

func (q *queries) GetUser(ctx context.Context, id int64) (*models.User, error) {
	var u models.User
	if err := q.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, notFoundOr(err, "user", id, "get user")
	}
	return &u, nil
}

func (q *queries) CreateUser(ctx context.Context, u *models.User) error {
	if u.Role == "" {
		u.Role = models.RoleUser
	}
	explicit := u.ID != 0
	if err := q.db.WithContext(ctx).Create(u).Error; err != nil {
		return domain.WrapStorage(err, "create user")
	}
	if explicit {
		return domain.WrapStorage(q.syncSequence(ctx, "users"), "sync user ids")
	}
	return nil
}

func (q *queries) ListChildren(ctx context.Context, parentID int64) ([]models.User, error) {
	var users []models.User
	if err := q.db.WithContext(ctx).Where("parent_id = ?", parentID).Order("id ASC").Find(&users).Error; err != nil {
		return nil, domain.WrapStorage(err, "list children")
	}
	return users, nil
}

func (q *queries) GetLesson(ctx context.Context, id int64) (*models.Lesson, error) {
	var l models.Lesson
	if err := q.db.WithContext(ctx).First(&l, id).Error; err != nil {
		return nil, notFoundOr(err, "lesson", id, "get lesson")
	}
	return &l, nil
}

// LockLesson holds the row lock until the surrounding transaction ends.
func (q *queries) LockLesson(ctx context.Context, id int64) (*models.Lesson, error) {
	var l models.Lesson
	err := q.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).First(&l, id).Error
	if err != nil {
		return nil, notFoundOr(err, "lesson", id, "lock lesson")
	}
	return &l, nil
}

func lessonScope(f domain.LessonFilter) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if f.TenantID != "" || f.TenantScoped {
			db = db.Where("tenant_id = ?", f.TenantID)
		}
		if f.ClassOptionID != 0 {
			db = db.Where("class_option_id = ?", f.ClassOptionID)
		}
		if !f.StartFrom.IsZero() {
			db = db.Where("start_time >= ?", f.StartFrom)
		}
		if !f.StartBefore.IsZero() {
			db = db.Where("start_time < ?", f.StartBefore)
		}
		if !f.EndAfter.IsZero() {
			db = db.Where("end_time > ?", f.EndAfter)
		}
		if !f.EndBy.IsZero() {
			db = db.Where("end_time <= ?", f.EndBy)
		}
		if f.Location != nil {
			db = db.Where("location = ?", *f.Location)
		}
		if f.ActiveOnly {
			db = db.Where("active = ?", true)
		}
		return db
	}
}

func (q *queries) ListLessons(ctx context.Context, f domain.LessonFilter) ([]models.Lesson, error) {
	var lessons []models.Lesson
	err := q.db.WithContext(ctx).Scopes(lessonScope(f)).Order("start_time ASC, id ASC").Find(&lessons).Error
	if err != nil {
		return nil, domain.WrapStorage(err, "list lessons")
	}
	return lessons, nil
}

func (q *queries) CreateLesson(ctx context.Context, l *models.Lesson) error {
	l.OriginalLockOutTime = l.LockOutTime
	active := l.Active
	if err := q.db.WithContext(ctx).Create(l).Error; err != nil {
		return domain.WrapStorage(err, "create lesson")
	}
	// gorm skips zero values of columns with a default.
	if !active {
		if err := q.db.WithContext(ctx).Model(l).UpdateColumn("active", false).Error; err != nil {
			return domain.WrapStorage(err, "create lesson")
		}
		l.Active = false
	}
	return nil
}

// DeleteLesson removes the lesson and its bookings.
func (q *queries) DeleteLesson(ctx context.Context, id int64) error {
	return q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("lesson_id = ?", id).Delete(&models.Booking{}).Error; err != nil {
			return domain.WrapStorage(err, "delete lesson bookings")
		}
		return affected(tx.Delete(&models.Lesson{}, id), "lesson", id, "delete lesson")
	})
}

func (q *queries) UpdateLessonLockOut(ctx context.Context, id int64, minutes int) error {
	res := q.db.WithContext(ctx).Model(&models.Lesson{}).Where("id = ?", id).Update("lock_out_time", minutes)
	return affected(res, "lesson", id, "update lesson lock-out")
}

func (q *queries) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	var b models.Booking
	if err := q.db.WithContext(ctx).First(&b, id).Error; err != nil {
		return nil, notFoundOr(err, "booking", id, "get booking")
	}
	return &b, nil
}

func (q *queries) CreateBooking(ctx context.Context, b *models.Booking) error {
	if err := q.db.WithContext(ctx).Create(b).Error; err != nil {
		return domain.WrapStorage(err, "create booking")
	}
	return nil
}

func (q *queries) UpdateBookingStatus(ctx context.Context, id int64, status models.BookingStatus) error {
	res := q.db.WithContext(ctx).Model(&models.Booking{}).Where("id = ?", id).Update("status", status)
	return affected(res, "booking", id, "update booking status")
}

func (q *queries) SetCheckedIn(ctx context.Context, id int64, checkedIn bool) error {
	res := q.db.WithContext(ctx).Model(&models.Booking{}).Where("id = ?", id).Update("checked_in", checkedIn)
	return affected(res, "booking", id, "update booking check-in")
}

func bookingScope(f domain.BookingFilter) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if f.LessonID != 0 {
			db = db.Where("lesson_id = ?", f.LessonID)
		}
		if len(f.UserIDs) > 0 {
			db = db.Where("user_id IN ?", f.UserIDs)
		}
		if len(f.Statuses) > 0 {
			db = db.Where("status IN ?", f.Statuses)
		}
		return db
	}
}

func (q *queries) ListBookings(ctx context.Context, f domain.BookingFilter) ([]models.Booking, error) {
	var bookings []models.Booking
	err := q.db.WithContext(ctx).Scopes(bookingScope(f)).Order("created_at ASC, id ASC").Find(&bookings).Error
	if err != nil {
		return nil, domain.WrapStorage(err, "list bookings")
	}
	return bookings, nil
}

func (q *queries) CountBookings(ctx context.Context, f domain.BookingFilter) (int, error) {
	var count int64
	if err := q.db.WithContext(ctx).Model(&models.Booking{}).Scopes(bookingScope(f)).Count(&count).Error; err != nil {
		return 0, domain.WrapStorage(err, "count bookings")
	}
	return int(count), nil
}

func (q *queries) GetSchedule(ctx context.Context, tenantID string) (*models.ScheduleTemplate, error) {
	var tpl models.ScheduleTemplate
	if err := q.db.WithContext(ctx).Where("tenant_id = ?", tenantID).First(&tpl).Error; err != nil {
		return nil, notFoundOr(err, "schedule for tenant", tenantID, "get schedule")
	}
	return &tpl, nil
}

func (q *queries) ListSchedules(ctx context.Context) ([]models.ScheduleTemplate, error) {
	var templates []models.ScheduleTemplate
	if err := q.db.WithContext(ctx).Order("tenant_id ASC").Find(&templates).Error; err != nil {
		return nil, domain.WrapStorage(err, "list schedules")
	}
	return templates, nil
}

// SaveSchedule inserts or replaces the template of tpl.TenantID.
func (q *queries) SaveSchedule(ctx context.Context, tpl *models.ScheduleTemplate) error {
	tpl.ID = 0
	err := q.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "start_date", "end_date", "default_class_option_id", "lock_out_time", "days", "updated_at",
		}),
	}).Create(tpl).Error
	if err != nil {
		return domain.WrapStorage(err, "save schedule")
	}

	var stored models.ScheduleTemplate
	if err := q.db.WithContext(ctx).Select("id", "created_at").Where("tenant_id = ?", tpl.TenantID).First(&stored).Error; err != nil {
		return domain.WrapStorage(err, "reload schedule")
	}
	tpl.ID = stored.ID
	tpl.CreatedAt = stored.CreatedAt
	return nil
}
