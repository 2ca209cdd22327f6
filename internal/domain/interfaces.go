package domain

import (
	"context"
	"time"

	"studiobook/internal/models"
)

// LessonFilter narrows lesson queries. Zero values are ignored.
type LessonFilter struct {
	TenantID      string // empty matches every tenant unless TenantScoped
	TenantScoped  bool   // match TenantID exactly, the empty tenant included
	ClassOptionID int64
	StartFrom     time.Time // start >= StartFrom
	StartBefore   time.Time // start < StartBefore
	EndAfter      time.Time // end > EndAfter
	EndBy         time.Time // end <= EndBy
	Location      *string
	ActiveOnly    bool
}

// BookingFilter narrows booking queries. Zero values are ignored.
type BookingFilter struct {
	LessonID int64
	UserIDs  []int64
	Statuses []models.BookingStatus
}

// Queries is the data access surface shared by plain connections and transactions.
type Queries interface {
	GetClassOption(ctx context.Context, id int64) (*models.ClassOption, error)
	ListClassOptions(ctx context.Context) ([]models.ClassOption, error)
	CreateClassOption(ctx context.Context, option *models.ClassOption) error
	UpdateClassOption(ctx context.Context, option *models.ClassOption) error
	DeleteClassOption(ctx context.Context, id int64) error

	GetUser(ctx context.Context, id int64) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
	ListChildren(ctx context.Context, parentID int64) ([]models.User, error)

	GetLesson(ctx context.Context, id int64) (*models.Lesson, error)
	// LockLesson reads the lesson and holds a write lock on it until the transaction ends.
	LockLesson(ctx context.Context, id int64) (*models.Lesson, error)
	ListLessons(ctx context.Context, filter LessonFilter) ([]models.Lesson, error)
	CreateLesson(ctx context.Context, lesson *models.Lesson) error
	DeleteLesson(ctx context.Context, id int64) error
	UpdateLessonLockOut(ctx context.Context, id int64, minutes int) error

	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	CreateBooking(ctx context.Context, booking *models.Booking) error
	UpdateBookingStatus(ctx context.Context, id int64, status models.BookingStatus) error
	SetCheckedIn(ctx context.Context, id int64, checkedIn bool) error
	ListBookings(ctx context.Context, filter BookingFilter) ([]models.Booking, error)
	CountBookings(ctx context.Context, filter BookingFilter) (int, error)

	GetSchedule(ctx context.Context, tenantID string) (*models.ScheduleTemplate, error)
	ListSchedules(ctx context.Context) ([]models.ScheduleTemplate, error)
	SaveSchedule(ctx context.Context, tpl *models.ScheduleTemplate) error
}

// Store is a Queries backed by a database that can run a function in one transaction.
type Store interface {
	Queries
	InTx(ctx context.Context, fn func(q Queries) error) error
	Close() error
}

// JobStore persists background jobs so they survive restarts.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetPendingJobs(ctx context.Context, limit int) ([]models.Job, error)
	// ClaimJob atomically moves a pending job to processing and reports whether this caller won.
	ClaimJob(ctx context.Context, id int64) (bool, error)
	ResetProcessingJobs(ctx context.Context) (int, error)
	UpdateJobStatus(ctx context.Context, id int64, status string, errMsg *string, nextRetryAt *time.Time) error
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// WaitlistNotifier is told which waiting bookings should hear that a place opened up.
type WaitlistNotifier interface {
	NotifyLessonAvailable(ctx context.Context, lesson *models.Lesson, waiting []models.Booking) error
}

// JobQueue accepts background work.
type JobQueue interface {
	Enqueue(ctx context.Context, jobType string, payload interface{}) error
}

// Actor is the authenticated caller.
type Actor struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
}

func (a Actor) IsAdmin() bool {
	return a.Role == models.RoleAdmin
}
