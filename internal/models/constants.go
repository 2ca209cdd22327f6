package models

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	StatusPending   BookingStatus = "pending"
	StatusConfirmed BookingStatus = "confirmed"
	StatusCancelled BookingStatus = "cancelled"
	StatusWaiting   BookingStatus = "waiting"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

const (
	ClassTypeAdult = "adult"
	ClassTypeChild = "child"
)

// LessonStatus is the requester-relative classification of a lesson.
type LessonStatus string

const (
	LessonChildrenBooked LessonStatus = "childrenBooked"
	LessonClosed         LessonStatus = "closed"
	LessonBooked         LessonStatus = "booked"
	LessonMultipleBooked LessonStatus = "multipleBooked"
	LessonWaiting        LessonStatus = "waiting"
	LessonWaitlist       LessonStatus = "waitlist"
	LessonTrialable      LessonStatus = "trialable"
	LessonActive         LessonStatus = "active"
)

const (
	JobGenerateLessons = "generate_lessons"
	JobWaitlistNotify  = "waitlist_notify"
	JobSheetsPublish   = "sheets_publish"
)

const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

const (
	// DefaultTimezone is used when app.timezone is not configured.
	DefaultTimezone = "Europe/Dublin"

	// WorkerQueueSize is the capacity of the in-memory job queue.
	WorkerQueueSize = 1000

	// IdempotencyTTL is how long a booking response is replayed for the same key.
	IdempotencyTTL = 24 * 60 * 60
)

// ParseModeMarkdown is the Telegram parse mode used for notices.
const ParseModeMarkdown = "Markdown"
