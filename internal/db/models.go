package db

import (
	"time"

	"github.com/google/uuid"
)

// Notification status constants. "processing" is the in-flight claim marker
// used by the dispatcher; a notification is never left in "processing"
// deliberately — stale claims are reclaimed as pending.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusSent       = "sent"
	StatusFailed     = "failed"
)

// Reminder reasons. The (lecture, recipient, reason) tuple is the
// idempotency key for pending notifications.
const (
	ReasonImminent = "imminent"
	ReasonNextDay  = "next_day"
)

// Profile roles
const (
	RoleAdmin    = "admin"
	RoleLecturer = "lecturer"
	RoleStudent  = "student"
)

// Profile is a user account (admin, lecturer, or student).
type Profile struct {
	ID                uuid.UUID `json:"id"`
	Role              string    `json:"role"`
	FullName          string    `json:"full_name"`
	Email             string    `json:"email"`
	NotificationEmail *string   `json:"notification_email,omitempty"`
	Department        *string   `json:"department,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Course is owned by a lecturer and soft-deactivated, never deleted,
// while lectures or enrollments still reference it.
type Course struct {
	ID         uuid.UUID `json:"id"`
	Title      string    `json:"title"`
	CourseCode string    `json:"course_code"`
	Department *string   `json:"department,omitempty"`
	Level      *string   `json:"level,omitempty"`
	LecturerID uuid.UUID `json:"lecturer_id"`
	IsActive   bool      `json:"is_active"`
	Color      *string   `json:"color,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Lecture is a scheduled session of a course. DurationMinutes must be
// positive; the schema enforces it.
type Lecture struct {
	ID              uuid.UUID `json:"id"`
	CourseID        uuid.UUID `json:"course_id"`
	Title           string    `json:"title"`
	Description     *string   `json:"description,omitempty"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	DurationMinutes int       `json:"duration_minutes"`
	Location        *string   `json:"location,omitempty"`
	MeetingURL      *string   `json:"meeting_url,omitempty"`
	IsCancelled     bool      `json:"is_cancelled"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Enrollment links a student to a course. Only active enrollments are
// reminder candidates.
type Enrollment struct {
	ID         uuid.UUID `json:"id"`
	CourseID   uuid.UUID `json:"course_id"`
	StudentID  uuid.UUID `json:"student_id"`
	IsActive   bool      `json:"is_active"`
	EnrolledAt time.Time `json:"enrolled_at"`
}

// EmailPreference is one-to-one with Profile. A missing row means
// "account email, reminders enabled".
type EmailPreference struct {
	ID                uuid.UUID `json:"id"`
	UserID            uuid.UUID `json:"user_id"`
	NotificationEmail string    `json:"notification_email"`
	LectureReminders  bool      `json:"lecture_reminders"`
	DailyDigest       bool      `json:"daily_digest"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Notification is a ledger entry: one delivery attempt for one recipient.
// Email, subject and message are captured at enqueue time so later
// preference changes do not alter a queued message.
type Notification struct {
	ID           uuid.UUID  `json:"id"`
	LectureID    uuid.UUID  `json:"lecture_id"`
	RecipientID  uuid.UUID  `json:"recipient_id"`
	Email        string     `json:"email"`
	Subject      string     `json:"subject"`
	Message      string     `json:"message"`
	Reason       string     `json:"reason"`
	Status       string     `json:"status"`
	ScheduledFor time.Time  `json:"scheduled_for"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// LectureWithCourse joins a lecture with its course for reminder selection.
type LectureWithCourse struct {
	Lecture Lecture
	Course  Course
}

// DueNotification is a pending ledger entry joined with the cancellation
// flag of its lecture, so the dispatcher can resolve entries whose lecture
// was cancelled after enqueue without another round trip.
type DueNotification struct {
	Notification     Notification
	LectureCancelled bool
}
