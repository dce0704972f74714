package reminder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/owenfields/lectern/internal/db"
)

// Outcome reports what Enqueue did for one recipient.
type Outcome int

const (
	// OutcomeCreated means a new pending ledger entry was written.
	OutcomeCreated Outcome = iota

	// OutcomeAlreadyPending means an entry with the same
	// (lecture, recipient, reason) key is still pending or in flight.
	// Expected under overlapping triggers, not an error.
	OutcomeAlreadyPending

	// OutcomeSkipped means the recipient has lecture reminders disabled;
	// no row is created.
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeAlreadyPending:
		return "already_pending"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Ledger writes reminder entries into the notification table. Subject,
// message and the resolved email are captured at enqueue time.
type Ledger struct {
	store  Store
	loc    *time.Location
	logger *zap.Logger
}

// NewLedger creates a ledger. The location is used to format lecture
// times in the rendered message.
func NewLedger(store Store, loc *time.Location, logger *zap.Logger) *Ledger {
	if loc == nil {
		loc = time.UTC
	}

	return &Ledger{
		store:  store,
		loc:    loc,
		logger: logger,
	}
}

// Enqueue resolves the recipient's preferences and writes one pending
// entry, scheduled for immediate dispatch. Reminders disabled is a
// successful skip; a duplicate pending key is a no-op.
func (l *Ledger) Enqueue(ctx context.Context, lecture db.Lecture, course db.Course, profile *db.Profile, reason string, now time.Time) (Outcome, error) {
	pref, err := l.store.GetEmailPreference(ctx, profile.ID)
	if err != nil {
		return 0, fmt.Errorf("resolve preference for %s: %w", profile.ID, err)
	}

	email, enabled := Resolve(profile, pref)
	if !enabled {
		l.logger.Debug("reminder skipped, disabled by preference",
			zap.String("recipient_id", profile.ID.String()),
			zap.String("lecture_id", lecture.ID.String()),
		)
		return OutcomeSkipped, nil
	}

	subject, message := renderReminder(lecture, course, reason, l.loc)

	notif := &db.Notification{
		ID:           uuid.New(),
		LectureID:    lecture.ID,
		RecipientID:  profile.ID,
		Email:        email,
		Subject:      subject,
		Message:      message,
		Reason:       reason,
		Status:       db.StatusPending,
		ScheduledFor: now,
	}

	inserted, err := l.store.EnqueueNotification(ctx, notif)
	if err != nil {
		return 0, fmt.Errorf("enqueue notification: %w", err)
	}

	if !inserted {
		l.logger.Debug("reminder already pending",
			zap.String("recipient_id", profile.ID.String()),
			zap.String("lecture_id", lecture.ID.String()),
			zap.String("reason", reason),
		)
		return OutcomeAlreadyPending, nil
	}

	return OutcomeCreated, nil
}

// renderReminder builds the captured subject and message for a reminder.
func renderReminder(lecture db.Lecture, course db.Course, reason string, loc *time.Location) (string, string) {
	when := lecture.ScheduledAt.In(loc).Format("Mon, Jan 2 2006 at 3:04 PM")

	location := "Online"
	if lecture.Location != nil && *lecture.Location != "" {
		location = *lecture.Location
	}

	var subject string
	var b strings.Builder

	switch reason {
	case db.ReasonNextDay:
		subject = fmt.Sprintf("Reminder: %s tomorrow", lecture.Title)
		fmt.Fprintf(&b, "Don't forget about your %s lecture %q tomorrow at %s (%s).",
			course.Title, lecture.Title, when, location)
	default:
		subject = fmt.Sprintf("Reminder: %s is starting soon", lecture.Title)
		fmt.Fprintf(&b, "Your %s lecture %q starts at %s (%s).",
			course.Title, lecture.Title, when, location)
	}

	if lecture.MeetingURL != nil && *lecture.MeetingURL != "" {
		fmt.Fprintf(&b, " Join online: %s", *lecture.MeetingURL)
	}

	return subject, b.String()
}
