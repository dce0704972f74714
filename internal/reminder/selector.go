package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/owenfields/lectern/internal/db"
)

// Store is the slice of the repository the reminder pipeline reads from
// and enqueues into.
type Store interface {
	UpcomingLectures(ctx context.Context, from, to time.Time) ([]*db.LectureWithCourse, error)
	ActiveEnrollmentProfiles(ctx context.Context, courseID uuid.UUID) ([]*db.Profile, error)
	GetEmailPreference(ctx context.Context, userID uuid.UUID) (*db.EmailPreference, error)
	EnqueueNotification(ctx context.Context, notif *db.Notification) (bool, error)
}

// Windows configures the lookahead per reminder reason.
type Windows struct {
	// Imminent is the lookahead for the "starting soon" policy.
	Imminent time.Duration

	// Location is the timezone used to compute the "tomorrow" calendar
	// day for the next-day policy.
	Location *time.Location
}

// DefaultWindows returns the windows used when nothing is configured.
func DefaultWindows() Windows {
	return Windows{
		Imminent: 60 * time.Minute,
		Location: time.UTC,
	}
}

// Window returns the [from, to) interval scanned for a reason at a given
// reference time.
func (w Windows) Window(reason string, now time.Time) (time.Time, time.Time, error) {
	switch reason {
	case db.ReasonImminent:
		return now, now.Add(w.Imminent), nil
	case db.ReasonNextDay:
		loc := w.Location
		if loc == nil {
			loc = time.UTC
		}
		local := now.In(loc)
		start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)
		return start, start.AddDate(0, 0, 1), nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("unknown reminder reason: %s", reason)
	}
}

// Candidate is one lecture needing reminders together with the students
// who should receive them.
type Candidate struct {
	Lecture  db.Lecture
	Course   db.Course
	Profiles []*db.Profile
}

// Selector finds lectures inside a reminder window and the active
// enrollments behind them.
type Selector struct {
	store   Store
	windows Windows
	logger  *zap.Logger
}

// NewSelector creates a selector over the store.
func NewSelector(store Store, windows Windows, logger *zap.Logger) *Selector {
	if windows.Imminent == 0 {
		windows.Imminent = 60 * time.Minute
	}
	if windows.Location == nil {
		windows.Location = time.UTC
	}

	return &Selector{
		store:   store,
		windows: windows,
		logger:  logger,
	}
}

// Select returns the reminder candidates for a reason at the reference
// time. A lecture with zero active enrollments is returned with an empty
// profile list — no work, not an error. A store error aborts the whole
// selection so the run produces no partial enqueues.
func (s *Selector) Select(ctx context.Context, reason string, now time.Time) ([]Candidate, error) {
	from, to, err := s.windows.Window(reason, now)
	if err != nil {
		return nil, err
	}

	lectures, err := s.store.UpcomingLectures(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("select lectures: %w", err)
	}

	s.logger.Debug("lectures in reminder window",
		zap.String("reason", reason),
		zap.Time("from", from),
		zap.Time("to", to),
		zap.Int("count", len(lectures)),
	)

	candidates := make([]Candidate, 0, len(lectures))
	for _, lc := range lectures {
		profiles, err := s.store.ActiveEnrollmentProfiles(ctx, lc.Course.ID)
		if err != nil {
			return nil, fmt.Errorf("select enrollments for course %s: %w", lc.Course.ID, err)
		}

		candidates = append(candidates, Candidate{
			Lecture:  lc.Lecture,
			Course:   lc.Course,
			Profiles: profiles,
		})
	}

	return candidates, nil
}
