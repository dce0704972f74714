package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Repository handles database operations for the reminder pipeline.
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new repository over the shared pool.
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// UpcomingLectures returns non-cancelled lectures of active courses whose
// scheduled time falls in [from, to), joined with their course.
func (r *Repository) UpcomingLectures(ctx context.Context, from, to time.Time) ([]*LectureWithCourse, error) {
	query := `
		SELECT
			l.id, l.course_id, l.title, l.description, l.scheduled_at,
			l.duration_minutes, l.location, l.meeting_url, l.is_cancelled,
			l.created_at, l.updated_at,
			c.id, c.title, c.course_code, c.department, c.level,
			c.lecturer_id, c.is_active, c.color, c.created_at, c.updated_at
		FROM lectures l
		JOIN courses c ON c.id = l.course_id
		WHERE l.scheduled_at >= $1
		  AND l.scheduled_at < $2
		  AND l.is_cancelled = FALSE
		  AND c.is_active = TRUE
		ORDER BY l.scheduled_at ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("query upcoming lectures: %w", err)
	}
	defer rows.Close()

	var lectures []*LectureWithCourse
	for rows.Next() {
		var lc LectureWithCourse
		err := rows.Scan(
			&lc.Lecture.ID,
			&lc.Lecture.CourseID,
			&lc.Lecture.Title,
			&lc.Lecture.Description,
			&lc.Lecture.ScheduledAt,
			&lc.Lecture.DurationMinutes,
			&lc.Lecture.Location,
			&lc.Lecture.MeetingURL,
			&lc.Lecture.IsCancelled,
			&lc.Lecture.CreatedAt,
			&lc.Lecture.UpdatedAt,
			&lc.Course.ID,
			&lc.Course.Title,
			&lc.Course.CourseCode,
			&lc.Course.Department,
			&lc.Course.Level,
			&lc.Course.LecturerID,
			&lc.Course.IsActive,
			&lc.Course.Color,
			&lc.Course.CreatedAt,
			&lc.Course.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan lecture: %w", err)
		}
		lectures = append(lectures, &lc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return lectures, nil
}

// ActiveEnrollmentProfiles returns the profiles of students actively
// enrolled in a course.
func (r *Repository) ActiveEnrollmentProfiles(ctx context.Context, courseID uuid.UUID) ([]*Profile, error) {
	query := `
		SELECT
			p.id, p.role, p.full_name, p.email, p.notification_email,
			p.department, p.created_at, p.updated_at
		FROM enrollments e
		JOIN profiles p ON p.id = e.student_id
		WHERE e.course_id = $1
		  AND e.is_active = TRUE
		ORDER BY p.full_name ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, courseID)
	if err != nil {
		return nil, fmt.Errorf("query enrollment profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*Profile
	for rows.Next() {
		var p Profile
		err := rows.Scan(
			&p.ID,
			&p.Role,
			&p.FullName,
			&p.Email,
			&p.NotificationEmail,
			&p.Department,
			&p.CreatedAt,
			&p.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		profiles = append(profiles, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return profiles, nil
}

// GetEmailPreference returns the preference row for a user, or (nil, nil)
// when the user has no row — the caller falls back to defaults.
func (r *Repository) GetEmailPreference(ctx context.Context, userID uuid.UUID) (*EmailPreference, error) {
	query := `
		SELECT
			id, user_id, notification_email, lecture_reminders,
			daily_digest, created_at, updated_at
		FROM email_preferences
		WHERE user_id = $1
	`

	var pref EmailPreference
	err := r.db.Pool().QueryRow(ctx, query, userID).Scan(
		&pref.ID,
		&pref.UserID,
		&pref.NotificationEmail,
		&pref.LectureReminders,
		&pref.DailyDigest,
		&pref.CreatedAt,
		&pref.UpdatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("query email preference: %w", err)
	}

	return &pref, nil
}

// EnqueueNotification inserts a new pending ledger entry. Returns false
// when a pending or in-flight entry with the same (lecture, recipient,
// reason) key already exists — the insert is a no-op in that case.
func (r *Repository) EnqueueNotification(ctx context.Context, notif *Notification) (bool, error) {
	query := `
		INSERT INTO notifications (
			id, lecture_id, recipient_id, email, subject, message,
			reason, status, scheduled_for
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
		ON CONFLICT (lecture_id, recipient_id, reason)
			WHERE status IN ('pending', 'processing')
			DO NOTHING
	`

	tag, err := r.db.Pool().Exec(
		ctx,
		query,
		notif.ID,
		notif.LectureID,
		notif.RecipientID,
		notif.Email,
		notif.Subject,
		notif.Message,
		notif.Reason,
		notif.Status,
		notif.ScheduledFor,
	)

	if err != nil {
		r.logger.Error("failed to enqueue notification",
			zap.Error(err),
			zap.String("lecture_id", notif.LectureID.String()),
			zap.String("recipient_id", notif.RecipientID.String()),
		)
		return false, fmt.Errorf("insert notification: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return false, nil
	}

	r.logger.Info("notification enqueued",
		zap.String("notification_id", notif.ID.String()),
		zap.String("lecture_id", notif.LectureID.String()),
		zap.String("reason", notif.Reason),
	)

	return true, nil
}

// GetNotification retrieves a ledger entry by ID.
func (r *Repository) GetNotification(ctx context.Context, id uuid.UUID) (*Notification, error) {
	query := `
		SELECT
			id, lecture_id, recipient_id, email, subject, message,
			reason, status, scheduled_for, sent_at, error_message,
			created_at, updated_at
		FROM notifications
		WHERE id = $1
	`

	var notif Notification
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&notif.ID,
		&notif.LectureID,
		&notif.RecipientID,
		&notif.Email,
		&notif.Subject,
		&notif.Message,
		&notif.Reason,
		&notif.Status,
		&notif.ScheduledFor,
		&notif.SentAt,
		&notif.ErrorMessage,
		&notif.CreatedAt,
		&notif.UpdatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("query notification: %w", err)
	}

	return &notif, nil
}

// DueNotifications returns up to limit pending entries due at now, oldest
// first, each joined with its lecture's cancellation flag.
func (r *Repository) DueNotifications(ctx context.Context, now time.Time, limit int) ([]*DueNotification, error) {
	query := `
		SELECT
			n.id, n.lecture_id, n.recipient_id, n.email, n.subject,
			n.message, n.reason, n.status, n.scheduled_for, n.sent_at,
			n.error_message, n.created_at, n.updated_at,
			l.is_cancelled
		FROM notifications n
		JOIN lectures l ON l.id = n.lecture_id
		WHERE n.status = 'pending'
		  AND n.scheduled_for <= $1
		ORDER BY n.scheduled_for ASC
		LIMIT $2
	`

	rows, err := r.db.Pool().Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query due notifications: %w", err)
	}
	defer rows.Close()

	var due []*DueNotification
	for rows.Next() {
		var d DueNotification
		err := rows.Scan(
			&d.Notification.ID,
			&d.Notification.LectureID,
			&d.Notification.RecipientID,
			&d.Notification.Email,
			&d.Notification.Subject,
			&d.Notification.Message,
			&d.Notification.Reason,
			&d.Notification.Status,
			&d.Notification.ScheduledFor,
			&d.Notification.SentAt,
			&d.Notification.ErrorMessage,
			&d.Notification.CreatedAt,
			&d.Notification.UpdatedAt,
			&d.LectureCancelled,
		)
		if err != nil {
			return nil, fmt.Errorf("scan due notification: %w", err)
		}
		due = append(due, &d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return due, nil
}

// ClaimNotification conditionally moves an entry from pending to
// processing. Returns false when the entry is no longer pending — another
// dispatcher run owns it or it already reached a terminal state.
func (r *Repository) ClaimNotification(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE notifications
		SET status = 'processing', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`

	tag, err := r.db.Pool().Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("claim notification: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// MarkSent transitions a claimed entry to its terminal sent state.
// The condition on processing keeps terminal states immutable.
func (r *Repository) MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error {
	query := `
		UPDATE notifications
		SET status = 'sent', sent_at = $2, error_message = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`

	tag, err := r.db.Pool().Exec(ctx, query, id, sentAt)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("notification %s not in processing state: %w", id, ErrNotFound)
	}

	return nil
}

// MarkFailed transitions a claimed entry to its terminal failed state,
// storing the provider diagnostic verbatim.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, errorMsg string) error {
	query := `
		UPDATE notifications
		SET status = 'failed', error_message = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`

	tag, err := r.db.Pool().Exec(ctx, query, id, errorMsg)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("notification %s not in processing state: %w", id, ErrNotFound)
	}

	return nil
}

// ReleaseClaim moves a claimed entry back to pending so the next
// dispatcher run picks it up again.
func (r *Repository) ReleaseClaim(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE notifications
		SET status = 'pending', updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`

	if _, err := r.db.Pool().Exec(ctx, query, id); err != nil {
		return fmt.Errorf("release claim: %w", err)
	}

	return nil
}

// ReleaseStaleClaims requeues processing entries whose claim is older than
// the expiry. A claim goes stale when a dispatcher crashed between the
// claim and the terminal transition.
func (r *Repository) ReleaseStaleClaims(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		UPDATE notifications
		SET status = 'pending', updated_at = NOW()
		WHERE status = 'processing'
		  AND updated_at < NOW() - make_interval(secs => $1)
	`

	tag, err := r.db.Pool().Exec(ctx, query, olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("release stale claims: %w", err)
	}

	if n := tag.RowsAffected(); n > 0 {
		r.logger.Warn("requeued stale notification claims", zap.Int64("count", n))
		return n, nil
	}

	return 0, nil
}

// InvalidatePendingForLecture resolves all pending entries for a lecture
// as failed. Called when a lecture is rescheduled or cancelled after
// reminders were already queued.
func (r *Repository) InvalidatePendingForLecture(ctx context.Context, lectureID uuid.UUID, detail string) (int64, error) {
	query := `
		UPDATE notifications
		SET status = 'failed', error_message = $2, updated_at = NOW()
		WHERE lecture_id = $1 AND status = 'pending'
	`

	tag, err := r.db.Pool().Exec(ctx, query, lectureID, detail)
	if err != nil {
		return 0, fmt.Errorf("invalidate pending notifications: %w", err)
	}

	n := tag.RowsAffected()
	if n > 0 {
		r.logger.Info("invalidated pending notifications",
			zap.String("lecture_id", lectureID.String()),
			zap.Int64("count", n),
		)
	}

	return n, nil
}

// ListNotificationsByRecipient retrieves a recipient's notification
// history with pagination, newest first.
func (r *Repository) ListNotificationsByRecipient(
	ctx context.Context,
	recipientID uuid.UUID,
	limit int,
	offset int,
) ([]*Notification, error) {
	query := `
		SELECT
			id, lecture_id, recipient_id, email, subject, message,
			reason, status, scheduled_for, sent_at, error_message,
			created_at, updated_at
		FROM notifications
		WHERE recipient_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool().Query(ctx, query, recipientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*Notification
	for rows.Next() {
		var notif Notification
		err := rows.Scan(
			&notif.ID,
			&notif.LectureID,
			&notif.RecipientID,
			&notif.Email,
			&notif.Subject,
			&notif.Message,
			&notif.Reason,
			&notif.Status,
			&notif.ScheduledFor,
			&notif.SentAt,
			&notif.ErrorMessage,
			&notif.CreatedAt,
			&notif.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, &notif)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return notifications, nil
}
