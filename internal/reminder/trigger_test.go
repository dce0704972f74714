package reminder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/owenfields/lectern/internal/db"
)

// fakeLease records calls and can simulate a held lease or a Redis outage.
type fakeLease struct {
	held     bool
	failing  bool
	acquired []string
	released []string
}

func (f *fakeLease) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	if f.failing {
		return false, errors.New("redis unreachable")
	}
	if f.held {
		return false, nil
	}
	f.acquired = append(f.acquired, name)
	return true, nil
}

func (f *fakeLease) Release(ctx context.Context, name string) error {
	f.released = append(f.released, name)
	return nil
}

func newTestRunner(store *mockStore, lease Lease) *Runner {
	logger := zap.NewNop()
	sel := NewSelector(store, DefaultWindows(), logger)
	led := NewLedger(store, time.UTC, logger)
	return NewRunner(sel, led, lease, logger)
}

func TestRun_EnqueuesForEachRecipient(t *testing.T) {
	store := newMockStore()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	courseID := uuid.New()
	store.lectures = []*db.LectureWithCourse{makeLecture(courseID, now.Add(20*time.Minute))}

	disabled := &db.Profile{ID: uuid.New(), Email: "quiet@university.edu"}
	store.prefs[disabled.ID] = &db.EmailPreference{UserID: disabled.ID, LectureReminders: false}

	store.enrollments[courseID] = []*db.Profile{
		{ID: uuid.New(), Email: "a@university.edu"},
		{ID: uuid.New(), Email: "b@university.edu"},
		disabled,
	}

	runner := newTestRunner(store, nil)

	stats, err := runner.Run(context.Background(), db.ReasonImminent, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stats.Lectures != 1 {
		t.Errorf("lectures = %d, want 1", stats.Lectures)
	}
	if stats.Recipients != 3 {
		t.Errorf("recipients = %d, want 3", stats.Recipients)
	}
	if stats.Created != 2 {
		t.Errorf("created = %d, want 2", stats.Created)
	}
	if stats.Skipped != 1 {
		t.Errorf("skipped = %d, want 1", stats.Skipped)
	}
}

func TestRun_SecondPassCountsDuplicates(t *testing.T) {
	store := newMockStore()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	courseID := uuid.New()
	store.lectures = []*db.LectureWithCourse{makeLecture(courseID, now.Add(20*time.Minute))}
	store.enrollments[courseID] = []*db.Profile{
		{ID: uuid.New(), Email: "a@university.edu"},
	}

	runner := newTestRunner(store, nil)

	if _, err := runner.Run(context.Background(), db.ReasonImminent, now); err != nil {
		t.Fatalf("first run: %v", err)
	}
	stats, err := runner.Run(context.Background(), db.ReasonImminent, now)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if stats.Created != 0 {
		t.Errorf("created = %d, want 0 on the second pass", stats.Created)
	}
	if stats.Duplicates != 1 {
		t.Errorf("duplicates = %d, want 1", stats.Duplicates)
	}
	if len(store.enqueued) != 1 {
		t.Errorf("ledger has %d rows, want 1", len(store.enqueued))
	}
}

func TestRun_InvalidReason(t *testing.T) {
	runner := newTestRunner(newMockStore(), nil)
	if _, err := runner.Run(context.Background(), "weekly_digest", time.Now()); err == nil {
		t.Error("expected error for unknown reason")
	}
}

func TestRun_LeaseHeldElsewhereSkips(t *testing.T) {
	store := newMockStore()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	courseID := uuid.New()
	store.lectures = []*db.LectureWithCourse{makeLecture(courseID, now.Add(20*time.Minute))}
	store.enrollments[courseID] = []*db.Profile{{ID: uuid.New(), Email: "a@university.edu"}}

	lease := &fakeLease{held: true}
	runner := newTestRunner(store, lease)

	stats, err := runner.Run(context.Background(), db.ReasonImminent, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Created != 0 || len(store.enqueued) != 0 {
		t.Errorf("run behind a held lease must be a no-op, created=%d", stats.Created)
	}
}

func TestRun_LeaseOutageProceeds(t *testing.T) {
	store := newMockStore()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	courseID := uuid.New()
	store.lectures = []*db.LectureWithCourse{makeLecture(courseID, now.Add(20*time.Minute))}
	store.enrollments[courseID] = []*db.Profile{{ID: uuid.New(), Email: "a@university.edu"}}

	lease := &fakeLease{failing: true}
	runner := newTestRunner(store, lease)

	stats, err := runner.Run(context.Background(), db.ReasonImminent, now)
	if err != nil {
		t.Fatalf("redis outage must not block the run: %v", err)
	}
	if stats.Created != 1 {
		t.Errorf("created = %d, want 1", stats.Created)
	}
}

func TestRun_LeaseReleasedAfterPass(t *testing.T) {
	store := newMockStore()
	lease := &fakeLease{}
	runner := newTestRunner(store, lease)

	if _, err := runner.Run(context.Background(), db.ReasonImminent, time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(lease.acquired) != 1 || len(lease.released) != 1 {
		t.Errorf("acquired=%d released=%d, want 1/1", len(lease.acquired), len(lease.released))
	}
	if lease.acquired[0] != "trigger:imminent" {
		t.Errorf("lease name = %q", lease.acquired[0])
	}
}

func TestRun_SelectionErrorAborts(t *testing.T) {
	store := newMockStore()
	store.failLectures = true
	runner := newTestRunner(store, nil)

	if _, err := runner.Run(context.Background(), db.ReasonImminent, time.Now()); err == nil {
		t.Error("expected error when selection fails")
	}
	if len(store.enqueued) != 0 {
		t.Errorf("aborted run must not enqueue, got %d", len(store.enqueued))
	}
}
