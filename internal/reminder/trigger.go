package reminder

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/owenfields/lectern/internal/db"
	"github.com/owenfields/lectern/internal/metrics"
)

// Lease is a best-effort mutual exclusion over a named trigger run, so
// overlapping firings usually skip instead of racing. Correctness never
// depends on it: the ledger's pending-key index is the real guarantee.
type Lease interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name string) error
}

// RunStats summarizes one trigger pass.
type RunStats struct {
	Lectures   int `json:"lectures"`
	Recipients int `json:"recipients"`
	Created    int `json:"created"`
	Duplicates int `json:"duplicates"`
	Skipped    int `json:"skipped"`
}

// Runner executes a full selector-plus-ledger pass for one reason.
type Runner struct {
	selector *Selector
	ledger   *Ledger
	lease    Lease // nil when Redis is unavailable
	leaseTTL time.Duration
	logger   *zap.Logger
}

// NewRunner creates a trigger runner. lease may be nil.
func NewRunner(selector *Selector, ledger *Ledger, lease Lease, logger *zap.Logger) *Runner {
	return &Runner{
		selector: selector,
		ledger:   ledger,
		lease:    lease,
		leaseTTL: 2 * time.Minute,
		logger:   logger,
	}
}

// Run performs one trigger pass: find lectures in the reason's window,
// resolve each active enrollment, and enqueue ledger entries. A store
// error during selection aborts the run with no partial enqueues; enqueue
// errors for individual recipients are captured and do not stop the pass.
func (r *Runner) Run(ctx context.Context, reason string, now time.Time) (RunStats, error) {
	var stats RunStats

	if reason != db.ReasonImminent && reason != db.ReasonNextDay {
		return stats, fmt.Errorf("unknown reminder reason: %s", reason)
	}

	if r.lease != nil {
		acquired, err := r.lease.Acquire(ctx, "trigger:"+reason, r.leaseTTL)
		if err != nil {
			// Redis being down never blocks the pipeline.
			r.logger.Warn("trigger lease unavailable, proceeding", zap.Error(err))
		} else if !acquired {
			r.logger.Info("trigger already running elsewhere, skipping",
				zap.String("reason", reason),
			)
			return stats, nil
		} else {
			defer func() {
				if err := r.lease.Release(context.WithoutCancel(ctx), "trigger:"+reason); err != nil {
					r.logger.Warn("failed to release trigger lease", zap.Error(err))
				}
			}()
		}
	}

	candidates, err := r.selector.Select(ctx, reason, now)
	if err != nil {
		return stats, fmt.Errorf("trigger %s: %w", reason, err)
	}

	stats.Lectures = len(candidates)

	for _, cand := range candidates {
		for _, profile := range cand.Profiles {
			stats.Recipients++

			outcome, err := r.ledger.Enqueue(ctx, cand.Lecture, cand.Course, profile, reason, now)
			if err != nil {
				r.logger.Error("failed to enqueue reminder",
					zap.Error(err),
					zap.String("lecture_id", cand.Lecture.ID.String()),
					zap.String("recipient_id", profile.ID.String()),
				)
				continue
			}

			switch outcome {
			case OutcomeCreated:
				stats.Created++
				metrics.RecordReminderEnqueued(reason)
			case OutcomeAlreadyPending:
				stats.Duplicates++
				metrics.RecordReminderSkipped(reason, "duplicate")
			case OutcomeSkipped:
				stats.Skipped++
				metrics.RecordReminderSkipped(reason, "disabled")
			}
		}
	}

	r.logger.Info("trigger pass completed",
		zap.String("reason", reason),
		zap.Int("lectures", stats.Lectures),
		zap.Int("created", stats.Created),
		zap.Int("duplicates", stats.Duplicates),
		zap.Int("skipped", stats.Skipped),
	)

	return stats, nil
}

// Start runs both reminder reasons on a fixed cadence until the context
// is cancelled. Deployments with an external cron can skip this and hit
// the trigger endpoints instead.
func (r *Runner) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("trigger runner stopping")
			return
		case <-ticker.C:
			now := time.Now()
			for _, reason := range []string{db.ReasonImminent, db.ReasonNextDay} {
				if _, err := r.Run(ctx, reason, now); err != nil {
					r.logger.Error("trigger run failed",
						zap.Error(err),
						zap.String("reason", reason),
					)
				}
			}
		}
	}
}
