package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/owenfields/lectern/internal/circuitbreaker"
	"github.com/owenfields/lectern/internal/db"
	"github.com/owenfields/lectern/internal/metrics"
)

// Ledger is the slice of the repository the dispatcher drives.
type Ledger interface {
	DueNotifications(ctx context.Context, now time.Time, limit int) ([]*db.DueNotification, error)
	ClaimNotification(ctx context.Context, id uuid.UUID) (bool, error)
	MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, errorMsg string) error
	ReleaseClaim(ctx context.Context, id uuid.UUID) error
	ReleaseStaleClaims(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Config tunes one dispatcher instance.
type Config struct {
	// BatchSize bounds how many due entries one invocation processes.
	BatchSize int

	// Concurrency bounds parallel provider calls within a batch.
	Concurrency int

	// SendTimeout bounds each provider call.
	SendTimeout time.Duration

	// ClaimExpiry is how long an in-flight claim may sit before it is
	// presumed orphaned by a crash and requeued.
	ClaimExpiry time.Duration

	// PollInterval is the cadence of the background loop.
	PollInterval time.Duration
}

// BatchStats summarizes one dispatcher batch.
type BatchStats struct {
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Dispatcher drains due pending ledger entries through the email
// provider, committing each entry's terminal status independently.
type Dispatcher struct {
	ledger   Ledger
	provider Provider
	config   Config
	logger   *zap.Logger
}

// New creates a dispatcher with defaults filled in.
func New(ledger Ledger, provider Provider, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 50
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 4
	}
	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	if cfg.ClaimExpiry == 0 {
		cfg.ClaimExpiry = 5 * time.Minute
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 30 * time.Second
	}

	return &Dispatcher{
		ledger:   ledger,
		provider: provider,
		config:   cfg,
		logger:   logger,
	}
}

// RunBatch processes up to BatchSize due entries. Entries are claimed one
// by one with a conditional update, so concurrent dispatcher instances
// never double-process a row. One entry's provider failure never aborts
// the rest of the batch. Only whole-run store failures are returned.
func (d *Dispatcher) RunBatch(ctx context.Context, now time.Time) (BatchStats, error) {
	var stats BatchStats

	if released, err := d.ledger.ReleaseStaleClaims(ctx, d.config.ClaimExpiry); err != nil {
		d.logger.Warn("failed to release stale claims", zap.Error(err))
	} else if released > 0 {
		metrics.RecordStaleClaimsReleased(released)
	}

	due, err := d.ledger.DueNotifications(ctx, now, d.config.BatchSize)
	if err != nil {
		return stats, fmt.Errorf("fetch due notifications: %w", err)
	}
	if len(due) == 0 {
		return stats, nil
	}

	d.logger.Info("dispatching notifications",
		zap.Int("due", len(due)),
		zap.Int("concurrency", d.config.Concurrency),
	)

	entries := make(chan *db.DueNotification)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < d.config.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for entry := range entries {
				outcome := d.processEntry(ctx, entry, now)
				mu.Lock()
				switch outcome {
				case db.StatusSent:
					stats.Sent++
				case db.StatusFailed:
					stats.Failed++
				default:
					stats.Skipped++
				}
				mu.Unlock()
			}
		}()
	}

	for _, entry := range due {
		entries <- entry
	}
	close(entries)
	wg.Wait()

	d.logger.Info("dispatch batch completed",
		zap.Int("sent", stats.Sent),
		zap.Int("failed", stats.Failed),
		zap.Int("skipped", stats.Skipped),
	)

	return stats, nil
}

// processEntry claims one entry, attempts delivery, and commits the
// terminal status. Returns the final stored status, or "pending" when
// the entry was skipped and stays in the queue.
func (d *Dispatcher) processEntry(ctx context.Context, entry *db.DueNotification, now time.Time) string {
	notif := entry.Notification

	claimed, err := d.ledger.ClaimNotification(ctx, notif.ID)
	if err != nil {
		d.logger.Error("failed to claim notification",
			zap.Error(err),
			zap.String("id", notif.ID.String()),
		)
		return db.StatusPending
	}
	if !claimed {
		// Another dispatcher run owns it, or it already resolved.
		return db.StatusPending
	}

	// A lecture cancelled after enqueue still gets its entry resolved,
	// deterministically and without a provider call.
	if entry.LectureCancelled {
		d.commit(ctx, notif.ID, db.StatusFailed, "lecture was cancelled before dispatch", now)
		metrics.RecordDispatched(db.StatusFailed)
		return db.StatusFailed
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.config.SendTimeout)
	start := time.Now()
	sendErr := d.provider.Send(sendCtx, &notif)
	cancel()
	metrics.RecordProviderSend(d.provider.Name(), time.Since(start))

	if sendErr != nil {
		if errors.Is(sendErr, circuitbreaker.ErrCircuitOpen) {
			// Provider is known-down; leave the entry pending instead of
			// burning it into a terminal failure.
			d.release(ctx, notif.ID)
			return db.StatusPending
		}

		d.logger.Error("provider rejected notification",
			zap.Error(sendErr),
			zap.String("id", notif.ID.String()),
			zap.String("to", notif.Email),
		)
		if !d.commit(ctx, notif.ID, db.StatusFailed, sendErr.Error(), now) {
			return db.StatusPending
		}
		metrics.RecordDispatched(db.StatusFailed)
		return db.StatusFailed
	}

	if !d.commit(ctx, notif.ID, db.StatusSent, "", now) {
		return db.StatusPending
	}

	d.logger.Info("notification sent",
		zap.String("id", notif.ID.String()),
		zap.String("to", notif.Email),
	)
	metrics.RecordDispatched(db.StatusSent)
	return db.StatusSent
}

// commit durably records a terminal status, retrying the write once. If
// both attempts fail the claim is released so the next run reprocesses
// the entry; for an already-delivered message that is a tolerated
// low-probability double send, never a duplicated ledger row.
func (d *Dispatcher) commit(ctx context.Context, id uuid.UUID, status, detail string, now time.Time) bool {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		if status == db.StatusSent {
			err = d.ledger.MarkSent(ctx, id, now)
		} else {
			err = d.ledger.MarkFailed(ctx, id, detail)
		}
		if err == nil {
			return true
		}
	}

	d.logger.Error("failed to commit notification status, releasing claim",
		zap.Error(err),
		zap.String("id", id.String()),
		zap.String("status", status),
	)
	d.release(ctx, id)
	return false
}

func (d *Dispatcher) release(ctx context.Context, id uuid.UUID) {
	if err := d.ledger.ReleaseClaim(context.WithoutCancel(ctx), id); err != nil {
		d.logger.Error("failed to release claim",
			zap.Error(err),
			zap.String("id", id.String()),
		)
	}
}

// Start runs batches on a fixed cadence until the context is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping")
			return
		case <-ticker.C:
			if _, err := d.RunBatch(ctx, time.Now()); err != nil {
				d.logger.Error("dispatch batch failed", zap.Error(err))
			}
		}
	}
}
