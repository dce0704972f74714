package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RunLease provides best-effort mutual exclusion for trigger runs using
// SET NX with a TTL. Two overlapping trigger firings normally resolve
// here; the ledger's pending-key index covers the rare race where both
// get through (lease expired mid-run, Redis restarted).
type RunLease struct {
	client *Client
	logger *zap.Logger
}

// NewRunLease creates a lease service over the shared client.
func NewRunLease(client *Client, logger *zap.Logger) *RunLease {
	return &RunLease{
		client: client,
		logger: logger,
	}
}

func (l *RunLease) buildKey(name string) string {
	return fmt.Sprintf("lease:%s", name)
}

// Acquire takes the named lease for the TTL. Returns false when another
// holder has it.
func (l *RunLease) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	set, err := l.client.rdb.SetNX(ctx, l.buildKey(name), time.Now().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}

	if set {
		l.logger.Debug("lease acquired", zap.String("name", name), zap.Duration("ttl", ttl))
	}

	return set, nil
}

// Release drops the named lease. Releasing a lease that already expired
// is a no-op.
func (l *RunLease) Release(ctx context.Context, name string) error {
	if err := l.client.rdb.Del(ctx, l.buildKey(name)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}
