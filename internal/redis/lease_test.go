package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func setupLease(t *testing.T) (*RunLease, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	client := &Client{rdb: rdb, logger: zap.NewNop()}

	return NewRunLease(client, zap.NewNop()), mr
}

func TestAcquire_FirstHolderWins(t *testing.T) {
	lease, _ := setupLease(t)
	ctx := context.Background()

	ok, err := lease.Acquire(ctx, "trigger:imminent", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("first acquire should succeed")
	}

	ok, err = lease.Acquire(ctx, "trigger:imminent", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("second acquire should be rejected while held")
	}
}

func TestAcquire_DistinctNamesAreIndependent(t *testing.T) {
	lease, _ := setupLease(t)
	ctx := context.Background()

	if ok, _ := lease.Acquire(ctx, "trigger:imminent", time.Minute); !ok {
		t.Fatal("imminent acquire failed")
	}
	if ok, _ := lease.Acquire(ctx, "trigger:next_day", time.Minute); !ok {
		t.Error("a held imminent lease must not block next_day")
	}
}

func TestRelease_FreesTheLease(t *testing.T) {
	lease, _ := setupLease(t)
	ctx := context.Background()

	if ok, _ := lease.Acquire(ctx, "trigger:imminent", time.Minute); !ok {
		t.Fatal("acquire failed")
	}
	if err := lease.Release(ctx, "trigger:imminent"); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if ok, _ := lease.Acquire(ctx, "trigger:imminent", time.Minute); !ok {
		t.Error("acquire after release should succeed")
	}
}

func TestRelease_ExpiredLeaseIsNoOp(t *testing.T) {
	lease, _ := setupLease(t)

	if err := lease.Release(context.Background(), "trigger:imminent"); err != nil {
		t.Errorf("releasing an unheld lease should be a no-op: %v", err)
	}
}

func TestAcquire_TTLExpiry(t *testing.T) {
	lease, mr := setupLease(t)
	ctx := context.Background()

	if ok, _ := lease.Acquire(ctx, "trigger:imminent", 30*time.Second); !ok {
		t.Fatal("acquire failed")
	}

	mr.FastForward(31 * time.Second)

	if ok, _ := lease.Acquire(ctx, "trigger:imminent", 30*time.Second); !ok {
		t.Error("acquire after TTL expiry should succeed")
	}
}
