package lock

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLockerMutualExclusion(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	ok, err := locker.Acquire(ctx, "alloc:fp1", "owner-1", time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !ok {
		t.Fatalf("expected first acquire to succeed")
	}

	ok, err = locker.Acquire(ctx, "alloc:fp1", "owner-2", time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if ok {
		t.Fatalf("expected second owner to be rejected")
	}

	// different name is independent
	ok, err = locker.Acquire(ctx, "alloc:fp2", "owner-2", time.Second)
	if err != nil || !ok {
		t.Fatalf("expected independent lock to succeed: ok=%t err=%v", ok, err)
	}
}

func TestMemoryLockerReleaseChecksOwner(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	if _, err := locker.Acquire(ctx, "alloc:fp1", "owner-1", time.Second); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := locker.Release(ctx, "alloc:fp1", "owner-2"); err != nil {
		t.Fatalf("release with wrong owner should not error: %v", err)
	}

	ok, err := locker.Acquire(ctx, "alloc:fp1", "owner-3", time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if ok {
		t.Fatalf("wrong-owner release must not free the lock")
	}

	if err := locker.Release(ctx, "alloc:fp1", "owner-1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = locker.Acquire(ctx, "alloc:fp1", "owner-3", time.Second)
	if err != nil || !ok {
		t.Fatalf("expected acquire after release: ok=%t err=%v", ok, err)
	}
}

func TestMemoryLockerExpiry(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	if _, err := locker.Acquire(ctx, "alloc:fp1", "owner-1", 30*time.Millisecond); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	ok, err := locker.Acquire(ctx, "alloc:fp1", "owner-2", time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !ok {
		t.Fatalf("expected expired hold to be reclaimable")
	}
}

func TestRedisLockerMutualExclusion(t *testing.T) {
	client := newRedisTestClient(t)
	locker := NewRedisLocker(client, "gridpool:test:lock")
	ctx := context.Background()

	ok, err := locker.Acquire(ctx, "alloc:fp1", "owner-1", time.Second)
	if err != nil || !ok {
		t.Fatalf("expected first acquire to succeed: ok=%t err=%v", ok, err)
	}
	ok, err = locker.Acquire(ctx, "alloc:fp1", "owner-2", time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if ok {
		t.Fatalf("expected second owner to be rejected")
	}

	if err := locker.Release(ctx, "alloc:fp1", "owner-1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = locker.Acquire(ctx, "alloc:fp1", "owner-2", time.Second)
	if err != nil || !ok {
		t.Fatalf("expected acquire after release: ok=%t err=%v", ok, err)
	}
}
