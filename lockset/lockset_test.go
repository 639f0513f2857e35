package lockset

import (
	"context"
	"testing"
	"time"
)

func TestTryLockExclusion(t *testing.T) {
	s := New()
	ctx := context.Background()

	ok, err := s.TryLock(ctx, "loc-a", time.Second)
	if err != nil || !ok {
		t.Fatalf("first TryLock: ok=%v err=%v", ok, err)
	}

	ok, err = s.TryLock(ctx, "loc-a", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("second TryLock: unexpected error %v", err)
	}
	if ok {
		t.Fatal("second TryLock on held key should time out")
	}

	s.Unlock("loc-a")

	ok, err = s.TryLock(ctx, "loc-a", time.Second)
	if err != nil || !ok {
		t.Fatalf("TryLock after unlock: ok=%v err=%v", ok, err)
	}
	s.Unlock("loc-a")
}

func TestTryLockUnrelatedKeysDontBlock(t *testing.T) {
	s := New()
	ctx := context.Background()

	ok, err := s.TryLock(ctx, "loc-a", time.Second)
	if err != nil || !ok {
		t.Fatalf("lock loc-a: ok=%v err=%v", ok, err)
	}
	defer s.Unlock("loc-a")

	ok, err = s.TryLock(ctx, "loc-b", time.Second)
	if err != nil || !ok {
		t.Fatalf("lock loc-b should not be blocked by loc-a: ok=%v err=%v", ok, err)
	}
	s.Unlock("loc-b")
}

func TestTryLockContextCancellation(t *testing.T) {
	s := New()
	ctx := context.Background()

	ok, err := s.TryLock(ctx, "loc-a", time.Second)
	if err != nil || !ok {
		t.Fatalf("first TryLock: ok=%v err=%v", ok, err)
	}
	defer s.Unlock("loc-a")

	cctx, cancel := context.WithCancel(context.Background())
	cancel()
	ok, err = s.TryLock(cctx, "loc-a", time.Second)
	if ok {
		t.Fatal("TryLock should not succeed on a cancelled context")
	}
	if err == nil {
		t.Fatal("expected context error")
	}
}

func TestEntryRemovedWhenUncontended(t *testing.T) {
	s := New()
	ctx := context.Background()

	ok, err := s.TryLock(ctx, "loc-a", time.Second)
	if err != nil || !ok {
		t.Fatalf("TryLock: ok=%v err=%v", ok, err)
	}
	s.Unlock("loc-a")

	s.mu.Lock()
	_, present := s.entries["loc-a"]
	s.mu.Unlock()
	if present {
		t.Fatal("entry should be removed once no waiters remain")
	}
}

func TestUnlockOfUnheldKeyPanics(t *testing.T) {
	s := New()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic unlocking an unheld key")
		}
	}()
	s.Unlock("never-locked")
}
