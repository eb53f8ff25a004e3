// Copyright 2024-2026 Aiku AI

package connector

import (
	"fmt"
	"testing"
)

func TestDedupSeenMessage(t *testing.T) {
	t.Parallel()
	d := newPortalDedup()

	if d.SeenMessage("mid.1") {
		t.Error("first sighting should not be seen")
	}
	if !d.SeenMessage("mid.1") {
		t.Error("second sighting should be seen")
	}
	if d.SeenMessage("mid.2") {
		t.Error("different id should not be seen")
	}
}

func TestDedupRingEvictsOldest(t *testing.T) {
	t.Parallel()
	d := newPortalDedup()

	for i := 0; i < dedupRingSize; i++ {
		d.SeenMessage(fmt.Sprintf("mid.%d", i))
	}
	// Ring is full; the next insert evicts mid.0 only.
	d.SeenMessage("mid.overflow")
	if d.SeenMessage("mid.0") {
		t.Error("evicted id should read as unseen again")
	}
	// Re-checking mid.0 re-inserted it, evicting mid.1; mid.2 is untouched.
	if !d.SeenMessage("mid.2") {
		t.Error("id still in the ring should stay seen")
	}
}

func TestDedupOwnSendLifecycle(t *testing.T) {
	t.Parallel()
	d := newPortalDedup()
	const oti = int64(123456789)

	if _, ok := d.IsOwnSend(oti); ok {
		t.Error("untracked OTI should not be an own send")
	}

	d.TrackSend(oti)
	id, ok := d.IsOwnSend(oti)
	if !ok {
		t.Fatal("tracked OTI should be an own send")
	}
	if id != "" {
		t.Errorf("unresolved send should have empty id, got %q", id)
	}

	d.ResolveSend(oti, "mid.real")
	id, ok = d.IsOwnSend(oti)
	if !ok || id != "mid.real" {
		t.Errorf("resolved send: got (%q, %v), want (mid.real, true)", id, ok)
	}

	d.ForgetSend(oti)
	if _, ok := d.IsOwnSend(oti); ok {
		t.Error("forgotten OTI should no longer be an own send")
	}
}

func TestDedupResolveUntrackedIsNoop(t *testing.T) {
	t.Parallel()
	d := newPortalDedup()
	d.ResolveSend(42, "mid.ghost")
	if _, ok := d.IsOwnSend(42); ok {
		t.Error("resolving an untracked OTI must not start tracking it")
	}
}

func TestDedupRegistryIsolatesThreads(t *testing.T) {
	t.Parallel()
	r := newDedupRegistry()

	a := r.Get("1000")
	b := r.Get("2000")
	if a == b {
		t.Fatal("different threads should get different dedup state")
	}
	if again := r.Get("1000"); again != a {
		t.Error("same thread should get the same dedup state back")
	}

	a.SeenMessage("mid.x")
	if b.SeenMessage("mid.x") {
		t.Error("seen ids must not leak between threads")
	}
}
