// Copyright 2024-2026 Aiku AI

package connector

import (
	"testing"
)

func TestNoteNamelessSenderCoalesces(t *testing.T) {
	t.Parallel()
	mc := newNotLoggedInClient()

	mc.noteNamelessSender("1000", true, 11)
	mc.noteNamelessSender("1000", true, 22)
	mc.noteNamelessSender("2000", false, 33)

	s := mc.memberResync
	s.mu.Lock()
	if len(s.pending) != 2 {
		t.Errorf("pending threads: got %d, want 2", len(s.pending))
	}
	entry := s.pending["1000"]
	if entry == nil || len(entry.puppets) != 2 {
		t.Errorf("thread 1000 should have 2 accumulated puppets, got %+v", entry)
	}
	if entry != nil && !entry.isGroup {
		t.Error("thread 1000 should be marked as a group")
	}
	// Clear the pending entries so the 10s timers fire as no-ops; this
	// test has no bridge database for a real resync to run against.
	s.pending = make(map[string]*pendingMemberResync)
	s.mu.Unlock()
}

func TestFireMemberResyncWithoutPendingIsNoop(t *testing.T) {
	t.Parallel()
	mc := newNotLoggedInClient()
	// No entry for this thread; must return without queuing anything.
	mc.fireMemberResync("404")
	if got := testMock(mc).Events(); len(got) != 0 {
		t.Errorf("expected no events, got %d", len(got))
	}
}
