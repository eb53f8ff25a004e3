// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"sync"
	"time"

	"maunium.net/go/mautrix/bridgev2"
	"maunium.net/go/mautrix/bridgev2/simplevent"
)

// memberResyncDelay is how long a portal waits after first noticing a
// nameless sender before refetching thread info, so a burst of messages
// from several unknown members coalesces into one resync.
const memberResyncDelay = 10 * time.Second

// memberResyncScheduler coalesces "this sender has no profile yet"
// observations per thread. Each thread gets at most one pending timer;
// extra observations inside the window just add to its puppet set. When
// the timer fires, the resync is skipped if every accumulated puppet
// picked up a name in the meantime (e.g. from a parallel GetUserInfo).
type memberResyncScheduler struct {
	mu      sync.Mutex
	pending map[string]*pendingMemberResync
}

type pendingMemberResync struct {
	puppets map[int64]struct{}
	isGroup bool
}

func newMemberResyncScheduler() *memberResyncScheduler {
	return &memberResyncScheduler{pending: make(map[string]*pendingMemberResync)}
}

// noteNamelessSender records that a message from fbid arrived in threadID
// while that user's ghost had no display name, scheduling (or merging
// into) the thread's delayed resync.
func (m *MetaClient) noteNamelessSender(threadID string, isGroup bool, fbid int64) {
	s := m.memberResync
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.pending[threadID]; ok {
		entry.puppets[fbid] = struct{}{}
		return
	}
	s.pending[threadID] = &pendingMemberResync{
		puppets: map[int64]struct{}{fbid: {}},
		isGroup: isGroup,
	}
	time.AfterFunc(memberResyncDelay, func() { m.fireMemberResync(threadID) })
}

func (m *MetaClient) fireMemberResync(threadID string) {
	s := m.memberResync
	s.mu.Lock()
	entry, ok := s.pending[threadID]
	delete(s.pending, threadID)
	s.mu.Unlock()
	if !ok {
		return
	}
	select {
	case <-m.stopChan:
		return
	default:
	}

	ctx := context.Background()
	allNamed := true
	for fbid := range entry.puppets {
		ghost, err := m.connector.Bridge.GetGhostByID(ctx, MakeUserID(fbid))
		if err != nil || ghost == nil || ghost.Name == "" {
			allNamed = false
			break
		}
	}
	if allNamed {
		return
	}

	m.eventSender.QueueRemoteEvent(m.userLogin, &simplevent.ChatResync{
		EventMeta: simplevent.EventMeta{
			Type:      bridgev2.RemoteEventChatResync,
			PortalKey: m.portalKey(threadID, entry.isGroup),
		},
		GetChatInfoFunc: func(ctx context.Context, portal *bridgev2.Portal) (*bridgev2.ChatInfo, error) {
			return m.GetChatInfo(ctx, portal)
		},
	})
}
