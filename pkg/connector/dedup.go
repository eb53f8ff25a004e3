// Copyright 2024-2026 Aiku AI

package connector

import (
	"sync"

	"maunium.net/go/mautrix/bridgev2/networkid"
)

// dedupRingSize bounds how many recently-seen message ids a portal
// remembers. A small ring is enough to catch the redundant deltas the sync
// queue occasionally redelivers across a reconnect, without growing unbounded for a
// long-lived thread.
const dedupRingSize = 100

// portalDedup tracks the Matrix-origin sends in flight for one thread and
// the most recently observed remote message ids, so a delta echoing a send
// this bridge just made is recognized instead of turned into a duplicate
// Matrix event.
type portalDedup struct {
	mu sync.Mutex

	// pendingByOTI holds offline-threading-ids this account sent that
	// haven't yet been confirmed by a matching delta.
	pendingByOTI map[int64]networkid.MessageID

	ring     [dedupRingSize]string
	ringPos  int
	ringSeen map[string]struct{}
}

func newPortalDedup() *portalDedup {
	return &portalDedup{
		pendingByOTI: make(map[int64]networkid.MessageID),
		ringSeen:     make(map[string]struct{}, dedupRingSize),
	}
}

// TrackSend records an OTI this account just published, to be resolved
// once the matching delta (or SendMessageResponse) arrives.
func (d *portalDedup) TrackSend(oti int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pendingByOTI[oti] = ""
}

// ResolveSend fills in the server-assigned message id for a tracked OTI,
// once the SendMessageResponse or matching delta supplies it.
func (d *portalDedup) ResolveSend(oti int64, id networkid.MessageID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.pendingByOTI[oti]; ok {
		d.pendingByOTI[oti] = id
	}
}

// ForgetSend drops a tracked OTI once its echo has been processed or it is
// too old to matter any more.
func (d *portalDedup) ForgetSend(oti int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pendingByOTI, oti)
}

// IsOwnSend reports whether oti belongs to a send this account made,
// returning the resolved message id if the send already completed.
func (d *portalDedup) IsOwnSend(oti int64) (networkid.MessageID, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.pendingByOTI[oti]
	return id, ok
}

// SeenMessage reports whether id has already been processed, recording it
// if not. The ring evicts the oldest entry once full, keeping memory bounded
// rather than growing an ever-larger set.
func (d *portalDedup) SeenMessage(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.ringSeen[id]; ok {
		return true
	}
	evicted := d.ring[d.ringPos]
	if evicted != "" {
		delete(d.ringSeen, evicted)
	}
	d.ring[d.ringPos] = id
	d.ringSeen[id] = struct{}{}
	d.ringPos = (d.ringPos + 1) % dedupRingSize
	return false
}

// dedupRegistry hands out one portalDedup per thread, created lazily.
type dedupRegistry struct {
	mu       sync.Mutex
	byThread map[string]*portalDedup
}

func newDedupRegistry() *dedupRegistry {
	return &dedupRegistry{byThread: make(map[string]*portalDedup)}
}

func (r *dedupRegistry) Get(threadID string) *portalDedup {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byThread[threadID]
	if !ok {
		d = newPortalDedup()
		r.byThread[threadID] = d
	}
	return d
}
