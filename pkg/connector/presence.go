// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/bridgev2"
	"maunium.net/go/mautrix/event"
)

// presenceSyncInterval is how often online states are re-pushed to the
// homeserver. Synapse expires presence after 30 seconds; refreshing at 25
// leaves some slack.
const presenceSyncInterval = 25 * time.Second

// presenceSetter is the optional intent capability used to publish
// presence. Ghost intents that can't set presence (e.g. test doubles, or a
// Matrix connector without presence support) are skipped silently.
type presenceSetter interface {
	SetPresence(ctx context.Context, presence event.Presence) error
}

// presenceUpdater mirrors remote contacts' online state onto their ghosts.
// Online users are re-announced periodically because homeserver presence
// decays back to offline on its own; going idle cancels the refresh and
// pushes the offline state once.
type presenceUpdater struct {
	bridge *bridgev2.Bridge
	log    zerolog.Logger

	// pushFunc delivers one state change to a ghost; tests inject a mock
	// instead of requiring a full bridgev2.Bridge.
	pushFunc func(ctx context.Context, fbid int64, online bool)

	mu     sync.Mutex
	online map[int64]struct{}

	stopOnce sync.Once
	stop     chan struct{}
}

func newPresenceUpdater(bridge *bridgev2.Bridge, log zerolog.Logger) *presenceUpdater {
	p := &presenceUpdater{
		bridge: bridge,
		log:    log.With().Str("component", "presence").Logger(),
		online: make(map[int64]struct{}),
		stop:   make(chan struct{}),
	}
	p.pushFunc = p.push
	return p
}

// Start runs the periodic refresh loop until Stop.
func (p *presenceUpdater) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(presenceSyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.refreshAll(ctx)
			}
		}
	}()
}

func (p *presenceUpdater) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

// Set pushes one contact's state change to their ghost immediately and
// adjusts the periodic refresh set.
func (p *presenceUpdater) Set(ctx context.Context, fbid int64, online bool) {
	p.mu.Lock()
	_, wasOnline := p.online[fbid]
	if online {
		p.online[fbid] = struct{}{}
	} else {
		delete(p.online, fbid)
	}
	p.mu.Unlock()

	// An offline report for a user never tracked as online needs no write.
	if !online && !wasOnline {
		return
	}
	p.pushFunc(ctx, fbid, online)
}

func (p *presenceUpdater) refreshAll(ctx context.Context) {
	p.mu.Lock()
	ids := make([]int64, 0, len(p.online))
	for fbid := range p.online {
		ids = append(ids, fbid)
	}
	p.mu.Unlock()
	for _, fbid := range ids {
		p.pushFunc(ctx, fbid, true)
	}
}

func (p *presenceUpdater) push(ctx context.Context, fbid int64, online bool) {
	ghost, err := p.bridge.GetGhostByID(ctx, MakeUserID(fbid))
	if err != nil || ghost == nil {
		return
	}
	setter, ok := ghost.Intent.(presenceSetter)
	if !ok {
		return
	}
	presence := event.PresenceOffline
	if online {
		presence = event.PresenceOnline
	}
	if err := setter.SetPresence(ctx, presence); err != nil {
		p.log.Debug().Err(err).Int64("fbid", fbid).Msg("Failed to set ghost presence")
	}
}
