// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/bridgev2"
	"maunium.net/go/mautrix/bridgev2/database"
	"maunium.net/go/mautrix/bridgev2/networkid"
	"maunium.net/go/mautrix/bridgev2/simplevent"
	"maunium.net/go/mautrix/bridgev2/status"
	"maunium.net/go/mautrix/event"

	"go.mau.fi/mautrix-meta/pkg/connector/backfillqueue"
	metadb "go.mau.fi/mautrix-meta/pkg/connector/database"
	msgrapihttp "go.mau.fi/mautrix-meta/pkg/msgrapi/http"
	"go.mau.fi/mautrix-meta/pkg/msgrapi/mqtt"
)

// parseTimestampMs parses a GraphQL *_precise millisecond timestamp string.
func parseTimestampMs(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

// remoteEventSender is an interface for queuing remote events. This allows
// tests to inject a mock instead of requiring a full bridgev2.Bridge.
type remoteEventSender interface {
	QueueRemoteEvent(login *bridgev2.UserLogin, evt bridgev2.RemoteEvent)
}

// bridgeEventSender is the production implementation that delegates to the bridge.
type bridgeEventSender struct {
	bridge *bridgev2.Bridge
}

func (b *bridgeEventSender) QueueRemoteEvent(login *bridgev2.UserLogin, evt bridgev2.RemoteEvent) {
	b.bridge.QueueRemoteEvent(login, evt)
}

// MetaClient represents a single logged-in Facebook Messenger account: the
// signed HTTP/GraphQL client (component C), the MQTToT realtime connection
// (component D), and the bookkeeping that routes one onto the other.
type MetaClient struct {
	connector   *MetaConnector
	userLogin   *bridgev2.UserLogin
	eventSender remoteEventSender

	http *msgrapihttp.Client
	mqtt *mqtt.Client
	fbid int64

	dedup        *dedupRegistry
	memberResync *memberResyncScheduler

	sendLocksMu sync.Mutex
	sendLocks   map[string]*sync.Mutex

	hostMu       sync.Mutex
	hostOverride string

	listening        atomic.Bool
	restartRequested atomic.Bool
	resyncOnConnect  atomic.Bool
	lastDisconnect   time.Time

	backfillWorker *backfillqueue.Worker
	backfillCancel context.CancelFunc

	presence *presenceUpdater

	seqMu    sync.Mutex
	seqDirty bool
	seqTimer *time.Timer

	stopOnce sync.Once
	stopChan chan struct{}
	log      zerolog.Logger
}

// seqPersistDebounce is how long MetaClient waits after the last seq_id
// update before saving it, so a busy thread doesn't hit the database on
// every single delta.
const seqPersistDebounce = 120 * time.Second

// Messenger does not support editing a sent message, so MetaClient
// deliberately does not implement bridgev2.EditHandlingNetworkAPI.
var (
	_ bridgev2.NetworkAPI                    = (*MetaClient)(nil)
	_ bridgev2.ReactionHandlingNetworkAPI    = (*MetaClient)(nil)
	_ bridgev2.RedactionHandlingNetworkAPI   = (*MetaClient)(nil)
	_ bridgev2.ReadReceiptHandlingNetworkAPI = (*MetaClient)(nil)
	_ bridgev2.TypingHandlingNetworkAPI      = (*MetaClient)(nil)
	_ bridgev2.BackfillingNetworkAPI         = (*MetaClient)(nil)
)

// NewMetaClient creates a new client from an existing user login.
func NewMetaClient(login *bridgev2.UserLogin, connector *MetaConnector) *MetaClient {
	log := login.Log.With().Str("component", "meta_client").Logger()
	mc := &MetaClient{
		connector:    connector,
		userLogin:    login,
		eventSender:  &bridgeEventSender{bridge: connector.Bridge},
		dedup:        newDedupRegistry(),
		memberResync: newMemberResyncScheduler(),
		sendLocks:    make(map[string]*sync.Mutex),
		stopChan:     make(chan struct{}),
		log:          log,
	}
	meta, ok := login.Metadata.(*UserLoginMetadata)
	if !ok || meta.State == nil {
		return mc
	}
	mc.fbid = meta.State.Session.UID
	httpClient, err := msgrapihttp.NewClient(meta.State, log, "")
	if err != nil {
		log.Error().Err(err).Msg("Failed to construct HTTP client")
		return mc
	}
	mc.http = httpClient
	mc.mqtt = mqtt.NewClient(meta.State, log)
	if connector.BackfillQueue != nil {
		mc.backfillWorker = backfillqueue.NewWorker(
			connector.BackfillQueue, login.UserMXID, mc.dispatchBackfillTask,
			backfillRateLimitBackoff, log)
	}
	if connector.Config.Bridge.PresenceFromFacebook {
		mc.presence = newPresenceUpdater(connector.Bridge, log)
	}
	return mc
}

// backfillRateLimitBackoff is how long the backfill worker pauses after
// the remote reports a rate limit.
const backfillRateLimitBackoff = 5 * time.Minute

// mqttRetryLimit bounds consecutive dial failures inside one Listen call
// before the failure is escalated to the on_reconnection_fail policy.
const mqttRetryLimit = 5

// minListenRestartInterval is the minimum spacing between full listen-loop
// restarts after an error exit, so a flapping edge doesn't turn into a
// tight reconnect spin.
const minListenRestartInterval = 120 * time.Second

// Connect implements bridgev2.NetworkAPI. It does not return an error;
// connection errors are reported via BridgeState from the listen loop.
func (m *MetaClient) Connect(ctx context.Context) {
	meta, ok := m.userLogin.Metadata.(*UserLoginMetadata)
	if !ok || meta.State == nil || !meta.State.Session.LoggedIn() {
		m.userLogin.BridgeState.Send(status.BridgeState{
			StateEvent: status.StateBadCredentials,
			Error:      "fb-not-logged-in",
			Message:    "Not logged in to Facebook Messenger",
		})
		return
	}

	m.mqtt.AddEventHandler(m.handleRealtimeEvent)
	m.mqtt.Run(ctx)

	if meta.SeqID == 0 {
		// Never synced: fetch the thread inbox once connected so every
		// existing conversation gets a portal.
		m.resyncOnConnect.Store(true)
	}
	m.userLogin.BridgeState.Send(status.BridgeState{StateEvent: status.StateConnecting})
	go m.listenLoop(ctx)
	go m.periodicReconnectLoop(ctx)

	if m.backfillWorker != nil && m.connector.Config.Bridge.Backfill.Enabled {
		bfCtx, cancel := context.WithCancel(ctx)
		m.backfillCancel = cancel
		go m.backfillWorker.Loop(bfCtx)
	}
	if m.presence != nil {
		m.presence.Start(ctx)
	}
}

// maybeEnqueueBackfill queues a deferred history task for a thread the
// bridge hasn't seen before. Already-known portals are skipped so repeated
// inbox syncs don't pile up duplicate work.
func (m *MetaClient) maybeEnqueueBackfill(portalKey networkid.PortalKey, isGroup bool) {
	if m.backfillWorker == nil || !m.connector.Config.Bridge.Backfill.Enabled {
		return
	}
	ctx := context.Background()
	existing, err := m.connector.Bridge.GetExistingPortalByKey(ctx, portalKey)
	if err != nil {
		m.log.Warn().Err(err).Msg("Failed to check for existing portal before backfill enqueue")
		return
	}
	if existing != nil {
		return
	}
	fbid, err := strconv.ParseInt(string(portalKey.ID), 10, 64)
	if err != nil {
		return
	}
	var receiver int64
	if !isGroup {
		receiver, _ = ParseUserLoginID(m.userLogin.ID)
	}
	cfg := m.connector.Config.Bridge.Backfill
	task := &metadb.BackfillTask{
		UserMXID:         m.userLogin.UserMXID,
		Type:             metadb.BackfillDeferred,
		Priority:         1,
		PortalFBID:       fbid,
		PortalFBReceiver: receiver,
		NumPages:         cfg.MaxPages,
		PageDelay:        cfg.PageDelaySeconds,
		PostBatchDelay:   cfg.PostBatchDelaySeconds,
		MaxTotalPages:    cfg.MaxTotalPages,
	}
	if err := m.connector.BackfillQueue.Insert(ctx, task); err != nil {
		m.log.Warn().Err(err).Int64("portal_fbid", fbid).Msg("Failed to enqueue backfill task")
		return
	}
	m.backfillWorker.ReCheck()
}

// dispatchBackfillTask runs one queued backfill task: it re-queues a
// ChatResync for the portal with the backfill check forced on, which makes
// bridgev2 drive FetchMessages and deliver the pages (batch-send where the
// homeserver supports it, serial puppeted sends otherwise). Tasks whose
// portal room hasn't been created yet are completed as no-ops; the room
// creation path enqueues fresh work.
func (m *MetaClient) dispatchBackfillTask(ctx context.Context, task *metadb.BackfillTask) error {
	threadID := strconv.FormatInt(task.PortalFBID, 10)
	portalKey := m.portalKey(threadID, task.PortalFBReceiver == 0)
	portal, err := m.connector.Bridge.GetExistingPortalByKey(ctx, portalKey)
	if err != nil {
		return err
	}
	if portal == nil {
		// The portal was deleted after this task was queued; drop the rest
		// of its queued work along with it.
		if err := m.connector.BackfillQueue.DeleteForPortal(ctx, task.PortalFBID, task.PortalFBReceiver); err != nil {
			m.log.Warn().Err(err).Msg("Failed to clear backfill tasks for deleted portal")
		}
		return nil
	}
	if portal.MXID == "" {
		return nil
	}
	m.eventSender.QueueRemoteEvent(m.userLogin, &simplevent.ChatResync{
		EventMeta: simplevent.EventMeta{
			Type:      bridgev2.RemoteEventChatResync,
			PortalKey: portalKey,
			LogContext: func(c zerolog.Context) zerolog.Context {
				return c.Int64("backfill_queue_id", task.QueueID)
			},
		},
		GetChatInfoFunc: func(ctx context.Context, portal *bridgev2.Portal) (*bridgev2.ChatInfo, error) {
			return m.GetChatInfo(ctx, portal)
		},
		CheckNeedsBackfillFunc: func(context.Context, *database.Message) (bool, error) {
			return true, nil
		},
	})
	return nil
}

// listenLoop runs mqtt.Listen until the client stops for good, classifying
// each exit: clean local disconnects either end the loop or, when a
// restart was requested (queue reset, periodic reconnect, refresh), start
// it again; credential rejections end with a bad-credentials state; dial
// exhaustion applies the configured on_reconnection_fail policy; anything
// else gets one retry a minute later before going fatal.
func (m *MetaClient) listenLoop(ctx context.Context) {
	if !m.listening.CompareAndSwap(false, true) {
		return
	}
	defer m.listening.Store(false)

	meta, _ := m.userLogin.Metadata.(*UserLoginMetadata)
	retriedUnknown := false
	var lastErrorRestart time.Time

	for {
		select {
		case <-m.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		var initialSeqID int64
		if meta != nil {
			initialSeqID = meta.SeqID
		}
		err := m.mqtt.Listen(ctx, mqtt.ListenParams{
			Host: m.currentHost,
			TokenHash: func() []byte {
				if meta != nil {
					return meta.ConnectTokenHash
				}
				return nil
			},
			InitialSeqID: initialSeqID,
			OnConnect:    func() { m.onRealtimeConnected(ctx) },
			OnDisconnect: m.onRealtimeDisconnect,
			RetryLimit:   mqttRetryLimit,
		})

		switch {
		case err == nil:
			if m.restartRequested.Swap(false) {
				continue
			}
			return
		case errors.Is(err, mqtt.ErrNotLoggedIn):
			m.userLogin.BridgeState.Send(status.BridgeState{
				StateEvent: status.StateBadCredentials,
				Error:      "fb-mqtt-refused",
				Message:    "Facebook rejected the realtime connection",
			})
			return
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return
		case errors.Is(err, mqtt.ErrNotConnected):
			retriedUnknown = false
			if !m.applyReconnectionFailPolicy(ctx) {
				return
			}
		default:
			m.log.Error().Err(err).Msg("Realtime listen loop failed")
			if retriedUnknown {
				m.userLogin.BridgeState.Send(status.BridgeState{
					StateEvent: status.StateUnknownError,
					Error:      "fb-mqtt-error",
					Message:    "Unknown realtime connection error",
				})
				return
			}
			retriedUnknown = true
			if !m.sleepOrStop(ctx, time.Minute) {
				return
			}
		}

		if wait := minListenRestartInterval - time.Since(lastErrorRestart); !lastErrorRestart.IsZero() && wait > 0 {
			if !m.sleepOrStop(ctx, wait) {
				return
			}
		}
		lastErrorRestart = time.Now()
	}
}

// applyReconnectionFailPolicy handles an exhausted reconnect ladder per the
// bridge.on_reconnection_fail config: wait the configured time, then either
// try again as-is or drop the session-resume state so the next attempt
// makes a fresh create-queue connection and refreshes every thread. Returns
// false if the client stopped while waiting.
func (m *MetaClient) applyReconnectionFailPolicy(ctx context.Context) bool {
	cfg := m.connector.Config.Bridge.OnReconnectionFail
	m.userLogin.BridgeState.Send(status.BridgeState{
		StateEvent: status.StateTransientDisconnect,
		Error:      "fb-mqtt-unreachable",
		Message:    "Realtime connection could not be re-established, retrying",
	})
	if cfg.WaitFor > 0 {
		if !m.sleepOrStop(ctx, time.Duration(cfg.WaitFor)*time.Second) {
			return false
		}
	}
	if cfg.Action == "refresh" {
		if meta, ok := m.userLogin.Metadata.(*UserLoginMetadata); ok {
			meta.ConnectTokenHash = nil
		}
		m.resyncOnConnect.Store(true)
	}
	return true
}

func (m *MetaClient) sleepOrStop(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-m.stopChan:
		return false
	case <-ctx.Done():
		return false
	}
}

// onRealtimeConnected runs after every successful CONNECT + queue
// create/resume, including reconnects. An outage longer than
// bridge.resync_max_disconnected_time forces a full thread resync, since
// the delta queue may have silently dropped history that old.
func (m *MetaClient) onRealtimeConnected(ctx context.Context) {
	resync := m.resyncOnConnect.Swap(false)
	window := m.connector.Config.ResyncMaxDisconnectedTime()
	if meta, ok := m.userLogin.Metadata.(*UserLoginMetadata); ok {
		lastSeen := m.lastDisconnect
		if lastSeen.IsZero() && meta.LastConnectedAt > 0 {
			lastSeen = time.Unix(meta.LastConnectedAt, 0)
		}
		if window > 0 && !lastSeen.IsZero() && time.Since(lastSeen) > window {
			resync = true
		}
		meta.LastConnectedAt = time.Now().Unix()
	}
	m.userLogin.BridgeState.Send(status.BridgeState{StateEvent: status.StateConnected})
	if resync {
		go m.syncThreads(ctx)
	}
}

// onRealtimeDisconnect reports connection-level transitions as bridge
// states; the listen loop's own ladder decides what happens next.
func (m *MetaClient) onRealtimeDisconnect(reason mqtt.DisconnectReason, err error) {
	m.lastDisconnect = time.Now()
	switch reason {
	case mqtt.ReasonLocal, mqtt.ReasonRefused:
		// Refusal and shutdown get their terminal state from the listen
		// loop's exit classification.
	default:
		m.log.Warn().Err(err).Int("reason", int(reason)).Msg("Realtime connection lost")
		m.userLogin.BridgeState.Send(status.BridgeState{
			StateEvent: status.StateTransientDisconnect,
			Error:      "fb-mqtt-disconnected",
			Message:    "Realtime connection lost, reconnecting",
		})
	}
}

// requestReconnect tears down the current realtime connection in a way the
// listen loop recognizes as a restart request rather than a shutdown.
func (m *MetaClient) requestReconnect(ctx context.Context) {
	m.restartRequested.Store(true)
	if err := m.mqtt.Disconnect(ctx); err != nil {
		m.log.Debug().Err(err).Msg("Disconnect for reconnect request failed")
	}
}

// Refresh drops the realtime connection, reconnects, and refetches the
// thread inbox. This is the user-facing refresh operation and the
// "refresh"-mode periodic reconnect.
func (m *MetaClient) Refresh(ctx context.Context) {
	m.resyncOnConnect.Store(true)
	m.requestReconnect(ctx)
}

// periodicReconnectLoop drops and redials the realtime connection on the
// configured interval, skipping ticks while the connection is too young
// (min_connected_time) or, unless always is set, while it isn't up at all.
func (m *MetaClient) periodicReconnectLoop(ctx context.Context) {
	cfg := m.connector.Config.Bridge.PeriodicReconnect
	interval := m.connector.Config.PeriodicReconnectInterval()
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		meta, ok := m.userLogin.Metadata.(*UserLoginMetadata)
		if !ok {
			return
		}
		connected := m.listening.Load() && meta.LastConnectedAt > 0
		if !connected && !cfg.Always {
			continue
		}
		if cfg.MinConnectedTime > 0 && time.Since(time.Unix(meta.LastConnectedAt, 0)) < time.Duration(cfg.MinConnectedTime)*time.Second {
			continue
		}
		m.log.Debug().Str("mode", cfg.Mode).Msg("Periodic reconnect")
		if cfg.Mode == "refresh" {
			m.Refresh(ctx)
		} else {
			m.requestReconnect(ctx)
		}
	}
}

// digPath walks nested map[string]any values by key, returning ok=false if
// any segment is missing or not itself a JSON object - used to navigate a
// GraphQL response's {"data": {...}} envelope.
func digPath(data map[string]any, path ...string) (map[string]any, bool) {
	cur := data
	for _, p := range path {
		next, ok := cur[p].(map[string]any)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// syncThreads fetches the caller's thread inbox and queues a ChatResync for
// each one, run once after the first ever connect for a login so every
// existing conversation gets a portal room.
func (m *MetaClient) syncThreads(ctx context.Context) {
	resp, err := m.http.GraphQL(ctx, msgrapihttp.ThreadListQuery{ThreadCount: 20, MsgCount: 1}, true)
	if err != nil {
		m.log.Error().Err(err).Msg("Failed to fetch thread list")
		return
	}
	data, ok := digPath(resp, "data")
	if !ok {
		m.log.Warn().Msg("Thread list response missing data")
		return
	}
	viewer, ok := digPath(data, "viewer")
	if !ok {
		m.log.Warn().Msg("Thread list response missing viewer")
		return
	}
	threadsRaw, ok := viewer["message_threads"].(map[string]any)
	if !ok {
		m.log.Warn().Msg("Thread list response missing message_threads")
		return
	}
	list, err := msgrapihttp.DecodeThreadListResponse(threadsRaw)
	if err != nil {
		m.log.Error().Err(err).Msg("Failed to decode thread list")
		return
	}
	for _, thread := range list.Nodes {
		m.queueThreadResync(thread)
	}
	m.log.Info().Int("count", len(list.Nodes)).Msg("Thread sync complete")
}

// portalKey builds the composite portal primary key for a thread as seen
// by this login. Direct threads are namespaced by the receiving account
// (two bridged users DMing the same person each get their own portal);
// group and page threads are shared, with no receiver.
func (m *MetaClient) portalKey(threadID string, isGroup bool) networkid.PortalKey {
	if isGroup {
		return networkid.PortalKey{ID: MakePortalID(threadID)}
	}
	return MakePortalKey(threadID, m.userLogin.ID)
}

// queueThreadResync converts a thread fetched from the inbox or from a
// ForcedFetch delta into a ChatResync event, creating the portal room on
// first sight and refreshing its metadata and backfill cursor otherwise.
// Threads seen for the first time also get a deferred history backfill
// task queued.
func (m *MetaClient) queueThreadResync(thread msgrapihttp.Thread) {
	chatInfo := m.threadToChatInfo(&thread)
	threadID := thread.ThreadKey.ID()
	portalKey := m.portalKey(threadID, thread.IsGroupThread)

	var latestTS time.Time
	var lastMessageID string
	if len(thread.LastMessage.Nodes) > 0 {
		last := thread.LastMessage.Nodes[0]
		lastMessageID = last.MessageID
		if ms, err := parseTimestampMs(last.TimestampPrecise); err == nil {
			latestTS = time.UnixMilli(ms)
		}
	}

	m.maybeEnqueueBackfill(portalKey, thread.IsGroupThread)

	m.eventSender.QueueRemoteEvent(m.userLogin, &simplevent.ChatResync{
		EventMeta: simplevent.EventMeta{
			Type:      bridgev2.RemoteEventChatResync,
			PortalKey: portalKey,
			LogContext: func(c zerolog.Context) zerolog.Context {
				return c.Str("thread_id", threadID)
			},
			CreatePortal: true,
		},
		ChatInfo:        &chatInfo,
		LatestMessageTS: latestTS,
		CheckNeedsBackfillFunc: func(_ context.Context, latestMessage *database.Message) (bool, error) {
			if latestMessage == nil {
				return lastMessageID != "", nil
			}
			return latestTS.After(latestMessage.Timestamp), nil
		},
	})
}

// Disconnect closes the realtime connection and stops the client's event loop.
func (m *MetaClient) Disconnect() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
	})
	if m.backfillCancel != nil {
		m.backfillCancel()
	}
	if m.presence != nil {
		m.presence.Stop()
	}
	m.seqMu.Lock()
	if m.seqTimer != nil {
		m.seqTimer.Stop()
	}
	m.seqMu.Unlock()
	if m.mqtt != nil {
		_ = m.mqtt.Disconnect(context.Background())
		m.mqtt.Close()
	}
}

// IsLoggedIn reports whether the client holds a complete auth tuple.
func (m *MetaClient) IsLoggedIn() bool {
	meta, ok := m.userLogin.Metadata.(*UserLoginMetadata)
	return ok && meta.State != nil && meta.State.Session.LoggedIn()
}

// LogoutRemote has no dedicated remote endpoint to call; it drops the local
// session so the account must log in again, and clears any history work
// still queued for it.
func (m *MetaClient) LogoutRemote(ctx context.Context) {
	if meta, ok := m.userLogin.Metadata.(*UserLoginMetadata); ok {
		meta.State = nil
	}
	if m.connector.BackfillQueue != nil {
		if err := m.connector.BackfillQueue.DeleteForUser(ctx, m.userLogin.UserMXID); err != nil {
			m.log.Warn().Err(err).Msg("Failed to clear backfill queue on logout")
		}
	}
	m.Disconnect()
}

// IsThisUser reports whether the given network user ID matches this
// client's own Facebook account.
func (m *MetaClient) IsThisUser(_ context.Context, userID networkid.UserID) bool {
	fbid, err := ParseUserID(userID)
	return err == nil && fbid == m.fbid
}

func (m *MetaClient) GetChatInfo(ctx context.Context, portal *bridgev2.Portal) (*bridgev2.ChatInfo, error) {
	threadID := ParsePortalID(portal.ID)
	thread, err := m.fetchThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	info := m.threadToChatInfo(thread)
	return &info, nil
}

func (m *MetaClient) GetUserInfo(ctx context.Context, ghost *bridgev2.Ghost) (*bridgev2.UserInfo, error) {
	participant, err := m.fetchParticipant(ctx, string(ghost.ID))
	if err != nil {
		return nil, err
	}
	info := m.participantToUserInfo(*participant)
	return &info, nil
}

func (m *MetaClient) GetCapabilities(_ context.Context, _ *bridgev2.Portal) *event.RoomFeatures {
	return &event.RoomFeatures{
		Formatting: event.FormattingFeatureMap{
			event.FmtBold:          event.CapLevelFullySupported,
			event.FmtItalic:        event.CapLevelFullySupported,
			event.FmtStrikethrough: event.CapLevelFullySupported,
			event.FmtUserLink:      event.CapLevelFullySupported,
		},
		File: event.FileFeatureMap{
			event.MsgImage: {
				MimeTypes: map[string]event.CapabilitySupportLevel{
					"image/*": event.CapLevelFullySupported,
				},
				MaxSize: 25 * 1024 * 1024,
				Caption: event.CapLevelFullySupported,
			},
			event.MsgVideo: {
				MimeTypes: map[string]event.CapabilitySupportLevel{
					"video/*": event.CapLevelFullySupported,
				},
				MaxSize: 25 * 1024 * 1024,
				Caption: event.CapLevelFullySupported,
			},
			event.MsgAudio: {
				MimeTypes: map[string]event.CapabilitySupportLevel{
					"audio/*": event.CapLevelFullySupported,
				},
				MaxSize: 25 * 1024 * 1024,
			},
			event.MsgFile: {
				MimeTypes: map[string]event.CapabilitySupportLevel{
					"*/*": event.CapLevelFullySupported,
				},
				MaxSize: 25 * 1024 * 1024,
			},
		},
		MaxTextLength:       20000,
		Reply:               event.CapLevelFullySupported,
		Delete:              event.CapLevelFullySupported,
		Reaction:            event.CapLevelFullySupported,
		ReadReceipts:        true,
		TypingNotifications: true,
	}
}

// sendLock returns the per-thread mutex serializing outbound sends, so two
// concurrent Matrix-origin sends to the same thread don't race the OTI
// pending-send tracking in dedup.go.
func (m *MetaClient) sendLock(threadID string) *sync.Mutex {
	m.sendLocksMu.Lock()
	defer m.sendLocksMu.Unlock()
	lock, ok := m.sendLocks[threadID]
	if !ok {
		lock = &sync.Mutex{}
		m.sendLocks[threadID] = lock
	}
	return lock
}

// currentHost returns the MQTT host the next Connect/reconnect attempt
// should dial, honoring a region hint redirect if one was received on the
// current connection. An empty string tells mqtt.Client to use its default.
func (m *MetaClient) currentHost() string {
	m.hostMu.Lock()
	defer m.hostMu.Unlock()
	return m.hostOverride
}

// setHostOverride records a region hint's host for the next reconnect.
func (m *MetaClient) setHostOverride(host string) {
	m.hostMu.Lock()
	defer m.hostMu.Unlock()
	m.hostOverride = host
}

// noteSeqID updates the in-memory seq_id checkpoint immediately and
// schedules a debounced save, so a fast-moving thread doesn't write to the
// database on every delta.
func (m *MetaClient) noteSeqID(ctx context.Context, seqID int64) {
	meta, ok := m.userLogin.Metadata.(*UserLoginMetadata)
	if !ok || seqID <= meta.SeqID {
		return
	}
	meta.SeqID = seqID
	if m.mqtt != nil {
		m.mqtt.NoteSeqID(seqID)
	}

	m.seqMu.Lock()
	defer m.seqMu.Unlock()
	if m.seqTimer != nil {
		m.seqDirty = true
		return
	}
	m.seqTimer = time.AfterFunc(seqPersistDebounce, func() { m.flushSeqID(ctx) })
}

// flushSeqID persists the current seq_id checkpoint, then either clears the
// debounce timer or reschedules it if another update arrived meanwhile.
func (m *MetaClient) flushSeqID(ctx context.Context) {
	if err := m.userLogin.Save(ctx); err != nil {
		m.log.Warn().Err(err).Msg("Failed to persist seq_id checkpoint")
	}

	m.seqMu.Lock()
	defer m.seqMu.Unlock()
	if m.seqDirty {
		m.seqDirty = false
		m.seqTimer = time.AfterFunc(seqPersistDebounce, func() { m.flushSeqID(ctx) })
	} else {
		m.seqTimer = nil
	}
}
