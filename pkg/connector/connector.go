// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"

	"maunium.net/go/mautrix/bridgev2"
	"maunium.net/go/mautrix/bridgev2/database"

	metadb "go.mau.fi/mautrix-meta/pkg/connector/database"
	"go.mau.fi/mautrix-meta/pkg/connector/web"
	"go.mau.fi/mautrix-meta/pkg/msgrapi"
)

// MetaConnector implements bridgev2.NetworkConnector for Facebook Messenger.
type MetaConnector struct {
	Bridge *bridgev2.Bridge
	Config Config

	// BackfillQueue is the persisted history-backfill scheduler, shared by
	// every login's worker. Nil until Start.
	BackfillQueue *metadb.BackfillQueue

	web *web.Server
}

var _ bridgev2.NetworkConnector = (*MetaConnector)(nil)

func (mc *MetaConnector) Init(bridge *bridgev2.Bridge) {
	mc.Bridge = bridge
}

func (mc *MetaConnector) Start(ctx context.Context) error {
	if err := mc.Config.PostProcess(); err != nil {
		return fmt.Errorf("failed to post-process config: %w", err)
	}

	mc.BackfillQueue = metadb.NewBackfillQueue(mc.Bridge.DB.Database, mc.Bridge.Log)
	if err := mc.BackfillQueue.Upgrade(ctx); err != nil {
		return fmt.Errorf("failed to upgrade backfill queue table: %w", err)
	}

	if mc.Config.Web.ListenAddr != "" {
		mc.web = &web.Server{
			Bridge: mc.Bridge,
			Addr:   mc.Config.Web.ListenAddr,
			Log:    mc.Bridge.Log.With().Str("component", "login website").Logger(),
		}
		go mc.web.Start(ctx)
	}

	return nil
}

func (mc *MetaConnector) Stop() {
	if mc.web != nil {
		mc.web.Stop()
	}
}

func (mc *MetaConnector) LoadUserLogin(_ context.Context, login *bridgev2.UserLogin) error {
	meta, ok := login.Metadata.(*UserLoginMetadata)
	if !ok {
		meta = &UserLoginMetadata{}
		login.Metadata = meta
	}
	if meta.State == nil {
		meta.State = newAccountState(mc.Config, string(login.UserMXID))
	}
	login.Client = NewMetaClient(login, mc)
	return nil
}

func (mc *MetaConnector) GetName() bridgev2.BridgeName {
	return bridgev2.BridgeName{
		DisplayName:      "Messenger",
		NetworkURL:       "https://messenger.com",
		NetworkIcon:      "mxc://maunium.net/messenger",
		NetworkID:        "messenger",
		BeeperBridgeType: "messenger",
		DefaultPort:      29319,
	}
}

func (mc *MetaConnector) GetDBMetaTypes() database.MetaTypes {
	return database.MetaTypes{
		UserLogin: func() any {
			return &UserLoginMetadata{}
		},
		Portal: func() any {
			return &PortalMetadata{}
		},
		Ghost: func() any {
			return &GhostMetadata{}
		},
		Message: func() any {
			return &MessageMetadata{}
		},
	}
}

func (mc *MetaConnector) GetCapabilities() *bridgev2.NetworkGeneralCapabilities {
	return &bridgev2.NetworkGeneralCapabilities{
		DisappearingMessages: false,
		AggressiveUpdateInfo: false,
	}
}

func (mc *MetaConnector) GetBridgeInfoVersion() (info, capabilities int) {
	return 1, 1
}

// UserLoginMetadata stores the Facebook-specific login state: the signed
// device/session identity (component B) that every HTTP request and MQTT
// CONNECT frame for this login is derived from, plus the delta sync cursor.
type UserLoginMetadata struct {
	State *msgrapi.State `json:"state"`

	SeqID            int64  `json:"seq_id,omitempty"`
	ConnectTokenHash []byte `json:"connect_token_hash,omitempty"`
	LastConnectedAt  int64  `json:"last_connected_at,omitempty"`
}

// PortalMetadata stores per-thread state that isn't part of bridgev2's
// generic Portal row: the thread shape and the backfill staleness cursor.
type PortalMetadata struct {
	ThreadType ThreadType `json:"thread_type"`
	LastSeqID  int64      `json:"last_seq_id,omitempty"`
}

// GhostMetadata stores per-contact state outside bridgev2's generic Ghost row.
type GhostMetadata struct {
	BlockedByViewer bool `json:"blocked_by_viewer,omitempty"`
}

// MessageMetadata stores the offline threading id a message was sent with,
// so a later remote echo from the delta sync stream can be deduplicated
// against the Matrix-origin send that produced it.
type MessageMetadata struct {
	OfflineThreadingID int64 `json:"oti,omitempty"`
}

// newAccountState builds a fresh account identity blob for a Matrix user
// logging in for the first time, deriving the device identity from the
// configured seed and applying the deployment's fixed
// network/carrier profile.
func newAccountState(cfg Config, matrixUserID string) *msgrapi.State {
	state := msgrapi.NewState()
	state.Generate(cfg.Facebook.DeviceSeed, matrixUserID)
	state.Device.ConnectionType = cfg.Facebook.ConnectionType
	state.Carrier.Name = cfg.Facebook.Carrier
	state.Carrier.HNI = cfg.Facebook.HNI
	state.Session.RegionHint = cfg.Facebook.DefaultRegionHint
	return state
}
