// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"testing"

	"maunium.net/go/mautrix/bridgev2"
	"maunium.net/go/mautrix/bridgev2/database"
	"maunium.net/go/mautrix/id"

	"go.mau.fi/mautrix-meta/pkg/msgrapi"
)

func TestGetName(t *testing.T) {
	mc := &MetaConnector{}
	name := mc.GetName()

	if name.DisplayName != "Messenger" {
		t.Errorf("DisplayName: got %q, want %q", name.DisplayName, "Messenger")
	}
	if name.NetworkID != "messenger" {
		t.Errorf("NetworkID: got %q, want %q", name.NetworkID, "messenger")
	}
	if name.DefaultPort != 29319 {
		t.Errorf("DefaultPort: got %d, want %d", name.DefaultPort, 29319)
	}
	if name.BeeperBridgeType != "messenger" {
		t.Errorf("BeeperBridgeType: got %q, want %q", name.BeeperBridgeType, "messenger")
	}
}

func TestGetCapabilities(t *testing.T) {
	mc := &MetaConnector{}
	caps := mc.GetCapabilities()

	if caps == nil {
		t.Fatal("GetCapabilities returned nil")
	}
	if caps.DisappearingMessages {
		t.Error("DisappearingMessages should be false")
	}
	if caps.AggressiveUpdateInfo {
		t.Error("AggressiveUpdateInfo should be false")
	}
}

func TestGetBridgeInfoVersion(t *testing.T) {
	mc := &MetaConnector{}
	info, caps := mc.GetBridgeInfoVersion()

	if info != 1 {
		t.Errorf("info version: got %d, want 1", info)
	}
	if caps != 1 {
		t.Errorf("caps version: got %d, want 1", caps)
	}
}

func TestGetDBMetaTypes(t *testing.T) {
	mc := &MetaConnector{}
	meta := mc.GetDBMetaTypes()

	if meta.UserLogin == nil {
		t.Fatal("UserLogin meta factory should not be nil")
	}
	if _, ok := meta.UserLogin().(*UserLoginMetadata); !ok {
		t.Errorf("UserLogin factory returned wrong type")
	}
	if _, ok := meta.Portal().(*PortalMetadata); !ok {
		t.Errorf("Portal factory returned wrong type")
	}
	if _, ok := meta.Ghost().(*GhostMetadata); !ok {
		t.Errorf("Ghost factory returned wrong type")
	}
	if _, ok := meta.Message().(*MessageMetadata); !ok {
		t.Errorf("Message factory returned wrong type")
	}
}

// TestGetConfigBeforeInit ensures GetConfig returns an addressable config
// the YAML upgrader can write to even before Init is called.
func TestGetConfigBeforeInit(t *testing.T) {
	mc := &MetaConnector{}
	example, data, upgrader := mc.GetConfig()

	if example == "" {
		t.Error("example config should not be empty")
	}
	if data == nil {
		t.Fatal("config data must not be nil before Init")
	}
	if upgrader == nil {
		t.Fatal("upgrader must not be nil")
	}
	ptr, ok := data.(*Config)
	if !ok || ptr != &mc.Config {
		t.Error("GetConfig should return a pointer to the connector's own Config")
	}
}

func TestInit(t *testing.T) {
	mc := &MetaConnector{}
	bridge := &bridgev2.Bridge{}
	mc.Init(bridge)
	if mc.Bridge != bridge {
		t.Error("Init should set Bridge")
	}
}

func TestLoadUserLogin_FreshMetadata(t *testing.T) {
	mc := &MetaConnector{}
	login := &bridgev2.UserLogin{
		UserLogin: &database.UserLogin{UserMXID: id.UserID("@alice:example.com")},
	}

	err := mc.LoadUserLogin(context.Background(), login)
	if err != nil {
		t.Fatalf("LoadUserLogin returned error: %v", err)
	}

	meta, ok := login.Metadata.(*UserLoginMetadata)
	if !ok {
		t.Fatal("Metadata should be *UserLoginMetadata after LoadUserLogin")
	}
	if meta.State == nil {
		t.Fatal("LoadUserLogin should generate account state when none exists")
	}
	if login.Client == nil {
		t.Error("LoadUserLogin should assign a Client")
	}
	if _, ok := login.Client.(*MetaClient); !ok {
		t.Errorf("Client should be *MetaClient, got %T", login.Client)
	}
}

func TestLoadUserLogin_PreservesExistingState(t *testing.T) {
	mc := &MetaConnector{}
	existing := msgrapi.NewState()
	existing.Session.UID = 555
	login := &bridgev2.UserLogin{
		UserLogin: &database.UserLogin{},
	}
	login.Metadata = &UserLoginMetadata{State: existing}

	err := mc.LoadUserLogin(context.Background(), login)
	if err != nil {
		t.Fatalf("LoadUserLogin returned error: %v", err)
	}

	meta := login.Metadata.(*UserLoginMetadata)
	if meta.State.Session.UID != 555 {
		t.Errorf("existing state should be preserved, UID got %d, want 555", meta.State.Session.UID)
	}
}

func TestNewAccountState(t *testing.T) {
	cfg := Config{}
	cfg.Facebook.DeviceSeed = "seed-a"
	cfg.Facebook.ConnectionType = "WIFI"
	cfg.Facebook.Carrier = "Verizon"
	cfg.Facebook.HNI = 311390
	cfg.Facebook.DefaultRegionHint = "ODN"

	state := newAccountState(cfg, "@bob:example.com")

	if state.Device.UUID == "" {
		t.Error("device UUID should be derived")
	}
	if state.Device.ConnectionType != "WIFI" {
		t.Errorf("ConnectionType: got %q, want WIFI", state.Device.ConnectionType)
	}
	if state.Carrier.Name != "Verizon" {
		t.Errorf("Carrier.Name: got %q, want Verizon", state.Carrier.Name)
	}
	if state.Carrier.HNI != 311390 {
		t.Errorf("Carrier.HNI: got %d, want 311390", state.Carrier.HNI)
	}
	if state.Session.RegionHint != "ODN" {
		t.Errorf("RegionHint: got %q, want ODN", state.Session.RegionHint)
	}

	// Deriving again from the same seed+MXID must reproduce the same device
	// identity, so re-running login for the same Matrix user is stable.
	again := newAccountState(cfg, "@bob:example.com")
	if again.Device.UUID != state.Device.UUID {
		t.Error("same seed+MXID should derive the same device UUID")
	}

	other := newAccountState(cfg, "@carol:example.com")
	if other.Device.UUID == state.Device.UUID {
		t.Error("different MXIDs should derive different device UUIDs")
	}
}
