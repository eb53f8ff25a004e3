// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"strings"
	"sync"
	"testing"

	"maunium.net/go/mautrix/bridgev2"
	"maunium.net/go/mautrix/bridgev2/database"

	msgrapihttp "go.mau.fi/mautrix-meta/pkg/msgrapi/http"
)

func TestNewMetaClient_WithState(t *testing.T) {
	t.Parallel()
	fake := newFakeMeta()
	t.Cleanup(fake.Close)

	mc := newFullTestClient(fake)

	if mc.connector == nil {
		t.Error("connector should be set")
	}
	if mc.http == nil {
		t.Fatal("http client should not be nil when metadata has a valid state")
	}
	if mc.mqtt == nil {
		t.Fatal("mqtt client should not be nil when metadata has a valid state")
	}
	if !mc.IsLoggedIn() {
		t.Error("should be logged in with a complete auth tuple")
	}
	if mc.eventSender == nil {
		t.Error("eventSender should not be nil")
	}
}

func TestNewMetaClient_EmptyMetadata(t *testing.T) {
	t.Parallel()
	mc := newNotLoggedInClient()

	if mc.http != nil {
		t.Error("http client should be nil when metadata has no state")
	}
	if mc.IsLoggedIn() {
		t.Error("should not be logged in with empty metadata")
	}
}

func TestDisconnect_ClosesStopChan(t *testing.T) {
	t.Parallel()
	fake := newFakeMeta()
	t.Cleanup(fake.Close)

	mc := newFullTestClient(fake)
	mc.Disconnect()

	select {
	case <-mc.stopChan:
	default:
		t.Fatal("stopChan was not closed after Disconnect")
	}
}

func TestDisconnect_DoubleSafe(t *testing.T) {
	t.Parallel()
	mc := newNotLoggedInClient()
	mc.Disconnect()
	mc.Disconnect() // second call must not panic
}

func TestDisconnect_ConcurrentSafe(t *testing.T) {
	t.Parallel()
	mc := newNotLoggedInClient()

	const goroutines = 100
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for range goroutines {
		go func() {
			defer wg.Done()
			mc.Disconnect()
		}()
	}
	wg.Wait()

	select {
	case <-mc.stopChan:
	default:
		t.Fatal("stopChan was not closed after concurrent Disconnect calls")
	}
}

func TestLogoutRemote_ClearsState(t *testing.T) {
	t.Parallel()
	fake := newFakeMeta()
	t.Cleanup(fake.Close)

	mc := newFullTestClient(fake)
	mc.LogoutRemote(context.Background())

	meta, ok := mc.userLogin.Metadata.(*UserLoginMetadata)
	if !ok {
		t.Fatal("metadata should still be *UserLoginMetadata")
	}
	if meta.State != nil {
		t.Error("LogoutRemote should clear the account state")
	}
	select {
	case <-mc.stopChan:
	default:
		t.Fatal("LogoutRemote should disconnect")
	}
}

func TestIsThisUser(t *testing.T) {
	t.Parallel()
	mc := newNotLoggedInClient()
	mc.fbid = 100044

	if !mc.IsThisUser(context.Background(), MakeUserID(100044)) {
		t.Error("own fbid should be recognized as this user")
	}
	if mc.IsThisUser(context.Background(), MakeUserID(999)) {
		t.Error("other fbid should not be recognized as this user")
	}
}

func TestGetChatInfo_Success(t *testing.T) {
	t.Parallel()
	fake := newFakeMeta()
	t.Cleanup(fake.Close)

	fake.GraphQLResponses[msgrapihttp.ThreadQuery{}.DocID()] = map[string]any{
		"message_threads": []map[string]any{
			{
				"id":              "100055",
				"name":            "Test Thread",
				"thread_key":      map[string]any{"thread_fbid": "100055"},
				"is_group_thread": true,
				"all_participants": map[string]any{
					"nodes": []map[string]any{
						{"id": "100044"},
						{"id": "100055"},
					},
				},
			},
		},
	}

	mc := newFullTestClient(fake)
	portal := makeTestPortal("100055")

	info, err := mc.GetChatInfo(context.Background(), portal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Name == nil || *info.Name != "Test Thread" {
		t.Fatalf("expected name %q, got %v", "Test Thread", info.Name)
	}
	if info.Members == nil || len(info.Members.MemberMap) != 2 {
		t.Fatalf("expected 2 members, got %v", info.Members)
	}
}

func TestGetChatInfo_ThreadNotFound(t *testing.T) {
	t.Parallel()
	fake := newFakeMeta()
	t.Cleanup(fake.Close)
	// No canned response registered: doc_id lookup returns an empty thread list.

	mc := newFullTestClient(fake)
	portal := makeTestPortal("100055")

	_, err := mc.GetChatInfo(context.Background(), portal)
	if err == nil {
		t.Fatal("expected error when thread is not found")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("error should mention the thread was not found, got: %v", err)
	}
}

func TestGetUserInfo_Success(t *testing.T) {
	t.Parallel()
	fake := newFakeMeta()
	t.Cleanup(fake.Close)

	fake.GraphQLResponses[msgrapihttp.ThreadQuery{}.DocID()] = map[string]any{
		"message_threads": []map[string]any{
			{
				"id":         "100044",
				"thread_key": map[string]any{"other_user_id": "100044"},
				"all_participants": map[string]any{
					"nodes": []map[string]any{
						{"id": "100044", "name": "Test User", "username": "testuser"},
					},
				},
			},
		},
	}

	mc := newFullTestClient(fake)
	ghost := &bridgev2.Ghost{Ghost: &database.Ghost{ID: MakeUserID(100044)}}

	info, err := mc.GetUserInfo(context.Background(), ghost)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Name == nil || *info.Name != "Test User" {
		t.Fatalf("expected name %q, got %v", "Test User", info.Name)
	}
}

func TestGetUserInfo_NotFound(t *testing.T) {
	t.Parallel()
	fake := newFakeMeta()
	t.Cleanup(fake.Close)

	fake.GraphQLResponses[msgrapihttp.ThreadQuery{}.DocID()] = map[string]any{
		"message_threads": []map[string]any{
			{
				"id":         "100044",
				"thread_key": map[string]any{"other_user_id": "100044"},
				"all_participants": map[string]any{
					"nodes": []map[string]any{
						{"id": "999999", "name": "Someone Else"},
					},
				},
			},
		},
	}

	mc := newFullTestClient(fake)
	ghost := &bridgev2.Ghost{Ghost: &database.Ghost{ID: MakeUserID(100044)}}

	_, err := mc.GetUserInfo(context.Background(), ghost)
	if err == nil {
		t.Fatal("expected error when the participant is not in the thread")
	}
}

func TestSyncThreads_QueuesChatResync(t *testing.T) {
	t.Parallel()
	fake := newFakeMeta()
	t.Cleanup(fake.Close)

	fake.GraphQLResponses[msgrapihttp.ThreadListQuery{}.DocID()] = map[string]any{
		"viewer": map[string]any{
			"message_threads": map[string]any{
				"count": 2,
				"nodes": []map[string]any{
					{
						"id":         "100055",
						"thread_key": map[string]any{"thread_fbid": "100055"},
						"all_participants": map[string]any{
							"nodes": []map[string]any{{"id": "100044"}, {"id": "100055"}},
						},
					},
					{
						"id":         "100066",
						"thread_key": map[string]any{"other_user_id": "100066"},
						"all_participants": map[string]any{
							"nodes": []map[string]any{{"id": "100044"}, {"id": "100066"}},
						},
					},
				},
			},
		},
	}

	mc := newFullTestClient(fake)
	mock := testMock(mc)

	mc.syncThreads(context.Background())

	events := mock.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 ChatResync events, got %d", len(events))
	}
	for _, evt := range events {
		if evt.GetType() != bridgev2.RemoteEventChatResync {
			t.Errorf("event type: got %v, want RemoteEventChatResync", evt.GetType())
		}
	}
}

func TestSyncThreads_FetchError(t *testing.T) {
	t.Parallel()
	fake := newFakeMeta()
	t.Cleanup(fake.Close)
	fake.GraphQLErrors[msgrapihttp.ThreadListQuery{}.DocID()] = map[string]any{"message": "fake error"}

	mc := newFullTestClient(fake)
	// Should return without panic; the error is logged, not propagated.
	mc.syncThreads(context.Background())
}

func TestPortalKey(t *testing.T) {
	t.Parallel()
	mc := newNotLoggedInClient()
	mc.userLogin.ID = MakeUserLoginID(100044)

	key := mc.portalKey("100055", false)
	if key.ID != MakePortalID("100055") {
		t.Errorf("portal ID: got %q, want %q", key.ID, MakePortalID("100055"))
	}
	if key.Receiver != mc.userLogin.ID {
		t.Errorf("portal receiver: got %q, want %q", key.Receiver, mc.userLogin.ID)
	}

	groupKey := mc.portalKey("987654", true)
	if groupKey.ID != MakePortalID("987654") {
		t.Errorf("group portal ID: got %q, want %q", groupKey.ID, MakePortalID("987654"))
	}
	if groupKey.Receiver != "" {
		t.Errorf("group portal receiver: got %q, want empty", groupKey.Receiver)
	}
}
