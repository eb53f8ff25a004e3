// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"testing"

	"maunium.net/go/mautrix/bridgev2/database"

	msgrapihttp "go.mau.fi/mautrix-meta/pkg/msgrapi/http"
)

func TestFetchThread_Success(t *testing.T) {
	t.Parallel()
	fake := newFakeMeta()
	t.Cleanup(fake.Close)

	fake.GraphQLResponses[msgrapihttp.ThreadQuery{}.DocID()] = map[string]any{
		"message_threads": []map[string]any{
			{
				"id":         "100055",
				"name":       "Group Chat",
				"thread_key": map[string]any{"thread_fbid": "100055"},
			},
		},
	}

	mc := newFullTestClient(fake)
	thread, err := mc.fetchThread(context.Background(), "100055")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if thread.Name != "Group Chat" {
		t.Errorf("Name: got %q, want %q", thread.Name, "Group Chat")
	}
}

func TestFetchThread_NotFound(t *testing.T) {
	t.Parallel()
	fake := newFakeMeta()
	t.Cleanup(fake.Close)

	mc := newFullTestClient(fake)
	_, err := mc.fetchThread(context.Background(), "999999")
	if err == nil {
		t.Fatal("expected error for missing thread")
	}
}

func TestFetchParticipant_Success(t *testing.T) {
	t.Parallel()
	fake := newFakeMeta()
	t.Cleanup(fake.Close)

	fake.GraphQLResponses[msgrapihttp.ThreadQuery{}.DocID()] = map[string]any{
		"message_threads": []map[string]any{
			{
				"id": "100044",
				"all_participants": map[string]any{
					"nodes": []map[string]any{
						{"id": "100044", "name": "Alice", "username": "alice"},
						{"id": "100055", "name": "Bob"},
					},
				},
			},
		},
	}

	mc := newFullTestClient(fake)
	p, err := mc.fetchParticipant(context.Background(), "100044")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name != "Alice" {
		t.Errorf("Name: got %q, want %q", p.Name, "Alice")
	}
}

func TestFetchParticipant_NotInThread(t *testing.T) {
	t.Parallel()
	fake := newFakeMeta()
	t.Cleanup(fake.Close)

	fake.GraphQLResponses[msgrapihttp.ThreadQuery{}.DocID()] = map[string]any{
		"message_threads": []map[string]any{
			{
				"id": "100044",
				"all_participants": map[string]any{
					"nodes": []map[string]any{
						{"id": "100055", "name": "Bob"},
					},
				},
			},
		},
	}

	mc := newFullTestClient(fake)
	_, err := mc.fetchParticipant(context.Background(), "100044")
	if err == nil {
		t.Fatal("expected error when the caller is absent from its own thread fetch")
	}
}

func TestThreadToChatInfo_Group(t *testing.T) {
	t.Parallel()
	fake := newFakeMeta()
	t.Cleanup(fake.Close)
	mc := newFullTestClient(fake)

	thread := &msgrapihttp.Thread{
		ID:            "100055",
		Name:          "Group Chat",
		IsGroupThread: true,
		ThreadKey:     msgrapihttp.ThreadKey{ThreadFBID: "100055"},
		AllParticipants: msgrapihttp.ParticipantList{
			Nodes: []msgrapihttp.Participant{{ID: "100044"}, {ID: "100055"}},
		},
	}

	info := mc.threadToChatInfo(thread)

	if info.Type == nil || *info.Type != database.RoomTypeGroupDM {
		t.Fatalf("Type: got %v, want RoomTypeGroupDM", info.Type)
	}
	if info.Name == nil || *info.Name != "Group Chat" {
		t.Errorf("Name: got %v, want %q", info.Name, "Group Chat")
	}
	if info.Members == nil || len(info.Members.MemberMap) != 2 {
		t.Fatalf("expected 2 members, got %v", info.Members)
	}
	if !info.Members.IsFull {
		t.Error("Members.IsFull should be true")
	}
}

func TestThreadToChatInfo_DM(t *testing.T) {
	t.Parallel()
	fake := newFakeMeta()
	t.Cleanup(fake.Close)
	mc := newFullTestClient(fake)

	thread := &msgrapihttp.Thread{
		ID:            "100066",
		IsGroupThread: false,
		ThreadKey:     msgrapihttp.ThreadKey{OtherUserID: "100066"},
		AllParticipants: msgrapihttp.ParticipantList{
			Nodes: []msgrapihttp.Participant{{ID: "100044"}, {ID: "100066"}},
		},
	}

	info := mc.threadToChatInfo(thread)

	if info.Type == nil || *info.Type != database.RoomTypeDM {
		t.Fatalf("Type: got %v, want RoomTypeDM", info.Type)
	}
	if info.Members.OtherUserID != MakeUserID(100066) {
		t.Errorf("OtherUserID: got %q, want %q", info.Members.OtherUserID, MakeUserID(100066))
	}
}

func TestThreadToChatInfo_Avatar(t *testing.T) {
	t.Parallel()
	fake := newFakeMeta()
	t.Cleanup(fake.Close)
	mc := newFullTestClient(fake)

	thread := &msgrapihttp.Thread{
		ID:        "100055",
		ThreadKey: msgrapihttp.ThreadKey{ThreadFBID: "100055"},
		Image:     &msgrapihttp.Picture{URI: "https://fbcdn.net/pic.jpg"},
	}

	info := mc.threadToChatInfo(thread)
	if info.Avatar == nil {
		t.Fatal("expected Avatar to be set when thread.Image is present")
	}
	if info.Avatar.ID != "https://fbcdn.net/pic.jpg" {
		t.Errorf("Avatar.ID: got %q", info.Avatar.ID)
	}
}

func TestThreadToChatInfo_NoAvatar(t *testing.T) {
	t.Parallel()
	fake := newFakeMeta()
	t.Cleanup(fake.Close)
	mc := newFullTestClient(fake)

	thread := &msgrapihttp.Thread{ID: "100055", ThreadKey: msgrapihttp.ThreadKey{ThreadFBID: "100055"}}
	info := mc.threadToChatInfo(thread)
	if info.Avatar != nil {
		t.Error("Avatar should be nil when the thread has no image")
	}
}

func TestParticipantToUserInfo(t *testing.T) {
	t.Parallel()
	fake := newFakeMeta()
	t.Cleanup(fake.Close)
	mc := newFullTestClient(fake)

	p := msgrapihttp.Participant{ID: "100044", Name: "Alice", Username: "alice"}
	info := mc.participantToUserInfo(p)

	if info.Name == nil || *info.Name == "" {
		t.Fatal("Name should be populated")
	}
	if len(info.Identifiers) != 1 || info.Identifiers[0] != "facebook:100044" {
		t.Errorf("Identifiers: got %v, want [facebook:100044]", info.Identifiers)
	}
}

func TestParticipantToUserInfo_Avatar(t *testing.T) {
	t.Parallel()
	fake := newFakeMeta()
	t.Cleanup(fake.Close)
	mc := newFullTestClient(fake)

	p := msgrapihttp.Participant{
		ID:              "100044",
		Name:            "Alice",
		ProfilePicLarge: &msgrapihttp.Picture{URI: "https://fbcdn.net/avatar.jpg"},
	}
	info := mc.participantToUserInfo(p)
	if info.Avatar == nil {
		t.Fatal("expected Avatar to be set when ProfilePicLarge is present")
	}
}
