// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"strings"
	"testing"

	"maunium.net/go/mautrix/bridgev2"
	"maunium.net/go/mautrix/bridgev2/database"
	"maunium.net/go/mautrix/event"

	msgrapihttp "go.mau.fi/mautrix-meta/pkg/msgrapi/http"
)

// ---------------------------------------------------------------------------
// HandleMatrixMessage tests
//
// A successful send requires a live MQTToT connection, which newFullTestClient
// cannot simulate (fakeMeta only fakes the HTTP/GraphQL surface). These tests
// cover the paths reachable without one: validation before the send, and the
// "mqtt: not connected" error surfaced by an unconnected mqtt.Client.
// ---------------------------------------------------------------------------

func TestHandleMatrixMessage_NotLoggedIn(t *testing.T) {
	t.Parallel()
	mc := newNotLoggedInClient()

	msg := &bridgev2.MatrixMessage{
		MatrixEventBase: bridgev2.MatrixEventBase[*event.MessageEventContent]{
			Portal:  makeTestPortal("100055"),
			Content: &event.MessageEventContent{MsgType: event.MsgText, Body: "Hello"},
		},
	}

	_, err := mc.HandleMatrixMessage(context.Background(), msg)
	if !errors.Is(err, bridgev2.ErrNotLoggedIn) {
		t.Errorf("expected ErrNotLoggedIn, got: %v", err)
	}
}

func TestHandleMatrixMessage_UnsupportedType(t *testing.T) {
	t.Parallel()
	fake := newFakeMeta()
	t.Cleanup(fake.Close)
	mc := newFullTestClient(fake)

	msg := &bridgev2.MatrixMessage{
		MatrixEventBase: bridgev2.MatrixEventBase[*event.MessageEventContent]{
			Portal:  makeTestPortal("100055"),
			Content: &event.MessageEventContent{MsgType: event.MessageType("m.custom"), Body: "custom"},
		},
	}

	_, err := mc.HandleMatrixMessage(context.Background(), msg)
	if err == nil {
		t.Fatal("expected error for unsupported message type")
	}
	if !strings.Contains(err.Error(), "unsupported") {
		t.Errorf("expected error containing 'unsupported', got: %v", err)
	}
}

func TestHandleMatrixMessage_NotConnected(t *testing.T) {
	t.Parallel()
	fake := newFakeMeta()
	t.Cleanup(fake.Close)
	mc := newFullTestClient(fake)

	msg := &bridgev2.MatrixMessage{
		MatrixEventBase: bridgev2.MatrixEventBase[*event.MessageEventContent]{
			Portal:  makeTestPortal("100055"),
			Content: &event.MessageEventContent{MsgType: event.MsgText, Body: "Hello"},
		},
	}

	_, err := mc.HandleMatrixMessage(context.Background(), msg)
	if err == nil {
		t.Fatal("expected error when the realtime connection isn't up")
	}
	if !strings.Contains(err.Error(), "failed to send message") {
		t.Errorf("expected send-failure wrapping, got: %v", err)
	}
}

// ---------------------------------------------------------------------------
// HandleMatrixMessageRemove tests (GraphQL-backed, fully fakeable)
// ---------------------------------------------------------------------------

func TestHandleMatrixMessageRemove_Success(t *testing.T) {
	t.Parallel()
	fake := newFakeMeta()
	t.Cleanup(fake.Close)
	mc := newFullTestClient(fake)

	msg := &bridgev2.MatrixMessageRemove{
		MatrixEventBase: bridgev2.MatrixEventBase[*event.RedactionEventContent]{
			Portal: makeTestPortal("100055"),
		},
		TargetMessage: &database.Message{ID: MakeMessageID("mid.123")},
	}

	err := mc.HandleMatrixMessageRemove(context.Background(), msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fake.CalledPath("/graphql") {
		t.Error("expected /graphql to be called")
	}
}

func TestHandleMatrixMessageRemove_APIError(t *testing.T) {
	t.Parallel()
	fake := newFakeMeta()
	t.Cleanup(fake.Close)
	fake.GraphQLErrors[msgrapihttp.MessageUndoSend{}.DocID()] = map[string]any{"message": "fake error"}
	mc := newFullTestClient(fake)

	msg := &bridgev2.MatrixMessageRemove{
		MatrixEventBase: bridgev2.MatrixEventBase[*event.RedactionEventContent]{
			Portal: makeTestPortal("100055"),
		},
		TargetMessage: &database.Message{ID: MakeMessageID("mid.123")},
	}

	err := mc.HandleMatrixMessageRemove(context.Background(), msg)
	if err == nil {
		t.Fatal("expected error when unsend fails")
	}
	if !strings.Contains(err.Error(), "failed to unsend message") {
		t.Errorf("expected unsend-failure wrapping, got: %v", err)
	}
}

func TestHandleMatrixMessageRemove_NotLoggedIn(t *testing.T) {
	t.Parallel()
	mc := newNotLoggedInClient()

	msg := &bridgev2.MatrixMessageRemove{
		MatrixEventBase: bridgev2.MatrixEventBase[*event.RedactionEventContent]{
			Portal: makeTestPortal("100055"),
		},
		TargetMessage: &database.Message{ID: MakeMessageID("mid.123")},
	}

	err := mc.HandleMatrixMessageRemove(context.Background(), msg)
	if !errors.Is(err, bridgev2.ErrNotLoggedIn) {
		t.Errorf("expected ErrNotLoggedIn, got: %v", err)
	}
}

// ---------------------------------------------------------------------------
// PreHandleMatrixReaction tests
// ---------------------------------------------------------------------------

func TestPreHandleMatrixReaction_StripsVariationSelector(t *testing.T) {
	t.Parallel()
	mc := newNotLoggedInClient()
	mc.fbid = 100044

	msg := &bridgev2.MatrixReaction{
		MatrixEventBase: bridgev2.MatrixEventBase[*event.ReactionEventContent]{
			Portal:  makeTestPortal("100055"),
			Content: &event.ReactionEventContent{RelatesTo: event.RelatesTo{Key: "❤️"}},
		},
		TargetMessage: &database.Message{ID: MakeMessageID("mid.123")},
	}

	resp, err := mc.PreHandleMatrixReaction(context.Background(), msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Emoji != "❤" {
		t.Errorf("Emoji: got %q, want the variation-selector-stripped heart", resp.Emoji)
	}
	if resp.SenderID != MakeUserID(100044) {
		t.Errorf("SenderID: got %q, want %q", resp.SenderID, MakeUserID(100044))
	}
}

// ---------------------------------------------------------------------------
// HandleMatrixReaction / HandleMatrixReactionRemove tests
// ---------------------------------------------------------------------------

func TestHandleMatrixReaction_Success(t *testing.T) {
	t.Parallel()
	fake := newFakeMeta()
	t.Cleanup(fake.Close)
	mc := newFullTestClient(fake)

	msg := &bridgev2.MatrixReaction{
		MatrixEventBase: bridgev2.MatrixEventBase[*event.ReactionEventContent]{
			Portal:  makeTestPortal("100055"),
			Content: &event.ReactionEventContent{RelatesTo: event.RelatesTo{Key: "\U0001f44d"}},
		},
		TargetMessage: &database.Message{ID: MakeMessageID("mid.123")},
		PreHandleResp: &bridgev2.MatrixReactionPreResponse{EmojiID: MakeEmojiID("\U0001f44d")},
	}

	reaction, err := mc.HandleMatrixReaction(context.Background(), msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reaction == nil || reaction.EmojiID != MakeEmojiID("\U0001f44d") {
		t.Fatalf("unexpected reaction: %v", reaction)
	}
	if !fake.CalledPath("/graphql") {
		t.Error("expected /graphql to be called")
	}
}

func TestHandleMatrixReaction_APIError(t *testing.T) {
	t.Parallel()
	fake := newFakeMeta()
	t.Cleanup(fake.Close)
	fake.GraphQLErrors[msgrapihttp.MessageReactionMutation{}.DocID()] = map[string]any{"message": "fake error"}
	mc := newFullTestClient(fake)

	msg := &bridgev2.MatrixReaction{
		MatrixEventBase: bridgev2.MatrixEventBase[*event.ReactionEventContent]{
			Portal:  makeTestPortal("100055"),
			Content: &event.ReactionEventContent{RelatesTo: event.RelatesTo{Key: "\U0001f44d"}},
		},
		TargetMessage: &database.Message{ID: MakeMessageID("mid.123")},
		PreHandleResp: &bridgev2.MatrixReactionPreResponse{EmojiID: MakeEmojiID("\U0001f44d")},
	}

	_, err := mc.HandleMatrixReaction(context.Background(), msg)
	if err == nil {
		t.Fatal("expected error when setting reaction fails")
	}
	if !strings.Contains(err.Error(), "failed to set reaction") {
		t.Errorf("expected reaction-failure wrapping, got: %v", err)
	}
}

func TestHandleMatrixReaction_NotLoggedIn(t *testing.T) {
	t.Parallel()
	mc := newNotLoggedInClient()

	msg := &bridgev2.MatrixReaction{
		MatrixEventBase: bridgev2.MatrixEventBase[*event.ReactionEventContent]{
			Portal:  makeTestPortal("100055"),
			Content: &event.ReactionEventContent{RelatesTo: event.RelatesTo{Key: "\U0001f44d"}},
		},
		TargetMessage: &database.Message{ID: MakeMessageID("mid.123")},
		PreHandleResp: &bridgev2.MatrixReactionPreResponse{EmojiID: MakeEmojiID("\U0001f44d")},
	}

	_, err := mc.HandleMatrixReaction(context.Background(), msg)
	if !errors.Is(err, bridgev2.ErrNotLoggedIn) {
		t.Errorf("expected ErrNotLoggedIn, got: %v", err)
	}
}

func TestHandleMatrixReactionRemove_Success(t *testing.T) {
	t.Parallel()
	fake := newFakeMeta()
	t.Cleanup(fake.Close)
	mc := newFullTestClient(fake)

	msg := &bridgev2.MatrixReactionRemove{
		MatrixEventBase: bridgev2.MatrixEventBase[*event.RedactionEventContent]{
			Portal: makeTestPortal("100055"),
		},
		TargetReaction: &database.Reaction{
			MessageID: MakeMessageID("mid.123"),
			EmojiID:   MakeEmojiID("\U0001f44d"),
		},
	}

	err := mc.HandleMatrixReactionRemove(context.Background(), msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fake.CalledPath("/graphql") {
		t.Error("expected /graphql to be called")
	}
}

func TestHandleMatrixReactionRemove_NotLoggedIn(t *testing.T) {
	t.Parallel()
	mc := newNotLoggedInClient()

	msg := &bridgev2.MatrixReactionRemove{
		MatrixEventBase: bridgev2.MatrixEventBase[*event.RedactionEventContent]{
			Portal: makeTestPortal("100055"),
		},
		TargetReaction: &database.Reaction{
			MessageID: MakeMessageID("mid.123"),
			EmojiID:   MakeEmojiID("\U0001f44d"),
		},
	}

	err := mc.HandleMatrixReactionRemove(context.Background(), msg)
	if !errors.Is(err, bridgev2.ErrNotLoggedIn) {
		t.Errorf("expected ErrNotLoggedIn, got: %v", err)
	}
}

// ---------------------------------------------------------------------------
// HandleMatrixReadReceipt / HandleMatrixTyping tests
//
// Both send over MQTToT; with no live connection they exercise the same
// "mqtt: not connected" path SendMessage does.
// ---------------------------------------------------------------------------

func TestHandleMatrixReadReceipt_NotConnected(t *testing.T) {
	t.Parallel()
	fake := newFakeMeta()
	t.Cleanup(fake.Close)
	mc := newFullTestClient(fake)

	msg := &bridgev2.MatrixReadReceipt{Portal: makeTestPortal("100055")}

	err := mc.HandleMatrixReadReceipt(context.Background(), msg)
	if err == nil {
		t.Fatal("expected error when the realtime connection isn't up")
	}
	if !strings.Contains(err.Error(), "failed to mark thread read") {
		t.Errorf("expected mark-read failure wrapping, got: %v", err)
	}
}

func TestHandleMatrixReadReceipt_NotLoggedIn(t *testing.T) {
	t.Parallel()
	mc := newNotLoggedInClient()

	msg := &bridgev2.MatrixReadReceipt{Portal: makeTestPortal("100055")}

	err := mc.HandleMatrixReadReceipt(context.Background(), msg)
	if !errors.Is(err, bridgev2.ErrNotLoggedIn) {
		t.Errorf("expected ErrNotLoggedIn, got: %v", err)
	}
}

func TestHandleMatrixTyping_SwallowsSendError(t *testing.T) {
	t.Parallel()
	fake := newFakeMeta()
	t.Cleanup(fake.Close)
	mc := newFullTestClient(fake)

	msg := &bridgev2.MatrixTyping{Portal: makeTestPortal("100055"), IsTyping: true}

	// The realtime connection isn't up, so SetTyping fails, but
	// HandleMatrixTyping only logs that error and returns nil.
	err := mc.HandleMatrixTyping(context.Background(), msg)
	if err != nil {
		t.Fatalf("expected nil error (error is only logged), got: %v", err)
	}
}

func TestHandleMatrixTyping_NonNumericPortal(t *testing.T) {
	t.Parallel()
	fake := newFakeMeta()
	t.Cleanup(fake.Close)
	mc := newFullTestClient(fake)

	msg := &bridgev2.MatrixTyping{Portal: makeTestPortal("not-a-number"), IsTyping: true}

	err := mc.HandleMatrixTyping(context.Background(), msg)
	if err != nil {
		t.Fatalf("expected nil error for a non-numeric portal id, got: %v", err)
	}
}

func TestHandleMatrixTyping_NotLoggedIn(t *testing.T) {
	t.Parallel()
	mc := newNotLoggedInClient()

	msg := &bridgev2.MatrixTyping{Portal: makeTestPortal("100055"), IsTyping: true}

	err := mc.HandleMatrixTyping(context.Background(), msg)
	if !errors.Is(err, bridgev2.ErrNotLoggedIn) {
		t.Errorf("expected ErrNotLoggedIn, got: %v", err)
	}
}

// ---------------------------------------------------------------------------
// encodeOutgoingMentions / attachmentPathType / newOfflineThreadingID
// ---------------------------------------------------------------------------

func TestEncodeOutgoingMentions_Empty(t *testing.T) {
	t.Parallel()
	mc := newNotLoggedInClient()

	prng, err := mc.encodeOutgoingMentions(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if prng != "" {
		t.Errorf("expected empty prng string for no pills, got %q", prng)
	}
}

func TestAttachmentPathType(t *testing.T) {
	t.Parallel()
	tests := []struct {
		msgType event.MessageType
		want    string
	}{
		{event.MsgImage, "messenger_image"},
		{event.MsgVideo, "messenger_video"},
		{event.MsgAudio, "messenger_audio"},
		{event.MsgFile, "messenger_file"},
	}
	for _, tt := range tests {
		got := attachmentPathType(tt.msgType)
		if got != tt.want {
			t.Errorf("attachmentPathType(%v): got %q, want %q", tt.msgType, got, tt.want)
		}
	}
}

func TestNewOfflineThreadingID_Unique(t *testing.T) {
	t.Parallel()
	a := newOfflineThreadingID()
	b := newOfflineThreadingID()
	if a == b {
		t.Error("two successive OTIs should not collide")
	}
}

// Note: testing HandleMatrixMessage with media attachments requires a full
// bridge setup for DownloadMedia, which is impractical in unit tests.
