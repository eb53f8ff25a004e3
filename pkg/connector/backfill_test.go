// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"testing"
	"time"

	"maunium.net/go/mautrix/bridgev2"
	"maunium.net/go/mautrix/bridgev2/database"

	msgrapihttp "go.mau.fi/mautrix-meta/pkg/msgrapi/http"
)

func testBackfillPortal(threadID string) *bridgev2.Portal {
	p := makeTestPortal(threadID)
	p.Bridge = &bridgev2.Bridge{}
	return p
}

func TestFetchMessages_NotLoggedIn(t *testing.T) {
	t.Parallel()
	mc := newNotLoggedInClient()

	_, err := mc.FetchMessages(context.Background(), bridgev2.FetchMessagesParams{Portal: testBackfillPortal("100055")})
	if err != bridgev2.ErrNotLoggedIn {
		t.Errorf("expected ErrNotLoggedIn, got: %v", err)
	}
}

func TestFetchMessages_BackfillDisabled(t *testing.T) {
	t.Parallel()
	fake := newFakeMeta()
	t.Cleanup(fake.Close)
	mc := newFullTestClient(fake)
	// connector.Config.Bridge.Backfill.Enabled defaults to false.

	resp, err := mc.FetchMessages(context.Background(), bridgev2.FetchMessagesParams{Portal: testBackfillPortal("100055")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Messages) != 0 {
		t.Errorf("expected no messages when backfill is disabled, got %d", len(resp.Messages))
	}
}

func TestFetchMessages_InitialPage(t *testing.T) {
	t.Parallel()
	fake := newFakeMeta()
	t.Cleanup(fake.Close)
	mc := newFullTestClient(fake)
	mc.connector.Config.Bridge.Backfill.Enabled = true

	fake.GraphQLResponses[msgrapihttp.ThreadQuery{}.DocID()] = map[string]any{
		"message_threads": []map[string]any{
			{
				"id":         "100055",
				"thread_key": map[string]any{"thread_fbid": "100055"},
				"messages": map[string]any{
					"nodes": []map[string]any{
						{
							"message_id":        "mid.1",
							"message":           map[string]any{"text": "hello"},
							"message_sender":    map[string]any{"id": "100044"},
							"timestamp_precise": "1700000000000",
						},
						{
							"message_id":        "mid.2",
							"message":           map[string]any{"text": "world"},
							"message_sender":    map[string]any{"id": "100055"},
							"timestamp_precise": "1700000001000",
						},
					},
					"page_info": map[string]any{"has_previous_page": true},
				},
			},
		},
	}

	resp, err := mc.FetchMessages(context.Background(), bridgev2.FetchMessagesParams{Portal: testBackfillPortal("100055")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(resp.Messages))
	}
	// Nodes arrive newest-first; FetchMessages must emit oldest-first.
	if resp.Messages[0].ID != MakeMessageID("mid.2") {
		t.Errorf("Messages[0].ID: got %q, want mid.2 (oldest first)", resp.Messages[0].ID)
	}
	if !resp.HasMore {
		t.Error("HasMore should be true when has_previous_page is set")
	}
	if resp.Cursor == "" {
		t.Error("Cursor should be set when there is more history")
	}
}

func TestFetchMessages_AnchoredPage(t *testing.T) {
	t.Parallel()
	fake := newFakeMeta()
	t.Cleanup(fake.Close)
	mc := newFullTestClient(fake)
	mc.connector.Config.Bridge.Backfill.Enabled = true

	fake.GraphQLResponses[msgrapihttp.MoreMessagesQuery{}.DocID()] = map[string]any{
		"message_thread": map[string]any{
			"messages": map[string]any{
				"nodes": []map[string]any{
					{
						"message_id":        "mid.0",
						"message":           map[string]any{"text": "older"},
						"message_sender":    map[string]any{"id": "100044"},
						"timestamp_precise": "1699999999000",
					},
				},
				"page_info": map[string]any{"has_previous_page": false},
			},
		},
	}

	params := bridgev2.FetchMessagesParams{
		Portal:        testBackfillPortal("100055"),
		Forward:       false,
		AnchorMessage: &database.Message{Timestamp: time.UnixMilli(1700000000000)},
	}

	resp, err := mc.FetchMessages(context.Background(), params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(resp.Messages))
	}
	if resp.HasMore {
		t.Error("HasMore should be false when has_previous_page is unset")
	}
}

func TestFetchMessages_FetchError(t *testing.T) {
	t.Parallel()
	fake := newFakeMeta()
	t.Cleanup(fake.Close)
	mc := newFullTestClient(fake)
	mc.connector.Config.Bridge.Backfill.Enabled = true
	fake.GraphQLErrors[msgrapihttp.ThreadQuery{}.DocID()] = map[string]any{"message": "fake error"}

	_, err := mc.FetchMessages(context.Background(), bridgev2.FetchMessagesParams{Portal: testBackfillPortal("100055")})
	if err == nil {
		t.Fatal("expected error when the thread fetch fails")
	}
}

func TestConvertHistoryMessage_Text(t *testing.T) {
	t.Parallel()
	fake := newFakeMeta()
	t.Cleanup(fake.Close)
	mc := newFullTestClient(fake)

	hm := msgrapihttp.Message{
		MessageID:        "mid.1",
		Message:          &msgrapihttp.MessageText{Text: "hello world"},
		MessageSender:    msgrapihttp.MessageSender{ID: "100044"},
		TimestampPrecise: "1700000000000",
	}

	converted, err := mc.convertHistoryMessage(context.Background(), testBackfillPortal("100055"), hm)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(converted.Parts) != 1 {
		t.Fatalf("expected 1 part, got %d", len(converted.Parts))
	}
	if converted.Parts[0].Content.Body != "hello world" {
		t.Errorf("Body: got %q, want %q", converted.Parts[0].Content.Body, "hello world")
	}
}

func TestConvertHistoryMessage_Reply(t *testing.T) {
	t.Parallel()
	fake := newFakeMeta()
	t.Cleanup(fake.Close)
	mc := newFullTestClient(fake)

	hm := msgrapihttp.Message{
		MessageID:        "mid.2",
		Message:          &msgrapihttp.MessageText{Text: "a reply"},
		MessageSender:    msgrapihttp.MessageSender{ID: "100044"},
		TimestampPrecise: "1700000000000",
		RepliedToMessage: &msgrapihttp.Reply{MessageID: "mid.1"},
	}

	converted, err := mc.convertHistoryMessage(context.Background(), testBackfillPortal("100055"), hm)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if converted.ReplyTo == nil || converted.ReplyTo.MessageID != MakeMessageID("mid.1") {
		t.Fatalf("expected ReplyTo mid.1, got %v", converted.ReplyTo)
	}
}

func TestConvertHistoryMessage_SnippetFallback(t *testing.T) {
	t.Parallel()
	fake := newFakeMeta()
	t.Cleanup(fake.Close)
	mc := newFullTestClient(fake)

	hm := msgrapihttp.Message{
		MessageID:        "mid.3",
		MessageSender:    msgrapihttp.MessageSender{ID: "100044"},
		TimestampPrecise: "1700000000000",
		Snippet:          "sent an attachment",
	}

	converted, err := mc.convertHistoryMessage(context.Background(), testBackfillPortal("100055"), hm)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(converted.Parts) != 1 || converted.Parts[0].Content.Body != "sent an attachment" {
		t.Fatalf("expected snippet fallback part, got %v", converted.Parts)
	}
}

func TestConvertHistoryMentions(t *testing.T) {
	t.Parallel()
	text := "hi @bob"
	ranges := []msgrapihttp.MessageRange{
		{Entity: msgrapihttp.MessageSender{ID: "100044"}, Offset: 3, Length: 4},
	}

	mentions := convertHistoryMentions(text, ranges)
	if len(mentions) != 1 {
		t.Fatalf("expected 1 mention, got %d", len(mentions))
	}
	if mentions[0].UserID != "100044" {
		t.Errorf("UserID: got %q, want %q", mentions[0].UserID, "100044")
	}
	if mentions[0].Offset != 3 || mentions[0].Length != 4 {
		t.Errorf("Offset/Length: got %d/%d, want 3/4", mentions[0].Offset, mentions[0].Length)
	}
}

func TestConvertHistoryMentions_OutOfBounds(t *testing.T) {
	t.Parallel()
	text := "hi"
	ranges := []msgrapihttp.MessageRange{
		{Entity: msgrapihttp.MessageSender{ID: "100044"}, Offset: 10, Length: 4},
	}

	mentions := convertHistoryMentions(text, ranges)
	if len(mentions) != 0 {
		t.Errorf("expected out-of-bounds range to be dropped, got %d mentions", len(mentions))
	}
}

func TestConvertHistoryMentions_Empty(t *testing.T) {
	t.Parallel()
	if mentions := convertHistoryMentions("text", nil); mentions != nil {
		t.Errorf("expected nil mentions for no ranges, got %v", mentions)
	}
}
