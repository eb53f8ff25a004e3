// Copyright 2024-2026 Aiku AI

package connector

import (
	"testing"

	"maunium.net/go/mautrix/event"

	"go.mau.fi/mautrix-meta/pkg/msgrapi/types"
)

func TestMatrixfmtParse(t *testing.T) {
	t.Parallel()
	content := &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    "Hello world",
	}
	text, pills := matrixfmtParse(content)
	if text != "Hello world" {
		t.Errorf("matrixfmtParse plain text: got %q, want %q", text, "Hello world")
	}
	if len(pills) != 0 {
		t.Errorf("plain text should have no pills, got %d", len(pills))
	}
}

func TestMatrixfmtParse_Formatted(t *testing.T) {
	t.Parallel()
	content := &event.MessageEventContent{
		MsgType:       event.MsgText,
		Body:          "bold text",
		Format:        event.FormatHTML,
		FormattedBody: "<strong>bold</strong> text",
	}
	text, _ := matrixfmtParse(content)
	if text == "" {
		t.Error("matrixfmtParse should return non-empty for formatted content")
	}
}

func TestMatrixfmtParse_Pill(t *testing.T) {
	t.Parallel()
	content := &event.MessageEventContent{
		MsgType:       event.MsgText,
		Body:          "Alice",
		Format:        event.FormatHTML,
		FormattedBody: `<a href="https://matrix.to/#/@alice:example.com">Alice</a>`,
	}
	_, pills := matrixfmtParse(content)
	if len(pills) != 1 {
		t.Fatalf("expected 1 pill, got %d", len(pills))
	}
	if pills[0].MXID != "@alice:example.com" {
		t.Errorf("pill MXID: got %q, want %q", pills[0].MXID, "@alice:example.com")
	}
}

func TestMetafmtParse_PlainText(t *testing.T) {
	t.Parallel()
	result := metafmtParse("hello world", nil, nil)
	if result == nil {
		t.Fatal("metafmtParse should not return nil")
	}
	if result.Body != "hello world" {
		t.Errorf("Body: got %q, want %q", result.Body, "hello world")
	}
}

func TestMetafmtParse_Mention(t *testing.T) {
	t.Parallel()
	mentions := []types.Mention{{Offset: 3, Length: 3, UserID: "100044", Type: types.MentionTypePerson}}
	resolve := func(fbid string) (string, string, bool) {
		if fbid == "100044" {
			return "@alice:example.com", "Alice", true
		}
		return "", "", false
	}

	result := metafmtParse("hi Ali", mentions, resolve)
	if result.Format != event.FormatHTML {
		t.Errorf("expected HTML format when a mention resolves, got %v", result.Format)
	}
	if result.FormattedBody == "" {
		t.Error("FormattedBody should be populated when a mention resolves")
	}
}

func TestMetafmtParse_UnresolvedMention(t *testing.T) {
	t.Parallel()
	mentions := []types.Mention{{Offset: 3, Length: 3, UserID: "999999", Type: types.MentionTypePerson}}
	resolve := func(string) (string, string, bool) { return "", "", false }

	result := metafmtParse("hi Bob", mentions, resolve)
	if result.Body != "hi Bob" {
		t.Errorf("Body: got %q, want %q", result.Body, "hi Bob")
	}
}

func TestMetafmtParse_Empty(t *testing.T) {
	t.Parallel()
	result := metafmtParse("", nil, nil)
	if result == nil {
		t.Fatal("metafmtParse should not return nil")
	}
	if result.Body != "" {
		t.Errorf("empty input should produce empty body, got %q", result.Body)
	}
}
