// Copyright 2024-2026 Aiku AI

package connector

import (
	"strings"
	"testing"

	"maunium.net/go/mautrix/event"

	"go.mau.fi/mautrix-meta/pkg/msgrapi/types"
)

// ---------------------------------------------------------------------------
// FuzzMakeMessagePartID — tests int → PartID conversion. Must never panic
// for any non-negative int. Documents that index 0 is special-cased.
// ---------------------------------------------------------------------------

func FuzzMakeMessagePartID(f *testing.F) {
	f.Add(0)
	f.Add(1)
	f.Add(9)
	f.Add(10)
	f.Add(100)
	f.Add(-1)

	f.Fuzz(func(t *testing.T, index int) {
		result := MakeMessagePartID(index)

		if index == 0 && string(result) != "" {
			t.Errorf("MakeMessagePartID(0) = %q, want empty", result)
		}
	})
}

// ---------------------------------------------------------------------------
// FuzzFormatDisplayname — tests template rendering with arbitrary parameters.
// Must never panic (template errors fall back to Name).
// ---------------------------------------------------------------------------

func FuzzFormatDisplayname(f *testing.F) {
	f.Add("alice", "alice_n", "{{.Name}}")
	f.Add("bob", "", "{{.Username}}")
	f.Add("", "", "")
	f.Add("user", "nick", "{{.Name}} ({{.Username}})")
	f.Add(string([]byte{0x00}), "nick", "{{.Name}}")

	f.Fuzz(func(t *testing.T, name, username, tmpl string) {
		cfg := &Config{}
		cfg.Bridge.DisplaynameTemplate = tmpl
		// PostProcess parses the template; a bad template just leaves
		// displaynameTemplate nil, which FormatDisplayname handles.
		_ = cfg.PostProcess()

		params := DisplaynameParams{Name: name, Username: username}
		result := cfg.FormatDisplayname(params)

		if cfg.displaynameTemplate == nil && result != name {
			t.Errorf("nil template should return name %q, got %q", name, result)
		}
	})
}

// ---------------------------------------------------------------------------
// FuzzMatrixFmtParse — fuzz the Matrix HTML → plain-text/pill converter.
// Feeds arbitrary HTML content through matrixfmtParse. Must never panic.
// ---------------------------------------------------------------------------

func FuzzMatrixFmtParse(f *testing.F) {
	f.Add("hello world", "")
	f.Add("", "")

	f.Add("bold text", "<strong>bold</strong> text")
	f.Add("italic text", "<em>italic</em> text")
	f.Add("code", "<code>code</code>")
	f.Add("link", `<a href="https://example.com">link</a>`)
	f.Add("pill", `<a href="https://matrix.to/#/@alice:example.com">Alice</a>`)
	f.Add("heading", "<h1>heading</h1>")
	f.Add("quote", "<blockquote>quoted</blockquote>")
	f.Add("list", "<ul><li>one</li><li>two</li></ul>")
	f.Add("break", "line1<br/>line2")

	// XSS vectors — must not panic.
	f.Add("xss", `<script>alert(1)</script>`)
	f.Add("xss", `<img onerror=alert(1)>`)
	f.Add("xss", `<a href="javascript:alert(1)">click</a>`)

	// Deeply nested / malformed tags.
	f.Add("nested", "<strong><em><del><code>deep</code></del></em></strong>")
	f.Add("nested", strings.Repeat("<div>", 100)+"deep"+strings.Repeat("</div>", 100))
	f.Add("unclosed", "<strong>no close tag")
	f.Add("malformed", "<str ong>bad tag</str ong>")
	f.Add("malformed", "<>")

	f.Add("null", string([]byte{0x00}))
	f.Add("control", string([]byte{0x00, 0x01, 0x02, 0x03, 0x7f}))
	f.Add("long", strings.Repeat("a", 1000))
	f.Add("long-html", strings.Repeat("<strong>x</strong>", 200))

	f.Fuzz(func(t *testing.T, body, formattedBody string) {
		if formattedBody != "" {
			content := &event.MessageEventContent{
				MsgType:       event.MsgText,
				Body:          body,
				Format:        event.FormatHTML,
				FormattedBody: formattedBody,
			}
			text, pills := matrixfmtParse(content)

			text2, pills2 := matrixfmtParse(content)
			if text != text2 || len(pills) != len(pills2) {
				t.Errorf("non-deterministic: matrixfmtParse returned %q/%d pills then %q/%d pills",
					text, len(pills), text2, len(pills2))
			}
		}

		plainContent := &event.MessageEventContent{MsgType: event.MsgText, Body: body}
		plainText, plainPills := matrixfmtParse(plainContent)
		if plainText != body {
			t.Errorf("plain text path: matrixfmtParse returned %q, want body %q", plainText, body)
		}
		if len(plainPills) != 0 {
			t.Errorf("plain text path should have no pills, got %d", len(plainPills))
		}

		if text, pills := matrixfmtParse(nil); text != "" || pills != nil {
			t.Errorf("nil content should return empty string and no pills, got %q/%v", text, pills)
		}
	})
}

// ---------------------------------------------------------------------------
// FuzzMetafmtParse — fuzz the inbound Messenger text → Matrix content
// converter, including arbitrary mention offsets. Must never panic, and
// must never produce a Matrix formatted body shorter than required to
// contain the linkified mentions.
// ---------------------------------------------------------------------------

func FuzzMetafmtParse(f *testing.F) {
	f.Add("hello world", 0, 0)
	f.Add("", 0, 0)
	f.Add("hi @bob", 3, 4)
	f.Add("hi @bob", 0, 0)
	f.Add("hi @bob", -1, 4)
	f.Add("hi @bob", 100, 4)
	f.Add("hi @bob", 3, 1000)
	f.Add(string([]byte{0x00}), 0, 1)
	f.Add(strings.Repeat("a", 500), 10, 5)

	f.Fuzz(func(t *testing.T, text string, offset, length int) {
		mentions := []types.Mention{{Offset: offset, Length: length, UserID: "100044", Type: types.MentionTypePerson}}

		resolve := func(fbid string) (string, string, bool) {
			if fbid == "100044" {
				return "@alice:example.com", "Alice", true
			}
			return "", "", false
		}

		result := metafmtParse(text, mentions, resolve)
		if result == nil {
			t.Fatalf("metafmtParse(%q) returned nil", text)
		}

		result2 := metafmtParse(text, mentions, resolve)
		if result2 == nil {
			t.Fatalf("non-deterministic: second call returned nil for %q", text)
		}
		if result.Body != result2.Body || result.FormattedBody != result2.FormattedBody || result.Format != result2.Format {
			t.Errorf("non-deterministic: metafmtParse(%q) returned different results", text)
		}

		if text == "" && result.Body != "" {
			t.Errorf("empty input should produce empty body, got %q", result.Body)
		}
	})
}
