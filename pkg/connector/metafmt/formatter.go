// Copyright 2024-2026 Aiku AI

// Package metafmt converts an inbound Messenger text message, with its
// embedded @-mention list, into Matrix formatted message content.
package metafmt

import (
	"fmt"
	"html"
	"sort"
	"strings"
	"unicode/utf16"

	"maunium.net/go/mautrix/event"

	"go.mau.fi/mautrix-meta/pkg/msgrapi/types"
)

// ParsedMessage holds the Matrix-ready rendering of a Messenger message body.
type ParsedMessage struct {
	Body          string
	Format        event.Format
	FormattedBody string
}

// ResolveMentionFunc maps a Messenger mention's numeric user id to the
// Matrix user pill target and display name to render, returning ok=false
// for a user the bridge has no ghost/ID mapping for (the mention is then
// rendered as plain text).
type ResolveMentionFunc func(fbid string) (mxid string, name string, ok bool)

// Parse renders msg's text, linkifying any mentions resolveMention can map.
// mentions must come from Message.Mentions(); offsets are UTF-16 code unit
// positions into msg.Text, per the client's own mention format.
func Parse(text string, mentions []types.Mention, resolveMention ResolveMentionFunc) *ParsedMessage {
	if text == "" {
		return &ParsedMessage{}
	}
	if len(mentions) == 0 {
		return &ParsedMessage{Body: text}
	}

	sorted := make([]types.Mention, len(mentions))
	copy(sorted, mentions)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })

	units := utf16.Encode([]rune(text))
	var body strings.Builder
	pos := 0
	for _, m := range sorted {
		if m.Offset < pos || m.Offset+m.Length > len(units) {
			continue
		}
		body.WriteString(html.EscapeString(string(utf16.Decode(units[pos:m.Offset]))))
		name := string(utf16.Decode(units[m.Offset : m.Offset+m.Length]))
		if resolveMention != nil {
			if mxid, resolvedName, ok := resolveMention(m.UserID); ok {
				if resolvedName != "" {
					name = resolvedName
				}
				body.WriteString(fmt.Sprintf(`<a href="https://matrix.to/#/%s">%s</a>`, mxid, html.EscapeString(name)))
				pos = m.Offset + m.Length
				continue
			}
		}
		body.WriteString(html.EscapeString(name))
		pos = m.Offset + m.Length
	}
	body.WriteString(html.EscapeString(string(utf16.Decode(units[pos:]))))

	return &ParsedMessage{
		Body:          text,
		Format:        event.FormatHTML,
		FormattedBody: body.String(),
	}
}
