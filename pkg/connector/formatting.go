// Copyright 2024-2026 Aiku AI

package connector

import (
	"maunium.net/go/mautrix/event"

	"go.mau.fi/mautrix-meta/pkg/connector/matrixfmt"
	"go.mau.fi/mautrix-meta/pkg/connector/metafmt"
	"go.mau.fi/mautrix-meta/pkg/msgrapi/types"
)

// metafmtParse converts an inbound Messenger message body to Matrix message content.
func metafmtParse(text string, mentions []types.Mention, resolveMention metafmt.ResolveMentionFunc) *metafmt.ParsedMessage {
	return metafmt.Parse(text, mentions, resolveMention)
}

// matrixfmtParse converts outbound Matrix message content to plain text plus
// any user-pill mentions it contains.
func matrixfmtParse(content *event.MessageEventContent) (string, []matrixfmt.Pill) {
	return matrixfmt.Parse(content)
}
