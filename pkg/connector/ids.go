// Copyright 2024-2026 Aiku AI

package connector

import (
	"strconv"

	"maunium.net/go/mautrix/bridgev2/networkid"
)

// ThreadType distinguishes the three conversation shapes the delta sync
// engine and portal orchestrator must treat differently: a 1:1 thread
// addressed by the other participant's fbid, a group thread addressed by
// its own thread fbid, and a Page conversation (business messaging).
type ThreadType int

const (
	ThreadTypeUnknown ThreadType = iota
	ThreadTypeUser
	ThreadTypeGroup
	ThreadTypePage
)

// MakePortalID creates a networkid.PortalID from a Facebook thread id
// (either a plain numeric user id for a 1:1 thread, or a group thread id).
func MakePortalID(threadID string) networkid.PortalID {
	return networkid.PortalID(threadID)
}

// ParsePortalID extracts the Facebook thread id from a PortalID.
func ParsePortalID(portalID networkid.PortalID) string {
	return string(portalID)
}

// MakePortalKey builds the composite portal primary key: a thread id plus
// the receiving account's login id. A 1:1 thread is namespaced by receiver
// because the same Facebook user id is a different conversation for each
// bridged account that has a thread with them.
func MakePortalKey(threadID string, receiver networkid.UserLoginID) networkid.PortalKey {
	return networkid.PortalKey{
		ID:       MakePortalID(threadID),
		Receiver: receiver,
	}
}

// MakeUserID creates a networkid.UserID from a Facebook numeric user id.
func MakeUserID(fbid int64) networkid.UserID {
	return networkid.UserID(strconv.FormatInt(fbid, 10))
}

// ParseUserID parses a networkid.UserID produced by MakeUserID back into a
// Facebook numeric user id.
func ParseUserID(userID networkid.UserID) (int64, error) {
	return strconv.ParseInt(string(userID), 10, 64)
}

// MakeUserLoginID creates a networkid.UserLoginID from a Facebook numeric
// user id - one per logged-in Matrix user, not one per Facebook contact.
func MakeUserLoginID(fbid int64) networkid.UserLoginID {
	return networkid.UserLoginID(strconv.FormatInt(fbid, 10))
}

// ParseUserLoginID parses a networkid.UserLoginID back into a Facebook
// numeric user id.
func ParseUserLoginID(loginID networkid.UserLoginID) (int64, error) {
	return strconv.ParseInt(string(loginID), 10, 64)
}

// MakeMessageID creates a networkid.MessageID from a Facebook message id
// string (the "mid.xxxx" form the server assigns once a send is
// authoritative).
func MakeMessageID(fbMessageID string) networkid.MessageID {
	return networkid.MessageID(fbMessageID)
}

// ParseMessageID extracts the Facebook message id string from a MessageID.
func ParseMessageID(messageID networkid.MessageID) string {
	return string(messageID)
}

// MakeMessagePartID creates a networkid.PartID for message parts (e.g.
// multiple attachments on one message).
func MakeMessagePartID(index int) networkid.PartID {
	if index == 0 {
		return ""
	}
	return networkid.PartID(strconv.Itoa(index))
}

// MakeTransactionID creates the transaction id bridgev2 uses to correlate a
// pending Matrix-origin send with its eventual remote echo, from this
// bridge's OTI (offline threading id). The send path registers it via
// AddPendingToIgnore; the delta sync echo carries it back on the
// simplevent so bridgev2 resolves the pending message.
func MakeTransactionID(oti int64) networkid.TransactionID {
	return networkid.TransactionID(strconv.FormatInt(oti, 10))
}

// MakeEmojiID creates a networkid.EmojiID from a reaction's emoji text
// (already stripped of variation selectors).
func MakeEmojiID(emoji string) networkid.EmojiID {
	return networkid.EmojiID(emoji)
}

// ParseEmojiID extracts the emoji text from an EmojiID.
func ParseEmojiID(emojiID networkid.EmojiID) string {
	return string(emojiID)
}
