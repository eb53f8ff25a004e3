// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"

	"maunium.net/go/mautrix/bridgev2"
	"maunium.net/go/mautrix/bridgev2/database"
	"maunium.net/go/mautrix/event"

	"go.mau.fi/util/variationselector"

	"go.mau.fi/mautrix-meta/pkg/connector/matrixfmt"
	msgrapihttp "go.mau.fi/mautrix-meta/pkg/msgrapi/http"
	"go.mau.fi/mautrix-meta/pkg/msgrapi/mqtt"
	"go.mau.fi/mautrix-meta/pkg/msgrapi/types"
)

var (
	_ bridgev2.ReactionHandlingNetworkAPI    = (*MetaClient)(nil)
	_ bridgev2.RedactionHandlingNetworkAPI   = (*MetaClient)(nil)
	_ bridgev2.ReadReceiptHandlingNetworkAPI = (*MetaClient)(nil)
	_ bridgev2.TypingHandlingNetworkAPI      = (*MetaClient)(nil)
)

// newOfflineThreadingID generates an OTI using math/rand, which is adequate
// here since the only property this bridge relies on is 22 bits of
// collision-resistant noise, not cryptographic unpredictability.
func newOfflineThreadingID() int64 {
	return mqtt.GenerateOfflineThreadingID(rand.Uint32)
}

// attachmentPathType picks the rupload endpoint matching a Matrix message's
// upload content type.
func attachmentPathType(msgType event.MessageType) string {
	switch msgType {
	case event.MsgImage:
		return "messenger_image"
	case event.MsgVideo:
		return "messenger_video"
	case event.MsgAudio:
		return "messenger_audio"
	default:
		return "messenger_file"
	}
}

// HandleMatrixMessage sends a message from Matrix to Messenger. Text goes
// over the realtime MQTToT connection; the send response only acknowledges
// acceptance, so the message row stays pending (registered with bridgev2 by
// transaction id) until the delta sync echo delivers the authoritative
// message id. Media goes over rupload with server-side delivery, whose HTTP
// response does carry the assigned id, so it resolves synchronously.
func (m *MetaClient) HandleMatrixMessage(ctx context.Context, msg *bridgev2.MatrixMessage) (*bridgev2.MatrixMessageResponse, error) {
	if !m.IsLoggedIn() {
		return nil, bridgev2.ErrNotLoggedIn
	}

	threadID := ParsePortalID(msg.Portal.ID)
	lock := m.sendLock(threadID)
	lock.Lock()
	defer lock.Unlock()

	content := msg.Content
	oti := newOfflineThreadingID()
	txnID := MakeTransactionID(oti)
	dedup := m.dedup.Get(threadID)

	switch content.MsgType {
	case event.MsgText, event.MsgNotice, event.MsgEmote:
		req := types.SendMessageRequest{
			ChatID:             threadID,
			OfflineThreadingID: oti,
			SenderFBID:         m.fbid,
		}
		text, pills := matrixfmtParse(content)
		if content.MsgType == event.MsgEmote {
			text = "/me " + text
		}
		req.Message = text
		if len(pills) > 0 {
			if prng, err := m.encodeOutgoingMentions(ctx, pills); err == nil && prng != "" {
				req.ExtraMetadata = map[string]string{"prng": prng}
			}
		}
		if msg.ReplyTo != nil {
			req.ReplyTo = ParseMessageID(msg.ReplyTo.ID)
		}

		// Check the socket before registering any pending state, so a send
		// during an outage fails clean instead of leaving a dangling
		// transaction for an echo that can never come.
		if !m.mqtt.IsConnected() {
			return nil, fmt.Errorf("failed to send message: %w", mqtt.ErrNoConnection)
		}
		dedup.TrackSend(oti)
		msg.AddPendingToIgnore(txnID)
		resp, err := m.mqtt.SendMessage(ctx, req)
		if err != nil {
			dedup.ForgetSend(oti)
			return nil, fmt.Errorf("failed to send message: %w", err)
		}
		if !resp.Success {
			dedup.ForgetSend(oti)
			return nil, fmt.Errorf("facebook rejected message: %s", resp.ErrorMessage)
		}
		// The response carries no message id; it arrives asynchronously on
		// the t_ms echo, which handleMessageDelta forwards with this
		// transaction id so bridgev2 maps it onto this event.
		return &bridgev2.MatrixMessageResponse{Pending: true}, nil

	case event.MsgImage, event.MsgVideo, event.MsgAudio, event.MsgFile:
		dedup.TrackSend(oti)
		msg.AddPendingToIgnore(txnID)
		result, err := m.uploadMatrixMedia(ctx, msg, oti)
		if err != nil {
			dedup.ForgetSend(oti)
			return nil, fmt.Errorf("failed to upload media: %w", err)
		}
		if result.MessageID == "" {
			// Server accepted the upload but assigned the id out of band;
			// fall back to echo resolution like the text path.
			return &bridgev2.MatrixMessageResponse{Pending: true}, nil
		}
		dedup.ResolveSend(oti, MakeMessageID(result.MessageID))
		return &bridgev2.MatrixMessageResponse{
			DB: &database.Message{
				ID:       MakeMessageID(result.MessageID),
				SenderID: MakeUserID(m.fbid),
				Metadata: &MessageMetadata{OfflineThreadingID: oti},
			},
			RemovePending: txnID,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported message type: %s", content.MsgType)
	}
}

// HandleMatrixMessageRemove unsends a message the caller previously sent.
// Messenger only allows unsending your own messages, which bridgev2 already
// guarantees by only routing MatrixMessageRemove for messages this login sent.
func (m *MetaClient) HandleMatrixMessageRemove(ctx context.Context, msg *bridgev2.MatrixMessageRemove) error {
	if !m.IsLoggedIn() {
		return bridgev2.ErrNotLoggedIn
	}
	messageID := ParseMessageID(msg.TargetMessage.ID)
	_, err := m.http.GraphQL(ctx, msgrapihttp.MessageUndoSend{MessageID: messageID}, true)
	if err != nil {
		return fmt.Errorf("failed to unsend message: %w", err)
	}
	return nil
}

// PreHandleMatrixReaction validates and normalizes a reaction before it is
// sent, stripping variation selectors so the emoji matches what Messenger's
// delta sync will echo back.
func (m *MetaClient) PreHandleMatrixReaction(_ context.Context, msg *bridgev2.MatrixReaction) (bridgev2.MatrixReactionPreResponse, error) {
	emoji := variationselector.Remove(msg.Content.RelatesTo.Key)
	return bridgev2.MatrixReactionPreResponse{
		SenderID: MakeUserID(m.fbid),
		EmojiID:  MakeEmojiID(emoji),
		Emoji:    emoji,
	}, nil
}

// HandleMatrixReaction sets the caller's reaction on a message.
func (m *MetaClient) HandleMatrixReaction(ctx context.Context, msg *bridgev2.MatrixReaction) (*database.Reaction, error) {
	if !m.IsLoggedIn() {
		return nil, bridgev2.ErrNotLoggedIn
	}
	messageID := ParseMessageID(msg.TargetMessage.ID)
	emoji := ParseEmojiID(msg.PreHandleResp.EmojiID)

	_, err := m.http.GraphQL(ctx, msgrapihttp.MessageReactionMutation{
		MessageID: messageID,
		Reaction:  emoji,
		ActorID:   fmt.Sprintf("%d", m.fbid),
	}, true)
	if err != nil {
		return nil, fmt.Errorf("failed to set reaction: %w", err)
	}

	return &database.Reaction{
		EmojiID: MakeEmojiID(emoji),
	}, nil
}

// HandleMatrixReactionRemove clears the caller's reaction on a message.
func (m *MetaClient) HandleMatrixReactionRemove(ctx context.Context, msg *bridgev2.MatrixReactionRemove) error {
	if !m.IsLoggedIn() {
		return bridgev2.ErrNotLoggedIn
	}
	messageID := ParseMessageID(msg.TargetReaction.MessageID)

	_, err := m.http.GraphQL(ctx, msgrapihttp.MessageReactionMutation{
		MessageID: messageID,
		Reaction:  "",
		ActorID:   fmt.Sprintf("%d", m.fbid),
	}, true)
	if err != nil {
		return fmt.Errorf("failed to remove reaction: %w", err)
	}
	return nil
}

// HandleMatrixReadReceipt advances this account's read watermark to the
// target message's timestamp.
func (m *MetaClient) HandleMatrixReadReceipt(ctx context.Context, msg *bridgev2.MatrixReadReceipt) error {
	if !m.IsLoggedIn() {
		return bridgev2.ErrNotLoggedIn
	}
	threadID := ParsePortalID(msg.Portal.ID)

	var readTo int64
	if !msg.ReadUpTo.IsZero() {
		readTo = msg.ReadUpTo.UnixMilli()
	}

	req := types.MarkReadRequest{
		State:              true,
		ReadTo:             readTo,
		OfflineThreadingID: newOfflineThreadingID(),
	}
	threadFBID, err := strconv.ParseInt(threadID, 10, 64)
	if err == nil {
		if portalMeta, ok := msg.Portal.Metadata.(*PortalMetadata); ok && portalMeta.ThreadType == ThreadTypeGroup {
			req.GroupID = &threadFBID
		} else {
			req.UserID = &threadFBID
		}
	}

	if err := m.mqtt.MarkRead(ctx, req); err != nil {
		return fmt.Errorf("failed to mark thread read: %w", err)
	}
	return nil
}

// HandleMatrixTyping toggles this account's composing indicator in a thread.
func (m *MetaClient) HandleMatrixTyping(ctx context.Context, msg *bridgev2.MatrixTyping) error {
	if !m.IsLoggedIn() {
		return bridgev2.ErrNotLoggedIn
	}
	threadID := ParsePortalID(msg.Portal.ID)
	otherUserID, err := strconv.ParseInt(threadID, 10, 64)
	if err != nil {
		return nil
	}

	status := int32(0)
	if msg.IsTyping {
		status = 1
	}
	err = m.mqtt.SetTyping(ctx, types.SetTypingRequest{
		UserID:       otherUserID,
		OwnID:        m.fbid,
		TypingStatus: status,
	})
	if err != nil {
		m.log.Debug().Err(err).Msg("Failed to send typing indicator")
	}
	return nil
}

// encodeOutgoingMentions resolves each user-pill's MXID to a Facebook user
// id and serializes them into the "prng" extra_metadata format the
// realtime client expects, the mirror of Message.Mentions on the inbound
// side.
func (m *MetaClient) encodeOutgoingMentions(ctx context.Context, pills []matrixfmt.Pill) (string, error) {
	mentions := make([]types.Mention, 0, len(pills))
	for _, pill := range pills {
		ghost, err := m.connector.Bridge.GetGhostByMXID(ctx, pill.MXID)
		if err != nil || ghost == nil {
			continue
		}
		fbid, err := ParseUserID(ghost.ID)
		if err != nil {
			continue
		}
		mentions = append(mentions, types.Mention{
			Offset: pill.Offset,
			Length: pill.Length,
			UserID: strconv.FormatInt(fbid, 10),
			Type:   types.MentionTypePerson,
		})
	}
	if len(mentions) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(mentions)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// uploadMatrixMedia downloads media from Matrix and uploads it to Messenger
// with server-side delivery, so the upload response itself carries the
// delivered message's id and no separate send RPC is needed.
func (m *MetaClient) uploadMatrixMedia(ctx context.Context, msg *bridgev2.MatrixMessage, oti int64) (*msgrapihttp.UploadResult, error) {
	content := msg.Content

	data, err := msg.Portal.Bridge.Bot.DownloadMedia(ctx, content.URL, content.File)
	if err != nil {
		return nil, fmt.Errorf("failed to download Matrix media: %w", err)
	}

	filename := content.GetFileName()
	if filename == "" {
		filename = "upload"
	}
	mimeType := content.GetInfo().MimeType

	isGroup := false
	if portalMeta, ok := msg.Portal.Metadata.(*PortalMetadata); ok {
		isGroup = portalMeta.ThreadType == ThreadTypeGroup
	}
	opts := msgrapihttp.UploadOptions{
		ChatID:  ParsePortalID(msg.Portal.ID),
		IsGroup: isGroup,
	}
	if msg.ReplyTo != nil {
		opts.ReplyTo = ParseMessageID(msg.ReplyTo.ID)
	}
	if content.Body != "" && content.Body != content.GetFileName() {
		opts.Caption = content.Body
	}

	result, err := m.http.Upload(ctx, attachmentPathType(content.MsgType), data, filename, mimeType, oti, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to upload to Messenger: %w", err)
	}
	return result, nil
}
