// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/util/variationselector"
	"maunium.net/go/mautrix/bridgev2"
	"maunium.net/go/mautrix/bridgev2/networkid"
	"maunium.net/go/mautrix/bridgev2/simplevent"
	"maunium.net/go/mautrix/event"

	"go.mau.fi/mautrix-meta/pkg/connector/metafmt"
	msgrapihttp "go.mau.fi/mautrix-meta/pkg/msgrapi/http"
	"go.mau.fi/mautrix-meta/pkg/msgrapi/mqtt"
	"go.mau.fi/mautrix-meta/pkg/msgrapi/types"
)

// threadIDFromKey returns the thread id a types.ThreadKey addresses: the
// other participant's fbid for a 1:1 thread, the thread's own fbid for a
// group thread.
func threadIDFromKey(tk types.ThreadKey) string {
	if tk.IsGroup() {
		return strconv.FormatInt(tk.ThreadFBID, 10)
	}
	return strconv.FormatInt(tk.OtherUserFBID, 10)
}

// handleRealtimeEvent is the single entry point for every decoded delta the
// MQTToT connection delivers: it is registered on the client in
// client.go's Connect.
func (m *MetaClient) handleRealtimeEvent(ctx context.Context, topic mqtt.RealtimeTopic, payload []byte) {
	switch topic {
	case mqtt.TopicMessageSync:
		m.handleMessageSync(ctx, payload)
	case mqtt.TopicRegionHint:
		m.handleRegionHintPayload(ctx, payload)
	case mqtt.TopicTypingNotification:
		m.handleTypingPayload(ctx, payload)
	case mqtt.TopicOrcaPresence:
		m.handlePresencePayload(ctx, payload)
	}
}

// handlePresencePayload mirrors contacts' online state onto their ghosts,
// when bridge.presence_from_facebook is enabled (m.presence is only
// constructed then).
func (m *MetaClient) handlePresencePayload(ctx context.Context, payload []byte) {
	if m.presence == nil {
		return
	}
	list, err := types.DecodePresence(payload)
	if err != nil {
		m.log.Warn().Err(err).Msg("Failed to decode presence payload")
		return
	}
	for _, entry := range list.List {
		m.presence.Set(ctx, entry.UserID, entry.State == 2)
	}
}

func (m *MetaClient) handleMessageSync(ctx context.Context, payload []byte) {
	sync, err := types.DecodeMessageSyncPayload(payload)
	if err != nil {
		m.log.Warn().Err(err).Msg("Failed to decode message sync payload")
		return
	}
	if sync.Error != "" {
		m.handleSyncError(ctx, sync.Error)
		return
	}
	for _, item := range sync.Items {
		parts, err := item.GetParts()
		if err != nil {
			m.log.Warn().Err(err).Msg("Failed to parse message sync event")
			continue
		}
		for _, part := range parts {
			m.handleSyncPart(ctx, part)
		}
	}
	if sync.LastSeqID > 0 {
		m.noteSeqID(ctx, sync.LastSeqID)
	}
}

// handleSyncError reacts to a sync queue error carried in the payload
// itself rather than a connection failure. A missing queue means the
// resume token is no longer valid and the connection must start over with
// a fresh create-queue; an overflow/underflow means deltas were lost and
// the bridge's view of every thread must be refreshed from GraphQL.
func (m *MetaClient) handleSyncError(ctx context.Context, syncErr types.MessageSyncError) {
	m.log.Warn().Str("error", string(syncErr)).Msg("Realtime sync queue reported an error")
	switch syncErr {
	case types.MessageSyncErrorQueueNotFound:
		// The resume material no longer names a live queue; drop it (and
		// persist the drop) so the reconnect makes a fresh create-queue
		// connection instead of resuming.
		if meta, ok := m.userLogin.Metadata.(*UserLoginMetadata); ok {
			meta.ConnectTokenHash = nil
		}
		if err := m.userLogin.Save(ctx); err != nil {
			m.log.Warn().Err(err).Msg("Failed to persist cleared connect token hash")
		}
		m.requestReconnect(ctx)
	case types.MessageSyncErrorQueueOverflow, types.MessageSyncErrorQueueUnderflow:
		// Deltas were lost; the queue can't be caught up, so refresh the
		// bridge's view of every thread from GraphQL.
		m.Refresh(ctx)
	}
}

func (m *MetaClient) handleSyncPart(ctx context.Context, part any) {
	switch v := part.(type) {
	case *types.Message:
		m.handleMessageDelta(ctx, v, nil)
	case *types.ExtendedMessage:
		m.handleMessageDelta(ctx, &v.Message, v.ReplyToMessage)
	case *types.Reaction:
		m.handleReactionDelta(ctx, v)
	case *types.UnsendMessage:
		m.handleUnsendDelta(ctx, v)
	case *types.AddMember, *types.RemoveMember, *types.NameChange, *types.AvatarChange, *types.ThreadChange, *types.ForcedFetch:
		m.handleThreadMetaDelta(ctx, v)
	case *types.ReadReceipt:
		m.handleReadReceiptDelta(ctx, v)
	case *types.OwnReadReceipt:
		// Our own read watermark moving doesn't need to be reflected back to
		// Matrix; HandleMatrixReadReceipt is what drove it in the first place.
	case *types.DeliveryReceipt:
		// Delivery (not read) receipts have no Matrix equivalent.
	}
}

// handleMessageDelta converts one message delta into a simplevent.Message,
// first resolving it against the dedup registry so an echo of a message
// this account just sent over HandleMatrixMessage doesn't get bridged back
// in as a duplicate.
func (m *MetaClient) handleMessageDelta(ctx context.Context, msg *types.Message, replyTo *types.Message) {
	threadID := threadIDFromKey(msg.Metadata.Thread)
	dedup := m.dedup.Get(threadID)

	var txnID networkid.TransactionID
	if oti := msg.Metadata.OfflineThreadingID; oti != 0 {
		if resolvedID, ok := dedup.IsOwnSend(oti); ok {
			dedup.ForgetSend(oti)
			if msg.Metadata.ID != "" {
				dedup.SeenMessage(msg.Metadata.ID)
			}
			if resolvedID != "" {
				// Already resolved synchronously (media upload response);
				// this echo has nothing left to deliver.
				return
			}
			// A text send only learns its message id from this echo. Let
			// the event through carrying the transaction id so bridgev2
			// maps it onto the pending Matrix-origin event instead of
			// bridging it as a new message.
			txnID = MakeTransactionID(oti)
		}
	}
	if txnID == "" && msg.Metadata.ID != "" && dedup.SeenMessage(msg.Metadata.ID) {
		return
	}

	if sender := msg.Metadata.Sender; sender != 0 && sender != m.fbid {
		if ghost, err := m.connector.Bridge.GetGhostByID(ctx, MakeUserID(sender)); err == nil && (ghost == nil || ghost.Name == "") {
			m.noteNamelessSender(threadID, msg.Metadata.Thread.IsGroup(), sender)
		}
	}

	data := &realtimeMessage{Message: msg, ReplyTo: replyTo}
	m.eventSender.QueueRemoteEvent(m.userLogin, &simplevent.Message[*realtimeMessage]{
		EventMeta: simplevent.EventMeta{
			Type:         bridgev2.RemoteEventMessage,
			PortalKey:    m.portalKey(threadID, msg.Metadata.Thread.IsGroup()),
			CreatePortal: true,
			Sender:       m.deltaSender(msg.Metadata.Sender),
			Timestamp:    time.UnixMilli(msg.Metadata.Timestamp),
			LogContext: func(c zerolog.Context) zerolog.Context {
				return c.Str("message_id", msg.Metadata.ID).Str("thread_id", threadID)
			},
		},
		Data:               data,
		ID:                 MakeMessageID(msg.Metadata.ID),
		TransactionID:      txnID,
		ConvertMessageFunc: m.convertRealtimeMessage,
	})
}

// realtimeMessage bundles a message delta with the message it replies to,
// since replies only appear in the nested ExtendedMessage client_payload
// item and must be carried alongside the base Message into conversion.
type realtimeMessage struct {
	Message *types.Message
	ReplyTo *types.Message
}

// deltaSender builds the EventSender for a delta authored by fbid,
// marking it as our own account's send when it matches this client.
func (m *MetaClient) deltaSender(fbid int64) bridgev2.EventSender {
	return bridgev2.EventSender{
		IsFromMe: fbid == m.fbid,
		Sender:   MakeUserID(fbid),
	}
}

// resolveMention looks up a mentioned fbid's current Matrix identity,
// falling back to ok=false (the mention is rendered as plain text) if the
// bridge has no ghost for that user yet.
func (m *MetaClient) resolveMention(ctx context.Context) metafmt.ResolveMentionFunc {
	return func(fbid string) (string, string, bool) {
		n, err := strconv.ParseInt(fbid, 10, 64)
		if err != nil {
			return "", "", false
		}
		ghost, err := m.connector.Bridge.GetGhostByID(ctx, MakeUserID(n))
		if err != nil || ghost == nil {
			return "", "", false
		}
		return ghost.Intent.GetMXID().String(), ghost.Name, true
	}
}

// convertRealtimeMessage turns one realtime message delta into Matrix
// event content: a text part built through metafmt (mentions resolved
// against known ghosts), plus one part per attachment.
func (m *MetaClient) convertRealtimeMessage(ctx context.Context, portal *bridgev2.Portal, intent bridgev2.MatrixAPI, data *realtimeMessage) (*bridgev2.ConvertedMessage, error) {
	msg := data.Message
	converted := &bridgev2.ConvertedMessage{}

	if msg.Text != "" {
		mentions, err := msg.Mentions()
		if err != nil {
			m.log.Warn().Err(err).Msg("Failed to parse message mentions")
		}
		parsed := metafmtParse(msg.Text, mentions, m.resolveMention(ctx))
		content := &event.MessageEventContent{
			MsgType:       event.MsgText,
			Body:          parsed.Body,
			Format:        parsed.Format,
			FormattedBody: parsed.FormattedBody,
		}
		converted.Parts = append(converted.Parts, &bridgev2.ConvertedMessagePart{
			ID:      MakeMessagePartID(0),
			Type:    event.EventMessage,
			Content: content,
		})
	}

	if data.ReplyTo != nil && data.ReplyTo.Metadata.ID != "" {
		converted.ReplyTo = &networkid.MessageOptionalPartID{MessageID: MakeMessageID(data.ReplyTo.Metadata.ID)}
	}

	for i, att := range msg.Attachments {
		part, err := m.convertAttachment(ctx, intent, att, i+1)
		if err != nil {
			m.log.Warn().Err(err).Str("media_id", att.MediaIDStr).Msg("Failed to convert attachment")
			continue
		}
		converted.Parts = append(converted.Parts, part)
	}

	if msg.Sticker != "" {
		part, err := m.convertSticker(ctx, intent, msg.Sticker, len(msg.Attachments)+1)
		if err != nil {
			m.log.Warn().Err(err).Str("sticker_id", msg.Sticker).Msg("Failed to convert sticker")
		} else if part != nil {
			converted.Parts = append(converted.Parts, part)
		}
	}

	if len(converted.Parts) == 0 && msg.Metadata.AdminText != "" {
		converted.Parts = append(converted.Parts, &bridgev2.ConvertedMessagePart{
			Type: event.EventMessage,
			Content: &event.MessageEventContent{
				MsgType: event.MsgNotice,
				Body:    msg.Metadata.AdminText,
			},
		})
	}

	return converted, nil
}

// convertAttachment downloads one realtime attachment and uploads it to
// Matrix media, picking the Matrix msgtype from the attachment's own
// sub-info struct (image/video/audio) or falling back to a generic file.
func (m *MetaClient) convertAttachment(ctx context.Context, intent bridgev2.MatrixAPI, att types.Attachment, index int) (*bridgev2.ConvertedMessagePart, error) {
	data, err := m.downloadAttachment(ctx, att)
	if err != nil {
		return nil, err
	}

	filename := att.FileName
	if filename == "" {
		filename = "file"
	}
	content := &event.MessageEventContent{
		Body: filename,
		Info: &event.FileInfo{
			MimeType: att.MimeType,
			Size:     int(att.FileSize),
		},
	}
	switch {
	case att.ImageInfo != nil:
		content.MsgType = event.MsgImage
		content.Info.Width = int(att.ImageInfo.OriginalWidth)
		content.Info.Height = int(att.ImageInfo.OriginalHeight)
	case att.VideoInfo != nil:
		content.MsgType = event.MsgVideo
		content.Info.Width = int(att.VideoInfo.Width)
		content.Info.Height = int(att.VideoInfo.Height)
		content.Info.Duration = int(att.VideoInfo.Duration)
	case att.AudioInfo != nil:
		content.MsgType = event.MsgAudio
		content.Info.Duration = int(att.AudioInfo.Duration)
	default:
		content.MsgType = event.MsgFile
	}

	url, encFile, err := intent.UploadMedia(ctx, "", data, filename, att.MimeType)
	if err != nil {
		return nil, err
	}
	if encFile != nil {
		content.File = encFile
	} else {
		content.URL = url
	}

	return &bridgev2.ConvertedMessagePart{
		ID:      MakeMessagePartID(index),
		Type:    event.EventMessage,
		Content: content,
	}, nil
}

// downloadMedia fetches media bytes from a CDN URL, through a sandboxed
// bare session when bridge.sandbox_media_download is enabled.
func (m *MetaClient) downloadMedia(ctx context.Context, url string) ([]byte, error) {
	var resp *http.Response
	var err error
	if m.connector.Config.Bridge.SandboxMediaDownload {
		resp, err = m.http.SandboxedGet(ctx, url)
	} else {
		resp, err = m.http.Get(ctx, url, nil, false)
	}
	if err != nil {
		return nil, err
	}
	return msgrapihttp.ReadAll(resp)
}

// downloadAttachment fetches an attachment's bytes from its CDN URL,
// preferring the richest sub-info struct's URL since Attachment.URL itself
// is rarely populated on the realtime path.
func (m *MetaClient) downloadAttachment(ctx context.Context, att types.Attachment) ([]byte, error) {
	url := ""
	switch {
	case att.ImageInfo != nil && att.ImageInfo.URL != "":
		url = att.ImageInfo.URL
	case att.VideoInfo != nil && att.VideoInfo.URL != "":
		url = att.VideoInfo.URL
	case att.AudioInfo != nil && att.AudioInfo.URL != "":
		url = att.AudioInfo.URL
	}
	return m.downloadMedia(ctx, url)
}

// convertSticker resolves a sticker id into its image over GraphQL, then
// downloads and re-uploads it like any other attachment.
func (m *MetaClient) convertSticker(ctx context.Context, intent bridgev2.MatrixAPI, stickerID string, index int) (*bridgev2.ConvertedMessagePart, error) {
	url, err := m.fetchStickerURL(ctx, stickerID)
	if err != nil {
		return nil, err
	}
	if url == "" {
		return nil, nil
	}
	data, err := m.downloadMedia(ctx, url)
	if err != nil {
		return nil, err
	}
	content := &event.MessageEventContent{
		MsgType: event.MsgImage,
		Body:    "sticker",
		Info:    &event.FileInfo{MimeType: "image/webp", Size: len(data)},
	}
	uploadedURL, encFile, err := intent.UploadMedia(ctx, "", data, "sticker.webp", "image/webp")
	if err != nil {
		return nil, err
	}
	if encFile != nil {
		content.File = encFile
	} else {
		content.URL = uploadedURL
	}
	return &bridgev2.ConvertedMessagePart{
		ID:      MakeMessagePartID(index),
		Type:    event.EventMessage,
		Content: content,
	}, nil
}

// fetchStickerURL asks GraphQL for a sticker's image URL, preferring the
// animated form when the sticker has one.
func (m *MetaClient) fetchStickerURL(ctx context.Context, stickerID string) (string, error) {
	resp, err := m.http.GraphQL(ctx, msgrapihttp.FetchStickersQuery{StickerIDs: []string{stickerID}}, true)
	if err != nil {
		return "", err
	}
	data, ok := digPath(resp, "data")
	if !ok {
		return "", nil
	}
	nodes, ok := data["nodes"].([]any)
	if !ok || len(nodes) == 0 {
		return "", nil
	}
	node, ok := nodes[0].(map[string]any)
	if !ok {
		return "", nil
	}
	for _, key := range []string{"animated_image", "preview_image", "thread_image"} {
		if img, ok := node[key].(map[string]any); ok {
			if uri, ok := img["uri"].(string); ok && uri != "" {
				return uri, nil
			}
		}
	}
	return "", nil
}

func (m *MetaClient) handleReactionDelta(ctx context.Context, r *types.Reaction) {
	threadID := threadIDFromKey(r.Thread)
	portalKey := m.portalKey(threadID, r.Thread.IsGroup())
	evtType := bridgev2.RemoteEventReaction
	if r.ReactionValue == "" {
		evtType = bridgev2.RemoteEventReactionRemove
	}
	emoji := variationselector.Remove(r.ReactionValue)
	m.eventSender.QueueRemoteEvent(m.userLogin, &simplevent.Reaction{
		EventMeta: simplevent.EventMeta{
			Type:      evtType,
			PortalKey: portalKey,
			Sender:    m.deltaSender(r.ReactionSenderID),
		},
		TargetMessage: MakeMessageID(r.MessageID),
		EmojiID:       MakeEmojiID(emoji),
		Emoji:         emoji,
	})
}

func (m *MetaClient) handleUnsendDelta(ctx context.Context, u *types.UnsendMessage) {
	threadID := threadIDFromKey(u.Thread)
	m.eventSender.QueueRemoteEvent(m.userLogin, &simplevent.MessageRemove{
		EventMeta: simplevent.EventMeta{
			Type:      bridgev2.RemoteEventMessageRemove,
			PortalKey: m.portalKey(threadID, u.Thread.IsGroup()),
			Sender:    m.deltaSender(u.UserID),
			Timestamp: time.UnixMilli(u.Timestamp),
		},
		TargetMessage: MakeMessageID(u.MessageID),
	})
}

// handleThreadMetaDelta handles the various group-thread metadata deltas by
// queuing a ChatResync that refetches the thread over GraphQL, rather than
// reconstructing the new state field-by-field from the delta alone.
func (m *MetaClient) handleThreadMetaDelta(ctx context.Context, part any) {
	var thread types.ThreadKey
	switch v := part.(type) {
	case *types.AddMember:
		thread = v.Metadata.Thread
	case *types.RemoveMember:
		thread = v.Metadata.Thread
	case *types.NameChange:
		thread = v.Metadata.Thread
	case *types.AvatarChange:
		thread = v.Metadata.Thread
	case *types.ThreadChange:
		thread = v.Metadata.Thread
	case *types.ForcedFetch:
		thread = v.Thread
	default:
		return
	}
	threadID := threadIDFromKey(thread)
	m.eventSender.QueueRemoteEvent(m.userLogin, &simplevent.ChatResync{
		EventMeta: simplevent.EventMeta{
			Type:      bridgev2.RemoteEventChatResync,
			PortalKey: m.portalKey(threadID, thread.IsGroup()),
		},
		GetChatInfoFunc: func(ctx context.Context, portal *bridgev2.Portal) (*bridgev2.ChatInfo, error) {
			return m.GetChatInfo(ctx, portal)
		},
	})
}

func (m *MetaClient) handleReadReceiptDelta(ctx context.Context, rr *types.ReadReceipt) {
	threadID := threadIDFromKey(rr.Thread)
	m.eventSender.QueueRemoteEvent(m.userLogin, &simplevent.Receipt{
		EventMeta: simplevent.EventMeta{
			Type:      bridgev2.RemoteEventReadReceipt,
			PortalKey: m.portalKey(threadID, rr.Thread.IsGroup()),
			Sender:    m.deltaSender(rr.UserID),
			Timestamp: time.UnixMilli(rr.ReadAt),
		},
	})
}

func (m *MetaClient) handleRegionHintPayload(ctx context.Context, payload []byte) {
	rh, err := types.DecodeRegionHintPayload(payload)
	if err != nil {
		m.log.Warn().Err(err).Msg("Failed to decode region hint payload")
		return
	}
	host, err := rh.RegionHint()
	if err != nil || host == "" {
		return
	}
	m.setHostOverride(host)
}

func (m *MetaClient) handleTypingPayload(ctx context.Context, payload []byte) {
	tn, err := types.DecodeTypingNotification(payload)
	if err != nil {
		m.log.Warn().Err(err).Msg("Failed to decode typing notification")
		return
	}
	threadID := strconv.FormatInt(tn.UserID, 10)
	timeout := time.Duration(0)
	if tn.TypingStatus != 0 {
		timeout = 15 * time.Second
	}
	m.eventSender.QueueRemoteEvent(m.userLogin, &simplevent.Typing{
		EventMeta: simplevent.EventMeta{
			Type:      bridgev2.RemoteEventTyping,
			PortalKey: m.portalKey(threadID, false),
			Sender:    m.deltaSender(tn.UserID),
		},
		Timeout: timeout,
	})
}
