// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"
	"strconv"
	"time"
	"unicode/utf16"

	"maunium.net/go/mautrix/bridgev2"
	"maunium.net/go/mautrix/bridgev2/networkid"
	"maunium.net/go/mautrix/event"

	msgrapihttp "go.mau.fi/mautrix-meta/pkg/msgrapi/http"
	"go.mau.fi/mautrix-meta/pkg/msgrapi/types"
)

var _ bridgev2.BackfillingNetworkAPI = (*MetaClient)(nil)

// FetchMessages implements bridgev2.BackfillingNetworkAPI, paging backward
// through a thread's history over GraphQL. Messenger's mobile API has no
// forward-paging document, so a forward fetch just returns the thread's
// current tail page.
func (m *MetaClient) FetchMessages(ctx context.Context, params bridgev2.FetchMessagesParams) (*bridgev2.FetchMessagesResponse, error) {
	if !m.IsLoggedIn() {
		return nil, bridgev2.ErrNotLoggedIn
	}
	if !m.connector.Config.Bridge.Backfill.Enabled {
		return &bridgev2.FetchMessagesResponse{}, nil
	}

	threadID := ParsePortalID(params.Portal.ID)

	count := params.Count
	if count <= 0 {
		count = 20
	}

	var list *msgrapihttp.MessageList
	var err error
	if params.AnchorMessage != nil && !params.Forward {
		beforeMs := strconv.FormatInt(params.AnchorMessage.Timestamp.UnixMilli(), 10)
		list, err = m.fetchMoreMessages(ctx, threadID, beforeMs, count)
	} else {
		var thread *msgrapihttp.Thread
		thread, err = m.fetchThread(ctx, threadID)
		if err == nil {
			msgs := thread.Messages
			list = &msgs
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch message history: %w", err)
	}

	messages := make([]*bridgev2.BackfillMessage, 0, len(list.Nodes))
	for i := len(list.Nodes) - 1; i >= 0; i-- {
		hm := list.Nodes[i]

		senderFBID, err := strconv.ParseInt(hm.MessageSender.ID, 10, 64)
		if err != nil {
			continue
		}
		ts, err := parseTimestampMs(hm.TimestampPrecise)
		if err != nil {
			continue
		}

		converted, err := m.convertHistoryMessage(ctx, params.Portal, hm)
		if err != nil {
			m.log.Warn().Err(err).Str("message_id", hm.MessageID).Msg("Failed to convert history message")
			continue
		}

		messages = append(messages, &bridgev2.BackfillMessage{
			ConvertedMessage: converted,
			Sender:           m.deltaSender(senderFBID),
			ID:               MakeMessageID(hm.MessageID),
			Timestamp:        time.UnixMilli(ts),
		})
	}

	resp := &bridgev2.FetchMessagesResponse{
		Messages: messages,
		HasMore:  list.PageInfo.HasPreviousPage,
		Forward:  params.Forward,
	}
	if list.PageInfo.HasPreviousPage && len(list.Nodes) > 0 {
		oldest := list.Nodes[len(list.Nodes)-1]
		if ms, err := parseTimestampMs(oldest.TimestampPrecise); err == nil {
			resp.Cursor = networkid.PaginationCursor(strconv.FormatInt(ms, 10))
		}
	}
	return resp, nil
}

// fetchMoreMessages pages backward from beforeMs. The bridge's backfill
// queue is responsible for enforcing Bridge.Backfill.MaxPages/MaxTotalPages
// across repeated calls to FetchMessages; this just fetches one page.
func (m *MetaClient) fetchMoreMessages(ctx context.Context, threadID, beforeMs string, count int) (*msgrapihttp.MessageList, error) {
	resp, err := m.http.GraphQL(ctx, msgrapihttp.MoreMessagesQuery{
		ThreadID:     threadID,
		BeforeTimeMs: beforeMs,
		MsgCount:     count,
	}, true)
	if err != nil {
		return nil, err
	}
	data, ok := digPath(resp, "data", "message_thread", "messages")
	if !ok {
		return nil, fmt.Errorf("more messages response missing data.message_thread.messages")
	}
	return msgrapihttp.DecodeMessageList(data)
}

// convertHistoryMessage turns one GraphQL-sourced history message into
// Matrix event content, mirroring convertRealtimeMessage's shape for the
// differently-typed history message format.
func (m *MetaClient) convertHistoryMessage(ctx context.Context, portal *bridgev2.Portal, hm msgrapihttp.Message) (*bridgev2.ConvertedMessage, error) {
	converted := &bridgev2.ConvertedMessage{}

	if hm.Message != nil && hm.Message.Text != "" {
		mentions := convertHistoryMentions(hm.Message.Text, hm.Message.Ranges)
		parsed := metafmtParse(hm.Message.Text, mentions, m.resolveMention(ctx))
		converted.Parts = append(converted.Parts, &bridgev2.ConvertedMessagePart{
			ID:   MakeMessagePartID(0),
			Type: event.EventMessage,
			Content: &event.MessageEventContent{
				MsgType:       event.MsgText,
				Body:          parsed.Body,
				Format:        parsed.Format,
				FormattedBody: parsed.FormattedBody,
			},
		})
	}

	if hm.RepliedToMessage != nil && hm.RepliedToMessage.MessageID != "" {
		converted.ReplyTo = &networkid.MessageOptionalPartID{MessageID: MakeMessageID(hm.RepliedToMessage.MessageID)}
	}

	intent := portal.Bridge.Bot
	for i, att := range hm.BlobAttachments {
		part, err := m.convertHistoryAttachment(ctx, intent, att, i)
		if err != nil {
			m.log.Warn().Err(err).Str("attachment_id", att.ID).Msg("Failed to convert history attachment")
			continue
		}
		if part != nil {
			converted.Parts = append(converted.Parts, part)
		}
	}

	if len(converted.Parts) == 0 && hm.Snippet != "" {
		converted.Parts = append(converted.Parts, &bridgev2.ConvertedMessagePart{
			Type: event.EventMessage,
			Content: &event.MessageEventContent{
				MsgType: event.MsgNotice,
				Body:    hm.Snippet,
			},
		})
	}

	return converted, nil
}

// convertHistoryAttachment downloads and re-uploads one history message
// attachment. Plain file attachments carry no direct download URL in the
// mobile API's thread document, so they're skipped rather than fabricated.
func (m *MetaClient) convertHistoryAttachment(ctx context.Context, intent bridgev2.MatrixAPI, att msgrapihttp.Attachment, index int) (*bridgev2.ConvertedMessagePart, error) {
	var url string
	msgType := event.MsgFile
	switch att.Typename {
	case msgrapihttp.AttachmentTypePhoto, msgrapihttp.AttachmentTypeSticker:
		msgType = event.MsgImage
		if att.LargePreview != nil {
			url = att.LargePreview.URI
		} else if att.PreviewImage != nil {
			url = att.PreviewImage.URI
		}
	case msgrapihttp.AttachmentTypeVideo:
		msgType = event.MsgVideo
		url = att.PlayableURL
	case msgrapihttp.AttachmentTypeAudio:
		msgType = event.MsgAudio
		url = att.PlayableURL
	}
	if url == "" {
		return nil, nil
	}

	data, err := m.downloadMedia(ctx, url)
	if err != nil {
		return nil, err
	}

	filename := att.Filename
	if filename == "" {
		filename = "attachment"
	}
	content := &event.MessageEventContent{
		MsgType: msgType,
		Body:    filename,
		Info:    &event.FileInfo{MimeType: att.MimeType},
	}
	uploadedURL, encFile, err := intent.UploadMedia(ctx, "", data, filename, att.MimeType)
	if err != nil {
		return nil, err
	}
	if encFile != nil {
		content.File = encFile
	} else {
		content.URL = uploadedURL
	}

	return &bridgev2.ConvertedMessagePart{
		ID:      MakeMessagePartID(index + 1),
		Type:    event.EventMessage,
		Content: content,
	}, nil
}

// convertHistoryMentions rebases GraphQL-history mention ranges, which
// count UTF-8 bytes into text, onto the UTF-16 code unit offsets
// metafmt.Parse expects (the same offsets realtime mentions already use).
func convertHistoryMentions(text string, ranges []msgrapihttp.MessageRange) []types.Mention {
	if len(ranges) == 0 {
		return nil
	}
	out := make([]types.Mention, 0, len(ranges))
	for _, r := range ranges {
		if r.Offset < 0 || r.Length < 0 || r.Offset+r.Length > len(text) {
			continue
		}
		u16Offset := len(utf16.Encode([]rune(text[:r.Offset])))
		u16Length := len(utf16.Encode([]rune(text[r.Offset : r.Offset+r.Length])))
		out = append(out, types.Mention{
			Offset: u16Offset,
			Length: u16Length,
			UserID: r.Entity.ID,
		})
	}
	return out
}
