package types

import (
	"encoding/json"
	"fmt"

	"go.mau.fi/mautrix-meta/pkg/msgrapi/thrift"
)

// ThreadKey identifies a conversation: either a 1:1 thread addressed by the
// other participant's id, or a group thread addressed by its own id.
type ThreadKey struct {
	ThreadFBID    int64
	OtherUserFBID int64
}

var threadKeySpec = thrift.Spec{
	Name: "ThreadKey",
	Fields: []thrift.FieldSpec{
		{ID: 1, Name: "thread_fbid", RType: thrift.Prim(thrift.TypeI64)},
		{ID: 2, Name: "other_user_fbid", RType: thrift.Prim(thrift.TypeI64)},
	},
}

func (t ThreadKey) encode() map[int16]any {
	f := map[int16]any{}
	if t.ThreadFBID != 0 {
		f[1] = t.ThreadFBID
	}
	if t.OtherUserFBID != 0 {
		f[2] = t.OtherUserFBID
	}
	return f
}

func decodeThreadKey(m map[string]any) ThreadKey {
	return ThreadKey{ThreadFBID: asI64(m, "thread_fbid"), OtherUserFBID: asI64(m, "other_user_fbid")}
}

// IsGroup reports whether this key addresses a group thread rather than a
// 1:1 conversation with OtherUserFBID.
func (t ThreadKey) IsGroup() bool { return t.OtherUserFBID == 0 }

// MessageMetadata is embedded in every message-shaped delta: identity,
// timing and thread-bump flags shared across Message, NameChange,
// AvatarChange, ThreadChange, AddMember and RemoveMember.
type MessageMetadata struct {
	Thread                 ThreadKey
	ID                     string
	OfflineThreadingID     int64
	Sender                 int64
	Timestamp              int64
	ShouldBuzzDevice       bool
	AdminText              string
	Tags                   []string
	ThreadReadStateEffect  int32
	SkipBumpThread         bool
	SkipSnippetUpdate      bool
	MessageUnsendability   int32
	Snippet                string
}

var messageMetadataSpec = thrift.Spec{
	Name: "MessageMetadata",
	Fields: []thrift.FieldSpec{
		{ID: 1, Name: "thread", RType: structRT(threadKeySpec)},
		{ID: 2, Name: "id", RType: thrift.Prim(thrift.TypeBinary)},
		{ID: 3, Name: "offline_threading_id", RType: thrift.Prim(thrift.TypeI64)},
		{ID: 4, Name: "sender", RType: thrift.Prim(thrift.TypeI64)},
		{ID: 5, Name: "timestamp", RType: thrift.Prim(thrift.TypeI64)},
		{ID: 6, Name: "should_buzz_device", RType: thrift.Prim(thrift.TypeBool)},
		{ID: 7, Name: "admin_text", RType: thrift.Prim(thrift.TypeBinary)},
		{ID: 8, Name: "tags", RType: listRT(thrift.Prim(thrift.TypeBinary))},
		{ID: 9, Name: "thread_read_state_effect", RType: thrift.Prim(thrift.TypeI32)},
		{ID: 10, Name: "skip_bump_thread", RType: thrift.Prim(thrift.TypeBool)},
		{ID: 11, Name: "skip_snippet_update", RType: thrift.Prim(thrift.TypeBool)},
		{ID: 12, Name: "message_unsendability", RType: thrift.Prim(thrift.TypeI32)},
		{ID: 13, Name: "snippet", RType: thrift.Prim(thrift.TypeBinary)},
	},
}

func decodeMessageMetadata(m map[string]any) MessageMetadata {
	md := MessageMetadata{
		ID:                    asStr(m, "id"),
		OfflineThreadingID:    asI64(m, "offline_threading_id"),
		Sender:                asI64(m, "sender"),
		Timestamp:             asI64(m, "timestamp"),
		ShouldBuzzDevice:      asBool(m, "should_buzz_device"),
		AdminText:             asStr(m, "admin_text"),
		Tags:                  asStrSlice(m, "tags"),
		ThreadReadStateEffect: int32(asI64(m, "thread_read_state_effect")),
		SkipBumpThread:        asBool(m, "skip_bump_thread"),
		SkipSnippetUpdate:     asBool(m, "skip_snippet_update"),
		MessageUnsendability:  int32(asI64(m, "message_unsendability")),
		Snippet:               asStr(m, "snippet"),
	}
	if sub, ok := m["thread"].(map[string]any); ok {
		md.Thread = decodeThreadKey(sub)
	}
	return md
}

// ImageInfo describes an attached photo's dimensions and CDN URL.
type ImageInfo struct {
	OriginalWidth  int32
	OriginalHeight int32
	URL            string
}

var imageInfoSpec = thrift.Spec{
	Name: "ImageInfo",
	Fields: []thrift.FieldSpec{
		{ID: 1, Name: "original_width", RType: thrift.Prim(thrift.TypeI32)},
		{ID: 2, Name: "original_height", RType: thrift.Prim(thrift.TypeI32)},
		{ID: 3, Name: "url", RType: thrift.Prim(thrift.TypeBinary)},
	},
}

func decodeImageInfo(m map[string]any) ImageInfo {
	return ImageInfo{
		OriginalWidth:  int32(asI64(m, "original_width")),
		OriginalHeight: int32(asI64(m, "original_height")),
		URL:            asStr(m, "url"),
	}
}

// VideoInfo describes an attached video's dimensions, duration and CDN URL.
type VideoInfo struct {
	Width    int32
	Height   int32
	Duration int32
	URL      string
}

var videoInfoSpec = thrift.Spec{
	Name: "VideoInfo",
	Fields: []thrift.FieldSpec{
		{ID: 1, Name: "width", RType: thrift.Prim(thrift.TypeI32)},
		{ID: 2, Name: "height", RType: thrift.Prim(thrift.TypeI32)},
		{ID: 3, Name: "duration", RType: thrift.Prim(thrift.TypeI32)},
		{ID: 4, Name: "url", RType: thrift.Prim(thrift.TypeBinary)},
	},
}

func decodeVideoInfo(m map[string]any) VideoInfo {
	return VideoInfo{
		Width:    int32(asI64(m, "width")),
		Height:   int32(asI64(m, "height")),
		Duration: int32(asI64(m, "duration")),
		URL:      asStr(m, "url"),
	}
}

// AudioInfo describes an attached voice clip. Waveform uses the client's
// FLOAT wire extension (thrift.TypeFloat), not the standard DOUBLE type.
type AudioInfo struct {
	Duration int32
	Waveform []float32
	URL      string
}

var audioInfoSpec = thrift.Spec{
	Name: "AudioInfo",
	Fields: []thrift.FieldSpec{
		{ID: 1, Name: "duration", RType: thrift.Prim(thrift.TypeI32)},
		{ID: 2, Name: "waveform", RType: listRT(thrift.Prim(thrift.TypeFloat))},
		{ID: 3, Name: "url", RType: thrift.Prim(thrift.TypeBinary)},
	},
}

func decodeAudioInfo(m map[string]any) AudioInfo {
	raw, _ := m["waveform"].([]any)
	wave := make([]float32, 0, len(raw))
	for _, v := range raw {
		f, _ := v.(float32)
		wave = append(wave, f)
	}
	return AudioInfo{
		Duration: int32(asI64(m, "duration")),
		Waveform: wave,
		URL:      asStr(m, "url"),
	}
}

// Attachment is a file, photo, video, voice clip or sticker attached to a
// Message. ExtensibleMedia is the raw base64-JSON blob the client sends for
// stickers/shares; ParseExtensibleMedia decodes it on demand.
type Attachment struct {
	MediaIDStr      string
	MimeType        string
	FileName        string
	MediaID         int64
	FileSize        int64
	ExtensibleMedia string
	ImageInfo       *ImageInfo
	VideoInfo       *VideoInfo
	AudioInfo       *AudioInfo
	ExtraMetadata   map[string]string
}

var attachmentSpec = thrift.Spec{
	Name: "Attachment",
	Fields: []thrift.FieldSpec{
		{ID: 1, Name: "media_id_str", RType: thrift.Prim(thrift.TypeBinary)},
		{ID: 2, Name: "mime_type", RType: thrift.Prim(thrift.TypeBinary)},
		{ID: 3, Name: "file_name", RType: thrift.Prim(thrift.TypeBinary)},
		{ID: 4, Name: "media_id", RType: thrift.Prim(thrift.TypeI64)},
		{ID: 5, Name: "file_size", RType: thrift.Prim(thrift.TypeI64)},
		{ID: 7, Name: "extensible_media", RType: thrift.Prim(thrift.TypeBinary)},
		{ID: 10, Name: "image_info", RType: structRT(imageInfoSpec)},
		{ID: 11, Name: "video_info", RType: structRT(videoInfoSpec)},
		{ID: 12, Name: "audio_info", RType: structRT(audioInfoSpec)},
		{ID: 13, Name: "extra_metadata", RType: mapStrStrRT()},
	},
}

func decodeAttachment(m map[string]any) Attachment {
	a := Attachment{
		MediaIDStr:      asStr(m, "media_id_str"),
		MimeType:        asStr(m, "mime_type"),
		FileName:        asStr(m, "file_name"),
		MediaID:         asI64(m, "media_id"),
		FileSize:        asI64(m, "file_size"),
		ExtensibleMedia: asStr(m, "extensible_media"),
		ExtraMetadata:   asStrMap(m, "extra_metadata"),
	}
	if sub, ok := m["image_info"].(map[string]any); ok {
		v := decodeImageInfo(sub)
		a.ImageInfo = &v
	}
	if sub, ok := m["video_info"].(map[string]any); ok {
		v := decodeVideoInfo(sub)
		a.VideoInfo = &v
	}
	if sub, ok := m["audio_info"].(map[string]any); ok {
		v := decodeAudioInfo(sub)
		a.AudioInfo = &v
	}
	return a
}

func decodeAttachmentList(raw []any) []Attachment {
	out := make([]Attachment, 0, len(raw))
	for _, v := range raw {
		if sub, ok := v.(map[string]any); ok {
			out = append(out, decodeAttachment(sub))
		}
	}
	return out
}

// ExtensibleMediaPayload is the shape of the base64-JSON blob carried in
// Attachment.ExtensibleMedia for stickers and shared links.
type ExtensibleMediaPayload struct {
	StickerID int64  `json:"sticker_id,omitempty"`
	TargetURL string `json:"target_url,omitempty"`
}

// ParseExtensibleMedia decodes Attachment.ExtensibleMedia, returning nil if
// the attachment carries no extensible media blob.
func (a Attachment) ParseExtensibleMedia() (*ExtensibleMediaPayload, error) {
	if a.ExtensibleMedia == "" {
		return nil, nil
	}
	var out ExtensibleMediaPayload
	if err := json.Unmarshal([]byte(a.ExtensibleMedia), &out); err != nil {
		return nil, fmt.Errorf("parsing extensible_media: %w", err)
	}
	return &out, nil
}

// Reaction is an emoji reaction add/remove/change on a message. An empty
// Reaction string means the sender removed their reaction.
type Reaction struct {
	Thread           ThreadKey
	MessageID        string
	ReactionSenderID int64
	ReactionValue    string
	MessageSenderID  int64
}

var reactionSpec = thrift.Spec{
	Name: "Reaction",
	Fields: []thrift.FieldSpec{
		{ID: 1, Name: "thread", RType: structRT(threadKeySpec)},
		{ID: 2, Name: "message_id", RType: thrift.Prim(thrift.TypeBinary)},
		{ID: 4, Name: "reaction_sender_id", RType: thrift.Prim(thrift.TypeI64)},
		{ID: 5, Name: "reaction", RType: thrift.Prim(thrift.TypeBinary)},
		{ID: 6, Name: "message_sender_id", RType: thrift.Prim(thrift.TypeI64)},
	},
}

func decodeReaction(m map[string]any) Reaction {
	r := Reaction{
		MessageID:        asStr(m, "message_id"),
		ReactionSenderID: asI64(m, "reaction_sender_id"),
		ReactionValue:    asStr(m, "reaction"),
		MessageSenderID:  asI64(m, "message_sender_id"),
	}
	if sub, ok := m["thread"].(map[string]any); ok {
		r.Thread = decodeThreadKey(sub)
	}
	return r
}

// MentionType distinguishes a @-mention of a person from a thread mention.
type MentionType string

const (
	MentionTypePerson MentionType = "p"
	MentionTypeThread MentionType = "t"
)

// Mention is carried as plain JSON inside Message.ExtraMetadata["prng"],
// not as a Thrift field - the client reuses its web mention format here
// rather than defining a Thrift schema for it.
type Mention struct {
	Offset int         `json:"o"`
	Length int         `json:"l"`
	UserID string      `json:"i"`
	Type   MentionType `json:"t"`
}

// Message is a text/sticker/media message delta.
type Message struct {
	Metadata      MessageMetadata
	Text          string
	Sticker       string
	Attachments   []Attachment
	ExtraMetadata map[string]string
}

var messageSpec = thrift.Spec{
	Name: "Message",
	Fields: []thrift.FieldSpec{
		{ID: 1, Name: "metadata", RType: structRT(messageMetadataSpec)},
		{ID: 2, Name: "text", RType: thrift.Prim(thrift.TypeBinary)},
		{ID: 4, Name: "sticker", RType: thrift.Prim(thrift.TypeBinary)},
		{ID: 5, Name: "attachments", RType: listRT(structRT(attachmentSpec))},
		{ID: 7, Name: "extra_metadata", RType: mapStrStrRT()},
	},
}

func decodeMessage(m map[string]any) Message {
	msg := Message{
		Text:          asStr(m, "text"),
		Sticker:       asStr(m, "sticker"),
		ExtraMetadata: asStrMap(m, "extra_metadata"),
	}
	if sub, ok := m["metadata"].(map[string]any); ok {
		msg.Metadata = decodeMessageMetadata(sub)
	}
	if raw, ok := m["attachments"].([]any); ok {
		msg.Attachments = decodeAttachmentList(raw)
	}
	return msg
}

// Mentions parses the mention list embedded in ExtraMetadata["prng"], the
// same field the Messenger web client uses.
func (m Message) Mentions() ([]Mention, error) {
	raw, ok := m.ExtraMetadata["prng"]
	if !ok || raw == "" {
		return nil, nil
	}
	var out []Mention
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("parsing mentions: %w", err)
	}
	return out, nil
}

// ExtendedMessage wraps a Message together with the message it replies to,
// delivered via MessageSyncClientEvent rather than the top-level
// MessageSyncEvent (replies are not visible to MessageSyncEvent.message).
type ExtendedMessage struct {
	ReplyToMessage *Message
	Message        Message
}

var extendedMessageSpec = thrift.Spec{
	Name: "ExtendedMessage",
	Fields: []thrift.FieldSpec{
		{ID: 1, Name: "reply_to_message", RType: structRT(messageSpec)},
		{ID: 2, Name: "message", RType: structRT(messageSpec)},
	},
}

func decodeExtendedMessage(m map[string]any) ExtendedMessage {
	em := ExtendedMessage{}
	if sub, ok := m["reply_to_message"].(map[string]any); ok {
		v := decodeMessage(sub)
		em.ReplyToMessage = &v
	}
	if sub, ok := m["message"].(map[string]any); ok {
		em.Message = decodeMessage(sub)
	}
	return em
}

// UnsendMessage reports that a previously sent message was recalled.
type UnsendMessage struct {
	Thread    ThreadKey
	MessageID string
	Timestamp int64
	UserID    int64
}

var unsendMessageSpec = thrift.Spec{
	Name: "UnsendMessage",
	Fields: []thrift.FieldSpec{
		{ID: 1, Name: "thread", RType: structRT(threadKeySpec)},
		{ID: 2, Name: "message_id", RType: thrift.Prim(thrift.TypeBinary)},
		{ID: 3, Name: "timestamp", RType: thrift.Prim(thrift.TypeI64)},
		{ID: 4, Name: "user_id", RType: thrift.Prim(thrift.TypeI64)},
	},
}

func decodeUnsendMessage(m map[string]any) UnsendMessage {
	um := UnsendMessage{
		MessageID: asStr(m, "message_id"),
		Timestamp: asI64(m, "timestamp"),
		UserID:    asI64(m, "user_id"),
	}
	if sub, ok := m["thread"].(map[string]any); ok {
		um.Thread = decodeThreadKey(sub)
	}
	return um
}

// AddMemberParticipant names one user added to a group thread.
type AddMemberParticipant struct {
	ID        int64
	FirstName string
	Name      string
}

var addMemberParticipantSpec = thrift.Spec{
	Name: "AddMemberParticipant",
	Fields: []thrift.FieldSpec{
		{ID: 1, Name: "id", RType: thrift.Prim(thrift.TypeI64)},
		{ID: 2, Name: "first_name", RType: thrift.Prim(thrift.TypeBinary)},
		{ID: 3, Name: "name", RType: thrift.Prim(thrift.TypeBinary)},
	},
}

func decodeAddMemberParticipant(m map[string]any) AddMemberParticipant {
	return AddMemberParticipant{ID: asI64(m, "id"), FirstName: asStr(m, "first_name"), Name: asStr(m, "name")}
}

// AddMember reports one or more users joining a group thread.
type AddMember struct {
	Metadata MessageMetadata
	Users    []AddMemberParticipant
}

var addMemberSpec = thrift.Spec{
	Name: "AddMember",
	Fields: []thrift.FieldSpec{
		{ID: 1, Name: "metadata", RType: structRT(messageMetadataSpec)},
		{ID: 2, Name: "users", RType: listRT(structRT(addMemberParticipantSpec))},
	},
}

func decodeAddMember(m map[string]any) AddMember {
	am := AddMember{}
	if sub, ok := m["metadata"].(map[string]any); ok {
		am.Metadata = decodeMessageMetadata(sub)
	}
	if raw, ok := m["users"].([]any); ok {
		for _, v := range raw {
			if sub, ok := v.(map[string]any); ok {
				am.Users = append(am.Users, decodeAddMemberParticipant(sub))
			}
		}
	}
	return am
}

// RemoveMember reports a user leaving or being removed from a group thread.
type RemoveMember struct {
	Metadata MessageMetadata
	UserID   int64
}

var removeMemberSpec = thrift.Spec{
	Name: "RemoveMember",
	Fields: []thrift.FieldSpec{
		{ID: 1, Name: "metadata", RType: structRT(messageMetadataSpec)},
		{ID: 2, Name: "user_id", RType: thrift.Prim(thrift.TypeI64)},
	},
}

func decodeRemoveMember(m map[string]any) RemoveMember {
	rm := RemoveMember{UserID: asI64(m, "user_id")}
	if sub, ok := m["metadata"].(map[string]any); ok {
		rm.Metadata = decodeMessageMetadata(sub)
	}
	return rm
}

// NameChange reports a group thread being renamed.
type NameChange struct {
	Metadata MessageMetadata
	NewName  string
}

var nameChangeSpec = thrift.Spec{
	Name: "NameChange",
	Fields: []thrift.FieldSpec{
		{ID: 1, Name: "metadata", RType: structRT(messageMetadataSpec)},
		{ID: 2, Name: "new_name", RType: thrift.Prim(thrift.TypeBinary)},
	},
}

func decodeNameChange(m map[string]any) NameChange {
	nc := NameChange{NewName: asStr(m, "new_name")}
	if sub, ok := m["metadata"].(map[string]any); ok {
		nc.Metadata = decodeMessageMetadata(sub)
	}
	return nc
}

// AvatarChange reports a group thread's icon being changed.
type AvatarChange struct {
	Metadata  MessageMetadata
	NewAvatar Attachment
}

var avatarChangeSpec = thrift.Spec{
	Name: "AvatarChange",
	Fields: []thrift.FieldSpec{
		{ID: 1, Name: "metadata", RType: structRT(messageMetadataSpec)},
		{ID: 2, Name: "new_avatar", RType: structRT(attachmentSpec)},
	},
}

func decodeAvatarChange(m map[string]any) AvatarChange {
	ac := AvatarChange{}
	if sub, ok := m["metadata"].(map[string]any); ok {
		ac.Metadata = decodeMessageMetadata(sub)
	}
	if sub, ok := m["new_avatar"].(map[string]any); ok {
		ac.NewAvatar = decodeAttachment(sub)
	}
	return ac
}

// ThreadChangeAction enumerates the kinds of thread_change delta.
type ThreadChangeAction string

const (
	ThreadChangeIcon         ThreadChangeAction = "change_thread_icon"
	ThreadChangeTheme        ThreadChangeAction = "change_thread_theme"
	ThreadChangeAdmins       ThreadChangeAction = "change_thread_admins"
	ThreadChangeApprovalMode ThreadChangeAction = "change_thread_approval_mode"
	ThreadChangeNickname     ThreadChangeAction = "change_thread_nickname"
)

// ThreadChange reports a miscellaneous thread setting change: icon, theme,
// admin list, approval mode, or a per-member nickname.
type ThreadChange struct {
	Metadata   MessageMetadata
	Action     ThreadChangeAction
	ActionData map[string]string
}

var threadChangeSpec = thrift.Spec{
	Name: "ThreadChange",
	Fields: []thrift.FieldSpec{
		{ID: 1, Name: "metadata", RType: structRT(messageMetadataSpec)},
		{ID: 2, Name: "action", RType: thrift.Prim(thrift.TypeBinary)},
		{ID: 3, Name: "action_data", RType: mapStrStrRT()},
	},
}

func decodeThreadChange(m map[string]any) ThreadChange {
	tc := ThreadChange{Action: ThreadChangeAction(asStr(m, "action")), ActionData: asStrMap(m, "action_data")}
	if sub, ok := m["metadata"].(map[string]any); ok {
		tc.Metadata = decodeMessageMetadata(sub)
	}
	return tc
}

// ReadReceipt reports another user's read watermark advancing.
type ReadReceipt struct {
	Thread ThreadKey
	UserID int64
	ReadAt int64
	ReadTo int64
}

var readReceiptSpec = thrift.Spec{
	Name: "ReadReceipt",
	Fields: []thrift.FieldSpec{
		{ID: 1, Name: "thread", RType: structRT(threadKeySpec)},
		{ID: 2, Name: "user_id", RType: thrift.Prim(thrift.TypeI64)},
		{ID: 3, Name: "read_at", RType: thrift.Prim(thrift.TypeI64)},
		{ID: 4, Name: "read_to", RType: thrift.Prim(thrift.TypeI64)},
	},
}

func decodeReadReceipt(m map[string]any) ReadReceipt {
	rr := ReadReceipt{UserID: asI64(m, "user_id"), ReadAt: asI64(m, "read_at"), ReadTo: asI64(m, "read_to")}
	if sub, ok := m["thread"].(map[string]any); ok {
		rr.Thread = decodeThreadKey(sub)
	}
	return rr
}

// OwnReadReceipt reports our own read watermark advancing, possibly across
// several threads at once (a bulk mark-all-read).
type OwnReadReceipt struct {
	Threads []ThreadKey
	ReadTo  int64
	ReadAt  int64
}

var ownReadReceiptSpec = thrift.Spec{
	Name: "OwnReadReceipt",
	Fields: []thrift.FieldSpec{
		{ID: 1, Name: "threads", RType: listRT(structRT(threadKeySpec))},
		{ID: 3, Name: "read_to", RType: thrift.Prim(thrift.TypeI64)},
		{ID: 4, Name: "read_at", RType: thrift.Prim(thrift.TypeI64)},
	},
}

func decodeOwnReadReceipt(m map[string]any) OwnReadReceipt {
	orr := OwnReadReceipt{ReadTo: asI64(m, "read_to"), ReadAt: asI64(m, "read_at")}
	if raw, ok := m["threads"].([]any); ok {
		for _, v := range raw {
			if sub, ok := v.(map[string]any); ok {
				orr.Threads = append(orr.Threads, decodeThreadKey(sub))
			}
		}
	}
	return orr
}

// DeliveryReceipt reports a batch of messages being delivered to a user's
// other device(s).
type DeliveryReceipt struct {
	Thread        ThreadKey
	UserID        *int64
	MessageIDList []string
	Timestamp     int64
}

var deliveryReceiptSpec = thrift.Spec{
	Name: "DeliveryReceipt",
	Fields: []thrift.FieldSpec{
		{ID: 1, Name: "thread", RType: structRT(threadKeySpec)},
		{ID: 2, Name: "user_id", RType: thrift.Prim(thrift.TypeI64)},
		{ID: 6, Name: "message_id_list", RType: listRT(thrift.Prim(thrift.TypeBinary))},
		{ID: 7, Name: "timestamp", RType: thrift.Prim(thrift.TypeI64)},
	},
}

func decodeDeliveryReceipt(m map[string]any) DeliveryReceipt {
	dr := DeliveryReceipt{MessageIDList: asStrSlice(m, "message_id_list"), Timestamp: asI64(m, "timestamp")}
	if sub, ok := m["thread"].(map[string]any); ok {
		dr.Thread = decodeThreadKey(sub)
	}
	dr.UserID = asI64Ptr(m, "user_id")
	return dr
}

// ForcedFetch tells the bridge its local view of a thread is stale and must
// be refetched over GraphQL rather than reconstructed from this delta
// stream alone.
type ForcedFetch struct {
	Thread ThreadKey
}

var forcedFetchSpec = thrift.Spec{
	Name:   "ForcedFetch",
	Fields: []thrift.FieldSpec{{ID: 1, Name: "thread", RType: structRT(threadKeySpec)}},
}

func decodeForcedFetch(m map[string]any) ForcedFetch {
	ff := ForcedFetch{}
	if sub, ok := m["thread"].(map[string]any); ok {
		ff.Thread = decodeThreadKey(sub)
	}
	return ff
}

// MessageSyncClientEvent is one entry of a MessageSyncClientPayload: deltas
// that ride inside a nested Thrift blob rather than the top-level
// MessageSyncEvent, because they are produced by the client-payload RPC
// path instead of the sync queue directly.
type MessageSyncClientEvent struct {
	Reaction        *Reaction
	ExtendedMessage *ExtendedMessage
	UnsendMessage   *UnsendMessage
}

var messageSyncClientEventSpec = thrift.Spec{
	Name: "MessageSyncClientEvent",
	Fields: []thrift.FieldSpec{
		{ID: 10, Name: "reaction", RType: structRT(reactionSpec)},
		{ID: 55, Name: "extended_message", RType: structRT(extendedMessageSpec)},
		{ID: 67, Name: "unsend_message", RType: structRT(unsendMessageSpec)},
	},
}

func decodeMessageSyncClientEvent(m map[string]any) MessageSyncClientEvent {
	e := MessageSyncClientEvent{}
	if sub, ok := m["reaction"].(map[string]any); ok {
		v := decodeReaction(sub)
		e.Reaction = &v
	}
	if sub, ok := m["extended_message"].(map[string]any); ok {
		v := decodeExtendedMessage(sub)
		e.ExtendedMessage = &v
	}
	if sub, ok := m["unsend_message"].(map[string]any); ok {
		v := decodeUnsendMessage(sub)
		e.UnsendMessage = &v
	}
	return e
}

// Parts returns e's non-nil fields in the fixed order [reaction,
// extended_message, unsend_message], matching MessageSyncEvent.GetParts'
// flattening of client_payload items.
func (e MessageSyncClientEvent) Parts() []any {
	var out []any
	if e.Reaction != nil {
		out = append(out, e.Reaction)
	}
	if e.ExtendedMessage != nil {
		out = append(out, e.ExtendedMessage)
	}
	if e.UnsendMessage != nil {
		out = append(out, e.UnsendMessage)
	}
	return out
}

// MessageSyncClientPayload is the nested Thrift blob carried in
// MessageSyncEvent.ClientPayload.
type MessageSyncClientPayload struct {
	Items []MessageSyncClientEvent
}

var messageSyncClientPayloadSpec = thrift.Spec{
	Name:   "MessageSyncClientPayload",
	Fields: []thrift.FieldSpec{{ID: 1, Name: "items", RType: listRT(structRT(messageSyncClientEventSpec))}},
}

// ParseMessageSyncClientPayload decodes the nested client_payload blob.
func ParseMessageSyncClientPayload(data []byte) (*MessageSyncClientPayload, error) {
	r := thrift.NewReader(data)
	m, err := r.ReadStruct(messageSyncClientPayloadSpec, "MessageSyncClientPayload")
	if err != nil {
		return nil, err
	}
	payload := &MessageSyncClientPayload{}
	if raw, ok := m["items"].([]any); ok {
		for _, v := range raw {
			if sub, ok := v.(map[string]any); ok {
				payload.Items = append(payload.Items, decodeMessageSyncClientEvent(sub))
			}
		}
	}
	return payload, nil
}

// MessageSyncError is the error enum carried in MessageSyncPayload.Error,
// reported when the sync queue identified by the resume token no longer
// exists on the server. The reconnect ladder must treat this as "start a
// fresh create-queue", not a transient retry.
type MessageSyncError string

const (
	MessageSyncErrorQueueOverflow  MessageSyncError = "ERROR_QUEUE_OVERFLOW"
	MessageSyncErrorQueueUnderflow MessageSyncError = "ERROR_QUEUE_UNDERFLOW"
	MessageSyncErrorQueueNotFound  MessageSyncError = "ERROR_QUEUE_NOT_FOUND"
)

// MessageSyncEvent is one delta from the /t_ms realtime sync queue.
// GetParts flattens its fields into the ordered delta list the dispatcher
// classifies and routes.
type MessageSyncEvent struct {
	Message         *Message
	OwnReadReceipt  *OwnReadReceipt
	AddMember       *AddMember
	RemoveMember    *RemoveMember
	NameChange      *NameChange
	AvatarChange    *AvatarChange
	ThreadChange    *ThreadChange
	ForcedFetch     *ForcedFetch
	ReadReceipt     *ReadReceipt
	DeliveryReceipt *DeliveryReceipt
	ClientPayload   []byte
}

var messageSyncEventSpec = thrift.Spec{
	Name: "MessageSyncEvent",
	Fields: []thrift.FieldSpec{
		{ID: 2, Name: "message", RType: structRT(messageSpec)},
		{ID: 4, Name: "own_read_receipt", RType: structRT(ownReadReceiptSpec)},
		{ID: 8, Name: "add_member", RType: structRT(addMemberSpec)},
		{ID: 9, Name: "remove_member", RType: structRT(removeMemberSpec)},
		{ID: 10, Name: "name_change", RType: structRT(nameChangeSpec)},
		{ID: 11, Name: "avatar_change", RType: structRT(avatarChangeSpec)},
		{ID: 17, Name: "thread_change", RType: structRT(threadChangeSpec)},
		{ID: 18, Name: "forced_fetch", RType: structRT(forcedFetchSpec)},
		{ID: 19, Name: "read_receipt", RType: structRT(readReceiptSpec)},
		{ID: 25, Name: "delivery_receipt", RType: structRT(deliveryReceiptSpec)},
		{ID: 42, Name: "client_payload", RType: thrift.Prim(thrift.TypeBinary)},
	},
}

func decodeMessageSyncEvent(m map[string]any) MessageSyncEvent {
	e := MessageSyncEvent{}
	if sub, ok := m["message"].(map[string]any); ok {
		v := decodeMessage(sub)
		e.Message = &v
	}
	if sub, ok := m["own_read_receipt"].(map[string]any); ok {
		v := decodeOwnReadReceipt(sub)
		e.OwnReadReceipt = &v
	}
	if sub, ok := m["add_member"].(map[string]any); ok {
		v := decodeAddMember(sub)
		e.AddMember = &v
	}
	if sub, ok := m["remove_member"].(map[string]any); ok {
		v := decodeRemoveMember(sub)
		e.RemoveMember = &v
	}
	if sub, ok := m["name_change"].(map[string]any); ok {
		v := decodeNameChange(sub)
		e.NameChange = &v
	}
	if sub, ok := m["avatar_change"].(map[string]any); ok {
		v := decodeAvatarChange(sub)
		e.AvatarChange = &v
	}
	if sub, ok := m["thread_change"].(map[string]any); ok {
		v := decodeThreadChange(sub)
		e.ThreadChange = &v
	}
	if sub, ok := m["forced_fetch"].(map[string]any); ok {
		v := decodeForcedFetch(sub)
		e.ForcedFetch = &v
	}
	if sub, ok := m["read_receipt"].(map[string]any); ok {
		v := decodeReadReceipt(sub)
		e.ReadReceipt = &v
	}
	if sub, ok := m["delivery_receipt"].(map[string]any); ok {
		v := decodeDeliveryReceipt(sub)
		e.DeliveryReceipt = &v
	}
	e.ClientPayload = asBytes(m, "client_payload")
	return e
}

// GetParts enumerates every non-null delta carried by this event, in the
// server's declared field order, then appends any reaction/extended
// message/unsend deltas nested inside ClientPayload, each in turn in their
// own declared order. This exact ordering matters: a caller processing
// parts in sequence must see e.g. a message before a reaction that targets
// it when both arrive in the same sync batch.
func (e MessageSyncEvent) GetParts() ([]any, error) {
	var out []any
	if e.Message != nil {
		out = append(out, e.Message)
	}
	if e.OwnReadReceipt != nil {
		out = append(out, e.OwnReadReceipt)
	}
	if e.AddMember != nil {
		out = append(out, e.AddMember)
	}
	if e.RemoveMember != nil {
		out = append(out, e.RemoveMember)
	}
	if e.NameChange != nil {
		out = append(out, e.NameChange)
	}
	if e.AvatarChange != nil {
		out = append(out, e.AvatarChange)
	}
	if e.ThreadChange != nil {
		out = append(out, e.ThreadChange)
	}
	if e.ForcedFetch != nil {
		out = append(out, e.ForcedFetch)
	}
	if e.ReadReceipt != nil {
		out = append(out, e.ReadReceipt)
	}
	if e.DeliveryReceipt != nil {
		out = append(out, e.DeliveryReceipt)
	}
	if len(e.ClientPayload) > 0 {
		payload, err := ParseMessageSyncClientPayload(e.ClientPayload)
		if err != nil {
			return nil, fmt.Errorf("parsing client_payload: %w", err)
		}
		for _, item := range payload.Items {
			out = append(out, item.Parts()...)
		}
	}
	return out, nil
}

// MessageSyncPayload is the top-level struct carried by every /t_ms
// PUBLISH: a batch of deltas plus the inclusive [FirstSeqID, LastSeqID]
// range they advance the queue's seq_id to.
type MessageSyncPayload struct {
	Items       []MessageSyncEvent
	FirstSeqID  int64
	LastSeqID   int64
	Viewer      int64
	SubscribeOK bool
	Error       MessageSyncError
}

var messageSyncPayloadSpec = thrift.Spec{
	Name: "MessageSyncPayload",
	Fields: []thrift.FieldSpec{
		{ID: 1, Name: "items", RType: listRT(structRT(messageSyncEventSpec))},
		{ID: 2, Name: "first_seq_id", RType: thrift.Prim(thrift.TypeI64)},
		{ID: 3, Name: "last_seq_id", RType: thrift.Prim(thrift.TypeI64)},
		{ID: 4, Name: "viewer", RType: thrift.Prim(thrift.TypeI64)},
		{ID: 11, Name: "subscribe_ok", RType: thrift.Prim(thrift.TypeBool)},
		{ID: 12, Name: "error", RType: thrift.Prim(thrift.TypeBinary)},
	},
}

// DecodeMessageSyncPayload decodes a /t_ms PUBLISH payload.
func DecodeMessageSyncPayload(data []byte) (*MessageSyncPayload, error) {
	r := thrift.NewReader(data)
	m, err := r.ReadStruct(messageSyncPayloadSpec, "MessageSyncPayload")
	if err != nil {
		return nil, err
	}
	p := &MessageSyncPayload{
		FirstSeqID:  asI64(m, "first_seq_id"),
		LastSeqID:   asI64(m, "last_seq_id"),
		Viewer:      asI64(m, "viewer"),
		SubscribeOK: asBool(m, "subscribe_ok"),
		Error:       MessageSyncError(asStr(m, "error")),
	}
	if raw, ok := m["items"].([]any); ok {
		for _, v := range raw {
			if sub, ok := v.(map[string]any); ok {
				p.Items = append(p.Items, decodeMessageSyncEvent(sub))
			}
		}
	}
	return p, nil
}

// RegionHintPayload is delivered on the REGION_HINT topic: a nested Thrift
// blob naming the edge region this session should prefer on its next
// connect.
type RegionHintPayload struct {
	UnknownInt64   int64
	RegionHintData []byte
}

var regionHintPayloadSpec = thrift.Spec{
	Name: "RegionHintPayload",
	Fields: []thrift.FieldSpec{
		{ID: 1, Name: "unknown_int64", RType: thrift.Prim(thrift.TypeI64)},
		{ID: 2, Name: "region_hint_data", RType: thrift.Prim(thrift.TypeBinary)},
	},
}

var regionHintSpec = thrift.Spec{
	Name:   "RegionHint",
	Fields: []thrift.FieldSpec{{ID: 1, Name: "code", RType: thrift.Prim(thrift.TypeBinary)}},
}

// DecodeRegionHintPayload decodes a /t_region_hint PUBLISH payload.
func DecodeRegionHintPayload(data []byte) (*RegionHintPayload, error) {
	r := thrift.NewReader(data)
	m, err := r.ReadStruct(regionHintPayloadSpec, "RegionHintPayload")
	if err != nil {
		return nil, err
	}
	return &RegionHintPayload{UnknownInt64: asI64(m, "unknown_int64"), RegionHintData: asBytes(m, "region_hint_data")}, nil
}

// RegionHint decodes the nested region code blob. Callers feed the result
// back into the next CONNECT's region_preference field.
func (p RegionHintPayload) RegionHint() (string, error) {
	if len(p.RegionHintData) == 0 {
		return "", nil
	}
	r := thrift.NewReader(p.RegionHintData)
	m, err := r.ReadStruct(regionHintSpec, "RegionHint")
	if err != nil {
		return "", err
	}
	return asStr(m, "code"), nil
}

// TypingNotification is delivered on the /t_tn topic when another
// participant starts or stops composing in a thread.
type TypingNotification struct {
	UserID       int64
	TypingStatus int32
}

var typingNotificationSpec = thrift.Spec{
	Name: "TypingNotification",
	Fields: []thrift.FieldSpec{
		{ID: 1, Name: "user_id", RType: thrift.Prim(thrift.TypeI64)},
		{ID: 2, Name: "typing_status", RType: thrift.Prim(thrift.TypeI32)},
	},
}

// DecodeTypingNotification decodes a /t_tn PUBLISH payload.
func DecodeTypingNotification(data []byte) (*TypingNotification, error) {
	r := thrift.NewReader(data)
	m, err := r.ReadStruct(typingNotificationSpec, "TypingNotification")
	if err != nil {
		return nil, err
	}
	return &TypingNotification{UserID: asI64(m, "user_id"), TypingStatus: int32(asI64(m, "typing_status"))}, nil
}

// Presence is delivered as plain JSON (not Thrift) on /orca_presence: u is
// the user id, p the presence state (0 idle, 2 active), l the timestamp of
// the last state change, in seconds.
type Presence struct {
	UserID    int64 `json:"u"`
	State     int32 `json:"p"`
	LastAt    int64 `json:"l"`
}

// PresenceList is the JSON array body of an /orca_presence publish.
type PresenceList struct {
	List []Presence `json:"list"`
}

// DecodePresence parses an /orca_presence JSON payload.
func DecodePresence(data []byte) (*PresenceList, error) {
	var out PresenceList
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parsing presence payload: %w", err)
	}
	return &out, nil
}
