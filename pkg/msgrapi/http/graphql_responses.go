package http

import "encoding/json"

// ThreadQueryResponse is the decoded "data" object of a ThreadQuery response.
type ThreadQueryResponse struct {
	MessageThreads []Thread `json:"message_threads"`
}

// ThreadKey identifies a thread either by the other participant's user id
// (1:1 chat) or by its own thread fbid (group chat).
type ThreadKey struct {
	OtherUserID string `json:"other_user_id,omitempty"`
	ThreadFBID  string `json:"thread_fbid,omitempty"`
}

// ID returns the numeric id this key addresses, preferring OtherUserID for
// a 1:1 thread.
func (k ThreadKey) ID() string {
	if k.OtherUserID != "" {
		return k.OtherUserID
	}
	return k.ThreadFBID
}

// Picture is a profile picture, thread image, or attachment preview image.
type Picture struct {
	URI    string `json:"uri"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// Participant is a thread member's profile, as returned inline with thread
// metadata (distinct from the ghost info synced separately over MQTT).
type Participant struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Username          string   `json:"username,omitempty"`
	ProfilePicLarge   *Picture `json:"profile_pic_large,omitempty"`
	IsBlockedByViewer bool     `json:"is_blocked_by_viewer"`
	IsViewerFriend    bool     `json:"is_viewer_friend"`
}

// ParticipantList wraps a thread's member list.
type ParticipantList struct {
	Nodes []Participant `json:"nodes"`
}

// MessageSender identifies who sent a GraphQL-sourced history message.
type MessageSender struct {
	ID string `json:"id"`
}

// MessageRange is a mention span in a GraphQL history message, distinct
// from the realtime "prng" mention format: Offset/Length here count UTF-8
// bytes into MessageText.Text, not UTF-16 code units.
type MessageRange struct {
	Entity MessageSender `json:"entity"`
	Offset int           `json:"offset"`
	Length int           `json:"length"`
}

// MessageText carries a message's body text plus any @-mention ranges.
type MessageText struct {
	Text   string         `json:"text"`
	Ranges []MessageRange `json:"ranges,omitempty"`
}

// Reaction is one user's reaction to a history message.
type Reaction struct {
	Reaction string        `json:"reaction"`
	User     MessageSender `json:"user"`
}

// AttachmentType distinguishes the attachment preview shapes below.
type AttachmentType string

const (
	AttachmentTypePhoto   AttachmentType = "MessageImage"
	AttachmentTypeVideo   AttachmentType = "MessageVideo"
	AttachmentTypeAudio   AttachmentType = "MessageAudio"
	AttachmentTypeFile    AttachmentType = "MessageFile"
	AttachmentTypeSticker AttachmentType = "Sticker"
)

// Attachment is a GraphQL-sourced history message's attachment, as opposed
// to the realtime types.Attachment carried on an MQTT delta.
type Attachment struct {
	Typename         AttachmentType `json:"__typename"`
	ID               string         `json:"id"`
	Filename         string         `json:"filename,omitempty"`
	MimeType         string         `json:"mimeType,omitempty"`
	FilesizeForDisplay string       `json:"filesize_for_display,omitempty"`
	LargePreview     *Picture       `json:"large_preview,omitempty"`
	PreviewImage     *Picture       `json:"preview_image,omitempty"`
	AnimatedImage    *Picture       `json:"animated_image,omitempty"`
	PlayableURL      string         `json:"playable_url,omitempty"`
}

// Reply captures the message this message was sent in reply to.
type Reply struct {
	MessageID string `json:"message_id"`
}

// Message is one page-fetched (GraphQL) history message, as opposed to the
// realtime types.Message carried on an MQTT delta.
type Message struct {
	MessageID           string         `json:"message_id"`
	OfflineThreadingID  string         `json:"offline_threading_id,omitempty"`
	Message             *MessageText   `json:"message,omitempty"`
	Snippet             string         `json:"snippet,omitempty"`
	MessageSender       MessageSender  `json:"message_sender"`
	TimestampPrecise    string         `json:"timestamp_precise"`
	UnsentTimestampPrecise string      `json:"unsent_timestamp_precise,omitempty"`
	MessageReactions    []Reaction     `json:"message_reactions,omitempty"`
	BlobAttachments     []Attachment   `json:"blob_attachments,omitempty"`
	RepliedToMessage    *Reply         `json:"replied_to_message,omitempty"`
	TagsList            []string       `json:"tags_list,omitempty"`
}

// PageInfo is a Relay-style cursor page, used to page backward through a
// thread's history.
type PageInfo struct {
	HasNextPage     bool   `json:"has_next_page"`
	HasPreviousPage bool   `json:"has_previous_page"`
	StartCursor     string `json:"start_cursor,omitempty"`
	EndCursor       string `json:"end_cursor,omitempty"`
}

// MessageList is a page of history messages plus its cursor.
type MessageList struct {
	Nodes    []Message `json:"nodes"`
	PageInfo PageInfo  `json:"page_info"`
}

// ThreadParticipantCustomization is one participant's per-thread nickname.
type ThreadParticipantCustomization struct {
	ParticipantID string `json:"participant_id"`
	Nickname      string `json:"nickname"`
}

// ThreadCustomizationInfo holds per-thread nickname overrides.
type ThreadCustomizationInfo struct {
	CustomLikeEmoji          string                           `json:"custom_like_emoji,omitempty"`
	ParticipantCustomizations []ThreadParticipantCustomization `json:"participant_customizations,omitempty"`
}

// NicknameMap indexes ParticipantCustomizations by participant id.
func (c ThreadCustomizationInfo) NicknameMap() map[string]string {
	out := make(map[string]string, len(c.ParticipantCustomizations))
	for _, pc := range c.ParticipantCustomizations {
		if pc.Nickname != "" {
			out[pc.ParticipantID] = pc.Nickname
		}
	}
	return out
}

// Thread is a chat's full metadata plus its most recent message page, as
// returned by ThreadQuery.
type Thread struct {
	ID       string  `json:"id"`
	Name     string  `json:"name,omitempty"`
	ThreadKey ThreadKey `json:"thread_key"`
	Image    *Picture `json:"image,omitempty"`

	MessagesCount int  `json:"messages_count"`
	UnreadCount   int  `json:"unread_count"`

	LastMessage MessageList `json:"last_message"`
	Messages    MessageList `json:"messages"`

	AllParticipants  ParticipantList         `json:"all_participants"`
	CustomizationInfo ThreadCustomizationInfo `json:"customization_info"`

	IsGroupThread bool `json:"is_group_thread"`
}

// ThreadListResponse is the decoded "data.viewer.message_threads" object of
// a ThreadListQuery response.
type ThreadListResponse struct {
	Count    int      `json:"count"`
	Nodes    []Thread `json:"nodes"`
	PageInfo PageInfo `json:"page_info"`
}

// DecodeThreadListResponse unmarshals the raw "data.viewer.message_threads"
// map a ThreadListQuery response carries.
func DecodeThreadListResponse(data map[string]any) (*ThreadListResponse, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var out ThreadListResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DecodeThreadQueryResponse unmarshals the raw "data" map the Client's
// GraphQL method returns into a typed ThreadQueryResponse.
func DecodeThreadQueryResponse(data map[string]any) (*ThreadQueryResponse, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var out ThreadQueryResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DecodeMessageList unmarshals the "data.message_thread.messages" object a
// MoreMessagesQuery response carries.
func DecodeMessageList(data map[string]any) (*MessageList, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var out MessageList
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
