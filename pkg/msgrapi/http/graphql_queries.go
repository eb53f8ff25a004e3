package http

// ThreadQuery fetches full metadata plus a first page of recent messages
// for one or more threads, keyed by thread id (user id for a 1:1 chat,
// thread fbid for a group).
type ThreadQuery struct {
	BaseQuery
	ThreadIDs []string
	MsgCount  int
}

func (q ThreadQuery) DocID() string         { return "5487678687924830" }
func (q ThreadQuery) FriendlyName() string  { return "FetchThreadQuery" }
func (q ThreadQuery) Serialize() map[string]any {
	msgCount := q.MsgCount
	if msgCount == 0 {
		msgCount = 20
	}
	return map[string]any{
		"thread_ids":              q.ThreadIDs,
		"msg_count":               msgCount,
		"include_full_user_info":  true,
		"include_message_info":    true,
	}
}

// MoreMessagesQuery pages backwards through a thread's history, returning
// messages older than BeforeTimeMs. The backfill queue drives this
// repeatedly until it has enough history or the thread is exhausted.
type MoreMessagesQuery struct {
	BaseQuery
	ThreadID     string
	BeforeTimeMs string
	MsgCount     int
}

func (q MoreMessagesQuery) DocID() string        { return "3447218621980314" }
func (q MoreMessagesQuery) FriendlyName() string { return "FetchMoreMessages" }
func (q MoreMessagesQuery) Serialize() map[string]any {
	msgCount := q.MsgCount
	if msgCount == 0 {
		msgCount = 20
	}
	return map[string]any{
		"thread_id":      q.ThreadID,
		"before_time_ms": q.BeforeTimeMs,
		"msg_count":      msgCount,
	}
}

// ReactionAction is the add/remove verb for MessageReactionMutation.
type ReactionAction string

const (
	ReactionActionAdd    ReactionAction = "ADD_REACTION"
	ReactionActionRemove ReactionAction = "REMOVE_REACTION"
)

// MessageReactionMutation sets or clears the caller's reaction to a
// message. An empty Reaction removes the caller's existing reaction.
type MessageReactionMutation struct {
	BaseQuery
	MessageID       string
	Reaction        string
	ClientMutationID string
	ActorID         string
}

func (q MessageReactionMutation) DocID() string        { return "1415891828475683" }
func (q MessageReactionMutation) FriendlyName() string  { return "useCometUFIReactionMutation" }
func (q MessageReactionMutation) Mutation() bool        { return true }
func (q MessageReactionMutation) Serialize() map[string]any {
	action := ReactionActionAdd
	if q.Reaction == "" {
		action = ReactionActionRemove
	}
	return map[string]any{
		"message_id":          q.MessageID,
		"reaction":            q.Reaction,
		"action":              action,
		"client_mutation_id":  q.ClientMutationID,
		"actor_id":             q.ActorID,
	}
}

// ThreadListQuery fetches the caller's full thread inbox, newest first, used
// once at login to create portal rooms for every existing conversation.
type ThreadListQuery struct {
	BaseQuery
	ThreadCount int
	MsgCount    int
}

func (q ThreadListQuery) DocID() string        { return "3562683343826563" }
func (q ThreadListQuery) FriendlyName() string { return "FetchThreadListQuery" }
func (q ThreadListQuery) Serialize() map[string]any {
	threadCount := q.ThreadCount
	if threadCount == 0 {
		threadCount = 20
	}
	msgCount := q.MsgCount
	if msgCount == 0 {
		msgCount = 1
	}
	return map[string]any{
		"thread_count":             threadCount,
		"msg_count":                msgCount,
		"include_thread_info":      true,
		"include_message_info":     true,
		"fetch_users_separately":   false,
		"filter_to_groups":         false,
		"include_booking_requests": true,
	}
}

// MessageUndoSend unsends (deletes for everyone) a message the caller sent.
type MessageUndoSend struct {
	BaseQuery
	MessageID        string
	ClientMutationID string
}

func (q MessageUndoSend) DocID() string        { return "1015037405287590" }
func (q MessageUndoSend) FriendlyName() string { return "MessengerMessageUnsendMutation" }
func (q MessageUndoSend) Mutation() bool       { return true }
func (q MessageUndoSend) Serialize() map[string]any {
	return map[string]any{
		"message_id":         q.MessageID,
		"client_mutation_id": q.ClientMutationID,
	}
}

// FetchStickersQuery resolves sticker ids into previewable image URLs.
// Realtime message deltas carry only the sticker id; the image itself has
// to be fetched separately before it can be re-uploaded to Matrix.
type FetchStickersQuery struct {
	BaseQuery
	StickerIDs []string
}

func (q FetchStickersQuery) DocID() string        { return "3154119451330002" }
func (q FetchStickersQuery) FriendlyName() string { return "FetchStickersWithPreviewsQuery" }
func (q FetchStickersQuery) Serialize() map[string]any {
	return map[string]any{
		"sticker_ids":            q.StickerIDs,
		"preview_size":           165,
		"animated_media_type":    "image/webp",
		"media_type":             "image/webp",
		"scaling_factor":         "2.75",
		"sticker_labels_enabled": false,
		"sticker_state_enabled":  false,
	}
}
