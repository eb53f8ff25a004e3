package types

import (
	"go.mau.fi/mautrix-meta/pkg/msgrapi/thrift"
)

// SendMessageRequest is published to the SEND_MESSAGE topic to send a text
// message, sticker, or media attachment. Field ids match the upstream
// client's sparse @autospec index= assignments; gaps are fields the
// upstream declares but this bridge never populates.
type SendMessageRequest struct {
	ChatID                    string
	Message                   string
	OfflineThreadingID        int64
	ClientTags                map[string]string
	Sticker                   string
	MediaIDs                  []string
	SenderFBID                int64
	TTL                       int32
	ExtraMetadata             map[string]string
	MarkReadWatermarkTimestamp int64
	IsDialtone                bool
	MsgAttemptID              int64
	ReplyTo                   string
}

var sendMessageRequestSpec = thrift.Spec{
	Name: "SendMessageRequest",
	Fields: []thrift.FieldSpec{
		{ID: 1, Name: "chat_id", RType: thrift.Prim(thrift.TypeBinary)},
		{ID: 2, Name: "message", RType: thrift.Prim(thrift.TypeBinary)},
		{ID: 3, Name: "offline_threading_id", RType: thrift.Prim(thrift.TypeI64)},
		{ID: 5, Name: "client_tags", RType: mapStrStrRT()},
		{ID: 6, Name: "sticker", RType: thrift.Prim(thrift.TypeBinary)},
		{ID: 9, Name: "media_ids", RType: listRT(thrift.Prim(thrift.TypeBinary))},
		{ID: 12, Name: "sender_fbid", RType: thrift.Prim(thrift.TypeI64)},
		{ID: 18, Name: "ttl", RType: thrift.Prim(thrift.TypeI32)},
		{ID: 20, Name: "extra_metadata", RType: mapStrStrRT()},
		{ID: 21, Name: "mark_read_watermark_timestamp", RType: thrift.Prim(thrift.TypeI64)},
		{ID: 23, Name: "is_dialtone", RType: thrift.Prim(thrift.TypeBool)},
		{ID: 24, Name: "msg_attempt_id", RType: thrift.Prim(thrift.TypeI64)},
		{ID: 28, Name: "reply_to", RType: thrift.Prim(thrift.TypeBinary)},
	},
}

// Encode serializes the request, defaulting is_dialtone to true and
// client_tags to an empty (not nil) map as the upstream does.
func (s SendMessageRequest) Encode() ([]byte, error) {
	w := thrift.NewWriter()
	tags := s.ClientTags
	if tags == nil {
		tags = map[string]string{}
	}
	fields := map[int16]any{
		1:  s.ChatID,
		2:  s.Message,
		3:  s.OfflineThreadingID,
		5:  strMapToAny(tags),
		18: s.TTL,
		23: true,
		24: s.MsgAttemptID,
	}
	if s.Sticker != "" {
		fields[6] = s.Sticker
	}
	if len(s.MediaIDs) > 0 {
		fields[9] = strSliceToAny(s.MediaIDs)
	}
	if s.SenderFBID != 0 {
		fields[12] = s.SenderFBID
	}
	if len(s.ExtraMetadata) > 0 {
		fields[20] = strMapToAny(s.ExtraMetadata)
	}
	if s.MarkReadWatermarkTimestamp != 0 {
		fields[21] = s.MarkReadWatermarkTimestamp
	}
	if s.ReplyTo != "" {
		fields[28] = s.ReplyTo
	}
	if err := w.WriteStruct(sendMessageRequestSpec, fields); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// SendMessageResponse is decoded from the SEND_MESSAGE_RESP topic and
// correlates back to a pending send via OfflineThreadingID.
type SendMessageResponse struct {
	OfflineThreadingID int64
	Success            bool
	ErrorMessage       string
}

var sendMessageResponseSpec = thrift.Spec{
	Name: "SendMessageResponse",
	Fields: []thrift.FieldSpec{
		{ID: 1, Name: "offline_threading_id", RType: thrift.Prim(thrift.TypeI64)},
		{ID: 2, Name: "success", RType: thrift.Prim(thrift.TypeBool)},
		{ID: 4, Name: "error_message", RType: thrift.Prim(thrift.TypeBinary)},
	},
}

func DecodeSendMessageResponse(payload []byte) (*SendMessageResponse, error) {
	r := thrift.NewReader(payload)
	m, err := r.ReadStruct(sendMessageResponseSpec, "SendMessageResponse")
	if err != nil {
		return nil, err
	}
	return &SendMessageResponse{
		OfflineThreadingID: asI64(m, "offline_threading_id"),
		Success:            asBool(m, "success"),
		ErrorMessage:       asStr(m, "error_message"),
	}, nil
}

// MarkReadRequest is published to MARK_THREAD_READ to move a thread's read
// watermark forward.
type MarkReadRequest struct {
	ReceiptType        string
	State              bool
	GroupID            *int64
	UserID             *int64
	ReadTo             int64
	OfflineThreadingID int64
}

var markReadRequestSpec = thrift.Spec{
	Name: "MarkReadRequest",
	Fields: []thrift.FieldSpec{
		{ID: 1, Name: "receipt_type", RType: thrift.Prim(thrift.TypeBinary)},
		{ID: 2, Name: "state", RType: thrift.Prim(thrift.TypeBool)},
		{ID: 6, Name: "group_id", RType: thrift.Prim(thrift.TypeI64)},
		{ID: 7, Name: "user_id", RType: thrift.Prim(thrift.TypeI64)},
		{ID: 9, Name: "read_to", RType: thrift.Prim(thrift.TypeI64)},
		{ID: 13, Name: "offline_threading_id", RType: thrift.Prim(thrift.TypeI64)},
	},
}

func (m MarkReadRequest) Encode() ([]byte, error) {
	w := thrift.NewWriter()
	receiptType := m.ReceiptType
	if receiptType == "" {
		receiptType = "read"
	}
	fields := map[int16]any{
		1: receiptType,
		2: m.State,
		9: m.ReadTo,
	}
	if m.GroupID != nil {
		fields[6] = *m.GroupID
	}
	if m.UserID != nil {
		fields[7] = *m.UserID
	}
	if m.OfflineThreadingID != 0 {
		fields[13] = m.OfflineThreadingID
	}
	if err := w.WriteStruct(markReadRequestSpec, fields); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// SetTypingRequest is published to SET_TYPING to toggle a composing
// indicator.
type SetTypingRequest struct {
	UserID       int64
	OwnID        int64
	TypingStatus int32
}

var setTypingRequestSpec = thrift.Spec{
	Name: "SetTypingRequest",
	Fields: []thrift.FieldSpec{
		{ID: 1, Name: "user_id", RType: thrift.Prim(thrift.TypeI64)},
		{ID: 2, Name: "own_id", RType: thrift.Prim(thrift.TypeI64)},
		{ID: 3, Name: "typing_status", RType: thrift.Prim(thrift.TypeI32)},
	},
}

func (s SetTypingRequest) Encode() ([]byte, error) {
	w := thrift.NewWriter()
	fields := map[int16]any{1: s.UserID, 2: s.OwnID, 3: s.TypingStatus}
	if err := w.WriteStruct(setTypingRequestSpec, fields); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// ChatIDWrapper wraps a bare chat id, used to build the nested binary blob
// inside OpenedThreadRequest.
type ChatIDWrapper struct {
	ChatID string
}

var chatIDWrapperSpec = thrift.Spec{
	Name:   "ChatIDWrapper",
	Fields: []thrift.FieldSpec{{ID: 1, Name: "chat_id", RType: thrift.Prim(thrift.TypeBinary)}},
}

func (c ChatIDWrapper) Encode() ([]byte, error) {
	w := thrift.NewWriter()
	if err := w.WriteStruct(chatIDWrapperSpec, map[int16]any{1: c.ChatID}); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// OpenedThreadRequest marks a thread as opened in the foreground. The
// upstream client builds this but never actually publishes it (the send is
// commented out); it is kept here only so the type exists for parity.
type OpenedThreadRequest struct {
	UnknownI64 int64
	ChatID     string
}

var openedThreadRequestSpec = thrift.Spec{
	Name: "OpenedThreadRequest",
	Fields: []thrift.FieldSpec{
		{ID: 1, Name: "unknown_i64", RType: thrift.Prim(thrift.TypeI64)},
		{ID: 2, Name: "chat_id", RType: thrift.Prim(thrift.TypeBinary)},
	},
}

func (o OpenedThreadRequest) Encode() ([]byte, error) {
	wrapped, err := (ChatIDWrapper{ChatID: o.ChatID}).Encode()
	if err != nil {
		return nil, err
	}
	w := thrift.NewWriter()
	if err := w.WriteStruct(openedThreadRequestSpec, map[int16]any{1: o.UnknownI64, 2: wrapped}); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// ResumeQueueRequest is published to SYNC_RESUME_QUEUE on reconnect to
// resume delta delivery from a previously observed seq_id.
type ResumeQueueRequest struct {
	SyncToken                string
	LastSeqID                int64
	MaxDeltasAbleToProcess   int32
	DeltaBatchSize           int32
	Encoding                 string
	QueueType                string
	SyncAPIVersion           int64
	DeviceID                 string
	DeviceParams             string
	QueueParams              string
	EntityFBID               int64
	SyncTokenLong            int64
	TraceID                  string
}

var resumeQueueRequestSpec = thrift.Spec{
	Name: "ResumeQueueRequest",
	Fields: []thrift.FieldSpec{
		{ID: 1, Name: "sync_token", RType: thrift.Prim(thrift.TypeBinary)},
		{ID: 3, Name: "last_seq_id", RType: thrift.Prim(thrift.TypeI64)},
		{ID: 4, Name: "max_deltas_able_to_process", RType: thrift.Prim(thrift.TypeI32)},
		{ID: 5, Name: "delta_batch_size", RType: thrift.Prim(thrift.TypeI32)},
		{ID: 6, Name: "encoding", RType: thrift.Prim(thrift.TypeBinary)},
		{ID: 7, Name: "queue_type", RType: thrift.Prim(thrift.TypeBinary)},
		{ID: 8, Name: "sync_api_version", RType: thrift.Prim(thrift.TypeI64)},
		{ID: 9, Name: "device_id", RType: thrift.Prim(thrift.TypeBinary)},
		{ID: 10, Name: "device_params", RType: thrift.Prim(thrift.TypeBinary)},
		{ID: 11, Name: "queue_params", RType: thrift.Prim(thrift.TypeBinary)},
		{ID: 12, Name: "sync_token_long", RType: thrift.Prim(thrift.TypeI64)},
		{ID: 14, Name: "entity_fbid", RType: thrift.Prim(thrift.TypeI64)},
		{ID: 15, Name: "trace_id", RType: thrift.Prim(thrift.TypeBinary)},
	},
}

// Encode serializes the resume request. SyncTokenLong defaults to 1, as the
// upstream does, so the field is always present.
func (r ResumeQueueRequest) Encode() ([]byte, error) {
	w := thrift.NewWriter()
	syncTokenLong := r.SyncTokenLong
	if syncTokenLong == 0 {
		syncTokenLong = 1
	}
	fields := map[int16]any{
		3:  r.LastSeqID,
		7:  r.QueueType,
		8:  r.SyncAPIVersion,
		11: r.QueueParams,
		12: syncTokenLong,
	}
	if r.SyncToken != "" {
		fields[1] = r.SyncToken
	}
	if r.MaxDeltasAbleToProcess != 0 {
		fields[4] = r.MaxDeltasAbleToProcess
	}
	if r.DeltaBatchSize != 0 {
		fields[5] = r.DeltaBatchSize
	}
	if r.Encoding != "" {
		fields[6] = r.Encoding
	}
	if r.DeviceID != "" {
		fields[9] = r.DeviceID
	}
	if r.DeviceParams != "" {
		fields[10] = r.DeviceParams
	}
	if r.EntityFBID != 0 {
		fields[14] = r.EntityFBID
	}
	if r.TraceID != "" {
		fields[15] = r.TraceID
	}
	if err := w.WriteStruct(resumeQueueRequestSpec, fields); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}
