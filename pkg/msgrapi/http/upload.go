package http

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// UploadResult carries the response of a successful media upload. When the
// upload was sent with server-side delivery (UploadOptions.ChatID set), the
// server delivers the message itself and MessageID carries the id it
// assigned, so no separate send RPC happens for media.
type UploadResult struct {
	MediaID   string
	ImageID   string
	VideoID   string
	MessageID string
}

// UploadOptions selects server-side delivery for an upload. With ChatID
// set, the rupload request doubles as the send: the server attaches the
// file to the thread and returns the delivered message's id.
type UploadOptions struct {
	ChatID  string
	IsGroup bool
	ReplyTo string
	Caption string
}

// Upload sends media bytes to rupload.facebook.com under pathType (e.g.
// "messenger_image", "messenger_video"), keyed by the md5 hex digest of the
// data concatenated with the offline-threading-id.
func (c *Client) Upload(ctx context.Context, pathType string, data []byte, filename, mimeType string, oti int64, opts UploadOptions) (*UploadResult, error) {
	sum := md5.Sum(data)
	key := hex.EncodeToString(sum[:]) + strconv.FormatInt(oti, 10)
	rawURL := fmt.Sprintf("%s/%s/%s", HostRUpload, pathType, key)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	for k, v := range c.Headers() {
		req.Header.Set(k, v)
	}
	req.Header.Set("content-type", "application/octet-stream")
	req.Header.Set("content-length", strconv.Itoa(len(data)))
	req.Header.Set("x-entity-name", filename)
	req.Header.Set("x-entity-length", strconv.Itoa(len(data)))
	req.Header.Set("x-entity-type", mimeType)
	req.Header.Set("attempt_id", strconv.FormatInt(oti, 10))
	req.Header.Set("offset", "0")
	req.Header.Set("is_messenger_sidecar_upload", "1")

	if opts.ChatID != "" {
		req.Header.Set("send_message_by_server", "1")
		req.Header.Set("sender_fbid", strconv.FormatInt(c.State.Session.UID, 10))
		req.Header.Set("offline_threading_id", strconv.FormatInt(oti, 10))
		req.Header.Set("ttl", "0")
		if opts.IsGroup {
			req.Header.Set("thread_key_type", "GROUP")
			req.Header.Set("to", "tfbid_"+opts.ChatID)
		} else {
			req.Header.Set("thread_key_type", "ONE_TO_ONE")
			req.Header.Set("to", opts.ChatID)
		}
		if opts.ReplyTo != "" {
			req.Header.Set("replied_to_message_id", opts.ReplyTo)
		}
		if opts.Caption != "" {
			req.Header.Set("caption", base64.StdEncoding.EncodeToString([]byte(opts.Caption)))
		}
	} else {
		req.Header.Set("send_message_by_server", "0")
		req.Header.Set("thread_type_hint", "thread")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	body, err := ReadAll(resp)
	if err != nil {
		return nil, err
	}
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, &ResponseTypeError{Status: resp.StatusCode, Body: string(body)}
	}
	if err := handleResponseBody(resp.StatusCode, decoded); err != nil {
		return nil, err
	}
	result := &UploadResult{}
	if v, ok := decoded["media_id"].(string); ok {
		result.MediaID = v
	}
	if v, ok := decoded["image_id"].(string); ok {
		result.ImageID = v
	}
	if v, ok := decoded["video_id"].(string); ok {
		result.VideoID = v
	}
	if v, ok := decoded["message_id"].(string); ok {
		result.MessageID = v
	}
	return result, nil
}
