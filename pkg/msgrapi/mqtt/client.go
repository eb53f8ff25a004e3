package mqtt

import (
	"bytes"
	"compress/zlib"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.mqtt.golang/packets"
	"github.com/rs/zerolog"

	"go.mau.fi/mautrix-meta/pkg/msgrapi"
	"go.mau.fi/mautrix-meta/pkg/msgrapi/types"
)

// Host is the realtime edge the client connects to. It is a var, not a
// const, so a region hint delivered on TopicRegionHint can redirect the
// next connection attempt.
var DefaultHost = "edge-mqtt.facebook.com:443"

const defaultKeepalive = 60 * time.Second

// EventHandler receives one classified delta off the sync queue. Disconnect
// is delivered with Payload nil when the underlying connection drops,
// whether locally requested or not; see (*Client).IsExpectedDisconnect.
type EventHandler func(ctx context.Context, topic RealtimeTopic, payload []byte)

// Client is a single account's MQTToT connection: one TCP+TLS socket,
// one read loop, and a dispatcher goroutine that hands decoded payloads to
// registered handlers without blocking the socket read.
type Client struct {
	state *msgrapi.State
	log   zerolog.Logger

	conn   net.Conn
	connMu sync.Mutex

	stopping atomic.Bool

	handlers   []EventHandler
	handlersMu sync.RWMutex

	events chan dispatchedEvent

	pendingReqMu sync.Mutex
	pendingReq   map[RealtimeTopic]*requestSlot

	seqID atomic.Int64

	disconnected   chan struct{}
	disconnectedMu sync.Mutex
}

type dispatchedEvent struct {
	topic   RealtimeTopic
	payload []byte
}

type requestSlot struct {
	mu sync.Mutex
	ch chan []byte
}

// NewClient builds a Client bound to the given account state. Connect must
// be called before any publish/request.
func NewClient(state *msgrapi.State, log zerolog.Logger) *Client {
	return &Client{
		state:      state,
		log:        log,
		events:     make(chan dispatchedEvent, 64),
		pendingReq: make(map[RealtimeTopic]*requestSlot),
	}
}

// AddEventHandler registers a handler invoked for every decoded PUBLISH,
// from the dispatcher goroutine (never from the socket read goroutine
// directly, so a slow handler cannot stall the read loop).
func (c *Client) AddEventHandler(h EventHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers = append(c.handlers, h)
}

func (c *Client) dispatch(ctx context.Context, ev dispatchedEvent) {
	c.handlersMu.RLock()
	handlers := append([]EventHandler(nil), c.handlers...)
	c.handlersMu.RUnlock()
	for _, h := range handlers {
		h(ctx, ev.topic, ev.payload)
	}
}

// dispatcherLoop drains c.events until it is closed. On ctx cancellation it
// keeps draining events already queued (the equivalent of the upstream
// client's asyncio.shield around its dispatch loop) so a delta that already
// arrived is not silently dropped mid-shutdown, then returns once the
// channel itself is closed by Disconnect.
func (c *Client) dispatcherLoop(ctx context.Context) {
	for ev := range c.events {
		c.dispatch(ctx, ev)
	}
}

// Connect opens the TLS socket, writes the MQTToT CONNECT frame, waits for
// CONNACK, and performs the post-connect handshake: publishing the
// foreground-state config, then either a resume-queue request (when
// connectTokenHash carries resume material from a previous session) or a
// create-queue request.
//
// The CONNECT frame's client-id blob is the zlib-compressed Thrift encoding
// of the full RealtimeConfig; with a connect token hash present the config
// carries the hash in place of the password. If the server rejects that
// resume-form CONNECT with an identifier error, the client id is
// regenerated once with the password forced back in (dropping the resume
// state) before giving up.
func (c *Client) Connect(ctx context.Context, host string, lastSeqID int64, connectTokenHash []byte) error {
	err := c.connect(ctx, host, lastSeqID, connectTokenHash, false)
	var connErr *ConnectError
	if errors.As(err, &connErr) && connErr.Identifier && len(connectTokenHash) > 0 {
		c.log.Warn().Msg("CONNECT rejected with resume client id, retrying with password")
		err = c.connect(ctx, host, lastSeqID, connectTokenHash, true)
	}
	return err
}

func (c *Client) connect(ctx context.Context, host string, lastSeqID int64, connectTokenHash []byte, forcePassword bool) error {
	if host == "" {
		host = DefaultHost
	}
	dialer := &tls.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		return fmt.Errorf("mqtt: dial: %w", err)
	}

	clientID, err := c.formClientID(connectTokenHash, forcePassword)
	if err != nil {
		conn.Close()
		return fmt.Errorf("mqtt: build client id: %w", err)
	}
	if err := writeConnectFrame(conn, clientID, uint16(defaultKeepalive/time.Second)); err != nil {
		conn.Close()
		return fmt.Errorf("mqtt: write CONNECT: %w", err)
	}

	cp, err := packets.ReadPacket(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("mqtt: read CONNACK: %w", err)
	}
	ack, ok := cp.(*packets.ConnackPacket)
	if !ok {
		conn.Close()
		return fmt.Errorf("mqtt: expected CONNACK, got %T", cp)
	}
	if ack.ReturnCode != 0 {
		conn.Close()
		return &ConnectError{
			Code: ack.ReturnCode,
			// 1 = unacceptable protocol, 2 = identifier rejected: both mean
			// the client id blob itself was refused, not the credentials.
			Identifier: ack.ReturnCode == 1 || ack.ReturnCode == 2,
		}
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	c.stopping.Store(false)
	c.seqID.Store(lastSeqID)

	c.disconnectedMu.Lock()
	c.disconnected = make(chan struct{})
	c.disconnectedMu.Unlock()

	go c.readLoop()

	if err := c.publishForegroundState(ctx); err != nil {
		return fmt.Errorf("mqtt: foreground state: %w", err)
	}
	if len(connectTokenHash) > 0 {
		return c.resumeQueue(ctx, lastSeqID)
	}
	return c.createQueue(ctx, lastSeqID)
}

// ConnectError reports a rejected CONNACK. A Connect caller maps this to
// status.StateBadCredentials when Code indicates bad credentials, and to a
// transient-disconnect retry otherwise.
type ConnectError struct {
	Code byte
	// Identifier marks return codes that reject the client-id blob rather
	// than the credentials, driving the regenerate-with-password retry.
	Identifier bool
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("mqtt: connection refused, code %d", e.Code)
}

// formClientID builds the opaque CONNECT client-id blob: the full
// RealtimeConfig encoded as Thrift and zlib-compressed. With resume
// material present the password is omitted and the token hash sent instead,
// and the device id/full user agent are dropped the same way the mobile
// client minimizes its resume CONNECT.
func (c *Client) formClientID(connectTokenHash []byte, forcePassword bool) ([]byte, error) {
	info := c.realtimeClientInfo()
	cfg := types.RealtimeConfig{
		ClientIdentifier: clientIdentifier(c.state.Device.UUID),
		ClientInfo:       info,
		Password:         c.state.Session.AccessToken,
		AppSpecificInfo: map[string]string{
			"ls_sv": strconv.FormatInt(c.state.Application.VersionID, 10),
		},
		PHPOverride: &types.PHPOverride{},
	}
	if len(connectTokenHash) > 0 {
		if !forcePassword {
			cfg.Password = ""
		}
		cfg.ClientInfo.DeviceID = ""
		cfg.ClientInfo.ConnectTokenHash = connectTokenHash
	}
	encoded, err := cfg.Encode()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(encoded); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// clientIdentifier truncates the device UUID to the 20 characters the
// CONNECT payload's identifier field carries.
func clientIdentifier(deviceUUID string) string {
	if len(deviceUUID) > 20 {
		return deviceUUID[:20]
	}
	return deviceUUID
}

func (c *Client) realtimeClientInfo() types.RealtimeClientInfo {
	networkType := int32(0)
	networkSubtype := int32(13)
	networkTypeInfo := int32(4)
	if c.state.Device.ConnectionType == "WIFI" {
		networkType = 1
		networkSubtype = 0
		networkTypeInfo = 7
	}
	appID, _ := strconv.ParseInt(c.state.Application.ID, 10, 64)
	return types.RealtimeClientInfo{
		UserID:                        c.state.Session.UID,
		UserAgent:                     c.state.UserAgentMeta(),
		ClientCapabilities:            0b1100001110110111,
		EndpointCapabilities:          0b1011010,
		PublishFormat:                 2,
		NoAutomaticForeground:         true,
		MakeUserAvailableInForeground: false,
		DeviceID:                      c.state.Device.UUID,
		IsInitiallyForeground:         true,
		NetworkType:                   networkType,
		NetworkSubtype:                networkSubtype,
		ClientMqttSessionID:           time.Now().UnixMilli() & 0xFFFFFFFF,
		SubscribeTopics: []int32{
			mustAtoi(TopicMessageSync.Encoded()),
			mustAtoi(TopicSendMessageResp.Encoded()),
			mustAtoi(TopicRegionHint.Encoded()),
			mustAtoi(TopicTypingNotification.Encoded()),
			mustAtoi(TopicOrcaPresence.Encoded()),
			mustAtoi(TopicMarkThreadReadResponse.Encoded()),
		},
		ClientType:       "",
		AppID:            appID,
		RegionPreference: c.state.Session.RegionHint,
		DeviceSecret:     "",
		ClientStack:      4,
		NetworkTypeInfo:  &networkTypeInfo,
	}
}

func mustAtoi(s string) int32 {
	n, _ := strconv.Atoi(s)
	return int32(n)
}

func (c *Client) publishForegroundState(ctx context.Context) error {
	cfg := types.ForegroundStateConfig{
		InForegroundApp:    true,
		InForegroundDevice: true,
		KeepaliveTimeout:   int32(defaultKeepalive / time.Second),
		RequestID:          time.Now().UnixMilli(),
	}
	payload, err := cfg.Encode()
	if err != nil {
		return err
	}
	return c.Publish(ctx, "/ls_req", nil, payload, true)
}

// syncQueueParams is the queue_params JSON shared by both the create-queue
// and resume-queue requests: the delta bitmask plus the XMA preview size
// table the server renders attachment previews against.
func syncQueueParams() map[string]any {
	return map[string]any{
		"client_delta_sync_bitmask": "CAvV/nxib6vRgAV/ss2A",
		"graphql_query_hashes":      map[string]any{"xma_query_id": "0"},
		"graphql_query_params": map[string]any{
			"0": map[string]any{
				"xma_id":               "<ID>",
				"small_preview_width":  716,
				"small_preview_height": 358,
				"large_preview_width":  1500,
				"large_preview_height": 750,
				"full_screen_width":    4096,
				"full_screen_height":   4096,
				"blur":                 0,
				"use_oss_id":           true,
			},
		},
	}
}

// createQueue asks the server to start a fresh delta queue from lastSeqID.
// Unlike nearly everything else on the realtime connection, this request is
// plain JSON, not Thrift.
func (c *Client) createQueue(ctx context.Context, lastSeqID int64) error {
	imageSizes := map[string]string{
		"0": "4096x4096",
		"1": "750x750",
		"2": "481x481",
		"3": "358x358",
		"4": "358x358",
	}
	payload, err := json.Marshal(map[string]any{
		"initial_titan_sequence_id": lastSeqID,
		"delta_batch_size":          125,
		"device_params": map[string]any{
			"image_sizes":           imageSizes,
			"animated_image_format": "WEBP,GIF",
			"animated_image_sizes":  imageSizes,
		},
		"entity_fbid":      c.state.Session.UID,
		"sync_api_version": 10,
		"queue_params":     syncQueueParams(),
	})
	if err != nil {
		return err
	}
	return c.Publish(ctx, TopicSyncCreateQueue, nil, payload, true)
}

func (c *Client) resumeQueue(ctx context.Context, lastSeqID int64) error {
	queueParams, err := json.Marshal(syncQueueParams())
	if err != nil {
		return err
	}
	req := types.ResumeQueueRequest{
		LastSeqID:      lastSeqID,
		SyncAPIVersion: 10,
		QueueParams:    string(queueParams),
	}
	payload, err := req.Encode()
	if err != nil {
		return err
	}
	return c.Publish(ctx, TopicSyncResumeQueue, []byte{0x00}, payload, true)
}

// readLoop reads PUBLISH/PINGRESP/DISCONNECT frames until the socket
// closes, decompressing payloads and forwarding them to either a pending
// Request's waiter or the general dispatcher channel.
func (c *Client) readLoop() {
	defer c.handleReadLoopExit()
	for {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()
		if conn == nil {
			return
		}
		cp, err := packets.ReadPacket(conn)
		if err != nil {
			return
		}
		switch p := cp.(type) {
		case *packets.PublishPacket:
			c.handlePublish(p)
		case *packets.PingrespPacket:
			// keepalive ack, nothing to do.
		case *packets.DisconnectPacket:
			// The upstream client's otclient override accepts a v3.1-style
			// DISCONNECT from the broker even though paho only normally
			// permits it under MQTTv5; treat it the same as a closed
			// socket.
			return
		}
	}
}

func (c *Client) handleReadLoopExit() {
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	c.disconnectedMu.Lock()
	if c.disconnected != nil {
		close(c.disconnected)
		c.disconnected = nil
	}
	c.disconnectedMu.Unlock()
}

// WaitDisconnected blocks until the current connection's read loop has
// exited, or ctx is done.
func (c *Client) WaitDisconnected(ctx context.Context) {
	c.disconnectedMu.Lock()
	ch := c.disconnected
	c.disconnectedMu.Unlock()
	if ch == nil {
		return
	}
	select {
	case <-ch:
	case <-ctx.Done():
	}
}

func (c *Client) handlePublish(p *packets.PublishPacket) {
	topic := DecodeTopic(p.TopicName)
	payload := p.Payload
	if decompressed, err := inflateIfCompressed(payload); err == nil {
		payload = decompressed
	}
	// The framing prefix sits inside the compression: cut through the
	// first 0x00 byte once inflated. Send responses carry extra header
	// bytes before the 0x00, which the cut drops along with it.
	if topic.HasPrefix() || (len(payload) > 0 && payload[0] == 0) {
		if cut := bytes.IndexByte(payload, 0); cut >= 0 {
			payload = payload[cut+1:]
		}
	}

	c.pendingReqMu.Lock()
	slot, ok := c.pendingReq[topic]
	c.pendingReqMu.Unlock()
	if ok {
		slot.mu.Lock()
		if slot.ch != nil {
			slot.ch <- payload
			slot.ch = nil
		}
		slot.mu.Unlock()
		return
	}

	select {
	case c.events <- dispatchedEvent{topic: topic, payload: payload}:
	default:
		c.log.Warn().Str("topic", string(topic)).Msg("dropping realtime event, dispatcher backlog full")
	}
}

func inflateIfCompressed(data []byte) ([]byte, error) {
	if len(data) < 2 || data[0] != 0x78 {
		return data, nil
	}
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return data, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

// Publish writes a PUBLISH frame for topic. The framing prefix (0x00 for
// most request topics, 18 00 00 for sends, empty for create-queue) is
// prepended to the payload before zlib compression, matching the topic
// semantics the server expects.
func (c *Client) Publish(ctx context.Context, topic RealtimeTopic, prefix, payload []byte, compress bool) error {
	body := payload
	if len(prefix) > 0 {
		framed := make([]byte, 0, len(prefix)+len(payload))
		framed = append(framed, prefix...)
		framed = append(framed, payload...)
		body = framed
	}
	if compress {
		var buf bytes.Buffer
		zw, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
		if err != nil {
			return err
		}
		if _, err := zw.Write(body); err != nil {
			return err
		}
		if err := zw.Close(); err != nil {
			return err
		}
		body = buf.Bytes()
	}

	pp := packets.NewControlPacket(packets.Publish).(*packets.PublishPacket)
	pp.TopicName = topic.Encoded()
	pp.Payload = body
	pp.Qos = 1

	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return ErrNoConnection
	}
	return pp.Write(conn)
}

// ErrNoConnection is returned by Publish and Request when no socket is
// currently open.
var ErrNoConnection = errors.New("mqtt: not connected")

// IsConnected reports whether the realtime socket is currently open.
func (c *Client) IsConnected() bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn != nil
}

// Request publishes payload to topic and blocks until a response arrives
// on responseTopic or ctx is done. Only one in-flight request per response
// topic is supported at a time, matching the upstream client's per-topic
// asyncio.Lock.
func (c *Client) Request(ctx context.Context, topic, responseTopic RealtimeTopic, prefix, payload []byte) ([]byte, error) {
	c.pendingReqMu.Lock()
	slot, ok := c.pendingReq[responseTopic]
	if !ok {
		slot = &requestSlot{}
		c.pendingReq[responseTopic] = slot
	}
	c.pendingReqMu.Unlock()

	slot.mu.Lock()
	if slot.ch != nil {
		slot.mu.Unlock()
		return nil, fmt.Errorf("mqtt: request already in flight for %s", responseTopic)
	}
	ch := make(chan []byte, 1)
	slot.ch = ch
	slot.mu.Unlock()

	if err := c.Publish(ctx, topic, prefix, payload, true); err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		slot.mu.Lock()
		slot.ch = nil
		slot.mu.Unlock()
		return nil, ctx.Err()
	}
}

// SendMessage publishes a SendMessageRequest and awaits the matching
// SendMessageResponse.
func (c *Client) SendMessage(ctx context.Context, req types.SendMessageRequest) (*types.SendMessageResponse, error) {
	payload, err := req.Encode()
	if err != nil {
		return nil, err
	}
	respPayload, err := c.Request(ctx, TopicSendMessage, TopicSendMessageResp, []byte{0x18, 0x00, 0x00}, payload)
	if err != nil {
		return nil, err
	}
	return types.DecodeSendMessageResponse(respPayload)
}

// MarkRead publishes a MarkReadRequest. No response is awaited, matching
// the upstream client's fire-and-forget read-receipt publish.
func (c *Client) MarkRead(ctx context.Context, req types.MarkReadRequest) error {
	payload, err := req.Encode()
	if err != nil {
		return err
	}
	return c.Publish(ctx, TopicMarkThreadRead, []byte{0x00}, payload, true)
}

// SetTyping publishes a typing indicator toggle. No response is awaited.
func (c *Client) SetTyping(ctx context.Context, req types.SetTypingRequest) error {
	payload, err := req.Encode()
	if err != nil {
		return err
	}
	return c.Publish(ctx, TopicSetTyping, []byte{0x00}, payload, true)
}

// GenerateOfflineThreadingID returns a new OTI: the current millisecond
// epoch timestamp's bits followed by 22 random bits, concatenated as a
// single binary number and parsed back as one integer - not an arithmetic
// shift-and-OR of two independently-computed values, though numerically
// equivalent once the timestamp's own bit width is accounted for.
func GenerateOfflineThreadingID(randSource func() uint32) int64 {
	ms := time.Now().UnixMilli()
	rand22 := randSource() & 0x3fffff
	return (ms << 22) | int64(rand22)
}

// Disconnect sends a clean DISCONNECT and closes the socket. Subsequent
// reads on the socket seeing the connection close will then see
// IsExpectedDisconnect return true for this stop.
func (c *Client) Disconnect(ctx context.Context) error {
	c.stopping.Store(true)
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return nil
	}
	dp := packets.NewControlPacket(packets.Disconnect).(*packets.DisconnectPacket)
	_ = dp.Write(conn)
	return conn.Close()
}

// NoteSeqID records the highest delta sequence id observed on the wire, so
// a reconnect inside Listen resumes from it instead of the connect-time
// checkpoint.
func (c *Client) NoteSeqID(seqID int64) {
	for {
		cur := c.seqID.Load()
		if seqID <= cur || c.seqID.CompareAndSwap(cur, seqID) {
			return
		}
	}
}

// IsExpectedDisconnect reports whether the most recent socket loss was
// caused by our own Disconnect call, as opposed to a network failure or a
// server-initiated drop. The upstream Python client instead inspects its
// MQTT library's private _client._state field; this client instead owns an
// explicit atomic.Bool set by Disconnect itself, set deliberately to avoid
// depending on paho.mqtt.golang internals that are not part of its API.
func (c *Client) IsExpectedDisconnect() bool {
	return c.stopping.Load()
}

// Run starts the dispatcher goroutine; call once after construction,
// before Connect.
func (c *Client) Run(ctx context.Context) {
	go c.dispatcherLoop(ctx)
}

// Close shuts down the dispatcher channel. Call after the caller's
// reconnect loop has given up for good.
func (c *Client) Close() {
	close(c.events)
}
