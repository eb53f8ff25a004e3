package types

import (
	"go.mau.fi/mautrix-meta/pkg/msgrapi/thrift"
)

// RealtimeClientInfo describes the connecting device in a CONNECT payload's
// RealtimeConfig. Field ids follow the upstream client's declaration order;
// fields the upstream leaves undocumented (fbns_*, luid) are kept only so a
// captured payload round-trips, not because this bridge ever sets them.
type RealtimeClientInfo struct {
	UserID                          int64
	UserAgent                       string
	ClientCapabilities              int64
	EndpointCapabilities            int64
	PublishFormat                   int32
	NoAutomaticForeground           bool
	MakeUserAvailableInForeground   bool
	DeviceID                        string
	IsInitiallyForeground           bool
	NetworkType                     int32
	NetworkSubtype                  int32
	ClientMqttSessionID             int64
	ClientIPAddress                 string
	SubscribeTopics                 []int32
	ClientType                      string
	AppID                           int64
	OverrideNectarLogging           *bool
	ConnectTokenHash                []byte
	RegionPreference                string
	DeviceSecret                    string
	ClientStack                     byte
	NetworkTypeInfo                 *int32
}

var realtimeClientInfoSpec = thrift.Spec{
	Name: "RealtimeClientInfo",
	Fields: []thrift.FieldSpec{
		{ID: 1, Name: "user_id", RType: thrift.Prim(thrift.TypeI64)},
		{ID: 2, Name: "user_agent", RType: thrift.Prim(thrift.TypeBinary)},
		{ID: 3, Name: "client_capabilities", RType: thrift.Prim(thrift.TypeI64)},
		{ID: 4, Name: "endpoint_capabilities", RType: thrift.Prim(thrift.TypeI64)},
		{ID: 5, Name: "publish_format", RType: thrift.Prim(thrift.TypeI32)},
		{ID: 6, Name: "no_automatic_foreground", RType: thrift.Prim(thrift.TypeBool)},
		{ID: 7, Name: "make_user_available_in_foreground", RType: thrift.Prim(thrift.TypeBool)},
		{ID: 8, Name: "device_id", RType: thrift.Prim(thrift.TypeBinary)},
		{ID: 9, Name: "is_initially_foreground", RType: thrift.Prim(thrift.TypeBool)},
		{ID: 10, Name: "network_type", RType: thrift.Prim(thrift.TypeI32)},
		{ID: 11, Name: "network_subtype", RType: thrift.Prim(thrift.TypeI32)},
		{ID: 12, Name: "client_mqtt_session_id", RType: thrift.Prim(thrift.TypeI64)},
		{ID: 13, Name: "client_ip_address", RType: thrift.Prim(thrift.TypeBinary)},
		{ID: 14, Name: "subscribe_topics", RType: listRT(thrift.Prim(thrift.TypeI32))},
		{ID: 15, Name: "client_type", RType: thrift.Prim(thrift.TypeBinary)},
		{ID: 16, Name: "app_id", RType: thrift.Prim(thrift.TypeI64)},
		{ID: 17, Name: "override_nectar_logging", RType: thrift.Prim(thrift.TypeBool)},
		{ID: 18, Name: "connect_token_hash", RType: thrift.Prim(thrift.TypeBinary)},
		{ID: 19, Name: "region_preference", RType: thrift.Prim(thrift.TypeBinary)},
		{ID: 20, Name: "device_secret", RType: thrift.Prim(thrift.TypeBinary)},
		{ID: 21, Name: "client_stack", RType: thrift.Prim(thrift.TypeByte)},
		{ID: 26, Name: "network_type_info", RType: thrift.Prim(thrift.TypeI32)},
	},
}

// Encode converts the client info into the field map the Thrift writer
// expects.
func (c RealtimeClientInfo) Encode() map[int16]any {
	f := map[int16]any{
		1:  c.UserID,
		2:  c.UserAgent,
		3:  c.ClientCapabilities,
		4:  c.EndpointCapabilities,
		5:  c.PublishFormat,
		6:  c.NoAutomaticForeground,
		7:  c.MakeUserAvailableInForeground,
		9:  c.IsInitiallyForeground,
		10: c.NetworkType,
		11: c.NetworkSubtype,
		12: c.ClientMqttSessionID,
		14: int32SliceToAny(c.SubscribeTopics),
		15: c.ClientType,
		16: c.AppID,
		19: c.RegionPreference,
		21: c.ClientStack,
	}
	if c.DeviceID != "" {
		f[8] = c.DeviceID
	}
	if c.ClientIPAddress != "" {
		f[13] = c.ClientIPAddress
	}
	if c.OverrideNectarLogging != nil {
		f[17] = *c.OverrideNectarLogging
	}
	if len(c.ConnectTokenHash) > 0 {
		f[18] = c.ConnectTokenHash
	}
	if c.DeviceSecret != "" {
		f[20] = c.DeviceSecret
	}
	if c.NetworkTypeInfo != nil {
		f[26] = *c.NetworkTypeInfo
	}
	return f
}

func int32SliceToAny(v []int32) []any {
	out := make([]any, len(v))
	for i, n := range v {
		out[i] = n
	}
	return out
}

// PHPOverride carries a server-directed endpoint override, sent back by the
// server on certain CONNACKs and echoed in the next CONNECT's RealtimeConfig.
type PHPOverride struct {
	Hostname      string
	Port          int32
	HostIPAddress string
}

var phpOverrideSpec = thrift.Spec{
	Name: "PHPOverride",
	Fields: []thrift.FieldSpec{
		{ID: 1, Name: "hostname", RType: thrift.Prim(thrift.TypeBinary)},
		{ID: 2, Name: "port", RType: thrift.Prim(thrift.TypeI32)},
		{ID: 3, Name: "host_ip_address", RType: thrift.Prim(thrift.TypeBinary)},
	},
}

func (p PHPOverride) Encode() map[int16]any {
	return map[int16]any{1: p.Hostname, 2: p.Port, 3: p.HostIPAddress}
}

// RealtimeConfig is the CONNECT payload body: the client identifier plus the
// RealtimeClientInfo blob, serialized with the Thrift writer and appended
// raw after the MQTToT CONNECT frame header (see package mqtt).
type RealtimeConfig struct {
	ClientIdentifier   string
	WillTopic          string
	WillMessage        string
	ClientInfo         RealtimeClientInfo
	Password           string
	GetDiffsRequest    []string
	ZeroRatingTokenHash string
	AppSpecificInfo    map[string]string
	PHPOverride        *PHPOverride
}

var realtimeConfigSpec = thrift.Spec{
	Name: "RealtimeConfig",
	Fields: []thrift.FieldSpec{
		{ID: 1, Name: "client_identifier", RType: thrift.Prim(thrift.TypeBinary)},
		{ID: 2, Name: "will_topic", RType: thrift.Prim(thrift.TypeBinary)},
		{ID: 3, Name: "will_message", RType: thrift.Prim(thrift.TypeBinary)},
		{ID: 4, Name: "client_info", RType: structRT(realtimeClientInfoSpec)},
		{ID: 5, Name: "password", RType: thrift.Prim(thrift.TypeBinary)},
		{ID: 6, Name: "get_diffs_request", RType: listRT(thrift.Prim(thrift.TypeBinary))},
		{ID: 9, Name: "zero_rating_token_hash", RType: thrift.Prim(thrift.TypeBinary)},
		{ID: 10, Name: "app_specific_info", RType: mapStrStrRT()},
		{ID: 11, Name: "php_override", RType: structRT(phpOverrideSpec)},
	},
}

// Encode serializes the config as a standalone Thrift struct, ready to be
// appended to the MQTToT CONNECT frame as the payload.
func (c RealtimeConfig) Encode() ([]byte, error) {
	w := thrift.NewWriter()
	fields := map[int16]any{
		1: c.ClientIdentifier,
		4: c.ClientInfo.Encode(),
		5: c.Password,
	}
	if c.WillTopic != "" {
		fields[2] = c.WillTopic
	}
	if c.WillMessage != "" {
		fields[3] = c.WillMessage
	}
	if len(c.GetDiffsRequest) > 0 {
		fields[6] = strSliceToAny(c.GetDiffsRequest)
	}
	if c.ZeroRatingTokenHash != "" {
		fields[9] = c.ZeroRatingTokenHash
	}
	if len(c.AppSpecificInfo) > 0 {
		fields[10] = strMapToAny(c.AppSpecificInfo)
	}
	if c.PHPOverride != nil {
		fields[11] = c.PHPOverride.Encode()
	}
	if err := w.WriteStruct(realtimeConfigSpec, fields); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// ForegroundStateConfig is published to /ls_req right after connecting, to
// tell the server which topics to push to this session while foregrounded.
type ForegroundStateConfig struct {
	InForegroundApp         bool
	InForegroundDevice      bool
	KeepaliveTimeout        int32
	SubscribeTopics         []string
	SubscribeGenericTopics  []string
	UnsubscribeTopics       []string
	UnsubscribeGenericTopics []string
	RequestID               int64
}

var foregroundStateConfigSpec = thrift.Spec{
	Name: "ForegroundStateConfig",
	Fields: []thrift.FieldSpec{
		{ID: 1, Name: "in_foreground_app", RType: thrift.Prim(thrift.TypeBool)},
		{ID: 2, Name: "in_foreground_device", RType: thrift.Prim(thrift.TypeBool)},
		{ID: 3, Name: "keep_alive_timeout", RType: thrift.Prim(thrift.TypeI32)},
		{ID: 4, Name: "subscribe_topics", RType: listRT(thrift.Prim(thrift.TypeBinary))},
		{ID: 5, Name: "subscribe_generic_topics", RType: listRT(thrift.Prim(thrift.TypeBinary))},
		{ID: 6, Name: "unsubscribe_topics", RType: listRT(thrift.Prim(thrift.TypeBinary))},
		{ID: 7, Name: "unsubscribe_generic_topics", RType: listRT(thrift.Prim(thrift.TypeBinary))},
		{ID: 8, Name: "request_id", RType: thrift.Prim(thrift.TypeI64)},
	},
}

func (f ForegroundStateConfig) Encode() ([]byte, error) {
	w := thrift.NewWriter()
	fields := map[int16]any{
		1: f.InForegroundApp,
		2: f.InForegroundDevice,
		3: f.KeepaliveTimeout,
		8: f.RequestID,
	}
	if len(f.SubscribeTopics) > 0 {
		fields[4] = strSliceToAny(f.SubscribeTopics)
	}
	if len(f.SubscribeGenericTopics) > 0 {
		fields[5] = strSliceToAny(f.SubscribeGenericTopics)
	}
	if len(f.UnsubscribeTopics) > 0 {
		fields[6] = strSliceToAny(f.UnsubscribeTopics)
	}
	if len(f.UnsubscribeGenericTopics) > 0 {
		fields[7] = strSliceToAny(f.UnsubscribeGenericTopics)
	}
	if err := w.WriteStruct(foregroundStateConfigSpec, fields); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}
