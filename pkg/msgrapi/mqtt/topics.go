// Package mqtt implements MQTToT, the messenger mobile client's realtime
// transport: a non-standard dialect of MQTT 3.1 layered with zlib-compressed
// Thrift payloads. The CONNECT frame (otclient.go) diverges from the MQTT
// spec; everything past CONNACK reuses ordinary PUBLISH/SUBSCRIBE/PINGREQ/
// DISCONNECT framing via the paho.mqtt.golang packet encoder.
package mqtt

import "strings"

// RealtimeTopic is one of the fixed MQTToT topic paths. Subscribing and
// publishing both use the short numeric encoded form on the wire; the path
// form is only used locally for readability and for building the
// subscribe_topics list in RealtimeClientInfo.
type RealtimeTopic string

const (
	TopicSyncCreateQueue        RealtimeTopic = "/messenger_sync_create_queue"
	TopicSyncResumeQueue        RealtimeTopic = "/t_ms_gd"
	TopicMessageSync            RealtimeTopic = "/t_ms"
	TopicSendMessage            RealtimeTopic = "/t_sm"
	TopicSendMessageResp        RealtimeTopic = "/t_sm_rp"
	TopicRegionHint             RealtimeTopic = "/t_region_hint"
	TopicMarkThreadRead         RealtimeTopic = "/t_mt_req"
	TopicMarkThreadReadResponse RealtimeTopic = "/t_mt_resp"
	TopicOpenedThread           RealtimeTopic = "/opened_thread"
	TopicTypingNotification     RealtimeTopic = "/t_tn"
	TopicSetTyping              RealtimeTopic = "/t_st"
	TopicOrcaPresence           RealtimeTopic = "/orca_presence"
)

// topicIDs is the embedded mapping from topic path to the short numeric id
// string the server expects on the wire in place of the full path. This
// table is a fixed asset shipped with the client, not something negotiated
// per-connection.
var topicIDs = map[RealtimeTopic]string{
	TopicSyncCreateQueue:        "235",
	TopicSyncResumeQueue:        "446",
	TopicMessageSync:            "268",
	TopicSendMessage:            "198",
	TopicSendMessageResp:        "199",
	TopicRegionHint:             "150",
	TopicMarkThreadRead:         "171",
	TopicMarkThreadReadResponse: "172",
	TopicOpenedThread:           "196",
	TopicTypingNotification:     "99",
	TopicSetTyping:              "100",
	TopicOrcaPresence:           "209",
}

var idsToTopic = func() map[string]RealtimeTopic {
	out := make(map[string]RealtimeTopic, len(topicIDs))
	for topic, id := range topicIDs {
		out[id] = topic
	}
	return out
}()

// Encoded returns the short numeric topic id string used on the wire.
func (t RealtimeTopic) Encoded() string {
	return topicIDs[t]
}

// noPrefixTopics are published without the leading 0x00 framing byte that
// every other MQTToT payload carries.
var noPrefixTopics = map[RealtimeTopic]bool{
	TopicSetTyping:    true,
	TopicOrcaPresence: true,
}

// HasPrefix reports whether payloads on this topic carry the leading 0x00
// framing byte.
func (t RealtimeTopic) HasPrefix() bool {
	return !noPrefixTopics[t]
}

// DecodeTopic resolves an incoming PUBLISH topic string, which may be
// either the short numeric id or the full path, splitting at the first of
// '#', '/' or '|' the way the upstream client does to strip any trailing
// disambiguator the server appends.
func DecodeTopic(raw string) RealtimeTopic {
	cut := strings.IndexAny(raw, "#/|")
	head := raw
	if cut > 0 {
		head = raw[:cut]
	}
	if topic, ok := idsToTopic[head]; ok {
		return topic
	}
	if cut == 0 {
		// raw began with a separator; try the whole string as a path.
		if _, ok := topicIDs[RealtimeTopic(raw)]; ok {
			return RealtimeTopic(raw)
		}
	}
	return RealtimeTopic(raw)
}
