package mqtt

import (
	"encoding/binary"
	"fmt"
	"io"
)

// mqttotProtocolName is the literal protocol name sent in the CONNECT
// variable header in place of "MQTT" or "MQIsdp". The server only accepts
// connections that present this exact string.
const mqttotProtocolName = "MQTToT"

const (
	connectFlagCleanSession byte = 0x02
	packetTypeConnect       byte = 0x10
)

// writeConnectFrame writes a MQTToT CONNECT packet directly: protocol name
// "MQTToT", protocol level 3, a fixed clean-session flag, the keepalive
// interval, and the client id appended as raw trailing bytes with no
// separate length prefix and no username/password/will/v5 property fields.
// This does not reuse the paho.mqtt.golang ConnectPacket type because that
// type hard-codes the "MQTT"/"MQIsdp" protocol names and always frames the
// client id as a length-prefixed MQTT string.
func writeConnectFrame(w io.Writer, clientID []byte, keepalive uint16) error {
	remainingLength := 2 + len(mqttotProtocolName) + 1 + 1 + 2 + len(clientID)

	var header []byte
	header = append(header, packetTypeConnect)
	header = appendRemainingLength(header, remainingLength)

	var body []byte
	body = binary.BigEndian.AppendUint16(body, uint16(len(mqttotProtocolName)))
	body = append(body, mqttotProtocolName...)
	body = append(body, 3) // protocol level
	body = append(body, connectFlagCleanSession)
	body = binary.BigEndian.AppendUint16(body, keepalive)
	body = append(body, clientID...)

	if len(body) != remainingLength {
		return fmt.Errorf("mqtt: internal CONNECT length mismatch: body=%d remaining=%d", len(body), remainingLength)
	}

	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// appendRemainingLength appends the MQTT variable-length remaining-length
// encoding (up to 4 bytes, 7 bits of payload per byte).
func appendRemainingLength(buf []byte, length int) []byte {
	for {
		b := byte(length % 128)
		length /= 128
		if length > 0 {
			b |= 0x80
		}
		buf = append(buf, b)
		if length == 0 {
			return buf
		}
	}
}
