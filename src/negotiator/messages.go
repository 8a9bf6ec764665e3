package negotiator

import (
	"time"

	"github.com/mosaicnetworks/walkie/src/common"
)

// MessageType identifies a data-channel message.
type MessageType string

const (
	KeepAlive      MessageType = "keep-alive"
	KeepAliveAck   MessageType = "keep-alive-ack"
	ActivityPing   MessageType = "activity-ping"
	BgKeepAlive    MessageType = "bg-keep-alive"
	BgKeepAliveAck MessageType = "bg-keep-alive-ack"
	BgReconnect    MessageType = "bg-reconnect"
	Hangup         MessageType = "hangup"
)

// Message is sent over the data channel between the two peers of a call.
type Message struct {
	Type      MessageType `codec:"type"`
	Timestamp int64       `codec:"timestamp"`
	Sender    string      `codec:"sender"`
	MicLocked bool        `codec:"micLocked"`
}

// NewMessage returns a message stamped with the current time in milliseconds.
func NewMessage(t MessageType, sender string, micLocked bool) Message {
	return Message{
		Type:      t,
		Timestamp: time.Now().UnixNano() / int64(time.Millisecond),
		Sender:    sender,
		MicLocked: micLocked,
	}
}

// Ack returns the acknowledgement type of a keep-alive, if any.
func (m Message) Ack() (MessageType, bool) {
	switch m.Type {
	case KeepAlive:
		return KeepAliveAck, true
	case BgKeepAlive:
		return BgKeepAliveAck, true
	default:
		return "", false
	}
}

// Liveness reports whether the message proves the peer is alive. Every
// message does, except hangup.
func (m Message) Liveness() bool {
	return m.Type != Hangup
}

func encodeMessage(m Message) ([]byte, error) {
	return common.EncodeJSON(m)
}

func decodeMessage(data []byte) (Message, error) {
	var m Message
	err := common.DecodeJSON(data, &m)
	return m, err
}
