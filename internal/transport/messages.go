package transport

import (
	"encoding/json"
	"time"
)

// MessageType defines the type of a wire frame.
type MessageType string

const (
	// MessageTypeHello announces the client after every (re)open.
	MessageTypeHello MessageType = "hello"

	// MessageTypeSubscribe lists the topics the client wants events
	// for. Sent after hello on every (re)open.
	MessageTypeSubscribe MessageType = "subscribe"

	// MessageTypeEvent carries a server push event.
	MessageTypeEvent MessageType = "event"

	// MessageTypeAck carries a server acknowledgement frame.
	MessageTypeAck MessageType = "ack"
)

// Message is the JSON frame exchanged with the orchestrator over the
// websocket.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// HelloData identifies the client on connect.
type HelloData struct {
	ClientID string `json:"client_id"`
	Version  string `json:"version"`
}

// SubscribeData lists event topics.
type SubscribeData struct {
	Topics []string `json:"topics"`
}
