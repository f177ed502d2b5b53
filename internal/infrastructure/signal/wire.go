package signal

import "encoding/json"

// Wire frames spoken between the relay server and its WebSocket clients.
// The relay is a dumb channel fan-out: it never inspects signaling
// payloads, it only routes them to channel subscribers.

const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionPublish     = "publish"
)

// ClientFrame is one request from a client.
type ClientFrame struct {
	Action  string          `json:"action"`
	Channel string          `json:"channel"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ServerFrame is one delivery (or error) to a client. A frame with Error
// set carries no channel data.
type ServerFrame struct {
	Channel string          `json:"channel,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}
