package ws

import (
	"encoding/json"
	"time"
)

// Event types - Client → Server
const (
	EventTypeConversationOpen  = "conversation.open"
	EventTypeConversationClose = "conversation.close"
	EventTypeTypingStart       = "typing.start"
	EventTypeTypingStop        = "typing.stop"
	EventTypePing              = "ping"
)

// Event types - Server → Client
const (
	EventTypeConversationList = "conversation.list"
	EventTypeMessages         = "messages"
	EventTypeTyping           = "typing"
	EventTypePresence         = "presence"
	EventTypePong             = "pong"
	EventTypeError            = "error"
)

// Event is the base envelope for all WebSocket messages.
type Event struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"ts,omitempty"`
}

// --- Client → Server payloads ---

type ConversationPayload struct {
	ConversationID string `json:"conversation_id"`
}

// --- Server → Client payloads ---

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewEvent creates a server→client event with the current timestamp.
func NewEvent(eventType string, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		Type:      eventType,
		Payload:   data,
		Timestamp: time.Now().Unix(),
	}, nil
}
