package ws

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/vedran77/converse/internal/presence"
	"github.com/vedran77/converse/internal/service"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
	sendBufSize  = 256
)

// Client represents a single WebSocket connection.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	connID    string
	userID    string
	session   *presence.Session
	projector *service.Projector

	send chan []byte
	done chan struct{}
}

func NewClient(hub *Hub, conn *websocket.Conn, userID string) *Client {
	return &Client{
		hub:       hub,
		conn:      conn,
		connID:    uuid.New().String(),
		userID:    userID,
		session:   hub.presence.Session(),
		projector: hub.newProjector(userID),
		send:      make(chan []byte, sendBufSize),
		done:      make(chan struct{}),
	}
}

// ReadPump reads events from the WebSocket and applies them.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		var event Event
		err := wsjson.Read(context.Background(), c.conn, &event)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				log.Printf("ws: client %s disconnected", c.userID)
			} else {
				log.Printf("ws: read error from %s: %v", c.userID, err)
			}
			return
		}

		c.handleEvent(&event)
	}
}

// WritePump writes queued frames to the WebSocket and keeps the
// connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			err := c.conn.Write(ctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				log.Printf("ws: write error to %s: %v", c.userID, err)
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				log.Printf("ws: ping error to %s: %v", c.userID, err)
				return
			}

		case <-c.done:
			return
		}
	}
}

// ProjectPump forwards projector events to the send queue. A ledger
// snapshot of the open conversation counts as the client having seen it,
// so it also clears the viewer's unread state.
func (c *Client) ProjectPump() {
	for evt := range c.projector.Events() {
		data, err := json.Marshal(Event{
			Type:      service.Kind(evt),
			Payload:   mustMarshal(evt),
			Timestamp: time.Now().Unix(),
		})
		if err != nil {
			log.Printf("ws: marshal error for %s: %v", c.userID, err)
			continue
		}
		select {
		case c.send <- data:
		case <-c.done:
			return
		}

		if msgs, ok := evt.(service.MessagesEvent); ok && msgs.ConversationID == c.projector.OpenID() {
			if err := c.hub.messages.MarkAllRead(context.Background(), msgs.ConversationID, c.userID); err != nil {
				log.Printf("ws: mark read for %s: %v", c.userID, err)
			}
		}
	}
}

// handleEvent routes an incoming client event.
func (c *Client) handleEvent(event *Event) {
	switch event.Type {
	case EventTypeConversationOpen:
		var p ConversationPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil || p.ConversationID == "" {
			c.sendError("INVALID_PAYLOAD", "invalid conversation.open payload")
			return
		}
		if !c.authorize(p.ConversationID) {
			return
		}
		c.projector.Open(p.ConversationID)
		if err := c.hub.messages.MarkAllRead(context.Background(), p.ConversationID, c.userID); err != nil {
			log.Printf("ws: mark read for %s: %v", c.userID, err)
		}
		log.Printf("ws: %s opened conversation %s", c.userID, p.ConversationID)

	case EventTypeConversationClose:
		if open := c.projector.OpenID(); open != "" {
			c.hub.typing.Stop(open, c.userID)
		}
		c.projector.Close()

	case EventTypeTypingStart, EventTypeTypingStop:
		var p ConversationPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil || p.ConversationID == "" {
			c.sendError("INVALID_PAYLOAD", "conversation_id required for typing events")
			return
		}
		// Typing is only meaningful in the conversation the client has open.
		if p.ConversationID != c.projector.OpenID() {
			return
		}
		if event.Type == EventTypeTypingStart {
			c.hub.typing.Start(p.ConversationID, c.userID)
		} else {
			c.hub.typing.Stop(p.ConversationID, c.userID)
		}

	case EventTypePing:
		c.sendPong()

	default:
		c.sendError("UNKNOWN_EVENT", "unknown event type: "+event.Type)
	}
}

func (c *Client) authorize(conversationID string) bool {
	conv, err := c.hub.convRepo.GetByID(context.Background(), conversationID)
	if err != nil {
		c.sendError("INTERNAL", "could not load conversation")
		return false
	}
	if conv == nil {
		c.sendError("NOT_FOUND", "conversation not found")
		return false
	}
	if !conv.HasMember(c.userID) {
		c.sendError("FORBIDDEN", "not a member of this conversation")
		return false
	}
	return true
}

func (c *Client) sendPong() {
	data, _ := json.Marshal(Event{Type: EventTypePong})
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) sendError(code, message string) {
	evt, err := NewEvent(EventTypeError, ErrorPayload{Code: code, Message: message})
	if err != nil {
		return
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}
