package ws

import (
	"log"

	"github.com/vedran77/converse/internal/presence"
	"github.com/vedran77/converse/internal/repository"
	"github.com/vedran77/converse/internal/service"
)

// Hub tracks all active WebSocket clients. One user may hold several
// connections; each gets its own client, projector and presence session.
type Hub struct {
	clients map[string]*Client // connection id -> client

	register   chan *Client
	unregister chan *Client

	presence *presence.Store
	typing   *service.TypingSignal
	messages *service.MessageService

	convRepo repository.ConversationRepository
	msgRepo  repository.MessageRepository
	userRepo repository.UserRepository
}

func NewHub(
	pres *presence.Store,
	typing *service.TypingSignal,
	messages *service.MessageService,
	convRepo repository.ConversationRepository,
	msgRepo repository.MessageRepository,
	userRepo repository.UserRepository,
) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		presence:   pres,
		typing:     typing,
		messages:   messages,
		convRepo:   convRepo,
		msgRepo:    msgRepo,
		userRepo:   userRepo,
	}
}

// Run starts the Hub's main event loop. Call this in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client.connID] = client
			presence.Track(h.presence, client.session, client.userID)
			log.Printf("ws hub: user %s connected (%d total)", client.userID, len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client.connID]; !ok {
				continue
			}
			delete(h.clients, client.connID)
			// send is never closed: the pumps write to it from their own
			// goroutines and exit via done instead.
			close(client.done)
			client.session.Drop()
			if !h.userStillConnected(client.userID) {
				h.typing.ClearUser(client.userID)
			}
			// Stop waits for the projector's streams to drain.
			go client.projector.Stop()
			log.Printf("ws hub: user %s disconnected (%d total)", client.userID, len(h.clients))
		}
	}
}

func (h *Hub) userStillConnected(userID string) bool {
	for _, c := range h.clients {
		if c.userID == userID {
			return true
		}
	}
	return false
}

func (h *Hub) newProjector(userID string) *service.Projector {
	return service.NewProjector(userID, h.convRepo, h.msgRepo, h.userRepo, h.presence, h.typing)
}
