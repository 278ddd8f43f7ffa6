package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vedran77/converse/internal/domain"
	"github.com/vedran77/converse/internal/presence"
	"github.com/vedran77/converse/internal/repository"
)

// Event is a projector emission. The transport layer serializes these to
// the client verbatim.
type Event interface {
	eventKind() string
}

// ConversationRow is a conversation as one viewer sees it: annotated with
// their display name for the room and their own unread counter.
type ConversationRow struct {
	ID                 string    `json:"id"`
	DisplayName        string    `json:"displayName"`
	IsGroup            bool      `json:"isGroup"`
	Members            []string  `json:"members"`
	AdminID            string    `json:"adminId,omitempty"`
	LastMessagePreview string    `json:"lastMessagePreview"`
	LastMessageAt      time.Time `json:"lastMessageAt"`
	Unread             int64     `json:"unread"`
	// Set on 1:1 rows only. PartnerOnline reflects presence as of the list
	// rebuild; live updates arrive through PresenceEvent.
	PartnerID     string `json:"partnerId,omitempty"`
	PartnerOnline bool   `json:"partnerOnline,omitempty"`
}

// ConversationListEvent carries the viewer's full conversation list, most
// recently active first.
type ConversationListEvent struct {
	Conversations []ConversationRow `json:"conversations"`
}

// MessagesEvent carries the full ledger of the viewer's open conversation.
type MessagesEvent struct {
	ConversationID string           `json:"conversationId"`
	Messages       []domain.Message `json:"messages"`
}

// TypingEvent carries who is typing in the open conversation, with a
// ready-made phrase that excludes the viewer.
type TypingEvent struct {
	ConversationID string   `json:"conversationId"`
	UserIDs        []string `json:"userIds"`
	Phrase         string   `json:"phrase"`
}

// PresenceEvent carries the current presence of every known user.
type PresenceEvent struct {
	Users map[string]presence.Record `json:"users"`
}

func (ConversationListEvent) eventKind() string { return "conversation.list" }
func (MessagesEvent) eventKind() string         { return "messages" }
func (TypingEvent) eventKind() string           { return "typing" }
func (PresenceEvent) eventKind() string         { return "presence" }

// Kind names the event for the wire.
func Kind(e Event) string { return e.eventKind() }

// Projector maintains one connected client's live view: its conversation
// list, the ledger and typing set of whichever conversation it has open,
// and global presence. Each concern is fed by its own change stream; the
// projector merges them into a single ordered event channel.
type Projector struct {
	userID   string
	convRepo repository.ConversationRepository
	msgRepo  repository.MessageRepository
	userRepo repository.UserRepository
	presence *presence.Store
	typing   *TypingSignal

	events chan Event

	mu        sync.Mutex
	root      context.Context
	cancel    context.CancelFunc
	openID    string
	openStop  context.CancelFunc
	openWG    sync.WaitGroup
	wg        sync.WaitGroup
	labels    map[string]string
	closeOnce sync.Once
}

func NewProjector(
	userID string,
	convRepo repository.ConversationRepository,
	msgRepo repository.MessageRepository,
	userRepo repository.UserRepository,
	pres *presence.Store,
	typing *TypingSignal,
) *Projector {
	return &Projector{
		userID:   userID,
		convRepo: convRepo,
		msgRepo:  msgRepo,
		userRepo: userRepo,
		presence: pres,
		typing:   typing,
		events:   make(chan Event, 16),
		labels:   make(map[string]string),
	}
}

// Events is the merged stream. It closes after Stop.
func (p *Projector) Events() <-chan Event { return p.events }

// Start begins projecting. The conversation list and presence views stream
// immediately; ledger and typing views start when a conversation is opened.
func (p *Projector) Start(ctx context.Context) {
	p.mu.Lock()
	p.root, p.cancel = context.WithCancel(ctx)
	root := p.root
	p.mu.Unlock()

	p.wg.Add(3)
	go func() {
		defer p.wg.Done()
		for convs := range p.convRepo.WatchByMember(root, p.userID) {
			p.emit(root, p.conversationList(root, convs))
		}
	}()
	go func() {
		defer p.wg.Done()
		for records := range p.presence.Watch(root) {
			p.emit(root, PresenceEvent{Users: records})
		}
	}()
	go func() {
		defer p.wg.Done()
		// The directory stream keeps cached display names current, so a
		// renamed partner is picked up on the next list rebuild.
		for users := range p.userRepo.Watch(root) {
			p.mu.Lock()
			for i := range users {
				p.labels[users[i].ID] = users[i].Label()
			}
			p.mu.Unlock()
		}
	}()
}

// Open switches the projector's open conversation. Any previous ledger and
// typing streams stop; fresh ones start and deliver their initial snapshots.
func (p *Projector) Open(conversationID string) {
	p.mu.Lock()
	if p.root == nil || p.root.Err() != nil {
		p.mu.Unlock()
		return
	}
	p.stopOpenLocked()
	p.openID = conversationID
	openCtx, cancel := context.WithCancel(p.root)
	p.openStop = cancel
	p.mu.Unlock()

	p.openWG.Add(3)
	go func() {
		defer p.openWG.Done()
		for msgs := range p.msgRepo.WatchByConversation(openCtx, conversationID) {
			p.emit(openCtx, MessagesEvent{ConversationID: conversationID, Messages: msgs})
		}
	}()
	go func() {
		defer p.openWG.Done()
		for typists := range p.typing.Watch(openCtx, conversationID) {
			p.emit(openCtx, p.typingEvent(openCtx, conversationID, typists))
		}
	}()
	go func() {
		defer p.openWG.Done()
		// If the open conversation is deleted under the viewer, tear the
		// open view down so its streams stop.
		for conv := range p.convRepo.WatchByID(openCtx, conversationID) {
			if conv == nil {
				p.mu.Lock()
				if p.openID == conversationID {
					p.stopOpenLocked()
				}
				p.mu.Unlock()
				return
			}
		}
	}()
}

// Close stops the open conversation's streams.
func (p *Projector) Close() {
	p.mu.Lock()
	p.stopOpenLocked()
	p.mu.Unlock()
	p.openWG.Wait()
}

// OpenID returns the currently open conversation, or "".
func (p *Projector) OpenID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.openID
}

// Stop tears the projector down and closes the event channel once every
// feeding stream has drained.
func (p *Projector) Stop() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.stopOpenLocked()
		if p.cancel != nil {
			p.cancel()
		}
		p.mu.Unlock()
		p.openWG.Wait()
		p.wg.Wait()
		close(p.events)
	})
}

func (p *Projector) stopOpenLocked() {
	if p.openStop != nil {
		p.openStop()
		p.openStop = nil
	}
	p.openID = ""
}

func (p *Projector) emit(ctx context.Context, e Event) {
	select {
	case p.events <- e:
	case <-ctx.Done():
	}
}

func (p *Projector) conversationList(ctx context.Context, convs []domain.Conversation) ConversationListEvent {
	rows := make([]ConversationRow, 0, len(convs))
	for _, c := range convs {
		row := ConversationRow{
			ID:                 c.ID,
			DisplayName:        p.displayName(ctx, &c),
			IsGroup:            c.IsGroup,
			Members:            c.Members,
			AdminID:            c.AdminID,
			LastMessagePreview: c.LastMessagePreview,
			LastMessageAt:      c.LastMessageAt,
			Unread:             c.UnreadFor(p.userID),
		}
		if !c.IsGroup {
			if partner := c.PartnerOf(p.userID); partner != "" {
				row.PartnerID = partner
				rec, _ := p.presence.Get(partner)
				row.PartnerOnline = rec.State == presence.Online
			}
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].LastMessageAt.Equal(rows[j].LastMessageAt) {
			return rows[i].LastMessageAt.After(rows[j].LastMessageAt)
		}
		return rows[i].ID < rows[j].ID
	})
	return ConversationListEvent{Conversations: rows}
}

func (p *Projector) displayName(ctx context.Context, c *domain.Conversation) string {
	if c.IsGroup {
		return c.GroupName
	}
	partner := c.PartnerOf(p.userID)
	if partner == "" {
		return "Conversation"
	}
	return p.label(ctx, partner)
}

func (p *Projector) typingEvent(ctx context.Context, conversationID string, typists []string) TypingEvent {
	others := make([]string, 0, len(typists))
	for _, u := range typists {
		if u != p.userID {
			others = append(others, u)
		}
	}
	sort.Strings(others)
	return TypingEvent{
		ConversationID: conversationID,
		UserIDs:        others,
		Phrase:         p.typingPhrase(ctx, others),
	}
}

func (p *Projector) typingPhrase(ctx context.Context, userIDs []string) string {
	switch len(userIDs) {
	case 0:
		return ""
	case 1:
		return fmt.Sprintf("%s is typing…", p.label(ctx, userIDs[0]))
	case 2:
		return fmt.Sprintf("%s and %s are typing…", p.label(ctx, userIDs[0]), p.label(ctx, userIDs[1]))
	default:
		return "Several people are typing…"
	}
}

func (p *Projector) label(ctx context.Context, userID string) string {
	p.mu.Lock()
	if name, ok := p.labels[userID]; ok {
		p.mu.Unlock()
		return name
	}
	p.mu.Unlock()

	name := "Unknown user"
	if u, err := p.userRepo.GetByID(ctx, userID); err == nil && u != nil {
		name = u.Label()
	}
	p.mu.Lock()
	p.labels[userID] = name
	p.mu.Unlock()
	return name
}
