package repository

import (
	"context"

	"github.com/vedran77/converse/internal/docstore"
	"github.com/vedran77/converse/internal/domain"
)

// Lookup methods return (nil, nil) when the record does not exist.
//
// Mutators that take a *docstore.Batch only queue operations; the caller
// owns the commit, which is how services compose membership changes, system
// messages and cascade deletes into single atomic units.

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Update(ctx context.Context, user *domain.User) error
	List(ctx context.Context) ([]domain.User, error)
	Watch(ctx context.Context) <-chan []domain.User
}

type ConversationRepository interface {
	Create(ctx context.Context, conv *domain.Conversation) (*domain.Conversation, error)
	// CreateIfAbsent creates the conversation under its canonical id, or
	// returns the existing one. The second result is true when this call
	// created it.
	CreateIfAbsent(ctx context.Context, conv *domain.Conversation) (*domain.Conversation, bool, error)
	GetByID(ctx context.Context, id string) (*domain.Conversation, error)
	ListByMember(ctx context.Context, userID string) ([]domain.Conversation, error)
	WatchByMember(ctx context.Context, userID string) <-chan []domain.Conversation
	// WatchByID streams the conversation document itself; nil is delivered
	// when it is absent or deleted.
	WatchByID(ctx context.Context, id string) <-chan *domain.Conversation
	ResetUnread(ctx context.Context, id, userID string) error

	AddMembers(b *docstore.Batch, id string, userIDs []string)
	RemoveMember(b *docstore.Batch, id string, userID string)
	SetName(b *docstore.Batch, id, name string)
	SetAdmin(b *docstore.Batch, id, userID string)
	// NoteMessage records a new message's side effects on the conversation:
	// preview, last-message timestamp, and an increment-by-one of every
	// listed member's unread counter. The increment is a relative delta so
	// concurrent senders never clobber each other.
	NoteMessage(b *docstore.Batch, id, preview string, incrementFor []string)
	Delete(b *docstore.Batch, id string)
}

type MessageRepository interface {
	// Append queues the message document; its timestamp is assigned by the
	// store at commit time.
	Append(b *docstore.Batch, msg *domain.Message)
	GetByID(ctx context.Context, id string) (*domain.Message, error)
	// ListByConversation returns messages in ascending assigned-timestamp
	// order, ties broken by id.
	ListByConversation(ctx context.Context, conversationID string) ([]domain.Message, error)
	WatchByConversation(ctx context.Context, conversationID string) <-chan []domain.Message
	MarkRead(ctx context.Context, ids []string) error
	// DeleteAllInConversation queues a commit-time sweep of every message
	// in the conversation, including ones appended after the batch was
	// staged.
	DeleteAllInConversation(b *docstore.Batch, conversationID string)
}
