package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/vedran77/converse/internal/docstore"
	"github.com/vedran77/converse/internal/domain"
	"github.com/vedran77/converse/internal/repository"
)

// MessageService is the append-only message ledger. Every append commits the
// message together with its conversation side effects (preview, timestamp,
// unread increments) in one atomic batch.
type MessageService struct {
	store    *docstore.Store
	msgRepo  repository.MessageRepository
	convRepo repository.ConversationRepository
}

func NewMessageService(store *docstore.Store, msgRepo repository.MessageRepository, convRepo repository.ConversationRepository) *MessageService {
	return &MessageService{store: store, msgRepo: msgRepo, convRepo: convRepo}
}

// Append records a message from a member. At least one of text and imageRef
// must be present. The stored timestamp is assigned by the store, so ledger
// order never depends on sender clocks.
func (s *MessageService) Append(ctx context.Context, conversationID, senderID, text, imageRef string) (*domain.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" && imageRef == "" {
		return nil, ErrEmptyMessage
	}

	msg := &domain.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Text:           text,
		ImageRef:       imageRef,
	}

	err := withRetry(ctx, func() error {
		conv, err := s.convRepo.GetByID(ctx, conversationID)
		if err != nil {
			return err
		}
		if conv == nil {
			return ErrConversationNotFound
		}
		if !conv.HasMember(senderID) {
			return ErrNotMember
		}

		recipients := lo.Filter(conv.Members, func(m string, _ int) bool { return m != senderID })

		b := s.store.Batch()
		s.msgRepo.Append(b, msg)
		s.convRepo.NoteMessage(b, conversationID, preview(msg), recipients)
		return b.Commit(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("appending message: %w", err)
	}

	stored, err := s.msgRepo.GetByID(ctx, msg.ID)
	if err != nil || stored == nil {
		// The commit succeeded; fall back to the pre-commit view.
		return msg, nil
	}
	return stored, nil
}

// List returns the conversation's messages in ledger order. Members only.
func (s *MessageService) List(ctx context.Context, conversationID, userID string) ([]domain.Message, error) {
	conv, err := s.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, ErrConversationNotFound
	}
	if !conv.HasMember(userID) {
		return nil, ErrNotMember
	}
	return s.msgRepo.ListByConversation(ctx, conversationID)
}

// MarkAllRead zeroes the reader's unread counter. It is idempotent, and a
// no-op when the conversation is gone or the reader is not a member.
func (s *MessageService) MarkAllRead(ctx context.Context, conversationID, readerID string) error {
	return withRetry(ctx, func() error {
		conv, err := s.convRepo.GetByID(ctx, conversationID)
		if err != nil {
			return err
		}
		if conv == nil || !conv.HasMember(readerID) {
			return nil
		}
		return s.convRepo.ResetUnread(ctx, conversationID, readerID)
	})
}

// MarkIndividualRead flags the other party's messages as read to drive the
// seen indicator. Direct conversations only; groups do not track per-message
// read state.
func (s *MessageService) MarkIndividualRead(ctx context.Context, conversationID, readerID string, messageIDs []string) error {
	return withRetry(ctx, func() error {
		conv, err := s.convRepo.GetByID(ctx, conversationID)
		if err != nil {
			return err
		}
		if conv == nil {
			return nil
		}
		if conv.IsGroup {
			return ErrNotDirect
		}
		if !conv.HasMember(readerID) {
			return ErrNotMember
		}

		msgs, err := s.msgRepo.ListByConversation(ctx, conversationID)
		if err != nil {
			return err
		}
		wanted := lo.SliceToMap(messageIDs, func(id string) (string, struct{}) { return id, struct{}{} })
		eligible := lo.FilterMap(msgs, func(m domain.Message, _ int) (string, bool) {
			_, ok := wanted[m.ID]
			return m.ID, ok && m.SenderID != readerID && !m.IsRead
		})
		return s.msgRepo.MarkRead(ctx, eligible)
	})
}

// preview renders the one-line conversation preview for a message.
func preview(msg *domain.Message) string {
	if msg.Text != "" {
		return msg.Text
	}
	return "Sent a photo"
}
