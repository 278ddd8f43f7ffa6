package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/vedran77/converse/internal/docstore"
	"github.com/vedran77/converse/internal/domain"
	"github.com/vedran77/converse/internal/repository"
)

// ConversationService is the conversation registry: it creates, locates and
// mutates conversations without producing duplicate direct rooms or orphaned
// membership. Membership changes and their system messages always commit as
// one atomic batch.
type ConversationService struct {
	store    *docstore.Store
	convRepo repository.ConversationRepository
	msgRepo  repository.MessageRepository
	userRepo repository.UserRepository
}

func NewConversationService(
	store *docstore.Store,
	convRepo repository.ConversationRepository,
	msgRepo repository.MessageRepository,
	userRepo repository.UserRepository,
) *ConversationService {
	return &ConversationService{
		store:    store,
		convRepo: convRepo,
		msgRepo:  msgRepo,
		userRepo: userRepo,
	}
}

// FindOrCreateDirect returns the one direct conversation between two users,
// creating it when absent. Both argument orders converge on the same
// conversation: the id is canonical (sorted pair), and creation is an
// idempotent upsert on that id, so two near-simultaneous callers cannot
// produce duplicate rooms.
func (s *ConversationService) FindOrCreateDirect(ctx context.Context, userID, otherUserID string) (*domain.Conversation, error) {
	if userID == otherUserID {
		return nil, ErrCannotChatWithSelf
	}

	other, err := s.userRepo.GetByID(ctx, otherUserID)
	if err != nil {
		return nil, err
	}
	if other == nil {
		return nil, ErrUserNotFound
	}

	members := []string{userID, otherUserID}
	sort.Strings(members)

	conv := &domain.Conversation{
		ID:                 domain.DirectConversationID(userID, otherUserID),
		IsGroup:            false,
		Members:            members,
		UnreadCount:        map[string]int64{userID: 0, otherUserID: 0},
		LastMessagePreview: "Conversation started",
	}

	var out *domain.Conversation
	err = withRetry(ctx, func() error {
		existing, _, err := s.convRepo.CreateIfAbsent(ctx, conv)
		out = existing
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating direct conversation: %w", err)
	}
	return out, nil
}

// CreateGroup creates a group conversation with the creator as admin.
func (s *ConversationService) CreateGroup(ctx context.Context, creatorID, name string, memberIDs []string) (*domain.Conversation, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyGroupName
	}
	if len(memberIDs) == 0 {
		return nil, ErrNoMembers
	}

	members := lo.Uniq(append([]string{creatorID}, memberIDs...))
	unread := make(map[string]int64, len(members))
	for _, m := range members {
		unread[m] = 0
	}

	conv := &domain.Conversation{
		ID:                 uuid.New().String(),
		IsGroup:            true,
		Members:            members,
		GroupName:          name,
		AdminID:            creatorID,
		UnreadCount:        unread,
		LastMessagePreview: "Group created",
	}

	var out *domain.Conversation
	err := withRetry(ctx, func() error {
		created, err := s.convRepo.Create(ctx, conv)
		out = created
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating group: %w", err)
	}
	return out, nil
}

// AddMembers unions new members into a group and announces them with a
// system message, in one atomic batch. Admin only.
func (s *ConversationService) AddMembers(ctx context.Context, conversationID, actorID string, newMemberIDs []string) error {
	newMemberIDs = lo.Uniq(newMemberIDs)
	if len(newMemberIDs) == 0 {
		return ErrNoMembers
	}

	return withRetry(ctx, func() error {
		conv, err := s.convRepo.GetByID(ctx, conversationID)
		if err != nil {
			return err
		}
		if conv == nil {
			return ErrConversationNotFound
		}
		if !conv.IsGroup {
			return ErrNotGroup
		}
		if conv.AdminID != actorID {
			return ErrNotAdmin
		}
		for _, m := range newMemberIDs {
			if conv.HasMember(m) {
				return fmt.Errorf("%w: %s", ErrAlreadyMember, m)
			}
		}

		text := fmt.Sprintf("%s added %s",
			s.label(ctx, actorID), strings.Join(s.labels(ctx, newMemberIDs), ", "))

		b := s.store.Batch()
		s.queueSystemMessage(b, conv, actorID, text)
		s.convRepo.AddMembers(b, conversationID, newMemberIDs)
		return b.Commit(ctx)
	})
}

// RemoveMember removes a member from a group. The admin may remove anyone;
// any member may remove themselves (leave). The departure notice is queued
// ahead of the membership mutation, so it is part of the history the
// departing member can still see. Removing the last member deletes the
// conversation and its ledger.
func (s *ConversationService) RemoveMember(ctx context.Context, conversationID, actorID, memberID string) error {
	return withRetry(ctx, func() error {
		conv, err := s.convRepo.GetByID(ctx, conversationID)
		if err != nil {
			return err
		}
		if conv == nil {
			// Already gone; the end state matches intent.
			return nil
		}
		if !conv.IsGroup {
			return ErrNotGroup
		}
		if actorID != memberID && conv.AdminID != actorID {
			return ErrNotAdmin
		}
		if !conv.HasMember(memberID) {
			return nil
		}

		if len(conv.Members) == 1 {
			return s.cascadeDelete(ctx, conv)
		}

		var text string
		if actorID == memberID {
			text = fmt.Sprintf("%s left the group", s.label(ctx, memberID))
		} else {
			text = fmt.Sprintf("%s removed %s", s.label(ctx, actorID), s.label(ctx, memberID))
		}

		b := s.store.Batch()
		s.queueSystemMessage(b, conv, actorID, text)
		s.convRepo.RemoveMember(b, conversationID, memberID)
		if memberID == conv.AdminID {
			if next := successorAdmin(conv, memberID); next != "" {
				s.convRepo.SetAdmin(b, conversationID, next)
			}
		}
		return b.Commit(ctx)
	})
}

// Leave removes the caller from a group.
func (s *ConversationService) Leave(ctx context.Context, conversationID, userID string) error {
	return s.RemoveMember(ctx, conversationID, userID, userID)
}

// Rename changes a group's name. Admin only.
func (s *ConversationService) Rename(ctx context.Context, conversationID, actorID, newName string) error {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return ErrEmptyGroupName
	}

	return withRetry(ctx, func() error {
		conv, err := s.convRepo.GetByID(ctx, conversationID)
		if err != nil {
			return err
		}
		if conv == nil {
			return ErrConversationNotFound
		}
		if !conv.IsGroup {
			return ErrNotGroup
		}
		if conv.AdminID != actorID {
			return ErrNotAdmin
		}
		if conv.GroupName == newName {
			return nil
		}

		text := fmt.Sprintf("%s renamed the group to %q", s.label(ctx, actorID), newName)

		b := s.store.Batch()
		s.queueSystemMessage(b, conv, actorID, text)
		s.convRepo.SetName(b, conversationID, newName)
		return b.Commit(ctx)
	})
}

// Delete removes a conversation and every one of its messages as a single
// atomic unit; no other client can observe messages without the
// conversation or vice versa. Admin only for groups; either party for
// direct conversations. Deleting an already-deleted conversation succeeds.
func (s *ConversationService) Delete(ctx context.Context, conversationID, actorID string) error {
	return withRetry(ctx, func() error {
		conv, err := s.convRepo.GetByID(ctx, conversationID)
		if err != nil {
			return err
		}
		if conv == nil {
			return nil
		}
		if conv.IsGroup {
			if conv.AdminID != actorID {
				return ErrNotAdmin
			}
		} else if !conv.HasMember(actorID) {
			return ErrNotMember
		}

		return s.cascadeDelete(ctx, conv)
	})
}

// GetByID returns a conversation the caller belongs to.
func (s *ConversationService) GetByID(ctx context.Context, conversationID, userID string) (*domain.Conversation, error) {
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
	return conv, nil
}

// List returns every conversation the user belongs to.
func (s *ConversationService) List(ctx context.Context, userID string) ([]domain.Conversation, error) {
	convs, err := s.convRepo.ListByMember(ctx, userID)
	if err != nil {
		return nil, err
	}
	if convs == nil {
		convs = []domain.Conversation{}
	}
	return convs, nil
}

func (s *ConversationService) cascadeDelete(ctx context.Context, conv *domain.Conversation) error {
	b := s.store.Batch()
	s.msgRepo.DeleteAllInConversation(b, conv.ID)
	s.convRepo.Delete(b, conv.ID)
	return b.Commit(ctx)
}

// queueSystemMessage queues a system notice and its conversation side
// effects. The acting user is the sender, so the uniform unread increment
// covers every other member and naturally skips the actor.
func (s *ConversationService) queueSystemMessage(b *docstore.Batch, conv *domain.Conversation, actorID, text string) {
	s.msgRepo.Append(b, &domain.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		SenderID:       actorID,
		Text:           text,
		IsSystem:       true,
	})
	recipients := lo.Filter(conv.Members, func(m string, _ int) bool { return m != actorID })
	s.convRepo.NoteMessage(b, conv.ID, text, recipients)
}

func (s *ConversationService) label(ctx context.Context, userID string) string {
	if userID == domain.SystemSenderID {
		return "System"
	}
	u, err := s.userRepo.GetByID(ctx, userID)
	if err != nil || u == nil {
		return "Unknown user"
	}
	return u.Label()
}

func (s *ConversationService) labels(ctx context.Context, userIDs []string) []string {
	out := make([]string, len(userIDs))
	for i, id := range userIDs {
		out[i] = s.label(ctx, id)
	}
	return out
}

// successorAdmin picks the next admin when the current one leaves: the
// first remaining member in the stored order.
func successorAdmin(conv *domain.Conversation, leaving string) string {
	for _, m := range conv.Members {
		if m != leaving {
			return m
		}
	}
	return ""
}
