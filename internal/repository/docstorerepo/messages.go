package docstorerepo

import (
	"context"
	"errors"
	"sort"

	"github.com/vedran77/converse/internal/docstore"
	"github.com/vedran77/converse/internal/domain"
)

const messagesCollection = "messages"

type MessageRepo struct {
	store *docstore.Store
	coll  *docstore.Collection
}

func NewMessageRepo(store *docstore.Store) *MessageRepo {
	return &MessageRepo{store: store, coll: store.Collection(messagesCollection)}
}

func (r *MessageRepo) Append(b *docstore.Batch, msg *domain.Message) {
	b.Create(messagesCollection, msg.ID, docstore.Doc{
		"conversationId": msg.ConversationID,
		"senderId":       msg.SenderID,
		"text":           msg.Text,
		"imageRef":       msg.ImageRef,
		"createdAt":      docstore.ServerTimestamp(),
		"isRead":         false,
		"isSystem":       msg.IsSystem,
	})
}

func (r *MessageRepo) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	snap, err := r.coll.Get(ctx, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return messageFromSnap(snap), nil
}

func (r *MessageRepo) ListByConversation(ctx context.Context, conversationID string) ([]domain.Message, error) {
	snaps, err := r.coll.Where("conversationId", "==", conversationID).Documents(ctx)
	if err != nil {
		return nil, err
	}
	return messagesFromSnaps(snaps), nil
}

func (r *MessageRepo) WatchByConversation(ctx context.Context, conversationID string) <-chan []domain.Message {
	stream := r.coll.Where("conversationId", "==", conversationID).Watch(ctx)
	out := make(chan []domain.Message, 1)
	go func() {
		defer close(out)
		for snaps := range stream.C {
			forward(out, messagesFromSnaps(snaps))
		}
	}()
	return out
}

func (r *MessageRepo) MarkRead(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	b := r.store.Batch()
	for _, id := range ids {
		b.Update(messagesCollection, id, docstore.Update{Path: "isRead", Value: true})
	}
	return b.Commit(ctx)
}

func (r *MessageRepo) DeleteAllInConversation(b *docstore.Batch, conversationID string) {
	b.DeleteMatching(r.coll.Where("conversationId", "==", conversationID))
}

// messagesFromSnaps converts and re-sorts into ascending assigned-timestamp
// order, ties by id. This sort at the subscription boundary is what keeps
// delivery monotonic for every subscriber regardless of transport order.
func messagesFromSnaps(snaps []docstore.Snapshot) []domain.Message {
	out := make([]domain.Message, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, *messageFromSnap(s))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func messageFromSnap(s docstore.Snapshot) *domain.Message {
	return &domain.Message{
		ID:             s.ID,
		ConversationID: docstore.AsString(s.Data["conversationId"]),
		SenderID:       docstore.AsString(s.Data["senderId"]),
		Text:           docstore.AsString(s.Data["text"]),
		ImageRef:       docstore.AsString(s.Data["imageRef"]),
		CreatedAt:      docstore.AsTime(s.Data["createdAt"]),
		IsRead:         docstore.AsBool(s.Data["isRead"]),
		IsSystem:       docstore.AsBool(s.Data["isSystem"]),
	}
}
