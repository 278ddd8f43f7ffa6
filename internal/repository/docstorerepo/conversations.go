package docstorerepo

import (
	"context"
	"errors"

	"github.com/vedran77/converse/internal/docstore"
	"github.com/vedran77/converse/internal/domain"
)

const conversationsCollection = "conversations"

type ConversationRepo struct {
	coll *docstore.Collection
}

func NewConversationRepo(store *docstore.Store) *ConversationRepo {
	return &ConversationRepo{coll: store.Collection(conversationsCollection)}
}

func conversationDoc(c *domain.Conversation) docstore.Doc {
	unread := make(map[string]any, len(c.UnreadCount))
	for uid, n := range c.UnreadCount {
		unread[uid] = n
	}
	doc := docstore.Doc{
		"isGroup":            c.IsGroup,
		"members":            c.Members,
		"unreadCount":        unread,
		"lastMessagePreview": c.LastMessagePreview,
		"lastMessageAt":      docstore.ServerTimestamp(),
		"createdAt":          docstore.ServerTimestamp(),
	}
	if c.IsGroup {
		doc["groupName"] = c.GroupName
		doc["adminId"] = c.AdminID
	}
	return doc
}

func conversationFromSnap(s docstore.Snapshot) *domain.Conversation {
	return &domain.Conversation{
		ID:                 s.ID,
		IsGroup:            docstore.AsBool(s.Data["isGroup"]),
		Members:            docstore.AsStringSlice(s.Data["members"]),
		GroupName:          docstore.AsString(s.Data["groupName"]),
		AdminID:            docstore.AsString(s.Data["adminId"]),
		UnreadCount:        docstore.AsInt64Map(s.Data["unreadCount"]),
		LastMessagePreview: docstore.AsString(s.Data["lastMessagePreview"]),
		LastMessageAt:      docstore.AsTime(s.Data["lastMessageAt"]),
		CreatedAt:          docstore.AsTime(s.Data["createdAt"]),
	}
}

func (r *ConversationRepo) Create(ctx context.Context, conv *domain.Conversation) (*domain.Conversation, error) {
	if err := r.coll.Create(ctx, conv.ID, conversationDoc(conv)); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, conv.ID)
}

func (r *ConversationRepo) CreateIfAbsent(ctx context.Context, conv *domain.Conversation) (*domain.Conversation, bool, error) {
	snap, created, err := r.coll.CreateIfAbsent(ctx, conv.ID, conversationDoc(conv))
	if err != nil {
		return nil, false, err
	}
	return conversationFromSnap(snap), created, nil
}

func (r *ConversationRepo) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	snap, err := r.coll.Get(ctx, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return conversationFromSnap(snap), nil
}

func (r *ConversationRepo) ListByMember(ctx context.Context, userID string) ([]domain.Conversation, error) {
	snaps, err := r.coll.Where("members", "array-contains", userID).Documents(ctx)
	if err != nil {
		return nil, err
	}
	return conversationsFromSnaps(snaps), nil
}

func (r *ConversationRepo) WatchByMember(ctx context.Context, userID string) <-chan []domain.Conversation {
	stream := r.coll.Where("members", "array-contains", userID).Watch(ctx)
	out := make(chan []domain.Conversation, 1)
	go func() {
		defer close(out)
		for snaps := range stream.C {
			forward(out, conversationsFromSnaps(snaps))
		}
	}()
	return out
}

func (r *ConversationRepo) WatchByID(ctx context.Context, id string) <-chan *domain.Conversation {
	stream := r.coll.WatchDoc(ctx, id)
	out := make(chan *domain.Conversation, 1)
	go func() {
		defer close(out)
		for snaps := range stream.C {
			var conv *domain.Conversation
			if len(snaps) > 0 {
				conv = conversationFromSnap(snaps[0])
			}
			forward(out, conv)
		}
	}()
	return out
}

func (r *ConversationRepo) SetName(b *docstore.Batch, id, name string) {
	b.Update(conversationsCollection, id, docstore.Update{Path: "groupName", Value: name})
}

func (r *ConversationRepo) SetAdmin(b *docstore.Batch, id, userID string) {
	b.Update(conversationsCollection, id, docstore.Update{Path: "adminId", Value: userID})
}

func (r *ConversationRepo) ResetUnread(ctx context.Context, id, userID string) error {
	return r.coll.Update(ctx, id, docstore.Update{Path: "unreadCount." + userID, Value: int64(0)})
}

func (r *ConversationRepo) AddMembers(b *docstore.Batch, id string, userIDs []string) {
	items := make([]any, len(userIDs))
	updates := make([]docstore.Update, 0, len(userIDs)+1)
	for i, uid := range userIDs {
		items[i] = uid
		updates = append(updates, docstore.Update{Path: "unreadCount." + uid, Value: int64(0)})
	}
	updates = append(updates, docstore.Update{Path: "members", Value: docstore.ArrayUnion(items...)})
	b.Update(conversationsCollection, id, updates...)
}

func (r *ConversationRepo) RemoveMember(b *docstore.Batch, id string, userID string) {
	b.Update(conversationsCollection, id,
		docstore.Update{Path: "members", Value: docstore.ArrayRemove(userID)},
		docstore.Update{Path: "unreadCount." + userID, Value: docstore.DeleteField()},
	)
}

func (r *ConversationRepo) NoteMessage(b *docstore.Batch, id, preview string, incrementFor []string) {
	updates := make([]docstore.Update, 0, len(incrementFor)+2)
	updates = append(updates,
		docstore.Update{Path: "lastMessagePreview", Value: preview},
		docstore.Update{Path: "lastMessageAt", Value: docstore.ServerTimestamp()},
	)
	for _, uid := range incrementFor {
		updates = append(updates, docstore.Update{Path: "unreadCount." + uid, Value: docstore.Increment(1)})
	}
	b.Update(conversationsCollection, id, updates...)
}

func (r *ConversationRepo) Delete(b *docstore.Batch, id string) {
	b.Delete(conversationsCollection, id)
}

func conversationsFromSnaps(snaps []docstore.Snapshot) []domain.Conversation {
	out := make([]domain.Conversation, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, *conversationFromSnap(s))
	}
	return out
}
