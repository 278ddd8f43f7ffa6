// Package docstorerepo implements the repository interfaces on the embedded
// document store.
package docstorerepo

import (
	"context"
	"errors"

	"github.com/vedran77/converse/internal/docstore"
	"github.com/vedran77/converse/internal/domain"
)

const usersCollection = "users"

type UserRepo struct {
	coll *docstore.Collection
}

func NewUserRepo(store *docstore.Store) *UserRepo {
	return &UserRepo{coll: store.Collection(usersCollection)}
}

func (r *UserRepo) Create(ctx context.Context, user *domain.User) error {
	doc := docstore.Doc{
		"email":        user.Email,
		"displayName":  user.DisplayName,
		"passwordHash": user.PasswordHash,
		"createdAt":    docstore.ServerTimestamp(),
		"updatedAt":    docstore.ServerTimestamp(),
	}
	if user.AvatarRef != nil {
		doc["avatarRef"] = *user.AvatarRef
	}
	return r.coll.Create(ctx, user.ID, doc)
}

func (r *UserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	snap, err := r.coll.Get(ctx, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return userFromSnap(snap), nil
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	snaps, err := r.coll.Where("email", "==", email).Documents(ctx)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, nil
	}
	return userFromSnap(snaps[0]), nil
}

func (r *UserRepo) Update(ctx context.Context, user *domain.User) error {
	avatar := docstore.DeleteField()
	if user.AvatarRef != nil {
		avatar = *user.AvatarRef
	}
	return r.coll.Update(ctx, user.ID,
		docstore.Update{Path: "displayName", Value: user.DisplayName},
		docstore.Update{Path: "avatarRef", Value: avatar},
		docstore.Update{Path: "updatedAt", Value: docstore.ServerTimestamp()},
	)
}

func (r *UserRepo) List(ctx context.Context) ([]domain.User, error) {
	snaps, err := r.coll.All(ctx)
	if err != nil {
		return nil, err
	}
	return usersFromSnaps(snaps), nil
}

func (r *UserRepo) Watch(ctx context.Context) <-chan []domain.User {
	stream := r.coll.WatchAll(ctx)
	out := make(chan []domain.User, 1)
	go func() {
		defer close(out)
		for snaps := range stream.C {
			forward(out, usersFromSnaps(snaps))
		}
	}()
	return out
}

func usersFromSnaps(snaps []docstore.Snapshot) []domain.User {
	out := make([]domain.User, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, *userFromSnap(s))
	}
	return out
}

func userFromSnap(s docstore.Snapshot) *domain.User {
	u := &domain.User{
		ID:           s.ID,
		Email:        docstore.AsString(s.Data["email"]),
		DisplayName:  docstore.AsString(s.Data["displayName"]),
		PasswordHash: docstore.AsString(s.Data["passwordHash"]),
		CreatedAt:    docstore.AsTime(s.Data["createdAt"]),
		UpdatedAt:    docstore.AsTime(s.Data["updatedAt"]),
	}
	if ref := docstore.AsString(s.Data["avatarRef"]); ref != "" {
		u.AvatarRef = &ref
	}
	return u
}

// forward replaces an unconsumed value instead of blocking, preserving the
// stream's coalesce-to-latest contract through the conversion layer.
func forward[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
}
