package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/vedran77/converse/internal/docstore"
)

// Error kinds. Operation-specific sentinels below wrap one of these, so
// handlers can branch on either the specific error or the kind.
var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotFound         = errors.New("not found")
	ErrUnavailable      = errors.New("unavailable")
)

var (
	ErrCannotChatWithSelf   = fmt.Errorf("%w: cannot start a conversation with yourself", ErrInvalidArgument)
	ErrEmptyGroupName       = fmt.Errorf("%w: group name is required", ErrInvalidArgument)
	ErrNoMembers            = fmt.Errorf("%w: at least one member is required", ErrInvalidArgument)
	ErrAlreadyMember        = fmt.Errorf("%w: user is already a member", ErrInvalidArgument)
	ErrEmptyMessage         = fmt.Errorf("%w: a message needs text or an image", ErrInvalidArgument)
	ErrNotGroup             = fmt.Errorf("%w: not a group conversation", ErrInvalidArgument)
	ErrNotDirect            = fmt.Errorf("%w: not a direct conversation", ErrInvalidArgument)
	ErrNotAdmin             = fmt.Errorf("%w: only the group admin can perform this action", ErrPermissionDenied)
	ErrNotMember            = fmt.Errorf("%w: you are not a member of this conversation", ErrPermissionDenied)
	ErrConversationNotFound = fmt.Errorf("%w: conversation", ErrNotFound)
	ErrUserNotFound         = fmt.Errorf("%w: user", ErrNotFound)
)

const maxCommitAttempts = 3

// withRetry runs fn, transparently retrying commits the store aborts with a
// write conflict. Validation errors pass through untouched; after the last
// attempt the caller sees Unavailable.
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxCommitAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = fn()
		if err == nil || !errors.Is(err, docstore.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
