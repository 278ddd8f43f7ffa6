package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFindOrCreateDirectConverges(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.seedUser(t, "alice", "Alice")
	e.seedUser(t, "bob", "Bob")

	first, err := e.registry.FindOrCreateDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	require.False(t, first.IsGroup)
	require.Equal(t, []string{"alice", "bob"}, first.Members)
	require.Equal(t, "Conversation started", first.LastMessagePreview)

	// Opposite argument order lands on the same conversation.
	second, err := e.registry.FindOrCreateDirect(ctx, "bob", "alice")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	convs, err := e.registry.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, convs, 1)
}

func TestFindOrCreateDirectWithSelf(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.seedUser(t, "alice", "Alice")

	_, err := e.registry.FindOrCreateDirect(ctx, "alice", "alice")
	require.ErrorIs(t, err, ErrCannotChatWithSelf)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestFindOrCreateDirectUnknownUser(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.seedUser(t, "alice", "Alice")

	_, err := e.registry.FindOrCreateDirect(ctx, "alice", "ghost")
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestFindOrCreateDirectConcurrent(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.seedUser(t, "alice", "Alice")
	e.seedUser(t, "bob", "Bob")

	const n = 10
	ids := make(chan string, n)
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		a, b := "alice", "bob"
		if i%2 == 1 {
			a, b = b, a
		}
		go func() {
			defer wg.Done()
			conv, err := e.registry.FindOrCreateDirect(ctx, a, b)
			errs <- err
			if conv != nil {
				ids <- conv.ID
			}
		}()
	}
	wg.Wait()
	close(ids)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	seen := map[string]bool{}
	for id := range ids {
		seen[id] = true
	}
	require.Len(t, seen, 1, "all callers converge on one conversation")
}

func TestCreateGroup(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.seedUser(t, "alice", "Alice")

	conv, err := e.registry.CreateGroup(ctx, "alice", "  Team  ", []string{"bob", "carol", "bob"})
	require.NoError(t, err)
	require.True(t, conv.IsGroup)
	require.Equal(t, "Team", conv.GroupName)
	require.Equal(t, "alice", conv.AdminID)
	require.ElementsMatch(t, []string{"alice", "bob", "carol"}, conv.Members)
	require.Equal(t, "Group created", conv.LastMessagePreview)
	for _, m := range conv.Members {
		require.Zero(t, conv.UnreadFor(m))
	}
}

func TestCreateGroupValidation(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	_, err := e.registry.CreateGroup(ctx, "alice", "   ", []string{"bob"})
	require.ErrorIs(t, err, ErrEmptyGroupName)

	_, err = e.registry.CreateGroup(ctx, "alice", "Team", nil)
	require.ErrorIs(t, err, ErrNoMembers)
}

func TestAddMembers(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.seedUser(t, "alice", "Alice")
	e.seedUser(t, "bob", "Bob")
	e.seedUser(t, "dave", "Dave")
	conv := e.seedGroup(t, "alice", "bob")

	require.NoError(t, e.registry.AddMembers(ctx, conv.ID, "alice", []string{"dave"}))

	got := e.conversation(t, conv.ID)
	require.ElementsMatch(t, []string{"alice", "bob", "dave"}, got.Members)
	require.Zero(t, got.UnreadFor("dave"), "joiner starts with a clean counter")
	require.Equal(t, int64(1), got.UnreadFor("bob"), "the notice counts as unread for existing members")
	require.Zero(t, got.UnreadFor("alice"), "the actor does not notify themselves")

	msgs := e.messages(t, conv.ID)
	require.Len(t, msgs, 1)
	require.True(t, msgs[0].IsSystem)
	require.Equal(t, "alice", msgs[0].SenderID)
	require.Equal(t, "Alice added Dave", msgs[0].Text)
}

func TestAddMembersNotAdmin(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.seedUser(t, "alice", "Alice")
	conv := e.seedGroup(t, "alice", "bob")

	err := e.registry.AddMembers(ctx, conv.ID, "bob", []string{"dave"})
	require.ErrorIs(t, err, ErrNotAdmin)
	require.ErrorIs(t, err, ErrPermissionDenied)
}

func TestAddMembersAlreadyMember(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.seedUser(t, "alice", "Alice")
	conv := e.seedGroup(t, "alice", "bob")

	err := e.registry.AddMembers(ctx, conv.ID, "alice", []string{"bob"})
	require.ErrorIs(t, err, ErrAlreadyMember)
}

func TestRemoveMemberByAdmin(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.seedUser(t, "alice", "Alice")
	e.seedUser(t, "bob", "Bob")
	conv := e.seedGroup(t, "alice", "bob", "carol")

	require.NoError(t, e.registry.RemoveMember(ctx, conv.ID, "alice", "bob"))

	got := e.conversation(t, conv.ID)
	require.False(t, got.HasMember("bob"))
	_, hasCounter := got.UnreadCount["bob"]
	require.False(t, hasCounter, "departed member's counter is removed")

	msgs := e.messages(t, conv.ID)
	require.Len(t, msgs, 1)
	require.True(t, msgs[0].IsSystem)
	require.Equal(t, "Alice removed Bob", msgs[0].Text)
}

func TestRemoveMemberNotAdmin(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.seedUser(t, "alice", "Alice")
	conv := e.seedGroup(t, "alice", "bob", "carol")

	err := e.registry.RemoveMember(ctx, conv.ID, "bob", "carol")
	require.ErrorIs(t, err, ErrNotAdmin)
}

func TestLeaveGroup(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.seedUser(t, "alice", "Alice")
	e.seedUser(t, "bob", "Bob")
	conv := e.seedGroup(t, "alice", "bob", "carol")

	require.NoError(t, e.registry.Leave(ctx, conv.ID, "bob"))

	got := e.conversation(t, conv.ID)
	require.False(t, got.HasMember("bob"))

	msgs := e.messages(t, conv.ID)
	require.Len(t, msgs, 1)
	require.Equal(t, "Bob left the group", msgs[0].Text)
	require.Equal(t, "bob", msgs[0].SenderID)
}

func TestLeaveReassignsAdmin(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.seedUser(t, "alice", "Alice")
	conv := e.seedGroup(t, "alice", "bob", "carol")

	require.NoError(t, e.registry.Leave(ctx, conv.ID, "alice"))

	got := e.conversation(t, conv.ID)
	require.True(t, got.HasMember(got.AdminID), "admin is always a member")
	require.NotEqual(t, "alice", got.AdminID)
}

func TestLeaveLastMemberDeletesConversation(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.seedUser(t, "alice", "Alice")
	conv := e.seedGroup(t, "alice", "bob")

	require.NoError(t, e.registry.Leave(ctx, conv.ID, "bob"))
	require.NoError(t, e.registry.Leave(ctx, conv.ID, "alice"))

	got, err := e.convs.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	require.Nil(t, got)
	require.Empty(t, e.messages(t, conv.ID), "ledger goes with the conversation")
}

func TestLeaveDeletedConversationIsNoop(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.seedUser(t, "alice", "Alice")
	conv := e.seedGroup(t, "alice", "bob")

	require.NoError(t, e.registry.Delete(ctx, conv.ID, "alice"))
	require.NoError(t, e.registry.Leave(ctx, conv.ID, "bob"))
}

func TestRename(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.seedUser(t, "alice", "Alice")
	conv := e.seedGroup(t, "alice", "bob")

	require.NoError(t, e.registry.Rename(ctx, conv.ID, "alice", "New Name"))

	got := e.conversation(t, conv.ID)
	require.Equal(t, "New Name", got.GroupName)

	msgs := e.messages(t, conv.ID)
	require.Len(t, msgs, 1)
	require.Equal(t, `Alice renamed the group to "New Name"`, msgs[0].Text)
}

func TestRenameNotAdmin(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.seedUser(t, "alice", "Alice")
	conv := e.seedGroup(t, "alice", "bob")

	require.ErrorIs(t, e.registry.Rename(ctx, conv.ID, "bob", "Nope"), ErrNotAdmin)
}

func TestRenameDirectConversation(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.seedUser(t, "alice", "Alice")
	e.seedUser(t, "bob", "Bob")

	conv, err := e.registry.FindOrCreateDirect(ctx, "alice", "bob")
	require.NoError(t, err)

	require.ErrorIs(t, e.registry.Rename(ctx, conv.ID, "alice", "Nope"), ErrNotGroup)
}

func TestDeleteCascades(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.seedUser(t, "alice", "Alice")
	e.seedUser(t, "bob", "Bob")
	conv := e.seedGroup(t, "alice", "bob")

	for i := 0; i < 3; i++ {
		_, err := e.ledger.Append(ctx, conv.ID, "alice", "hello", "")
		require.NoError(t, err)
	}
	require.Len(t, e.messages(t, conv.ID), 3)

	require.NoError(t, e.registry.Delete(ctx, conv.ID, "alice"))

	got, err := e.convs.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	require.Nil(t, got)
	require.Empty(t, e.messages(t, conv.ID))

	// Deleting again succeeds: the end state already holds.
	require.NoError(t, e.registry.Delete(ctx, conv.ID, "alice"))
}

func TestDeleteCascadeSweepsRacingAppend(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.seedUser(t, "alice", "Alice")
	e.seedUser(t, "bob", "Bob")
	conv := e.seedGroup(t, "alice", "bob")

	_, err := e.ledger.Append(ctx, conv.ID, "alice", "hi", "")
	require.NoError(t, err)

	// Stage the cascade the way Delete does, then let an append commit
	// before it lands. The staged sweep must still catch the new message.
	b := e.store.Batch()
	e.msgs.DeleteAllInConversation(b, conv.ID)
	e.convs.Delete(b, conv.ID)

	_, err = e.ledger.Append(ctx, conv.ID, "bob", "racing message", "")
	require.NoError(t, err)

	require.NoError(t, b.Commit(ctx))

	got, err := e.convs.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	require.Nil(t, got)
	require.Empty(t, e.messages(t, conv.ID), "no orphan survives the cascade")
}

func TestDeleteGroupNotAdmin(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.seedUser(t, "alice", "Alice")
	conv := e.seedGroup(t, "alice", "bob")

	require.ErrorIs(t, e.registry.Delete(ctx, conv.ID, "bob"), ErrNotAdmin)
}

func TestDeleteDirectByEitherParty(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.seedUser(t, "alice", "Alice")
	e.seedUser(t, "bob", "Bob")

	conv, err := e.registry.FindOrCreateDirect(ctx, "alice", "bob")
	require.NoError(t, err)

	require.ErrorIs(t, e.registry.Delete(ctx, conv.ID, "stranger"), ErrNotMember)
	require.NoError(t, e.registry.Delete(ctx, conv.ID, "bob"))
}

func TestGetByIDRequiresMembership(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.seedUser(t, "alice", "Alice")
	conv := e.seedGroup(t, "alice", "bob")

	_, err := e.registry.GetByID(ctx, conv.ID, "stranger")
	require.ErrorIs(t, err, ErrNotMember)

	_, err = e.registry.GetByID(ctx, "missing", "alice")
	require.ErrorIs(t, err, ErrConversationNotFound)

	got, err := e.registry.GetByID(ctx, conv.ID, "bob")
	require.NoError(t, err)
	require.Equal(t, conv.ID, got.ID)
}

func TestSystemMessagesUseLedgerOrder(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.seedUser(t, "alice", "Alice")
	e.seedUser(t, "bob", "Bob")
	e.seedUser(t, "dave", "Dave")
	conv := e.seedGroup(t, "alice", "bob")

	_, err := e.ledger.Append(ctx, conv.ID, "bob", "hi", "")
	require.NoError(t, err)
	require.NoError(t, e.registry.AddMembers(ctx, conv.ID, "alice", []string{"dave"}))
	require.NoError(t, e.registry.Leave(ctx, conv.ID, "bob"))

	msgs := e.messages(t, conv.ID)
	require.Len(t, msgs, 3)
	require.Equal(t, "hi", msgs[0].Text)
	require.Equal(t, "Alice added Dave", msgs[1].Text)
	require.Equal(t, "Bob left the group", msgs[2].Text)
	for i := 1; i < len(msgs); i++ {
		require.True(t, msgs[i].CreatedAt.After(msgs[i-1].CreatedAt))
	}
}
