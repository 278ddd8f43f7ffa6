package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vedran77/converse/internal/docstore"
	"github.com/vedran77/converse/internal/domain"
	"github.com/vedran77/converse/internal/presence"
	"github.com/vedran77/converse/internal/repository/docstorerepo"
)

type testEnv struct {
	store    *docstore.Store
	users    *docstorerepo.UserRepo
	convs    *docstorerepo.ConversationRepo
	msgs     *docstorerepo.MessageRepo
	presence *presence.Store
	typing   *TypingSignal

	auth     *AuthService
	registry *ConversationService
	ledger   *MessageService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := docstore.Open(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	users := docstorerepo.NewUserRepo(store)
	convs := docstorerepo.NewConversationRepo(store)
	msgs := docstorerepo.NewMessageRepo(store)
	typing := NewTypingSignal(50 * time.Millisecond)
	t.Cleanup(typing.Close)

	return &testEnv{
		store:    store,
		users:    users,
		convs:    convs,
		msgs:     msgs,
		presence: presence.NewStore(nil),
		typing:   typing,
		auth:     NewAuthService(users, "test-secret"),
		registry: NewConversationService(store, convs, msgs, users),
		ledger:   NewMessageService(store, msgs, convs),
	}
}

func (e *testEnv) seedUser(t *testing.T, id, name string) {
	t.Helper()
	now := time.Now()
	err := e.users.Create(context.Background(), &domain.User{
		ID:          id,
		Email:       id + "@example.com",
		DisplayName: name,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	require.NoError(t, err)
}

func (e *testEnv) seedGroup(t *testing.T, adminID string, memberIDs ...string) *domain.Conversation {
	t.Helper()
	conv, err := e.registry.CreateGroup(context.Background(), adminID, "Test Group", memberIDs)
	require.NoError(t, err)
	return conv
}

func (e *testEnv) messages(t *testing.T, conversationID string) []domain.Message {
	t.Helper()
	msgs, err := e.msgs.ListByConversation(context.Background(), conversationID)
	require.NoError(t, err)
	return msgs
}

func (e *testEnv) conversation(t *testing.T, id string) *domain.Conversation {
	t.Helper()
	conv, err := e.convs.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, conv)
	return conv
}
