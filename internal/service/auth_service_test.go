package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	resp, err := e.auth.Register(ctx, RegisterInput{
		Email:       "ada@example.com",
		DisplayName: "Ada",
		Password:    "Sup3rSecret",
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.User.ID)
	require.NotEmpty(t, resp.AccessToken)

	login, err := e.auth.Login(ctx, LoginInput{Email: "ada@example.com", Password: "Sup3rSecret"})
	require.NoError(t, err)
	require.Equal(t, resp.User.ID, login.User.ID)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	in := RegisterInput{Email: "ada@example.com", DisplayName: "Ada", Password: "Sup3rSecret"}
	_, err := e.auth.Register(ctx, in)
	require.NoError(t, err)

	_, err = e.auth.Register(ctx, in)
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestLoginWrongPassword(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	_, err := e.auth.Register(ctx, RegisterInput{
		Email: "ada@example.com", DisplayName: "Ada", Password: "Sup3rSecret",
	})
	require.NoError(t, err)

	_, err = e.auth.Login(ctx, LoginInput{Email: "ada@example.com", Password: "wrong"})
	require.ErrorIs(t, err, ErrInvalidCreds)

	_, err = e.auth.Login(ctx, LoginInput{Email: "nobody@example.com", Password: "Sup3rSecret"})
	require.ErrorIs(t, err, ErrInvalidCreds)
}

func TestUpdateProfile(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	resp, err := e.auth.Register(ctx, RegisterInput{
		Email: "ada@example.com", DisplayName: "Ada", Password: "Sup3rSecret",
	})
	require.NoError(t, err)

	avatar := "uploads/ada.png"
	user, err := e.auth.UpdateProfile(ctx, resp.User.ID, ProfileInput{
		DisplayName: "Ada L.",
		AvatarRef:   &avatar,
	})
	require.NoError(t, err)
	require.Equal(t, "Ada L.", user.DisplayName)
	require.NotNil(t, user.AvatarRef)
	require.Equal(t, avatar, *user.AvatarRef)

	// Nil ref leaves the avatar alone; empty string clears it.
	user, err = e.auth.UpdateProfile(ctx, resp.User.ID, ProfileInput{DisplayName: "Ada L."})
	require.NoError(t, err)
	require.NotNil(t, user.AvatarRef)

	empty := ""
	user, err = e.auth.UpdateProfile(ctx, resp.User.ID, ProfileInput{DisplayName: "Ada L.", AvatarRef: &empty})
	require.NoError(t, err)
	require.Nil(t, user.AvatarRef)
}

func TestUpdateProfileUnknownUser(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	_, err := e.auth.UpdateProfile(ctx, "ghost", ProfileInput{DisplayName: "X"})
	require.ErrorIs(t, err, ErrUserNotFound)
}
