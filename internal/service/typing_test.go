package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTypingStartStop(t *testing.T) {
	sig := NewTypingSignal(time.Minute)
	defer sig.Close()

	sig.Start("c1", "alice")
	require.ElementsMatch(t, []string{"alice"}, sig.Typing("c1"))

	sig.Start("c1", "bob")
	require.ElementsMatch(t, []string{"alice", "bob"}, sig.Typing("c1"))
	require.Empty(t, sig.Typing("c2"), "conversations are independent")

	sig.Stop("c1", "alice")
	require.ElementsMatch(t, []string{"bob"}, sig.Typing("c1"))

	sig.Stop("c1", "ghost")
	require.ElementsMatch(t, []string{"bob"}, sig.Typing("c1"))
}

func TestTypingExpires(t *testing.T) {
	sig := NewTypingSignal(30 * time.Millisecond)
	defer sig.Close()

	sig.Start("c1", "alice")
	require.ElementsMatch(t, []string{"alice"}, sig.Typing("c1"))

	require.Eventually(t, func() bool {
		return len(sig.Typing("c1")) == 0
	}, time.Second, 5*time.Millisecond, "a vanished client stops typing on its own")
}

func TestTypingEarlyExpiryIgnored(t *testing.T) {
	sig := NewTypingSignal(time.Hour)
	defer sig.Close()

	sig.Start("c1", "alice")

	// An expiry callback that lost a race with Start arrives before the
	// entry's deadline; it must not clear the fresh state.
	sig.expire("c1", "alice")
	require.ElementsMatch(t, []string{"alice"}, sig.Typing("c1"))
}

func TestTypingRestartExtends(t *testing.T) {
	sig := NewTypingSignal(60 * time.Millisecond)
	defer sig.Close()

	sig.Start("c1", "alice")
	time.Sleep(40 * time.Millisecond)
	sig.Start("c1", "alice")
	time.Sleep(40 * time.Millisecond)

	require.ElementsMatch(t, []string{"alice"}, sig.Typing("c1"), "restart pushes the expiry forward")
}

func TestTypingClearUser(t *testing.T) {
	sig := NewTypingSignal(time.Minute)
	defer sig.Close()

	sig.Start("c1", "alice")
	sig.Start("c2", "alice")
	sig.Start("c1", "bob")

	sig.ClearUser("alice")

	require.ElementsMatch(t, []string{"bob"}, sig.Typing("c1"))
	require.Empty(t, sig.Typing("c2"))
}

func TestTypingWatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := NewTypingSignal(time.Minute)
	defer sig.Close()

	ch := sig.Watch(ctx, "c1")
	require.Empty(t, <-ch)

	sig.Start("c1", "alice")
	require.ElementsMatch(t, []string{"alice"}, waitForTypists(t, ch, 1))

	sig.Stop("c1", "alice")
	require.Empty(t, waitForTypists(t, ch, 0))
}

func TestTypingWatchClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sig := NewTypingSignal(time.Minute)
	defer sig.Close()

	ch := sig.Watch(ctx, "c1")
	<-ch
	cancel()

	_, ok := <-ch
	require.False(t, ok)
}

func waitForTypists(t *testing.T, ch <-chan []string, n int) []string {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case typists := <-ch:
			if len(typists) == n {
				return typists
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %d typists", n)
		}
	}
}
