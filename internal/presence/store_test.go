package presence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTrackThenDrop(t *testing.T) {
	s := NewStore(nil)
	sess := s.Session()

	Track(s, sess, "alice")

	rec, ok := s.Get("alice")
	require.True(t, ok)
	require.Equal(t, Online, rec.State)

	sess.Drop()

	rec, ok = s.Get("alice")
	require.True(t, ok)
	require.Equal(t, Offline, rec.State, "pending write fires on drop")
}

func TestDropIsIdempotent(t *testing.T) {
	s := NewStore(nil)
	sess := s.Session()
	Track(s, sess, "alice")

	sess.Drop()
	sess.Drop()

	rec, _ := s.Get("alice")
	require.Equal(t, Offline, rec.State)
}

func TestWritesAfterDropIgnored(t *testing.T) {
	s := NewStore(nil)
	sess := s.Session()
	Track(s, sess, "alice")
	sess.Drop()

	sess.Set(Record{UserID: "alice", State: Online, LastChanged: time.Now()})

	rec, _ := s.Get("alice")
	require.Equal(t, Offline, rec.State)
}

func TestLastSessionWins(t *testing.T) {
	s := NewStore(nil)

	first := s.Session()
	Track(s, first, "alice")

	// Reconnect before the first session's drop lands.
	second := s.Session()
	Track(s, second, "alice")

	first.Drop()

	rec, _ := s.Get("alice")
	require.Equal(t, Online, rec.State, "stale disconnect must not mark a reconnected user offline")

	second.Drop()
	rec, _ = s.Get("alice")
	require.Equal(t, Offline, rec.State)
}

func TestWatchDeliversSnapshots(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewStore(nil)

	ch := s.Watch(ctx)
	snap := <-ch
	require.Empty(t, snap)

	sess := s.Session()
	Track(s, sess, "alice")

	snap = waitForState(t, ch, "alice", Online)
	require.Equal(t, Online, snap["alice"].State)

	sess.Drop()
	snap = waitForState(t, ch, "alice", Offline)
	require.Equal(t, Offline, snap["alice"].State)
}

func TestWatchClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewStore(nil)

	ch := s.Watch(ctx)
	<-ch
	cancel()

	_, ok := <-ch
	require.False(t, ok)
}

func waitForState(t *testing.T, ch <-chan map[string]Record, userID string, want State) map[string]Record {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap := <-ch:
			if rec, ok := snap[userID]; ok && rec.State == want {
				return snap
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s to be %s", userID, want)
		}
	}
}
