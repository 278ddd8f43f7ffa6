// Package presence is the ephemeral online/offline store. It is deliberately
// decoupled from the durable document store: records live in memory only,
// tolerate best-effort consistency, and are broadcast to subscribers as a
// whole map (consumers filter by the user ids they care about).
package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type State string

const (
	Online  State = "online"
	Offline State = "offline"
)

// Record is one user's presence flag. Written only by that user's own live
// session, never by other clients.
type Record struct {
	UserID      string    `json:"user_id"`
	State       State     `json:"state"`
	LastChanged time.Time `json:"last_changed"`
}

// Store holds presence records and session handles. A Session carries
// pending writes that the store applies automatically when the session
// drops, so offline state is reached even if the client crashes or loses
// network without a graceful shutdown.
type Store struct {
	log *slog.Logger

	mu      sync.Mutex
	records map[string]Record
	// owners tracks which session last wrote each user's record. A pending
	// write from a superseded session is discarded: the last session to
	// connect wins the online flag.
	owners  map[string]*Session
	subs    map[int]chan map[string]Record
	nextSub int
}

func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		log:     logger,
		records: make(map[string]Record),
		owners:  make(map[string]*Session),
		subs:    make(map[int]chan map[string]Record),
	}
}

// Session opens a connection-scoped handle. The caller must invoke Drop when
// the connection ends, gracefully or not.
func (s *Store) Session() *Session {
	return &Session{store: s, pending: make(map[string]Record)}
}

// Get returns the user's record, if any was ever written.
func (s *Store) Get(userID string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[userID]
	return rec, ok
}

// Watch subscribes to the full presence map. The channel carries one
// snapshot immediately, then one after every change, coalesced to the latest
// under a slow consumer. It is closed when ctx is cancelled.
func (s *Store) Watch(ctx context.Context) <-chan map[string]Record {
	ch := make(chan map[string]Record, 1)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	ch <- s.snapshotLocked()
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
		s.mu.Unlock()
	}()

	return ch
}

func (s *Store) snapshotLocked() map[string]Record {
	out := make(map[string]Record, len(s.records))
	for k, v := range s.records {
		out[k] = v
	}
	return out
}

// write applies a record on behalf of a session and broadcasts the new map.
func (s *Store) write(sess *Session, rec Record) {
	s.mu.Lock()
	s.records[rec.UserID] = rec
	s.owners[rec.UserID] = sess
	s.broadcastLocked()
	s.mu.Unlock()
}

// writeIfOwner applies a pending disconnect write unless a newer session has
// taken over the user's record in the meantime.
func (s *Store) writeIfOwner(sess *Session, rec Record) {
	s.mu.Lock()
	if owner, ok := s.owners[rec.UserID]; ok && owner != sess {
		s.mu.Unlock()
		return
	}
	s.records[rec.UserID] = rec
	s.broadcastLocked()
	s.mu.Unlock()
}

func (s *Store) broadcastLocked() {
	snap := s.snapshotLocked()
	for _, ch := range s.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

// Session is one live connection's handle on the store.
type Session struct {
	store *Store

	mu      sync.Mutex
	pending map[string]Record // keyed by user id; re-registering replaces
	dropped bool
}

// OnDisconnect registers a write to run automatically when this session
// drops. Registering again for the same user replaces the earlier pending
// write.
func (sess *Session) OnDisconnect(rec Record) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.dropped {
		return
	}
	sess.pending[rec.UserID] = rec
}

// Set writes a record immediately.
func (sess *Session) Set(rec Record) {
	sess.mu.Lock()
	dropped := sess.dropped
	sess.mu.Unlock()
	if dropped {
		return
	}
	sess.store.write(sess, rec)
}

// Drop fires the pending writes exactly once. Safe to call repeatedly.
func (sess *Session) Drop() {
	sess.mu.Lock()
	if sess.dropped {
		sess.mu.Unlock()
		return
	}
	sess.dropped = true
	pending := sess.pending
	sess.pending = nil
	sess.mu.Unlock()

	for _, rec := range pending {
		sess.store.writeIfOwner(sess, rec)
	}
}
