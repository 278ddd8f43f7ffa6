package service

import (
	"context"
	"sync"
	"time"
)

const defaultTypingExpiry = 2 * time.Second

// TypingSignal tracks who is actively typing in which conversation. Entries
// are ephemeral: each Start arms an expiry timer, so a client that vanishes
// mid-keystroke stops "typing" on its own within the expiry window. Nothing
// here touches the durable store.
type TypingSignal struct {
	expiry time.Duration

	mu     sync.Mutex
	typing map[string]map[string]*typingEntry // conversation id -> user id
	subs   map[int]*typingSub
	nextID int
	closed bool
}

type typingEntry struct {
	timer *time.Timer
	// deadline guards the expiry callback: Reset on a timer that has
	// already fired cannot cancel the in-flight callback, so a fire
	// observed before the deadline lost a race with Start and is ignored.
	deadline time.Time
}

type typingSub struct {
	conversationID string
	ch             chan []string
}

func NewTypingSignal(expiry time.Duration) *TypingSignal {
	if expiry <= 0 {
		expiry = defaultTypingExpiry
	}
	return &TypingSignal{
		expiry: expiry,
		typing: make(map[string]map[string]*typingEntry),
		subs:   make(map[int]*typingSub),
	}
}

// Start marks the user as typing in the conversation. Calling it again
// while already typing pushes the expiry forward.
func (t *TypingSignal) Start(conversationID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	users, ok := t.typing[conversationID]
	if !ok {
		users = make(map[string]*typingEntry)
		t.typing[conversationID] = users
	}
	if e, ok := users[userID]; ok {
		e.deadline = time.Now().Add(t.expiry)
		e.timer.Reset(t.expiry)
		return
	}
	e := &typingEntry{deadline: time.Now().Add(t.expiry)}
	e.timer = time.AfterFunc(t.expiry, func() {
		t.expire(conversationID, userID)
	})
	users[userID] = e
	t.notifyLocked(conversationID)
}

// Stop clears the user's typing state in the conversation. Stopping when
// not typing is a no-op.
func (t *TypingSignal) Stop(conversationID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeLocked(conversationID, userID)
}

// ClearUser drops the user's typing state everywhere. Called when their
// connection goes away.
func (t *TypingSignal) ClearUser(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for convID := range t.typing {
		t.removeLocked(convID, userID)
	}
}

// Typing returns the users currently typing in the conversation.
func (t *TypingSignal) Typing(conversationID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.typistsLocked(conversationID)
}

// Watch delivers the typing set for one conversation: a snapshot
// immediately, then one on every change. Slow receivers see a coalesced
// latest state rather than a backlog. The channel closes when ctx ends.
func (t *TypingSignal) Watch(ctx context.Context, conversationID string) <-chan []string {
	ch := make(chan []string, 1)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		close(ch)
		return ch
	}
	id := t.nextID
	t.nextID++
	t.subs[id] = &typingSub{conversationID: conversationID, ch: ch}
	ch <- t.typistsLocked(conversationID)
	t.mu.Unlock()

	go func() {
		<-ctx.Done()
		t.mu.Lock()
		if sub, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(sub.ch)
		}
		t.mu.Unlock()
	}()
	return ch
}

// Close expires every entry and closes every watch channel.
func (t *TypingSignal) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for _, users := range t.typing {
		for _, e := range users {
			e.timer.Stop()
		}
	}
	t.typing = make(map[string]map[string]*typingEntry)
	for id, sub := range t.subs {
		delete(t.subs, id)
		close(sub.ch)
	}
}

func (t *TypingSignal) expire(conversationID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.typing[conversationID][userID]
	if !ok || time.Now().Before(e.deadline) {
		return
	}
	t.removeLocked(conversationID, userID)
}

func (t *TypingSignal) removeLocked(conversationID, userID string) {
	users, ok := t.typing[conversationID]
	if !ok {
		return
	}
	e, ok := users[userID]
	if !ok {
		return
	}
	e.timer.Stop()
	delete(users, userID)
	if len(users) == 0 {
		delete(t.typing, conversationID)
	}
	t.notifyLocked(conversationID)
}

func (t *TypingSignal) typistsLocked(conversationID string) []string {
	users := t.typing[conversationID]
	out := make([]string, 0, len(users))
	for u := range users {
		out = append(out, u)
	}
	return out
}

func (t *TypingSignal) notifyLocked(conversationID string) {
	state := t.typistsLocked(conversationID)
	for _, sub := range t.subs {
		if sub.conversationID != conversationID {
			continue
		}
		select {
		case sub.ch <- state:
		default:
			select {
			case <-sub.ch:
			default:
			}
			sub.ch <- state
		}
	}
}
