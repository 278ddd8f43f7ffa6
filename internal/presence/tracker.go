package presence

import "time"

// Track wires a user's connection into the store: first the offline pending
// write is registered against the session, then the online record is set.
// The order matters: once Track returns, a dropped connection always ends
// in the offline state, with no further client action required.
func Track(store *Store, sess *Session, userID string) {
	now := time.Now().UTC()
	sess.OnDisconnect(Record{UserID: userID, State: Offline, LastChanged: now})
	sess.Set(Record{UserID: userID, State: Online, LastChanged: now})
}
