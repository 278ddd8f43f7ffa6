package docstore

import "context"

// Stream is a change-stream subscription. C carries full result-set
// snapshots: one immediately on subscribe, then one after every commit that
// touches the watched collection. A slow consumer sees snapshots coalesced
// to the latest state, never an older one after a newer one. C is closed
// when the context is cancelled or the store closes.
type Stream struct {
	C <-chan []Snapshot
}

type watcher struct {
	coll    string
	docID   string // single-document watch when non-empty
	filters []filter
	ch      chan []Snapshot
}

// Watch subscribes to the query's result set.
func (q *Query) Watch(ctx context.Context) *Stream {
	return q.c.s.watch(ctx, &watcher{
		coll:    q.c.name,
		filters: q.filters,
		ch:      make(chan []Snapshot, 1),
	})
}

// WatchAll subscribes to the whole collection.
func (c *Collection) WatchAll(ctx context.Context) *Stream {
	return c.s.watch(ctx, &watcher{
		coll: c.name,
		ch:   make(chan []Snapshot, 1),
	})
}

// WatchDoc subscribes to a single document. Snapshots carry zero elements
// while the document is absent and one while it exists.
func (c *Collection) WatchDoc(ctx context.Context, id string) *Stream {
	return c.s.watch(ctx, &watcher{
		coll:  c.name,
		docID: id,
		ch:    make(chan []Snapshot, 1),
	})
}

func (s *Store) watch(ctx context.Context, w *watcher) *Stream {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(w.ch)
		return &Stream{C: w.ch}
	}
	initial := s.resultsLocked(w.coll, w.filters, w.docID)

	// Register before releasing the data lock (taking wmu inside it, the
	// same order commit uses). A commit can then never fall between the
	// initial snapshot and registration and go undelivered.
	s.wmu.Lock()
	id := s.nextWID
	s.nextWID++
	s.watchers[id] = w
	w.ch <- initial
	s.wmu.Unlock()
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.removeWatcher(id)
	}()

	return &Stream{C: w.ch}
}

func (s *Store) removeWatcher(id int) {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	if w, ok := s.watchers[id]; ok {
		delete(s.watchers, id)
		close(w.ch)
	}
}

type delivery struct {
	wid   int
	snaps []Snapshot
}

// collectNotifications computes fresh snapshots for every watcher of a
// touched collection. Callers hold s.mu, so each snapshot reflects exactly
// the state the commit produced.
func (s *Store) collectNotifications(touched map[string]bool) []delivery {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	var pending []delivery
	for id, w := range s.watchers {
		if !touched[w.coll] {
			continue
		}
		pending = append(pending, delivery{wid: id, snaps: s.resultsLocked(w.coll, w.filters, w.docID)})
	}
	return pending
}

// deliver sends pending snapshots, replacing an unconsumed older snapshot
// rather than blocking on a slow consumer.
func (s *Store) deliver(pending []delivery) {
	if len(pending) == 0 {
		return
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()

	for _, d := range pending {
		w, ok := s.watchers[d.wid]
		if !ok {
			continue
		}
		select {
		case w.ch <- d.snaps:
		default:
			select {
			case <-w.ch:
			default:
			}
			select {
			case w.ch <- d.snaps:
			default:
			}
		}
	}
}
