// Package docstore is an embedded document store: named collections of
// schemaless documents with field-delta updates, equality and array-contains
// queries, change-stream watches and atomic multi-document batches.
// Documents are held in memory and persisted to BadgerDB on every commit.
package docstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

var (
	ErrNotFound = errors.New("document not found")
	ErrExists   = errors.New("document already exists")
	ErrConflict = errors.New("write conflict")
	ErrClosed   = errors.New("store is closed")
)

// Doc is a single document. Values are JSON-compatible: strings, numbers,
// bools, []any and nested map[string]any. Numbers read back after a restart
// decode as float64; use the As* helpers when consuming.
type Doc = map[string]any

// Store owns all collections. Commits are serialized under one mutex, which
// makes every per-document write sequence linearizable and lets a batch
// become visible at a single point.
type Store struct {
	db  *badger.DB
	log *slog.Logger

	mu     sync.Mutex
	data   map[string]map[string]Doc // collection → id → document
	lastTS time.Time
	closed bool

	wmu      sync.Mutex
	watchers map[int]*watcher
	nextWID  int
}

// Open loads every persisted document into memory. The directory is created
// if missing.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := badger.Open(badger.DefaultOptions(dir).
		WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, fmt.Errorf("opening badger at %s: %w", dir, err)
	}

	s := &Store{
		db:       db,
		log:      logger,
		data:     make(map[string]map[string]Doc),
		watchers: make(map[int]*watcher),
	}

	if err := s.load(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) load() error {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			coll, id, ok := splitKey(string(item.Key()))
			if !ok {
				continue
			}
			err := item.Value(func(v []byte) error {
				var doc Doc
				if err := json.Unmarshal(v, &doc); err != nil {
					return fmt.Errorf("decoding %s/%s: %w", coll, id, err)
				}
				if s.data[coll] == nil {
					s.data[coll] = make(map[string]Doc)
				}
				s.data[coll][id] = doc
				if ts := maxDocTime(doc); ts.After(s.lastTS) {
					s.lastTS = ts
				}
				n++
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Info("docstore loaded", "documents", n)
	return nil
}

// Close stops all watches and closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.wmu.Lock()
	for id, w := range s.watchers {
		delete(s.watchers, id)
		close(w.ch)
	}
	s.wmu.Unlock()

	return s.db.Close()
}

// Collection returns a handle on a named collection. Collections spring into
// existence on first write.
func (s *Store) Collection(name string) *Collection {
	return &Collection{s: s, name: name}
}

func docKey(coll, id string) []byte {
	return []byte(coll + "/" + id)
}

func splitKey(key string) (coll, id string, ok bool) {
	i := strings.IndexByte(key, '/')
	if i < 0 {
		return "", "", false
	}
	return key[:i], key[i+1:], true
}

// maxDocTime finds the latest timestamp-shaped value anywhere in the
// document. load seeds lastTS with it, so commits after a restart never
// sort before persisted ones even if the wall clock stepped back.
func maxDocTime(v any) time.Time {
	var max time.Time
	switch x := v.(type) {
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, x); err == nil {
			max = ts
		}
	case time.Time:
		max = x
	case map[string]any:
		for _, e := range x {
			if ts := maxDocTime(e); ts.After(max) {
				max = ts
			}
		}
	case []any:
		for _, e := range x {
			if ts := maxDocTime(e); ts.After(max) {
				max = ts
			}
		}
	}
	return max
}

// nextTimestamp returns a server-assigned timestamp strictly greater than
// the one handed to the previous commit. Callers must hold s.mu.
func (s *Store) nextTimestamp() time.Time {
	now := time.Now().UTC()
	if !now.After(s.lastTS) {
		now = s.lastTS.Add(time.Nanosecond)
	}
	s.lastTS = now
	return now
}

// commit validates, persists and applies a set of staged operations as one
// atomic unit, then notifies watchers of the touched collections.
func (s *Store) commit(ops []op) error {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}

	ts := s.nextTimestamp()

	// Stage every op before touching s.data so a failing op leaves no
	// partial state.
	staged := make(map[string]*stagedDoc)
	current := func(coll, id string) (Doc, bool) {
		if sd, ok := staged[coll+"/"+id]; ok {
			if sd.deleted {
				return nil, false
			}
			return sd.doc, true
		}
		doc, ok := s.data[coll][id]
		return doc, ok
	}

	for _, o := range ops {
		key := o.coll + "/" + o.id
		switch o.kind {
		case opSet:
			staged[key] = &stagedDoc{coll: o.coll, id: o.id, doc: resolveDoc(o.doc, ts)}
		case opCreate:
			if _, ok := current(o.coll, o.id); ok {
				s.mu.Unlock()
				return fmt.Errorf("%s/%s: %w", o.coll, o.id, ErrExists)
			}
			staged[key] = &stagedDoc{coll: o.coll, id: o.id, doc: resolveDoc(o.doc, ts)}
		case opUpdate:
			cur, ok := current(o.coll, o.id)
			if !ok {
				s.mu.Unlock()
				return fmt.Errorf("%s/%s: %w", o.coll, o.id, ErrNotFound)
			}
			next := deepCopyDoc(cur)
			for _, u := range o.updates {
				applyUpdate(next, u.Path, u.Value, ts)
			}
			staged[key] = &stagedDoc{coll: o.coll, id: o.id, doc: next}
		case opDelete:
			// Deleting an absent document is a no-op, not an error.
			staged[key] = &stagedDoc{coll: o.coll, id: o.id, deleted: true}
		case opDeleteWhere:
			// The match set is computed here, under the commit lock, so a
			// document written after the batch was staged is still swept.
			ids := make(map[string]bool)
			for id := range s.data[o.coll] {
				ids[id] = true
			}
			for _, sd := range staged {
				if sd.coll == o.coll {
					ids[sd.id] = true
				}
			}
			for id := range ids {
				if doc, ok := current(o.coll, id); ok && matchesAll(doc, o.filters) {
					staged[o.coll+"/"+id] = &stagedDoc{coll: o.coll, id: id, deleted: true}
				}
			}
		}
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		for _, sd := range staged {
			if sd.deleted {
				if err := txn.Delete(docKey(sd.coll, sd.id)); err != nil {
					return err
				}
				continue
			}
			raw, err := json.Marshal(sd.doc)
			if err != nil {
				return err
			}
			if err := txn.Set(docKey(sd.coll, sd.id), raw); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.mu.Unlock()
		if errors.Is(err, badger.ErrConflict) {
			return fmt.Errorf("persisting commit: %w", ErrConflict)
		}
		return fmt.Errorf("persisting commit: %w", err)
	}

	touched := make(map[string]bool)
	for _, sd := range staged {
		if s.data[sd.coll] == nil {
			s.data[sd.coll] = make(map[string]Doc)
		}
		if sd.deleted {
			delete(s.data[sd.coll], sd.id)
		} else {
			s.data[sd.coll][sd.id] = sd.doc
		}
		touched[sd.coll] = true
	}

	// Snapshot for affected watchers while still holding the data lock so
	// every watcher observes this commit's state (or a later one), never an
	// intermediate mix.
	pending := s.collectNotifications(touched)
	s.mu.Unlock()

	s.deliver(pending)
	return nil
}

type stagedDoc struct {
	coll, id string
	doc      Doc
	deleted  bool
}

type opKind int

const (
	opSet opKind = iota
	opCreate
	opUpdate
	opDelete
	opDeleteWhere
)

type op struct {
	kind    opKind
	coll    string
	id      string
	doc     Doc
	updates []Update
	filters []filter
}
