package docstore

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Collection is a handle on one named collection.
type Collection struct {
	s    *Store
	name string
}

// Snapshot is a point-in-time copy of one document.
type Snapshot struct {
	ID   string
	Data Doc
}

// Get returns a copy of the document, or ErrNotFound.
func (c *Collection) Get(ctx context.Context, id string) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	doc, ok := c.s.data[c.name][id]
	if !ok {
		return Snapshot{}, fmt.Errorf("%s/%s: %w", c.name, id, ErrNotFound)
	}
	return Snapshot{ID: id, Data: deepCopyDoc(doc)}, nil
}

// Set writes the full document, creating or replacing it.
func (c *Collection) Set(ctx context.Context, id string, doc Doc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.s.commit([]op{{kind: opSet, coll: c.name, id: id, doc: doc}})
}

// Create writes the document only if the id is free; ErrExists otherwise.
func (c *Collection) Create(ctx context.Context, id string, doc Doc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.s.commit([]op{{kind: opCreate, coll: c.name, id: id, doc: doc}})
}

// CreateIfAbsent is an idempotent upsert keyed by id: concurrent callers all
// converge on one document, and the loser reads back the winner's copy. The
// create itself is atomic on the primary key, so there is no
// query-then-insert window.
func (c *Collection) CreateIfAbsent(ctx context.Context, id string, doc Doc) (Snapshot, bool, error) {
	for {
		err := c.Create(ctx, id, doc)
		if err == nil {
			snap, err := c.Get(ctx, id)
			return snap, true, err
		}
		if !errors.Is(err, ErrExists) {
			return Snapshot{}, false, err
		}

		snap, err := c.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// Lost a race with a concurrent delete; try creating again.
			continue
		}
		return snap, false, err
	}
}

// Update applies field deltas to an existing document; ErrNotFound if absent.
func (c *Collection) Update(ctx context.Context, id string, updates ...Update) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.s.commit([]op{{kind: opUpdate, coll: c.name, id: id, updates: updates}})
}

// Delete removes the document. Deleting an absent document is a no-op.
func (c *Collection) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.s.commit([]op{{kind: opDelete, coll: c.name, id: id}})
}

// Where starts a filtered query. Supported operators: "==" and
// "array-contains".
func (c *Collection) Where(field, operator string, value any) *Query {
	return &Query{c: c, filters: []filter{{field: field, op: operator, value: value}}}
}

// All returns every document in the collection, ordered by id.
func (c *Collection) All(ctx context.Context) ([]Snapshot, error) {
	return (&Query{c: c}).Documents(ctx)
}

type filter struct {
	field string
	op    string
	value any
}

// Query is a filtered view over one collection. Result ordering is by
// document id; consumers sort on their own keys (server timestamps are
// plain field values and work as sort keys).
type Query struct {
	c       *Collection
	filters []filter
}

// Where adds another filter; all filters must match.
func (q *Query) Where(field, operator string, value any) *Query {
	return &Query{
		c:       q.c,
		filters: append(append([]filter(nil), q.filters...), filter{field: field, op: operator, value: value}),
	}
}

// Documents runs the query against the current state.
func (q *Query) Documents(ctx context.Context) ([]Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q.c.s.mu.Lock()
	defer q.c.s.mu.Unlock()

	return q.c.s.resultsLocked(q.c.name, q.filters, ""), nil
}

// resultsLocked filters and copies matching documents. Callers hold s.mu.
func (s *Store) resultsLocked(coll string, filters []filter, docID string) []Snapshot {
	if docID != "" {
		doc, ok := s.data[coll][docID]
		if !ok {
			return []Snapshot{}
		}
		return []Snapshot{{ID: docID, Data: deepCopyDoc(doc)}}
	}

	var out []Snapshot
	for id, doc := range s.data[coll] {
		if matchesAll(doc, filters) {
			out = append(out, Snapshot{ID: id, Data: deepCopyDoc(doc)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if out == nil {
		out = []Snapshot{}
	}
	return out
}

func matchesAll(doc Doc, filters []filter) bool {
	for _, f := range filters {
		if !matches(doc, f) {
			return false
		}
	}
	return true
}

func matches(doc Doc, f filter) bool {
	val := lookupPath(doc, f.field)
	switch f.op {
	case "==":
		return reflect.DeepEqual(val, f.value)
	case "array-contains":
		return sliceContains(asSlice(val), f.value)
	default:
		return false
	}
}

func lookupPath(doc Doc, path string) any {
	segs := strings.Split(path, ".")
	var cur any = map[string]any(doc)
	for _, seg := range segs {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[seg]
	}
	return cur
}
