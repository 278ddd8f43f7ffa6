package docstore

import "context"

// Batch collects writes across documents and collections and commits them
// atomically: one lock hold, one storage transaction, one watcher
// notification. No other reader or watcher can observe a state between the
// batch's operations. Within a batch, later operations see the effects of
// earlier ones.
type Batch struct {
	s   *Store
	ops []op
}

// Batch starts an empty batch.
func (s *Store) Batch() *Batch {
	return &Batch{s: s}
}

// Set queues a full-document write.
func (b *Batch) Set(coll, id string, doc Doc) *Batch {
	b.ops = append(b.ops, op{kind: opSet, coll: coll, id: id, doc: doc})
	return b
}

// Create queues a create; Commit fails with ErrExists if the id is taken.
func (b *Batch) Create(coll, id string, doc Doc) *Batch {
	b.ops = append(b.ops, op{kind: opCreate, coll: coll, id: id, doc: doc})
	return b
}

// Update queues field deltas; Commit fails with ErrNotFound if the document
// is absent.
func (b *Batch) Update(coll, id string, updates ...Update) *Batch {
	b.ops = append(b.ops, op{kind: opUpdate, coll: coll, id: id, updates: updates})
	return b
}

// Delete queues a delete. Absent documents are skipped silently.
func (b *Batch) Delete(coll, id string) *Batch {
	b.ops = append(b.ops, op{kind: opDelete, coll: coll, id: id})
	return b
}

// DeleteMatching queues a delete of every document the query matches. The
// match set is evaluated at commit time, inside the commit's critical
// section, so documents written between staging and Commit cannot escape
// the sweep.
func (b *Batch) DeleteMatching(q *Query) *Batch {
	b.ops = append(b.ops, op{kind: opDeleteWhere, coll: q.c.name, filters: q.filters})
	return b
}

// Commit applies the whole batch or none of it.
func (b *Batch) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(b.ops) == 0 {
		return nil
	}
	return b.s.commit(b.ops)
}
