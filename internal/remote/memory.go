package remote

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// MemStore is an in-memory DocStore.
//
// It implements the same merge-upsert, atomic-batch, and full-snapshot
// semantics as the hosted backend and is used by tests and by offline runs.
// Snapshot delivery is synchronous with the triggering write, which makes
// test assertions deterministic.
type MemStore struct {
	mu   sync.Mutex
	cols map[string]*memCollection

	// Clock supplies server-assigned timestamps. Overridable in tests.
	Clock func() time.Time

	// NewID supplies ids for appended documents. Overridable in tests.
	NewID func() string
}

// NewMemStore creates an empty in-memory document store.
func NewMemStore() *MemStore {
	return &MemStore{
		cols:  make(map[string]*memCollection),
		Clock: time.Now,
		NewID: func() string { return ulid.Make().String() },
	}
}

// Collection returns the named collection, creating it on first use.
func (m *MemStore) Collection(name string) Collection {
	m.mu.Lock()
	defer m.mu.Unlock()
	col, ok := m.cols[name]
	if !ok {
		col = &memCollection{
			store: m,
			name:  name,
			docs:  make(map[string]Document),
			subs:  make(map[int]func(Snapshot)),
		}
		m.cols[name] = col
	}
	return col
}

// Close releases all collections and listeners.
func (m *MemStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cols = make(map[string]*memCollection)
	return nil
}

// WriteCount reports how many write operations (upserts, batches, deletes,
// appends) the named collection has received. Test observability.
func (m *MemStore) WriteCount(name string) int {
	m.mu.Lock()
	col, ok := m.cols[name]
	m.mu.Unlock()
	if !ok {
		return 0
	}
	col.mu.Lock()
	defer col.mu.Unlock()
	return col.writes
}

// Docs returns the current documents of the named collection, sorted by id.
// Test observability.
func (m *MemStore) Docs(name string) []Document {
	m.mu.Lock()
	col, ok := m.cols[name]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	col.mu.Lock()
	defer col.mu.Unlock()
	_, snap := col.snapshotLocked()
	return snap.Docs
}

// SubscriberCount reports how many live listeners the named collection has.
func (m *MemStore) SubscriberCount(name string) int {
	m.mu.Lock()
	col, ok := m.cols[name]
	m.mu.Unlock()
	if !ok {
		return 0
	}
	col.mu.Lock()
	defer col.mu.Unlock()
	return len(col.subs)
}

type memCollection struct {
	store *MemStore
	name  string

	mu     sync.Mutex
	docs   map[string]Document
	subs   map[int]func(Snapshot)
	nextID int
	writes int
}

// Upsert implements Collection.
func (c *memCollection) Upsert(ctx context.Context, doc Document) error {
	id := doc.ID()
	if id == "" {
		return fmt.Errorf("upsert requires a document id")
	}
	c.mu.Lock()
	c.writes++
	c.merge(id, doc)
	subs, snap := c.snapshotLocked()
	c.mu.Unlock()
	notify(subs, snap)
	return nil
}

// UpsertBatch implements Collection. Validation happens before any document
// is applied so a bad document fails the whole batch.
func (c *memCollection) UpsertBatch(ctx context.Context, docs []Document) error {
	for i, doc := range docs {
		if doc.ID() == "" {
			return fmt.Errorf("batch upsert: document %d has no id", i)
		}
	}
	c.mu.Lock()
	c.writes++
	for _, doc := range docs {
		c.merge(doc.ID(), doc)
	}
	subs, snap := c.snapshotLocked()
	c.mu.Unlock()
	notify(subs, snap)
	return nil
}

// DeleteByID implements Collection. Absent ids are success.
func (c *memCollection) DeleteByID(ctx context.Context, id string) error {
	c.mu.Lock()
	c.writes++
	_, existed := c.docs[id]
	delete(c.docs, id)
	subs, snap := c.snapshotLocked()
	c.mu.Unlock()
	if existed {
		notify(subs, snap)
	}
	return nil
}

// Append implements Collection. Ids are ULIDs and never reused.
func (c *memCollection) Append(ctx context.Context, doc Document) (string, error) {
	id := c.store.NewID()
	stamped := doc.Clone()
	stamped["id"] = id
	stamped["createdAt"] = c.store.Clock().UTC().Format(time.RFC3339Nano)

	c.mu.Lock()
	c.writes++
	c.docs[id] = stamped
	subs, snap := c.snapshotLocked()
	c.mu.Unlock()
	notify(subs, snap)
	return id, nil
}

// Get implements Collection.
func (c *memCollection) Get(ctx context.Context, id string) (Document, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	doc, ok := c.docs[id]
	if !ok {
		return nil, false, nil
	}
	return doc.Clone(), true, nil
}

// Subscribe implements Collection. The listener receives the current state
// immediately, then the full state on every subsequent change.
func (c *memCollection) Subscribe(ctx context.Context, fn func(Snapshot)) (Unsubscribe, error) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	_, snap := c.snapshotLocked()
	c.mu.Unlock()

	fn(snap)

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}, nil
}

// merge applies doc over the existing document, keeping unrelated fields, and
// stamps the server update time. Caller holds c.mu.
func (c *memCollection) merge(id string, doc Document) {
	existing, ok := c.docs[id]
	if !ok {
		existing = Document{}
	}
	for k, v := range doc {
		existing[k] = v
	}
	existing["id"] = id
	existing["updatedAt"] = c.store.Clock().UTC().Format(time.RFC3339Nano)
	c.docs[id] = existing
}

// snapshotLocked builds the full-state snapshot and the listener list.
// Caller holds c.mu.
func (c *memCollection) snapshotLocked() ([]func(Snapshot), Snapshot) {
	docs := make([]Document, 0, len(c.docs))
	for _, doc := range c.docs {
		docs = append(docs, doc.Clone())
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID() < docs[j].ID() })

	subs := make([]func(Snapshot), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	return subs, Snapshot{Collection: c.name, Docs: docs}
}

func notify(subs []func(Snapshot), snap Snapshot) {
	for _, fn := range subs {
		fn(snap)
	}
}
