// Package remote provides access to the remote multi-client document store:
// the DocStore/Collection contracts, typed per-collection adapters scoped to a
// store namespace, an in-memory implementation for tests and offline use, and
// a websocket client for the hosted backend.
package remote

import "context"

// Document is one remote document. Every document carries an "id" field plus
// arbitrary application fields; the store stamps "updatedAt" (or "createdAt"
// for appends) with a server-assigned time on every write.
type Document map[string]any

// ID returns the document id, or "" if unset.
func (d Document) ID() string {
	id, _ := d["id"].(string)
	return id
}

// Clone returns a shallow copy of the document.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Snapshot is the complete current state of a collection, delivered on every
// change. Listeners never receive deltas; mirroring logic must be safe to
// re-run with a full-state overwrite each time.
type Snapshot struct {
	Collection string
	Docs       []Document
}

// Unsubscribe detaches a real-time listener. Calling it more than once is a
// no-op.
type Unsubscribe func()

// Collection is the read/write surface of one logical remote collection.
type Collection interface {
	// Upsert idempotently writes a document by id, merging with existing
	// remote fields rather than replacing them, and stamps a server-assigned
	// update time.
	Upsert(ctx context.Context, doc Document) error

	// UpsertBatch applies every document in one atomic merge-upsert. A
	// partial failure fails the whole batch; callers retry the whole list.
	UpsertBatch(ctx context.Context, docs []Document) error

	// DeleteByID removes a document. Deleting an absent id is success.
	DeleteByID(ctx context.Context, id string) error

	// Append creates a new document with a server-assigned creation time and
	// a never-reused id, returning the assigned id.
	Append(ctx context.Context, doc Document) (string, error)

	// Get reads one document by id.
	Get(ctx context.Context, id string) (Document, bool, error)

	// Subscribe registers a real-time listener that receives the full
	// current collection state on every change, starting with the state at
	// subscription time.
	Subscribe(ctx context.Context, fn func(Snapshot)) (Unsubscribe, error)
}

// DocStore is the opaque remote backend: a set of named collections.
type DocStore interface {
	Collection(name string) Collection
	Close() error
}

// Collection names used by the sync engine.
const (
	ColItems    = "items"
	ColRuntime  = "runtime"
	ColSettings = "settings"
	ColShifts   = "shifts"
	ColUsers    = "users"
)
