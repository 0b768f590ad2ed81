package engine

import (
	"context"
	"fmt"

	"github.com/jlucero/espejo/internal/localstore"
	"github.com/jlucero/espejo/internal/schema"
)

// ensureIDs assigns a derived slug id to every item that lacks one. Returns
// whether any assignment happened. Assignment must happen before the item can
// be matched across writes, so callers persist the result back into the local
// copy rather than regenerating ids on the next write.
func ensureIDs(items []schema.Item, suffix schema.SuffixFunc) bool {
	changed := false
	for i := range items {
		if items[i].ID == "" {
			items[i].ID = schema.SlugID(items[i].Text, suffix)
			changed = true
		}
	}
	return changed
}

// pushItems translates a full-list replacement into one atomic batch of
// merged remote upserts.
//
// Merging (not replacing) each document keeps fields other collaborators set
// since the last full read; a single atomic batch avoids one round-trip per
// item. A partial failure fails the whole batch, so callers retry the whole
// list, never individual items.
func (e *Engine) pushItems(ctx context.Context, raw []byte) error {
	items, err := schema.DecodeItems(raw)
	if err != nil {
		return err
	}

	if ensureIDs(items, e.suffix) {
		// Persist assigned ids into the local copy so the next list write
		// carries them. The write-back is mirror-origin: it must not loop
		// back into another outbound batch for the same data.
		encoded, err := schema.EncodeItems(items)
		if err != nil {
			return fmt.Errorf("failed to encode items with assigned ids: %w", err)
		}
		if err := e.store.PutContext(ctx, schema.KeyItems, encoded, localstore.OriginMirror); err != nil {
			return fmt.Errorf("failed to persist assigned ids: %w", err)
		}
	}

	if len(items) == 0 {
		return nil
	}
	return e.adapters.Items.PutAll(ctx, items)
}
