package remote

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jlucero/espejo/internal/schema"
)

// Adapters wraps one typed adapter per logical collection, all scoped to a
// single store namespace. Every document written through an adapter carries
// the storeId, and snapshot decoding filters out documents of other stores.
type Adapters struct {
	Items    *ItemsAdapter
	Runtime  *RuntimeAdapter
	Settings *SettingsAdapter
	Shifts   *ShiftsAdapter
	Users    *UsersAdapter
}

// NewAdapters builds the adapter set for a store namespace.
func NewAdapters(docs DocStore, storeID string) *Adapters {
	return &Adapters{
		Items:    &ItemsAdapter{col: docs.Collection(ColItems), storeID: storeID},
		Runtime:  &RuntimeAdapter{col: docs.Collection(ColRuntime), storeID: storeID},
		Settings: &SettingsAdapter{col: docs.Collection(ColSettings), storeID: storeID},
		Shifts:   &ShiftsAdapter{col: docs.Collection(ColShifts), storeID: storeID},
		Users:    &UsersAdapter{col: docs.Collection(ColUsers)},
	}
}

// ItemsAdapter reads and writes the items collection: one document per item.
type ItemsAdapter struct {
	col     Collection
	storeID string
}

func (a *ItemsAdapter) doc(it schema.Item) Document {
	return Document{
		"id":        it.ID,
		"text":      it.Text,
		"category":  it.Category,
		"done":      it.Done,
		"timestamp": it.Timestamp,
		"storeId":   a.storeID,
	}
}

// Put merge-upserts a single item document.
func (a *ItemsAdapter) Put(ctx context.Context, it schema.Item) error {
	if err := it.Validate(); err != nil {
		return fmt.Errorf("invalid item: %w", err)
	}
	return a.col.Upsert(ctx, a.doc(it))
}

// PutAll merge-upserts every item in one atomic batch.
func (a *ItemsAdapter) PutAll(ctx context.Context, items []schema.Item) error {
	docs := make([]Document, 0, len(items))
	for _, it := range items {
		if err := it.Validate(); err != nil {
			return fmt.Errorf("invalid item: %w", err)
		}
		docs = append(docs, a.doc(it))
	}
	return a.col.UpsertBatch(ctx, docs)
}

// Delete removes one item document. Absent ids are success.
func (a *ItemsAdapter) Delete(ctx context.Context, id string) error {
	return a.col.DeleteByID(ctx, id)
}

// Watch subscribes to the items collection. Each snapshot is decoded into the
// complete item list for this store, ordered by category for deterministic
// grouping.
func (a *ItemsAdapter) Watch(ctx context.Context, fn func([]schema.Item)) (Unsubscribe, error) {
	return a.col.Subscribe(ctx, func(snap Snapshot) {
		items := make([]schema.Item, 0, len(snap.Docs))
		for _, doc := range snap.Docs {
			if str(doc["storeId"]) != a.storeID {
				continue
			}
			items = append(items, schema.Item{
				ID:        doc.ID(),
				Text:      str(doc["text"]),
				Category:  str(doc["category"]),
				Done:      boolean(doc["done"]),
				Timestamp: integer(doc["timestamp"]),
			})
		}
		sort.SliceStable(items, func(i, j int) bool {
			if items[i].Category != items[j].Category {
				return items[i].Category < items[j].Category
			}
			if items[i].Timestamp != items[j].Timestamp {
				return items[i].Timestamp < items[j].Timestamp
			}
			return items[i].ID < items[j].ID
		})
		fn(items)
	})
}

// RuntimeAdapter reads and writes the runtime/state singleton document.
type RuntimeAdapter struct {
	col     Collection
	storeID string
}

// runtime state lives in a single well-known document per store
func (a *RuntimeAdapter) docID() string { return "state-" + a.storeID }

// PutLang merge-upserts the language into the runtime document.
func (a *RuntimeAdapter) PutLang(ctx context.Context, lang string) error {
	return a.col.Upsert(ctx, Document{
		"id":      a.docID(),
		"lang":    lang,
		"storeId": a.storeID,
	})
}

// Watch subscribes to the runtime collection and decodes this store's
// singleton, defaulting the language when the document is absent.
func (a *RuntimeAdapter) Watch(ctx context.Context, fn func(schema.RuntimeState)) (Unsubscribe, error) {
	return a.col.Subscribe(ctx, func(snap Snapshot) {
		var state schema.RuntimeState
		for _, doc := range snap.Docs {
			if doc.ID() == a.docID() {
				state.Lang = str(doc["lang"])
				break
			}
		}
		state.SetDefaults()
		fn(state)
	})
}

// SettingsAdapter reads and writes the settings/pies singleton document.
type SettingsAdapter struct {
	col     Collection
	storeID string
}

func (a *SettingsAdapter) docID() string { return "pies-" + a.storeID }

// PutNames merge-upserts the pie name mapping, leaving status untouched.
func (a *SettingsAdapter) PutNames(ctx context.Context, names map[string]string) error {
	return a.col.Upsert(ctx, Document{
		"id":      a.docID(),
		"names":   names,
		"storeId": a.storeID,
	})
}

// PutStatus merge-upserts the pie status mapping, leaving names untouched.
func (a *SettingsAdapter) PutStatus(ctx context.Context, status map[string]string) error {
	return a.col.Upsert(ctx, Document{
		"id":      a.docID(),
		"status":  status,
		"storeId": a.storeID,
	})
}

// Watch subscribes to the settings collection and decodes this store's
// singleton with empty-map defaults when absent.
func (a *SettingsAdapter) Watch(ctx context.Context, fn func(schema.PieSettings)) (Unsubscribe, error) {
	return a.col.Subscribe(ctx, func(snap Snapshot) {
		var settings schema.PieSettings
		for _, doc := range snap.Docs {
			if doc.ID() == a.docID() {
				settings.Names = stringMap(doc["names"])
				settings.Status = stringMap(doc["status"])
				break
			}
		}
		settings.SetDefaults()
		fn(settings)
	})
}

// ShiftsAdapter appends to the remote shift log.
type ShiftsAdapter struct {
	col     Collection
	storeID string
}

// Append creates one shift document. The store assigns the id and creation
// time; ids are never reused.
func (a *ShiftsAdapter) Append(ctx context.Context, rec schema.ShiftRecord) (string, error) {
	doc := Document{
		"who":     rec.Who,
		"note":    rec.Note,
		"total":   rec.Total,
		"storeId": a.storeID,
	}
	if !rec.CreatedAt.IsZero() {
		doc["recordedAt"] = rec.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	return a.col.Append(ctx, doc)
}

// UsersAdapter reads the per-identity profile documents. Read-only from the
// sync engine's perspective.
type UsersAdapter struct {
	col Collection
}

// Role returns the explicit role of a user profile document, if one exists.
func (a *UsersAdapter) Role(ctx context.Context, uid string) (string, bool, error) {
	doc, ok, err := a.col.Get(ctx, uid)
	if err != nil || !ok {
		return "", false, err
	}
	role := str(doc["role"])
	return role, role != "", nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func boolean(v any) bool {
	b, _ := v.(bool)
	return b
}

// integer tolerates the numeric types JSON decoding and in-memory documents
// produce for the same field.
func integer(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func stringMap(v any) map[string]string {
	switch m := v.(type) {
	case map[string]string:
		out := make(map[string]string, len(m))
		for k, val := range m {
			out[k] = val
		}
		return out
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, val := range m {
			out[k] = str(val)
		}
		return out
	default:
		return nil
	}
}
