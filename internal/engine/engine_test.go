package engine

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jlucero/espejo/internal/identity"
	"github.com/jlucero/espejo/internal/localstore"
	"github.com/jlucero/espejo/internal/remote"
	"github.com/jlucero/espejo/internal/schema"
)

const testStoreID = "19694"

// fakeAuth is an in-process auth provider. Sign-in transitions fire
// synchronously, which keeps the tests deterministic.
type fakeAuth struct {
	mu    sync.Mutex
	user  *identity.User
	token string
	fns   []func(*identity.User)
}

func (f *fakeAuth) SignIn(ctx context.Context, email, password string) (*identity.User, error) {
	user := &identity.User{UID: "u-test", Email: email}
	f.mu.Lock()
	f.user = user
	fns := append([]func(*identity.User){}, f.fns...)
	f.mu.Unlock()
	for _, fn := range fns {
		fn(user)
	}
	return user, nil
}

func (f *fakeAuth) SignOut(ctx context.Context) error {
	f.mu.Lock()
	f.user = nil
	fns := append([]func(*identity.User){}, f.fns...)
	f.mu.Unlock()
	for _, fn := range fns {
		fn(nil)
	}
	return nil
}

func (f *fakeAuth) Token(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token, nil
}

func (f *fakeAuth) OnStateChange(fn func(*identity.User)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fns = append(f.fns, fn)
}

// setupEngine builds a started engine over a temp slot store and an
// in-memory backend. Debounce is zero so dispatch is synchronous.
func setupEngine(t *testing.T) (*Engine, *remote.MemStore, *localstore.Store, *fakeAuth) {
	t.Helper()

	store, err := localstore.Open(filepath.Join(t.TempDir(), "slots.db"))
	if err != nil {
		t.Fatalf("failed to open local store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.InitSchema(); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}

	mem := remote.NewMemStore()
	auth := &fakeAuth{}
	logger := log.New(io.Discard, "", 0)
	gate := identity.NewGate(auth, remote.NewAdapters(mem, testStoreID).Users, logger)

	seq := 0
	eng, err := New(Config{
		Store:   store,
		Remote:  mem,
		Gate:    gate,
		StoreID: testStoreID,
		Suffix: func() string {
			seq++
			return fmt.Sprintf("%04d", seq)
		},
		Logger: logger,
	})
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("failed to start engine: %v", err)
	}
	t.Cleanup(eng.Stop)

	return eng, mem, store, auth
}

func signIn(t *testing.T, auth *fakeAuth) {
	t.Helper()
	if _, err := auth.SignIn(context.Background(), "crew@example.com", "secret"); err != nil {
		t.Fatalf("sign-in failed: %v", err)
	}
}

func putItems(t *testing.T, store *localstore.Store, items []schema.Item) {
	t.Helper()
	raw, err := schema.EncodeItems(items)
	if err != nil {
		t.Fatalf("failed to encode items: %v", err)
	}
	if err := store.Put(schema.KeyItems, raw, localstore.OriginUser); err != nil {
		t.Fatalf("failed to write items: %v", err)
	}
}

func localItems(t *testing.T, store *localstore.Store) []schema.Item {
	t.Helper()
	raw, ok, err := store.Get(schema.KeyItems)
	if err != nil {
		t.Fatalf("failed to read items: %v", err)
	}
	if !ok {
		return nil
	}
	items, err := schema.DecodeItems(raw)
	if err != nil {
		t.Fatalf("failed to decode items: %v", err)
	}
	return items
}

func TestAuthGate_NoWritesWhileSignedOut(t *testing.T) {
	_, mem, store, _ := setupEngine(t)

	putItems(t, store, []schema.Item{{ID: "x", Text: "Fries"}})

	if n := mem.WriteCount(remote.ColItems); n != 0 {
		t.Errorf("expected 0 remote writes while signed out, got %d", n)
	}
	// The local write itself must have succeeded regardless.
	if got := localItems(t, store); len(got) != 1 || got[0].ID != "x" {
		t.Errorf("local write lost: %+v", got)
	}
}

func TestRoundTrip(t *testing.T) {
	_, mem, store, auth := setupEngine(t)
	signIn(t, auth)

	putItems(t, store, []schema.Item{{ID: "x", Text: "Fries", Done: false}})

	docs := mem.Docs(remote.ColItems)
	if len(docs) != 1 {
		t.Fatalf("expected 1 remote document, got %d", len(docs))
	}
	doc := docs[0]
	if doc.ID() != "x" {
		t.Errorf("expected remote id %q, got %q", "x", doc.ID())
	}
	if doc["storeId"] != testStoreID {
		t.Errorf("expected storeId %q, got %v", testStoreID, doc["storeId"])
	}
	if doc["updatedAt"] == nil {
		t.Errorf("expected server-assigned updatedAt")
	}

	// The snapshot triggered by the upsert mirrors the full list back.
	got := localItems(t, store)
	if len(got) != 1 {
		t.Fatalf("expected 1 mirrored item, got %d", len(got))
	}
	if got[0].ID != "x" || got[0].Text != "Fries" || got[0].Done {
		t.Errorf("mirrored item mismatch: %+v", got[0])
	}
}

func TestUpsertItem_Idempotent(t *testing.T) {
	eng, mem, _, auth := setupEngine(t)
	signIn(t, auth)

	it := schema.Item{ID: "x", Text: "Fries", Done: true}
	for i := 0; i < 2; i++ {
		if err := eng.UpsertItem(context.Background(), it); err != nil {
			t.Fatalf("upsert %d failed: %v", i+1, err)
		}
	}

	docs := mem.Docs(remote.ColItems)
	if len(docs) != 1 {
		t.Fatalf("expected 1 document after repeated upsert, got %d", len(docs))
	}
	if docs[0]["text"] != "Fries" || docs[0]["done"] != true {
		t.Errorf("document fields mismatch: %+v", docs[0])
	}
}

func TestUpsert_MergesUnrelatedFields(t *testing.T) {
	eng, mem, _, auth := setupEngine(t)
	signIn(t, auth)

	// Another process set a field this client never sends.
	col := mem.Collection(remote.ColItems)
	if err := col.Upsert(context.Background(), remote.Document{
		"id": "x", "storeId": testStoreID, "station": "grill",
	}); err != nil {
		t.Fatalf("failed to seed remote document: %v", err)
	}

	if err := eng.UpsertItem(context.Background(), schema.Item{ID: "x", Text: "Fries", Done: true}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	doc, ok, err := col.Get(context.Background(), "x")
	if err != nil || !ok {
		t.Fatalf("failed to read document: ok=%v err=%v", ok, err)
	}
	if doc["station"] != "grill" {
		t.Errorf("merge clobbered unrelated field: %+v", doc)
	}
	if doc["text"] != "Fries" {
		t.Errorf("merge lost pushed field: %+v", doc)
	}
}

func TestIDAssignment_StableAcrossWrites(t *testing.T) {
	_, mem, store, auth := setupEngine(t)
	signIn(t, auth)

	putItems(t, store, []schema.Item{{Text: "Papas Fritas"}})

	first := localItems(t, store)
	if len(first) != 1 || first[0].ID == "" {
		t.Fatalf("expected assigned id persisted locally, got %+v", first)
	}
	if first[0].ID != "papas-fritas-0001" {
		t.Errorf("unexpected slug id: %s", first[0].ID)
	}

	// Write the persisted list back, the way the UI replays the whole list.
	putItems(t, store, first)

	docs := mem.Docs(remote.ColItems)
	if len(docs) != 1 {
		t.Fatalf("expected 1 remote document after rewrite, got %d", len(docs))
	}
	if docs[0].ID() != first[0].ID {
		t.Errorf("id changed across writes: %s vs %s", docs[0].ID(), first[0].ID)
	}
}

func TestSubscriptionSingleton(t *testing.T) {
	eng, mem, _, auth := setupEngine(t)
	signIn(t, auth)

	// A second start while already active must not attach more listeners.
	eng.startSubscriptions()
	signIn(t, auth)

	for _, col := range []string{remote.ColItems, remote.ColRuntime, remote.ColSettings} {
		if n := mem.SubscriberCount(col); n != 1 {
			t.Errorf("collection %s: expected 1 listener, got %d", col, n)
		}
	}
}

func TestSignOutDetachesSubscriptions(t *testing.T) {
	_, mem, store, auth := setupEngine(t)
	signIn(t, auth)

	if err := auth.SignOut(context.Background()); err != nil {
		t.Fatalf("sign-out failed: %v", err)
	}

	for _, col := range []string{remote.ColItems, remote.ColRuntime, remote.ColSettings} {
		if n := mem.SubscriberCount(col); n != 0 {
			t.Errorf("collection %s: expected 0 listeners after sign-out, got %d", col, n)
		}
	}

	// Writes while signed out stay local.
	putItems(t, store, []schema.Item{{ID: "x", Text: "Fries"}})
	if n := mem.WriteCount(remote.ColItems); n != 0 {
		t.Errorf("expected 0 remote writes after sign-out, got %d", n)
	}

	// A fresh session attaches fresh listeners.
	signIn(t, auth)
	if n := mem.SubscriberCount(remote.ColItems); n != 1 {
		t.Errorf("expected 1 listener after re-sign-in, got %d", n)
	}
}

func TestShiftHistory_AppendsOnlyTail(t *testing.T) {
	store, err := localstore.Open(filepath.Join(t.TempDir(), "slots.db"))
	if err != nil {
		t.Fatalf("failed to open local store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.InitSchema(); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}

	// History [A, B] predates the session and must never replay.
	history := []schema.ShiftRecord{{Who: "ana", Note: "A"}, {Who: "ben", Note: "B"}}
	raw, _ := schema.EncodeShifts(history)
	if err := store.Put(schema.KeyShifts, raw, localstore.OriginUser); err != nil {
		t.Fatalf("failed to seed history: %v", err)
	}

	mem := remote.NewMemStore()
	auth := &fakeAuth{}
	logger := log.New(io.Discard, "", 0)
	gate := identity.NewGate(auth, remote.NewAdapters(mem, testStoreID).Users, logger)
	eng, err := New(Config{Store: store, Remote: mem, Gate: gate, StoreID: testStoreID, Logger: logger})
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("failed to start engine: %v", err)
	}
	t.Cleanup(eng.Stop)
	signIn(t, auth)

	history = append(history, schema.ShiftRecord{Who: "carla", Note: "C"})
	raw, _ = schema.EncodeShifts(history)
	if err := store.Put(schema.KeyShifts, raw, localstore.OriginUser); err != nil {
		t.Fatalf("failed to write history: %v", err)
	}

	docs := mem.Docs(remote.ColShifts)
	if len(docs) != 1 {
		t.Fatalf("expected exactly 1 appended record, got %d", len(docs))
	}
	if docs[0]["note"] != "C" {
		t.Errorf("expected tail record C, got %+v", docs[0])
	}
	if docs[0]["createdAt"] == nil {
		t.Errorf("expected server-assigned createdAt")
	}

	// Rewriting the same history must not append again.
	if err := store.Put(schema.KeyShifts, raw, localstore.OriginUser); err != nil {
		t.Fatalf("failed to rewrite history: %v", err)
	}
	if n := len(mem.Docs(remote.ColShifts)); n != 1 {
		t.Errorf("replay detected: %d records", n)
	}
}

func TestLanguageToggle_Converges(t *testing.T) {
	eng, mem, store, auth := setupEngine(t)
	signIn(t, auth)

	// Sign-in mirrors the default runtime state without any outbound write.
	before := mem.WriteCount(remote.ColRuntime)
	if before != 0 {
		t.Fatalf("mirroring caused %d outbound runtime writes", before)
	}

	if err := eng.PushLanguage(context.Background(), "en"); err != nil {
		t.Fatalf("failed to push language: %v", err)
	}

	if n := mem.WriteCount(remote.ColRuntime); n != 1 {
		t.Errorf("expected exactly 1 runtime update, got %d", n)
	}
	docs := mem.Docs(remote.ColRuntime)
	if len(docs) != 1 || docs[0]["lang"] != "en" {
		t.Fatalf("unexpected runtime state: %+v", docs)
	}

	// The echoed snapshot mirrored "en" locally without a second outbound
	// write for the same value.
	raw, ok, err := store.Get(schema.KeyLang)
	if err != nil || !ok {
		t.Fatalf("failed to read mirrored language: ok=%v err=%v", ok, err)
	}
	lang, err := schema.DecodeLang(raw)
	if err != nil {
		t.Fatalf("failed to decode language: %v", err)
	}
	if lang != "en" {
		t.Errorf("expected mirrored language en, got %s", lang)
	}
	if n := mem.WriteCount(remote.ColRuntime); n != 1 {
		t.Errorf("echo bounced: %d runtime writes", n)
	}
}

func TestPieSettings_MirrorAndPush(t *testing.T) {
	_, mem, store, auth := setupEngine(t)
	signIn(t, auth)

	names := map[string]string{"1": "Manzana", "2": "Limon"}
	raw, _ := schema.EncodeStringMap(names)
	if err := store.Put(schema.KeyPieNames, raw, localstore.OriginUser); err != nil {
		t.Fatalf("failed to write pie names: %v", err)
	}

	docs := mem.Docs(remote.ColSettings)
	if len(docs) != 1 {
		t.Fatalf("expected 1 settings document, got %d", len(docs))
	}

	// Pushing status must merge into the same document, not clobber names.
	status := map[string]string{"1": "available"}
	raw, _ = schema.EncodeStringMap(status)
	if err := store.Put(schema.KeyPieStatus, raw, localstore.OriginUser); err != nil {
		t.Fatalf("failed to write pie status: %v", err)
	}

	docs = mem.Docs(remote.ColSettings)
	if len(docs) != 1 {
		t.Fatalf("expected 1 settings document after status push, got %d", len(docs))
	}
	if docs[0]["names"] == nil {
		t.Errorf("status push clobbered names: %+v", docs[0])
	}

	// Mirrored slots carry both mappings.
	raw, ok, _ := store.Get(schema.KeyPieStatus)
	if !ok {
		t.Fatalf("pie status never mirrored")
	}
	mirrored, err := schema.DecodeStringMap(raw)
	if err != nil {
		t.Fatalf("failed to decode mirrored status: %v", err)
	}
	if mirrored["1"] != "available" {
		t.Errorf("unexpected mirrored status: %v", mirrored)
	}
}

func TestDecodeFailure_SkipsPropagation(t *testing.T) {
	_, mem, store, auth := setupEngine(t)
	signIn(t, auth)

	if err := store.Put(schema.KeyItems, []byte("{not json"), localstore.OriginUser); err != nil {
		t.Fatalf("local write failed: %v", err)
	}

	if n := mem.WriteCount(remote.ColItems); n != 0 {
		t.Errorf("malformed payload propagated: %d writes", n)
	}

	// Local state keeps the raw value; the store does not validate payloads.
	raw, ok, _ := store.Get(schema.KeyItems)
	if !ok || string(raw) != "{not json" {
		t.Errorf("local value lost: ok=%v raw=%q", ok, raw)
	}
}

func TestDisabledEngine_AllOpsNoOp(t *testing.T) {
	store, err := localstore.Open(filepath.Join(t.TempDir(), "slots.db"))
	if err != nil {
		t.Fatalf("failed to open local store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.InitSchema(); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}

	eng, err := New(Config{Store: store, Logger: log.New(io.Discard, "", 0)})
	if err != nil {
		t.Fatalf("failed to create disabled engine: %v", err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	t.Cleanup(eng.Stop)

	ctx := context.Background()
	if err := eng.PushLanguage(ctx, "en"); err != nil {
		t.Errorf("PushLanguage should be a no-op, got %v", err)
	}
	if err := eng.UpsertItem(ctx, schema.Item{ID: "x", Text: "Fries"}); err != nil {
		t.Errorf("UpsertItem should be a no-op, got %v", err)
	}
	if err := eng.ReplaceItems(ctx, []schema.Item{{ID: "x", Text: "Fries"}}); err != nil {
		t.Errorf("ReplaceItems should be a no-op, got %v", err)
	}

	// The local store still works standalone.
	putItems(t, store, []schema.Item{{ID: "x", Text: "Fries"}})
	if got := localItems(t, store); len(got) != 1 {
		t.Errorf("local-only write failed: %+v", got)
	}
}

type recordingObserver struct {
	mu   sync.Mutex
	keys []schema.TrackedKey
}

func (r *recordingObserver) StateChanged(key schema.TrackedKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, key)
}

func (r *recordingObserver) seen(key schema.TrackedKey) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, k := range r.keys {
		if k == key {
			n++
		}
	}
	return n
}

// waitFor polls until cond holds, for asserting on timer-driven dispatch.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within 2s")
}

func TestDebounce_CoalescesRapidWrites(t *testing.T) {
	eng, mem, store, auth := setupEngine(t)
	eng.SetDebounce(100 * time.Millisecond)
	signIn(t, auth)

	// The UI writes the whole list back after every touch; a burst must
	// collapse into one batch carrying the final value.
	for i := 0; i < 5; i++ {
		putItems(t, store, []schema.Item{{ID: "x", Text: fmt.Sprintf("Fries v%d", i)}})
	}

	waitFor(t, func() bool {
		docs := mem.Docs(remote.ColItems)
		return len(docs) == 1 && docs[0]["text"] == "Fries v4"
	})
	if n := mem.WriteCount(remote.ColItems); n != 1 {
		t.Errorf("expected 1 coalesced batch, got %d", n)
	}
}

func TestRestart_SingleDispatchPerWrite(t *testing.T) {
	eng, mem, store, auth := setupEngine(t)
	signIn(t, auth)

	eng.Stop()
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	signIn(t, auth)

	putItems(t, store, []schema.Item{{ID: "x", Text: "Fries"}})

	// A restart must reuse the existing hook registrations; stacking them
	// would dispatch the same batch once per restart.
	if n := mem.WriteCount(remote.ColItems); n != 1 {
		t.Errorf("expected 1 remote batch after restart, got %d", n)
	}
	if n := mem.SubscriberCount(remote.ColItems); n != 1 {
		t.Errorf("expected 1 listener after restart, got %d", n)
	}
}

func TestStoppedEngine_IgnoresWritesAndSignIn(t *testing.T) {
	eng, mem, store, auth := setupEngine(t)
	eng.Stop()

	signIn(t, auth)
	putItems(t, store, []schema.Item{{ID: "x", Text: "Fries"}})

	if n := mem.WriteCount(remote.ColItems); n != 0 {
		t.Errorf("stopped engine dispatched %d batches", n)
	}
	if n := mem.SubscriberCount(remote.ColItems); n != 0 {
		t.Errorf("stopped engine attached %d listeners", n)
	}
}

// flakyStore rejects subscriptions while fail is set, simulating a transient
// network error at sign-in time.
type flakyStore struct {
	*remote.MemStore
	mu   sync.Mutex
	fail bool
}

func (s *flakyStore) setFail(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = v
}

func (s *flakyStore) Collection(name string) remote.Collection {
	return &flakyCollection{Collection: s.MemStore.Collection(name), store: s}
}

type flakyCollection struct {
	remote.Collection
	store *flakyStore
}

func (c *flakyCollection) Subscribe(ctx context.Context, fn func(remote.Snapshot)) (remote.Unsubscribe, error) {
	c.store.mu.Lock()
	fail := c.store.fail
	c.store.mu.Unlock()
	if fail {
		return nil, fmt.Errorf("subscribe unavailable")
	}
	return c.Collection.Subscribe(ctx, fn)
}

func TestFailedSubscriptionsRetryNextSignIn(t *testing.T) {
	store, err := localstore.Open(filepath.Join(t.TempDir(), "slots.db"))
	if err != nil {
		t.Fatalf("failed to open local store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.InitSchema(); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}

	flaky := &flakyStore{MemStore: remote.NewMemStore(), fail: true}
	auth := &fakeAuth{}
	logger := log.New(io.Discard, "", 0)
	gate := identity.NewGate(auth, remote.NewAdapters(flaky, testStoreID).Users, logger)
	eng, err := New(Config{Store: store, Remote: flaky, Gate: gate, StoreID: testStoreID, Logger: logger})
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("failed to start engine: %v", err)
	}
	t.Cleanup(eng.Stop)

	// Every attach fails; the state machine must stay Inactive.
	signIn(t, auth)
	if n := flaky.SubscriberCount(remote.ColItems); n != 0 {
		t.Fatalf("expected 0 listeners after failed attach, got %d", n)
	}

	// The backend recovers; the next auth transition attaches fresh handles
	// without an intervening sign-out.
	flaky.setFail(false)
	signIn(t, auth)
	for _, col := range []string{remote.ColItems, remote.ColRuntime, remote.ColSettings} {
		if n := flaky.SubscriberCount(col); n != 1 {
			t.Errorf("collection %s: expected 1 listener after retry, got %d", col, n)
		}
	}
}

func TestObservers_NotifiedOnMirror(t *testing.T) {
	eng, _, _, auth := setupEngine(t)

	obs := &recordingObserver{}
	eng.AddObserver(obs)

	// Initial snapshots on sign-in repaint every mirrored slot once.
	signIn(t, auth)

	for _, key := range []schema.TrackedKey{
		schema.KeyItems, schema.KeyLang, schema.KeyPieNames, schema.KeyPieStatus,
	} {
		if n := obs.seen(key); n != 1 {
			t.Errorf("key %s: expected 1 repaint, got %d", key, n)
		}
	}
}
