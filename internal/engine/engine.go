package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/jlucero/espejo/internal/identity"
	"github.com/jlucero/espejo/internal/localstore"
	"github.com/jlucero/espejo/internal/remote"
	"github.com/jlucero/espejo/internal/schema"
)

// Observer is notified after a remote snapshot has been mirrored into the
// local store, so collaborators can repaint the affected state.
type Observer interface {
	StateChanged(key schema.TrackedKey)
}

// Config holds the engine's dependencies and tuning.
type Config struct {
	// Store is the local slot store. Required.
	Store *localstore.Store

	// Remote is the remote document store. A nil Remote disables sync for
	// the session; the local store keeps working standalone.
	Remote remote.DocStore

	// Gate tracks the authenticated identity. Required unless Remote is nil.
	Gate *identity.Gate

	// StoreID is the namespace stamped on every remote document.
	StoreID string

	// Debounce is how long outbound dispatch waits to coalesce rapid writes
	// to the same tracked key. Zero dispatches synchronously with the local
	// write, which tests rely on.
	Debounce time.Duration

	// Suffix generates the short random suffix for derived item ids.
	// Injectable so id assignment is deterministic under test.
	Suffix schema.SuffixFunc

	// Logger for engine activity.
	Logger *log.Logger
}

// Engine is the synchronization engine. Create with New, then Start.
type Engine struct {
	store    *localstore.Store
	gate     *identity.Gate
	adapters *remote.Adapters
	storeID  string
	debounce time.Duration
	suffix   schema.SuffixFunc
	logger   *log.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	started      bool
	disabled     bool
	hooked       bool
	pending      map[schema.TrackedKey][]byte
	timers       map[schema.TrackedKey]*time.Timer
	lastShiftLen int
	observers    []Observer

	// subscription handles; non-nil handles mean Active
	subsActive  bool
	unsubItems  remote.Unsubscribe
	unsubRun    remote.Unsubscribe
	unsubSet    remote.Unsubscribe
}

// New creates an engine. The local store must be opened and have its schema
// initialized before passing it in.
//
// If logger is nil, a default logger writing to stderr is used.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if cfg.Remote != nil && cfg.Gate == nil {
		return nil, fmt.Errorf("gate cannot be nil when a remote backend is configured")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	if cfg.Suffix == nil {
		cfg.Suffix = schema.RandomSuffix
	}

	e := &Engine{
		store:    cfg.Store,
		gate:     cfg.Gate,
		storeID:  cfg.StoreID,
		debounce: cfg.Debounce,
		suffix:   cfg.Suffix,
		logger:   cfg.Logger,
		pending:  make(map[schema.TrackedKey][]byte),
		timers:   make(map[schema.TrackedKey]*time.Timer),
	}
	if cfg.Remote == nil {
		e.disabled = true
	} else {
		e.adapters = remote.NewAdapters(cfg.Remote, cfg.StoreID)
	}
	return e, nil
}

// Start activates the engine: it registers the write interceptor, binds to
// identity transitions, and — if an identity is already signed in — attaches
// the real-time subscriptions. Idempotent.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	disabled := e.disabled
	first := !e.hooked
	e.hooked = true
	e.mu.Unlock()

	e.ctx, e.cancel = context.WithCancel(ctx)

	if disabled {
		e.logger.Printf("Remote backend unavailable; sync disabled for this session")
		return nil
	}

	// Records already in the local history were sent (or predate this
	// session); only new tail appends propagate.
	if n, err := e.localShiftCount(); err != nil {
		e.logger.Printf("Warning: failed to read shift history: %v", err)
	} else {
		e.mu.Lock()
		e.lastShiftLen = n
		e.mu.Unlock()
	}

	// The store and gate have no deregistration, so these attach once for the
	// engine's lifetime; the interceptor checks started, so a stopped engine
	// ignores both.
	if first {
		e.store.OnWrite(e.onLocalWrite)

		e.gate.OnChange(func(id *identity.Identity) {
			if id != nil {
				e.startSubscriptions()
			} else {
				e.stopSubscriptions()
			}
		})
	}
	if e.gate.Authenticated() {
		e.startSubscriptions()
	}

	e.logger.Printf("Engine started for store %s", e.storeID)
	return nil
}

// Stop detaches subscriptions and cancels pending outbound dispatches.
// Safe to call more than once.
func (e *Engine) Stop() {
	e.mu.Lock()
	for key, t := range e.timers {
		t.Stop()
		delete(e.timers, key)
	}
	e.pending = make(map[schema.TrackedKey][]byte)
	e.started = false
	e.mu.Unlock()

	e.stopSubscriptions()
	if e.cancel != nil {
		e.cancel()
	}
}

// SetDebounce adjusts the outbound coalescing interval at runtime. Pending
// timers keep their original delay; new writes use the new interval.
func (e *Engine) SetDebounce(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.debounce = d
}

// AddObserver registers a repaint observer. Observers are invoked after every
// mirrored snapshot write.
func (e *Engine) AddObserver(o Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, o)
}

func (e *Engine) notifyObservers(key schema.TrackedKey) {
	e.mu.Lock()
	observers := make([]Observer, len(e.observers))
	copy(observers, e.observers)
	e.mu.Unlock()

	for _, o := range observers {
		o.StateChanged(key)
	}
}

// ready reports whether facade calls should do anything at all.
func (e *Engine) ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started && !e.disabled
}

func (e *Engine) localShiftCount() (int, error) {
	raw, ok, err := e.store.Get(schema.KeyShifts)
	if err != nil || !ok {
		return 0, err
	}
	shifts, err := schema.DecodeShifts(raw)
	if err != nil {
		return 0, err
	}
	return len(shifts), nil
}

// PushLanguage records a language change. The write lands locally first and
// propagates through the interceptor like any other tracked write.
// A no-op before Start or when sync is disabled.
func (e *Engine) PushLanguage(ctx context.Context, lang string) error {
	if !e.ready() {
		return nil
	}
	raw, err := schema.EncodeLang(lang)
	if err != nil {
		return fmt.Errorf("failed to encode language: %w", err)
	}
	return e.store.PutContext(ctx, schema.KeyLang, raw, localstore.OriginUser)
}

// UpsertItem pushes a single item directly to the remote store for faster
// feedback than the list-level path. Both paths share the same idempotent
// merge-upsert semantics, so they are safe to use concurrently.
// A no-op before Start, when sync is disabled, or while signed out.
func (e *Engine) UpsertItem(ctx context.Context, it schema.Item) error {
	if !e.ready() || !e.gate.Authenticated() {
		return nil
	}
	if it.ID == "" {
		it.ID = schema.SlugID(it.Text, e.suffix)
	}
	if err := e.adapters.Items.Put(ctx, it); err != nil {
		return fmt.Errorf("failed to upsert item %s: %w", it.ID, err)
	}
	return nil
}

// ReplaceItems replaces the full local item list. Id assignment and the
// batched remote upsert happen on the interceptor path.
// A no-op before Start or when sync is disabled.
func (e *Engine) ReplaceItems(ctx context.Context, items []schema.Item) error {
	if !e.ready() {
		return nil
	}
	raw, err := schema.EncodeItems(items)
	if err != nil {
		return fmt.Errorf("failed to encode item list: %w", err)
	}
	return e.store.PutContext(ctx, schema.KeyItems, raw, localstore.OriginUser)
}
