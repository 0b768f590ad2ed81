package engine

import (
	"github.com/jlucero/espejo/internal/localstore"
	"github.com/jlucero/espejo/internal/remote"
	"github.com/jlucero/espejo/internal/schema"
)

// startSubscriptions moves the subscription state machine Inactive -> Active:
// it attaches one real-time listener each for items, runtime state, and pie
// settings. Starting while already Active is a no-op, so each authentication
// session attaches exactly one listener per collection.
func (e *Engine) startSubscriptions() {
	e.mu.Lock()
	if !e.started || e.subsActive {
		e.mu.Unlock()
		return
	}
	e.subsActive = true
	e.mu.Unlock()

	ctx := e.ctx

	unsubItems, err := e.adapters.Items.Watch(ctx, e.mirrorItems)
	if err != nil {
		e.logger.Printf("Warning: failed to subscribe to items: %v", err)
	}
	unsubRun, err := e.adapters.Runtime.Watch(ctx, e.mirrorRuntime)
	if err != nil {
		e.logger.Printf("Warning: failed to subscribe to runtime: %v", err)
	}
	unsubSet, err := e.adapters.Settings.Watch(ctx, e.mirrorSettings)
	if err != nil {
		e.logger.Printf("Warning: failed to subscribe to settings: %v", err)
	}

	// Active-ness means holding at least one live handle. If every attach
	// failed, stay Inactive so the next auth transition retries.
	if unsubItems == nil && unsubRun == nil && unsubSet == nil {
		e.mu.Lock()
		e.subsActive = false
		e.mu.Unlock()
		e.logger.Printf("Warning: no subscriptions attached; realtime sync degraded")
		return
	}

	e.mu.Lock()
	e.unsubItems = unsubItems
	e.unsubRun = unsubRun
	e.unsubSet = unsubSet
	e.mu.Unlock()

	e.logger.Printf("Subscriptions active")
}

// stopSubscriptions moves Active -> Inactive, detaching every listener and
// clearing the handles so a later start attaches fresh ones. Idempotent, and
// each unsubscribe handle tolerates being called when already stopped.
func (e *Engine) stopSubscriptions() {
	e.mu.Lock()
	if !e.subsActive {
		e.mu.Unlock()
		return
	}
	e.subsActive = false
	handles := []remote.Unsubscribe{e.unsubItems, e.unsubRun, e.unsubSet}
	e.unsubItems, e.unsubRun, e.unsubSet = nil, nil, nil
	e.mu.Unlock()

	for _, unsub := range handles {
		if unsub != nil {
			unsub()
		}
	}
	e.logger.Printf("Subscriptions stopped")
}

// mirrorItems writes the complete remote item list into the local slot.
// Snapshots are full state, never deltas, so overwriting the whole slot each
// time is safe to re-run.
func (e *Engine) mirrorItems(items []schema.Item) {
	raw, err := schema.EncodeItems(items)
	if err != nil {
		e.logger.Printf("Warning: failed to encode mirrored items: %v", err)
		return
	}
	if err := e.store.Put(schema.KeyItems, raw, localstore.OriginMirror); err != nil {
		e.logger.Printf("Warning: failed to mirror items: %v", err)
		return
	}
	e.notifyObservers(schema.KeyItems)
}

func (e *Engine) mirrorRuntime(state schema.RuntimeState) {
	raw, err := schema.EncodeLang(state.Lang)
	if err != nil {
		e.logger.Printf("Warning: failed to encode mirrored language: %v", err)
		return
	}
	if err := e.store.Put(schema.KeyLang, raw, localstore.OriginMirror); err != nil {
		e.logger.Printf("Warning: failed to mirror language: %v", err)
		return
	}
	e.notifyObservers(schema.KeyLang)
}

// mirrorSettings splits the settings singleton into its two tracked slots.
func (e *Engine) mirrorSettings(settings schema.PieSettings) {
	names, err := schema.EncodeStringMap(settings.Names)
	if err != nil {
		e.logger.Printf("Warning: failed to encode mirrored pie names: %v", err)
		return
	}
	status, err := schema.EncodeStringMap(settings.Status)
	if err != nil {
		e.logger.Printf("Warning: failed to encode mirrored pie status: %v", err)
		return
	}

	if err := e.store.Put(schema.KeyPieNames, names, localstore.OriginMirror); err != nil {
		e.logger.Printf("Warning: failed to mirror pie names: %v", err)
	} else {
		e.notifyObservers(schema.KeyPieNames)
	}
	if err := e.store.Put(schema.KeyPieStatus, status, localstore.OriginMirror); err != nil {
		e.logger.Printf("Warning: failed to mirror pie status: %v", err)
	} else {
		e.notifyObservers(schema.KeyPieStatus)
	}
}
