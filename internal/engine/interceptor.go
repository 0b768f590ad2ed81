package engine

import (
	"context"
	"time"

	"github.com/jlucero/espejo/internal/localstore"
	"github.com/jlucero/espejo/internal/schema"
)

// onLocalWrite is the write interceptor: the single chokepoint through which
// all outbound synchronization originates. It is registered as a slot-store
// write hook, so it sees every write regardless of call site, always after
// the local write has committed.
func (e *Engine) onLocalWrite(key schema.TrackedKey, value []byte, origin localstore.Origin) {
	// Mirror writes are remote state coming back down; pushing them up again
	// would bounce the loop forever.
	if origin == localstore.OriginMirror {
		return
	}

	e.mu.Lock()
	if !e.started || e.disabled {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	// Unauthenticated writes are suppressed silently: local state stays
	// authoritative, nothing leaves the process.
	if !e.gate.Authenticated() {
		return
	}

	e.schedule(key, value)
}

// schedule queues the latest value of a tracked key for outbound dispatch,
// coalescing rapid successive writes into a single remote operation. The
// common UI pattern writes the whole list back after touching one entry;
// debouncing keeps that from amplifying into one batch per keystroke.
func (e *Engine) schedule(key schema.TrackedKey, value []byte) {
	e.mu.Lock()
	d := e.debounce
	e.pending[key] = value
	if d <= 0 {
		e.mu.Unlock()
		e.flush(key)
		return
	}
	if t, ok := e.timers[key]; ok {
		t.Stop()
	}
	e.timers[key] = time.AfterFunc(d, func() { e.flush(key) })
	e.mu.Unlock()
}

// flush dispatches the pending value of a tracked key to its remote
// collection adapter. Failures are logged once and never retried; the local
// write already committed and stays authoritative.
func (e *Engine) flush(key schema.TrackedKey) {
	e.mu.Lock()
	raw, ok := e.pending[key]
	delete(e.pending, key)
	delete(e.timers, key)
	e.mu.Unlock()
	if !ok {
		return
	}

	// The session may have ended while the write sat in the queue.
	if !e.gate.Authenticated() {
		return
	}

	ctx := e.ctx
	var err error
	switch key {
	case schema.KeyItems:
		err = e.pushItems(ctx, raw)
	case schema.KeyShifts:
		err = e.pushShiftTail(ctx, raw)
	case schema.KeyLang:
		err = e.pushLang(ctx, raw)
	case schema.KeyPieNames:
		err = e.pushPieNames(ctx, raw)
	case schema.KeyPieStatus:
		err = e.pushPieStatus(ctx, raw)
	}
	if err != nil {
		e.logger.Printf("Warning: failed to propagate %s: %v", key, err)
	}
}

func (e *Engine) pushLang(ctx context.Context, raw []byte) error {
	lang, err := schema.DecodeLang(raw)
	if err != nil {
		return err
	}
	return e.adapters.Runtime.PutLang(ctx, lang)
}

func (e *Engine) pushPieNames(ctx context.Context, raw []byte) error {
	names, err := schema.DecodeStringMap(raw)
	if err != nil {
		return err
	}
	return e.adapters.Settings.PutNames(ctx, names)
}

func (e *Engine) pushPieStatus(ctx context.Context, raw []byte) error {
	status, err := schema.DecodeStringMap(raw)
	if err != nil {
		return err
	}
	return e.adapters.Settings.PutStatus(ctx, status)
}

// pushShiftTail propagates only the newly appended tail of the shift history.
// The remote log is append-only; replaying already-sent records would
// duplicate them.
func (e *Engine) pushShiftTail(ctx context.Context, raw []byte) error {
	shifts, err := schema.DecodeShifts(raw)
	if err != nil {
		return err
	}

	e.mu.Lock()
	grew := len(shifts) > e.lastShiftLen
	// Advance the marker even when the append below fails: propagation is
	// best-effort and never replays.
	e.lastShiftLen = len(shifts)
	e.mu.Unlock()

	if !grew || len(shifts) == 0 {
		return nil
	}

	tail := shifts[len(shifts)-1]
	if _, err := e.adapters.Shifts.Append(ctx, tail); err != nil {
		return err
	}
	return nil
}
