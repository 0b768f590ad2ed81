// Package engine implements the synchronization engine that keeps the local
// slot store eventually consistent with the remote document store.
//
// The engine owns the whole closed loop:
//
//  1. Local writes land in the slot store and fire its write hooks.
//  2. The write interceptor picks up user-originated writes, and — only while
//     an identity is signed in — decodes the payload per tracked key and
//     dispatches it to the matching remote collection adapter. Dispatch is
//     debounced so a burst of list replacements collapses into one batch.
//  3. The remote store pushes full-state snapshots to the subscription
//     manager, which mirrors them back into the slot store as complete
//     replacement values tagged with mirror origin.
//  4. Mirror-origin writes are skipped by the interceptor, so the loop
//     converges (last writer wins) instead of bouncing forever.
//
// Subscriptions start when the identity gate reports sign-in and stop on
// sign-out; starting twice is a no-op. When no remote backend is configured
// the engine disables itself for the session and every facade call is a
// silent no-op, leaving the local store fully functional on its own.
package engine
