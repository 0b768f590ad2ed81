// Package schema defines the data shapes shared by the local slot store and
// the remote document store: tracked keys, items, shift records, and the
// singleton runtime/settings documents.
//
// Every tracked key maps to exactly one decode rule. Values stored locally are
// always complete JSON replacements for the slot, never partial patches, so
// decoding here is safe to re-run against whatever the last writer committed.
package schema
