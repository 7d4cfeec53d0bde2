// Package core implements the schema reconciliation and lossless-merge
// engine.
//
// This package contains all domain logic independent of any transport or
// storage layer. It can be driven by the CLI entrypoint, the ops API, or
// tests without modification.
//
// # Pipeline
//
// A merge run flows through fixed stages:
//
//	raw rows -> Resolver -> Normalizer -> Unifier -> Deduplicator -> Coordinator -> store
//
// The [Resolver] maps arbitrary source headers onto the canonical field
// set using the schema's priority-ordered alias table. The [Normalizer]
// turns every raw row into exactly one canonical record, applying
// per-field cleaning and fallback rules; it never drops a row. The
// [Unifier] is a barrier: it waits for all per-source batches and
// concatenates them over the union of their columns. The [Deduplicator]
// keeps the first occurrence per identity key, and the [Coordinator]
// applies the result to the store in bounded pages with last-writer-wins
// conflict resolution.
//
// # Audit
//
// The [Auditor] wraps every stage transition. A run may never persist a
// dataset whose record count differs from the sum of source row counts,
// except at the one sanctioned mandatory-field filter, which is counted
// separately. Any other discrepancy halts the affected chain before a
// single write happens.
//
// # Concurrency
//
// Per-source read and normalize stages fan out with bounded concurrency;
// a failure in one source is contained and recorded while the others
// proceed. Unify and everything after it run once, on the merged batch,
// in source-read order.
package core
