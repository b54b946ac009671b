// Package app provides the rating application layer.
//
// Gateway reads and writes the shared ratings table through a domain.TableStore,
// View keeps a staleness-bounded snapshot of it, Rater runs the assignment and
// commit protocol for one rater session, and Sessions holds those sessions in
// memory. HTTP handlers depend on this package, never on a store directly.
package app
