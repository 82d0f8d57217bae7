// Package subjects is the user-store collaborator of the entitlement engine.
//
// # Overview
//
// A subject is the user or tenant whose plan is evaluated. The store owns
// the persisted plan name and the per-feature usage counters; the
// entitlement layer reads records through it and persists plan changes
// through it.
//
// # Backends
//
//   - MemoryStore: process-local, for development and tests
//   - SQLStore: PostgreSQL (lib/pq) or SQLite (go-sqlite3) through database/sql
//
// # Usage Example
//
//	db, _ := sql.Open("postgres", dsn)
//	store := subjects.NewSQLStore(db)
//	if err := store.Migrate(ctx); err != nil {
//		return err
//	}
//	rec, err := store.GetSubject(ctx, "user-42")
//	if errors.Is(err, subjects.ErrSubjectNotFound) {
//		...
//	}
//
// An empty or unrecognized Plan on a record is read as the free tier by the
// entitlement layer; the store never rewrites it.
package subjects
