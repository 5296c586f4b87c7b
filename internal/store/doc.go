// Package store provides persistent storage for the gateway's call ledger.
//
// # Architecture
//
// The package exposes a single CallStore interface with two implementations:
//
//   - SQLiteStore: durable ledger backed by modernc.org/sqlite (pure Go, no cgo)
//   - MockStore: in-memory ledger used by tests in other packages
//
// # Data Model
//
// A CallRecord describes the outcome of one resources.call request: which
// envelope triggered it, which resource was used, whether it succeeded, the
// error kind and upstream status code on failure, and how long it took.
// Records never carry request params, response payloads, or credential
// values, so the ledger is safe to expose through read-only endpoints.
//
// # Schema
//
// The schema is created on open:
//
//	calls(id, envelope_id, resource_id, success, kind, status_code, duration_ms, created_at)
//
// created_at is stored as fixed-width UTC text, so ORDER BY created_at is
// chronological.
//
// # Usage
//
//	s, err := store.NewSQLiteStore("/var/lib/trellis/ledger.db")
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//
//	err = s.RecordCall(ctx, &store.CallRecord{
//		EnvelopeID: "req-1",
//		ResourceID: "openai-gpt4",
//		Success:    true,
//		DurationMs: 412,
//	})
//
//	recent, err := s.ListCalls(ctx, store.CallFilter{Limit: 20})
package store
