// Package testkit provides helpers for exercising the catalog store in tests:
// a pgxmock-backed sandbox, per-test transactions that always roll back, and
// round-trip assertions.
//
// Nothing here opens a network connection. Integration tests that need a real
// server build a pg.DB themselves and reuse Rollback and AssertNumQueries.
package testkit
