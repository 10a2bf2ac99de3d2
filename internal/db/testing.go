// Test helpers for packages that need database access. In-memory databases
// keep tests fast and isolated; cleanup is registered automatically.
package db

import (
	"testing"
)

// NewTestDB creates an in-memory database for testing. Migrations are
// applied and the database is closed when the test completes.
func NewTestDB(t testing.TB) *DB {
	t.Helper()

	d, err := OpenInMemory()
	if err != nil {
		t.Fatalf("create test db: %v", err)
	}

	t.Cleanup(func() {
		_ = d.Close()
	})

	return d
}
