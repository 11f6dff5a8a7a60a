// Package testing provides shared database fixtures for ticketpulse tests.
package testing

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/teranos/ticketpulse/db"
)

// CreateTestDB returns an empty in-memory database with the production pragmas,
// closed when t finishes.
func CreateTestDB(t testing.TB) *sql.DB {
	t.Helper()

	testDB, err := sql.Open("sqlite3", db.DSN(":memory:"))
	require.NoError(t, err, "open in-memory database")
	t.Cleanup(func() { testDB.Close() })

	// Each connection to :memory: is its own database; pin the pool to one
	testDB.SetMaxOpenConns(1)
	require.NoError(t, testDB.Ping())
	return testDB
}

// CreateMigratedTestDB is CreateTestDB with every migration applied.
func CreateMigratedTestDB(t testing.TB) *sql.DB {
	t.Helper()

	testDB := CreateTestDB(t)
	require.NoError(t, db.Migrate(testDB, nil), "migrate in-memory database")
	return testDB
}
