package permissions

import (
	"database/sql"
	"os"
	"testing"

	_ "github.com/lib/pq"
)

// SkipIfNoDatabase skips the test if TEST_POSTGRES_PRIMARY environment variable is not set.
// This allows tests to run in CI where the database is available, but skip locally if not configured.
func SkipIfNoDatabase(t *testing.T) string {
	t.Helper()

	dbURL := os.Getenv("TEST_POSTGRES_PRIMARY")
	if dbURL == "" {
		t.Skip("Skipping test: TEST_POSTGRES_PRIMARY environment variable not set (database not available)")
	}

	return dbURL
}

// RequireDatabase gets the database connection or skips the test if not available.
func RequireDatabase(t *testing.T) *sql.DB {
	t.Helper()

	dbURL := SkipIfNoDatabase(t)

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Skipf("Failed to connect to database: %v", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("Database not reachable: %v", err)
	}

	return db
}

// MappingsTableSQL is the SQLite flavor of the permission_mappings
// schema, for in-memory service tests. The PostgresStore queries stay
// portable across both engines.
const MappingsTableSQL = `
	CREATE TABLE permission_mappings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		permission_code TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id INTEGER NOT NULL,
		scope_override TEXT,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX idx_permission_mappings_target ON permission_mappings(entity_type, entity_id);
	CREATE INDEX idx_permission_mappings_code ON permission_mappings(permission_code);
`

// ScopePtr returns a pointer to a scope, for building mapping fixtures.
func ScopePtr(s Scope) *Scope {
	return &s
}
