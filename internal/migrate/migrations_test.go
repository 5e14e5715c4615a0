package migrate_test

import (
	"database/sql"
	"testing"

	"agentfloor/internal/db"
	"agentfloor/internal/migrate"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestMigrateRecordsAppliedFiles(t *testing.T) {
	conn := openTestDB(t)
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	rows, err := conn.Query(`SELECT version, name, applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		t.Fatalf("read ledger: %v", err)
	}
	defer rows.Close()
	var versions []int
	for rows.Next() {
		var (
			version   int
			name      string
			appliedAt string
		)
		if err := rows.Scan(&version, &name, &appliedAt); err != nil {
			t.Fatalf("scan ledger row: %v", err)
		}
		if name == "" || appliedAt == "" {
			t.Fatalf("ledger row %d missing name or applied_at", version)
		}
		versions = append(versions, version)
	}
	if len(versions) != 2 || versions[0] != 1 || versions[1] != 2 {
		t.Fatalf("ledger versions = %v, want [1 2]", versions)
	}

	for _, table := range []string{"companies", "agents", "events", "role_configs", "movements"} {
		var name string
		err := conn.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	conn := openTestDB(t)
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("first migrate: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	var count int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count); err != nil {
		t.Fatalf("count ledger: %v", err)
	}
	if count != 2 {
		t.Fatalf("ledger rows = %d after re-run, want 2", count)
	}
}
