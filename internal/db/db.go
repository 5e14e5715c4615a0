// Package db opens the workspace-local sqlite database.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// The database lives under a hidden .agentfloor directory inside the
// workspace, next to agentfloor.yml.
const (
	workspaceDir = ".agentfloor"
	fileName     = "agentfloor.db"
)

// Path returns the database file location for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, workspaceDir, fileName)
}

// Open creates the workspace data directory if missing and opens the
// database with foreign keys enforced. Concurrent writers wait on the
// busy timeout instead of failing immediately.
func Open(workspace string) (*sql.DB, error) {
	p := Path(workspace)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", p)
	return sql.Open("sqlite", dsn)
}
