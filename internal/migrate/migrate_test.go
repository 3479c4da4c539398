package migrate

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "migrate.db")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunner_AppliesInOrder(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	r := NewRunner(db, "widgets", nil)

	migrations := []Migration{
		{Version: 2, Description: "add column", Statements: []string{
			`CREATE TABLE widgets (id TEXT PRIMARY KEY)`,
			`ALTER TABLE widgets ADD COLUMN name TEXT`,
		}},
		{Version: 1, Description: "noop", Statements: []string{`SELECT 1`}},
	}

	if err := r.Run(ctx, migrations); err != nil {
		t.Fatal(err)
	}

	version, err := r.CurrentVersion(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if version != 2 {
		t.Errorf("version = %d, want 2", version)
	}

	if _, err := db.ExecContext(ctx, `INSERT INTO widgets (id, name) VALUES (?, ?)`, "w1", "gadget"); err != nil {
		t.Fatalf("expected migrated schema to accept inserts: %v", err)
	}
}

func TestRunner_SkipsAlreadyApplied(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	r := NewRunner(db, "widgets", nil)

	first := []Migration{{Version: 1, Description: "create", Statements: []string{
		`CREATE TABLE widgets (id TEXT PRIMARY KEY)`,
	}}}
	if err := r.Run(ctx, first); err != nil {
		t.Fatal(err)
	}

	second := []Migration{
		first[0],
		{Version: 2, Description: "add index", Statements: []string{
			`CREATE INDEX idx_widgets_id ON widgets(id)`,
		}},
	}
	if err := r.Run(ctx, second); err != nil {
		t.Fatal(err)
	}

	version, err := r.CurrentVersion(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if version != 2 {
		t.Errorf("version = %d, want 2", version)
	}
}

func TestRunner_CurrentVersionZeroBeforeAnyMigration(t *testing.T) {
	db := openTestDB(t)
	r := NewRunner(db, "widgets", nil)

	version, err := r.CurrentVersion(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if version != 0 {
		t.Errorf("version = %d, want 0", version)
	}
}

func TestRunner_FailingMigrationRollsBack(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	r := NewRunner(db, "widgets", nil)

	bad := []Migration{{Version: 1, Description: "bad sql", Statements: []string{
		`CREATE TABLE widgets (id TEXT PRIMARY KEY)`,
		`NOT VALID SQL HERE`,
	}}}
	if err := r.Run(ctx, bad); err == nil {
		t.Fatal("expected error from invalid statement")
	}

	version, err := r.CurrentVersion(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if version != 0 {
		t.Errorf("version = %d after failed migration, want 0 (rolled back)", version)
	}
}

func TestMaxVersion(t *testing.T) {
	migrations := []Migration{{Version: 3}, {Version: 1}, {Version: 7}, {Version: 2}}
	if got := MaxVersion(migrations); got != 7 {
		t.Errorf("MaxVersion = %d, want 7", got)
	}
	if got := MaxVersion(nil); got != 0 {
		t.Errorf("MaxVersion(nil) = %d, want 0", got)
	}
}
