// Package migrate runs forward-only, monotonically versioned schema
// migrations against a single database/sql backend.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Migration is one forward step in a backend's schema history.
type Migration struct {
	Version     int
	Description string
	// Statements is the pre-split list of SQL statements to execute within
	// one transaction. Prefer this over SQL when a backend's driver cannot
	// safely split on unescaped ';'.
	Statements []string
	// SQL, if Statements is empty, is split on unescaped ';' by Runner.
	SQL string
}

// MaxVersion returns the highest version across migrations, 0 if empty.
func MaxVersion(migrations []Migration) int {
	max := 0
	for _, m := range migrations {
		if m.Version > max {
			max = m.Version
		}
	}
	return max
}

// Dialect selects the SQL variant a Runner speaks to its backend in:
// table-existence queries and parameter placeholder style differ between
// SQLite and Postgres even though both are reached through database/sql.
type Dialect int

const (
	// DialectSQLite is the default: sqlite_master lookups, "?" placeholders.
	DialectSQLite Dialect = iota
	// DialectPostgres: information_schema lookups, "$1"-style placeholders.
	DialectPostgres
)

// Runner applies pending migrations to one table's migration history,
// tracked in "<tableName>_schema_migrations".
type Runner struct {
	db        *sql.DB
	tableName string
	dialect   Dialect
	logger    *zap.Logger
}

// NewRunner returns a SQLite-dialect Runner scoped to tableName's own
// migration history.
func NewRunner(db *sql.DB, tableName string, logger *zap.Logger) *Runner {
	return NewRunnerForDialect(db, tableName, DialectSQLite, logger)
}

// NewRunnerForDialect returns a Runner scoped to tableName's own migration
// history, speaking the given Dialect.
func NewRunnerForDialect(db *sql.DB, tableName string, dialect Dialect, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{db: db, tableName: tableName, dialect: dialect, logger: logger}
}

func (r *Runner) migrationsTable() string {
	return r.tableName + "_schema_migrations"
}

// CurrentVersion returns the highest applied version, 0 if the migrations
// table does not exist yet.
func (r *Runner) CurrentVersion(ctx context.Context) (int, error) {
	exists, err := r.tableExists(ctx, r.migrationsTable())
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}
	return r.currentVersionLocked(ctx, r.db)
}

// Run applies every migration whose version exceeds the current version, in
// ascending order, each inside its own transaction. A failing statement
// rolls back both the DDL and the version record for that migration.
func (r *Runner) Run(ctx context.Context, migrations []Migration) error {
	if err := r.ensureMigrationsTable(ctx); err != nil {
		return err
	}
	current, err := r.currentVersionLocked(ctx, r.db)
	if err != nil {
		return err
	}

	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1].Version > sorted[j].Version; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}

	for _, m := range sorted {
		if m.Version <= current {
			continue
		}
		if err := r.apply(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) ensureMigrationsTable(ctx context.Context) error {
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		version INTEGER PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`, r.migrationsTable())
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("create migrations table %s: %w", r.migrationsTable(), err)
	}
	return nil
}

func (r *Runner) tableExists(ctx context.Context, table string) (bool, error) {
	var query string
	switch r.dialect {
	case DialectPostgres:
		query = `SELECT table_name FROM information_schema.tables WHERE table_name = $1`
	default:
		query = `SELECT name FROM sqlite_master WHERE type='table' AND name = ?`
	}
	var name string
	err := r.db.QueryRowContext(ctx, query, table).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check table existence %s: %w", table, err)
	}
	return true, nil
}

// placeholder renders the nth (1-indexed) bind-parameter marker in the
// Runner's dialect.
func (r *Runner) placeholder(n int) string {
	if r.dialect == DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (r *Runner) currentVersionLocked(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}) (int, error) {
	var version int
	err := q.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COALESCE(MAX(version), 0) FROM %s", r.migrationsTable()),
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("read current migration version: %w", err)
	}
	return version, nil
}

func (r *Runner) apply(ctx context.Context, m Migration) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migration v%d: begin tx: %w", m.Version, err)
	}
	defer tx.Rollback()

	for _, stmt := range r.statements(m) {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration v%d (%s): %w", m.Version, m.Description, err)
		}
	}

	_, err = tx.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (version, description) VALUES (%s, %s)",
			r.migrationsTable(), r.placeholder(1), r.placeholder(2)),
		m.Version, m.Description,
	)
	if err != nil {
		return fmt.Errorf("migration v%d: record version: %w", m.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migration v%d: commit: %w", m.Version, err)
	}

	r.logger.Info("applied migration",
		zap.Int("version", m.Version),
		zap.String("description", m.Description),
		zap.String("table", r.tableName),
	)
	return nil
}

func (r *Runner) statements(m Migration) []string {
	if len(m.Statements) > 0 {
		return m.Statements
	}
	return strings.Split(m.SQL, ";")
}
