package sqlite

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database schema migration.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// Migrations is the list of all database migrations in order.
var Migrations = []Migration{
	{
		Version: 1,
		Name:    "core_tables",
		SQL: `
			-- Editor sessions. content_session_id is supplied by the editor;
			-- memory_session_id is the key observations hang off and may be
			-- rewritten once when the editor re-keys a session.
			CREATE TABLE IF NOT EXISTS sdk_sessions (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				content_session_id TEXT UNIQUE NOT NULL,
				memory_session_id TEXT NOT NULL,
				project TEXT NOT NULL,
				initial_prompt TEXT,
				status TEXT CHECK(status IN ('active', 'completed')) NOT NULL DEFAULT 'active',
				prompt_counter INTEGER NOT NULL DEFAULT 0,
				started_at TEXT NOT NULL,
				started_at_epoch INTEGER NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_sdk_sessions_content_id ON sdk_sessions(content_session_id);
			CREATE INDEX IF NOT EXISTS idx_sdk_sessions_memory_id ON sdk_sessions(memory_session_id);
			CREATE INDEX IF NOT EXISTS idx_sdk_sessions_project ON sdk_sessions(project);
			CREATE INDEX IF NOT EXISTS idx_sdk_sessions_status ON sdk_sessions(status);
			CREATE INDEX IF NOT EXISTS idx_sdk_sessions_started ON sdk_sessions(started_at_epoch DESC);

			-- Enriched tool-use events. Keyed by memory_session_id, not the
			-- numeric session id, for cross-tool portability.
			CREATE TABLE IF NOT EXISTS observations (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				memory_session_id TEXT NOT NULL,
				project TEXT NOT NULL,
				type TEXT NOT NULL CHECK(type IN ('discovery', 'bugfix', 'feature', 'change', 'decision', 'refactor')),
				title TEXT NOT NULL,
				subtitle TEXT,
				narrative TEXT,
				facts TEXT NOT NULL DEFAULT '[]',
				concepts TEXT NOT NULL DEFAULT '[]',
				files_read TEXT NOT NULL DEFAULT '[]',
				files_modified TEXT NOT NULL DEFAULT '[]',
				discovery_tokens INTEGER NOT NULL DEFAULT 0,
				prompt_number INTEGER,
				deleted_at_epoch INTEGER,
				created_at TEXT NOT NULL,
				created_at_epoch INTEGER NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_observations_memory_session ON observations(memory_session_id);
			CREATE INDEX IF NOT EXISTS idx_observations_project ON observations(project);
			CREATE INDEX IF NOT EXISTS idx_observations_type ON observations(type);
			CREATE INDEX IF NOT EXISTS idx_observations_created ON observations(created_at_epoch DESC);

			-- End-of-turn syntheses.
			CREATE TABLE IF NOT EXISTS session_summaries (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				memory_session_id TEXT NOT NULL,
				project TEXT NOT NULL,
				request TEXT NOT NULL DEFAULT '',
				investigated TEXT,
				learned TEXT,
				completed TEXT,
				next_steps TEXT,
				prompt_number INTEGER,
				deleted_at_epoch INTEGER,
				created_at TEXT NOT NULL,
				created_at_epoch INTEGER NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_session_summaries_memory_session ON session_summaries(memory_session_id);
			CREATE INDEX IF NOT EXISTS idx_session_summaries_project ON session_summaries(project);
			CREATE INDEX IF NOT EXISTS idx_session_summaries_created ON session_summaries(created_at_epoch DESC);

			-- Literal user prompts, ordered within a session.
			CREATE TABLE IF NOT EXISTS user_prompts (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				content_session_id TEXT NOT NULL,
				prompt_number INTEGER NOT NULL,
				prompt_text TEXT NOT NULL,
				created_at TEXT NOT NULL,
				created_at_epoch INTEGER NOT NULL,
				FOREIGN KEY(content_session_id) REFERENCES sdk_sessions(content_session_id) ON DELETE CASCADE
			);

			CREATE INDEX IF NOT EXISTS idx_user_prompts_session ON user_prompts(content_session_id);
			CREATE UNIQUE INDEX IF NOT EXISTS idx_user_prompts_session_number
				ON user_prompts(content_session_id, prompt_number);
		`,
	},
	{
		Version: 2,
		Name:    "pending_messages",
		SQL: `
			-- Durable per-session message queue. Rows are appended by HTTP
			-- writers and removed by an atomic claim-and-delete; they are
			-- never updated in place.
			CREATE TABLE IF NOT EXISTS pending_messages (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id INTEGER NOT NULL,
				payload TEXT NOT NULL,
				created_at TEXT NOT NULL,
				created_at_epoch INTEGER NOT NULL,
				FOREIGN KEY(session_id) REFERENCES sdk_sessions(id) ON DELETE CASCADE
			);

			CREATE INDEX IF NOT EXISTS idx_pending_messages_session ON pending_messages(session_id, id);
		`,
	},
	{
		Version: 3,
		Name:    "session_plans",
		SQL: `
			-- 1:1 session to plan-file association. Cascades with its session.
			CREATE TABLE IF NOT EXISTS session_plans (
				session_db_id INTEGER PRIMARY KEY,
				plan_path TEXT NOT NULL,
				plan_status TEXT NOT NULL DEFAULT 'PENDING'
					CHECK(plan_status IN ('PENDING', 'COMPLETE', 'VERIFIED')),
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL,
				FOREIGN KEY(session_db_id) REFERENCES sdk_sessions(id) ON DELETE CASCADE
			);

			CREATE INDEX IF NOT EXISTS idx_session_plans_path ON session_plans(plan_path);
		`,
	},
}

// MigrationManager handles database schema migrations.
type MigrationManager struct {
	db *sql.DB
}

// NewMigrationManager creates a new migration manager.
func NewMigrationManager(db *sql.DB) *MigrationManager {
	return &MigrationManager{db: db}
}

// EnsureSchemaVersionsTable creates the schema_versions table if missing.
func (m *MigrationManager) EnsureSchemaVersionsTable() error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			id INTEGER PRIMARY KEY,
			version INTEGER UNIQUE NOT NULL,
			applied_at TEXT NOT NULL
		)
	`)
	return err
}

// GetAppliedVersions returns all applied migration versions.
func (m *MigrationManager) GetAppliedVersions() (map[int]bool, error) {
	rows, err := m.db.Query("SELECT version FROM schema_versions ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	versions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		versions[version] = true
	}
	return versions, rows.Err()
}

// ApplyMigration applies a single migration in one transaction.
func (m *MigrationManager) ApplyMigration(migration Migration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(migration.SQL); err != nil {
		return fmt.Errorf("execute migration %d (%s): %w", migration.Version, migration.Name, err)
	}

	_, err = tx.Exec(
		"INSERT INTO schema_versions (version, applied_at) VALUES (?, ?)",
		migration.Version, time.Now().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record migration %d: %w", migration.Version, err)
	}

	return tx.Commit()
}

// RunMigrations applies all pending migrations. Applying twice is a
// no-op: applied versions are skipped.
func (m *MigrationManager) RunMigrations() error {
	if err := m.EnsureSchemaVersionsTable(); err != nil {
		return fmt.Errorf("ensure schema_versions table: %w", err)
	}

	applied, err := m.GetAppliedVersions()
	if err != nil {
		return fmt.Errorf("get applied versions: %w", err)
	}

	for _, migration := range Migrations {
		if applied[migration.Version] {
			continue
		}
		if err := m.ApplyMigration(migration); err != nil {
			return err
		}
	}

	return nil
}
