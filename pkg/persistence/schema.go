package persistence

import (
	"database/sql"
	"errors"
	"fmt"
)

// CurrentSchemaVersion defines the current schema version for migration support.
const CurrentSchemaVersion = 1

// initializeSchemaWithMigrations ensures the database schema is at the current version.
func initializeSchemaWithMigrations(db *sql.DB) error {
	currentVersion, err := getSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	// Empty database: create fresh schema.
	if currentVersion == 0 {
		return createSchema(db)
	}

	if currentVersion == CurrentSchemaVersion {
		return nil
	}

	return runMigrations(db, currentVersion, CurrentSchemaVersion)
}

// runMigrations applies database migrations from current version to target version.
func runMigrations(db *sql.DB, fromVersion, toVersion int) error {
	for version := fromVersion + 1; version <= toVersion; version++ {
		if err := runMigration(db, version); err != nil {
			return fmt.Errorf("migration to version %d failed: %w", version, err)
		}
		if err := setSchemaVersion(db, version); err != nil {
			return fmt.Errorf("failed to update schema version to %d: %w", version, err)
		}
	}
	return nil
}

func runMigration(_ *sql.DB, version int) error {
	switch version {
	case 1:
		return nil // base schema, created fresh by createSchema
	default:
		return fmt.Errorf("unknown migration version: %d", version)
	}
}

// createSchema creates all required tables and indices.
func createSchema(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}

	tables := []string{
		// Schema version tracking
		`CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		// Projects own stage records; deleting a project cascades manually
		// (reviews first) to preserve referential integrity.
		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		// Stage records carry two identities: the external opaque id handed to
		// callers and the internal rowid used for review -> stage linkage.
		`CREATE TABLE IF NOT EXISTS stage_records (
			internal_id INTEGER PRIMARY KEY AUTOINCREMENT,
			external_id TEXT NOT NULL UNIQUE,
			project_id TEXT NOT NULL REFERENCES projects(id),
			stage TEXT NOT NULL CHECK (stage IN ('requirements','planning','stories','code')),
			status TEXT NOT NULL CHECK (status IN ('created','processing','generating','validating','pending_review','approved','rejected','failed','expired')),
			content TEXT,
			review_id TEXT,
			prerequisite_id INTEGER REFERENCES stage_records(internal_id),
			version INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			updated_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		// User stories extracted from a story-generation artifact.
		`CREATE TABLE IF NOT EXISTS user_stories (
			id TEXT PRIMARY KEY,
			stage_internal_id INTEGER NOT NULL REFERENCES stage_records(internal_id) ON DELETE CASCADE,
			title TEXT NOT NULL,
			description TEXT NOT NULL,
			acceptance_criteria TEXT NOT NULL, -- JSON array, order preserved
			priority INTEGER DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'draft' CHECK (status IN ('draft','approved')),
			version INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			updated_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		// Review submissions gate stage progression.
		`CREATE TABLE IF NOT EXISTS reviews (
			id TEXT PRIMARY KEY,
			service_name TEXT NOT NULL,
			pipeline_stage TEXT NOT NULL,
			content TEXT NOT NULL,
			correlation_id TEXT,
			metadata TEXT, -- JSON string map
			status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending','approved','rejected','expired')),
			decision_reason TEXT,
			decision_feedback TEXT,
			decision_notes TEXT,
			version INTEGER NOT NULL DEFAULT 1,
			submitted_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			reviewed_at DATETIME
		)`,
	}

	indices := []string{
		"CREATE INDEX IF NOT EXISTS idx_stage_records_project ON stage_records(project_id)",
		"CREATE INDEX IF NOT EXISTS idx_stage_records_stage ON stage_records(stage)",
		"CREATE INDEX IF NOT EXISTS idx_stage_records_status ON stage_records(status)",
		"CREATE INDEX IF NOT EXISTS idx_user_stories_stage ON user_stories(stage_internal_id)",
		"CREATE INDEX IF NOT EXISTS idx_reviews_status ON reviews(status)",
		"CREATE INDEX IF NOT EXISTS idx_reviews_submitted ON reviews(submitted_at)",
		"CREATE INDEX IF NOT EXISTS idx_reviews_correlation ON reviews(correlation_id)",
	}

	for _, ddl := range tables {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	for _, ddl := range indices {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	if err := setSchemaVersion(db, CurrentSchemaVersion); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}

	return nil
}

// setSchemaVersion records the current schema version.
func setSchemaVersion(db *sql.DB, version int) error {
	_, err := db.Exec(`
		INSERT OR REPLACE INTO schema_version (version) VALUES (?)
	`, version)
	if err != nil {
		return fmt.Errorf("database exec error: %w", err)
	}
	return nil
}

// getSchemaVersion returns the current schema version from the database.
func getSchemaVersion(db *sql.DB) (int, error) {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`)
	if err != nil {
		return 0, fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("schema version scan error: %w", err)
	}
	return version, nil
}
