package store

import (
	"context"
	"database/sql"
	"strings"
)

// schema contains the DDL for all Weaver tables.
// Each statement uses IF NOT EXISTS for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS processes (
		id                    TEXT PRIMARY KEY,
		type                  TEXT NOT NULL,
		title                 TEXT NOT NULL DEFAULT '',
		abstract              TEXT NOT NULL DEFAULT '',
		version               TEXT NOT NULL DEFAULT '',
		keywords              TEXT NOT NULL DEFAULT '[]',
		package               TEXT NOT NULL DEFAULT '{}',
		payload               TEXT NOT NULL DEFAULT '{}',
		inputs                TEXT NOT NULL DEFAULT '[]',
		outputs               TEXT NOT NULL DEFAULT '[]',
		visibility            TEXT NOT NULL DEFAULT 'public',
		process_url           TEXT NOT NULL DEFAULT '',
		additional_parameters TEXT NOT NULL DEFAULT '[]',
		created_at            TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS jobs (
		id              TEXT PRIMARY KEY,
		process_id      TEXT NOT NULL,
		parent_id       TEXT NOT NULL DEFAULT '',
		status          TEXT NOT NULL DEFAULT 'accepted',
		message         TEXT NOT NULL DEFAULT '',
		progress        INTEGER NOT NULL DEFAULT 0,
		inputs          TEXT NOT NULL DEFAULT '{}',
		outputs         TEXT NOT NULL DEFAULT '{}',
		results         TEXT NOT NULL DEFAULT '{}',
		mode            TEXT NOT NULL DEFAULT 'async',
		service         TEXT NOT NULL DEFAULT '',
		remote_location TEXT NOT NULL DEFAULT '',
		created_at      TEXT NOT NULL,
		started_at      TEXT,
		finished_at     TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS job_logs (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id     TEXT NOT NULL,
		line       TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_processes_visibility ON processes(visibility)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_process_id ON jobs(process_id)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_parent_id ON jobs(parent_id)`,
	// Compound index for the scheduler claim query (status + mode)
	`CREATE INDEX IF NOT EXISTS idx_jobs_status_mode ON jobs(status, mode)`,
	`CREATE INDEX IF NOT EXISTS idx_job_logs_job_id ON job_logs(job_id, seq)`,
}

// alterStatements are column additions that need special handling since
// SQLite doesn't support IF NOT EXISTS for ALTER TABLE ADD COLUMN.
var alterStatements = []struct {
	table    string
	column   string
	alterSQL string
	indexSQL string // Optional index to create after column is added
}{
	{
		table:    "jobs",
		column:   "updated_at",
		alterSQL: "ALTER TABLE jobs ADD COLUMN updated_at TEXT NOT NULL DEFAULT ''",
		indexSQL: "CREATE INDEX IF NOT EXISTS idx_jobs_updated_at ON jobs(updated_at)",
	},
}

// migrate executes all schema DDL statements and alter migrations.
func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	for _, alter := range alterStatements {
		if err := addColumnIfNotExists(ctx, db, alter.table, alter.column, alter.alterSQL); err != nil {
			return err
		}
		if alter.indexSQL != "" {
			if _, err := db.ExecContext(ctx, alter.indexSQL); err != nil {
				return err
			}
		}
	}
	return nil
}

// addColumnIfNotExists adds a column to a table if it doesn't already exist.
func addColumnIfNotExists(ctx context.Context, db *sql.DB, table, column, alterSQL string) error {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+table+")")
	if err != nil {
		return err
	}
	found := false
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue *string
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			rows.Close()
			return err
		}
		if strings.EqualFold(name, column) {
			found = true
		}
	}
	rows.Close()
	if found {
		return nil
	}

	_, err = db.ExecContext(ctx, alterSQL)
	return err
}
