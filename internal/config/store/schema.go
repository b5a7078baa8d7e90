package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS models (
		name TEXT PRIMARY KEY,
		show_error_detail_to_client INTEGER NOT NULL DEFAULT 1,
		port_sharing_enabled INTEGER NOT NULL DEFAULT 1,
		client_callback_base_address TEXT NOT NULL DEFAULT '',
		metadata_port INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS bindings (
		model_name TEXT NOT NULL,
		kind TEXT NOT NULL,
		name TEXT NOT NULL,
		params TEXT NOT NULL,
		PRIMARY KEY (model_name, kind, name),
		FOREIGN KEY (model_name) REFERENCES models(name) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS service_policies (
		model_name TEXT NOT NULL,
		name TEXT NOT NULL,
		policy TEXT NOT NULL,
		PRIMARY KEY (model_name, name),
		FOREIGN KEY (model_name) REFERENCES models(name) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS client_policies (
		model_name TEXT NOT NULL,
		name TEXT NOT NULL,
		policy TEXT NOT NULL,
		PRIMARY KEY (model_name, name),
		FOREIGN KEY (model_name) REFERENCES models(name) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS services (
		model_name TEXT NOT NULL,
		name TEXT NOT NULL,
		behavior_name TEXT NOT NULL,
		PRIMARY KEY (model_name, name),
		FOREIGN KEY (model_name) REFERENCES models(name) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS service_endpoints (
		model_name TEXT NOT NULL,
		service_name TEXT NOT NULL,
		position INTEGER NOT NULL,
		address TEXT NOT NULL,
		contract TEXT NOT NULL,
		binding_name TEXT NOT NULL,
		kind TEXT NOT NULL,
		PRIMARY KEY (model_name, service_name, position),
		FOREIGN KEY (model_name, service_name) REFERENCES services(model_name, name) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS client_endpoints (
		model_name TEXT NOT NULL,
		position INTEGER NOT NULL,
		name TEXT NOT NULL,
		address TEXT NOT NULL,
		contract TEXT NOT NULL,
		binding_name TEXT NOT NULL,
		behavior_name TEXT NOT NULL,
		kind TEXT NOT NULL,
		PRIMARY KEY (model_name, position),
		FOREIGN KEY (model_name) REFERENCES models(name) ON DELETE CASCADE
	)`,
}

func applyPragmas(ctx context.Context, db *sql.DB, readOnly bool) error {
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", int(defaultBusyTimeout.Milliseconds())),
		"PRAGMA foreign_keys = ON",
	}

	if !readOnly {
		pragmas = append(pragmas,
			"PRAGMA journal_mode = WAL",
			"PRAGMA synchronous = NORMAL",
			"PRAGMA temp_store = MEMORY",
		)
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("config: apply pragma %q: %w", pragma, err)
		}
	}

	return nil
}

func applySchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("config: begin schema transaction: %w", err)
	}

	for _, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("config: apply schema statement %q: %w", abbreviate(stmt), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("config: commit schema transaction: %w", err)
	}

	return nil
}

func abbreviate(stmt string) string {
	const maxLen = 64
	trimmed := strings.Join(strings.Fields(stmt), " ")
	if len(trimmed) <= maxLen {
		return trimmed
	}
	return trimmed[:maxLen] + "…"
}
