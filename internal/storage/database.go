/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/loqalabs/loqa-speech/internal/logging"
	"github.com/loqalabs/loqa-speech/internal/security"
)

//go:embed schema.sql
var schemaFiles embed.FS

const (
	defaultLogPath     = "./data/loqa-speech.db"
	defaultBusyTimeout = 5 * time.Second
	pingTimeout        = 2 * time.Second

	// schemaVersion is recorded in PRAGMA user_version once schema.sql is applied.
	schemaVersion = 1
)

// logPragmas are set on every pooled connection through the DSN. The
// pipeline is the only writer; history queries and the CLI only read.
var logPragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"foreign_keys(1)",
	"temp_store(MEMORY)",
}

// Database is the SQLite file holding the analysis log: one row per
// /analyze request, read back by the history endpoints and pruned by age.
type Database struct {
	db   *sql.DB
	path string
}

// DatabaseConfig locates the analysis log.
type DatabaseConfig struct {
	// Path of the SQLite file. Empty falls back to DB_PATH, then ./data/loqa-speech.db.
	Path string
	// BusyTimeout bounds how long a statement waits on a locked log. Zero means 5s.
	BusyTimeout time.Duration
}

// NewDatabase opens the analysis log, creating the file and its directory on
// first use, and brings the schema up to schemaVersion.
func NewDatabase(config DatabaseConfig) (*Database, error) {
	path := resolveLogPath(config.Path)
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create analysis log directory: %w", err)
		}
	}

	busy := config.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}

	db, err := sql.Open("sqlite", logDSN(path, busy))
	if err != nil {
		return nil, fmt.Errorf("failed to open analysis log: %w", err)
	}

	database := &Database{db: db, path: path}
	if err := database.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to prepare analysis log: %w", err)
	}

	logging.LogDatabaseOperation("connect", "analyses",
		zap.String("path", security.SanitizeLogInput(path)),
		zap.Duration("busy_timeout", busy))
	return database, nil
}

func resolveLogPath(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv("DB_PATH"); env != "" {
		return env
	}
	return defaultLogPath
}

func logDSN(path string, busy time.Duration) string {
	query := url.Values{}
	query.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	for _, pragma := range logPragmas {
		query.Add("_pragma", pragma)
	}
	return "file:" + path + "?" + query.Encode()
}

// migrate applies schema.sql when the file predates schemaVersion. The
// statements are idempotent, so a crash between apply and version bump is safe.
func (d *Database) migrate() error {
	var version int
	if err := d.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if version >= schemaVersion {
		return nil
	}

	schemaSQL, err := schemaFiles.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema.sql: %w", err)
	}
	if _, err := d.db.Exec(string(schemaSQL)); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	if _, err := d.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}

	logging.LogDatabaseOperation("migrate", "analyses",
		zap.Int("from_version", version),
		zap.Int("to_version", schemaVersion))
	return nil
}

// DB exposes the pool for the analyses store.
func (d *Database) DB() *sql.DB {
	return d.db
}

// Close closes the analysis log.
func (d *Database) Close() error {
	if d.db == nil {
		return nil
	}
	logging.LogDatabaseOperation("close", "analyses",
		zap.String("path", security.SanitizeLogInput(d.path)))
	return d.db.Close()
}

// Ping checks that the analysis log is reachable; /health reports it.
func (d *Database) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	return d.db.PingContext(ctx)
}

// GetPath returns the file backing the analysis log.
func (d *Database) GetPath() string {
	return d.path
}

// Checkpoint folds the WAL back into the log file. Called on shutdown so the
// .db file is complete on its own.
func (d *Database) Checkpoint() error {
	var busy, walFrames, checkpointed int
	err := d.db.QueryRow("PRAGMA wal_checkpoint(TRUNCATE)").Scan(&busy, &walFrames, &checkpointed)
	if err != nil {
		return fmt.Errorf("failed to checkpoint analysis log: %w", err)
	}
	if busy != 0 {
		return fmt.Errorf("analysis log checkpoint blocked by an open reader")
	}
	logging.LogDatabaseOperation("checkpoint", "analyses",
		zap.Int("wal_frames", walFrames),
		zap.Int("checkpointed", checkpointed))
	return nil
}
