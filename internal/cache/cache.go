// Panobench - Street-View Navigation Benchmark Platform
// Copyright 2026 Panobench Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/panobench/panobench

// Package cache is the persistent store behind the evaluation runtime: an
// embedded SQLite database holding panorama metadata, denormalized locations,
// the stitched-image file index, and session snapshots.
//
// The database runs in WAL mode with NORMAL synchronous writes, so readers
// never block on the single writer. Image bytes themselves live on disk
// under the panoramas directory; the database only indexes their paths.
package cache

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/panobench/panobench/internal/logging"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Cache wraps the SQLite connection and the image directory.
type Cache struct {
	db           *sql.DB
	panoramasDir string
}

// Open opens (creating if needed) the cache database at path, applies
// pragmas and pending migrations, and ensures panoramasDir exists.
func Open(path, panoramasDir string) (*Cache, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}
	if err := os.MkdirAll(panoramasDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating panoramas directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}

	// SQLite allows one writer; concurrency comes from WAL readers.
	// Extra pool connections just pile up on the write lock.
	db.SetMaxOpenConns(4)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=-65536", // 64 MB page cache
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %s: %w", pragma, err)
		}
	}

	c := &Cache{db: db, panoramasDir: panoramasDir}
	if err := c.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}

	logging.WithComponent("cache").Info().
		Str("path", path).
		Str("panoramas_dir", panoramasDir).
		Msg("cache opened")

	return c, nil
}

// migrateUp applies all pending embedded migrations.
func (c *Cache) migrateUp() error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("loading embedded migrations: %w", err)
	}

	driver, err := migratesqlite.WithInstance(c.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("creating sqlite migrate driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}
	// Not closed: closing would close the shared *sql.DB.

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running migrations: %w", err)
	}

	return nil
}

// PanoramasDir returns the directory holding stitched panorama files.
func (c *Cache) PanoramasDir() string {
	return c.panoramasDir
}

// DB exposes the underlying handle for health checks.
func (c *Cache) DB() *sql.DB {
	return c.db
}

// Close closes the database.
func (c *Cache) Close() error {
	return c.db.Close()
}
