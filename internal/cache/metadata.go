// Panobench - Street-View Navigation Benchmark Platform
// Copyright 2026 Panobench Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/panobench/panobench

package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/panobench/panobench/internal/metrics"
	"github.com/panobench/panobench/internal/model"
)

// ErrNotCached is returned when the requested row does not exist.
var ErrNotCached = errors.New("not cached")

// HasMetadata reports whether metadata for panoID is cached.
func (c *Cache) HasMetadata(ctx context.Context, panoID string) (bool, error) {
	var one int
	err := c.db.QueryRowContext(ctx,
		"SELECT 1 FROM metadata WHERE pano_id = ?", panoID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking metadata for %s: %w", panoID, err)
	}
	return true, nil
}

// GetMetadata returns cached metadata for panoID, or ErrNotCached.
func (c *Cache) GetMetadata(ctx context.Context, panoID string) (*model.PanoramaMetadata, error) {
	var (
		meta      model.PanoramaMetadata
		capture   sql.NullString
		source    sql.NullString
		linksJSON string
	)
	err := c.db.QueryRowContext(ctx, `
		SELECT pano_id, lat, lng, capture_date, center_heading, links, source
		FROM metadata WHERE pano_id = ?`, panoID).
		Scan(&meta.PanoID, &meta.Lat, &meta.Lng, &capture, &meta.CenterHeading, &linksJSON, &source)
	if errors.Is(err, sql.ErrNoRows) {
		metrics.RecordCacheAccess("metadata", false)
		return nil, ErrNotCached
	}
	if err != nil {
		return nil, fmt.Errorf("loading metadata for %s: %w", panoID, err)
	}

	meta.CaptureDate = capture.String
	meta.Source = source.String
	if err := json.Unmarshal([]byte(linksJSON), &meta.Links); err != nil {
		return nil, fmt.Errorf("decoding links for %s: %w", panoID, err)
	}

	metrics.RecordCacheAccess("metadata", true)
	return &meta, nil
}

// PutMetadata stores metadata and its denormalized location in one
// transaction. Existing rows are replaced.
func (c *Cache) PutMetadata(ctx context.Context, meta *model.PanoramaMetadata) error {
	linksJSON, err := json.Marshal(meta.Links)
	if err != nil {
		return fmt.Errorf("encoding links for %s: %w", meta.PanoID, err)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning metadata transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO metadata
			(pano_id, lat, lng, capture_date, center_heading, links, source)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		meta.PanoID, meta.Lat, meta.Lng, nullIfEmpty(meta.CaptureDate),
		meta.CenterHeading, string(linksJSON), nullIfEmpty(meta.Source))
	if err != nil {
		return fmt.Errorf("storing metadata for %s: %w", meta.PanoID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO locations (pano_id, lat, lng)
		VALUES (?, ?, ?)`, meta.PanoID, meta.Lat, meta.Lng)
	if err != nil {
		return fmt.Errorf("storing location for %s: %w", meta.PanoID, err)
	}

	return tx.Commit()
}

// GetLocation returns the coordinates for panoID, or ErrNotCached.
func (c *Cache) GetLocation(ctx context.Context, panoID string) (model.Location, error) {
	var loc model.Location
	err := c.db.QueryRowContext(ctx,
		"SELECT lat, lng FROM locations WHERE pano_id = ?", panoID).
		Scan(&loc.Lat, &loc.Lng)
	if errors.Is(err, sql.ErrNoRows) {
		metrics.RecordCacheAccess("location", false)
		return model.Location{}, ErrNotCached
	}
	if err != nil {
		return model.Location{}, fmt.Errorf("loading location for %s: %w", panoID, err)
	}
	metrics.RecordCacheAccess("location", true)
	return loc, nil
}

// GetLocationsBatch resolves coordinates for many panoramas in one query.
// Missing panoramas are simply absent from the result map.
func (c *Cache) GetLocationsBatch(ctx context.Context, panoIDs []string) (map[string]model.Location, error) {
	result := make(map[string]model.Location, len(panoIDs))
	if len(panoIDs) == 0 {
		return result, nil
	}

	placeholders := strings.Repeat("?,", len(panoIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, len(panoIDs))
	for i, id := range panoIDs {
		args[i] = id
	}

	rows, err := c.db.QueryContext(ctx,
		"SELECT pano_id, lat, lng FROM locations WHERE pano_id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, fmt.Errorf("batch location lookup: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id  string
			loc model.Location
		)
		if err := rows.Scan(&id, &loc.Lat, &loc.Lng); err != nil {
			return nil, fmt.Errorf("scanning location row: %w", err)
		}
		result[id] = loc
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating location rows: %w", err)
	}

	return result, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
