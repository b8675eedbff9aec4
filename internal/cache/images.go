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
	"os"
	"path/filepath"

	"github.com/panobench/panobench/internal/logging"
	"github.com/panobench/panobench/internal/metrics"
)

// ImageFileName returns the canonical on-disk name for a stitched panorama.
func ImageFileName(panoID string, zoom int) string {
	return fmt.Sprintf("%s_z%d.jpg", panoID, zoom)
}

// HasImage reports whether the stitched image for (panoID, zoom) exists in
// the index AND on disk. A recorded path whose file is gone counts as a miss.
func (c *Cache) HasImage(ctx context.Context, panoID string, zoom int) (bool, error) {
	path, err := c.GetImagePath(ctx, panoID, zoom)
	if errors.Is(err, ErrNotCached) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return path != "", nil
}

// GetImagePath returns the on-disk path of the stitched image, or
// ErrNotCached. Index rows pointing at missing files are pruned and reported
// as misses so a rebuild can proceed.
func (c *Cache) GetImagePath(ctx context.Context, panoID string, zoom int) (string, error) {
	var path string
	err := c.db.QueryRowContext(ctx,
		"SELECT image_path FROM panoramas WHERE pano_id = ? AND zoom = ?",
		panoID, zoom).Scan(&path)
	if errors.Is(err, sql.ErrNoRows) {
		metrics.RecordCacheAccess("panorama", false)
		return "", ErrNotCached
	}
	if err != nil {
		return "", fmt.Errorf("loading image path for %s z%d: %w", panoID, zoom, err)
	}

	if _, err := os.Stat(path); err != nil {
		logging.WithComponent("cache").Warn().
			Str("pano_id", panoID).
			Int("zoom", zoom).
			Str("path", path).
			Msg("indexed image missing on disk, pruning row")
		if _, derr := c.db.ExecContext(ctx,
			"DELETE FROM panoramas WHERE pano_id = ? AND zoom = ?", panoID, zoom); derr != nil {
			return "", fmt.Errorf("pruning stale image row for %s z%d: %w", panoID, zoom, derr)
		}
		metrics.RecordCacheAccess("panorama", false)
		return "", ErrNotCached
	}

	metrics.RecordCacheAccess("panorama", true)
	return path, nil
}

// PutImage writes the image bytes to the panoramas directory and records the
// path in the index. The write goes through a temp file plus rename so a
// crash never leaves a half-written JPEG behind an index row.
func (c *Cache) PutImage(ctx context.Context, panoID string, zoom int, data []byte) (string, error) {
	finalPath := filepath.Join(c.panoramasDir, ImageFileName(panoID, zoom))

	tmp, err := os.CreateTemp(c.panoramasDir, ".stitch-*")
	if err != nil {
		return "", fmt.Errorf("creating temp image file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("writing image for %s z%d: %w", panoID, zoom, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("closing image for %s z%d: %w", panoID, zoom, err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("publishing image for %s z%d: %w", panoID, zoom, err)
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO panoramas (pano_id, zoom, image_path)
		VALUES (?, ?, ?)`, panoID, zoom, finalPath)
	if err != nil {
		return "", fmt.Errorf("indexing image for %s z%d: %w", panoID, zoom, err)
	}

	return finalPath, nil
}

// PutImagePath records an already-written file in the index.
func (c *Cache) PutImagePath(ctx context.Context, panoID string, zoom int, path string) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO panoramas (pano_id, zoom, image_path)
		VALUES (?, ?, ?)`, panoID, zoom, path)
	if err != nil {
		return fmt.Errorf("indexing image for %s z%d: %w", panoID, zoom, err)
	}
	return nil
}
