// Panobench - Street-View Navigation Benchmark Platform
// Copyright 2026 Panobench Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/panobench/panobench

package pano

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/panobench/panobench/internal/provider"
)

// TileSource fetches one raster tile. Satisfied by provider.MapProvider.
type TileSource interface {
	FetchTile(ctx context.Context, panoID string, zoom, x, y int) ([]byte, error)
}

// FetchAllTiles downloads the full tile grid for (panoID, zoom), with at
// most maxConcurrent tile fetches in flight for this panorama. Any tile
// failure cancels the remaining fetches and fails the whole panorama.
func FetchAllTiles(ctx context.Context, source TileSource, panoID string, zoom, maxConcurrent int) ([][][]byte, error) {
	cols, rows := provider.TileGrid(zoom)

	tiles := make([][][]byte, rows)
	for y := range tiles {
		tiles[y] = make([][]byte, cols)
	}

	g, ctx := errgroup.WithContext(ctx)
	if maxConcurrent > 0 {
		g.SetLimit(maxConcurrent)
	}
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			y, x := y, x
			g.Go(func() error {
				data, err := source.FetchTile(ctx, panoID, zoom, x, y)
				if err != nil {
					return err
				}
				tiles[y][x] = data
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return tiles, nil
}
