// Panobench - Street-View Navigation Benchmark Platform
// Copyright 2026 Panobench Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/panobench/panobench

// Package pano builds and serves equirectangular panoramas: concurrent tile
// fetching, grid stitching, and the repository that makes image and metadata
// production idempotent under parallel callers.
package pano

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"time"

	"github.com/panobench/panobench/internal/metrics"
	"github.com/panobench/panobench/internal/provider"
)

// stitchJPEGQuality is the encoder quality for stitched panoramas.
const stitchJPEGQuality = 90

// Stitch composes the fetched tile grid into one equirectangular JPEG.
// tiles is indexed [row][col]; every cell must decode to a tileSize-square
// image. The output is (cols*tileSize) x (rows*tileSize) pixels.
func Stitch(tiles [][][]byte, tileSize int) ([]byte, error) {
	start := time.Now()

	rows := len(tiles)
	if rows == 0 {
		return nil, fmt.Errorf("empty tile grid")
	}
	cols := len(tiles[0])

	canvas := image.NewRGBA(image.Rect(0, 0, cols*tileSize, rows*tileSize))

	for y := 0; y < rows; y++ {
		if len(tiles[y]) != cols {
			return nil, fmt.Errorf("ragged tile grid: row %d has %d tiles, want %d", y, len(tiles[y]), cols)
		}
		for x := 0; x < cols; x++ {
			tile, _, err := image.Decode(bytes.NewReader(tiles[y][x]))
			if err != nil {
				return nil, fmt.Errorf("decoding tile (%d,%d): %w", x, y, err)
			}
			target := image.Rect(x*tileSize, y*tileSize, (x+1)*tileSize, (y+1)*tileSize)
			draw.Draw(canvas, target, tile, tile.Bounds().Min, draw.Src)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: stitchJPEGQuality}); err != nil {
		return nil, fmt.Errorf("encoding stitched panorama: %w", err)
	}

	metrics.PanoramaStitchDuration.Observe(time.Since(start).Seconds())
	return buf.Bytes(), nil
}

// ExpectedDimensions returns the stitched image size for a zoom level.
func ExpectedDimensions(zoom, tileSize int) (width, height int) {
	cols, rows := provider.TileGrid(zoom)
	return cols * tileSize, rows * tileSize
}
