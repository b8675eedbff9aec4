// Panobench - Street-View Navigation Benchmark Platform
// Copyright 2026 Panobench Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/panobench/panobench

package pano

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/panobench/panobench/internal/cache"
	"github.com/panobench/panobench/internal/geofence"
	"github.com/panobench/panobench/internal/model"
	"github.com/panobench/panobench/internal/provider"
)

const testTileSize = 8

// encodeTile produces a solid-color JPEG tile.
func encodeTile(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, testTileSize, testTileSize))
	for y := 0; y < testTileSize; y++ {
		for x := 0; x < testTileSize; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encoding test tile: %v", err)
	}
	return buf.Bytes()
}

// fakeTileSource serves identical tiles and counts fetches.
type fakeTileSource struct {
	tile  []byte
	calls atomic.Int32
	fail  bool
}

func (f *fakeTileSource) FetchTile(ctx context.Context, panoID string, zoom, x, y int) ([]byte, error) {
	f.calls.Add(1)
	if f.fail {
		return nil, fmt.Errorf("tile endpoint down")
	}
	return f.tile, nil
}

// fakeMetaSource serves fixed coordinates and counts fetches.
type fakeMetaSource struct {
	calls atomic.Int32
	fail  bool
}

func (f *fakeMetaSource) FetchBasicMetadata(ctx context.Context, panoID string) (*provider.BasicMetadata, error) {
	f.calls.Add(1)
	if f.fail {
		return nil, fmt.Errorf("metadata endpoint down")
	}
	return &provider.BasicMetadata{PanoID: panoID, Lat: 40.5, Lng: -73.5, CaptureDate: "2024-06"}, nil
}

// fakeLinkFetcher serves a fixed link set and counts fetches.
type fakeLinkFetcher struct {
	calls atomic.Int32
}

func (f *fakeLinkFetcher) FetchLinks(ctx context.Context, panoID string) (*provider.LinkResult, error) {
	f.calls.Add(1)
	return &provider.LinkResult{
		Links:         []model.Link{{PanoID: "n1", Heading: 90}},
		CenterHeading: 180,
	}, nil
}

func (f *fakeLinkFetcher) Close() error { return nil }

// openSlots never blocks.
type openSlots struct{}

func (openSlots) AcquirePanoramaSlot(ctx context.Context) (func(), error) {
	return func() {}, nil
}

func newTestRepository(t *testing.T, tiles TileSource, meta MetadataSource, links provider.LinkFetcher) (*Repository, *cache.Cache) {
	t.Helper()
	dir := t.TempDir()
	c, err := cache.Open(filepath.Join(dir, "cache.db"), filepath.Join(dir, "panoramas"))
	if err != nil {
		t.Fatalf("opening cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	fences, err := geofence.New(filepath.Join(dir, "absent.json"))
	if err != nil {
		t.Fatalf("creating geofence store: %v", err)
	}

	repo := NewRepository(c, meta, openSlots{}, tiles, links, fences, testTileSize, 4, 30*time.Second)
	return repo, c
}

func TestStitchDimensions(t *testing.T) {
	tile := encodeTile(t, color.RGBA{R: 200, A: 255})
	// zoom 2 grid: 4x2
	tiles := [][][]byte{
		{tile, tile, tile, tile},
		{tile, tile, tile, tile},
	}

	data, err := Stitch(tiles, testTileSize)
	if err != nil {
		t.Fatalf("Stitch: %v", err)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decoding stitched image: %v", err)
	}
	wantW, wantH := 4*testTileSize, 2*testTileSize
	if img.Bounds().Dx() != wantW || img.Bounds().Dy() != wantH {
		t.Errorf("stitched size = %dx%d, want %dx%d",
			img.Bounds().Dx(), img.Bounds().Dy(), wantW, wantH)
	}
}

func TestStitchTilePlacement(t *testing.T) {
	red := encodeTile(t, color.RGBA{R: 255, A: 255})
	blue := encodeTile(t, color.RGBA{B: 255, A: 255})
	// zoom 1 grid: 2x1 — red left, blue right.
	tiles := [][][]byte{{red, blue}}

	data, err := Stitch(tiles, testTileSize)
	if err != nil {
		t.Fatalf("Stitch: %v", err)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decoding: %v", err)
	}

	r, _, b, _ := img.At(2, 2).RGBA()
	if r < b {
		t.Error("left half should be red")
	}
	r, _, b, _ = img.At(testTileSize+2, 2).RGBA()
	if b < r {
		t.Error("right half should be blue")
	}
}

func TestStitchBadTile(t *testing.T) {
	tiles := [][][]byte{{[]byte("not a jpeg")}}
	if _, err := Stitch(tiles, testTileSize); err == nil {
		t.Error("expected decode error")
	}
}

func TestFetchAllTiles(t *testing.T) {
	source := &fakeTileSource{tile: encodeTile(t, color.White)}
	tiles, err := FetchAllTiles(context.Background(), source, "p0", 2, 4)
	if err != nil {
		t.Fatalf("FetchAllTiles: %v", err)
	}
	if len(tiles) != 2 || len(tiles[0]) != 4 {
		t.Errorf("grid = %dx%d, want 2 rows x 4 cols", len(tiles), len(tiles[0]))
	}
	if source.calls.Load() != 8 {
		t.Errorf("fetch calls = %d, want 8", source.calls.Load())
	}
}

func TestFetchAllTilesFailureFailsBuild(t *testing.T) {
	source := &fakeTileSource{fail: true}
	if _, err := FetchAllTiles(context.Background(), source, "p0", 1, 4); err == nil {
		t.Error("expected error when tiles fail")
	}
}

func TestGetImageBuildsOnceAndCaches(t *testing.T) {
	source := &fakeTileSource{tile: encodeTile(t, color.White)}
	repo, _ := newTestRepository(t, source, &fakeMetaSource{}, &fakeLinkFetcher{})
	ctx := context.Background()

	path1, err := repo.GetImage(ctx, "p0", 1)
	if err != nil {
		t.Fatalf("GetImage: %v", err)
	}
	callsAfterBuild := source.calls.Load()

	path2, err := repo.GetImage(ctx, "p0", 1)
	if err != nil {
		t.Fatalf("GetImage second call: %v", err)
	}
	if path1 != path2 {
		t.Errorf("paths differ: %s vs %s", path1, path2)
	}
	if source.calls.Load() != callsAfterBuild {
		t.Errorf("cache hit fetched tiles: %d -> %d calls", callsAfterBuild, source.calls.Load())
	}
}

func TestGetImageAtMostOnceUnderConcurrency(t *testing.T) {
	source := &fakeTileSource{tile: encodeTile(t, color.White)}
	repo, _ := newTestRepository(t, source, &fakeMetaSource{}, &fakeLinkFetcher{})
	ctx := context.Background()

	const callers = 8
	var wg sync.WaitGroup
	paths := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			paths[i], errs[i] = repo.GetImage(ctx, "p0", 1)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d failed: %v", i, errs[i])
		}
		if paths[i] != paths[0] {
			t.Errorf("caller %d got path %s, want %s", i, paths[i], paths[0])
		}
	}

	// zoom 1 is 2 tiles; exactly one build means exactly 2 fetches.
	if got := source.calls.Load(); got != 2 {
		t.Errorf("tile fetches = %d, want 2 (single build)", got)
	}
}

func TestGetMetadataIdempotent(t *testing.T) {
	meta := &fakeMetaSource{}
	links := &fakeLinkFetcher{}
	repo, _ := newTestRepository(t, &fakeTileSource{}, meta, links)
	ctx := context.Background()

	first, err := repo.GetMetadata(ctx, "p0")
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if first.CenterHeading != 180 || len(first.Links) != 1 {
		t.Errorf("unexpected metadata: %+v", first)
	}

	second, err := repo.GetMetadata(ctx, "p0")
	if err != nil {
		t.Fatalf("GetMetadata second call: %v", err)
	}
	if meta.calls.Load() != 1 || links.calls.Load() != 1 {
		t.Errorf("repeat lookup hit the network: meta=%d links=%d",
			meta.calls.Load(), links.calls.Load())
	}
	if second.PanoID != first.PanoID || second.CenterHeading != first.CenterHeading {
		t.Errorf("metadata not stable across lookups")
	}
}

func TestGetMetadataFailureNotCached(t *testing.T) {
	meta := &fakeMetaSource{fail: true}
	repo, _ := newTestRepository(t, &fakeTileSource{}, meta, &fakeLinkFetcher{})
	ctx := context.Background()

	if _, err := repo.GetMetadata(ctx, "p0"); err == nil {
		t.Fatal("expected metadata failure")
	}

	// Recovery: the next call retries instead of serving a cached failure.
	meta.fail = false
	if _, err := repo.GetMetadata(ctx, "p0"); err != nil {
		t.Fatalf("GetMetadata after recovery: %v", err)
	}
}

func TestGetLinksFiltered(t *testing.T) {
	repo, _ := newTestRepository(t, &fakeTileSource{}, &fakeMetaSource{}, &fakeLinkFetcher{})
	ctx := context.Background()

	// Absent geofence config: everything passes.
	links, err := repo.GetLinksFiltered(ctx, "p0", "any")
	if err != nil {
		t.Fatalf("GetLinksFiltered: %v", err)
	}
	if len(links) != 1 || links[0].PanoID != "n1" {
		t.Errorf("links = %+v", links)
	}
}

// trackingTileSource measures peak fetch concurrency.
type trackingTileSource struct {
	tile    []byte
	current atomic.Int32
	peak    atomic.Int32
}

func (s *trackingTileSource) FetchTile(ctx context.Context, panoID string, zoom, x, y int) ([]byte, error) {
	cur := s.current.Add(1)
	for {
		p := s.peak.Load()
		if cur <= p || s.peak.CompareAndSwap(p, cur) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	s.current.Add(-1)
	return s.tile, nil
}

func TestFetchAllTilesBoundsConcurrency(t *testing.T) {
	source := &trackingTileSource{tile: encodeTile(t, color.White)}

	// Zoom 3 is a 8x4 grid: 32 tiles against a fan-out limit of 2.
	if _, err := FetchAllTiles(context.Background(), source, "p0", 3, 2); err != nil {
		t.Fatalf("FetchAllTiles: %v", err)
	}
	if peak := source.peak.Load(); peak > 2 {
		t.Errorf("peak concurrency = %d, want at most 2", peak)
	}
}
