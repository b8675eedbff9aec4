// Panobench - Street-View Navigation Benchmark Platform
// Copyright 2026 Panobench Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/panobench/panobench

package pano

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/panobench/panobench/internal/cache"
	"github.com/panobench/panobench/internal/geofence"
	"github.com/panobench/panobench/internal/logging"
	"github.com/panobench/panobench/internal/metrics"
	"github.com/panobench/panobench/internal/model"
	"github.com/panobench/panobench/internal/provider"
)

// MetadataSource is the REST metadata surface of the map provider.
type MetadataSource interface {
	FetchBasicMetadata(ctx context.Context, panoID string) (*provider.BasicMetadata, error)
}

// SlotSource bounds concurrent panorama builds.
type SlotSource interface {
	AcquirePanoramaSlot(ctx context.Context) (func(), error)
}

// Repository is the single entry point for panorama images and metadata.
// A per-key lock table makes both productions at-most-once: concurrent
// requests for the same key either wait on the in-flight build or hit the
// cache the builder populated.
type Repository struct {
	cache    *cache.Cache
	meta     MetadataSource
	slots    SlotSource
	tiles    TileSource
	links    provider.LinkFetcher
	geofence *geofence.Store

	tileSize  int
	tileSlots int
	budget    time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewRepository wires the repository. tileSlots bounds the tile fan-out of
// one build; budget bounds its wall clock (fetch + stitch + persist).
func NewRepository(c *cache.Cache, meta MetadataSource, slots SlotSource, tiles TileSource,
	links provider.LinkFetcher, fences *geofence.Store, tileSize, tileSlots int, budget time.Duration) *Repository {
	return &Repository{
		cache:     c,
		meta:      meta,
		slots:     slots,
		tiles:     tiles,
		links:     links,
		geofence:  fences,
		tileSize:  tileSize,
		tileSlots: tileSlots,
		budget:    budget,
		locks:     make(map[string]*sync.Mutex),
	}
}

// keyLock returns the mutex for a build key, creating it on first use.
// Lock entries are never removed; the key space is the visited panorama
// set, which is small relative to the images it guards.
func (r *Repository) keyLock(key string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[key]
	if !ok {
		l = &sync.Mutex{}
		r.locks[key] = l
	}
	return l
}

// GetImage returns the on-disk path of the stitched panorama, building it
// on a cache miss. At most one build per (panoID, zoom) runs at a time.
func (r *Repository) GetImage(ctx context.Context, panoID string, zoom int) (string, error) {
	if path, err := r.cache.GetImagePath(ctx, panoID, zoom); err == nil {
		return path, nil
	} else if !errors.Is(err, cache.ErrNotCached) {
		return "", model.WrapError(model.ErrInternal, err, "image lookup for %s z%d", panoID, zoom)
	}

	lock := r.keyLock("img:" + panoID + ":" + cache.ImageFileName(panoID, zoom))
	lock.Lock()
	defer lock.Unlock()

	// A concurrent builder may have finished while we waited.
	if path, err := r.cache.GetImagePath(ctx, panoID, zoom); err == nil {
		return path, nil
	} else if !errors.Is(err, cache.ErrNotCached) {
		return "", model.WrapError(model.ErrInternal, err, "image recheck for %s z%d", panoID, zoom)
	}

	return r.buildImage(ctx, panoID, zoom)
}

func (r *Repository) buildImage(ctx context.Context, panoID string, zoom int) (string, error) {
	start := time.Now()

	release, err := r.slots.AcquirePanoramaSlot(ctx)
	if err != nil {
		return "", model.WrapError(model.ErrUnavailable, err, "panorama slot for %s", panoID)
	}
	defer release()

	buildCtx := ctx
	if r.budget > 0 {
		var cancel context.CancelFunc
		buildCtx, cancel = context.WithTimeout(ctx, r.budget)
		defer cancel()
	}

	tiles, err := FetchAllTiles(buildCtx, r.tiles, panoID, zoom, r.tileSlots)
	if err != nil {
		metrics.RecordPanoramaBuild(0, err)
		return "", model.WrapError(model.ErrUnavailable, err, "tile fetch for %s z%d", panoID, zoom)
	}

	stitched, err := Stitch(tiles, r.tileSize)
	if err != nil {
		metrics.RecordPanoramaBuild(0, err)
		return "", model.WrapError(model.ErrInternal, err, "stitching %s z%d", panoID, zoom)
	}

	path, err := r.cache.PutImage(ctx, panoID, zoom, stitched)
	if err != nil {
		metrics.RecordPanoramaBuild(0, err)
		return "", model.WrapError(model.ErrInternal, err, "persisting %s z%d", panoID, zoom)
	}

	metrics.RecordPanoramaBuild(time.Since(start), nil)
	logging.WithComponent("pano").Info().
		Str("pano_id", panoID).
		Int("zoom", zoom).
		Dur("duration", time.Since(start)).
		Msg("panorama built")

	return path, nil
}

// GetMetadata returns metadata for panoID, fetching and persisting it on a
// cache miss. The REST coordinates and the JS-SDK links are fetched
// concurrently; both must succeed for the metadata to be cached.
func (r *Repository) GetMetadata(ctx context.Context, panoID string) (*model.PanoramaMetadata, error) {
	if meta, err := r.cache.GetMetadata(ctx, panoID); err == nil {
		return meta, nil
	} else if !errors.Is(err, cache.ErrNotCached) {
		return nil, model.WrapError(model.ErrInternal, err, "metadata lookup for %s", panoID)
	}

	lock := r.keyLock("meta:" + panoID)
	lock.Lock()
	defer lock.Unlock()

	if meta, err := r.cache.GetMetadata(ctx, panoID); err == nil {
		return meta, nil
	} else if !errors.Is(err, cache.ErrNotCached) {
		return nil, model.WrapError(model.ErrInternal, err, "metadata recheck for %s", panoID)
	}

	var (
		basic      *provider.BasicMetadata
		linkResult *provider.LinkResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m, err := r.meta.FetchBasicMetadata(gctx, panoID)
		if err != nil {
			return err
		}
		basic = m
		return nil
	})
	g.Go(func() error {
		l, err := r.links.FetchLinks(gctx, panoID)
		if err != nil {
			return err
		}
		linkResult = l
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, model.WrapError(model.ErrUnavailable, err, "metadata fetch for %s", panoID)
	}

	meta := &model.PanoramaMetadata{
		PanoID:        panoID,
		Lat:           basic.Lat,
		Lng:           basic.Lng,
		CaptureDate:   basic.CaptureDate,
		CenterHeading: linkResult.CenterHeading,
		Links:         linkResult.Links,
		Source:        "maps_js_api",
	}

	if err := r.cache.PutMetadata(ctx, meta); err != nil {
		return nil, model.WrapError(model.ErrInternal, err, "persisting metadata for %s", panoID)
	}

	return meta, nil
}

// GetLinksFiltered returns the pano's links admissible under the named
// geofence.
func (r *Repository) GetLinksFiltered(ctx context.Context, panoID, geofenceName string) ([]model.Link, error) {
	meta, err := r.GetMetadata(ctx, panoID)
	if err != nil {
		return nil, err
	}
	return r.geofence.FilterLinks(geofenceName, meta.Links), nil
}

// Locations batch-resolves neighbor coordinates from the cache.
func (r *Repository) Locations(ctx context.Context, panoIDs []string) (map[string]model.Location, error) {
	return r.cache.GetLocationsBatch(ctx, panoIDs)
}
