// Panobench - Street-View Navigation Benchmark Platform
// Copyright 2026 Panobench Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/panobench/panobench

// Package preload warms the panorama cache for a whitelist of pano IDs
// ahead of benchmark runs, bounded by a global concurrency cap.
package preload

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/panobench/panobench/internal/logging"
	"github.com/panobench/panobench/internal/metrics"
	"github.com/panobench/panobench/internal/model"
)

// Repository is the idempotent production surface preload drives. Satisfied
// by pano.Repository.
type Repository interface {
	GetMetadata(ctx context.Context, panoID string) (*model.PanoramaMetadata, error)
	GetImage(ctx context.Context, panoID string, zoom int) (string, error)
}

// Status is the lifecycle of one preload record.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Progress is a point-in-time snapshot of a preload run.
type Progress struct {
	Status     Status  `json:"status"`
	Done       int     `json:"done"`
	Total      int     `json:"total"`
	Errors     int     `json:"errors"`
	Percentage float64 `json:"percentage"`
}

type record struct {
	mu     sync.Mutex
	status Status
	done   int
	total  int
	errors int
}

func (r *record) snapshot() Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := Progress{Status: r.status, Done: r.done, Total: r.total, Errors: r.errors}
	if r.total > 0 {
		p.Percentage = float64(r.done) / float64(r.total) * 100
	}
	return p
}

// Orchestrator runs preloads in the background. Records are keyed by
// whitelist name; duplicate requests for a name share one record and never
// double-fetch.
type Orchestrator struct {
	repo Repository
	sem  *semaphore.Weighted

	mu      sync.Mutex
	records map[string]*record
}

// New creates an orchestrator capping concurrent pano productions at
// maxConcurrent across all whitelists.
func New(repo Repository, maxConcurrent int) *Orchestrator {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Orchestrator{
		repo:    repo,
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		records: make(map[string]*record),
	}
}

// Start launches a preload for the named whitelist, or reports the existing
// run when one is in flight or finished. The returned snapshot reflects the
// state right after the call.
func (o *Orchestrator) Start(ctx context.Context, name string, panoIDs []string, zoom int) Progress {
	o.mu.Lock()
	if rec, ok := o.records[name]; ok {
		o.mu.Unlock()
		return rec.snapshot()
	}
	rec := &record{status: StatusInProgress, total: len(panoIDs)}
	o.records[name] = rec
	o.mu.Unlock()

	if len(panoIDs) == 0 {
		rec.mu.Lock()
		rec.status = StatusCompleted
		rec.mu.Unlock()
		return rec.snapshot()
	}

	go o.run(name, rec, panoIDs, zoom)
	return rec.snapshot()
}

func (o *Orchestrator) run(name string, rec *record, panoIDs []string, zoom int) {
	// Detached from the request context: preloads outlive the HTTP call
	// that launched them.
	ctx := context.Background()
	log := logging.WithComponent("preload")

	metrics.PreloadActive.Inc()
	defer metrics.PreloadActive.Dec()

	var wg sync.WaitGroup
	for _, panoID := range panoIDs {
		if err := o.sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(panoID string) {
			defer wg.Done()
			defer o.sem.Release(1)

			err := o.warm(ctx, panoID, zoom)

			rec.mu.Lock()
			rec.done++
			if err != nil {
				rec.errors++
			}
			rec.mu.Unlock()

			if err != nil {
				metrics.PreloadErrors.Inc()
				log.Warn().Str("whitelist", name).Str("pano_id", panoID).Err(err).
					Msg("preload pano failed")
			} else {
				metrics.PreloadPanoramasDone.Inc()
			}
		}(panoID)
	}
	wg.Wait()

	rec.mu.Lock()
	rec.status = StatusCompleted
	done, total, errs := rec.done, rec.total, rec.errors
	rec.mu.Unlock()

	log.Info().Str("whitelist", name).
		Int("done", done).Int("total", total).Int("errors", errs).
		Msg("preload finished")
}

// warm makes one pano fully cached: metadata first, then the stitched image.
func (o *Orchestrator) warm(ctx context.Context, panoID string, zoom int) error {
	if _, err := o.repo.GetMetadata(ctx, panoID); err != nil {
		return err
	}
	if _, err := o.repo.GetImage(ctx, panoID, zoom); err != nil {
		return err
	}
	return nil
}

// Progress reports the current state for a whitelist name. Unknown names
// are not_started.
func (o *Orchestrator) Progress(name string) Progress {
	o.mu.Lock()
	rec, ok := o.records[name]
	o.mu.Unlock()
	if !ok {
		return Progress{Status: StatusNotStarted}
	}
	return rec.snapshot()
}
