// Panobench - Street-View Navigation Benchmark Platform
// Copyright 2026 Panobench Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/panobench/panobench

package preload

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/panobench/panobench/internal/model"
)

// countingRepo tracks per-pano production counts.
type countingRepo struct {
	mu        sync.Mutex
	metaCalls map[string]int
	imgCalls  map[string]int
	failing   map[string]bool
	active    atomic.Int32
	peak      atomic.Int32
	delay     time.Duration
}

func newCountingRepo() *countingRepo {
	return &countingRepo{
		metaCalls: make(map[string]int),
		imgCalls:  make(map[string]int),
		failing:   make(map[string]bool),
	}
}

func (r *countingRepo) track() func() {
	n := r.active.Add(1)
	for {
		peak := r.peak.Load()
		if n <= peak || r.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	return func() { r.active.Add(-1) }
}

func (r *countingRepo) GetMetadata(ctx context.Context, panoID string) (*model.PanoramaMetadata, error) {
	defer r.track()()
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	r.metaCalls[panoID]++
	fail := r.failing[panoID]
	r.mu.Unlock()
	if fail {
		return nil, fmt.Errorf("no metadata for %s", panoID)
	}
	return &model.PanoramaMetadata{PanoID: panoID}, nil
}

func (r *countingRepo) GetImage(ctx context.Context, panoID string, zoom int) (string, error) {
	r.mu.Lock()
	r.imgCalls[panoID]++
	r.mu.Unlock()
	return panoID + ".jpg", nil
}

func waitCompleted(t *testing.T, o *Orchestrator, name string) Progress {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		p := o.Progress(name)
		if p.Status == StatusCompleted {
			return p
		}
		select {
		case <-deadline:
			t.Fatalf("preload %s never completed: %+v", name, p)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestPreloadCompletes(t *testing.T) {
	repo := newCountingRepo()
	o := New(repo, 4)

	ids := []string{"p0", "p1", "p2", "p3", "p4", "p5", "p6", "p7"}
	p := o.Start(context.Background(), "g1", ids, 2)
	if p.Status != StatusInProgress && p.Status != StatusCompleted {
		t.Errorf("initial status = %s", p.Status)
	}

	final := waitCompleted(t, o, "g1")
	if final.Done != 8 || final.Total != 8 || final.Errors != 0 {
		t.Errorf("final = %+v", final)
	}
	if final.Percentage != 100 {
		t.Errorf("percentage = %v", final.Percentage)
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()
	for _, id := range ids {
		if repo.metaCalls[id] != 1 || repo.imgCalls[id] != 1 {
			t.Errorf("pano %s: meta=%d img=%d, want 1/1", id, repo.metaCalls[id], repo.imgCalls[id])
		}
	}
}

func TestDuplicateStartsShareRecord(t *testing.T) {
	repo := newCountingRepo()
	repo.delay = 20 * time.Millisecond
	o := New(repo, 2)
	ctx := context.Background()

	ids := []string{"p0", "p1", "p2"}
	o.Start(ctx, "g1", ids, 2)
	o.Start(ctx, "g1", ids, 2)
	o.Start(ctx, "g1", ids, 2)

	waitCompleted(t, o, "g1")

	repo.mu.Lock()
	defer repo.mu.Unlock()
	for _, id := range ids {
		if repo.metaCalls[id] != 1 {
			t.Errorf("pano %s fetched %d times, want 1", id, repo.metaCalls[id])
		}
	}
}

func TestErrorsCountedNotFatal(t *testing.T) {
	repo := newCountingRepo()
	repo.failing["p1"] = true
	o := New(repo, 4)

	o.Start(context.Background(), "g1", []string{"p0", "p1", "p2"}, 2)
	final := waitCompleted(t, o, "g1")

	if final.Done != 3 || final.Errors != 1 {
		t.Errorf("final = %+v, want done=3 errors=1", final)
	}
}

func TestConcurrencyCap(t *testing.T) {
	repo := newCountingRepo()
	repo.delay = 15 * time.Millisecond
	o := New(repo, 3)

	ids := make([]string, 12)
	for i := range ids {
		ids[i] = fmt.Sprintf("p%d", i)
	}
	o.Start(context.Background(), "g1", ids, 2)
	waitCompleted(t, o, "g1")

	if peak := repo.peak.Load(); peak > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", peak)
	}
}

func TestProgressMonotone(t *testing.T) {
	repo := newCountingRepo()
	repo.delay = 5 * time.Millisecond
	o := New(repo, 2)

	o.Start(context.Background(), "g1", []string{"p0", "p1", "p2", "p3", "p4"}, 2)

	prev := -1
	for {
		p := o.Progress("g1")
		if p.Done < prev {
			t.Fatalf("done decreased: %d -> %d", prev, p.Done)
		}
		if p.Done > p.Total {
			t.Fatalf("done %d exceeds total %d", p.Done, p.Total)
		}
		prev = p.Done
		if p.Status == StatusCompleted {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestUnknownWhitelistNotStarted(t *testing.T) {
	o := New(newCountingRepo(), 2)
	if p := o.Progress("nope"); p.Status != StatusNotStarted {
		t.Errorf("status = %s", p.Status)
	}
}

func TestEmptyWhitelistCompletesImmediately(t *testing.T) {
	o := New(newCountingRepo(), 2)
	p := o.Start(context.Background(), "empty", nil, 2)
	if p.Status != StatusCompleted || p.Total != 0 {
		t.Errorf("progress = %+v", p)
	}
}
