// Panobench - Street-View Navigation Benchmark Platform
// Copyright 2026 Panobench Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/panobench/panobench

// Package geofence holds the named panorama whitelists that bound where an
// agent may navigate. Config is loaded from a JSON file mapping geofence
// name to a list of pano IDs and can be reloaded at runtime; reload swaps
// the whole snapshot atomically so in-flight lookups never see a partial
// state.
package geofence

import (
	"fmt"
	"os"
	"sort"
	"sync/atomic"

	json "github.com/goccy/go-json"

	"github.com/panobench/panobench/internal/logging"
	"github.com/panobench/panobench/internal/model"
)

// Store is the process-wide geofence registry.
type Store struct {
	path     string
	snapshot atomic.Pointer[snapshot]
}

type snapshot struct {
	fences map[string]map[string]struct{}
}

// New creates a Store reading from path. A missing file is not an error;
// the store starts empty (all lookups permissive) and can be populated by a
// later Reload.
func New(path string) (*Store, error) {
	s := &Store{path: path}
	s.snapshot.Store(&snapshot{fences: map[string]map[string]struct{}{}})

	if _, err := os.Stat(path); os.IsNotExist(err) {
		logging.WithComponent("geofence").Warn().
			Str("path", path).
			Msg("geofence config absent, starting with no fences")
		return s, nil
	}

	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the config file and atomically replaces the snapshot.
func (s *Store) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("reading geofence config: %w", err)
	}

	var raw map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing geofence config: %w", err)
	}

	fences := make(map[string]map[string]struct{}, len(raw))
	for name, ids := range raw {
		set := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			set[id] = struct{}{}
		}
		fences[name] = set
	}

	s.snapshot.Store(&snapshot{fences: fences})

	logging.WithComponent("geofence").Info().
		Int("geofences", len(fences)).
		Msg("geofence config loaded")
	return nil
}

// IsAllowed reports whether panoID is admissible under the named geofence.
// An empty or unknown name is permissive.
func (s *Store) IsAllowed(name, panoID string) bool {
	if name == "" {
		return true
	}
	set, ok := s.snapshot.Load().fences[name]
	if !ok {
		return true
	}
	_, allowed := set[panoID]
	return allowed
}

// Exists reports whether a geofence with the given name is configured.
func (s *Store) Exists(name string) bool {
	_, ok := s.snapshot.Load().fences[name]
	return ok
}

// Members returns the pano IDs of the named geofence, sorted for stable
// iteration, or nil if the geofence is unknown.
func (s *Store) Members(name string) []string {
	set, ok := s.snapshot.Load().fences[name]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Names returns all configured geofence names, sorted.
func (s *Store) Names() []string {
	fences := s.snapshot.Load().fences
	names := make([]string, 0, len(fences))
	for name := range fences {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FilterLinks returns the links whose targets are admissible under the
// named geofence, preserving input order.
func (s *Store) FilterLinks(name string, links []model.Link) []model.Link {
	if name == "" {
		return links
	}
	set, ok := s.snapshot.Load().fences[name]
	if !ok {
		return links
	}
	filtered := make([]model.Link, 0, len(links))
	for _, link := range links {
		if _, allowed := set[link.PanoID]; allowed {
			filtered = append(filtered, link)
		}
	}
	return filtered
}
