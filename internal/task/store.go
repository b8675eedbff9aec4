// Panobench - Street-View Navigation Benchmark Platform
// Copyright 2026 Panobench Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/panobench/panobench

// Package task loads navigation tasks from the tasks directory. Each task is
// one JSON file; the filename stem is the authoritative task id regardless of
// any id embedded in the document.
package task

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/goccy/go-json"

	"github.com/panobench/panobench/internal/logging"
	"github.com/panobench/panobench/internal/model"
)

// taskDocument is the on-disk schema. Older generator output spells some
// fields differently (spawn_point vs spawn_pano_id, geofence vs geofence_id);
// both spellings are accepted and normalized.
type taskDocument struct {
	Description    string   `json:"description"`
	SpawnPoint     string   `json:"spawn_point"`
	SpawnPanoID    string   `json:"spawn_pano_id"`
	SpawnHeading   float64  `json:"spawn_heading"`
	Geofence       string   `json:"geofence"`
	GeofenceID     string   `json:"geofence_id"`
	TargetPanoIDs  []string `json:"target_pano_ids"`
	MaxSteps       int      `json:"max_steps"`
	MaxTimeSeconds float64  `json:"max_time_seconds"`
	Answer         *string  `json:"answer"`
}

func (d *taskDocument) toTask(id string) *model.Task {
	spawn := d.SpawnPoint
	if spawn == "" {
		spawn = d.SpawnPanoID
	}
	fence := d.Geofence
	if fence == "" {
		fence = d.GeofenceID
	}
	return &model.Task{
		TaskID:         id,
		Description:    d.Description,
		SpawnPanoID:    spawn,
		SpawnHeading:   d.SpawnHeading,
		Geofence:       fence,
		TargetPanoIDs:  d.TargetPanoIDs,
		MaxSteps:       d.MaxSteps,
		MaxTimeSeconds: d.MaxTimeSeconds,
		Answer:         d.Answer,
	}
}

// Store reads tasks from a directory, caching parsed documents. The
// directory is re-scanned on every List so new task files appear without a
// restart; parsed tasks are cached by id since generator output is immutable.
type Store struct {
	dir string

	mu    sync.RWMutex
	tasks map[string]*model.Task
}

func NewStore(dir string) *Store {
	return &Store{dir: dir, tasks: make(map[string]*model.Task)}
}

// Get returns the task with the given id. Returns a not_found error when no
// such task file exists, invalid_argument when the file does not parse.
func (s *Store) Get(taskID string) (*model.Task, error) {
	s.mu.RLock()
	if t, ok := s.tasks[taskID]; ok {
		s.mu.RUnlock()
		return t, nil
	}
	s.mu.RUnlock()

	path := filepath.Join(s.dir, taskID+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, model.NewError(model.ErrNotFound, "task %s not found", taskID)
		}
		return nil, model.WrapError(model.ErrInternal, err, "reading task %s", taskID)
	}

	var doc taskDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, model.WrapError(model.ErrInvalidArgument, err, "parsing task %s", taskID)
	}
	t := doc.toTask(taskID)
	if t.SpawnPanoID == "" {
		return nil, model.NewError(model.ErrInvalidArgument, "task %s has no spawn point", taskID)
	}

	s.mu.Lock()
	s.tasks[taskID] = t
	s.mu.Unlock()
	return t, nil
}

// List returns all loadable tasks sorted by id. Unparseable files are
// logged and skipped, matching the tolerant listing behavior clients expect.
func (s *Store) List() ([]*model.Task, error) {
	ids, err := s.IDs()
	if err != nil {
		return nil, err
	}
	tasks := make([]*model.Task, 0, len(ids))
	for _, id := range ids {
		t, err := s.Get(id)
		if err != nil {
			logging.WithComponent("task").Warn().
				Str("task_id", id).
				Err(err).
				Msg("skipping unloadable task")
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// IDs returns the task ids present on disk, sorted.
func (s *Store) IDs() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, model.WrapError(model.ErrInternal, err, "listing tasks dir %s", s.dir)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}
