// Panobench - Street-View Navigation Benchmark Platform
// Copyright 2026 Panobench Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/panobench/panobench

package render

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

var framePattern = regexp.MustCompile(`^step_(\d+)\.jpg$`)

// FrameStore owns the per-session frame directories under the temp images
// root. Paths are deterministic: <root>/<sessionID>/step_<N>.jpg.
type FrameStore struct {
	root string
}

func NewFrameStore(root string) *FrameStore {
	return &FrameStore{root: root}
}

// FramePath returns the on-disk path for a session's step frame.
func (s *FrameStore) FramePath(sessionID string, step int) string {
	return filepath.Join(s.root, sessionID, fmt.Sprintf("step_%d.jpg", step))
}

// FrameURL returns the path clients fetch the frame under.
func (s *FrameStore) FrameURL(sessionID string, step int) string {
	return fmt.Sprintf("/temp_images/%s/step_%d.jpg", sessionID, step)
}

// SessionFrames lists a session's frame paths ordered by step number.
func (s *FrameStore) SessionFrames(sessionID string) ([]string, error) {
	dir := filepath.Join(s.root, sessionID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing frames for %s: %w", sessionID, err)
	}

	type frame struct {
		step int
		path string
	}
	frames := make([]frame, 0, len(entries))
	for _, e := range entries {
		m := framePattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		step, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		frames = append(frames, frame{step: step, path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(frames, func(i, j int) bool { return frames[i].step < frames[j].step })

	paths := make([]string, len(frames))
	for i, f := range frames {
		paths[i] = f.path
	}
	return paths, nil
}

// CleanupSession removes a session's frame directory. Missing directories
// are not an error; cleanup is idempotent.
func (s *FrameStore) CleanupSession(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("empty session id")
	}
	dir := filepath.Join(s.root, sessionID)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing frames for %s: %w", sessionID, err)
	}
	return nil
}

// Root returns the temp images root, for static file serving.
func (s *FrameStore) Root() string { return s.root }
