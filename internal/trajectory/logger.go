// Panobench - Street-View Navigation Benchmark Platform
// Copyright 2026 Panobench Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/panobench/panobench

// Package trajectory records session events as JSON Lines, one file per
// session. The files are the durable benchmark artifact: every action, the
// state it produced, and the end-of-session summary, replayable offline.
package trajectory

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/panobench/panobench/internal/model"
)

// Logger appends session events to per-session .jsonl files under the logs
// directory. Handles stay open between events and are closed when the
// session ends. Safe for concurrent use.
type Logger struct {
	dir string

	mu      sync.Mutex
	handles map[string]*os.File
}

func NewLogger(dir string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating logs dir %s: %w", dir, err)
	}
	return &Logger{dir: dir, handles: make(map[string]*os.File)}, nil
}

// findLogPath locates a session's log file. The flat default location wins;
// otherwise dated subdirectories are searched so archived runs stay readable.
func (l *Logger) findLogPath(sessionID string) string {
	flat := filepath.Join(l.dir, sessionID+".jsonl")
	if _, err := os.Stat(flat); err == nil {
		return flat
	}

	var found string
	filepath.WalkDir(l.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || found != "" {
			return fs.SkipAll
		}
		if !d.IsDir() && d.Name() == sessionID+".jsonl" {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if found != "" {
		return found
	}
	return flat
}

// LogPath returns the on-disk path of a session's log file.
func (l *Logger) LogPath(sessionID string) string {
	return l.findLogPath(sessionID)
}

func (l *Logger) handle(sessionID string) (*os.File, error) {
	if f, ok := l.handles[sessionID]; ok {
		return f, nil
	}
	f, err := os.OpenFile(l.findLogPath(sessionID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log for %s: %w", sessionID, err)
	}
	l.handles[sessionID] = f
	return f, nil
}

func (l *Logger) write(sessionID string, entry map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := l.handle(sessionID)
	if err != nil {
		return err
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding log entry for %s: %w", sessionID, err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("writing log entry for %s: %w", sessionID, err)
	}
	return f.Sync()
}

// LogSessionStart records the opening event with the spawn state.
func (l *Logger) LogSessionStart(s *model.Session, taskDescription string) error {
	return l.write(s.SessionID, map[string]any{
		"event":            "session_start",
		"session_id":       s.SessionID,
		"agent_id":         s.AgentID,
		"task_id":          s.TaskID,
		"mode":             s.Mode,
		"timestamp":        time.Now().Format(time.RFC3339Nano),
		"initial_state":    s.State,
		"task_description": taskDescription,
	})
}

// ActionRecord captures one executed action for the log.
type ActionRecord struct {
	Session        *model.Session
	Action         any
	AvailableMoves []model.AvailableMove
	ImagePath      string
	ResponseTimeMS *int64
	Telemetry      map[string]float64
}

// LogAction records an executed action together with the state it produced.
func (l *Logger) LogAction(rec ActionRecord) error {
	entry := map[string]any{
		"event":           "action",
		"session_id":      rec.Session.SessionID,
		"timestamp":       time.Now().Format(time.RFC3339Nano),
		"step":            rec.Session.StepCount,
		"state":           rec.Session.State,
		"action":          rec.Action,
		"available_moves": rec.AvailableMoves,
		"image_path":      rec.ImagePath,
		"agent_type":      rec.Session.Mode,
	}
	if rec.Session.Mode == model.ModeHuman && rec.ResponseTimeMS != nil {
		entry["response_time_ms"] = *rec.ResponseTimeMS
	}
	for k, v := range rec.Telemetry {
		entry[k] = v
	}
	return l.write(rec.Session.SessionID, entry)
}

// LogSessionEnd records the summary entry and closes the session's handle.
func (l *Logger) LogSessionEnd(s *model.Session, targetPanoIDs []string) error {
	var reachedTarget any
	if len(targetPanoIDs) > 0 {
		reached := false
		for _, id := range targetPanoIDs {
			if s.State.PanoID == id {
				reached = true
				break
			}
		}
		reachedTarget = reached
	}

	err := l.write(s.SessionID, map[string]any{
		"event":          "session_end",
		"session_id":     s.SessionID,
		"agent_id":       s.AgentID,
		"task_id":        s.TaskID,
		"timestamp":      time.Now().Format(time.RFC3339Nano),
		"total_steps":    s.StepCount,
		"elapsed_time":   s.Elapsed().Seconds(),
		"status":         s.Status,
		"done_reason":    s.DoneReason,
		"final_pano_id":  s.State.PanoID,
		"reached_target": reachedTarget,
		"agent_answer":   s.AgentAnswer,
		"trajectory":     s.Trajectory,
	})

	l.mu.Lock()
	if f, ok := l.handles[s.SessionID]; ok {
		f.Close()
		delete(l.handles, s.SessionID)
	}
	l.mu.Unlock()
	return err
}

// ReadSessionLog returns all entries of a session's log in order. A missing
// log yields an empty slice.
func (l *Logger) ReadSessionLog(sessionID string) ([]map[string]any, error) {
	path := l.findLogPath(sessionID)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening log for %s: %w", sessionID, err)
	}
	defer f.Close()

	var entries []map[string]any
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, fmt.Errorf("corrupt log line in %s: %w", sessionID, err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading log for %s: %w", sessionID, err)
	}
	return entries, nil
}

// SessionSummary returns the last session_end entry, or nil when the session
// has not ended.
func (l *Logger) SessionSummary(sessionID string) (map[string]any, error) {
	entries, err := l.ReadSessionLog(sessionID)
	if err != nil {
		return nil, err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i]["event"] == "session_end" {
			return entries[i], nil
		}
	}
	return nil, nil
}

// ListSessions returns the ids of every session with a log file, searching
// dated subdirectories too.
func (l *Logger) ListSessions() ([]string, error) {
	var ids []string
	err := filepath.WalkDir(l.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".jsonl") {
			ids = append(ids, strings.TrimSuffix(d.Name(), ".jsonl"))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing session logs: %w", err)
	}
	return ids, nil
}

// Close closes every open log handle.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var firstErr error
	for id, f := range l.handles {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(l.handles, id)
	}
	return firstErr
}
