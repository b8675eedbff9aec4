// Panobench - Street-View Navigation Benchmark Platform
// Copyright 2026 Panobench Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/panobench/panobench

// Package session owns the session lifecycle: creation, per-session serial
// access, state updates, termination checks, and SQLite persistence through
// the cache layer.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panobench/panobench/internal/cache"
	"github.com/panobench/panobench/internal/logging"
	"github.com/panobench/panobench/internal/metrics"
	"github.com/panobench/panobench/internal/model"
	"github.com/panobench/panobench/internal/task"
)

// Store manages live sessions in memory with write-through persistence.
// Every mutating path runs under the session's exclusive lock, so observers
// see a total order of actions per session.
type Store struct {
	cache *cache.Cache
	tasks *task.Store

	defaultPitch float64
	defaultFOV   float64

	// Fallback limits for tasks that set neither max_steps nor
	// max_time_seconds; zero disables the corresponding bound.
	defaultMaxSteps int
	defaultMaxTime  time.Duration

	now func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
}

type entry struct {
	mu      sync.Mutex
	session *model.Session
}

func NewStore(c *cache.Cache, tasks *task.Store, defaultPitch, defaultFOV float64,
	defaultMaxSteps int, defaultMaxTime time.Duration) *Store {
	return &Store{
		cache:           c,
		tasks:           tasks,
		defaultPitch:    defaultPitch,
		defaultFOV:      defaultFOV,
		defaultMaxSteps: defaultMaxSteps,
		defaultMaxTime:  defaultMaxTime,
		now:             time.Now,
		sessions:        make(map[string]*entry),
	}
}

// DefaultFOV is the pinned field of view applied to every transition.
func (s *Store) DefaultFOV() float64 { return s.defaultFOV }

// generateSessionID builds agentId_taskId_timestamp ids, disambiguating
// same-second collisions with a numeric suffix.
func (s *Store) generateSessionID(agentID, taskID string) string {
	base := fmt.Sprintf("%s_%s_%s", agentID, taskID, s.now().Format("20060102150405"))
	id := base
	for n := 1; ; n++ {
		if _, exists := s.sessions[id]; !exists {
			return id
		}
		id = fmt.Sprintf("%s_%d", base, n)
	}
}

// Create starts a session for (agentID, taskID). The spawn state comes from
// the task plus whatever the cache already knows about the spawn pano;
// coordinates are filled in lazily by the first action when the cache is
// cold.
func (s *Store) Create(ctx context.Context, agentID, taskID string, mode model.SessionMode) (*model.Session, *model.Task, error) {
	if mode != model.ModeAgent && mode != model.ModeHuman {
		return nil, nil, model.NewError(model.ErrInvalidArgument, "unknown mode %q", mode)
	}

	t, err := s.tasks.Get(taskID)
	if err != nil {
		return nil, nil, err
	}

	state := model.SessionState{
		PanoID:  t.SpawnPanoID,
		Heading: t.SpawnHeading,
		Pitch:   s.defaultPitch,
		FOV:     s.defaultFOV,
	}
	if loc, err := s.cache.GetLocation(ctx, t.SpawnPanoID); err == nil {
		state.Lat = loc.Lat
		state.Lng = loc.Lng
	}
	if meta, err := s.cache.GetMetadata(ctx, t.SpawnPanoID); err == nil {
		state.CaptureDate = meta.CaptureDate
	}

	s.mu.Lock()
	sessionID := s.generateSessionID(agentID, taskID)
	sess := &model.Session{
		SessionID:  sessionID,
		AgentID:    agentID,
		TaskID:     taskID,
		Mode:       mode,
		Status:     model.StatusRunning,
		State:      state,
		StartTime:  s.now(),
		Trajectory: []string{t.SpawnPanoID},
	}
	s.sessions[sessionID] = &entry{session: sess}
	s.mu.Unlock()

	if err := s.cache.SaveSession(ctx, sess); err != nil {
		s.mu.Lock()
		delete(s.sessions, sessionID)
		s.mu.Unlock()
		return nil, nil, model.WrapError(model.ErrInternal, err, "persisting session %s", sessionID)
	}

	metrics.SessionsCreated.Inc()
	metrics.SessionsActive.Inc()
	logging.WithComponent("session").Info().
		Str("session_id", sessionID).
		Str("agent_id", agentID).
		Str("task_id", taskID).
		Str("mode", string(mode)).
		Msg("session created")

	return sess.Clone(), t, nil
}

// lookup returns the entry for sessionID, hydrating from SQLite on a memory
// miss so sessions survive restarts.
func (s *Store) lookup(ctx context.Context, sessionID string) (*entry, error) {
	s.mu.Lock()
	e, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if ok {
		return e, nil
	}

	sess, err := s.cache.LoadSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, cache.ErrNotCached) {
			return nil, model.NewError(model.ErrNotFound, "session %s not found", sessionID)
		}
		return nil, model.WrapError(model.ErrInternal, err, "loading session %s", sessionID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Another hydrator may have won the race.
	if e, ok := s.sessions[sessionID]; ok {
		return e, nil
	}
	e = &entry{session: sess}
	s.sessions[sessionID] = e
	return e, nil
}

// Get returns a snapshot of the session.
func (s *Store) Get(ctx context.Context, sessionID string) (*model.Session, error) {
	e, err := s.lookup(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Clone(), nil
}

// Acquire locks the session and returns the live object plus its release
// func. The caller must persist any mutation via Persist before releasing.
// This is the serialization point for the whole action pipeline.
func (s *Store) Acquire(ctx context.Context, sessionID string) (*model.Session, func(), error) {
	e, err := s.lookup(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	e.mu.Lock()
	return e.session, e.mu.Unlock, nil
}

// Persist writes the session through to SQLite. Callers hold the session
// lock.
func (s *Store) Persist(ctx context.Context, sess *model.Session) error {
	if err := s.cache.SaveSession(ctx, sess); err != nil {
		return model.WrapError(model.ErrInternal, err, "persisting session %s", sess.SessionID)
	}
	return nil
}

// ApplyState installs newState on a locked session: trajectory grows only
// when the pano differs from the tail, and the step count increments unless
// told otherwise.
func (s *Store) ApplyState(ctx context.Context, sess *model.Session, newState model.SessionState, incrementStep bool) error {
	prev := *sess
	prevTrajectoryLen := len(sess.Trajectory)

	sess.State = newState
	if incrementStep {
		sess.StepCount++
	}
	if n := len(sess.Trajectory); n == 0 || sess.Trajectory[n-1] != newState.PanoID {
		sess.Trajectory = append(sess.Trajectory, newState.PanoID)
	}

	if err := s.Persist(ctx, sess); err != nil {
		// Roll back so a failed persist leaves no phantom step.
		sess.State = prev.State
		sess.StepCount = prev.StepCount
		sess.Trajectory = sess.Trajectory[:prevTrajectoryLen]
		return err
	}
	return nil
}

// End transitions a locked session to its terminal state. Write-once:
// repeating the same reason is a no-op, a different reason is rejected.
func (s *Store) End(ctx context.Context, sess *model.Session, reason, answer string) error {
	if sess.Status.Terminal() {
		if sess.DoneReason == reason {
			return nil
		}
		return model.NewError(model.ErrInvalidState, "session %s already ended (%s)", sess.SessionID, sess.DoneReason)
	}

	sess.Status = model.StatusCompleted
	sess.DoneReason = reason
	if answer != "" {
		sess.AgentAnswer = answer
	}
	if err := s.Persist(ctx, sess); err != nil {
		return err
	}

	metrics.RecordSessionEnd(reason, sess.StepCount, sess.Elapsed())
	logging.WithComponent("session").Info().
		Str("session_id", sess.SessionID).
		Str("done_reason", reason).
		Int("steps", sess.StepCount).
		Msg("session ended")
	return nil
}

// Pause suspends a running human session. Agent sessions cannot pause.
func (s *Store) Pause(ctx context.Context, sessionID string) error {
	sess, release, err := s.Acquire(ctx, sessionID)
	if err != nil {
		return err
	}
	defer release()

	if sess.Mode != model.ModeHuman {
		return model.NewError(model.ErrInvalidState, "only human sessions can pause")
	}
	if sess.Status != model.StatusRunning {
		return model.NewError(model.ErrInvalidState, "session %s is %s, not running", sessionID, sess.Status)
	}
	sess.Status = model.StatusPaused
	return s.Persist(ctx, sess)
}

// Resume returns a paused human session to running. Resuming a session that
// is already running is a no-op.
func (s *Store) Resume(ctx context.Context, sessionID string) (*model.Session, error) {
	sess, release, err := s.Acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	if sess.Mode != model.ModeHuman {
		return nil, model.NewError(model.ErrInvalidState, "only human sessions can resume")
	}
	switch sess.Status {
	case model.StatusPaused:
		sess.Status = model.StatusRunning
		if err := s.Persist(ctx, sess); err != nil {
			return nil, err
		}
	case model.StatusRunning:
	default:
		return nil, model.NewError(model.ErrInvalidState, "session %s is %s", sessionID, sess.Status)
	}
	return sess.Clone(), nil
}

// CheckTermination reports the forced-termination reason for a locked
// session, or empty when the session may continue. Tasks without their own
// limits fall back to the store defaults. Reaching a target pano never
// terminates: agents must stop themselves.
func (s *Store) CheckTermination(sess *model.Session, t *model.Task) string {
	maxSteps := t.MaxSteps
	if maxSteps == 0 {
		maxSteps = s.defaultMaxSteps
	}
	maxTime := t.MaxTimeSeconds
	if maxTime == 0 {
		maxTime = s.defaultMaxTime.Seconds()
	}

	if maxSteps > 0 && sess.StepCount >= maxSteps {
		return "max_steps"
	}
	if maxTime > 0 && sess.Elapsed().Seconds() >= maxTime {
		return "max_time"
	}
	return ""
}

// Task resolves the session's task.
func (s *Store) Task(taskID string) (*model.Task, error) {
	return s.tasks.Get(taskID)
}

// List returns persisted session summaries, newest first.
func (s *Store) List(ctx context.Context) ([]cache.SessionSummary, error) {
	return s.cache.ListSessions(ctx)
}
