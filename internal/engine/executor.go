// Panobench - Street-View Navigation Benchmark Platform
// Copyright 2026 Panobench Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/panobench/panobench

// Package engine executes agent actions: the move/rotation/stop state
// machine, observation assembly, and the exactly-once trajectory logging of
// every applied transition.
package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/panobench/panobench/internal/geofence"
	"github.com/panobench/panobench/internal/logging"
	"github.com/panobench/panobench/internal/metrics"
	"github.com/panobench/panobench/internal/model"
	"github.com/panobench/panobench/internal/nav"
	"github.com/panobench/panobench/internal/render"
	"github.com/panobench/panobench/internal/session"
	"github.com/panobench/panobench/internal/trajectory"
)

const (
	minPitch = -85
	maxPitch = 85
)

// PanoramaSource is the repository surface the executor needs. Satisfied by
// pano.Repository.
type PanoramaSource interface {
	GetMetadata(ctx context.Context, panoID string) (*model.PanoramaMetadata, error)
	GetImage(ctx context.Context, panoID string, zoom int) (string, error)
	Locations(ctx context.Context, panoIDs []string) (map[string]model.Location, error)
}

// FrameRenderer writes one perspective frame. Satisfied by render.Renderer.
type FrameRenderer interface {
	RenderFile(srcPath string, view render.View, dstPath string) error
}

// Result is the outcome of a successfully applied action.
type Result struct {
	Observation *model.Observation
	Done        bool
	DoneReason  string
}

// Executor runs the action state machine. All mutations happen under the
// session lock taken through the session store, so actions for one session
// are strictly serialized.
type Executor struct {
	sessions *session.Store
	repo     PanoramaSource
	fences   *geofence.Store
	renderer FrameRenderer
	frames   *render.FrameStore
	traj     *trajectory.Logger
	zoom     int

	cleanupFrames bool
}

func NewExecutor(sessions *session.Store, repo PanoramaSource, fences *geofence.Store,
	renderer FrameRenderer, frames *render.FrameStore, traj *trajectory.Logger, zoom int) *Executor {
	return &Executor{
		sessions: sessions,
		repo:     repo,
		fences:   fences,
		renderer: renderer,
		frames:   frames,
		traj:     traj,
		zoom:     zoom,
	}
}

// EnableFrameCleanup removes a session's rendered frames once it ends. The
// final observation's image URL stops resolving the moment the session is
// over; harnesses that archive frames should leave this off.
func (e *Executor) EnableFrameCleanup() {
	e.cleanupFrames = true
}

func (e *Executor) endFrames(sess *model.Session) {
	if !e.cleanupFrames {
		return
	}
	if err := e.frames.CleanupSession(sess.SessionID); err != nil {
		logging.WithComponent("engine").Warn().Err(err).
			Str("session_id", sess.SessionID).
			Msg("removing session frames")
	}
}

// Execute applies one action to the session. On failure the session is left
// exactly as it was: no step, no trajectory entry, no log line.
func (e *Executor) Execute(ctx context.Context, sessionID string, action model.Action, telemetry map[string]float64) (*Result, error) {
	start := time.Now()
	res, err := e.execute(ctx, sessionID, action, telemetry)
	metrics.RecordAction(string(action.Kind), time.Since(start), err)
	return res, err
}

func (e *Executor) execute(ctx context.Context, sessionID string, action model.Action, telemetry map[string]float64) (*Result, error) {
	sess, release, err := e.sessions.Acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	if sess.Status != model.StatusRunning && sess.Status != model.StatusPaused {
		return nil, model.NewError(model.ErrInvalidState, "session is %s", sess.Status)
	}

	t, err := e.sessions.Task(sess.TaskID)
	if err != nil {
		return nil, err
	}

	switch action.Kind {
	case model.ActionMove:
		return e.executeMove(ctx, sess, t, action, telemetry)
	case model.ActionRotation:
		return e.executeRotation(ctx, sess, t, action, telemetry)
	case model.ActionStop:
		return e.executeStop(ctx, sess, t, action, telemetry)
	default:
		return nil, model.NewError(model.ErrInvalidArgument, "unknown action kind %q", action.Kind)
	}
}

func (e *Executor) executeMove(ctx context.Context, sess *model.Session, t *model.Task, action model.Action, telemetry map[string]float64) (*Result, error) {
	meta, err := e.repo.GetMetadata(ctx, sess.State.PanoID)
	if err != nil {
		return nil, model.WrapError(model.ErrUnavailable, err, "metadata for %s", sess.State.PanoID)
	}

	moves := e.movesFromLinks(ctx, sess, e.fences.FilterLinks(t.Geofence, meta.Links), meta)

	var target *model.AvailableMove
	for i := range moves {
		if moves[i].ID == action.Move.MoveID {
			target = &moves[i]
			break
		}
	}
	if target == nil {
		// Distinguish a fence rejection from a bogus id: the same id over
		// the unfiltered link set names the pano the caller was aiming at.
		all := e.movesFromLinks(ctx, sess, meta.Links, meta)
		for i := range all {
			if all[i].ID == action.Move.MoveID && !e.fences.IsAllowed(t.Geofence, all[i].PanoID) {
				return nil, model.NewError(model.ErrOutsideGeofence,
					"move target %s is outside geofence %s", all[i].PanoID, t.Geofence)
			}
		}
		return nil, model.NewError(model.ErrInvalidArgument, "invalid move_id %d", action.Move.MoveID)
	}

	if !e.fences.IsAllowed(t.Geofence, target.PanoID) {
		return nil, model.NewError(model.ErrOutsideGeofence, "move target %s is outside geofence %s", target.PanoID, t.Geofence)
	}

	// The target's metadata must exist before the transition commits, so a
	// failed fetch cannot strand the session on a pano it knows nothing
	// about.
	targetMeta, err := e.repo.GetMetadata(ctx, target.PanoID)
	if err != nil {
		return nil, model.WrapError(model.ErrUnavailable, err, "metadata for move target %s", target.PanoID)
	}

	newState := model.SessionState{
		PanoID:      target.PanoID,
		Heading:     target.Heading, // face the direction of travel
		Pitch:       sess.State.Pitch,
		FOV:         e.sessions.DefaultFOV(),
		Lat:         targetMeta.Lat,
		Lng:         targetMeta.Lng,
		CaptureDate: targetMeta.CaptureDate,
	}
	if err := e.sessions.ApplyState(ctx, sess, newState, true); err != nil {
		return nil, err
	}

	return e.finishAction(ctx, sess, t, map[string]any{
		"type":           "move",
		"move_id":        action.Move.MoveID,
		"direction":      target.Direction,
		"target_pano_id": target.PanoID,
	}, telemetry)
}

func (e *Executor) executeRotation(ctx context.Context, sess *model.Session, t *model.Task, action model.Action, telemetry map[string]float64) (*Result, error) {
	newState := sess.State
	if action.Rotation.Heading != nil {
		h := math.Mod(*action.Rotation.Heading, 360)
		if h < 0 {
			h += 360
		}
		newState.Heading = h
	}
	if action.Rotation.Pitch != nil {
		newState.Pitch = math.Max(minPitch, math.Min(maxPitch, *action.Rotation.Pitch))
	}
	// FOV is pinned; the request field is accepted and ignored.
	newState.FOV = e.sessions.DefaultFOV()

	if err := e.sessions.ApplyState(ctx, sess, newState, true); err != nil {
		return nil, err
	}

	entry := map[string]any{"type": "rotation"}
	if action.Rotation.Heading != nil {
		entry["heading"] = *action.Rotation.Heading
	}
	if action.Rotation.Pitch != nil {
		entry["pitch"] = *action.Rotation.Pitch
	}
	return e.finishAction(ctx, sess, t, entry, telemetry)
}

func (e *Executor) executeStop(ctx context.Context, sess *model.Session, t *model.Task, action model.Action, telemetry map[string]float64) (*Result, error) {
	if err := e.sessions.End(ctx, sess, "stopped", action.Stop.Answer); err != nil {
		return nil, err
	}

	obs := e.observe(ctx, sess, t)
	e.logAction(sess, t, map[string]any{
		"type":   "stop",
		"answer": action.Stop.Answer,
	}, obs, telemetry)

	if err := e.traj.LogSessionEnd(sess, t.TargetPanoIDs); err != nil {
		logging.WithComponent("engine").Error().Err(err).
			Str("session_id", sess.SessionID).
			Msg("writing session_end event")
	}
	e.endFrames(sess)

	return &Result{Observation: obs, Done: true, DoneReason: "stopped"}, nil
}

// finishAction runs the shared tail of move and rotation: termination check,
// observation assembly, and the single trajectory log entry.
func (e *Executor) finishAction(ctx context.Context, sess *model.Session, t *model.Task, actionEntry map[string]any, telemetry map[string]float64) (*Result, error) {
	reason := e.sessions.CheckTermination(sess, t)
	if reason != "" {
		if err := e.sessions.End(ctx, sess, reason, ""); err != nil {
			return nil, err
		}
	}

	obs := e.observe(ctx, sess, t)
	e.logAction(sess, t, actionEntry, obs, telemetry)

	if reason != "" {
		if err := e.traj.LogSessionEnd(sess, t.TargetPanoIDs); err != nil {
			logging.WithComponent("engine").Error().Err(err).
				Str("session_id", sess.SessionID).
				Msg("writing session_end event")
		}
		e.endFrames(sess)
	}

	return &Result{Observation: obs, Done: reason != "", DoneReason: reason}, nil
}

func (e *Executor) logAction(sess *model.Session, t *model.Task, actionEntry map[string]any, obs *model.Observation, telemetry map[string]float64) {
	imagePath := ""
	if obs.CurrentImage != nil {
		imagePath = fmt.Sprintf("temp_images/%s/step_%d.jpg", sess.SessionID, sess.StepCount)
	}
	if err := e.traj.LogAction(trajectory.ActionRecord{
		Session:        sess,
		Action:         actionEntry,
		AvailableMoves: obs.AvailableMoves,
		ImagePath:      imagePath,
		Telemetry:      telemetry,
	}); err != nil {
		logging.WithComponent("engine").Error().Err(err).
			Str("session_id", sess.SessionID).
			Msg("writing action event")
	}
}

// StartSession logs the opening trajectory event and returns the spawn
// observation. Called once right after session creation.
func (e *Executor) StartSession(ctx context.Context, sessionID string) (*model.Observation, error) {
	sess, release, err := e.sessions.Acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	t, err := e.sessions.Task(sess.TaskID)
	if err != nil {
		return nil, err
	}

	// Spawn coordinates may be unresolved when the cache was cold at
	// creation; the first metadata fetch fills them in.
	if sess.State.Lat == 0 && sess.State.Lng == 0 {
		if meta, err := e.repo.GetMetadata(ctx, sess.State.PanoID); err == nil {
			sess.State.Lat = meta.Lat
			sess.State.Lng = meta.Lng
			sess.State.CaptureDate = meta.CaptureDate
			if err := e.sessions.Persist(ctx, sess); err != nil {
				return nil, err
			}
		}
	}

	if err := e.traj.LogSessionStart(sess, t.Description); err != nil {
		logging.WithComponent("engine").Error().Err(err).
			Str("session_id", sess.SessionID).
			Msg("writing session_start event")
	}

	return e.observe(ctx, sess, t), nil
}

// Observe assembles the current observation without mutating the session.
func (e *Executor) Observe(ctx context.Context, sessionID string) (*model.Observation, error) {
	sess, release, err := e.sessions.Acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	t, err := e.sessions.Task(sess.TaskID)
	if err != nil {
		return nil, err
	}
	return e.observe(ctx, sess, t), nil
}

// EndSession force-ends a session from the lifecycle endpoint.
func (e *Executor) EndSession(ctx context.Context, sessionID, reason string) (*model.Session, error) {
	sess, release, err := e.sessions.Acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	t, err := e.sessions.Task(sess.TaskID)
	if err != nil {
		return nil, err
	}

	alreadyTerminal := sess.Status.Terminal()
	if err := e.sessions.End(ctx, sess, reason, ""); err != nil {
		return nil, err
	}
	if !alreadyTerminal {
		if err := e.traj.LogSessionEnd(sess, t.TargetPanoIDs); err != nil {
			logging.WithComponent("engine").Error().Err(err).
				Str("session_id", sess.SessionID).
				Msg("writing session_end event")
		}
		e.endFrames(sess)
	}
	return sess.Clone(), nil
}

// availableMoves recomputes the move menu for the session's current state:
// links from metadata, filtered by the task's geofence, labeled and sorted
// by direction priority.
func (e *Executor) availableMoves(ctx context.Context, sess *model.Session, t *model.Task) ([]model.AvailableMove, error) {
	meta, err := e.repo.GetMetadata(ctx, sess.State.PanoID)
	if err != nil {
		return nil, model.WrapError(model.ErrUnavailable, err, "metadata for %s", sess.State.PanoID)
	}
	return e.movesFromLinks(ctx, sess, e.fences.FilterLinks(t.Geofence, meta.Links), meta), nil
}

func (e *Executor) movesFromLinks(ctx context.Context, sess *model.Session, links []model.Link, meta *model.PanoramaMetadata) []model.AvailableMove {
	if len(links) == 0 {
		return nil
	}

	ids := make([]string, len(links))
	for i, l := range links {
		ids[i] = l.PanoID
	}
	locations, err := e.repo.Locations(ctx, ids)
	if err != nil {
		locations = nil
	}

	current := model.Location{Lat: sess.State.Lat, Lng: sess.State.Lng}
	if current.Lat == 0 && current.Lng == 0 {
		current = model.Location{Lat: meta.Lat, Lng: meta.Lng}
	}
	return nav.BuildMoves(links, sess.State.Heading, current, locations)
}

// observe builds the Observation for the session's current state. Rendering
// failures yield a null current_image; navigation is never gated on image
// emission.
func (e *Executor) observe(ctx context.Context, sess *model.Session, t *model.Task) *model.Observation {
	obs := &model.Observation{
		TaskDescription: t.Description,
		Heading:         sess.State.Heading,
		Pitch:           sess.State.Pitch,
		FOV:             sess.State.FOV,
	}

	moves, err := e.availableMoves(ctx, sess, t)
	if err != nil {
		logging.WithComponent("engine").Warn().Err(err).
			Str("pano_id", sess.State.PanoID).
			Msg("computing available moves")
	}
	obs.AvailableMoves = moves

	var centerHeading float64
	if meta, err := e.repo.GetMetadata(ctx, sess.State.PanoID); err == nil {
		centerHeading = meta.CenterHeading
	}
	obs.CenterHeading = centerHeading

	srcPath, err := e.repo.GetImage(ctx, sess.State.PanoID, e.zoom)
	if err == nil {
		dst := e.frames.FramePath(sess.SessionID, sess.StepCount)
		view := render.View{
			Heading:       sess.State.Heading,
			Pitch:         sess.State.Pitch,
			FOV:           sess.State.FOV,
			CenterHeading: centerHeading,
		}
		if err := e.renderer.RenderFile(srcPath, view, dst); err == nil {
			url := e.frames.FrameURL(sess.SessionID, sess.StepCount)
			obs.CurrentImage = &url
		} else {
			logging.WithComponent("engine").Warn().Err(err).
				Str("session_id", sess.SessionID).
				Int("step", sess.StepCount).
				Msg("rendering frame")
		}
	} else {
		logging.WithComponent("engine").Warn().Err(err).
			Str("pano_id", sess.State.PanoID).
			Msg("building panorama for frame")
	}

	if sess.Mode == model.ModeHuman {
		url := fmt.Sprintf("/data/panoramas/%s_z%d.jpg", sess.State.PanoID, e.zoom)
		obs.PanoramaURL = &url
	}

	return obs
}
