// Panobench - Street-View Navigation Benchmark Platform
// Copyright 2026 Panobench Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/panobench/panobench

// Package main is the entry point for the Panobench server.
//
// Panobench evaluates navigation agents on real street-view imagery. An
// agent (or a human through the browser UI) is dropped at a spawn panorama,
// receives rendered perspective views, and navigates the panorama link graph
// by issuing move, rotation, and stop actions over the HTTP API. Every
// action is recorded to a JSONL trajectory log for offline scoring.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: defaults, optional YAML file, environment (Koanf v2)
//  2. Cache: SQLite metadata store plus on-disk stitched panoramas
//  3. Provider: tile and metadata client for the street-view backend
//  4. Panorama repository: fetch, stitch, and persist panoramas on demand
//  5. Stores: tasks, sessions, geofences, trajectory logs
//  6. Engine: the action executor that drives session state
//  7. Supervisor tree: HTTP API and maintenance loops under suture
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins): environment variables, config.yaml, built-in defaults.
// The only required setting is GOOGLE_API_KEY. See internal/config.
//
// # Signal Handling
//
// The server shuts down gracefully on SIGINT and SIGTERM: the HTTP server
// stops accepting connections and drains in-flight requests, then the link
// fetcher pool, trajectory logs, and cache are closed in order.
//
// # Example Usage
//
//	export GOOGLE_API_KEY=your-api-key
//	export TASKS_DIR=./data/tasks
//	./panobench
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/panobench/panobench/internal/api"
	"github.com/panobench/panobench/internal/cache"
	"github.com/panobench/panobench/internal/config"
	"github.com/panobench/panobench/internal/engine"
	"github.com/panobench/panobench/internal/geofence"
	"github.com/panobench/panobench/internal/logging"
	"github.com/panobench/panobench/internal/pano"
	"github.com/panobench/panobench/internal/preload"
	"github.com/panobench/panobench/internal/provider"
	"github.com/panobench/panobench/internal/render"
	"github.com/panobench/panobench/internal/session"
	"github.com/panobench/panobench/internal/supervisor"
	"github.com/panobench/panobench/internal/task"
	"github.com/panobench/panobench/internal/trajectory"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Config errors use the default logger; config is not available yet.
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("tasks_dir", cfg.Storage.TasksDir).
		Str("cache_path", cfg.Storage.CachePath).
		Int("zoom", cfg.Panorama.Zoom).
		Msg("Configuration loaded")

	c, err := cache.Open(cfg.Storage.CachePath, cfg.Storage.PanoramasDir)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open cache")
	}
	defer func() {
		if err := c.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing cache")
		}
	}()
	logging.Info().Msg("Cache initialized")

	prov := provider.New(cfg.Provider)

	var links provider.LinkFetcher = provider.NoopLinkFetcher{}
	if cfg.Provider.LinkFetcherCommand != "" {
		links = provider.NewWorkerPool(cfg.Provider.LinkFetcherCommand,
			cfg.Provider.LinkWorkers, cfg.Provider.LinkRetryMax)
		logging.Info().
			Str("command", cfg.Provider.LinkFetcherCommand).
			Int("workers", cfg.Provider.LinkWorkers).
			Msg("Link fetcher pool started")
	} else {
		logging.Warn().Msg("No link fetcher configured; neighbor links come from metadata only")
	}
	defer func() {
		if err := links.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing link fetcher")
		}
	}()

	fences, err := geofence.New(cfg.Storage.GeofencePath)
	if err != nil {
		logging.Fatal().Err(err).Str("path", cfg.Storage.GeofencePath).
			Msg("Failed to load geofence config")
	}

	repo := pano.NewRepository(c, prov, prov, prov, links, fences,
		cfg.Provider.TileSize, cfg.Provider.TileSlots, cfg.Provider.PanoramaBudget)

	tasks := task.NewStore(cfg.Storage.TasksDir)
	sessions := session.NewStore(c, tasks, cfg.Render.DefaultPitch, cfg.Render.DefaultFOV,
		cfg.Session.DefaultMaxSteps, cfg.Session.DefaultMaxTime)

	renderer := render.New(cfg.Render.OutputWidth, cfg.Render.OutputHeight, cfg.Render.JPEGQuality)
	frames := render.NewFrameStore(cfg.Storage.TempImagesDir)

	traj, err := trajectory.NewLogger(cfg.Storage.LogsDir)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize trajectory logger")
	}
	defer func() {
		if err := traj.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing trajectory logs")
		}
	}()

	executor := engine.NewExecutor(sessions, repo, fences, renderer, frames, traj, cfg.Panorama.Zoom)
	if cfg.Session.CleanupTempImages {
		executor.EnableFrameCleanup()
	}
	preloads := preload.New(repo, cfg.Preload.Workers)

	server := api.NewServer(sessions, executor, tasks, fences, preloads, traj, frames,
		cfg.Storage.PanoramasDir, cfg.Panorama.Zoom)

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddAPIService(&supervisor.HTTPService{
		Addr:            cfg.Server.Addr(),
		Handler:         server.Routes(),
		ShutdownTimeout: cfg.Server.Timeout,
	})
	// The janitor catches frames from sessions that never reached a clean
	// end; on-end cleanup handles the common case.
	tree.AddBackgroundService(&supervisor.FrameJanitor{Root: cfg.Storage.TempImagesDir})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().Str("addr", cfg.Server.Addr()).Msg("Starting Panobench")
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree exited with error")
		os.Exit(1)
	}
	logging.Info().Msg("Shutdown complete")
}
