// Panobench - Street-View Navigation Benchmark Platform
// Copyright 2026 Panobench Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/panobench/panobench

// Package config provides layered configuration for the Panobench server.
//
// Configuration is loaded via Koanf v2 with the following precedence
// (highest wins):
//
//  1. Environment variables (GOOGLE_API_KEY, HOST, PORT, DEBUG, ...)
//  2. Optional YAML config file (config.yaml or CONFIG_PATH)
//  3. Built-in defaults
package config

import (
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"time"
)

// Config is the root configuration for the Panobench server.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Provider ProviderConfig `koanf:"provider"`
	Panorama PanoramaConfig `koanf:"panorama"`
	Render   RenderConfig   `koanf:"render"`
	Session  SessionConfig  `koanf:"session"`
	Preload  PreloadConfig  `koanf:"preload"`
	Storage  StorageConfig  `koanf:"storage"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Debug   bool          `koanf:"debug"`
	Timeout time.Duration `koanf:"timeout"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// ProviderConfig holds map-provider API settings.
type ProviderConfig struct {
	// APIKey is the map provider credential (GOOGLE_API_KEY).
	APIKey string `koanf:"api_key"`

	// TilesBaseURL is the tile-session REST endpoint.
	TilesBaseURL string `koanf:"tiles_base_url"`

	// MetadataBaseURL is the lightweight metadata REST endpoint.
	MetadataBaseURL string `koanf:"metadata_base_url"`

	// TileSize is the provider tile edge length in pixels.
	TileSize int `koanf:"tile_size"`

	// PanoramaSlots bounds the number of panoramas in flight at once.
	PanoramaSlots int `koanf:"panorama_slots"`

	// TileSlots bounds concurrent tile fetches per panorama.
	// Effective global tile cap is PanoramaSlots * TileSlots.
	TileSlots int `koanf:"tile_slots"`

	// RetryMax is the per-request retry budget for 429/503/5xx.
	RetryMax int `koanf:"retry_max"`

	// RequestTimeout is the deadline for a single provider call.
	RequestTimeout time.Duration `koanf:"request_timeout"`

	// PanoramaBudget is the total wall-clock budget for one panorama build.
	PanoramaBudget time.Duration `koanf:"panorama_budget"`

	// SessionRefreshBuffer refreshes the tile session token this long
	// before its reported expiry.
	SessionRefreshBuffer time.Duration `koanf:"session_refresh_buffer"`

	// RequestsPerSecond paces outgoing tile requests. 0 disables pacing.
	RequestsPerSecond float64 `koanf:"requests_per_second"`

	// LinkWorkers is the size of the link-fetcher subprocess pool.
	LinkWorkers int `koanf:"link_workers"`

	// LinkFetcherCommand is the helper binary that resolves neighbor
	// links through the vendor JS SDK. Empty disables link fetching.
	LinkFetcherCommand string `koanf:"link_fetcher_command"`

	// LinkRetryMax is the retry budget per link lookup.
	LinkRetryMax int `koanf:"link_retry_max"`
}

// PanoramaConfig holds panorama image settings.
//
// Zoom levels follow the provider's tiling scheme:
//
//	zoom 0 -> 512x512, zoom 2 -> 2048x1024, zoom 3 -> 4096x2048 (benchmark)
type PanoramaConfig struct {
	Zoom int `koanf:"zoom"`
}

// RenderConfig holds perspective rendering settings.
type RenderConfig struct {
	// OutputWidth/OutputHeight is the agent observation size.
	// 1280x800 gives a 16:10 aspect; with hFOV 90 the vFOV is 56.25.
	OutputWidth  int `koanf:"output_width"`
	OutputHeight int `koanf:"output_height"`

	// DefaultFOV is the horizontal field of view in degrees. FOV is
	// pinned to this value for benchmark comparability.
	DefaultFOV float64 `koanf:"default_fov"`

	// DefaultPitch is the spawn pitch angle.
	DefaultPitch float64 `koanf:"default_pitch"`

	// JPEGQuality for emitted perspective frames.
	JPEGQuality int `koanf:"jpeg_quality"`
}

// SessionConfig holds evaluation session settings.
type SessionConfig struct {
	// DefaultMaxSteps applies when the task does not set max_steps.
	DefaultMaxSteps int `koanf:"default_max_steps"`

	// DefaultMaxTime applies when the task does not set max_time_seconds.
	DefaultMaxTime time.Duration `koanf:"default_max_time"`

	// CleanupTempImages removes a session's rendered frames when the
	// session ends.
	CleanupTempImages bool `koanf:"cleanup_temp_images"`
}

// PreloadConfig holds bulk warm-up settings.
type PreloadConfig struct {
	// Workers caps the number of panoramas preloaded in parallel.
	Workers int `koanf:"workers"`
}

// StorageConfig holds filesystem layout settings.
type StorageConfig struct {
	DataDir       string `koanf:"data_dir"`
	CachePath     string `koanf:"cache_path"`
	PanoramasDir  string `koanf:"panoramas_dir"`
	TasksDir      string `koanf:"tasks_dir"`
	LogsDir       string `koanf:"logs_dir"`
	TempImagesDir string `koanf:"temp_images_dir"`
	GeofencePath  string `koanf:"geofence_path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all default values applied. These
// are overridden by the config file and environment variables in turn.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8000,
			Debug:   false,
			Timeout: 30 * time.Second,
		},
		Provider: ProviderConfig{
			APIKey:               "",
			TilesBaseURL:         "https://tile.googleapis.com/v1",
			MetadataBaseURL:      "https://maps.googleapis.com/maps/api/streetview",
			TileSize:             512,
			PanoramaSlots:        4,
			TileSlots:            4,
			RetryMax:             3,
			RequestTimeout:       10 * time.Second,
			PanoramaBudget:       60 * time.Second,
			SessionRefreshBuffer: 60 * time.Second,
			RequestsPerSecond:    0,
			LinkWorkers:          4,
			LinkFetcherCommand:   "",
			LinkRetryMax:         2,
		},
		Panorama: PanoramaConfig{
			Zoom: 2,
		},
		Render: RenderConfig{
			OutputWidth:  1280,
			OutputHeight: 800,
			DefaultFOV:   90,
			DefaultPitch: 0,
			JPEGQuality:  90,
		},
		Session: SessionConfig{
			DefaultMaxSteps:   100,
			DefaultMaxTime:    600 * time.Second,
			CleanupTempImages: true,
		},
		Preload: PreloadConfig{
			Workers: 12,
		},
		Storage: StorageConfig{
			DataDir:       "data",
			CachePath:     "",
			PanoramasDir:  "",
			TasksDir:      "tasks",
			LogsDir:       "logs",
			TempImagesDir: "temp_images",
			GeofencePath:  filepath.Join("config", "geofence_config.json"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// applyDerivedPaths fills storage paths that default relative to DataDir.
func (c *Config) applyDerivedPaths() {
	if c.Storage.CachePath == "" {
		c.Storage.CachePath = filepath.Join(c.Storage.DataDir, "cache.db")
	}
	if c.Storage.PanoramasDir == "" {
		c.Storage.PanoramasDir = filepath.Join(c.Storage.DataDir, "panoramas")
	}
}

// Validate checks configuration invariants. It is called by Load; tests
// constructing configs by hand should call it too.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in [1,65535], got %d", c.Server.Port)
	}
	if c.Panorama.Zoom < 0 || c.Panorama.Zoom > 5 {
		return fmt.Errorf("panorama.zoom must be in [0,5], got %d", c.Panorama.Zoom)
	}
	if c.Provider.TileSize <= 0 {
		return fmt.Errorf("provider.tile_size must be positive, got %d", c.Provider.TileSize)
	}
	if c.Provider.PanoramaSlots < 1 {
		return fmt.Errorf("provider.panorama_slots must be at least 1, got %d", c.Provider.PanoramaSlots)
	}
	if c.Provider.TileSlots < 1 {
		return fmt.Errorf("provider.tile_slots must be at least 1, got %d", c.Provider.TileSlots)
	}
	if c.Render.OutputWidth <= 0 || c.Render.OutputHeight <= 0 {
		return fmt.Errorf("render output size must be positive, got %dx%d",
			c.Render.OutputWidth, c.Render.OutputHeight)
	}
	if c.Render.DefaultFOV < 30 || c.Render.DefaultFOV > 120 {
		return fmt.Errorf("render.default_fov must be in [30,120], got %g", c.Render.DefaultFOV)
	}
	if c.Render.JPEGQuality < 85 || c.Render.JPEGQuality > 100 {
		return fmt.Errorf("render.jpeg_quality must be in [85,100], got %d", c.Render.JPEGQuality)
	}
	if c.Preload.Workers < 1 {
		return fmt.Errorf("preload.workers must be at least 1, got %d", c.Preload.Workers)
	}
	return nil
}
