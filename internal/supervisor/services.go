// Panobench - Street-View Navigation Benchmark Platform
// Copyright 2026 Panobench Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/panobench/panobench

package supervisor

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/panobench/panobench/internal/logging"
)

// HTTPService runs an http.Server under suture supervision with graceful
// shutdown on context cancellation.
type HTTPService struct {
	Addr            string
	Handler         http.Handler
	ShutdownTimeout time.Duration
}

func (s *HTTPService) String() string { return "http-server" }

// Serve implements suture.Service.
func (s *HTTPService) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logging.WithComponent("http").Info().Str("addr", s.Addr).Msg("listening")

	select {
	case <-ctx.Done():
		timeout := s.ShutdownTimeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// FrameJanitor removes per-session frame directories that have not been
// touched within TTL. Live sessions keep their directories fresh because
// every rendered step updates the mtime.
type FrameJanitor struct {
	Root     string
	Interval time.Duration
	TTL      time.Duration
}

func (j *FrameJanitor) String() string { return "frame-janitor" }

// Serve implements suture.Service.
func (j *FrameJanitor) Serve(ctx context.Context) error {
	interval := j.Interval
	if interval == 0 {
		interval = time.Hour
	}
	ttl := j.TTL
	if ttl == 0 {
		ttl = 24 * time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			j.sweep(ttl)
		}
	}
}

func (j *FrameJanitor) sweep(ttl time.Duration) {
	log := logging.WithComponent("janitor")
	entries, err := os.ReadDir(j.Root)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Msg("reading frames root")
		}
		return
	}

	cutoff := time.Now().Add(-ttl)
	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(j.Root, e.Name())); err != nil {
			log.Warn().Err(err).Str("session_id", e.Name()).Msg("removing stale frames")
			continue
		}
		removed++
	}
	if removed > 0 {
		log.Info().Int("removed", removed).Msg("stale frame directories cleaned")
	}
}
