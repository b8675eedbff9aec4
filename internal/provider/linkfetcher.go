// Panobench - Street-View Navigation Benchmark Platform
// Copyright 2026 Panobench Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/panobench/panobench

package provider

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os/exec"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/panobench/panobench/internal/logging"
	"github.com/panobench/panobench/internal/metrics"
	"github.com/panobench/panobench/internal/model"
)

// LinkResult is a neighbor-link lookup result: the navigable edges plus the
// panorama's centerHeading, both only available through the vendor's JS SDK.
type LinkResult struct {
	Links         []model.Link
	CenterHeading float64
}

// ErrFetcherClosed is returned by lookups issued after Close.
var ErrFetcherClosed = errors.New("link fetcher closed")

// LinkFetcher resolves neighbor links for a panorama.
type LinkFetcher interface {
	FetchLinks(ctx context.Context, panoID string) (*LinkResult, error)
	Close() error
}

// NoopLinkFetcher returns empty links for every panorama. Used when no
// helper command is configured; panoramas become navigational dead ends but
// metadata and imagery still work.
type NoopLinkFetcher struct{}

func (NoopLinkFetcher) FetchLinks(ctx context.Context, panoID string) (*LinkResult, error) {
	return &LinkResult{Links: []model.Link{}}, nil
}

func (NoopLinkFetcher) Close() error { return nil }

// linkRequest / linkResponse is the JSON-lines protocol spoken with helper
// workers over stdin/stdout: one request line in, one response line out.
type linkRequest struct {
	PanoID string `json:"pano_id"`
}

type linkResponse struct {
	Links []struct {
		PanoID  string  `json:"panoId"`
		Heading float64 `json:"heading"`
	} `json:"links"`
	CenterHeading float64 `json:"centerHeading"`
	Error         string  `json:"error,omitempty"`
}

// WorkerPool is a LinkFetcher backed by a fixed pool of helper subprocesses
// (typically a Node script wrapping the vendor JS SDK behind a headless
// browser). Requests borrow a worker FIFO; a worker whose process died is
// restarted before reuse. Lookups retry with sub-second jitter up to the
// configured budget.
type WorkerPool struct {
	command string
	retries int
	workers chan *linkWorker
	size    int

	closeMu sync.Mutex
	closed  bool
}

// NewWorkerPool starts size workers running command. Worker start failures
// are deferred: a worker that cannot start is retried on first borrow.
func NewWorkerPool(command string, size, retries int) *WorkerPool {
	if size < 1 {
		size = 1
	}
	pool := &WorkerPool{
		command: command,
		retries: retries,
		workers: make(chan *linkWorker, size),
		size:    size,
	}
	for i := 0; i < size; i++ {
		w := &linkWorker{id: i, command: command}
		if err := w.start(); err != nil {
			logging.WithComponent("linkfetcher").Warn().
				Int("worker", i).
				Err(err).
				Msg("worker failed to start, will retry on first use")
		}
		pool.workers <- w
	}
	return pool
}

// FetchLinks borrows a worker and runs the lookup, retrying with jitter.
// Lookups racing Close fail with ErrFetcherClosed instead of borrowing a
// dead worker.
func (p *WorkerPool) FetchLinks(ctx context.Context, panoID string) (*LinkResult, error) {
	p.closeMu.Lock()
	closed := p.closed
	p.closeMu.Unlock()
	if closed {
		return nil, model.WrapError(model.ErrUnavailable, ErrFetcherClosed,
			"link fetch for %s", panoID)
	}

	var lastErr error
	for attempt := 0; attempt <= p.retries; attempt++ {
		if attempt > 0 {
			jitter := 500*time.Millisecond + time.Duration(rand.Int63n(int64(time.Second)))
			select {
			case <-time.After(jitter):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		var worker *linkWorker
		select {
		case worker = <-p.workers:
			// A receive from the closed, drained channel yields nil.
			if worker == nil {
				return nil, model.WrapError(model.ErrUnavailable, ErrFetcherClosed,
					"link fetch for %s", panoID)
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		result, err := worker.fetch(ctx, panoID)
		p.workers <- worker

		if err == nil {
			metrics.RecordLinkFetch(nil)
			return result, nil
		}
		lastErr = err
	}

	metrics.RecordLinkFetch(lastErr)
	return nil, model.WrapError(model.ErrUnavailable, lastErr,
		"link fetch for %s after %d attempts", panoID, p.retries+1)
}

// Close terminates all workers.
func (p *WorkerPool) Close() error {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	for i := 0; i < p.size; i++ {
		w := <-p.workers
		w.stop()
	}
	close(p.workers)
	return nil
}

// linkWorker owns one helper subprocess.
type linkWorker struct {
	id      int
	command string

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	reader *bufio.Reader
}

func (w *linkWorker) start() error {
	parts := strings.Fields(w.command)
	if len(parts) == 0 {
		return fmt.Errorf("empty link fetcher command")
	}

	cmd := exec.Command(parts[0], parts[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("opening worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("opening worker stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting link worker: %w", err)
	}

	w.cmd = cmd
	w.stdin = stdin
	w.reader = bufio.NewReader(stdout)

	logging.WithComponent("linkfetcher").Debug().
		Int("worker", w.id).
		Int("pid", cmd.Process.Pid).
		Msg("link worker started")
	return nil
}

func (w *linkWorker) stop() {
	if w.cmd == nil {
		return
	}
	w.stdin.Close()
	w.cmd.Process.Kill()
	w.cmd.Wait()
	w.cmd = nil
}

// restart replaces a dead subprocess.
func (w *linkWorker) restart() error {
	w.stop()
	metrics.LinkWorkerRestarts.Inc()
	return w.start()
}

// fetch writes one request line and reads one response line. Any transport
// error marks the worker for restart.
func (w *linkWorker) fetch(ctx context.Context, panoID string) (*LinkResult, error) {
	if w.cmd == nil {
		if err := w.start(); err != nil {
			return nil, err
		}
	}

	reqLine, err := json.Marshal(linkRequest{PanoID: panoID})
	if err != nil {
		return nil, err
	}
	if _, err := w.stdin.Write(append(reqLine, '\n')); err != nil {
		w.restart()
		return nil, fmt.Errorf("writing to link worker: %w", err)
	}

	type lineResult struct {
		line []byte
		err  error
	}
	ch := make(chan lineResult, 1)
	go func() {
		line, err := w.reader.ReadBytes('\n')
		ch <- lineResult{line, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			w.restart()
			return nil, fmt.Errorf("reading from link worker: %w", res.err)
		}
		var decoded linkResponse
		if err := json.Unmarshal(res.line, &decoded); err != nil {
			return nil, fmt.Errorf("decoding link response: %w", err)
		}
		if decoded.Error != "" {
			return nil, fmt.Errorf("link worker error: %s", decoded.Error)
		}
		links := make([]model.Link, 0, len(decoded.Links))
		for _, l := range decoded.Links {
			links = append(links, model.Link{PanoID: l.PanoID, Heading: l.Heading})
		}
		return &LinkResult{Links: links, CenterHeading: decoded.CenterHeading}, nil
	case <-ctx.Done():
		// The response line, if it ever arrives, would desynchronize the
		// protocol; kill the worker instead.
		w.restart()
		return nil, ctx.Err()
	}
}
