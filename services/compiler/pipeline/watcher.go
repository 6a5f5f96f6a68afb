// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// circuitExts are the file extensions treated as circuit documents.
var circuitExts = []string{".yaml", ".yml"}

// IsCircuitFile reports whether path looks like a circuit document.
func IsCircuitFile(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return slices.Contains(circuitExts, strings.ToLower(filepath.Ext(base)))
}

// CircuitFiles lists the circuit documents under dir, sorted.
func CircuitFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if IsCircuitFile(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list circuit files in %s: %w", dir, err)
	}
	slices.Sort(files)
	return files, nil
}

// ChangeHandler receives a debounced batch of changed circuit files.
// Paths are unique and sorted. Removed files are reported in removed.
type ChangeHandler func(ctx context.Context, changed, removed []string)

// Watcher reports circuit files that change under a directory.
//
// Events are collected until the debounce window passes without a new
// one, then handed to the handler as a single batch.
//
// Thread Safety: Safe for concurrent use. The handler is called from a
// single goroutine.
type Watcher struct {
	root     string
	fsw      *fsnotify.Watcher
	handler  ChangeHandler
	debounce time.Duration
	logger   *slog.Logger

	events   chan fsnotify.Event
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	mu      sync.Mutex
	started bool
}

// NewWatcher creates a stopped watcher for root.
func NewWatcher(root string, debounce time.Duration, handler ChangeHandler, logger *slog.Logger) (*Watcher, error) {
	if handler == nil {
		return nil, errors.New("handler must not be nil")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch %s: not a directory", root)
	}
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	return &Watcher{
		root:     root,
		fsw:      fsw,
		handler:  handler,
		debounce: debounce,
		logger:   logger,
		events:   make(chan fsnotify.Event, 256),
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching root and its subdirectories. Calling Start on a
// running watcher is a no-op.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}

	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if path != w.root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
	if err != nil {
		return fmt.Errorf("watch %s: %w", w.root, err)
	}

	w.started = true
	w.wg.Add(2)
	go w.forward(ctx)
	go w.debounceLoop(ctx)
	return nil
}

// Stop halts the watcher and waits for the handler to return.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.fsw.Close()
		w.wg.Wait()
	})
}

// forward filters fsnotify events and picks up new subdirectories.
func (w *Watcher) forward(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.fsw.Add(ev.Name); err != nil {
						w.logger.Warn("watch: add directory failed",
							slog.String("path", ev.Name),
							slog.String("error", err.Error()),
						)
					}
					continue
				}
			}
			if !IsCircuitFile(ev.Name) || ev.Op == fsnotify.Chmod {
				continue
			}
			select {
			case w.events <- ev:
			default:
				w.logger.Warn("watch: event buffer full, dropping event", slog.String("path", ev.Name))
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch: fsnotify error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) debounceLoop(ctx context.Context) {
	defer w.wg.Done()

	// Latest event per path wins.
	pending := make(map[string]fsnotify.Op)
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if timer != nil {
			timer.Stop()
			timer, timerC = nil, nil
		}
		if len(pending) == 0 {
			return
		}
		var changed, removed []string
		for path, op := range pending {
			if op.Has(fsnotify.Remove) || op.Has(fsnotify.Rename) {
				removed = append(removed, path)
			} else {
				changed = append(changed, path)
			}
		}
		clear(pending)
		slices.Sort(changed)
		slices.Sort(removed)
		w.handler(ctx, changed, removed)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev := <-w.events:
			pending[ev.Name] = ev.Op
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-timerC:
			timer, timerC = nil, nil
			flush()
		}
	}
}

// Watch compiles every circuit under dir, then recompiles files as they
// change until ctx is cancelled. report is called once per unit, from a
// single goroutine.
//
// Outputs:
//
//   - error: Setup failures, or an internal compiler error. Cancelling ctx
//     returns nil.
func (c *Compiler) Watch(ctx context.Context, dir string, report func(*Result)) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	files, err := CircuitFiles(dir)
	if err != nil {
		return err
	}
	if err := c.compileFiles(ctx, files, report); err != nil {
		return err
	}

	w, err := NewWatcher(dir, c.debounce, func(ctx context.Context, changed, removed []string) {
		for _, path := range removed {
			c.logger.Info("watch: circuit removed", slog.String("path", path))
		}
		if err := c.compileFiles(ctx, changed, report); err != nil && ctx.Err() == nil {
			cancel(err)
		}
	}, c.logger)
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	defer w.Stop()

	c.logger.Info("watch: watching for changes", slog.String("dir", dir), slog.Int("circuits", len(files)))
	<-ctx.Done()

	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) && !errors.Is(cause, context.DeadlineExceeded) {
		return cause
	}
	return nil
}

// compileFiles loads and compiles paths, reporting every unit. Files that
// fail to load are reported as failed units.
func (c *Compiler) compileFiles(ctx context.Context, paths []string, report func(*Result)) error {
	var units []Unit
	for _, path := range paths {
		u, err := LoadUnit(path)
		if err != nil {
			report(&Result{Name: filepath.Base(path), Path: path, Err: err})
			continue
		}
		units = append(units, u)
	}
	if len(units) == 0 {
		return nil
	}

	results, err := c.CompileAll(ctx, units)
	for _, r := range results {
		if r != nil {
			report(r)
		}
	}
	return err
}
