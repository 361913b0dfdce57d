// Package trigger carries "sync now" requests from signals, a trigger file or
// the control API to the polling loop.
package trigger

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

const DefaultFileName = ".meetsync-now"

type Logger interface {
	Printf(format string, args ...any)
}

// Trigger holds at most one pending request. Requests made while one is
// pending collapse into it.
type Trigger struct {
	ch chan struct{}
}

func New() *Trigger {
	return &Trigger{ch: make(chan struct{}, 1)}
}

// Request never blocks. It reports false when a request was already pending.
func (t *Trigger) Request() bool {
	select {
	case t.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

func (t *Trigger) C() <-chan struct{} {
	return t.ch
}

// WatchFile requests a sync whenever path is created or written, then removes
// it so the next touch fires again. It blocks until ctx is done.
func WatchFile(ctx context.Context, t *Trigger, path string, logger Logger) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return err
	}

	target := filepath.Clean(path)
	if _, err := os.Stat(target); err == nil {
		fire(t, target, logger)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !(ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write)) {
				continue
			}
			fire(t, target, logger)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logf(logger, "trigger file watcher error: %v", err)
		}
	}
}

func fire(t *Trigger, path string, logger Logger) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logf(logger, "could not remove trigger file %s: %v", path, err)
	}
	if t.Request() {
		logf(logger, "sync requested via %s", path)
	}
}

func logf(logger Logger, format string, args ...any) {
	if logger == nil {
		return
	}
	logger.Printf(format, args...)
}
