// Package watch is the built-in file event source.
//
// It polls a directory tree and reports file lifecycle by settling: a new
// file emits file_created immediately, and file_closed once its size and
// modification time hold still across two consecutive polls. Files present
// before the watcher started are primed silently so a restart does not
// replay the whole directory.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"slate/internal/logging"
	"slate/internal/rules"
)

type fileState struct {
	size    int64
	modTime time.Time
	settled bool
}

// Publisher accepts events produced by the watcher.
type Publisher interface {
	Publish(rules.Event) bool
}

// Watcher polls a directory and publishes file lifecycle events.
type Watcher struct {
	dir      string
	interval time.Duration
	sink     Publisher
	logger   *slog.Logger
	seen     map[string]fileState
	primed   bool

	transfers atomic.Int64
}

func New(dir string, interval time.Duration, sink Publisher, logger *slog.Logger) *Watcher {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Watcher{
		dir:      dir,
		interval: interval,
		sink:     sink,
		logger:   logging.WithComponent(logger, "watch"),
		seen:     make(map[string]fileState),
	}
}

// Run polls until ctx is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Scan()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.Scan()
		}
	}
}

// Scan performs one poll pass. The first pass primes existing files without
// emitting events.
func (w *Watcher) Scan() {
	current := make(map[string]fileState, len(w.seen))

	err := filepath.WalkDir(w.dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if entry.IsDir() {
			if path != w.dir && strings.HasPrefix(entry.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if ignoredFile(entry.Name()) {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return nil
		}
		current[path] = fileState{size: info.Size(), modTime: info.ModTime()}
		return nil
	})
	if err != nil {
		w.logger.Warn("watch scan failed", logging.Error(err), logging.String("dir", w.dir))
		return
	}

	if !w.primed {
		for path, state := range current {
			state.settled = true
			w.seen[path] = state
		}
		w.primed = true
		return
	}

	for path, state := range current {
		previous, known := w.seen[path]
		switch {
		case !known:
			w.seen[path] = state
			w.publish(rules.TriggerFileCreated, path, state.size)
		case previous.settled:
			// Rewritten in place: treat as a fresh arrival.
			if state.size != previous.size || !state.modTime.Equal(previous.modTime) {
				w.seen[path] = state
				w.publish(rules.TriggerFileCreated, path, state.size)
			}
		case state.size == previous.size && state.modTime.Equal(previous.modTime):
			state.settled = true
			w.seen[path] = state
			w.publish(rules.TriggerFileClosed, path, state.size)
		default:
			w.seen[path] = state
		}
	}

	for path := range w.seen {
		if _, exists := current[path]; !exists {
			delete(w.seen, path)
		}
	}

	var active int64
	for _, state := range w.seen {
		if !state.settled {
			active++
		}
	}
	w.transfers.Store(active)
}

// Transfers reports how many files are still being written into the watch
// directory. Safe to call from other goroutines while Run is polling.
func (w *Watcher) Transfers() int {
	return int(w.transfers.Load())
}

func (w *Watcher) publish(trigger rules.TriggerType, path string, size int64) {
	event := rules.Event{
		Trigger: trigger,
		Subject: path,
		Payload: map[string]any{
			"path":       path,
			"size_bytes": float64(size),
			"extension":  strings.TrimPrefix(filepath.Ext(path), "."),
		},
	}
	if !w.sink.Publish(event) {
		w.logger.Warn("event sink rejected watch event",
			logging.String(logging.FieldEventType, string(trigger)),
			logging.String(logging.FieldSubject, path),
		)
	}
}

func ignoredFile(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".part", ".tmp", ".partial":
		return true
	}
	return false
}
