package observer

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// SheetChangeCallback is called with the watched files that changed
type SheetChangeCallback func(changed []string)

// SheetWatcher reports edits to sample sheets and config files. The parent
// directory is watched so that editors replacing the file by rename are seen.
type SheetWatcher struct {
	watcher  *fsnotify.Watcher
	callback SheetChangeCallback
	debounce time.Duration
	logger   zerolog.Logger

	files map[string]struct{}
	dirs  map[string]struct{}

	pending map[string]struct{}
	timer   *time.Timer
	mu      sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSheetWatcher creates a watcher that calls callback after changes settle
func NewSheetWatcher(callback SheetChangeCallback, logger zerolog.Logger) (*SheetWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &SheetWatcher{
		watcher:  watcher,
		callback: callback,
		debounce: 2 * time.Second,
		logger:   logger.With().Str("component", "observer").Logger(),
		files:    make(map[string]struct{}),
		dirs:     make(map[string]struct{}),
		pending:  make(map[string]struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Add starts watching a file
func (sw *SheetWatcher) Add(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	sw.mu.Lock()
	defer sw.mu.Unlock()

	dir := filepath.Dir(abs)
	if _, ok := sw.dirs[dir]; !ok {
		if err := sw.watcher.Add(dir); err != nil {
			return fmt.Errorf("watching %s: %w", dir, err)
		}
		sw.dirs[dir] = struct{}{}
	}
	sw.files[abs] = struct{}{}
	return nil
}

// Start begins watching for file changes
func (sw *SheetWatcher) Start(ctx context.Context) {
	ctx, sw.cancel = context.WithCancel(ctx)

	go func() {
		defer close(sw.done)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-sw.watcher.Events:
				if !ok {
					return
				}
				sw.handleEvent(event)
			case err, ok := <-sw.watcher.Errors:
				if !ok {
					return
				}
				sw.logger.Warn().Err(err).Msg("watch error")
			}
		}
	}()
}

// Stop stops watching and drops pending changes
func (sw *SheetWatcher) Stop() {
	if sw.cancel != nil {
		sw.cancel()
	}
	sw.watcher.Close()

	sw.mu.Lock()
	if sw.timer != nil {
		sw.timer.Stop()
	}
	sw.mu.Unlock()
}

// Wait blocks until the event loop started by Start has exited
func (sw *SheetWatcher) Wait() {
	<-sw.done
}

func (sw *SheetWatcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}

	name := filepath.Clean(event.Name)

	sw.mu.Lock()
	defer sw.mu.Unlock()

	if _, ok := sw.files[name]; !ok {
		return
	}
	sw.pending[name] = struct{}{}

	if sw.timer != nil {
		sw.timer.Stop()
	}
	sw.timer = time.AfterFunc(sw.debounce, sw.flush)
}

func (sw *SheetWatcher) flush() {
	sw.mu.Lock()
	pending := sw.pending
	sw.pending = make(map[string]struct{})
	sw.mu.Unlock()

	if sw.callback == nil || len(pending) == 0 {
		return
	}

	files := make([]string, 0, len(pending))
	for f := range pending {
		files = append(files, f)
	}
	sw.logger.Debug().Strs("files", files).Msg("watched files changed")
	sw.callback(files)
}

// SetDebounce sets how long changes must settle before the callback fires
func (sw *SheetWatcher) SetDebounce(d time.Duration) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.debounce = d
}
