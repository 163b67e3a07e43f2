// Package intake watches a spool directory for submission files.
//
// Capture submissions land in the spool as JSON documents, written by the
// request-handling layer (or dropped in by hand for offline runs). A file
// is picked up once it has been stable for the debounce interval, so a
// half-written submission is never processed. Files are emitted on a
// channel in arrival order; the daemon's worker pool consumes them.
package intake

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Arrival is a spooled submission file that is ready to process.
type Arrival struct {
	Path      string
	Size      int64
	Timestamp time.Time
}

// Watcher monitors the spool directory.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	spoolDir  string
	debounce  time.Duration
	maxSize   int64

	// path -> last write time for files awaiting stability
	state   map[string]time.Time
	stateMu sync.RWMutex

	arrivals chan Arrival
	errors   chan error

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a spool watcher. maxSize 0 means unlimited.
func New(spoolDir string, debounce time.Duration, maxSize int64) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	return &Watcher{
		fsWatcher: fsWatcher,
		spoolDir:  spoolDir,
		debounce:  debounce,
		maxSize:   maxSize,
		state:     make(map[string]time.Time),
		arrivals:  make(chan Arrival, 64),
		errors:    make(chan error, 8),
		done:      make(chan struct{}),
	}, nil
}

// Arrivals returns the channel of ready submission files.
func (w *Watcher) Arrivals() <-chan Arrival {
	return w.arrivals
}

// Errors returns the channel of watcher errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Start begins watching the spool directory. Files already present are
// tracked so a daemon restart does not strand spooled submissions.
func (w *Watcher) Start() error {
	absDir, err := filepath.Abs(w.spoolDir)
	if err != nil {
		return err
	}
	w.spoolDir = absDir

	info, err := os.Stat(absDir)
	if err != nil {
		return fmt.Errorf("spool dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("spool dir %s is not a directory", absDir)
	}

	if err := w.fsWatcher.Add(absDir); err != nil {
		return err
	}

	entries, err := os.ReadDir(absDir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			w.track(filepath.Join(absDir, entry.Name()))
		}
	}

	w.wg.Add(2)
	go w.eventLoop()
	go w.debounceLoop()

	return nil
}

// Stop gracefully shuts down the watcher.
func (w *Watcher) Stop() error {
	close(w.done)
	w.wg.Wait()
	close(w.arrivals)
	close(w.errors)
	return w.fsWatcher.Close()
}

// track adds a spool file to stability tracking.
func (w *Watcher) track(path string) {
	if !wanted(path) {
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		return
	}

	w.stateMu.Lock()
	w.state[path] = info.ModTime()
	w.stateMu.Unlock()
}

// wanted filters spool entries to submission documents.
func wanted(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return false
	}
	return strings.HasSuffix(name, ".json")
}

// eventLoop handles fsnotify events.
func (w *Watcher) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					w.stateMu.Lock()
					delete(w.state, event.Name)
					w.stateMu.Unlock()
				}
				continue
			}
			if !wanted(event.Name) {
				continue
			}

			info, err := os.Stat(event.Name)
			if err != nil || info.IsDir() {
				continue
			}

			w.stateMu.Lock()
			w.state[event.Name] = time.Now()
			w.stateMu.Unlock()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}

// debounceLoop periodically emits files that have been stable long enough.
func (w *Watcher) debounceLoop() {
	defer w.wg.Done()

	tick := w.debounce / 2
	if tick < 50*time.Millisecond {
		tick = 50 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return

		case now := <-ticker.C:
			w.emitStable(now)
		}
	}
}

// emitStable finds files unchanged for the debounce interval and emits
// them. A file is removed from tracking once emitted; a later write makes
// it eligible again.
func (w *Watcher) emitStable(now time.Time) {
	threshold := now.Add(-w.debounce)

	var ready []string
	w.stateMu.RLock()
	for path, lastMod := range w.state {
		if lastMod.Before(threshold) {
			ready = append(ready, path)
		}
	}
	w.stateMu.RUnlock()

	for _, path := range ready {
		info, err := os.Stat(path)
		if err != nil {
			w.stateMu.Lock()
			delete(w.state, path)
			w.stateMu.Unlock()
			continue
		}

		if w.maxSize > 0 && info.Size() > w.maxSize {
			w.stateMu.Lock()
			delete(w.state, path)
			w.stateMu.Unlock()
			select {
			case w.errors <- fmt.Errorf("spool file %s exceeds size limit (%d bytes)", path, info.Size()):
			default:
			}
			continue
		}

		select {
		case w.arrivals <- Arrival{Path: path, Size: info.Size(), Timestamp: now}:
			w.stateMu.Lock()
			delete(w.state, path)
			w.stateMu.Unlock()
		default:
			// Channel full, the file stays tracked for the next tick.
		}
	}
}

// Tracked returns the number of files awaiting stability.
func (w *Watcher) Tracked() int {
	w.stateMu.RLock()
	defer w.stateMu.RUnlock()
	return len(w.state)
}
