// Package filewatch adapts fsnotify to the change-record contract the
// dispatch engine polls: a background goroutine owns the OS watcher and
// buffers records; Read drains the buffer without ever blocking the caller.
package filewatch

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	logx "eventmanager/pkg/logx"
)

// Kind discriminates change records.
type Kind int

const (
	KindFile Kind = iota
	KindDirCreated
	KindDirRemoved
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirCreated:
		return "dir-created"
	case KindDirRemoved:
		return "dir-removed"
	default:
		return "unknown"
	}
}

// Change is one buffered filesystem change record.
type Change struct {
	Kind Kind
	Path string
}

// Watcher buffers filesystem change records from a set of directories.
//
// The buffer is unbounded: a burst of file activity grows it until the
// poller catches up. Bounding it would silently drop triggers under load.
type Watcher struct {
	log logx.Logger

	mu        sync.Mutex
	dirs      map[string]struct{}
	knownDirs map[string]struct{}
	recursive bool
	buf       []Change

	fsw  *fsnotify.Watcher
	stop chan struct{}
	wg   sync.WaitGroup
}

func New(log logx.Logger) *Watcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Watcher{
		log:       log,
		dirs:      make(map[string]struct{}),
		knownDirs: make(map[string]struct{}),
	}
}

// Add registers a directory to watch. Safe before or after Start.
func (w *Watcher) Add(dir string) error {
	w.mu.Lock()
	w.dirs[dir] = struct{}{}
	w.knownDirs[dir] = struct{}{}
	fsw := w.fsw
	w.mu.Unlock()

	if fsw != nil {
		return fsw.Add(dir)
	}
	return nil
}

// AddRecursive registers dir and every directory below it, and marks the
// watcher recursive so directories created later are picked up as their
// creation records arrive.
func (w *Watcher) AddRecursive(dir string) error {
	w.mu.Lock()
	w.recursive = true
	w.mu.Unlock()

	if err := w.Add(dir); err != nil {
		return err
	}
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			// Permission denied or vanished mid-walk: skip, keep walking.
			w.log.Warn("watch walk error", logx.String("path", path), logx.Err(err))
			return nil
		}
		if d.IsDir() && path != dir {
			if err := w.Add(path); err != nil {
				w.log.Warn("watch add failed", logx.String("dir", path), logx.Err(err))
			}
		}
		return nil
	})
}

// Remove drops a directory from the watch set.
func (w *Watcher) Remove(dir string) error {
	w.mu.Lock()
	delete(w.dirs, dir)
	delete(w.knownDirs, dir)
	fsw := w.fsw
	w.mu.Unlock()

	if fsw != nil {
		// The kernel may already have dropped the watch with the directory.
		_ = fsw.Remove(dir)
	}
	return nil
}

// HasWatches reports whether any directory is registered.
func (w *Watcher) HasWatches() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.dirs) > 0
}

// Start begins background observation of all registered directories.
// Calling Start on a running watcher is a no-op.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.fsw != nil {
		w.mu.Unlock()
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.fsw = fsw
	w.stop = make(chan struct{})
	dirs := make([]string, 0, len(w.dirs))
	for d := range w.dirs {
		dirs = append(dirs, d)
	}
	w.mu.Unlock()

	for _, d := range dirs {
		if err := fsw.Add(d); err != nil {
			// WatchError: recovered locally by skipping that watch.
			w.log.Warn("watch add failed", logx.String("dir", d), logx.Err(err))
		}
	}

	w.wg.Add(1)
	go w.loop(fsw, w.stop)
	return nil
}

func (w *Watcher) loop(fsw *fsnotify.Watcher, stop <-chan struct{}) {
	defer w.wg.Done()
	for {
		select {
		case <-stop:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handle(fsw, ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.log.Warn("watcher error", logx.Err(err))
			}
		}
	}
}

func (w *Watcher) handle(fsw *fsnotify.Watcher, ev fsnotify.Event) {
	switch {
	case ev.Op.Has(fsnotify.Create):
		info, err := os.Stat(ev.Name)
		if err != nil {
			// Vanished before we could look; nothing to report.
			return
		}
		if info.IsDir() {
			w.mu.Lock()
			w.knownDirs[ev.Name] = struct{}{}
			recursive := w.recursive
			w.mu.Unlock()
			if recursive {
				if err := fsw.Add(ev.Name); err != nil {
					w.log.Warn("watch add failed", logx.String("dir", ev.Name), logx.Err(err))
				}
			}
			w.push(Change{Kind: KindDirCreated, Path: ev.Name})
			return
		}
		w.push(Change{Kind: KindFile, Path: ev.Name})

	case ev.Op.Has(fsnotify.Write):
		if info, err := os.Stat(ev.Name); err == nil && !info.IsDir() {
			w.push(Change{Kind: KindFile, Path: ev.Name})
		}

	case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
		w.mu.Lock()
		_, wasDir := w.knownDirs[ev.Name]
		if wasDir {
			delete(w.knownDirs, ev.Name)
			delete(w.dirs, ev.Name)
		}
		w.mu.Unlock()
		if wasDir {
			w.push(Change{Kind: KindDirRemoved, Path: ev.Name})
		}
		// Deleted files are not reported; their content is gone.
	}
}

func (w *Watcher) push(c Change) {
	w.mu.Lock()
	w.buf = append(w.buf, c)
	w.mu.Unlock()
}

// Read drains all currently buffered change records without blocking.
// Safe to call concurrently with the background observation goroutine.
func (w *Watcher) Read() []Change {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) == 0 {
		return nil
	}
	out := w.buf
	w.buf = nil
	return out
}

// Stop halts background observation but keeps registered watches and any
// buffered records.
func (w *Watcher) Stop() {
	w.mu.Lock()
	fsw := w.fsw
	stop := w.stop
	w.fsw = nil
	w.stop = nil
	w.mu.Unlock()

	if fsw == nil {
		return
	}
	close(stop)
	_ = fsw.Close()
	w.wg.Wait()
}

// Reset stops the watcher and discards all registered watches and buffered
// records. Used during hot reload before re-registering from fresh config.
func (w *Watcher) Reset() {
	w.Stop()
	w.mu.Lock()
	w.dirs = make(map[string]struct{})
	w.knownDirs = make(map[string]struct{})
	w.buf = nil
	w.recursive = false
	w.mu.Unlock()
}
