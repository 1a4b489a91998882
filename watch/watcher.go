// Package watch rebuilds a project when its sources change.
package watch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Config configures the file watcher
type Config struct {
	// Root is the directory to watch
	Root string

	// Match selects the files whose changes trigger a rebuild. It receives
	// slash-separated paths relative to Root. Nil matches every file.
	Match func(rel string) bool

	// Skip lists directory names never watched, in addition to hidden ones
	Skip []string

	// DebounceDelay is how long to wait for more changes before flushing
	DebounceDelay time.Duration

	// Logger for logging events
	Logger *slog.Logger
}

// Operation indicates the type of file operation
type Operation string

const (
	OpCreate Operation = "create"
	OpModify Operation = "modify"
	OpDelete Operation = "delete"
)

// Change is one file change in a batch
type Change struct {
	// Path is the file path relative to Root, slash separated
	Path string

	// Operation is the type of change
	Operation Operation
}

// Watcher collects debounced file changes under a root
type Watcher struct {
	config  Config
	watcher *fsnotify.Watcher
	logger  *slog.Logger
	skip    map[string]bool

	// Debouncing: collect changes before flushing
	pendingMu sync.Mutex
	pending   map[string]fsnotify.Op // path → most recent operation

	// Content hashes for change detection
	hashMu sync.Mutex
	hashes map[string]string

	// Output channel
	batches chan []Change
}

// New creates a new file watcher
func New(config Config) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if config.DebounceDelay == 0 {
		config.DebounceDelay = 100 * time.Millisecond
	}

	skip := map[string]bool{"node_modules": true, "vendor": true}
	for _, name := range config.Skip {
		skip[name] = true
	}

	return &Watcher{
		config:  config,
		watcher: fsw,
		logger:  logger,
		skip:    skip,
		pending: make(map[string]fsnotify.Op),
		hashes:  make(map[string]string),
		batches: make(chan []Change, 16),
	}, nil
}

// Batches returns the channel of debounced change sets
func (w *Watcher) Batches() <-chan []Change {
	return w.batches
}

// Start records the current content of matched files and begins watching
func (w *Watcher) Start(ctx context.Context) error {
	// Add watches recursively
	if err := w.addWatchesRecursive(w.config.Root); err != nil {
		return err
	}

	// Start the event processing goroutine
	go w.processEvents(ctx)

	w.logger.Info("File watcher started",
		"root", w.config.Root,
		"debounce", w.config.DebounceDelay)

	return nil
}

// Stop stops the watcher
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

// Run starts the watcher and calls rebuild for every batch until ctx is done.
// rebuild errors are logged; the loop keeps running.
func (w *Watcher) Run(ctx context.Context, rebuild func(context.Context, []Change) error) error {
	if err := w.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case batch, ok := <-w.batches:
			if !ok {
				return nil
			}
			w.logger.Info("Rebuilding", "changes", len(batch))
			if err := rebuild(ctx, batch); err != nil {
				w.logger.Error("Rebuild failed", "error", err)
			}
		}
	}
}

func (w *Watcher) skipDir(path string) bool {
	if path == w.config.Root {
		return false
	}
	base := filepath.Base(path)
	return w.skip[base] || strings.HasPrefix(base, ".")
}

// rel returns the slash form of path relative to Root
func (w *Watcher) rel(path string) string {
	relPath, err := filepath.Rel(w.config.Root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(relPath)
}

func (w *Watcher) matches(rel string) bool {
	return w.config.Match == nil || w.config.Match(rel)
}

// addWatchesRecursive adds watches to all directories and hashes matched files
func (w *Watcher) addWatchesRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() {
			if rel := w.rel(path); w.matches(rel) {
				if hash, err := hashFile(path); err == nil {
					w.setHash(rel, hash)
				}
			}
			return nil
		}

		if w.skipDir(path) {
			return filepath.SkipDir
		}

		// Add watch
		if err := w.watcher.Add(path); err != nil {
			w.logger.Warn("Failed to watch directory",
				"path", path,
				"error", err)
		} else {
			w.logger.Debug("Watching directory", "path", path)
		}

		return nil
	})
}

// processEvents handles fsnotify events with debouncing
func (w *Watcher) processEvents(ctx context.Context) {
	ticker := time.NewTicker(w.config.DebounceDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Watcher error", "error", err)

		case <-ticker.C:
			w.flushPending(ctx)
		}
	}
}

// handleFSEvent processes a single fsnotify event
func (w *Watcher) handleFSEvent(event fsnotify.Event) {
	path := event.Name

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			w.handleNewDirectory(path)
			return
		}
	}

	rel := w.rel(path)
	if !w.matches(rel) {
		return
	}

	// Accumulate pending changes
	w.pendingMu.Lock()
	w.pending[path] = event.Op
	w.pendingMu.Unlock()

	w.logger.Debug("File change detected",
		"path", rel,
		"op", event.Op.String())
}

// handleNewDirectory adds a watch to a newly created directory
func (w *Watcher) handleNewDirectory(path string) {
	if w.skipDir(path) {
		return
	}

	if err := w.addWatchesRecursive(path); err != nil {
		w.logger.Warn("Failed to watch new directory",
			"path", path,
			"error", err)
	} else {
		w.logger.Debug("Added watch for new directory", "path", path)
	}
}

// flushPending turns accumulated events into one batch
func (w *Watcher) flushPending(ctx context.Context) {
	w.pendingMu.Lock()
	if len(w.pending) == 0 {
		w.pendingMu.Unlock()
		return
	}

	// Copy and clear pending
	toProcess := w.pending
	w.pending = make(map[string]fsnotify.Op)
	w.pendingMu.Unlock()

	var batch []Change
	for path, op := range toProcess {
		rel := w.rel(path)

		hash, err := hashFile(path)
		if errors.Is(err, fs.ErrNotExist) || op.Has(fsnotify.Remove) || op.Has(fsnotify.Rename) {
			if w.deleteHash(rel) {
				batch = append(batch, Change{Path: rel, Operation: OpDelete})
			}
			continue
		}
		if err != nil {
			w.logger.Warn("Failed to read changed file", "path", rel, "error", err)
			continue
		}

		// Check if content actually changed
		old, had := w.swapHash(rel, hash)
		switch {
		case !had:
			batch = append(batch, Change{Path: rel, Operation: OpCreate})
		case old != hash:
			batch = append(batch, Change{Path: rel, Operation: OpModify})
		}
	}

	if len(batch) == 0 {
		return
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].Path < batch[j].Path })

	select {
	case w.batches <- batch:
	case <-ctx.Done():
	default:
		w.logger.Warn("Rebuild queue full, dropping changes", "changes", len(batch))
	}
}

func (w *Watcher) setHash(rel, hash string) {
	w.hashMu.Lock()
	defer w.hashMu.Unlock()
	w.hashes[rel] = hash
}

func (w *Watcher) swapHash(rel, hash string) (string, bool) {
	w.hashMu.Lock()
	defer w.hashMu.Unlock()
	old, ok := w.hashes[rel]
	w.hashes[rel] = hash
	return old, ok
}

func (w *Watcher) deleteHash(rel string) bool {
	w.hashMu.Lock()
	defer w.hashMu.Unlock()
	_, ok := w.hashes[rel]
	delete(w.hashes, rel)
	return ok
}

func hashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
