package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func peggyOnly(rel string) bool {
	return strings.HasSuffix(rel, ".peggy")
}

func newWatcher(t *testing.T, root string) *Watcher {
	t.Helper()
	w, err := New(Config{
		Root:          root,
		Match:         peggyOnly,
		Skip:          []string{"dist"},
		DebounceDelay: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	return w
}

// waitFor reads batches until one carries want, failing the test after a
// timeout. Intermediate batches from partial writes are skipped.
func waitFor(t *testing.T, w *Watcher, want Change) []Change {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case batch := <-w.Batches():
			for _, c := range batch {
				if c == want {
					return batch
				}
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %+v", want)
			return nil
		}
	}
}

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestWatcher_CreateModifyDelete(t *testing.T) {
	root := t.TempDir()
	existing := filepath.Join(root, "src", "calc.peggy")
	write(t, existing, `start = "a"`)

	w := newWatcher(t, root)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer func() { _ = w.Stop() }()

	write(t, existing, `start = "b"`)
	waitFor(t, w, Change{Path: "src/calc.peggy", Operation: OpModify})

	write(t, filepath.Join(root, "src", "json.peggy"), `start = "{"`)
	waitFor(t, w, Change{Path: "src/json.peggy", Operation: OpCreate})

	require.NoError(t, os.Remove(existing))
	waitFor(t, w, Change{Path: "src/calc.peggy", Operation: OpDelete})
}

func TestWatcher_IgnoresUnmatched(t *testing.T) {
	root := t.TempDir()
	w := newWatcher(t, root)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer func() { _ = w.Stop() }()

	write(t, filepath.Join(root, "main.js"), "console.log(1)")
	write(t, filepath.Join(root, "dist", "out.peggy"), "ignored")
	write(t, filepath.Join(root, "next.peggy"), `start = "n"`)

	batch := waitFor(t, w, Change{Path: "next.peggy", Operation: OpCreate})
	for _, c := range batch {
		assert.Equal(t, "next.peggy", c.Path)
	}
}

func TestWatcher_UnchangedContentIsDropped(t *testing.T) {
	root := t.TempDir()
	grammar := filepath.Join(root, "calc.peggy")
	write(t, grammar, `start = "a"`)

	w := newWatcher(t, root)
	defer func() { _ = w.Stop() }()
	require.NoError(t, w.addWatchesRecursive(root))

	w.pending[grammar] = fsnotify.Write
	w.flushPending(context.Background())
	assert.Empty(t, w.Batches())

	write(t, grammar, `start = "b"`)
	w.pending[grammar] = fsnotify.Write
	w.flushPending(context.Background())
	require.Len(t, w.Batches(), 1)
	assert.Equal(t, []Change{{Path: "calc.peggy", Operation: OpModify}}, <-w.Batches())

	require.NoError(t, os.Remove(grammar))
	w.pending[grammar] = fsnotify.Remove
	w.flushPending(context.Background())
	assert.Equal(t, []Change{{Path: "calc.peggy", Operation: OpDelete}}, <-w.Batches())

	// Removing an unknown file reports nothing
	w.pending[filepath.Join(root, "ghost.peggy")] = fsnotify.Remove
	w.flushPending(context.Background())
	assert.Empty(t, w.Batches())
}

func TestWatcher_NewDirectoryIsWatched(t *testing.T) {
	root := t.TempDir()
	w := newWatcher(t, root)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer func() { _ = w.Stop() }()

	dir := filepath.Join(root, "grammars")
	require.NoError(t, os.Mkdir(dir, 0755))
	// Give the watcher a moment to register the new directory
	time.Sleep(100 * time.Millisecond)
	write(t, filepath.Join(dir, "expr.peggy"), `start = "x"`)

	waitFor(t, w, Change{Path: "grammars/expr.peggy", Operation: OpCreate})
}

func TestWatcher_RunCallsRebuild(t *testing.T) {
	root := t.TempDir()
	grammar := filepath.Join(root, "calc.peggy")
	write(t, grammar, `start = "a"`)

	w := newWatcher(t, root)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var rebuilt [][]Change
	done := make(chan struct{}, 2)
	rebuild := func(_ context.Context, batch []Change) error {
		mu.Lock()
		rebuilt = append(rebuilt, batch)
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
		return errors.New("compile failed")
	}

	runErr := make(chan error, 1)
	go func() { runErr <- w.Run(ctx, rebuild) }()

	// Wait until the initial walk has recorded the grammar
	require.Eventually(t, func() bool {
		w.hashMu.Lock()
		defer w.hashMu.Unlock()
		_, ok := w.hashes["calc.peggy"]
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	write(t, grammar, `start = "b"`)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("rebuild was not called")
	}

	// A failing rebuild keeps the loop alive
	write(t, grammar, `start = "c"`)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("rebuild was not called after a failed rebuild")
	}

	cancel()
	assert.NoError(t, <-runErr)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(rebuilt), 2)
	assert.Equal(t, OpModify, rebuilt[0][0].Operation)
}

func TestNew_Defaults(t *testing.T) {
	w, err := New(Config{Root: t.TempDir()})
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	assert.Equal(t, 100*time.Millisecond, w.config.DebounceDelay)
	assert.True(t, w.matches("anything.txt"))
	assert.True(t, w.skip["node_modules"])
}
