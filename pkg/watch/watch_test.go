package watch_test

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/recall/internal/models"
	"github.com/xhad/recall/pkg/watch"
)

type fakeSyncer struct {
	mu      sync.Mutex
	notes   map[string]models.Note
	synced  []string
	removed []string
}

func newFakeSyncer() *fakeSyncer {
	return &fakeSyncer{notes: make(map[string]models.Note)}
}

func (f *fakeSyncer) SyncFile(_ context.Context, owner, path string) (models.Note, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.synced = append(f.synced, path)
	_, existed := f.notes[path]
	note := models.Note{ID: path, OwnerID: owner, Source: models.SourceFile, SourcePath: path}
	f.notes[path] = note
	return note, !existed, nil
}

func (f *fakeSyncer) RemoveFile(_ context.Context, _ string, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, path)
	delete(f.notes, path)
	return nil
}

func (f *fakeSyncer) ListNotes(_ context.Context, _ string, _ string, offset, limit int) ([]models.Note, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []models.Note
	for _, n := range f.notes {
		all = append(all, n)
	}
	slices.SortFunc(all, func(a, b models.Note) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	if offset >= len(all) {
		return nil, len(all), nil
	}
	return all[offset:min(offset+limit, len(all))], len(all), nil
}

func (f *fakeSyncer) wasSynced(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Contains(f.synced, path)
}

func (f *fakeSyncer) wasRemoved(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Contains(f.removed, path)
}

func TestNewWithConfig(t *testing.T) {
	_, err := watch.NewWithConfig(watch.WatcherConfig{Dir: t.TempDir(), OwnerID: "alice"})
	assert.Error(t, err, "syncer is required")

	_, err = watch.NewWithConfig(watch.WatcherConfig{Dir: filepath.Join(t.TempDir(), "missing"), OwnerID: "alice", Syncer: newFakeSyncer()})
	assert.Error(t, err)

	_, err = watch.NewWithConfig(watch.WatcherConfig{Dir: t.TempDir(), Syncer: newFakeSyncer()})
	assert.Error(t, err, "owner is required")
}

func TestSync(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))
	keep := filepath.Join(dir, "a.md")
	nested := filepath.Join(dir, "sub", "b.txt")
	ignored := filepath.Join(dir, "c.png")
	for _, p := range []string{keep, nested, ignored} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0644))
	}

	syncer := newFakeSyncer()
	gone := filepath.Join(dir, "deleted.md")
	outside := "/elsewhere/other.md"
	syncer.notes[gone] = models.Note{ID: gone, Source: models.SourceFile, SourcePath: gone}
	syncer.notes[outside] = models.Note{ID: outside, Source: models.SourceFile, SourcePath: outside}
	syncer.notes["typed"] = models.Note{ID: "typed", Source: models.SourceText}

	w, err := watch.NewWithConfig(watch.WatcherConfig{Dir: dir, OwnerID: "alice", Syncer: syncer})
	require.NoError(t, err)
	require.NoError(t, w.Sync(context.Background()))

	assert.True(t, syncer.wasSynced(keep))
	assert.True(t, syncer.wasSynced(nested))
	assert.False(t, syncer.wasSynced(ignored))
	assert.Equal(t, []string{gone}, syncer.removed)
}

func TestRun_FollowsEvents(t *testing.T) {
	dir := t.TempDir()
	syncer := newFakeSyncer()
	w, err := watch.NewWithConfig(watch.WatcherConfig{Dir: dir, OwnerID: "alice", Syncer: syncer})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	path := filepath.Join(dir, "note.md")
	// The watch is registered asynchronously, so keep touching the file.
	assert.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte("hello"), 0644)
		return syncer.wasSynced(path)
	}, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, os.Remove(path))
	assert.Eventually(t, func() bool { return syncer.wasRemoved(path) }, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
