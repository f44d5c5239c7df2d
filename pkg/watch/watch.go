package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/xhad/recall/internal/models"
)

// Syncer is the part of the ingestor the watcher drives.
type Syncer interface {
	SyncFile(ctx context.Context, ownerID, path string) (models.Note, bool, error)
	RemoveFile(ctx context.Context, ownerID, path string) error
	ListNotes(ctx context.Context, ownerID, category string, offset, limit int) ([]models.Note, int, error)
}

type WatcherConfig struct {
	Dir        string
	OwnerID    string
	Extensions []string
	Syncer     Syncer
	Logger     *log.Logger
}

// Watcher keeps the notes of one owner in step with a directory of files.
type Watcher struct {
	config WatcherConfig
	logger *log.Logger
}

const listPage = 100

func NewWithConfig(config WatcherConfig) (*Watcher, error) {
	if config.Syncer == nil {
		return nil, fmt.Errorf("watcher requires a syncer")
	}
	if config.OwnerID == "" {
		return nil, fmt.Errorf("watcher requires an owner")
	}
	dir, err := filepath.Abs(config.Dir)
	if err != nil {
		return nil, fmt.Errorf("invalid watch directory %q: %w", config.Dir, err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("invalid watch directory %q: %w", config.Dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch path %q is not a directory", config.Dir)
	}
	config.Dir = dir
	if len(config.Extensions) == 0 {
		config.Extensions = []string{".txt", ".md", ".pdf", ".docx"}
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[WATCH] ", log.LstdFlags)
	}
	return &Watcher{config: config, logger: logger}, nil
}

func (w *Watcher) supported(path string) bool {
	return slices.Contains(w.config.Extensions, strings.ToLower(filepath.Ext(path)))
}

// Sync ingests every supported file under the directory and deletes notes
// whose source file is gone. Per-file failures are logged and skipped.
func (w *Watcher) Sync(ctx context.Context) error {
	seen := make(map[string]bool)
	ingested, unchanged := 0, 0

	err := filepath.WalkDir(w.config.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.logger.Printf("skipping %s: %v", path, err)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !w.supported(path) {
			return nil
		}
		seen[path] = true
		_, changed, err := w.config.Syncer.SyncFile(ctx, w.config.OwnerID, path)
		switch {
		case err != nil:
			w.logger.Printf("failed to sync %s: %v", path, err)
		case changed:
			ingested++
		default:
			unchanged++
		}
		return nil
	})
	if err != nil {
		return err
	}

	removed, err := w.removeMissing(ctx, seen)
	if err != nil {
		return err
	}
	w.logger.Printf("synced %s: %d ingested, %d unchanged, %d removed", w.config.Dir, ingested, unchanged, removed)
	return nil
}

func (w *Watcher) removeMissing(ctx context.Context, seen map[string]bool) (int, error) {
	var stale []string
	for offset := 0; ; offset += listPage {
		notes, total, err := w.config.Syncer.ListNotes(ctx, w.config.OwnerID, "", offset, listPage)
		if err != nil {
			return 0, fmt.Errorf("failed to list notes: %w", err)
		}
		for _, n := range notes {
			if n.Source != models.SourceFile || seen[n.SourcePath] {
				continue
			}
			if w.inDir(n.SourcePath) {
				stale = append(stale, n.SourcePath)
			}
		}
		if len(notes) == 0 || offset+len(notes) >= total {
			break
		}
	}

	removed := 0
	for _, path := range stale {
		if err := w.config.Syncer.RemoveFile(ctx, w.config.OwnerID, path); err != nil {
			w.logger.Printf("failed to remove note for %s: %v", path, err)
			continue
		}
		removed++
	}
	return removed, nil
}

func (w *Watcher) inDir(path string) bool {
	rel, err := filepath.Rel(w.config.Dir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Run syncs once and then follows filesystem events until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.Sync(ctx); err != nil {
		return err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fw.Close()

	if err := w.addTree(fw, w.config.Dir); err != nil {
		return err
	}
	w.logger.Printf("watching %s", w.config.Dir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, fw, event)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Printf("watcher error: %v", err)
		}
	}
}

func (w *Watcher) addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if err := fw.Add(path); err != nil {
				return fmt.Errorf("failed to watch %s: %w", path, err)
			}
		}
		return nil
	})
}

func (w *Watcher) handle(ctx context.Context, fw *fsnotify.Watcher, event fsnotify.Event) {
	switch {
	case event.Has(fsnotify.Create) || event.Has(fsnotify.Write):
		info, err := os.Stat(event.Name)
		if errors.Is(err, fs.ErrNotExist) {
			return
		}
		if err == nil && info.IsDir() {
			if err := w.addTree(fw, event.Name); err != nil {
				w.logger.Printf("%v", err)
			}
			return
		}
		if !w.supported(event.Name) {
			return
		}
		if _, changed, err := w.config.Syncer.SyncFile(ctx, w.config.OwnerID, event.Name); err != nil {
			w.logger.Printf("failed to sync %s: %v", event.Name, err)
		} else if changed {
			w.logger.Printf("ingested %s", event.Name)
		}

	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		if !w.supported(event.Name) {
			return
		}
		if err := w.config.Syncer.RemoveFile(ctx, w.config.OwnerID, event.Name); err != nil {
			w.logger.Printf("failed to remove note for %s: %v", event.Name, err)
		} else {
			w.logger.Printf("removed %s", event.Name)
		}
	}
}
