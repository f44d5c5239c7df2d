// Package rag holds the note ingestion, retrieval and chat turn pipelines.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/xhad/recall/internal/models"
	"github.com/xhad/recall/internal/types"
	"github.com/xhad/recall/pkg/metrics"
	"github.com/xhad/recall/pkg/processor"
)

const maxTitleRunes = 60

type IngestorConfig struct {
	Store      types.Store
	Index      types.VectorIndex
	Embedder   types.Embedder
	Extractor  types.Extractor
	Collection string
	Metrics    *metrics.Metrics
	Logger     *log.Logger
}

// Ingestor owns the note lifecycle: every content change goes through the
// embedder and lands in the vector index under the note's id.
type Ingestor struct {
	config IngestorConfig
	logger *log.Logger
}

func NewIngestor(config IngestorConfig) (*Ingestor, error) {
	if config.Store == nil || config.Index == nil || config.Embedder == nil {
		return nil, fmt.Errorf("ingestor requires a store, a vector index and an embedder")
	}
	if config.Collection == "" {
		config.Collection = "notes"
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[INGEST] ", log.LstdFlags)
	}
	return &Ingestor{config: config, logger: logger}, nil
}

func (in *Ingestor) Collection() string { return in.config.Collection }

// fragmentsFor embeds content. Zero chunks is ErrContentExtractionFailed.
func (in *Ingestor) fragmentsFor(ctx context.Context, noteID, content string) ([]string, models.Embedding, error) {
	chunks, emb, err := in.config.Embedder.Process(ctx, content)
	if err != nil {
		return nil, models.Embedding{}, fmt.Errorf("failed to embed note: %w", err)
	}
	if len(chunks) == 0 {
		return nil, models.Embedding{}, models.ErrContentExtractionFailed
	}
	if emb.Degraded() {
		in.logger.Printf("note %s embedded in degraded mode, its fragments will not be retrievable by similarity", noteID)
	}
	return chunks, emb, nil
}

func buildFragments(note models.Note, chunks []string, emb models.Embedding) []models.Fragment {
	fragments := make([]models.Fragment, len(chunks))
	for i, chunk := range chunks {
		fragments[i] = models.Fragment{
			ID:      models.FragmentID(note.ID, i),
			NoteID:  note.ID,
			OwnerID: note.OwnerID,
			Index:   i,
			Text:    chunk,
			Vector:  emb.Vectors[i],
		}
	}
	return fragments
}

// Ingest embeds note.Content and persists the note together with its
// fragments. Content that yields no chunks is rejected before any write.
func (in *Ingestor) Ingest(ctx context.Context, note models.Note) (models.Note, error) {
	if note.OwnerID == "" {
		return models.Note{}, fmt.Errorf("note has no owner")
	}
	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	chunks, emb, err := in.fragmentsFor(ctx, note.ID, note.Content)
	if err != nil {
		return models.Note{}, err
	}

	tx, err := in.config.Store.Begin(ctx)
	if err != nil {
		return models.Note{}, err
	}
	defer tx.Rollback(ctx)

	if err := tx.CreateNote(ctx, &note); err != nil {
		return models.Note{}, err
	}

	fragments := buildFragments(note, chunks, emb)
	if err := in.config.Index.Upsert(ctx, in.config.Collection, fragments); err != nil {
		return models.Note{}, fmt.Errorf("failed to index note: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		in.DeleteNoteVectors(context.WithoutCancel(ctx), note.ID)
		return models.Note{}, fmt.Errorf("failed to commit note: %w", err)
	}

	in.config.Metrics.Upserted(len(fragments))
	in.logger.Printf("ingested note %s (%d fragments)", note.ID, len(fragments))
	return note, nil
}

// IngestSource extracts text from src and ingests it as a new note.
func (in *Ingestor) IngestSource(ctx context.Context, ownerID, title, category string, src models.Source) (models.Note, error) {
	if in.config.Extractor == nil {
		return models.Note{}, fmt.Errorf("no extractor configured")
	}
	ex := in.config.Extractor.Extract(ctx, src)
	switch ex.Status {
	case models.ExtractFailed:
		return models.Note{}, fmt.Errorf("%w: %v", models.ErrContentExtractionFailed, ex.Err)
	case models.ExtractEmpty:
		return models.Note{}, models.ErrContentExtractionFailed
	}

	if title == "" {
		title = ex.Title
	}
	if title == "" {
		title = titleFrom(ex.Text)
	}

	note := models.Note{
		OwnerID:  ownerID,
		Title:    title,
		Content:  ex.Text,
		Category: category,
		Source:   src.Kind,
	}
	switch src.Kind {
	case models.SourceFile:
		note.SourcePath = src.Path
		if note.SourcePath == "" {
			note.SourcePath = src.Filename
		}
	case models.SourceURL:
		note.SourcePath = src.URL
	}
	return in.Ingest(ctx, note)
}

// UpdateContent replaces a note's content and re-embeds it. The new
// fragments overwrite the old ones by id, and fragments past the new chunk
// count are trimmed only once the note is committed, so a failed update
// leaves the previous fragments in place.
func (in *Ingestor) UpdateContent(ctx context.Context, ownerID, noteID, content string) (models.Note, error) {
	content = processor.Clean(content)

	tx, err := in.config.Store.Begin(ctx)
	if err != nil {
		return models.Note{}, err
	}
	defer tx.Rollback(ctx)

	previous, err := tx.GetNote(ctx, ownerID, noteID)
	if err != nil {
		return models.Note{}, err
	}

	chunks, emb, err := in.fragmentsFor(ctx, noteID, content)
	if err != nil {
		return models.Note{}, err
	}

	note, err := tx.UpdateNoteContent(ctx, ownerID, noteID, content)
	if err != nil {
		return models.Note{}, err
	}

	fragments := buildFragments(note, chunks, emb)
	if err := in.config.Index.Upsert(ctx, in.config.Collection, fragments); err != nil {
		return models.Note{}, fmt.Errorf("failed to index note: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		in.restoreFragments(context.WithoutCancel(ctx), previous)
		return models.Note{}, fmt.Errorf("failed to commit note: %w", err)
	}

	if err := in.config.Index.DeleteNoteFrom(ctx, in.config.Collection, noteID, len(fragments)); err != nil {
		in.config.Metrics.CleanupFailed()
		in.logger.Printf("failed to trim stale fragments of note %s: %v", noteID, err)
	}

	in.config.Metrics.Upserted(len(fragments))
	return note, nil
}

// restoreFragments re-indexes a note's committed content after an update
// that wrote fragments but failed to commit.
func (in *Ingestor) restoreFragments(ctx context.Context, note models.Note) {
	chunks, emb, err := in.fragmentsFor(ctx, note.ID, note.Content)
	if err == nil {
		fragments := buildFragments(note, chunks, emb)
		if err = in.config.Index.Upsert(ctx, in.config.Collection, fragments); err == nil {
			err = in.config.Index.DeleteNoteFrom(ctx, in.config.Collection, note.ID, len(fragments))
		}
	}
	if err != nil {
		in.config.Metrics.CleanupFailed()
		in.logger.Printf("failed to restore fragments of note %s: %v", note.ID, err)
	}
}

// SyncFile ingests the file at path, or re-embeds the note already ingested
// from it when its content changed. The bool reports whether anything was
// written.
func (in *Ingestor) SyncFile(ctx context.Context, ownerID, path string) (models.Note, bool, error) {
	if in.config.Extractor == nil {
		return models.Note{}, false, fmt.Errorf("no extractor configured")
	}

	existing, err := in.findBySource(ctx, ownerID, path)
	if err != nil && !errors.Is(err, models.ErrNoteNotFound) {
		return models.Note{}, false, err
	}
	if errors.Is(err, models.ErrNoteNotFound) {
		note, err := in.IngestSource(ctx, ownerID, "", "", models.Source{Kind: models.SourceFile, Path: path})
		return note, err == nil, err
	}

	ex := in.config.Extractor.Extract(ctx, models.Source{Kind: models.SourceFile, Path: path})
	if ex.Status != models.ExtractOK {
		return existing, false, fmt.Errorf("%w: %s", models.ErrContentExtractionFailed, path)
	}
	if ex.Text == existing.Content {
		return existing, false, nil
	}
	note, err := in.UpdateContent(ctx, ownerID, existing.ID, ex.Text)
	return note, err == nil, err
}

// RemoveFile deletes the note ingested from path, if any.
func (in *Ingestor) RemoveFile(ctx context.Context, ownerID, path string) error {
	existing, err := in.findBySource(ctx, ownerID, path)
	if errors.Is(err, models.ErrNoteNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return in.DeleteNote(ctx, ownerID, existing.ID)
}

func (in *Ingestor) findBySource(ctx context.Context, ownerID, path string) (models.Note, error) {
	tx, err := in.config.Store.Begin(ctx)
	if err != nil {
		return models.Note{}, err
	}
	defer tx.Rollback(ctx)
	return tx.FindNoteBySource(ctx, ownerID, path)
}

// DeleteNote removes the note row and then, best effort, its fragments.
func (in *Ingestor) DeleteNote(ctx context.Context, ownerID, noteID string) error {
	tx, err := in.config.Store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := tx.DeleteNote(ctx, ownerID, noteID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit note deletion: %w", err)
	}

	in.DeleteNoteVectors(context.WithoutCancel(ctx), noteID)
	return nil
}

// DeleteNoteVectors removes every fragment of a note. Failures are logged
// and counted, never returned.
func (in *Ingestor) DeleteNoteVectors(ctx context.Context, noteID string) {
	if err := in.config.Index.DeleteByNote(ctx, in.config.Collection, noteID); err != nil {
		in.config.Metrics.CleanupFailed()
		in.logger.Printf("failed to delete fragments of note %s, leaving orphans: %v", noteID, err)
	}
}

func (in *Ingestor) GetNote(ctx context.Context, ownerID, noteID string) (models.Note, error) {
	tx, err := in.config.Store.Begin(ctx)
	if err != nil {
		return models.Note{}, err
	}
	defer tx.Rollback(ctx)
	return tx.GetNote(ctx, ownerID, noteID)
}

func (in *Ingestor) ListNotes(ctx context.Context, ownerID, category string, offset, limit int) ([]models.Note, int, error) {
	tx, err := in.config.Store.Begin(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer tx.Rollback(ctx)
	return tx.ListNotes(ctx, ownerID, types.NoteFilter{Category: category, Offset: offset, Limit: limit})
}

func titleFrom(text string) string {
	line, _, _ := strings.Cut(text, "\n")
	line = strings.TrimLeft(line, "# ")
	runes := []rune(line)
	if len(runes) > maxTitleRunes {
		return string(runes[:maxTitleRunes]) + "..."
	}
	return line
}
