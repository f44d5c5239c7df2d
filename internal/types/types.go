package types

import (
	"context"

	"github.com/xhad/recall/internal/models"
)

// Core interfaces
type Chunker interface {
	Split(text string) []string
}

type Embedder interface {
	Embed(ctx context.Context, texts []string) (models.Embedding, error)
	Process(ctx context.Context, text string) ([]string, models.Embedding, error)
	Dimension() int
}

// VectorIndex stores fragments in named collections.
type VectorIndex interface {
	Upsert(ctx context.Context, collection string, fragments []models.Fragment) error
	Search(ctx context.Context, collection string, vector []float32, topK int, filter models.SearchFilter) ([]models.Hit, error)
	DeleteByNote(ctx context.Context, collection, noteID string) error
	// DeleteNoteFrom removes the note's fragments whose chunk index is at
	// least fromIndex.
	DeleteNoteFrom(ctx context.Context, collection, noteID string, fromIndex int) error
	Close()
}

type Extractor interface {
	Extract(ctx context.Context, src models.Source) models.Extraction
}

// Store hands out transactions. Every Begin opens an independent handle.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
	Close()
}

type NoteFilter struct {
	Category string
	Offset   int
	Limit    int
}

type Tx interface {
	CreateNote(ctx context.Context, note *models.Note) error
	GetNote(ctx context.Context, ownerID, noteID string) (models.Note, error)
	FindNoteBySource(ctx context.Context, ownerID, sourcePath string) (models.Note, error)
	ListNotes(ctx context.Context, ownerID string, filter NoteFilter) ([]models.Note, int, error)
	UpdateNoteContent(ctx context.Context, ownerID, noteID, content string) (models.Note, error)
	DeleteNote(ctx context.Context, ownerID, noteID string) error

	CreateSession(ctx context.Context, session *models.ChatSession) error
	GetSession(ctx context.Context, ownerID, sessionID string) (models.ChatSession, error)
	ListSessions(ctx context.Context, ownerID string) ([]models.ChatSession, error)
	DeleteSession(ctx context.Context, ownerID, sessionID string) error

	AppendMessage(ctx context.Context, msg *models.ChatMessage) error
	ListMessages(ctx context.Context, sessionID string) ([]models.ChatMessage, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
