package models

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrContentExtractionFailed = errors.New("content extraction failed")
	ErrSessionNotFound         = errors.New("chat session not found")
	ErrNoteNotFound            = errors.New("note not found")
	ErrEmptyMessage            = errors.New("message is empty")
)

type SourceKind string

const (
	SourceText SourceKind = "text"
	SourceFile SourceKind = "file"
	SourceURL  SourceKind = "url"
)

func (k SourceKind) Valid() bool {
	switch k {
	case SourceText, SourceFile, SourceURL:
		return true
	}
	return false
}

type Note struct {
	ID         string     `json:"id"`
	OwnerID    string     `json:"owner_id"`
	Title      string     `json:"title"`
	Content    string     `json:"content"`
	Category   string     `json:"category,omitempty"`
	Source     SourceKind `json:"source_type"`
	SourcePath string     `json:"source_path,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

type ChatSession struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type ChatMessage struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Fragment is one chunk of a note as stored in the vector index.
type Fragment struct {
	ID      string
	NoteID  string
	OwnerID string
	Index   int
	Text    string
	Vector  []float32
}

// FragmentID derives a fragment id that is unique across notes.
func FragmentID(noteID string, index int) string {
	return fmt.Sprintf("%s:%d", noteID, index)
}

// SearchFilter narrows a similarity search. An empty OwnerID matches
// fragments of every owner.
type SearchFilter struct {
	OwnerID string
}

type Hit struct {
	NoteID string  `json:"note_id"`
	Text   string  `json:"text"`
	Score  float32 `json:"score"`
}

type EmbedStatus int

const (
	Embedded EmbedStatus = iota
	Degraded
)

func (s EmbedStatus) String() string {
	if s == Degraded {
		return "degraded"
	}
	return "embedded"
}

// Embedding is the output of one embedder call. Degraded results carry
// zero vectors of the configured dimension.
type Embedding struct {
	Vectors [][]float32
	Status  EmbedStatus
}

func (e Embedding) Degraded() bool { return e.Status == Degraded }

type ExtractStatus int

const (
	ExtractOK ExtractStatus = iota
	ExtractEmpty
	ExtractFailed
)

func (s ExtractStatus) String() string {
	switch s {
	case ExtractOK:
		return "ok"
	case ExtractEmpty:
		return "empty"
	default:
		return "failed"
	}
}

type Extraction struct {
	Status ExtractStatus
	Text   string
	Title  string
	Err    error
}

func ExtractedText(text, title string) Extraction {
	if text == "" {
		return Extraction{Status: ExtractEmpty, Title: title}
	}
	return Extraction{Status: ExtractOK, Text: text, Title: title}
}

func ExtractionFailed(err error) Extraction {
	return Extraction{Status: ExtractFailed, Err: err}
}

// Source describes raw input to extract text from. Exactly one of Text,
// Path or URL is consulted, depending on Kind.
type Source struct {
	Kind     SourceKind
	Text     string
	Path     string
	URL      string
	Filename string
	Data     []byte
}
