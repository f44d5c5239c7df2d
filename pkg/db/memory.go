package db

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xhad/recall/internal/models"
	"github.com/xhad/recall/internal/types"
)

var ErrTxDone = errors.New("transaction already finished")

// Memory is an in-process store. Transactions read committed state and
// buffer their writes until Commit, which applies them atomically.
type Memory struct {
	mu         sync.Mutex
	notes      map[string]models.Note
	sessions   map[string]models.ChatSession
	messages   map[string][]storedMessage
	seq        int64
	failCommit error

	clockMu sync.Mutex
	last    time.Time
}

type storedMessage struct {
	seq int64
	msg models.ChatMessage
}

func NewMemory() *Memory {
	return &Memory{
		notes:    make(map[string]models.Note),
		sessions: make(map[string]models.ChatSession),
		messages: make(map[string][]storedMessage),
	}
}

// FailNextCommit makes the next Commit return err without applying writes.
func (m *Memory) FailNextCommit(err error) {
	m.mu.Lock()
	m.failCommit = err
	m.mu.Unlock()
}

func (m *Memory) Begin(ctx context.Context) (types.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &memTx{m: m}, nil
}

func (m *Memory) Close() {}

// now is strictly increasing so creation order survives coarse clocks.
func (m *Memory) now() time.Time {
	m.clockMu.Lock()
	defer m.clockMu.Unlock()
	t := time.Now().UTC()
	if !t.After(m.last) {
		t = m.last.Add(time.Nanosecond)
	}
	m.last = t
	return t
}

type memTx struct {
	m      *Memory
	writes []func() error
	done   bool
}

func (t *memTx) stage(fn func() error) error {
	if t.done {
		return ErrTxDone
	}
	t.writes = append(t.writes, fn)
	return nil
}

func (t *memTx) read(fn func()) error {
	if t.done {
		return ErrTxDone
	}
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	fn()
	return nil
}

func (t *memTx) CreateNote(_ context.Context, note *models.Note) error {
	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	if note.Source == "" {
		note.Source = models.SourceText
	}
	now := t.m.now()
	note.CreatedAt, note.UpdatedAt = now, now
	n := *note
	return t.stage(func() error {
		t.m.notes[n.ID] = n
		return nil
	})
}

func (t *memTx) GetNote(_ context.Context, ownerID, noteID string) (models.Note, error) {
	var (
		n  models.Note
		ok bool
	)
	if err := t.read(func() { n, ok = t.m.notes[noteID] }); err != nil {
		return n, err
	}
	if !ok || n.OwnerID != ownerID {
		return models.Note{}, models.ErrNoteNotFound
	}
	return n, nil
}

func (t *memTx) FindNoteBySource(_ context.Context, ownerID, sourcePath string) (models.Note, error) {
	var found *models.Note
	err := t.read(func() {
		for _, n := range t.m.notes {
			if n.OwnerID == ownerID && n.SourcePath == sourcePath && sourcePath != "" {
				if found == nil || n.CreatedAt.After(found.CreatedAt) {
					n := n
					found = &n
				}
			}
		}
	})
	if err != nil {
		return models.Note{}, err
	}
	if found == nil {
		return models.Note{}, models.ErrNoteNotFound
	}
	return *found, nil
}

func (t *memTx) ListNotes(_ context.Context, ownerID string, filter types.NoteFilter) ([]models.Note, int, error) {
	var notes []models.Note
	err := t.read(func() {
		for _, n := range t.m.notes {
			if n.OwnerID == ownerID && (filter.Category == "" || n.Category == filter.Category) {
				notes = append(notes, n)
			}
		}
	})
	if err != nil {
		return nil, 0, err
	}
	sort.Slice(notes, func(i, j int) bool {
		if !notes[i].CreatedAt.Equal(notes[j].CreatedAt) {
			return notes[i].CreatedAt.After(notes[j].CreatedAt)
		}
		return notes[i].ID < notes[j].ID
	})

	total := len(notes)
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	start := min(max(filter.Offset, 0), total)
	end := min(start+limit, total)
	return notes[start:end], total, nil
}

func (t *memTx) UpdateNoteContent(ctx context.Context, ownerID, noteID, content string) (models.Note, error) {
	n, err := t.GetNote(ctx, ownerID, noteID)
	if err != nil {
		return n, err
	}
	n.Content = content
	n.UpdatedAt = t.m.now()
	return n, t.stage(func() error {
		current, ok := t.m.notes[noteID]
		if !ok || current.OwnerID != ownerID {
			return models.ErrNoteNotFound
		}
		current.Content = content
		current.UpdatedAt = n.UpdatedAt
		t.m.notes[noteID] = current
		return nil
	})
}

func (t *memTx) DeleteNote(ctx context.Context, ownerID, noteID string) error {
	if _, err := t.GetNote(ctx, ownerID, noteID); err != nil {
		return err
	}
	return t.stage(func() error {
		delete(t.m.notes, noteID)
		return nil
	})
}

func (t *memTx) CreateSession(_ context.Context, session *models.ChatSession) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	session.CreatedAt = t.m.now()
	s := *session
	return t.stage(func() error {
		t.m.sessions[s.ID] = s
		return nil
	})
}

func (t *memTx) GetSession(_ context.Context, ownerID, sessionID string) (models.ChatSession, error) {
	var (
		s  models.ChatSession
		ok bool
	)
	if err := t.read(func() { s, ok = t.m.sessions[sessionID] }); err != nil {
		return s, err
	}
	if !ok || s.OwnerID != ownerID {
		return models.ChatSession{}, models.ErrSessionNotFound
	}
	return s, nil
}

func (t *memTx) ListSessions(_ context.Context, ownerID string) ([]models.ChatSession, error) {
	var sessions []models.ChatSession
	err := t.read(func() {
		for _, s := range t.m.sessions {
			if s.OwnerID == ownerID {
				sessions = append(sessions, s)
			}
		}
	})
	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
		}
		return sessions[i].ID > sessions[j].ID
	})
	return sessions, err
}

func (t *memTx) DeleteSession(ctx context.Context, ownerID, sessionID string) error {
	if _, err := t.GetSession(ctx, ownerID, sessionID); err != nil {
		return err
	}
	return t.stage(func() error {
		delete(t.m.sessions, sessionID)
		delete(t.m.messages, sessionID)
		return nil
	})
}

func (t *memTx) AppendMessage(_ context.Context, msg *models.ChatMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.CreatedAt = t.m.now()
	mm := *msg
	return t.stage(func() error {
		if _, ok := t.m.sessions[mm.SessionID]; !ok {
			return models.ErrSessionNotFound
		}
		t.m.seq++
		t.m.messages[mm.SessionID] = append(t.m.messages[mm.SessionID], storedMessage{seq: t.m.seq, msg: mm})
		return nil
	})
}

func (t *memTx) ListMessages(_ context.Context, sessionID string) ([]models.ChatMessage, error) {
	var messages []models.ChatMessage
	err := t.read(func() {
		for _, s := range t.m.messages[sessionID] {
			messages = append(messages, s.msg)
		}
	})
	return messages, err
}

func (t *memTx) Commit(_ context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true

	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if err := t.m.failCommit; err != nil {
		t.m.failCommit = nil
		return err
	}

	// Snapshot so a failing write leaves committed state untouched.
	notes := cloneMap(t.m.notes)
	sessions := cloneMap(t.m.sessions)
	messages := cloneMap(t.m.messages)
	seq := t.m.seq
	for _, w := range t.writes {
		if err := w(); err != nil {
			t.m.notes, t.m.sessions, t.m.messages, t.m.seq = notes, sessions, messages, seq
			return err
		}
	}
	return nil
}

func (t *memTx) Rollback(_ context.Context) error {
	t.done = true
	t.writes = nil
	return nil
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
