// Package db is the transactional store for notes, chat sessions and chat
// messages.
package db

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xhad/recall/internal/models"
	"github.com/xhad/recall/internal/types"
)

const defaultListLimit = 50

type PostgresConfig struct {
	ConnString string
	MaxConns   int32
	Logger     *log.Logger
}

type Postgres struct {
	pool   *pgxpool.Pool
	logger *log.Logger
}

func NewPostgres(ctx context.Context, config PostgresConfig) (*Postgres, error) {
	poolConfig, err := pgxpool.ParseConfig(config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("invalid database url: %w", err)
	}
	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[STORE] ", log.LstdFlags)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Postgres{pool: pool, logger: logger}, nil
}

// Pool exposes the connection pool so the pgvector index can share it.
func (p *Postgres) Pool() *pgxpool.Pool { return p.pool }

func (p *Postgres) Begin(ctx context.Context) (types.Tx, error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

type pgTx struct {
	tx pgx.Tx
}

const noteColumns = `id, owner_id, title, content, category, source_kind, source_path, created_at, updated_at`

func scanNote(row pgx.Row) (models.Note, error) {
	var n models.Note
	var kind string
	err := row.Scan(&n.ID, &n.OwnerID, &n.Title, &n.Content, &n.Category, &kind, &n.SourcePath, &n.CreatedAt, &n.UpdatedAt)
	n.Source = models.SourceKind(kind)
	return n, err
}

func noteErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNoteNotFound
	}
	return err
}

func (t *pgTx) CreateNote(ctx context.Context, note *models.Note) error {
	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	if note.Source == "" {
		note.Source = models.SourceText
	}
	err := t.tx.QueryRow(ctx, `
		INSERT INTO notes (id, owner_id, title, content, category, source_kind, source_path)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		note.ID, note.OwnerID, note.Title, note.Content, note.Category, string(note.Source), note.SourcePath,
	).Scan(&note.CreatedAt, &note.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert note: %w", err)
	}
	return nil
}

func (t *pgTx) GetNote(ctx context.Context, ownerID, noteID string) (models.Note, error) {
	n, err := scanNote(t.tx.QueryRow(ctx,
		`SELECT `+noteColumns+` FROM notes WHERE id = $1 AND owner_id = $2`, noteID, ownerID))
	return n, noteErr(err)
}

func (t *pgTx) FindNoteBySource(ctx context.Context, ownerID, sourcePath string) (models.Note, error) {
	n, err := scanNote(t.tx.QueryRow(ctx, `
		SELECT `+noteColumns+` FROM notes
		WHERE owner_id = $1 AND source_path = $2
		ORDER BY created_at DESC
		LIMIT 1`, ownerID, sourcePath))
	return n, noteErr(err)
}

func (t *pgTx) ListNotes(ctx context.Context, ownerID string, filter types.NoteFilter) ([]models.Note, int, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	var total int
	err := t.tx.QueryRow(ctx, `
		SELECT count(*) FROM notes
		WHERE owner_id = $1 AND ($2::text = '' OR category = $2)`,
		ownerID, filter.Category).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count notes: %w", err)
	}

	rows, err := t.tx.Query(ctx, `
		SELECT `+noteColumns+` FROM notes
		WHERE owner_id = $1 AND ($2::text = '' OR category = $2)
		ORDER BY created_at DESC, id
		LIMIT $3 OFFSET $4`,
		ownerID, filter.Category, limit, max(filter.Offset, 0))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list notes: %w", err)
	}
	defer rows.Close()

	var notes []models.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan note: %w", err)
		}
		notes = append(notes, n)
	}
	return notes, total, rows.Err()
}

func (t *pgTx) UpdateNoteContent(ctx context.Context, ownerID, noteID, content string) (models.Note, error) {
	n, err := scanNote(t.tx.QueryRow(ctx, `
		UPDATE notes SET content = $3, updated_at = now()
		WHERE id = $1 AND owner_id = $2
		RETURNING `+noteColumns, noteID, ownerID, content))
	return n, noteErr(err)
}

func (t *pgTx) DeleteNote(ctx context.Context, ownerID, noteID string) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM notes WHERE id = $1 AND owner_id = $2`, noteID, ownerID)
	if err != nil {
		return fmt.Errorf("failed to delete note: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNoteNotFound
	}
	return nil
}

func (t *pgTx) CreateSession(ctx context.Context, session *models.ChatSession) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	err := t.tx.QueryRow(ctx, `
		INSERT INTO chat_sessions (id, owner_id, title)
		VALUES ($1, $2, $3)
		RETURNING created_at`,
		session.ID, session.OwnerID, session.Title,
	).Scan(&session.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert chat session: %w", err)
	}
	return nil
}

func (t *pgTx) GetSession(ctx context.Context, ownerID, sessionID string) (models.ChatSession, error) {
	var s models.ChatSession
	err := t.tx.QueryRow(ctx, `
		SELECT id, owner_id, title, created_at FROM chat_sessions
		WHERE id = $1 AND owner_id = $2`, sessionID, ownerID,
	).Scan(&s.ID, &s.OwnerID, &s.Title, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return s, models.ErrSessionNotFound
	}
	return s, err
}

func (t *pgTx) ListSessions(ctx context.Context, ownerID string) ([]models.ChatSession, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, owner_id, title, created_at FROM chat_sessions
		WHERE owner_id = $1
		ORDER BY created_at DESC, id DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.ChatSession
	for rows.Next() {
		var s models.ChatSession
		if err := rows.Scan(&s.ID, &s.OwnerID, &s.Title, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (t *pgTx) DeleteSession(ctx context.Context, ownerID, sessionID string) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM chat_sessions WHERE id = $1 AND owner_id = $2`, sessionID, ownerID)
	if err != nil {
		return fmt.Errorf("failed to delete chat session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrSessionNotFound
	}
	return nil
}

func (t *pgTx) AppendMessage(ctx context.Context, msg *models.ChatMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	err := t.tx.QueryRow(ctx, `
		INSERT INTO chat_messages (id, session_id, role, content)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		msg.ID, msg.SessionID, string(msg.Role), msg.Content,
	).Scan(&msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert chat message: %w", err)
	}
	return nil
}

func (t *pgTx) ListMessages(ctx context.Context, sessionID string) ([]models.ChatMessage, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, session_id, role, content, created_at FROM chat_messages
		WHERE session_id = $1
		ORDER BY created_at, seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat messages: %w", err)
	}
	defer rows.Close()

	var messages []models.ChatMessage
	for rows.Next() {
		var (
			m    models.ChatMessage
			role string
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", err)
		}
		m.Role = models.Role(role)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (t *pgTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *pgTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}
