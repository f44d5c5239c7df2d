package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"sync"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/xhad/recall/internal/models"
)

var collectionName = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,47}$`)

// undefinedTable is the postgres error code for a missing relation.
const undefinedTable = "42P01"

type VectorStoreConfig struct {
	ConnString  string
	Pool        *pgxpool.Pool
	TablePrefix string
	VectorDim   int
	Logger      *log.Logger
}

// VectorStore keeps one pgvector table per collection.
type VectorStore struct {
	config  VectorStoreConfig
	pool    *pgxpool.Pool
	ownPool bool
	logger  *log.Logger
	ready   sync.Map
}

func NewWithConfig(ctx context.Context, config VectorStoreConfig) (*VectorStore, error) {
	if config.TablePrefix == "" {
		config.TablePrefix = "fragments_"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 1024
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[INDEX] ", log.LstdFlags)
	}

	vs := &VectorStore{
		config: config,
		pool:   config.Pool,
		logger: logger,
	}
	if vs.pool == nil {
		pool, err := pgxpool.New(ctx, config.ConnString)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		vs.pool = pool
		vs.ownPool = true
	}

	// Enable pgvector extension
	if _, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		vs.Close()
		return nil, fmt.Errorf("failed to create vector extension: %w", err)
	}

	return vs, nil
}

func (vs *VectorStore) table(collection string) (string, error) {
	if !collectionName.MatchString(collection) {
		return "", fmt.Errorf("invalid collection name %q", collection)
	}
	return vs.config.TablePrefix + collection, nil
}

// ensureCollection creates the fragment table and its cosine index once
// per process.
func (vs *VectorStore) ensureCollection(ctx context.Context, table string) error {
	if _, ok := vs.ready.Load(table); ok {
		return nil
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			note_id TEXT NOT NULL,
			owner_id TEXT NOT NULL DEFAULT '',
			chunk_index INTEGER NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d)
		)`, table, vs.config.VectorDim)
	if _, err := vs.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	// Tables created before owners were recorded.
	addOwner := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN IF NOT EXISTS owner_id TEXT NOT NULL DEFAULT ''`, table)
	if _, err := vs.pool.Exec(ctx, addOwner); err != nil {
		return fmt.Errorf("failed to add owner column: %w", err)
	}

	createNoteIndex := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_note_idx ON %s (note_id, chunk_index)`, table, table)
	if _, err := vs.pool.Exec(ctx, createNoteIndex); err != nil {
		return fmt.Errorf("failed to create note index: %w", err)
	}
	createOwnerIndex := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_owner_idx ON %s (owner_id)`, table, table)
	if _, err := vs.pool.Exec(ctx, createOwnerIndex); err != nil {
		return fmt.Errorf("failed to create owner index: %w", err)
	}

	// HNSW needs no training pass, so building it on an empty table is fine.
	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_hnsw_idx
		ON %s
		USING hnsw (embedding vector_cosine_ops)`,
		table, table)
	if _, err := vs.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	vs.ready.Store(table, struct{}{})
	return nil
}

func (vs *VectorStore) Upsert(ctx context.Context, collection string, fragments []models.Fragment) error {
	if len(fragments) == 0 {
		return nil
	}
	table, err := vs.table(collection)
	if err != nil {
		return err
	}
	if err := vs.ensureCollection(ctx, table); err != nil {
		return err
	}

	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, note_id, owner_id, chunk_index, content, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			note_id = EXCLUDED.note_id,
			owner_id = EXCLUDED.owner_id,
			chunk_index = EXCLUDED.chunk_index,
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding`,
		table)

	for _, f := range fragments {
		if len(f.Vector) != vs.config.VectorDim {
			return fmt.Errorf("fragment %s has dimension %d, want %d", f.ID, len(f.Vector), vs.config.VectorDim)
		}
		_, err = tx.Exec(ctx, stmt,
			f.ID,
			f.NoteID,
			f.OwnerID,
			f.Index,
			sanitizeUTF8(f.Text),
			pgvector.NewVector(f.Vector),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert fragment %s: %w", f.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (vs *VectorStore) Search(ctx context.Context, collection string, vector []float32, topK int, filter models.SearchFilter) ([]models.Hit, error) {
	if topK <= 0 {
		return nil, nil
	}
	table, err := vs.table(collection)
	if err != nil {
		return nil, err
	}

	// Zero vectors have an undefined cosine distance; report them as 0.
	query := fmt.Sprintf(`
		SELECT note_id, content, COALESCE(NULLIF(1 - (embedding <=> $1), 'NaN'::float8), 0)
		FROM %s
		WHERE $3::text = '' OR owner_id = $3
		ORDER BY embedding <=> $1, id
		LIMIT $2`,
		table)

	rows, err := vs.pool.Query(ctx, query, pgvector.NewVector(vector), topK, filter.OwnerID)
	if err != nil {
		if isUndefinedTable(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query fragments: %w", err)
	}
	defer rows.Close()

	var hits []models.Hit
	for rows.Next() {
		var (
			hit   models.Hit
			score float64
		)
		if err := rows.Scan(&hit.NoteID, &hit.Text, &score); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		hit.Score = float32(score)
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		if isUndefinedTable(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read fragments: %w", err)
	}

	return hits, nil
}

func (vs *VectorStore) DeleteByNote(ctx context.Context, collection, noteID string) error {
	return vs.DeleteNoteFrom(ctx, collection, noteID, 0)
}

func (vs *VectorStore) DeleteNoteFrom(ctx context.Context, collection, noteID string, fromIndex int) error {
	table, err := vs.table(collection)
	if err != nil {
		return err
	}
	_, err = vs.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE note_id = $1 AND chunk_index >= $2`, table), noteID, fromIndex)
	if err != nil && !isUndefinedTable(err) {
		return fmt.Errorf("failed to delete fragments for note %s: %w", noteID, err)
	}
	return nil
}

func (vs *VectorStore) Close() {
	if vs.ownPool && vs.pool != nil {
		vs.pool.Close()
	}
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == undefinedTable
}

func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}
			v = append(v, r)
		}
		return string(v)
	}
	return s
}
