package db_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/recall/internal/models"
	"github.com/xhad/recall/internal/types"
	"github.com/xhad/recall/pkg/db"
)

func commit(t *testing.T, store types.Store, fn func(tx types.Tx)) {
	t.Helper()
	ctx := context.Background()
	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	fn(tx)
	require.NoError(t, tx.Commit(ctx))
}

func runStoreContract(t *testing.T, store types.Store) {
	ctx := context.Background()
	owner := "user-" + uuid.NewString()
	other := "user-" + uuid.NewString()

	t.Run("notes", func(t *testing.T) {
		note := &models.Note{OwnerID: owner, Title: "t", Content: "hello", Category: "work", Source: models.SourceFile, SourcePath: "/tmp/a.md"}
		commit(t, store, func(tx types.Tx) {
			require.NoError(t, tx.CreateNote(ctx, note))
		})
		require.NotEmpty(t, note.ID)
		commit(t, store, func(tx types.Tx) {
			require.NoError(t, tx.CreateNote(ctx, &models.Note{OwnerID: owner, Title: "u", Content: "other", Category: "home"}))
		})

		tx, err := store.Begin(ctx)
		require.NoError(t, err)
		defer tx.Rollback(ctx)

		got, err := tx.GetNote(ctx, owner, note.ID)
		require.NoError(t, err)
		assert.Equal(t, "hello", got.Content)
		assert.Equal(t, models.SourceFile, got.Source)

		_, err = tx.GetNote(ctx, other, note.ID)
		assert.ErrorIs(t, err, models.ErrNoteNotFound)

		bySource, err := tx.FindNoteBySource(ctx, owner, "/tmp/a.md")
		require.NoError(t, err)
		assert.Equal(t, note.ID, bySource.ID)

		all, total, err := tx.ListNotes(ctx, owner, types.NoteFilter{})
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		assert.Len(t, all, 2)
		assert.Equal(t, "u", all[0].Title, "newest first")

		work, total, err := tx.ListNotes(ctx, owner, types.NoteFilter{Category: "work"})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		assert.Equal(t, note.ID, work[0].ID)

		page, total, err := tx.ListNotes(ctx, owner, types.NoteFilter{Offset: 1, Limit: 1})
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		require.Len(t, page, 1)
		assert.Equal(t, note.ID, page[0].ID)
	})

	t.Run("update and delete note", func(t *testing.T) {
		note := &models.Note{OwnerID: owner, Title: "x", Content: "before"}
		commit(t, store, func(tx types.Tx) {
			require.NoError(t, tx.CreateNote(ctx, note))
		})
		commit(t, store, func(tx types.Tx) {
			updated, err := tx.UpdateNoteContent(ctx, owner, note.ID, "after")
			require.NoError(t, err)
			assert.Equal(t, "after", updated.Content)
		})

		tx, err := store.Begin(ctx)
		require.NoError(t, err)
		_, err = tx.UpdateNoteContent(ctx, other, note.ID, "stolen")
		assert.ErrorIs(t, err, models.ErrNoteNotFound)
		assert.ErrorIs(t, tx.DeleteNote(ctx, other, note.ID), models.ErrNoteNotFound)
		require.NoError(t, tx.Rollback(ctx))

		commit(t, store, func(tx types.Tx) {
			require.NoError(t, tx.DeleteNote(ctx, owner, note.ID))
		})
		tx, err = store.Begin(ctx)
		require.NoError(t, err)
		defer tx.Rollback(ctx)
		_, err = tx.GetNote(ctx, owner, note.ID)
		assert.ErrorIs(t, err, models.ErrNoteNotFound)
	})

	t.Run("rollback discards writes", func(t *testing.T) {
		note := &models.Note{OwnerID: owner, Title: "r", Content: "gone"}
		tx, err := store.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.CreateNote(ctx, note))
		require.NoError(t, tx.Rollback(ctx))

		tx, err = store.Begin(ctx)
		require.NoError(t, err)
		defer tx.Rollback(ctx)
		_, err = tx.GetNote(ctx, owner, note.ID)
		assert.ErrorIs(t, err, models.ErrNoteNotFound)
	})

	t.Run("sessions and messages", func(t *testing.T) {
		first := &models.ChatSession{OwnerID: owner, Title: "first"}
		second := &models.ChatSession{OwnerID: owner, Title: "second"}
		commit(t, store, func(tx types.Tx) { require.NoError(t, tx.CreateSession(ctx, first)) })
		commit(t, store, func(tx types.Tx) { require.NoError(t, tx.CreateSession(ctx, second)) })

		for _, m := range []models.ChatMessage{
			{SessionID: first.ID, Role: models.RoleUser, Content: "q1"},
			{SessionID: first.ID, Role: models.RoleAssistant, Content: "a1"},
			{SessionID: first.ID, Role: models.RoleUser, Content: "q2"},
		} {
			m := m
			commit(t, store, func(tx types.Tx) { require.NoError(t, tx.AppendMessage(ctx, &m)) })
		}

		tx, err := store.Begin(ctx)
		require.NoError(t, err)
		sessions, err := tx.ListSessions(ctx, owner)
		require.NoError(t, err)
		require.Len(t, sessions, 2)
		assert.Equal(t, "second", sessions[0].Title)

		_, err = tx.GetSession(ctx, other, first.ID)
		assert.ErrorIs(t, err, models.ErrSessionNotFound)

		messages, err := tx.ListMessages(ctx, first.ID)
		require.NoError(t, err)
		require.Len(t, messages, 3)
		assert.Equal(t, []string{"q1", "a1", "q2"}, []string{messages[0].Content, messages[1].Content, messages[2].Content})
		require.NoError(t, tx.Rollback(ctx))

		commit(t, store, func(tx types.Tx) { require.NoError(t, tx.DeleteSession(ctx, owner, first.ID)) })

		tx, err = store.Begin(ctx)
		require.NoError(t, err)
		defer tx.Rollback(ctx)
		messages, err = tx.ListMessages(ctx, first.ID)
		require.NoError(t, err)
		assert.Empty(t, messages)
		_, err = tx.GetSession(ctx, owner, first.ID)
		assert.ErrorIs(t, err, models.ErrSessionNotFound)
	})
}

func TestMemory(t *testing.T) {
	runStoreContract(t, db.NewMemory())
}

func TestMemory_FailNextCommit(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemory()
	boom := errors.New("disk full")
	store.FailNextCommit(boom)

	note := &models.Note{OwnerID: "u", Content: "c"}
	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.CreateNote(ctx, note))
	assert.ErrorIs(t, tx.Commit(ctx), boom)

	tx, err = store.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.GetNote(ctx, "u", note.ID)
	assert.ErrorIs(t, err, models.ErrNoteNotFound)
}

func TestMemory_AppendToMissingSessionFailsAtomically(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemory()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	note := &models.Note{OwnerID: "u", Content: "c"}
	require.NoError(t, tx.CreateNote(ctx, note))
	require.NoError(t, tx.AppendMessage(ctx, &models.ChatMessage{SessionID: "missing", Role: models.RoleUser, Content: "hi"}))
	assert.ErrorIs(t, tx.Commit(ctx), models.ErrSessionNotFound)

	tx, err = store.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.GetNote(ctx, "u", note.ID)
	assert.ErrorIs(t, err, models.ErrNoteNotFound)
}

func TestPostgres(t *testing.T) {
	dsn := os.Getenv("RECALL_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("RECALL_TEST_DATABASE_URL not set")
	}
	require.NoError(t, db.Migrate(dsn, "up", 0))
	require.NoError(t, db.Migrate(dsn, "up", 0), "re-running up is a no-op")

	store, err := db.NewPostgres(context.Background(), db.PostgresConfig{ConnString: dsn})
	require.NoError(t, err)
	defer store.Close()

	runStoreContract(t, store)
}
