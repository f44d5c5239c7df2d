package app_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/recall/internal/models"
	"github.com/xhad/recall/pkg/app"
	"github.com/xhad/recall/pkg/config"
	"github.com/xhad/recall/pkg/llm/llmtest"
	"github.com/xhad/recall/pkg/lock"
	"github.com/xhad/recall/pkg/store"
)

func memoryConfig() *config.Config {
	cfg := config.Default()
	cfg.LLM.Provider = "ollama"
	cfg.Index.Provider = "memory"
	cfg.Embedder.Dimension = 32
	return cfg
}

func TestNew_InMemory(t *testing.T) {
	backend := &llmtest.Backend{Segments: []string{"answer"}}
	a, err := app.New(context.Background(), memoryConfig(),
		app.WithEmbeddingClient(&llmtest.EmbeddingClient{Dim: 32}),
		app.WithBackend(backend),
	)
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &store.MemoryStore{}, a.Index)
	assert.IsType(t, &lock.LocalLocker{}, a.Locker)

	ctx := context.Background()
	note, err := a.Ingestor.Ingest(ctx, models.Note{OwnerID: "alice", Title: "t", Content: "the cat sleeps"})
	require.NoError(t, err)

	session, err := a.Sessions.CreateSession(ctx, "alice", "")
	require.NoError(t, err)
	turn, err := a.Coordinator.PostMessage(ctx, session.ID, "alice", "where does the cat sleep")
	require.NoError(t, err)
	for range turn.Segments() {
	}
	result := turn.Wait()

	require.NoError(t, result.Err)
	require.NotNil(t, result.Message)
	assert.Equal(t, "answer", result.Message.Content)
	assert.Equal(t, note.Content, result.Context)
	require.Len(t, backend.Requests(), 1)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := memoryConfig()
	cfg.Index.Collection = "Bad-Name"

	_, err := app.New(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index.collection")
}

func TestNew_PgvectorNeedsDatabase(t *testing.T) {
	cfg := memoryConfig()
	cfg.Index.Provider = "pgvector"

	_, err := app.New(context.Background(), cfg,
		app.WithEmbeddingClient(&llmtest.EmbeddingClient{Dim: 32}),
		app.WithBackend(&llmtest.Backend{}),
	)
	assert.Error(t, err)
}
