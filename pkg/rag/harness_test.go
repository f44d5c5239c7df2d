package rag_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xhad/recall/internal/models"
	"github.com/xhad/recall/pkg/db"
	"github.com/xhad/recall/pkg/extract"
	"github.com/xhad/recall/pkg/llm"
	"github.com/xhad/recall/pkg/llm/llmtest"
	"github.com/xhad/recall/pkg/metrics"
	"github.com/xhad/recall/pkg/processor"
	"github.com/xhad/recall/pkg/rag"
	"github.com/xhad/recall/pkg/store"
)

const (
	testDim    = 64
	collection = "notes"
)

var errIndexDown = errors.New("index unreachable")

// flakyIndex wraps the memory index and fails selected operations.
type flakyIndex struct {
	*store.MemoryStore
	failSearch bool
	failDelete bool
	failUpsert bool
}

func (f *flakyIndex) Search(ctx context.Context, c string, v []float32, k int, filter models.SearchFilter) ([]models.Hit, error) {
	if f.failSearch {
		return nil, errIndexDown
	}
	return f.MemoryStore.Search(ctx, c, v, k, filter)
}

func (f *flakyIndex) DeleteByNote(ctx context.Context, c, id string) error {
	if f.failDelete {
		return errIndexDown
	}
	return f.MemoryStore.DeleteByNote(ctx, c, id)
}

func (f *flakyIndex) DeleteNoteFrom(ctx context.Context, c, id string, from int) error {
	if f.failDelete {
		return errIndexDown
	}
	return f.MemoryStore.DeleteNoteFrom(ctx, c, id, from)
}

func (f *flakyIndex) Upsert(ctx context.Context, c string, fr []models.Fragment) error {
	if f.failUpsert {
		return errIndexDown
	}
	return f.MemoryStore.Upsert(ctx, c, fr)
}

type harness struct {
	store       *db.Memory
	index       *flakyIndex
	embedClient *llmtest.EmbeddingClient
	embedder    *llm.Embedder
	backend     *llmtest.Backend
	metrics     *metrics.Metrics
	ingestor    *rag.Ingestor
	retriever   *rag.Retriever
	sessions    *rag.Sessions
	coordinator *rag.Coordinator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:       db.NewMemory(),
		index:       &flakyIndex{MemoryStore: store.NewMemory(testDim)},
		embedClient: &llmtest.EmbeddingClient{Dim: testDim},
		backend:     &llmtest.Backend{Segments: []string{"Here is ", "your answer."}},
		metrics:     metrics.New(),
	}

	var err error
	h.embedder, err = llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Dimension: testDim,
		Client:    h.embedClient,
		Chunker:   processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 500, ChunkOverlap: 50}),
		Metrics:   h.metrics,
	})
	require.NoError(t, err)

	h.ingestor, err = rag.NewIngestor(rag.IngestorConfig{
		Store:      h.store,
		Index:      h.index,
		Embedder:   h.embedder,
		Extractor:  extract.New(nil, nil),
		Collection: collection,
		Metrics:    h.metrics,
	})
	require.NoError(t, err)

	h.retriever, err = rag.NewRetriever(rag.RetrieverConfig{
		Index:    h.index,
		Embedder: h.embedder,
		Store:    h.store,
		Metrics:  h.metrics,
	})
	require.NoError(t, err)

	engine, err := llm.NewWithConfig(llm.ChatConfig{Backend: h.backend, Metrics: h.metrics})
	require.NoError(t, err)

	h.sessions = rag.NewSessions(h.store)
	h.coordinator, err = rag.NewCoordinator(rag.CoordinatorConfig{
		Store:      h.store,
		Retriever:  h.retriever,
		Generator:  engine,
		Collection: collection,
		TopK:       3,
		Metrics:    h.metrics,
	})
	require.NoError(t, err)
	return h
}

func (h *harness) ingest(t *testing.T, owner, content string) models.Note {
	t.Helper()
	note, err := h.ingestor.Ingest(context.Background(), models.Note{OwnerID: owner, Title: "t", Content: content})
	require.NoError(t, err)
	return note
}

func (h *harness) session(t *testing.T, owner string) models.ChatSession {
	t.Helper()
	s, err := h.sessions.CreateSession(context.Background(), owner, "")
	require.NoError(t, err)
	return s
}

// collect drains a turn and returns the forwarded segments and the result.
func collect(t *testing.T, turn *rag.Turn) ([]string, rag.TurnResult) {
	t.Helper()
	var segments []string
	for s := range turn.Segments() {
		segments = append(segments, s)
	}
	return segments, turn.Wait()
}
