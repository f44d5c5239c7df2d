package rag_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/recall/internal/models"
	"github.com/xhad/recall/pkg/rag"
	"github.com/xhad/recall/pkg/store"
)

func TestRetrieve_JoinsRankedFragments(t *testing.T) {
	h := newHarness(t)
	h.ingest(t, "alice", "apples are red")
	h.ingest(t, "alice", "bananas are yellow")
	h.ingest(t, "alice", "zzz qqq xxx")

	got := h.retriever.Retrieve(context.Background(), "apples are red", collection, 2)

	assert.False(t, got.Degraded)
	require.Len(t, got.Hits, 2)
	assert.Equal(t, "apples are red", got.Hits[0].Text)
	assert.True(t, strings.HasPrefix(got.Context, "apples are red"+rag.ContextSeparator))
	assert.GreaterOrEqual(t, got.Hits[0].Score, got.Hits[1].Score)
}

func TestRetrieve_EmptyCollectionIsSentinel(t *testing.T) {
	h := newHarness(t)

	got := h.retriever.Retrieve(context.Background(), "anything", "empty_collection", 3)

	assert.Equal(t, rag.NoMatchContext, got.Context)
	assert.False(t, got.Degraded)
	assert.Empty(t, got.Hits)
}

func TestRetrieve_DegradedEmbedder(t *testing.T) {
	h := newHarness(t)
	h.embedClient.Err = errors.New("unreachable")
	got := h.retriever.Retrieve(context.Background(), "question", collection, 3)

	assert.True(t, got.Degraded)
	assert.Equal(t, rag.NoMatchContext, got.Context)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RetrievalDegraded))
}

func TestRetrieve_BoundsContext(t *testing.T) {
	index := store.NewMemory(testDim)
	h := newHarness(t)
	retriever, err := rag.NewRetriever(rag.RetrieverConfig{
		Index:           index,
		Embedder:        h.embedder,
		MaxContextChars: 10,
	})
	require.NoError(t, err)

	vector := make([]float32, testDim)
	vector[0] = 1
	require.NoError(t, index.Upsert(context.Background(), collection, []models.Fragment{
		{ID: "a:0", NoteID: "a", Text: strings.Repeat("a", 25), Vector: vector},
		{ID: "b:0", NoteID: "b", Text: "   ", Vector: vector},
	}))

	got := retriever.Retrieve(context.Background(), "a", collection, 3)

	assert.Equal(t, strings.Repeat("a", 10), got.Context)
}

func TestRetrieve_SkipsBlankFragments(t *testing.T) {
	index := store.NewMemory(testDim)
	h := newHarness(t)
	retriever, err := rag.NewRetriever(rag.RetrieverConfig{Index: index, Embedder: h.embedder})
	require.NoError(t, err)

	vector := make([]float32, testDim)
	vector[0] = 1
	require.NoError(t, index.Upsert(context.Background(), collection, []models.Fragment{
		{ID: "b:0", NoteID: "b", Text: " ", Vector: vector},
	}))

	got := retriever.Retrieve(context.Background(), "a", collection, 3)

	assert.Equal(t, rag.NoMatchContext, got.Context)
	assert.Len(t, got.Hits, 1)
}

func TestRetrieveForOwner_OtherOwnersDoNotCrowdOut(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 20; i++ {
		h.ingest(t, "bob", fmt.Sprintf("zebras graze on the plains %d", i))
	}
	mine := h.ingest(t, "alice", "zebras are striped")

	got := h.retriever.RetrieveForOwner(context.Background(), "alice", "zebras graze on the plains", collection, 3)

	assert.False(t, got.Degraded)
	require.Len(t, got.Hits, 1)
	assert.Equal(t, mine.ID, got.Hits[0].NoteID)
	assert.Equal(t, "zebras are striped", got.Context)
}
