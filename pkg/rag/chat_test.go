package rag_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/recall/internal/models"
	"github.com/xhad/recall/pkg/llm"
	"github.com/xhad/recall/pkg/llm/llmtest"
	"github.com/xhad/recall/pkg/metrics"
	"github.com/xhad/recall/pkg/rag"
)

func TestPostMessage_NoNotesUsesSentinel(t *testing.T) {
	h := newHarness(t)
	session := h.session(t, "alice")

	turn, err := h.coordinator.PostMessage(context.Background(), session.ID, "alice", "what did I plant?")
	require.NoError(t, err)
	segments, result := collect(t, turn)

	assert.Equal(t, rag.NoMatchContext, result.Context)
	assert.False(t, result.Degraded)
	assert.NotEmpty(t, strings.Join(segments, ""))
	assert.Equal(t, rag.Done, result.State)
	require.NotNil(t, result.Message)

	messages, err := h.sessions.Messages(context.Background(), "alice", session.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, models.RoleUser, messages[0].Role)
	assert.Equal(t, models.RoleAssistant, messages[1].Role)
	assert.Equal(t, "Here is your answer.", messages[1].Content)

	requests := h.backend.Requests()
	require.Len(t, requests, 1)
	assert.Contains(t, requests[0].Prompt, rag.NoMatchContext)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Turns.WithLabelValues(metrics.OutcomeCompleted)))
}

func TestPostMessage_UsesRetrievedContext(t *testing.T) {
	h := newHarness(t)
	h.ingest(t, "alice", "tomatoes were planted in the north bed")
	h.ingest(t, "bob", "bob keeps tomatoes in a greenhouse")
	session := h.session(t, "alice")

	turn, err := h.coordinator.PostMessage(context.Background(), session.ID, "alice", "where are the tomatoes planted?")
	require.NoError(t, err)
	_, result := collect(t, turn)

	assert.Equal(t, "tomatoes were planted in the north bed", result.Context)
	assert.NotContains(t, result.Context, "greenhouse")
}

func TestPostMessage_SecondTurnSeesFirstTurn(t *testing.T) {
	h := newHarness(t)
	session := h.session(t, "alice")
	ctx := context.Background()

	turn, err := h.coordinator.PostMessage(ctx, session.ID, "alice", "first question")
	require.NoError(t, err)
	collect(t, turn)

	turn, err = h.coordinator.PostMessage(ctx, session.ID, "alice", "second question")
	require.NoError(t, err)
	collect(t, turn)

	requests := h.backend.Requests()
	require.Len(t, requests, 2)
	assert.Empty(t, requests[0].History)
	assert.Equal(t, []llm.Message{
		{Role: models.RoleUser, Content: "first question"},
		{Role: models.RoleAssistant, Content: "Here is your answer."},
	}, requests[1].History)
}

func TestPostMessage_GenerationFailsMidStream(t *testing.T) {
	h := newHarness(t)
	h.backend.Segments = []string{"partial ", "answer "}
	h.backend.Err = llmtest.ErrBackend
	session := h.session(t, "alice")

	turn, err := h.coordinator.PostMessage(context.Background(), session.ID, "alice", "question")
	require.NoError(t, err)
	segments, result := collect(t, turn)

	assert.Equal(t, []string{"partial ", "answer ", llm.Apology}, segments)
	assert.True(t, result.Failed)
	require.NotNil(t, result.Message)
	assert.Equal(t, "partial answer "+llm.Apology, result.Message.Content)

	messages, err := h.sessions.Messages(context.Background(), "alice", session.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, strings.Join(segments, ""), messages[1].Content)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Turns.WithLabelValues(metrics.OutcomeFailed)))
}

func TestPostMessage_BlankAnswerIsNotPersisted(t *testing.T) {
	h := newHarness(t)
	h.backend.Segments = []string{"  ", "\n"}
	session := h.session(t, "alice")

	turn, err := h.coordinator.PostMessage(context.Background(), session.ID, "alice", "question")
	require.NoError(t, err)
	_, result := collect(t, turn)

	assert.Nil(t, result.Message)
	assert.NoError(t, result.Err)
	assert.Equal(t, rag.Done, result.State)

	messages, err := h.sessions.Messages(context.Background(), "alice", session.ID)
	require.NoError(t, err)
	assert.Len(t, messages, 1)
}

func TestPostMessage_Validation(t *testing.T) {
	h := newHarness(t)
	session := h.session(t, "alice")
	ctx := context.Background()

	_, err := h.coordinator.PostMessage(ctx, session.ID, "mallory", "hi")
	assert.ErrorIs(t, err, models.ErrSessionNotFound)

	_, err = h.coordinator.PostMessage(ctx, "missing", "alice", "hi")
	assert.ErrorIs(t, err, models.ErrSessionNotFound)

	_, err = h.coordinator.PostMessage(ctx, session.ID, "alice", "  \n")
	assert.ErrorIs(t, err, models.ErrEmptyMessage)

	messages, err := h.sessions.Messages(ctx, "alice", session.ID)
	require.NoError(t, err)
	assert.Empty(t, messages)
	assert.Empty(t, h.backend.Requests())
}

func TestPostMessage_UserMessageCommitFailure(t *testing.T) {
	h := newHarness(t)
	session := h.session(t, "alice")
	h.store.FailNextCommit(errors.New("write failed"))

	_, err := h.coordinator.PostMessage(context.Background(), session.ID, "alice", "hi")
	assert.Error(t, err)
	assert.Empty(t, h.backend.Requests())
}

func TestPostMessage_ClientCancelStillPersists(t *testing.T) {
	h := newHarness(t)
	segments := make([]string, 200)
	for i := range segments {
		segments[i] = "x"
	}
	h.backend.Segments = segments
	session := h.session(t, "alice")

	ctx, cancel := context.WithCancel(context.Background())
	turn, err := h.coordinator.PostMessage(ctx, session.ID, "alice", "long answer please")
	require.NoError(t, err)

	<-turn.Segments()
	cancel()
	result := turn.Wait()

	require.NotNil(t, result.Message)
	assert.Equal(t, strings.Repeat("x", 200), result.Message.Content)

	messages, err := h.sessions.Messages(context.Background(), "alice", session.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, strings.Repeat("x", 200), messages[1].Content)
}

func TestPostMessage_RetrievalFailureDegrades(t *testing.T) {
	h := newHarness(t)
	h.ingest(t, "alice", "some note")
	h.index.failSearch = true
	session := h.session(t, "alice")

	turn, err := h.coordinator.PostMessage(context.Background(), session.ID, "alice", "question")
	require.NoError(t, err)
	_, result := collect(t, turn)

	assert.True(t, result.Degraded)
	assert.Equal(t, rag.NoMatchContext, result.Context)
	require.NotNil(t, result.Message)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RetrievalDegraded))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Turns.WithLabelValues(metrics.OutcomeDegraded)))
}

func TestPostMessage_AssistantPersistFailure(t *testing.T) {
	h := newHarness(t)
	h.backend.Gate = make(chan struct{})
	session := h.session(t, "alice")
	ctx := context.Background()

	turn, err := h.coordinator.PostMessage(ctx, session.ID, "alice", "question")
	require.NoError(t, err)
	// The next commit is the assistant message.
	h.store.FailNextCommit(errors.New("write failed"))
	close(h.backend.Gate)
	_, result := collect(t, turn)

	assert.Error(t, result.Err)
	assert.Equal(t, rag.Failed, result.State)
	assert.Nil(t, result.Message)
}
