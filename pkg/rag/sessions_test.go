package rag_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/recall/internal/models"
	"github.com/xhad/recall/pkg/rag"
)

func TestSessions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.sessions.CreateSession(ctx, "alice", "  ")
	require.NoError(t, err)
	assert.Equal(t, rag.DefaultSessionTitle, first.Title)

	second, err := h.sessions.CreateSession(ctx, "alice", "Trip planning")
	require.NoError(t, err)

	list, err := h.sessions.ListSessions(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)

	got, err := h.sessions.GetSession(ctx, "alice", first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	_, err = h.sessions.Messages(ctx, "bob", first.ID)
	assert.ErrorIs(t, err, models.ErrSessionNotFound)

	turn, err := h.coordinator.PostMessage(ctx, first.ID, "alice", "hello")
	require.NoError(t, err)
	turn.Wait()

	assert.ErrorIs(t, h.sessions.DeleteSession(ctx, "bob", first.ID), models.ErrSessionNotFound)
	require.NoError(t, h.sessions.DeleteSession(ctx, "alice", first.ID))

	_, err = h.sessions.Messages(ctx, "alice", first.ID)
	assert.ErrorIs(t, err, models.ErrSessionNotFound)

	_, err = h.sessions.CreateSession(ctx, "", "x")
	assert.Error(t, err)
}
