package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/xhad/recall/internal/models"
	"github.com/xhad/recall/internal/types"
)

const DefaultSessionTitle = "New chat"

// Sessions manages chat sessions and reads their transcripts.
type Sessions struct {
	store types.Store
}

func NewSessions(store types.Store) *Sessions {
	return &Sessions{store: store}
}

func (s *Sessions) CreateSession(ctx context.Context, ownerID, title string) (models.ChatSession, error) {
	if ownerID == "" {
		return models.ChatSession{}, fmt.Errorf("session has no owner")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultSessionTitle
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return models.ChatSession{}, err
	}
	defer tx.Rollback(ctx)

	session := models.ChatSession{OwnerID: ownerID, Title: title}
	if err := tx.CreateSession(ctx, &session); err != nil {
		return models.ChatSession{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return models.ChatSession{}, err
	}
	return session, nil
}

// ListSessions returns the owner's sessions, newest first.
func (s *Sessions) ListSessions(ctx context.Context, ownerID string) ([]models.ChatSession, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)
	return tx.ListSessions(ctx, ownerID)
}

func (s *Sessions) GetSession(ctx context.Context, ownerID, sessionID string) (models.ChatSession, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return models.ChatSession{}, err
	}
	defer tx.Rollback(ctx)
	return tx.GetSession(ctx, ownerID, sessionID)
}

// Messages returns a session's transcript in creation order.
func (s *Sessions) Messages(ctx context.Context, ownerID, sessionID string) ([]models.ChatMessage, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.GetSession(ctx, ownerID, sessionID); err != nil {
		return nil, err
	}
	return tx.ListMessages(ctx, sessionID)
}

func (s *Sessions) DeleteSession(ctx context.Context, ownerID, sessionID string) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := tx.DeleteSession(ctx, ownerID, sessionID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
