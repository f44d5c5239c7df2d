package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/xhad/recall/internal/models"
	"github.com/xhad/recall/pkg/lock"
	"github.com/xhad/recall/pkg/rag"
)

type sessionRequest struct {
	Title string `json:"title"`
}

type messageRequest struct {
	Content string `json:"content"`
}

type sessionTranscript struct {
	Session  models.ChatSession   `json:"session"`
	Messages []models.ChatMessage `json:"messages"`
}

// Frame is one websocket message. Clients send {"session_id", "content"};
// the server answers with stream frames followed by done or error.
type Frame struct {
	Type      string              `json:"type"`
	SessionID string              `json:"session_id,omitempty"`
	Content   string              `json:"content,omitempty"`
	Message   *models.ChatMessage `json:"message,omitempty"`
	Degraded  bool                `json:"degraded,omitempty"`
}

const (
	frameStream = "stream"
	frameDone   = "done"
	frameError  = "error"
)

func (s *Server) createSession(c echo.Context) error {
	var req sessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	session, err := s.app.Sessions.CreateSession(c.Request().Context(), currentUser(c), req.Title)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, session)
}

func (s *Server) listSessions(c echo.Context) error {
	sessions, err := s.app.Sessions.ListSessions(c.Request().Context(), currentUser(c))
	if err != nil {
		return err
	}
	if sessions == nil {
		sessions = []models.ChatSession{}
	}
	return c.JSON(http.StatusOK, sessions)
}

func (s *Server) getSession(c echo.Context) error {
	ctx := c.Request().Context()
	session, err := s.app.Sessions.GetSession(ctx, currentUser(c), c.Param("id"))
	if err != nil {
		return err
	}
	messages, err := s.app.Sessions.Messages(ctx, currentUser(c), session.ID)
	if err != nil {
		return err
	}
	if messages == nil {
		messages = []models.ChatMessage{}
	}
	return c.JSON(http.StatusOK, sessionTranscript{Session: session, Messages: messages})
}

func (s *Server) deleteSession(c echo.Context) error {
	if err := s.app.Sessions.DeleteSession(c.Request().Context(), currentUser(c), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// startTurn takes the session lock and starts a turn. The returned finish
// waits for the assistant reply to be persisted and then drops the lock.
func (s *Server) startTurn(ctx context.Context, sessionID, userID, content string) (*rag.Turn, func() rag.TurnResult, error) {
	release, err := s.app.Locker.Acquire(ctx, lock.SessionKey(sessionID))
	if err != nil {
		return nil, nil, err
	}
	turn, err := s.app.Coordinator.PostMessage(ctx, sessionID, userID, content)
	if err != nil {
		release()
		return nil, nil, err
	}
	return turn, func() rag.TurnResult {
		defer release()
		return turn.Wait()
	}, nil
}

// postMessage streams the answer as chunked plain text.
func (s *Server) postMessage(c echo.Context) error {
	var req messageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), s.app.Config.Server.TurnTimeout)
	defer cancel()

	turn, finish, err := s.startTurn(ctx, c.Param("id"), currentUser(c), req.Content)
	if err != nil {
		return err
	}
	defer finish()

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, echo.MIMETextPlainCharsetUTF8)
	res.Header().Set("X-Content-Type-Options", "nosniff")
	res.WriteHeader(http.StatusOK)

	var writeErr error
	for seg := range turn.Segments() {
		if writeErr != nil {
			continue
		}
		if _, writeErr = res.Write([]byte(seg)); writeErr != nil {
			s.logger.Printf("client left session %s mid-stream: %v", c.Param("id"), writeErr)
			cancel()
			continue
		}
		res.Flush()
	}
	return nil
}

func (s *Server) chatSocket(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Printf("websocket upgrade failed: %v", err)
		return nil
	}
	defer conn.Close()

	userID := currentUser(c)
	for {
		var in Frame
		if err := conn.ReadJSON(&in); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Printf("error reading frame: %v", err)
			}
			return nil
		}
		// Turns on one connection run one at a time so frames never interleave.
		if err := s.socketTurn(c.Request().Context(), conn, userID, in); err != nil {
			s.logger.Printf("error writing frame: %v", err)
			return nil
		}
	}
}

func (s *Server) socketTurn(parent context.Context, conn *websocket.Conn, userID string, in Frame) error {
	ctx, cancel := context.WithTimeout(parent, s.app.Config.Server.TurnTimeout)
	defer cancel()

	turn, finish, err := s.startTurn(ctx, in.SessionID, userID, in.Content)
	if err != nil {
		return conn.WriteJSON(Frame{Type: frameError, SessionID: in.SessionID, Content: socketError(err)})
	}

	var writeErr error
	for seg := range turn.Segments() {
		if writeErr != nil {
			continue
		}
		if writeErr = conn.WriteJSON(Frame{Type: frameStream, SessionID: in.SessionID, Content: seg}); writeErr != nil {
			cancel()
		}
	}
	result := finish()
	if writeErr != nil {
		return writeErr
	}

	if result.Err != nil && result.Message == nil && !result.Failed {
		return conn.WriteJSON(Frame{Type: frameError, SessionID: in.SessionID, Content: socketError(result.Err)})
	}
	return conn.WriteJSON(Frame{Type: frameDone, SessionID: in.SessionID, Message: result.Message, Degraded: result.Degraded})
}

func socketError(err error) string {
	if errors.Is(err, lock.ErrBusy) {
		return "a reply is already being generated for this session"
	}
	switch statusFor(err) {
	case http.StatusNotFound, http.StatusBadRequest:
		return err.Error()
	}
	return "internal error"
}
