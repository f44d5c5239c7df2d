// Package server exposes notes and chat sessions over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"slices"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/xhad/recall/internal/models"
	"github.com/xhad/recall/pkg/app"
	"github.com/xhad/recall/pkg/lock"
	"github.com/xhad/recall/pkg/scraper"
)

type Server struct {
	app      *app.App
	echo     *echo.Echo
	secret   []byte
	upgrader websocket.Upgrader
	logger   *log.Logger
}

func New(a *app.App) (*Server, error) {
	cfg := a.Config.Server
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt secret not configured (server.jwt_secret or RECALL_JWT_SECRET)")
	}

	s := &Server{
		app:    a,
		echo:   echo.New(),
		secret: []byte(cfg.JWTSecret),
		logger: log.New(log.Writer(), "[HTTP] ", log.LstdFlags),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(cfg.AllowedOrigins, "*") || slices.Contains(cfg.AllowedOrigins, origin)
		},
	}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("20M"))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderContentType, echo.HeaderAuthorization, "Cookie"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(a.Metrics.Handler()))

	api := e.Group("/api", requireUser(s.secret))

	notes := api.Group("/notes")
	notes.POST("", s.createNote)
	notes.GET("", s.listNotes)
	notes.GET("/search", s.searchNotes)
	notes.GET("/:id", s.getNote)
	notes.PUT("/:id", s.updateNote)
	notes.DELETE("/:id", s.deleteNote)

	chat := api.Group("/chat")
	chat.POST("/sessions", s.createSession)
	chat.GET("/sessions", s.listSessions)
	chat.GET("/sessions/:id", s.getSession)
	chat.DELETE("/sessions/:id", s.deleteSession)
	chat.POST("/sessions/:id/messages", s.postMessage)
	chat.GET("/ws", s.chatSocket)

	return s, nil
}

func (s *Server) Handler() http.Handler { return s.echo }

// Start blocks serving on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.logger.Printf("listening on %s", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he.Code
	case errors.Is(err, models.ErrNoteNotFound), errors.Is(err, models.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrContentExtractionFailed),
		errors.Is(err, models.ErrEmptyMessage),
		errors.Is(err, scraper.ErrURLNotAllowed):
		return http.StatusBadRequest
	case errors.Is(err, lock.ErrBusy):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (s *Server) handleError(err error, c echo.Context) {
	code := statusFor(err)
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) && he.Message != nil {
		msg = fmt.Sprint(he.Message)
	}
	if code == http.StatusConflict {
		msg = "a reply is already being generated for this session"
	}

	req := c.Request()
	s.logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
	if !c.Response().Committed {
		_ = c.JSON(code, map[string]string{"error": msg})
	}
}
