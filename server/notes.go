package server

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/xhad/recall/internal/models"
)

type noteRequest struct {
	Title    string `json:"title"`
	Category string `json:"category"`
	Text     string `json:"text"`
	URL      string `json:"url"`
}

type updateNoteRequest struct {
	Content string `json:"content"`
}

type noteList struct {
	Notes []models.Note `json:"notes"`
	Total int           `json:"total"`
}

func (s *Server) createNote(c echo.Context) error {
	ctx := c.Request().Context()

	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		fh, err := c.FormFile("file")
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "missing file field")
		}
		f, err := fh.Open()
		if err != nil {
			return err
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			return err
		}
		note, err := s.app.Ingestor.IngestSource(ctx, currentUser(c), c.FormValue("title"), c.FormValue("category"),
			models.Source{Kind: models.SourceFile, Filename: fh.Filename, Data: data})
		if err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, note)
	}

	var req noteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	src := models.Source{Kind: models.SourceText, Text: req.Text}
	if req.URL != "" {
		src = models.Source{Kind: models.SourceURL, URL: req.URL}
	}
	note, err := s.app.Ingestor.IngestSource(ctx, currentUser(c), req.Title, req.Category, src)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, note)
}

func intParam(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return n, nil
}

func (s *Server) listNotes(c echo.Context) error {
	offset, err := intParam(c, "offset", 0)
	if err != nil {
		return err
	}
	limit, err := intParam(c, "limit", 0)
	if err != nil {
		return err
	}
	notes, total, err := s.app.Ingestor.ListNotes(c.Request().Context(), currentUser(c), c.QueryParam("category"), offset, limit)
	if err != nil {
		return err
	}
	if notes == nil {
		notes = []models.Note{}
	}
	return c.JSON(http.StatusOK, noteList{Notes: notes, Total: total})
}

func (s *Server) searchNotes(c echo.Context) error {
	q := strings.TrimSpace(c.QueryParam("q"))
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query parameter q is required")
	}
	topK, err := intParam(c, "top_k", s.app.Config.Retrieval.TopK)
	if err != nil {
		return err
	}
	hits, err := s.app.Retriever.Search(c.Request().Context(), currentUser(c), q, s.app.Ingestor.Collection(), topK)
	if err != nil {
		return err
	}
	if hits == nil {
		hits = []models.Hit{}
	}
	return c.JSON(http.StatusOK, map[string][]models.Hit{"hits": hits})
}

func (s *Server) getNote(c echo.Context) error {
	note, err := s.app.Ingestor.GetNote(c.Request().Context(), currentUser(c), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, note)
}

func (s *Server) updateNote(c echo.Context) error {
	var req updateNoteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	note, err := s.app.Ingestor.UpdateContent(c.Request().Context(), currentUser(c), c.Param("id"), req.Content)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, note)
}

func (s *Server) deleteNote(c echo.Context) error {
	if err := s.app.Ingestor.DeleteNote(c.Request().Context(), currentUser(c), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
