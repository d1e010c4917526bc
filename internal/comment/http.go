package comment

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"vlog-platform/internal/domain"
	"vlog-platform/internal/server"
)

func (s *Service) Register(e *echo.Echo) {
	e.POST("/api/contents/:contentId/comments", s.create)
	e.GET("/api/contents/:contentId/comments", s.list)
	e.GET("/api/contents/:contentId/comments/:id/replies", s.replies)
	e.PATCH("/api/contents/:contentId/comments/:id", s.update)
	e.DELETE("/api/contents/:contentId/comments/:id", s.remove)
}

type createRequest struct {
	ParentID        string   `json:"parentId"`
	AuthorID        string   `json:"authorId"`
	AuthorName      string   `json:"authorName"`
	ContentAuthorID string   `json:"contentAuthorId"`
	Body            string   `json:"body"`
	Mentions        []string `json:"mentions"`
}

func (s *Service) create(c echo.Context) error {
	var req createRequest
	if err := server.Decode(c, &req); err != nil {
		return server.BadRequest(c, err.Error())
	}
	if req.AuthorID == "" || strings.TrimSpace(req.Body) == "" {
		return server.BadRequest(c, "authorId and body are required")
	}
	out, err := s.Create(c.Request().Context(), NewComment{
		ContentID:       c.Param("contentId"),
		ParentID:        req.ParentID,
		AuthorID:        req.AuthorID,
		AuthorName:      req.AuthorName,
		ContentAuthorID: req.ContentAuthorID,
		Body:            req.Body,
		Mentions:        req.Mentions,
	})
	if err != nil && !errors.Is(err, domain.ErrDegradedSync) {
		return server.Error(c, err)
	}
	return server.Committed(c, http.StatusCreated, out, err)
}

func (s *Service) list(c echo.Context) error {
	page, err := server.PageParams(c)
	if err != nil {
		return server.BadRequest(c, err.Error())
	}
	out, err := s.List(c.Request().Context(), c.Param("contentId"), page)
	if err != nil {
		return server.Error(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Service) replies(c echo.Context) error {
	page, err := server.PageParams(c)
	if err != nil {
		return server.BadRequest(c, err.Error())
	}
	out, err := s.Replies(c.Request().Context(), c.Param("contentId"), c.Param("id"), page)
	if err != nil {
		return server.Error(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

type updateRequest struct {
	AuthorID string `json:"authorId"`
	Body     string `json:"body"`
}

func (s *Service) update(c echo.Context) error {
	var req updateRequest
	if err := server.Decode(c, &req); err != nil {
		return server.BadRequest(c, err.Error())
	}
	if req.AuthorID == "" || strings.TrimSpace(req.Body) == "" {
		return server.BadRequest(c, "authorId and body are required")
	}
	out, err := s.Update(c.Request().Context(), c.Param("contentId"), c.Param("id"), req.AuthorID, req.Body)
	if err != nil && !errors.Is(err, domain.ErrDegradedSync) {
		return server.Error(c, err)
	}
	return server.Committed(c, http.StatusOK, out, err)
}

// remove takes the caller from the authorId query parameter.
func (s *Service) remove(c echo.Context) error {
	authorID := c.QueryParam("authorId")
	if authorID == "" {
		return server.BadRequest(c, "authorId is required")
	}
	out, err := s.Delete(c.Request().Context(), c.Param("contentId"), c.Param("id"), authorID)
	if err != nil && !errors.Is(err, domain.ErrDegradedSync) {
		return server.Error(c, err)
	}
	return server.Committed(c, http.StatusOK, out, err)
}
