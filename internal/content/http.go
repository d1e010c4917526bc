package content

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"vlog-platform/internal/domain"
	"vlog-platform/internal/server"
	"vlog-platform/internal/storage"
)

// Register wires the content routes on e.
func (s *Service) Register(e *echo.Echo) {
	e.POST("/api/contents", s.create)
	e.GET("/api/contents", s.list)
	e.GET("/api/contents/:id", s.get)
	e.PATCH("/api/contents/:id", s.update)
	e.DELETE("/api/contents/:id", s.remove)
	e.POST("/api/contents/:id/engagements", s.engage)
}

type createRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Body        string   `json:"body"`
	Tags        []string `json:"tags"`
	AuthorID    string   `json:"authorId"`
	CategoryID  string   `json:"categoryId"`
	Status      string   `json:"status"`
	Visibility  string   `json:"visibility"`
}

func (s *Service) create(c echo.Context) error {
	var req createRequest
	if err := server.Decode(c, &req); err != nil {
		return server.BadRequest(c, err.Error())
	}
	if strings.TrimSpace(req.Title) == "" || req.AuthorID == "" {
		return server.BadRequest(c, "title and authorId are required")
	}
	out, err := s.Create(c.Request().Context(), domain.Content{
		Title:       req.Title,
		Description: req.Description,
		Body:        req.Body,
		Tags:        req.Tags,
		AuthorID:    req.AuthorID,
		CategoryID:  req.CategoryID,
		Status:      req.Status,
		Visibility:  req.Visibility,
	})
	return respond(c, http.StatusCreated, out, err)
}

func (s *Service) get(c echo.Context) error {
	out, err := s.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return server.Error(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Service) list(c echo.Context) error {
	page, err := server.PageParams(c)
	if err != nil {
		return server.BadRequest(c, err.Error())
	}
	items, err := s.List(c.Request().Context(), storage.ContentFilter{
		CategoryID: c.QueryParam("categoryId"),
		AuthorID:   c.QueryParam("authorId"),
	})
	if err != nil {
		return server.Error(c, err)
	}
	return c.JSON(http.StatusOK, server.Paginate(items, page))
}

func (s *Service) update(c echo.Context) error {
	var patch domain.ContentPatch
	if err := server.Decode(c, &patch); err != nil {
		return server.BadRequest(c, err.Error())
	}
	out, err := s.Update(c.Request().Context(), c.Param("id"), patch)
	return respond(c, http.StatusOK, out, err)
}

func (s *Service) remove(c echo.Context) error {
	err := s.Delete(c.Request().Context(), c.Param("id"))
	return respond(c, http.StatusOK, map[string]string{"id": c.Param("id")}, err)
}

func (s *Service) engage(c echo.Context) error {
	var req Engagement
	if err := server.Decode(c, &req); err != nil {
		return server.BadRequest(c, err.Error())
	}
	if req.UserID == "" {
		return server.BadRequest(c, "userId is required")
	}
	err := s.Engage(c.Request().Context(), c.Param("id"), req)
	if errors.Is(err, errBadRequest) {
		return server.BadRequest(c, err.Error())
	}
	return respond(c, http.StatusAccepted, map[string]string{"contentId": c.Param("id")}, err)
}

// respond reports committed writes as success, flagging delayed sync.
func respond(c echo.Context, status int, data any, err error) error {
	if err != nil && !errors.Is(err, domain.ErrDegradedSync) {
		return server.Error(c, err)
	}
	return server.Committed(c, status, data, err)
}
