package category

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"vlog-platform/internal/domain"
	"vlog-platform/internal/server"
)

func (s *Service) Register(e *echo.Echo) {
	e.POST("/api/categories", s.create)
	e.GET("/api/categories", s.list)
	e.GET("/api/categories/tree", s.tree)
	e.GET("/api/categories/:id", s.get)
	e.GET("/api/categories/:id/contents", s.contents)
	e.PATCH("/api/categories/:id", s.update)
	e.DELETE("/api/categories/:id", s.remove)
}

type createRequest struct {
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
	ParentID    string `json:"parentId"`
	Order       int    `json:"order"`
	IsActive    *bool  `json:"isActive"`
}

func (s *Service) create(c echo.Context) error {
	var req createRequest
	if err := server.Decode(c, &req); err != nil {
		return server.BadRequest(c, err.Error())
	}
	if strings.TrimSpace(req.Name) == "" {
		return server.BadRequest(c, "name is required")
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	out, err := s.Create(c.Request().Context(), domain.Category{
		Name:        req.Name,
		Slug:        req.Slug,
		Description: req.Description,
		ParentID:    req.ParentID,
		Order:       req.Order,
		IsActive:    active,
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
	out, err := s.List(c.Request().Context(), c.QueryParam("includeInactive") == "true")
	if err != nil {
		return server.Error(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Service) tree(c echo.Context) error {
	out, err := s.Tree(c.Request().Context())
	if err != nil {
		return server.Error(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Service) contents(c echo.Context) error {
	page, err := server.PageParams(c)
	if err != nil {
		return server.BadRequest(c, err.Error())
	}
	ids, err := s.Contents(c.Request().Context(), c.Param("id"))
	if err != nil {
		return server.Error(c, err)
	}
	return c.JSON(http.StatusOK, server.Paginate(ids, page))
}

func (s *Service) update(c echo.Context) error {
	var patch domain.CategoryPatch
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

func respond(c echo.Context, status int, data any, err error) error {
	if err != nil && !errors.Is(err, domain.ErrDegradedSync) {
		return server.Error(c, err)
	}
	return server.Committed(c, status, data, err)
}
