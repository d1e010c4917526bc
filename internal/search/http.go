package search

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"vlog-platform/internal/server"
)

func (s *Service) Register(e *echo.Echo) {
	e.GET("/api/search", s.search)
}

func (s *Service) search(c echo.Context) error {
	page, err := server.PageParams(c)
	if err != nil {
		return server.BadRequest(c, err.Error())
	}
	hits, err := s.Search(c.Request().Context(), Query{
		Text:   c.QueryParam("q"),
		Type:   c.QueryParam("type"),
		UserID: c.QueryParam("userId"),
	})
	if errors.Is(err, ErrUnknownType) {
		return server.BadRequest(c, err.Error())
	}
	if err != nil {
		return server.Error(c, err)
	}
	return c.JSON(http.StatusOK, server.Paginate(hits, page))
}
