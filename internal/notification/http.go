package notification

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"vlog-platform/internal/server"
)

func (s *Service) Register(e *echo.Echo) {
	e.GET("/api/users/:userId/notifications", s.list)
	e.POST("/api/users/:userId/notifications/read", s.markRead)
	e.POST("/api/users/:userId/notifications/delete", s.remove)
}

type idsRequest struct {
	IDs []string `json:"ids"`
}

type countResponse struct {
	Updated int `json:"updated"`
}

func (s *Service) list(c echo.Context) error {
	page, err := server.PageParams(c)
	if err != nil {
		return server.BadRequest(c, err.Error())
	}
	out, err := s.List(c.Request().Context(), c.Param("userId"), page, c.QueryParam("unread") == "true")
	if err != nil {
		return server.Error(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Service) markRead(c echo.Context) error {
	var req idsRequest
	if err := server.Decode(c, &req); err != nil {
		return server.BadRequest(c, err.Error())
	}
	n, err := s.MarkRead(c.Request().Context(), c.Param("userId"), req.IDs)
	if err != nil {
		return server.Error(c, err)
	}
	return c.JSON(http.StatusOK, countResponse{Updated: n})
}

func (s *Service) remove(c echo.Context) error {
	var req idsRequest
	if err := server.Decode(c, &req); err != nil {
		return server.BadRequest(c, err.Error())
	}
	n, err := s.Delete(c.Request().Context(), c.Param("userId"), req.IDs)
	if err != nil {
		return server.Error(c, err)
	}
	return c.JSON(http.StatusOK, countResponse{Updated: n})
}
