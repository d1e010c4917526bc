package analytics

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"vlog-platform/internal/server"
)

func (s *Service) Register(e *echo.Echo) {
	e.GET("/api/analytics/:subject/:id", s.summary)
}

func (s *Service) summary(c echo.Context) error {
	subject, err := ParseSubject(c.Param("subject"))
	if err != nil {
		return server.BadRequest(c, err.Error())
	}
	out, err := s.Summary(c.Request().Context(), subject, c.Param("id"))
	if err != nil {
		return server.Error(c, err)
	}
	return c.JSON(http.StatusOK, out)
}
