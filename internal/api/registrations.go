package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

type StatusChange struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (s *Server) registrationCreated(c echo.Context) error {
	ctx := c.Request().Context()
	reg, err := s.registrations.GetRegistration(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	msgs, err := s.notifier.RegistrationCreated(ctx, *reg)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, msgs)
}

// registrationStatus responds 204 when the status does not warrant a notification
func (s *Server) registrationStatus(c echo.Context) error {
	var req StatusChange
	if err := c.Bind(&req); err != nil {
		return err
	}
	if len(strings.TrimSpace(req.Status)) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "status is required")
	}

	ctx := c.Request().Context()
	reg, err := s.registrations.GetRegistration(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	m, err := s.notifier.StatusChanged(ctx, *reg, req.Status, req.Reason)
	if err != nil {
		return err
	}
	if m == nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusCreated, m)
}
