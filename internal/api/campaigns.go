package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/modfin/kuvert"
	"github.com/modfin/kuvert/internal/campaign"
)

type campaignQuery struct {
	Status   kuvert.CampaignStatus `query:"status"`
	Page     int                   `query:"page"`
	PageSize int                   `query:"page_size"`
}

type CampaignPage struct {
	Campaigns []kuvert.Campaign `json:"campaigns"`
	Total     int               `json:"total"`
}

type ScheduleRequest struct {
	At time.Time `json:"at"`
}

func (s *Server) listCampaigns(c echo.Context) error {
	var q campaignQuery
	if err := c.Bind(&q); err != nil {
		return err
	}
	list, total, err := s.campaigns.List(c.Request().Context(), q.Status, q.Page, q.PageSize)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, CampaignPage{Campaigns: list, Total: total})
}

func (s *Server) createCampaign(c echo.Context) error {
	var d campaign.Draft
	if err := c.Bind(&d); err != nil {
		return err
	}
	camp, err := s.campaigns.Create(c.Request().Context(), d)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, camp)
}

func (s *Server) getCampaign(c echo.Context) error {
	camp, err := s.campaigns.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, camp)
}

func (s *Server) sendCampaign(c echo.Context) error {
	camp, err := s.campaigns.Send(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, camp)
}

func (s *Server) scheduleCampaign(c echo.Context) error {
	var req ScheduleRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if req.At.IsZero() {
		return echo.NewHTTPError(http.StatusBadRequest, "at is required")
	}
	camp, err := s.campaigns.Schedule(c.Request().Context(), c.Param("id"), req.At)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, camp)
}

func (s *Server) cancelCampaign(c echo.Context) error {
	camp, err := s.campaigns.Cancel(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, camp)
}
