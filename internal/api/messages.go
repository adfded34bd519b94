package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/modfin/kuvert"
	"github.com/modfin/kuvert/internal/mta"
	"github.com/modfin/kuvert/internal/queue"
)

type messageQuery struct {
	Status        kuvert.Status `query:"status"`
	CampaignID    string        `query:"campaign_id"`
	Kind          kuvert.Kind   `query:"kind"`
	CorrelationID string        `query:"correlation_id"`
	Page          int           `query:"page"`
	PageSize      int           `query:"page_size"`
}

type EnqueueRequest struct {
	To            kuvert.Address `json:"to"`
	Subject       string         `json:"subject"`
	Text          string         `json:"text"`
	HTML          string         `json:"html"`
	Kind          kuvert.Kind    `json:"kind"`
	Priority      int            `json:"priority"`
	SendAt        *time.Time     `json:"send_at"`
	CorrelationID string         `json:"correlation_id"`
}

type Stats struct {
	Processor mta.Stats             `json:"processor"`
	Messages  map[kuvert.Status]int `json:"messages"`
}

type CancelResponse struct {
	ID        string `json:"id"`
	Cancelled bool   `json:"cancelled"`
}

type RetryResponse struct {
	ID       string `json:"id"`
	Requeued bool   `json:"requeued"`
}

func (s *Server) stats(c echo.Context) error {
	counts, err := s.queue.Counts(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, Stats{Processor: s.processor.Stats(), Messages: counts})
}

func (s *Server) listMessages(c echo.Context) error {
	var q messageQuery
	if err := c.Bind(&q); err != nil {
		return err
	}
	page, err := s.queue.Query(c.Request().Context(), queue.Filter{
		Status:        q.Status,
		CampaignID:    q.CampaignID,
		Kind:          q.Kind,
		CorrelationID: q.CorrelationID,
		Page:          q.Page,
		PageSize:      q.PageSize,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, page)
}

func (s *Server) enqueueMessage(c echo.Context) error {
	var req EnqueueRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	m, err := s.queue.Add(c.Request().Context(), queue.Request{
		To:            req.To,
		Content:       queue.Content{Subject: req.Subject, Text: req.Text, HTML: req.HTML},
		Kind:          req.Kind,
		Priority:      req.Priority,
		At:            req.SendAt,
		CorrelationID: req.CorrelationID,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, m)
}

func (s *Server) getMessage(c echo.Context) error {
	m, err := s.queue.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, m)
}

func (s *Server) messageLog(c echo.Context) error {
	entries, err := s.queue.Log(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entries)
}

func (s *Server) cancelMessage(c echo.Context) error {
	id := c.Param("id")
	ok, err := s.queue.Cancel(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, CancelResponse{ID: id, Cancelled: ok})
}

func (s *Server) retryMessage(c echo.Context) error {
	id := c.Param("id")
	ok, err := s.queue.Retry(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, RetryResponse{ID: id, Requeued: ok})
}
