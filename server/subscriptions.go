package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"newsradar/pkg/radar"
	"newsradar/storage"
)

type createSubscriptionRequest struct {
	Channel       radar.Channel   `json:"channel"`
	Contact       string          `json:"contact"`
	ScheduledTime string          `json:"scheduled_time"`
	Frequency     radar.Frequency `json:"frequency"`
	Weekdays      []int           `json:"weekdays"`
	IsActive      *bool           `json:"is_active"` // Defaults to true
}

// channelParam reads an optional channel filter, rejecting unknown values.
func channelParam(c *gin.Context, raw string) (radar.Channel, bool) {
	if raw == "" {
		return "", true
	}
	ch := radar.Channel(raw)
	if !ch.Valid() {
		badRequest(c, "unknown channel "+strconv.Quote(raw))
		return "", false
	}
	return ch, true
}

func (s *Server) handleListSubscriptions(c *gin.Context) {
	ch, ok := channelParam(c, c.Query("channel"))
	if !ok {
		return
	}
	subs, err := s.store.ListSubscriptions(c.Request.Context(), userID(c), ch)
	if err != nil {
		s.fail(c, err, "Failed to list subscriptions")
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": subs})
}

func (s *Server) handleCreateSubscription(c *gin.Context) {
	var req createSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	sub := &radar.Subscription{
		UserID:        userID(c),
		Channel:       req.Channel,
		Contact:       req.Contact,
		ScheduledTime: req.ScheduledTime,
		Frequency:     req.Frequency,
		Weekdays:      req.Weekdays,
		IsActive:      active,
	}
	if err := s.store.CreateSubscription(c.Request.Context(), sub); err != nil {
		s.fail(c, err, "Failed to create subscription")
		return
	}
	c.JSON(http.StatusCreated, sub)
}

func (s *Server) handleUpdateSubscription(c *gin.Context) {
	var patch storage.SubscriptionPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	sub, err := s.store.UpdateSubscription(c.Request.Context(), userID(c), c.Param("id"), patch)
	if err != nil {
		s.fail(c, err, "Failed to update subscription")
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (s *Server) handleDeleteSubscription(c *gin.Context) {
	if err := s.store.DeleteSubscription(c.Request.Context(), userID(c), c.Param("id")); err != nil {
		s.fail(c, err, "Failed to delete subscription")
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleLogs(c *gin.Context) {
	ch, ok := channelParam(c, c.Query("channel"))
	if !ok {
		return
	}
	limit, ok := limitParam(c)
	if !ok {
		return
	}
	logs, err := s.store.ListAuditLogs(c.Request.Context(), userID(c), ch, limit)
	if err != nil {
		s.fail(c, err, "Failed to list logs")
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

// limitParam reads an optional positive ?limit=. Zero means the store default.
func limitParam(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		badRequest(c, "limit must be a positive integer")
		return 0, false
	}
	return n, true
}
