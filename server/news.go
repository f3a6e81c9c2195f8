package server

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"newsradar/dispatch"
	"newsradar/pkg/radar"
	"newsradar/scraper"
)

type dispatchRequest struct {
	Force bool `json:"force"`
}

type testSendRequest struct {
	Contact string `json:"contact"`
}

func (s *Server) handleDispatch(c *gin.Context) {
	ch := radar.Channel(c.Param("channel"))
	if !ch.Valid() {
		badRequest(c, "unknown channel")
		return
	}
	var req dispatchRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request body")
			return
		}
	}

	res, err := s.dispatcher.Run(c.Request.Context(), dispatch.Request{
		Channel:       ch,
		Force:         req.Force,
		ExecutionType: radar.ExecutionManual,
		UserID:        userID(c),
	})
	if err != nil {
		s.logger.Error("Manual dispatch failed", "channel", ch, "user_id", userID(c), "error", err)
		if res == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Dispatch failed"})
			return
		}
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleTestSend(c *gin.Context) {
	ch := radar.Channel(c.Param("channel"))
	tester, ok := s.testers[ch]
	if !ok {
		badRequest(c, "unknown channel")
		return
	}
	var req testSendRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Contact == "" {
		badRequest(c, "contact is required")
		return
	}
	if !s.testLimiter.allow(userID(c)) {
		s.logger.Warn("Rate limit exceeded", "user_id", userID(c), "operation", "test_send")
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many test messages. Please try again later."})
		return
	}

	res := tester.SendTest(c.Request.Context(), userID(c), req.Contact)
	if !res.Success {
		c.JSON(http.StatusBadRequest, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleNews(c *gin.Context) {
	items, err := s.news.Latest(c.Request.Context(), userID(c))
	if err != nil {
		s.fail(c, err, "Failed to read news")
		return
	}
	if items == nil {
		items = []radar.NewsItem{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": len(items)})
}

func (s *Server) handleNewsRefresh(c *gin.Context) {
	if !s.refreshLimiter.allow(userID(c)) {
		s.logger.Warn("Rate limit exceeded", "user_id", userID(c), "operation", "news_refresh")
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many refreshes. Please try again later."})
		return
	}

	if err := s.news.Refresh(c.Request.Context(), userID(c)); err != nil {
		if errors.Is(err, scraper.ErrNoKeywords) {
			badRequest(c, "Configure at least one keyword before searching")
			return
		}
		s.logger.Error("News refresh failed", "user_id", userID(c), "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "News refresh failed"})
		return
	}
	s.handleNews(c)
}

func (s *Server) handleNewsExport(c *gin.Context) {
	items, err := s.news.Latest(c.Request.Context(), userID(c))
	if err != nil {
		s.fail(c, err, "Failed to read news")
		return
	}
	var buf bytes.Buffer
	if err := scraper.WriteCSV(&buf, items); err != nil {
		s.fail(c, err, "Failed to export news")
		return
	}
	name := fmt.Sprintf("news-%s.csv", time.Now().In(s.location).Format("2006-01-02"))
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}
