package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"newsradar/whatsapp"
)

func (s *Server) handleWhatsAppWebhook(c *gin.Context) {
	if s.inbox == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "WhatsApp inbox is not configured"})
		return
	}
	body, err := c.GetRawData()
	if err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	in, ok, err := whatsapp.ParseWebhook(body)
	if err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	if !ok {
		c.JSON(http.StatusOK, gin.H{"success": true, "processed": false})
		return
	}

	res, err := s.inbox.Handle(c.Request.Context(), in)
	if err != nil {
		s.logger.Error("WhatsApp webhook failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to process message"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "processed": res.Processed, "result": res})
}

func (s *Server) handleWhatsAppMessages(c *gin.Context) {
	limit, ok := limitParam(c)
	if !ok {
		return
	}
	msgs, err := s.store.ListWhatsAppMessages(c.Request.Context(), userID(c), c.Query("phone"), limit)
	if err != nil {
		s.fail(c, err, "Failed to list WhatsApp messages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (s *Server) handleRunLogs(c *gin.Context) {
	limit, ok := limitParam(c)
	if !ok {
		return
	}
	logs, err := s.store.ListRunLogs(c.Request.Context(), userID(c), limit)
	if err != nil {
		s.fail(c, err, "Failed to list radar logs")
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}
