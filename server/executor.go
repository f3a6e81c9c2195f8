package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"newsradar/artifacts"
	"newsradar/scraper"
)

func (s *Server) handleExecute(c *gin.Context) {
	var p scraper.Params
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	if len(p.Keywords) == 0 {
		badRequest(c, "keywords are required")
		return
	}

	id, err := s.executor.Execute(c.Request.Context(), p)
	if err != nil {
		s.logger.Error("Failed to start scraper", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start scraper"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id})
}

func (s *Server) handleRunStatus(c *gin.Context) {
	run, err := s.executor.Status(c.Request.Context(), c.Param("id"))
	if errors.Is(err, scraper.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	if err != nil {
		s.logger.Error("Failed to read run status", "run_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read run status"})
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) handleRunCSV(c *gin.Context) {
	id := c.Param("id")
	run, err := s.executor.Status(c.Request.Context(), id)
	if errors.Is(err, scraper.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	if err != nil {
		s.logger.Error("Failed to read run status", "run_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read run status"})
		return
	}
	if run.Status != scraper.StatusCompleted {
		c.JSON(http.StatusConflict, gin.H{"error": "run is " + string(run.Status)})
		return
	}

	data, err := s.executor.CSV(c.Request.Context(), id)
	if err != nil {
		s.logger.Error("Failed to read run output", "run_id", id, "error", err)
		c.JSON(http.StatusNotFound, gin.H{"error": "CSV file not found"})
		return
	}
	c.Data(http.StatusOK, "text/csv; charset=utf-8", data)
}

func (s *Server) handleArchiveList(c *gin.Context) {
	if s.archive == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "archive not configured"})
		return
	}
	objs, err := s.archive.List(c.Request.Context(), c.Query("prefix"))
	if err != nil {
		s.logger.Error("Failed to list archive", "prefix", c.Query("prefix"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list archive"})
		return
	}
	if objs == nil {
		objs = []artifacts.Object{}
	}
	c.JSON(http.StatusOK, gin.H{"objects": objs})
}

func (s *Server) handleArchiveGet(c *gin.Context) {
	if s.archive == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "archive not configured"})
		return
	}
	name := c.Query("name")
	if !artifacts.ValidName(name) {
		badRequest(c, "invalid artifact name")
		return
	}
	data, err := s.archive.Get(c.Request.Context(), name)
	if errors.Is(err, artifacts.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "artifact not found"})
		return
	}
	if err != nil {
		s.logger.Error("Failed to read artifact", "name", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read artifact"})
		return
	}
	c.Data(http.StatusOK, "text/csv; charset=utf-8", data)
}
