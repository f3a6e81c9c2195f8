package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"newsradar/pkg/radar"
	"newsradar/storage"
)

// emailConfigView never carries the password back to the browser.
type emailConfigView struct {
	Host        string `json:"smtp_host"`
	Username    string `json:"smtp_username"`
	FromName    string `json:"from_name"`
	Port        int    `json:"smtp_port"`
	UseTLS      bool   `json:"use_tls"`
	HasPassword bool   `json:"has_password"`
	Configured  bool   `json:"configured"`
}

type whatsAppConfigView struct {
	BaseURL    string `json:"evolution_api_url"`
	HasAPIKey  bool   `json:"has_api_key"`
	Configured bool   `json:"configured"`
}

func (s *Server) handleGetEmailConfig(c *gin.Context) {
	cfg, err := s.store.EmailConfig(c.Request.Context(), userID(c))
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusOK, emailConfigView{Port: 587, UseTLS: true})
		return
	}
	if err != nil {
		s.fail(c, err, "Failed to load email configuration")
		return
	}
	c.JSON(http.StatusOK, emailConfigView{
		Host:        cfg.Host,
		Username:    cfg.Username,
		FromName:    cfg.FromName,
		Port:        cfg.Port,
		UseTLS:      cfg.UseTLS,
		HasPassword: cfg.Password != "",
		Configured:  true,
	})
}

func (s *Server) handlePutEmailConfig(c *gin.Context) {
	var req radar.EmailConfig
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	if err := s.store.SaveEmailConfig(c.Request.Context(), userID(c), &req); err != nil {
		s.fail(c, err, "Failed to save email configuration")
		return
	}
	s.handleGetEmailConfig(c)
}

func (s *Server) handleGetWhatsAppConfig(c *gin.Context) {
	cfg, err := s.store.WhatsAppConfig(c.Request.Context(), userID(c))
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusOK, whatsAppConfigView{})
		return
	}
	if err != nil {
		s.fail(c, err, "Failed to load WhatsApp configuration")
		return
	}
	c.JSON(http.StatusOK, whatsAppConfigView{
		BaseURL:    cfg.BaseURL,
		HasAPIKey:  cfg.APIKey != "",
		Configured: true,
	})
}

func (s *Server) handlePutWhatsAppConfig(c *gin.Context) {
	var req radar.WhatsAppConfig
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	if err := s.store.SaveWhatsAppConfig(c.Request.Context(), userID(c), &req); err != nil {
		s.fail(c, err, "Failed to save WhatsApp configuration")
		return
	}
	s.handleGetWhatsAppConfig(c)
}

func (s *Server) handleGetSearchSettings(c *gin.Context) {
	set, err := s.store.SearchSettings(c.Request.Context(), userID(c))
	if err != nil {
		s.fail(c, err, "Failed to load search settings")
		return
	}
	c.JSON(http.StatusOK, set)
}

func (s *Server) handlePutSearchSettings(c *gin.Context) {
	var req radar.SearchSettings
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	if err := s.store.SaveSearchSettings(c.Request.Context(), userID(c), &req); err != nil {
		s.fail(c, err, "Failed to save search settings")
		return
	}
	c.JSON(http.StatusOK, req)
}

type keywordsBody struct {
	Keywords []string `json:"keywords"`
}

func (s *Server) handleGetKeywords(c *gin.Context) {
	kw, err := s.store.Keywords(c.Request.Context(), userID(c))
	if err != nil {
		s.fail(c, err, "Failed to load keywords")
		return
	}
	c.JSON(http.StatusOK, keywordsBody{Keywords: kw})
}

func (s *Server) handlePutKeywords(c *gin.Context) {
	var req keywordsBody
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	kept, err := s.store.ReplaceKeywords(c.Request.Context(), userID(c), req.Keywords)
	if err != nil {
		s.fail(c, err, "Failed to save keywords")
		return
	}
	c.JSON(http.StatusOK, keywordsBody{Keywords: kept})
}

type twitterBody struct {
	Usernames []string `json:"twitter_users"`
}

func (s *Server) handleGetTwitterUsers(c *gin.Context) {
	users, err := s.store.TwitterUsers(c.Request.Context(), userID(c))
	if err != nil {
		s.fail(c, err, "Failed to load Twitter users")
		return
	}
	c.JSON(http.StatusOK, twitterBody{Usernames: users})
}

func (s *Server) handlePutTwitterUsers(c *gin.Context) {
	var req twitterBody
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	kept, err := s.store.ReplaceTwitterUsers(c.Request.Context(), userID(c), req.Usernames)
	if err != nil {
		s.fail(c, err, "Failed to save Twitter users")
		return
	}
	c.JSON(http.StatusOK, twitterBody{Usernames: kept})
}

type sourcesBody struct {
	Sources []radar.Source `json:"sources"`
}

func (s *Server) handleGetSources(c *gin.Context) {
	src, err := s.store.Sources(c.Request.Context(), userID(c))
	if err != nil {
		s.fail(c, err, "Failed to load sources")
		return
	}
	c.JSON(http.StatusOK, sourcesBody{Sources: src})
}

func (s *Server) handlePutSources(c *gin.Context) {
	var req sourcesBody
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	saved, err := s.store.ReplaceSources(c.Request.Context(), userID(c), req.Sources)
	if err != nil {
		s.fail(c, err, "Failed to save sources")
		return
	}
	c.JSON(http.StatusOK, sourcesBody{Sources: saved})
}
