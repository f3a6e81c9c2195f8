// Package server handles HTTP endpoints and request routing.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"newsradar/artifacts"
	"newsradar/dispatch"
	"newsradar/pkg/radar"
	"newsradar/scraper"
	"newsradar/storage"
	"newsradar/whatsapp"
)

// Store interface for subscriptions, audit logs and per-user configuration.
type Store interface {
	Ping(ctx context.Context) error

	CreateSubscription(ctx context.Context, sub *radar.Subscription) error
	ListSubscriptions(ctx context.Context, userID string, channel radar.Channel) ([]*radar.Subscription, error)
	UpdateSubscription(ctx context.Context, userID, id string, patch storage.SubscriptionPatch) (*radar.Subscription, error)
	DeleteSubscription(ctx context.Context, userID, id string) error
	ListAuditLogs(ctx context.Context, userID string, channel radar.Channel, limit int) ([]radar.AuditLogEntry, error)

	EmailConfig(ctx context.Context, userID string) (*radar.EmailConfig, error)
	SaveEmailConfig(ctx context.Context, userID string, cfg *radar.EmailConfig) error
	WhatsAppConfig(ctx context.Context, userID string) (*radar.WhatsAppConfig, error)
	SaveWhatsAppConfig(ctx context.Context, userID string, cfg *radar.WhatsAppConfig) error
	Keywords(ctx context.Context, userID string) ([]string, error)
	ReplaceKeywords(ctx context.Context, userID string, keywords []string) ([]string, error)
	TwitterUsers(ctx context.Context, userID string) ([]string, error)
	ReplaceTwitterUsers(ctx context.Context, userID string, usernames []string) ([]string, error)
	Sources(ctx context.Context, userID string) ([]radar.Source, error)
	ReplaceSources(ctx context.Context, userID string, sources []radar.Source) ([]radar.Source, error)
	SearchSettings(ctx context.Context, userID string) (*radar.SearchSettings, error)
	SaveSearchSettings(ctx context.Context, userID string, set *radar.SearchSettings) error

	ListWhatsAppMessages(ctx context.Context, userID, phone string, limit int) ([]radar.WhatsAppMessage, error)
	ListRunLogs(ctx context.Context, userID string, limit int) ([]radar.RunLog, error)
}

// Poller interface for triggering scheduled checks.
type Poller interface {
	Tick(ctx context.Context, now time.Time) []*dispatch.Result
}

// Tester sends a fixed test message using the caller's channel configuration.
type Tester interface {
	SendTest(ctx context.Context, userID, contact string) radar.SendResult
}

// Archive interface for browsing stored scraper output.
type Archive interface {
	List(ctx context.Context, prefix string) ([]artifacts.Object, error)
	Get(ctx context.Context, name string) ([]byte, error)
}

// Inbox answers messages delivered by the WhatsApp gateway webhook.
type Inbox interface {
	Handle(ctx context.Context, in whatsapp.Inbound) (*whatsapp.InboxResult, error)
}

// Server handles HTTP requests.
type Server struct {
	store          Store
	dispatcher     dispatch.Runner
	poller         Poller
	news           dispatch.NewsSource
	executor       scraper.Executor
	archive        Archive
	inbox          Inbox
	testers        map[radar.Channel]Tester
	logger         *slog.Logger
	location       *time.Location
	testLimiter    *rateLimiter
	refreshLimiter *rateLimiter
	jwtSecret      []byte
	schedulerToken string
	executorToken  string
	webhookToken   string
	allowedOrigins []string
}

// Config holds server configuration.
type Config struct {
	Store          Store
	Dispatcher     dispatch.Runner
	Poller         Poller
	News           dispatch.NewsSource
	Executor       scraper.Executor
	Archive        Archive // Optional
	Inbox          Inbox
	Testers        map[radar.Channel]Tester
	Logger         *slog.Logger
	Location       *time.Location
	JWTSecret      string // HS256 secret shared with the hosted auth provider
	SchedulerToken string // Bearer token for /pollz; empty disables the endpoint
	ExecutorToken  string // Bearer token for /scraper/*; empty disables the endpoints
	WebhookToken   string // Bearer or ?token= for /webhook/whatsapp; empty disables it
	AllowedOrigins []string
}

const (
	testSendsPerHour = 10
	refreshesPerHour = 12
)

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Server{
		store:          cfg.Store,
		dispatcher:     cfg.Dispatcher,
		poller:         cfg.Poller,
		news:           cfg.News,
		executor:       cfg.Executor,
		archive:        cfg.Archive,
		inbox:          cfg.Inbox,
		testers:        cfg.Testers,
		logger:         cfg.Logger,
		location:       loc,
		testLimiter:    newRateLimiter(testSendsPerHour, time.Hour),
		refreshLimiter: newRateLimiter(refreshesPerHour, time.Hour),
		jwtSecret:      []byte(cfg.JWTSecret),
		schedulerToken: cfg.SchedulerToken,
		executorToken:  cfg.ExecutorToken,
		webhookToken:   cfg.WebhookToken,
		allowedOrigins: cfg.AllowedOrigins,
	}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	origins := s.allowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	allowCreds := !(len(origins) == 1 && origins[0] == "*")
	r.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: allowCreds,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/health", s.handleHealth)
	r.POST("/pollz", s.requireToken(s.schedulerToken, bearerToken), s.handlePoll)
	r.POST("/webhook/whatsapp", s.requireToken(s.webhookToken, webhookToken), s.handleWhatsAppWebhook)

	exec := r.Group("/scraper", s.requireToken(s.executorToken, bearerToken))
	{
		exec.POST("/execute", s.handleExecute)
		exec.GET("/status/:id", s.handleRunStatus)
		exec.GET("/csv/:id", s.handleRunCSV)
		exec.GET("/archive", s.handleArchiveList)
		exec.GET("/artifact", s.handleArchiveGet)
	}

	api := r.Group("/api", s.requireUser())
	{
		api.GET("/subscriptions", s.handleListSubscriptions)
		api.POST("/subscriptions", s.handleCreateSubscription)
		api.PATCH("/subscriptions/:id", s.handleUpdateSubscription)
		api.DELETE("/subscriptions/:id", s.handleDeleteSubscription)

		api.GET("/logs", s.handleLogs)
		api.GET("/radar/logs", s.handleRunLogs)
		api.GET("/whatsapp/messages", s.handleWhatsAppMessages)
		api.POST("/dispatch/:channel", s.handleDispatch)
		api.POST("/test/:channel", s.handleTestSend)

		api.GET("/news", s.handleNews)
		api.POST("/news/refresh", s.handleNewsRefresh)
		api.GET("/news/export", s.handleNewsExport)

		cfg := api.Group("/config")
		{
			cfg.GET("/email", s.handleGetEmailConfig)
			cfg.PUT("/email", s.handlePutEmailConfig)
			cfg.GET("/whatsapp", s.handleGetWhatsAppConfig)
			cfg.PUT("/whatsapp", s.handlePutWhatsAppConfig)
			cfg.GET("/search", s.handleGetSearchSettings)
			cfg.PUT("/search", s.handlePutSearchSettings)
			cfg.GET("/keywords", s.handleGetKeywords)
			cfg.PUT("/keywords", s.handlePutKeywords)
			cfg.GET("/twitter", s.handleGetTwitterUsers)
			cfg.PUT("/twitter", s.handlePutTwitterUsers)
			cfg.GET("/sources", s.handleGetSources)
			cfg.PUT("/sources", s.handlePutSources)
		}
	}

	return r
}

// Serve runs the HTTP server until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, port string, readTimeout, writeTimeout time.Duration) error {
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Router(),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout, // Covers synchronous scraper refreshes
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", "port", port)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		s.logger.Log(c.Request.Context(), level, "HTTP request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", c.ClientIP())
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.store.Ping(c.Request.Context()); err != nil {
		s.logger.Warn("Health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *Server) handlePoll(c *gin.Context) {
	s.logger.Info("Poll endpoint triggered")
	results := s.poller.Tick(c.Request.Context(), time.Now())
	c.JSON(http.StatusOK, gin.H{"status": "completed", "results": results})
}

// fail maps storage errors to status codes. Anything unexpected is logged and hidden behind msg.
func (s *Server) fail(c *gin.Context, err error, msg string) {
	var ve *storage.ValidationError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Error()})
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, storage.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		s.logger.Error(msg, "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
