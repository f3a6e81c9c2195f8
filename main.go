// Package main runs the News Radar service: a scraper-backed news digest
// delivered on schedule by email and WhatsApp.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/gin-gonic/gin"

	"newsradar/artifacts"
	"newsradar/config"
	"newsradar/dispatch"
	"newsradar/email"
	"newsradar/newscache"
	"newsradar/pkg/radar"
	"newsradar/scraper"
	"newsradar/server"
	"newsradar/storage"
	"newsradar/whatsapp"
)

const archivePruneInterval = 24 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	level, _ := cfg.LogLevel()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Service failed", "error", err)
		os.Exit(1)
	}
	logger.Info("Service stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	db, err := storage.Open(storage.Options{
		Driver:       cfg.Database.Driver,
		DSN:          cfg.Database.DSN,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		MaxOpenConns: cfg.Database.MaxOpenConns,
	})
	if err != nil {
		return err
	}
	sealer, err := storage.NewSealer(cfg.Secrets.Key)
	if err != nil {
		return err
	}
	store := storage.New(db, sealer, logger)
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("Failed to close database", "error", err)
		}
	}()
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	archive, closeArchive, err := initArchive(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeArchive()

	cache, closeCache, err := initCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	var exec scraper.Executor
	switch cfg.Scraper.Mode {
	case "remote":
		logger.Info("Using remote scraper executor", "url", cfg.Scraper.RemoteURL)
		exec = scraper.NewClient(nil, cfg.Scraper.RemoteURL, cfg.Scraper.RemoteToken, logger)
	default:
		if err := os.MkdirAll(cfg.Scraper.OutputDir, 0o755); err != nil {
			return fmt.Errorf("create scraper output directory: %w", err)
		}
		runner := scraper.NewRunner(scraper.RunnerConfig{
			Python:     cfg.Scraper.Python,
			Script:     cfg.Scraper.Script,
			OutputDir:  cfg.Scraper.OutputDir,
			Timeout:    cfg.Scraper.Timeout,
			Retention:  cfg.Scraper.Retention,
			MaxWorkers: cfg.Scraper.MaxWorkers,
		}, logger)
		defer runner.Close()
		exec = runner
	}
	news := scraper.NewAdapter(exec, store, archive, cache, store, cfg.Scraper.PollInterval, logger)

	fallback, err := initFallback(ctx, cfg, logger)
	if err != nil {
		return err
	}
	var dialer email.Dialer = email.NewSMTPDialer(cfg.Email.SMTPTimeout, logger)
	if cfg.Email.Mock {
		logger.Info("Mock email mode enabled")
		dialer = email.MockDialer{Provider: email.NewMockProvider(logger)}
	}
	emailSender := email.New(store, dialer, fallback, cfg.Location, logger)

	var gateway whatsapp.Gateway = whatsapp.NewClient(cfg.WhatsApp.Instance, cfg.WhatsApp.Timeout, logger)
	if cfg.WhatsApp.Mock {
		logger.Info("Mock WhatsApp mode enabled")
		gateway = whatsapp.NewMockGateway(logger)
	}
	waSender := whatsapp.NewSender(store, store, gateway, cfg.WhatsApp.CountryCode, cfg.Location, logger)
	inbox := whatsapp.NewInbox(waSender, store, news, store, logger)

	dispatcher := dispatch.New(store, news, map[radar.Channel]dispatch.Sender{
		radar.ChannelEmail:    emailSender,
		radar.ChannelWhatsApp: waSender,
	}, dispatch.NewSchedule(cfg.Location, cfg.Schedule.Tolerance), logger)

	scheduler := dispatch.NewScheduler(dispatcher, []radar.Channel{radar.ChannelEmail, radar.ChannelWhatsApp}, cfg.Schedule.Interval, logger)
	if cfg.Schedule.Enabled {
		go scheduler.Start(ctx)
	} else {
		logger.Info("In-process scheduler disabled, relying on /pollz")
	}

	if cfg.Artifacts.Retention > 0 {
		go pruneArchive(ctx, archive, cfg.Artifacts.Retention, logger)
	}

	if cfg.Auth.JWTSecret == "" {
		logger.Warn("No JWT secret configured, /api endpoints will reject every request")
	}

	srv := server.New(&server.Config{
		Store:      store,
		Dispatcher: dispatcher,
		Poller:     scheduler,
		News:       news,
		Executor:   exec,
		Archive:    archive,
		Inbox:      inbox,
		Testers: map[radar.Channel]server.Tester{
			radar.ChannelEmail:    emailSender,
			radar.ChannelWhatsApp: waSender,
		},
		Logger:         logger,
		Location:       cfg.Location,
		JWTSecret:      cfg.Auth.JWTSecret,
		SchedulerToken: cfg.Auth.SchedulerToken,
		ExecutorToken:  cfg.Auth.ExecutorToken,
		WebhookToken:   cfg.Auth.WebhookToken,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})
	return srv.Serve(ctx, cfg.Server.Port, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout)
}

// initArchive uses Cloud Storage when a bucket is configured, otherwise a local directory.
func initArchive(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*artifacts.Store, func(), error) {
	if cfg.Artifacts.Bucket == "" {
		if cfg.Artifacts.LocalPath == "" {
			return nil, nil, errors.New("artifacts.bucket or artifacts.local_path is required")
		}
		logger.Info("Archiving scraper output locally", "path", cfg.Artifacts.LocalPath)
		if err := os.MkdirAll(cfg.Artifacts.LocalPath, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create artifact directory: %w", err)
		}
		return artifacts.New(nil, "", cfg.Artifacts.LocalPath, logger), func() {}, nil
	}

	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize storage client: %w", err)
	}
	logger.Info("Archiving scraper output to Cloud Storage", "bucket", cfg.Artifacts.Bucket)
	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Warn("Failed to close storage client", "error", err)
		}
	}
	return artifacts.New(client, cfg.Artifacts.Bucket, "", logger), closeFn, nil
}

// initCache uses Redis when an address is configured, otherwise process memory.
func initCache(ctx context.Context, cfg *config.Config, logger *slog.Logger) (scraper.Cache, func(), error) {
	if cfg.Redis.Addr == "" {
		logger.Info("Caching news in memory")
		return newscache.NewMemory(cfg.Redis.TTL), func() {}, nil
	}
	client, err := newscache.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Caching news in Redis", "addr", cfg.Redis.Addr)
	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Warn("Failed to close Redis client", "error", err)
		}
	}
	return newscache.NewRedis(client, cfg.Redis.TTL, logger), closeFn, nil
}

func initFallback(ctx context.Context, cfg *config.Config, logger *slog.Logger) (email.Provider, error) {
	switch cfg.Email.Fallback {
	case "resend":
		return email.NewResendProvider(cfg.Email.ResendAPIKey, cfg.Email.ResendFrom, logger), nil
	case "brevo":
		return email.NewBrevoProvider(cfg.Email.BrevoAPIKey, cfg.Email.BrevoFromAddress, "", logger), nil
	case "gmail":
		creds := []byte(cfg.Email.GmailCredentialsJSON)
		if len(creds) == 0 && !isCloudRun(ctx) {
			return nil, errors.New("email.gmail_credentials_json required when not running in Cloud Run")
		}
		return email.NewGmailProvider(ctx, creds, logger)
	case "mock":
		return email.NewMockProvider(logger), nil
	default:
		return nil, nil
	}
}

func pruneArchive(ctx context.Context, archive *artifacts.Store, retention time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(archivePruneInterval)
	defer ticker.Stop()
	for {
		n, err := archive.Prune(ctx, "runs/", time.Now().Add(-retention))
		if err != nil {
			logger.Warn("Archive prune failed", "error", err)
		} else if n > 0 {
			logger.Info("Pruned archived scraper output", "removed", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// isCloudRun checks if we're running in a GCP environment by querying the metadata server.
func isCloudRun(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://metadata.google.internal/computeMetadata/v1/project/project-id", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Metadata-Flavor", "Google")

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	return resp.StatusCode == http.StatusOK
}
