// Package config loads service settings from config.yaml, .env and NEWSRADAR_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. NEWSRADAR_DATABASE_DSN.
const EnvPrefix = "NEWSRADAR"

// Config is the full service configuration.
type Config struct {
	Location *time.Location `mapstructure:"-"`

	Timezone string `mapstructure:"timezone"`

	Server struct {
		Port           string        `mapstructure:"port"`
		ReadTimeout    time.Duration `mapstructure:"read_timeout"`
		WriteTimeout   time.Duration `mapstructure:"write_timeout"`
		AllowedOrigins []string      `mapstructure:"allowed_origins"`
	} `mapstructure:"server"`

	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`

	Auth struct {
		JWTSecret      string `mapstructure:"jwt_secret"`
		SchedulerToken string `mapstructure:"scheduler_token"`
		ExecutorToken  string `mapstructure:"executor_token"`
		WebhookToken   string `mapstructure:"webhook_token"`
	} `mapstructure:"auth"`

	Secrets struct {
		Key string `mapstructure:"key"`
	} `mapstructure:"secrets"`

	Database struct {
		Driver       string `mapstructure:"driver"`
		DSN          string `mapstructure:"dsn"`
		MaxIdleConns int    `mapstructure:"max_idle_conns"`
		MaxOpenConns int    `mapstructure:"max_open_conns"`
	} `mapstructure:"database"`

	Redis struct {
		Addr     string        `mapstructure:"addr"`
		Password string        `mapstructure:"password"`
		DB       int           `mapstructure:"db"`
		TTL      time.Duration `mapstructure:"ttl"`
	} `mapstructure:"redis"`

	Schedule struct {
		Enabled   bool          `mapstructure:"enabled"`
		Interval  time.Duration `mapstructure:"interval"`
		Tolerance time.Duration `mapstructure:"tolerance"`
	} `mapstructure:"schedule"`

	Artifacts struct {
		Bucket    string        `mapstructure:"bucket"`
		LocalPath string        `mapstructure:"local_path"`
		Retention time.Duration `mapstructure:"retention"`
	} `mapstructure:"artifacts"`

	Scraper struct {
		Mode         string        `mapstructure:"mode"`
		Python       string        `mapstructure:"python"`
		Script       string        `mapstructure:"script"`
		OutputDir    string        `mapstructure:"output_dir"`
		Timeout      time.Duration `mapstructure:"timeout"`
		Retention    time.Duration `mapstructure:"retention"`
		MaxWorkers   int           `mapstructure:"max_workers"`
		PollInterval time.Duration `mapstructure:"poll_interval"`
		RemoteURL    string        `mapstructure:"remote_url"`
		RemoteToken  string        `mapstructure:"remote_token"`
	} `mapstructure:"scraper"`

	Email struct {
		Mock                 bool          `mapstructure:"mock"`
		SMTPTimeout          time.Duration `mapstructure:"smtp_timeout"`
		Fallback             string        `mapstructure:"fallback"`
		ResendAPIKey         string        `mapstructure:"resend_api_key"`
		ResendFrom           string        `mapstructure:"resend_from"`
		BrevoAPIKey          string        `mapstructure:"brevo_api_key"`
		BrevoFromAddress     string        `mapstructure:"brevo_from_address"`
		GmailCredentialsJSON string        `mapstructure:"gmail_credentials_json"`
	} `mapstructure:"email"`

	WhatsApp struct {
		Mock        bool          `mapstructure:"mock"`
		Instance    string        `mapstructure:"instance"`
		CountryCode string        `mapstructure:"country_code"`
		Timeout     time.Duration `mapstructure:"timeout"`
	} `mapstructure:"whatsapp"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("timezone", "America/Argentina/Buenos_Aires")

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 5*time.Minute)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173", "http://localhost:8080"})

	v.SetDefault("log.level", "info")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.scheduler_token", "")
	v.SetDefault("auth.executor_token", "")
	v.SetDefault("auth.webhook_token", "")

	v.SetDefault("secrets.key", "")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "newsradar.db")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 50)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 24*time.Hour)

	v.SetDefault("schedule.enabled", true)
	v.SetDefault("schedule.interval", time.Minute)
	v.SetDefault("schedule.tolerance", 10*time.Minute)

	v.SetDefault("artifacts.bucket", "")
	v.SetDefault("artifacts.local_path", "./data/artifacts")
	v.SetDefault("artifacts.retention", 30*24*time.Hour)

	v.SetDefault("scraper.mode", "local")
	v.SetDefault("scraper.python", "python3")
	v.SetDefault("scraper.script", "scripts/news_scraper.py")
	v.SetDefault("scraper.output_dir", "./data/runs")
	v.SetDefault("scraper.timeout", 10*time.Minute)
	v.SetDefault("scraper.retention", time.Hour)
	v.SetDefault("scraper.max_workers", 4)
	v.SetDefault("scraper.poll_interval", 2*time.Second)
	v.SetDefault("scraper.remote_url", "")
	v.SetDefault("scraper.remote_token", "")

	v.SetDefault("email.mock", false)
	v.SetDefault("email.smtp_timeout", 30*time.Second)
	v.SetDefault("email.fallback", "none")
	v.SetDefault("email.resend_api_key", "")
	v.SetDefault("email.resend_from", "")
	v.SetDefault("email.brevo_api_key", "")
	v.SetDefault("email.brevo_from_address", "")
	v.SetDefault("email.gmail_credentials_json", "")

	v.SetDefault("whatsapp.mock", false)
	v.SetDefault("whatsapp.instance", "SenadoN8N")
	v.SetDefault("whatsapp.country_code", "54")
	v.SetDefault("whatsapp.timeout", 30*time.Second)
}

// Load reads .env, then config.yaml from the first of paths that has one, then environment overrides.
// With no paths it looks in "." and "./config". A missing file is not an error.
func Load(paths ...string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints and resolves the timezone.
func (c *Config) Validate() error {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	c.Location = loc

	switch c.Database.Driver {
	case "postgres":
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required for postgres")
		}
	case "sqlite":
	default:
		return fmt.Errorf("database.driver %q: want postgres or sqlite", c.Database.Driver)
	}

	if strings.TrimSpace(c.Secrets.Key) == "" {
		return errors.New("secrets.key is required to seal stored credentials")
	}

	switch c.Scraper.Mode {
	case "local":
	case "remote":
		if c.Scraper.RemoteURL == "" {
			return errors.New("scraper.remote_url is required in remote mode")
		}
	default:
		return fmt.Errorf("scraper.mode %q: want local or remote", c.Scraper.Mode)
	}

	switch c.Email.Fallback {
	case "none", "", "mock", "gmail":
	case "resend":
		if c.Email.ResendAPIKey == "" {
			return errors.New("email.resend_api_key is required for the resend fallback")
		}
	case "brevo":
		if c.Email.BrevoAPIKey == "" || c.Email.BrevoFromAddress == "" {
			return errors.New("email.brevo_api_key and email.brevo_from_address are required for the brevo fallback")
		}
	default:
		return fmt.Errorf("email.fallback %q: want none, resend, brevo, gmail or mock", c.Email.Fallback)
	}

	if _, err := c.LogLevel(); err != nil {
		return err
	}
	return nil
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level %q: %w", c.Log.Level, err)
	}
	return level, nil
}
