package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	Provider string `envconfig:"PROVIDER" default:"slskd"`

	SlskdBaseURL string        `envconfig:"SLSKD_BASE_URL"`
	SlskdAPIKey  string        `envconfig:"SLSKD_API_KEY"`
	SlskdTimeout time.Duration `envconfig:"SLSKD_TIMEOUT" default:"30s"`

	LibraryDir     string `envconfig:"LIBRARY_DIR" required:"true"`
	StagingDir     string `envconfig:"STAGING_DIR" required:"true"`
	NamingTemplate string `envconfig:"NAMING_TEMPLATE" default:"{artist}/{album}/{artist} - {title}"`

	MaxParallel     int           `envconfig:"MAX_PARALLEL" default:"3"`
	ClaimInterval   time.Duration `envconfig:"CLAIM_INTERVAL" default:"5s"`
	SearchTimeout   time.Duration `envconfig:"SEARCH_TIMEOUT" default:"45s"`
	PollInterval    time.Duration `envconfig:"POLL_INTERVAL" default:"3s"`
	TransferTimeout time.Duration `envconfig:"TRANSFER_TIMEOUT" default:"30m"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhook  string        `envconfig:"DISCORD_WEBHOOK_URL"`
	DBPath          string        `envconfig:"DB_PATH" default:"soundhoard.db"`

	Retry struct {
		MaxAttempts         int           `split_words:"true" default:"5"`
		BaseDelay           time.Duration `split_words:"true" default:"30s"`
		MaxDelay            time.Duration `split_words:"true" default:"6h"`
		NoResultsMultiplier int           `split_words:"true" default:"6"`
		MaxCandidateRetries int           `split_words:"true" default:"3"`
	}

	Quality struct {
		Profile         string  `split_words:"true" default:"good"`
		MaxFileSize     int64   `split_words:"true" default:"524288000"`
		MatchThreshold  float64 `split_words:"true" default:"0.5"`
		MinLossyBitrate int     `split_words:"true" default:"256"`
		DedupThreshold  float64 `split_words:"true" default:"0.85"`
	}

	Blocklist struct {
		EntryTTL      time.Duration `split_words:"true" default:"720h"`
		SweepInterval time.Duration `split_words:"true" default:"1h"`
	}

	Import struct {
		SettleDuration time.Duration `split_words:"true" default:"10s"`
		MaxSettleWaits int           `split_words:"true" default:"6"`
	}

	Telemetry struct {
		Enabled        bool   `split_words:"true" default:"true"`
		ServiceName    string `split_words:"true" default:"soundhoard"`
		ServiceVersion string `split_words:"true" default:"dev"`
	}

	API struct {
		Username string `split_words:"true"`
		Password string `split_words:"true"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:8484"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
