// Package config provides configuration loading and validation for the
// archiver. Values come from defaults, an optional config.yaml, and
// ARCHIVER_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config defines configuration for all components of the archiver.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Enrich    EnrichConfig    `mapstructure:"enrich"`
	API       APIConfig       `mapstructure:"api"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// LoggerConfig controls log output.
type LoggerConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// TelegramConfig holds Bot API settings for the update stream.
type TelegramConfig struct {
	Token       string        `mapstructure:"token"        validate:"required"`
	PageLimit   int           `mapstructure:"page_limit"   validate:"min=1,max=100"`
	PollTimeout time.Duration `mapstructure:"poll_timeout" validate:"min=0,max=1m"`
}

// StorageConfig holds content-store settings for attachment blobs.
type StorageConfig struct {
	Root    string `mapstructure:"root"     validate:"required"`
	BaseURL string `mapstructure:"base_url" validate:"required,url"`
}

// GeminiConfig holds settings for the AI enrichment service.
type GeminiConfig struct {
	APIKey            string        `mapstructure:"api_key"`
	Model             string        `mapstructure:"model"               validate:"required"`
	Temperature       float32       `mapstructure:"temperature"         validate:"min=0,max=2"`
	MaxRetries        int           `mapstructure:"max_retries"         validate:"min=0,max=10"`
	RetryDelaySeconds int           `mapstructure:"retry_delay_seconds" validate:"min=0,max=300"`
	Timeout           time.Duration `mapstructure:"timeout"             validate:"min=1s,max=10m"`
}

// IngestConfig tunes the ingestion run.
type IngestConfig struct {
	DownloadConcurrency int           `mapstructure:"download_concurrency" validate:"min=1,max=32"`
	DownloadTimeout     time.Duration `mapstructure:"download_timeout"     validate:"min=1s,max=10m"`
	MaxBlobSize         int64         `mapstructure:"max_blob_size"        validate:"min=1"`
}

// EnrichConfig tunes the enrichment worker pool.
type EnrichConfig struct {
	Workers       int           `mapstructure:"workers"        validate:"min=1,max=32"`
	Timeout       time.Duration `mapstructure:"timeout"        validate:"min=1s,max=10m"`
	BackfillLimit int           `mapstructure:"backfill_limit" validate:"min=1,max=1000"`
}

// APIConfig holds HTTP server settings for the query API.
type APIConfig struct {
	Addr string `mapstructure:"addr" validate:"required"`
}

// SchedulerConfig holds scheduled task definitions keyed by task name.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks"`
}

// TaskConfig enables a named task with a cron schedule.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// LoadConfig loads and validates configuration from the given YAML file
// path. The file is optional; defaults and environment variables alone
// can produce a valid configuration.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("ARCHIVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
		}
		// Missing config file is fine, defaults plus env vars apply.
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.json", false)

	v.SetDefault("database.path", "archive.db")

	// Secrets default to empty so viper picks them up from the
	// environment even without a config file entry.
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.page_limit", 100)
	v.SetDefault("telegram.poll_timeout", 10*time.Second)

	v.SetDefault("storage.root", "blobs")
	v.SetDefault("storage.base_url", "http://localhost:8080")

	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("gemini.temperature", 0.2)
	v.SetDefault("gemini.max_retries", 2)
	v.SetDefault("gemini.retry_delay_seconds", 5)
	v.SetDefault("gemini.timeout", 2*time.Minute)

	v.SetDefault("ingest.download_concurrency", 4)
	v.SetDefault("ingest.download_timeout", 60*time.Second)
	v.SetDefault("ingest.max_blob_size", int64(50*1024*1024))

	v.SetDefault("enrich.workers", 2)
	v.SetDefault("enrich.timeout", 2*time.Minute)
	v.SetDefault("enrich.backfill_limit", 50)

	v.SetDefault("api.addr", ":8080")

	v.SetDefault("scheduler.tasks", map[string]TaskConfig{
		"ingest":              {Enabled: true, Schedule: "*/1 * * * *"},
		"enrichment_backfill": {Enabled: true, Schedule: "*/5 * * * *"},
		"attachment_recovery": {Enabled: true, Schedule: "*/10 * * * *"},
		"sql_maintenance":     {Enabled: false, Schedule: "0 4 * * *"},
	})
}
