package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"tgarchive/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfig_DefaultsApply(t *testing.T) {
	cfg, err := config.LoadConfig(writeConfig(t, `
telegram:
  token: "123:abc"
`))
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	if cfg.Telegram.Token != "123:abc" {
		t.Errorf("token = %q, want value from file", cfg.Telegram.Token)
	}
	if cfg.Logger.Level != "info" {
		t.Errorf("logger level = %q, want default info", cfg.Logger.Level)
	}
	if cfg.Telegram.PageLimit != 100 {
		t.Errorf("page limit = %d, want default 100", cfg.Telegram.PageLimit)
	}
	if cfg.Ingest.DownloadConcurrency != 4 {
		t.Errorf("download concurrency = %d, want default 4", cfg.Ingest.DownloadConcurrency)
	}
	if cfg.Enrich.Timeout != 2*time.Minute {
		t.Errorf("enrich timeout = %v, want default 2m", cfg.Enrich.Timeout)
	}
	if task, ok := cfg.Scheduler.Tasks["ingest"]; !ok || !task.Enabled {
		t.Errorf("ingest task = %+v, want enabled by default", task)
	}
}

func TestLoadConfig_MissingFileUsesEnv(t *testing.T) {
	t.Setenv("ARCHIVER_TELEGRAM_TOKEN", "456:def")

	cfg, err := config.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Telegram.Token != "456:def" {
		t.Errorf("token = %q, want value from environment", cfg.Telegram.Token)
	}
}

func TestLoadConfig_ValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "missing token",
			content: "logger:\n  level: info\n",
		},
		{
			name: "invalid log level",
			content: `
telegram:
  token: "123:abc"
logger:
  level: loud
`,
		},
		{
			name: "page limit out of range",
			content: `
telegram:
  token: "123:abc"
  page_limit: 500
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := config.LoadConfig(writeConfig(t, tt.content)); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
