package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("FETCH_TIMEOUT", "")
	t.Setenv("POSTGRES_DB", "")
	cfg := Load()

	if cfg.FetchTimeout != 30*time.Second {
		t.Errorf("FetchTimeout: got %v, want 30s", cfg.FetchTimeout)
	}
	if cfg.PostgresDB != "imoveis" {
		t.Errorf("PostgresDB: got %q, want imoveis", cfg.PostgresDB)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries: got %d, want 3", cfg.MaxRetries)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SCRAPE_FRESHNESS", "2h")
	t.Setenv("AI_TEMPERATURE", "0.5")
	t.Setenv("MAX_CONCURRENCY", "4")
	t.Setenv("FETCH_MODE", "browser")
	cfg := Load()

	if cfg.ScrapeFreshness != 2*time.Hour {
		t.Errorf("ScrapeFreshness: got %v, want 2h", cfg.ScrapeFreshness)
	}
	if cfg.AITemperature != 0.5 {
		t.Errorf("AITemperature: got %v, want 0.5", cfg.AITemperature)
	}
	if cfg.MaxConcurrency != 4 {
		t.Errorf("MaxConcurrency: got %d, want 4", cfg.MaxConcurrency)
	}
	if cfg.FetchMode != "browser" {
		t.Errorf("FetchMode: got %q, want browser", cfg.FetchMode)
	}
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("MAX_RETRIES", "lots")
	t.Setenv("AI_TIMEOUT", "soon")
	cfg := Load()

	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries: got %d, want fallback 3", cfg.MaxRetries)
	}
	if cfg.AITimeout != 60*time.Second {
		t.Errorf("AITimeout: got %v, want fallback 60s", cfg.AITimeout)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Load()
	cfg.FetchTimeout = 0
	cfg.FetchMode = "carrier-pigeon"
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error")
	}
}

func TestURLs(t *testing.T) {
	cfg := &Config{
		BaseURL:    "https://example.test",
		FeedPath:   "/feed.csv",
		DetailPath: "/detail?code=%s",
	}
	if got := cfg.FeedURL(); got != "https://example.test/feed.csv" {
		t.Errorf("FeedURL: got %q", got)
	}
	if got := cfg.DetailURL("X123"); got != "https://example.test/detail?code=X123" {
		t.Errorf("DetailURL: got %q", got)
	}
}
