package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	RedisAddress  string
	RedisPassword string
	RedisDB       int

	BaseURL    string
	FeedPath   string
	DetailPath string

	FetchMode      string
	FetchTimeout   time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	RateLimitMs    int
	MaxConcurrency int
	UserAgent      string
	ChromeBin      string

	AnthropicAPIKey string
	AIModel         string
	AIMaxTokens     int
	AITemperature   float64
	AITimeout       time.Duration
	AIHTMLBudget    int

	ScrapeFreshness     time.Duration
	StaleAfter          time.Duration
	FailedAttemptLimit  int
	FailedAttemptWindow time.Duration
	JobMaxAttempts      int
	JobDeadline         time.Duration

	LogLevel         string
	MetricsAddr      string
	NotifyWebhookURL string
	CSVOutputPath    string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "scraper"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "scraper123"),
		PostgresDB:       getEnv("POSTGRES_DB", "imoveis"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisAddress:  getEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		BaseURL:    getEnv("CAIXA_BASE_URL", "https://venda-imoveis.caixa.gov.br"),
		FeedPath:   getEnv("FEED_PATH", "/sistema/download-lista.asp"),
		DetailPath: getEnv("DETAIL_PATH", "/sistema/detalhe-imovel.asp?hdnOrigem=index&hdnimovel=%s"),

		FetchMode:      getEnv("FETCH_MODE", "http"),
		FetchTimeout:   getEnvDuration("FETCH_TIMEOUT", 30*time.Second),
		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		RetryBaseDelay: getEnvDuration("RETRY_BASE_DELAY", 2*time.Second),
		RateLimitMs:    getEnvInt("RATE_LIMIT_MS", 2000),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 1),
		UserAgent: getEnv("USER_AGENT",
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
		ChromeBin: getEnv("CHROME_BIN", ""),

		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		AIModel:         getEnv("AI_MODEL", "claude-3-5-haiku-latest"),
		AIMaxTokens:     getEnvInt("AI_MAX_TOKENS", 4000),
		AITemperature:   getEnvFloat("AI_TEMPERATURE", 0.1),
		AITimeout:       getEnvDuration("AI_TIMEOUT", 60*time.Second),
		AIHTMLBudget:    getEnvInt("AI_HTML_BUDGET", 8000),

		ScrapeFreshness:     getEnvDuration("SCRAPE_FRESHNESS", 12*time.Hour),
		StaleAfter:          getEnvDuration("STALE_AFTER", 24*time.Hour),
		FailedAttemptLimit:  getEnvInt("FAILED_ATTEMPT_LIMIT", 5),
		FailedAttemptWindow: getEnvDuration("FAILED_ATTEMPT_WINDOW", 6*time.Hour),
		JobMaxAttempts:      getEnvInt("JOB_MAX_ATTEMPTS", 3),
		JobDeadline:         getEnvDuration("JOB_DEADLINE", 24*time.Hour),

		LogLevel:         getEnv("LOG_LEVEL", "info"),
		MetricsAddr:      getEnv("METRICS_ADDR", ":9090"),
		NotifyWebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
		CSVOutputPath:    getEnv("CSV_OUTPUT_PATH", "./output/listings.csv"),
	}
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.FetchTimeout <= 0 {
		errs = append(errs, errors.New("FETCH_TIMEOUT must be positive"))
	}
	if c.AITimeout <= 0 {
		errs = append(errs, errors.New("AI_TIMEOUT must be positive"))
	}
	if c.MaxRetries <= 0 {
		errs = append(errs, errors.New("MAX_RETRIES must be positive"))
	}
	if c.MaxConcurrency <= 0 {
		errs = append(errs, errors.New("MAX_CONCURRENCY must be positive"))
	}
	if c.RateLimitMs < 0 {
		errs = append(errs, errors.New("RATE_LIMIT_MS must not be negative"))
	}
	if c.JobMaxAttempts <= 0 {
		errs = append(errs, errors.New("JOB_MAX_ATTEMPTS must be positive"))
	}
	if c.FailedAttemptLimit <= 0 {
		errs = append(errs, errors.New("FAILED_ATTEMPT_LIMIT must be positive"))
	}
	if c.FetchMode != "http" && c.FetchMode != "browser" {
		errs = append(errs, fmt.Errorf("FETCH_MODE must be http or browser, got %q", c.FetchMode))
	}
	return errors.Join(errs...)
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

// FeedURL returns the absolute catalog feed URL.
func (c *Config) FeedURL() string {
	return c.BaseURL + c.FeedPath
}

// DetailURL returns the absolute detail page URL for a listing code.
func (c *Config) DetailURL(code string) string {
	return c.BaseURL + fmt.Sprintf(c.DetailPath, code)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err == nil {
			return d
		}
	}
	return fallback
}
