// Package config loads and validates pipeline configuration from the
// environment.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServicePort       = 8080
	defaultBatchSize         = 20
	defaultMaxConsecErrors   = 3
	defaultScrapeIntervalMin = 15
	defaultFetchTimeoutSec   = 15
	defaultSearchTimeoutSec  = 15
	defaultValidateTimeoutSc = 10
	defaultStaleJobMinutes   = 30
	defaultDBHost            = "localhost"
	defaultDBPort            = 5432
	defaultDBUser            = "postgres"
	defaultDBName            = "eventpipe"
	defaultDBSSLMode         = "disable"
	defaultRedisAddr         = "localhost:6379"
	defaultLogLevel          = "info"
	defaultLogEncoding       = "json"
	defaultEmbeddingModel    = "text-embedding-004"

	minTargetYear = 2020
	maxTargetYear = 2100
)

// Config holds all configuration for the pipeline.
type Config struct {
	Service  ServiceConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Logging  LoggingConfig
	Scraper  ScraperConfig
	AI       AIConfig
	Slack    SlackConfig
}

// ServiceConfig holds service-level configuration.
type ServiceConfig struct {
	Port      int
	WorkerURL string // self URL for chain triggers; empty disables them
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	URL     string // full DSN; wins over discrete fields when set
	Host    string
	Port    int
	User    string
	Pass    string
	Name    string
	SSLMode string
}

// RedisConfig holds redis configuration for coordination locks.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level       string
	Encoding    string
	Development bool
}

// ScraperConfig holds pipeline tuning.
type ScraperConfig struct {
	TargetEventYear      int
	BatchSize            int
	MaxConsecutiveErrors int
	ScrapeInterval       time.Duration
	FetchTimeout         time.Duration
	StaleJobAfter        time.Duration
	ProxyAPIKey          string
}

// AIConfig holds LLM and embedding provider configuration. Empty keys
// disable the corresponding capability.
type AIConfig struct {
	GeminiAPIKey    string
	OpenAIAPIKey    string
	SerperAPIKey    string
	EmbeddingModel  string
	SearchTimeout   time.Duration
	ValidateTimeout time.Duration
}

// SlackConfig holds notification configuration.
type SlackConfig struct {
	WebhookURL string
}

// Load reads configuration from the environment. A .env file is honored
// when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", defaultServicePort)
	v.SetDefault("POSTGRES_HOST", defaultDBHost)
	v.SetDefault("POSTGRES_PORT", defaultDBPort)
	v.SetDefault("POSTGRES_USER", defaultDBUser)
	v.SetDefault("POSTGRES_DB", defaultDBName)
	v.SetDefault("POSTGRES_SSLMODE", defaultDBSSLMode)
	v.SetDefault("REDIS_ADDR", defaultRedisAddr)
	v.SetDefault("LOG_LEVEL", defaultLogLevel)
	v.SetDefault("LOG_ENCODING", defaultLogEncoding)
	v.SetDefault("TARGET_EVENT_YEAR", time.Now().Year())
	v.SetDefault("BATCH_SIZE", defaultBatchSize)
	v.SetDefault("MAX_CONSECUTIVE_ERRORS", defaultMaxConsecErrors)
	v.SetDefault("SCRAPE_INTERVAL_MS", defaultScrapeIntervalMin*60*1000)
	v.SetDefault("FETCH_TIMEOUT_SEC", defaultFetchTimeoutSec)
	v.SetDefault("SEARCH_TIMEOUT_SEC", defaultSearchTimeoutSec)
	v.SetDefault("VALIDATE_TIMEOUT_SEC", defaultValidateTimeoutSc)
	v.SetDefault("STALE_JOB_MINUTES", defaultStaleJobMinutes)
	v.SetDefault("EMBEDDING_MODEL", defaultEmbeddingModel)

	cfg := &Config{
		Service: ServiceConfig{
			Port:      v.GetInt("PORT"),
			WorkerURL: v.GetString("WORKER_URL"),
		},
		Database: DatabaseConfig{
			URL:     v.GetString("DATABASE_URL"),
			Host:    v.GetString("POSTGRES_HOST"),
			Port:    v.GetInt("POSTGRES_PORT"),
			User:    v.GetString("POSTGRES_USER"),
			Pass:    v.GetString("POSTGRES_PASSWORD"),
			Name:    v.GetString("POSTGRES_DB"),
			SSLMode: v.GetString("POSTGRES_SSLMODE"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Logging: LoggingConfig{
			Level:       v.GetString("LOG_LEVEL"),
			Encoding:    v.GetString("LOG_ENCODING"),
			Development: v.GetBool("APP_DEBUG"),
		},
		Scraper: ScraperConfig{
			TargetEventYear:      v.GetInt("TARGET_EVENT_YEAR"),
			BatchSize:            v.GetInt("BATCH_SIZE"),
			MaxConsecutiveErrors: v.GetInt("MAX_CONSECUTIVE_ERRORS"),
			ScrapeInterval:       time.Duration(v.GetInt("SCRAPE_INTERVAL_MS")) * time.Millisecond,
			FetchTimeout:         time.Duration(v.GetInt("FETCH_TIMEOUT_SEC")) * time.Second,
			StaleJobAfter:        time.Duration(v.GetInt("STALE_JOB_MINUTES")) * time.Minute,
			ProxyAPIKey:          firstNonEmpty(v.GetString("SCRAPER_PROXY_API_KEY"), v.GetString("PROXY_PROVIDER_API_KEY"), v.GetString("SCRAPINGBEE_API_KEY")),
		},
		AI: AIConfig{
			GeminiAPIKey:    firstNonEmpty(v.GetString("GEMINI_API_KEY"), v.GetString("GOOGLE_AI_API_KEY")),
			OpenAIAPIKey:    v.GetString("OPENAI_API_KEY"),
			SerperAPIKey:    v.GetString("SERPER_API_KEY"),
			EmbeddingModel:  v.GetString("EMBEDDING_MODEL"),
			SearchTimeout:   time.Duration(v.GetInt("SEARCH_TIMEOUT_SEC")) * time.Second,
			ValidateTimeout: time.Duration(v.GetInt("VALIDATE_TIMEOUT_SEC")) * time.Second,
		},
		Slack: SlackConfig{
			WebhookURL: v.GetString("SLACK_WEBHOOK_URL"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Scraper.TargetEventYear < minTargetYear || c.Scraper.TargetEventYear > maxTargetYear {
		return fmt.Errorf("TARGET_EVENT_YEAR %d out of range [%d, %d]",
			c.Scraper.TargetEventYear, minTargetYear, maxTargetYear)
	}
	if c.Scraper.BatchSize <= 0 {
		return fmt.Errorf("BATCH_SIZE must be positive, got %d", c.Scraper.BatchSize)
	}
	if c.Service.Port <= 0 || c.Service.Port > 65535 {
		return fmt.Errorf("PORT out of range: %d", c.Service.Port)
	}
	return nil
}

// ProxyEnabled reports whether a proxy provider key is configured.
func (c *Config) ProxyEnabled() bool {
	return c.Scraper.ProxyAPIKey != ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
