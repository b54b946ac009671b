package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
	BackendSheets   = "sheets"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	StoreBackend string `env:"STORE_BACKEND" default:"postgres"`
	DatabaseURL  string `env:"DATABASE_URL"`
	RedisURL     string `env:"REDIS_URL"`
	SQLitePath   string `env:"SQLITE_PATH" default:"ratings.db"`

	SheetsBaseURL           string  `env:"SHEETS_BASE_URL" default:"https://sheets.googleapis.com"`
	SheetsSpreadsheetID     string  `env:"SHEETS_SPREADSHEET_ID"`
	SheetsWorksheet         string  `env:"SHEETS_WORKSHEET" default:"Sheet1"`
	SheetsToken             string  `env:"SHEETS_TOKEN"`
	SheetsRequestsPerSecond float64 `env:"SHEETS_REQUESTS_PER_SECOND" default:"1"`

	StorePageSize         int           `env:"STORE_PAGE_SIZE" default:"1000"`
	StoreRetryAttempts    int           `env:"STORE_RETRY_ATTEMPTS" default:"3"`
	StoreRetryBackoff     time.Duration `env:"STORE_RETRY_BACKOFF" default:"1s"`
	StoreRateLimitBackoff time.Duration `env:"STORE_RATE_LIMIT_BACKOFF" default:"5s"`

	SelectionMaxAge      time.Duration `env:"SELECTION_MAX_AGE" default:"0s"`
	TrackLocalExclusions bool          `env:"TRACK_LOCAL_EXCLUSIONS" default:"true"`
	CommitMode           string        `env:"COMMIT_MODE" default:"row"`
	ImagesDir            string        `env:"IMAGES_DIR" default:"images"`

	SessionSecret      string        `env:"SESSION_SECRET"`
	SessionIdleTimeout time.Duration `env:"SESSION_IDLE_TIMEOUT" default:"2h"`

	SubmitRatePerSecond float64 `env:"SUBMIT_RATE_PER_SECOND" default:"2"`
	SubmitBurst         int     `env:"SUBMIT_BURST" default:"5"`
}

// IsProduction reports whether cookies should be marked secure.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func Load() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	if err := validateSession(cfg); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadStore loads the configuration for tools that only talk to the ratings
// store. SESSION_SECRET is not required.
func LoadStore() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	return &cfg, nil
}

func validateSession(cfg *Config) error {
	if cfg.SessionSecret == "" {
		return errors.New("SESSION_SECRET is required")
	}
	if len(cfg.SessionSecret) < 32 {
		return errors.New("SESSION_SECRET must be at least 32 characters")
	}
	return nil
}

func validate(cfg *Config) error {

	required := map[string]string{}
	switch cfg.StoreBackend {
	case BackendPostgres:
		required["DATABASE_URL"] = cfg.DatabaseURL
	case BackendRedis:
		required["REDIS_URL"] = cfg.RedisURL
	case BackendSQLite:
		required["SQLITE_PATH"] = cfg.SQLitePath
	case BackendSheets:
		required["SHEETS_SPREADSHEET_ID"] = cfg.SheetsSpreadsheetID
		required["SHEETS_WORKSHEET"] = cfg.SheetsWorksheet
		required["SHEETS_TOKEN"] = cfg.SheetsToken
	default:
		return fmt.Errorf("STORE_BACKEND must be one of postgres, redis, sqlite, sheets, got %q", cfg.StoreBackend)
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("%s is required for STORE_BACKEND=%s", name, cfg.StoreBackend)
		}
	}

	if cfg.StoreBackend == BackendPostgres && cfg.IsProduction() {
		if err := checkSSLMode(cfg.DatabaseURL); err != nil {
			return err
		}
	}

	if cfg.CommitMode != "row" && cfg.CommitMode != "table" {
		return fmt.Errorf("COMMIT_MODE must be row or table, got %q", cfg.CommitMode)
	}
	if cfg.StorePageSize < 1 {
		return errors.New("STORE_PAGE_SIZE must be positive")
	}
	if cfg.StoreRetryAttempts < 1 {
		return errors.New("STORE_RETRY_ATTEMPTS must be at least 1")
	}
	if cfg.SelectionMaxAge < 0 {
		return errors.New("SELECTION_MAX_AGE must not be negative")
	}
	if cfg.SheetsRequestsPerSecond <= 0 {
		return errors.New("SHEETS_REQUESTS_PER_SECOND must be positive")
	}
	if cfg.SubmitRatePerSecond <= 0 || cfg.SubmitBurst < 1 {
		return errors.New("SUBMIT_RATE_PER_SECOND and SUBMIT_BURST must be positive")
	}

	return nil
}

func checkSSLMode(databaseURL string) error {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return fmt.Errorf("DATABASE_URL is not a valid URL: %w", err)
	}
	mode := strings.ToLower(u.Query().Get("sslmode"))
	if mode == "disable" || mode == "allow" {
		return fmt.Errorf("DATABASE_URL uses sslmode=%s which is not allowed in production", mode)
	}
	return nil
}
