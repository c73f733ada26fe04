package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// ErrMissingDatabaseURL is returned when no database DSN can be found in
// the environment, env files, or config file.
var ErrMissingDatabaseURL = errors.New("DATABASE_URL is required")

// Config holds the full application configuration.
type Config struct {
	DatabaseURL   string `envconfig:"DATABASE_URL"`
	RedisURL      string `envconfig:"REDIS_URL"`
	CacheDir      string `envconfig:"CACHE_DIR" default:"/app/cache"`
	ServerPort    string `envconfig:"PORT" default:"8080"`
	APIKey        string `envconfig:"API_KEY"`
	PublicBaseURL string `envconfig:"PUBLIC_BASE_URL"`

	// SyncInterval drives the periodic sync scheduler; 0 disables it and
	// syncs only run via the API trigger.
	SyncInterval     time.Duration `envconfig:"SYNC_INTERVAL" default:"12h"`
	FetchConcurrency int           `envconfig:"FETCH_CONCURRENCY" default:"16"`
	UserAgent        string        `envconfig:"FETCHER_USER_AGENT" default:"ChannelVault/1.0"`
	FetchTimeout     time.Duration `envconfig:"FETCHER_TIMEOUT" default:"90s"`

	AppEnv string `envconfig:"APP_ENV" default:"prod"`
}

// Load builds config from environment variables. If DATABASE_URL is not
// set, Load tries to load .env.local and .env from the current directory
// first. DATABASE_URL is required; everything else has defaults.
func Load() (*Config, error) {
	if os.Getenv("DATABASE_URL") == "" {
		loadEnvFiles()
	}
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	if c.DatabaseURL == "" {
		return nil, ErrMissingDatabaseURL
	}
	return &c, nil
}
