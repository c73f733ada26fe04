package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type fileConfig struct {
	DatabaseURL      string `yaml:"database_url"`
	RedisURL         string `yaml:"redis_url"`
	CacheDir         string `yaml:"cache_dir"`
	ServerPort       string `yaml:"server_port"`
	APIKey           string `yaml:"api_key"`
	PublicBaseURL    string `yaml:"public_base_url"`
	SyncInterval     string `yaml:"sync_interval"`
	FetchConcurrency int    `yaml:"fetch_concurrency"`
	UserAgent        string `yaml:"user_agent"`
	FetchTimeout     string `yaml:"fetch_timeout"`
}

// LoadFromFile loads config from a YAML file. database_url is required.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if f.DatabaseURL == "" {
		return nil, ErrMissingDatabaseURL
	}
	c := &Config{
		DatabaseURL:      f.DatabaseURL,
		RedisURL:         f.RedisURL,
		CacheDir:         f.CacheDir,
		ServerPort:       f.ServerPort,
		APIKey:           f.APIKey,
		PublicBaseURL:    f.PublicBaseURL,
		SyncInterval:     12 * time.Hour,
		FetchConcurrency: f.FetchConcurrency,
		UserAgent:        f.UserAgent,
		FetchTimeout:     90 * time.Second,
		AppEnv:           "prod",
	}
	if c.CacheDir == "" {
		c.CacheDir = "/app/cache"
	}
	if c.ServerPort == "" {
		c.ServerPort = "8080"
	}
	if c.UserAgent == "" {
		c.UserAgent = "ChannelVault/1.0"
	}
	if c.FetchConcurrency <= 0 {
		c.FetchConcurrency = 16
	}
	if f.SyncInterval != "" {
		if d, err := time.ParseDuration(f.SyncInterval); err == nil {
			c.SyncInterval = d
		}
	}
	if f.FetchTimeout != "" {
		if d, err := time.ParseDuration(f.FetchTimeout); err == nil {
			c.FetchTimeout = d
		}
	}
	return c, nil
}
