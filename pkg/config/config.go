// Package config loads server and CLI settings from defaults, an optional
// config.yaml and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/mikeboe/deep-research/pkg/cache"
	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/policy"
	"github.com/mikeboe/deep-research/pkg/provider"
	"github.com/mikeboe/deep-research/pkg/research"
)

type Config struct {
	Server    ServerConfig                         `mapstructure:"server"`
	Database  DatabaseConfig                       `mapstructure:"database"`
	Redis     RedisConfig                          `mapstructure:"redis"`
	Cache     CacheConfig                          `mapstructure:"cache"`
	Research  ResearchConfig                       `mapstructure:"research"`
	Providers map[string]provider.ProviderSettings `mapstructure:"providers"`
	LogLevel  string                               `mapstructure:"log_level"`
}

type ServerConfig struct {
	Port         string   `mapstructure:"port"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

type DatabaseConfig struct {
	URL                  string `mapstructure:"url"`
	database.PoolOptions `mapstructure:",squash"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// CacheConfig selects the store behind the result cache. Backend is one of
// memory, redis or postgres.
type CacheConfig struct {
	Backend      string `mapstructure:"backend"`
	cache.Config `mapstructure:",squash"`
}

type ResearchConfig struct {
	Defaults       research.Defaults `mapstructure:",squash"`
	MaxConcurrency int               `mapstructure:"max_concurrency"`
	DedupWindow    time.Duration     `mapstructure:"dedup_window"`
	Keepalive      time.Duration     `mapstructure:"keepalive"`
	MaxSourceChars int               `mapstructure:"max_source_chars"`
}

// envBindings maps config keys to the conventional variable names. Every other
// key is also read from DEEP_RESEARCH_<KEY>.
var envBindings = map[string]string{
	"server.port":                  "PORT",
	"database.url":                 "DATABASE_URL",
	"database.max_conns":           "DATABASE_MAX_CONNS",
	"redis.addr":                   "REDIS_ADDR",
	"redis.password":               "REDIS_PASSWORD",
	"cache.backend":                "CACHE_BACKEND",
	"cache.max_entries":            "CACHE_MAX_ENTRIES",
	"research.max_concurrency":     "MAX_CONCURRENCY",
	"research.thinking.provider":   "THINKING_PROVIDER",
	"research.thinking.model":      "THINKING_MODEL",
	"research.task.provider":       "TASK_PROVIDER",
	"research.task.model":          "TASK_MODEL",
	"research.search_provider":     "SEARCH_PROVIDER",
	"research.depth":               "SEARCH_DEPTH",
	"log_level":                    "LOG_LEVEL",
	"providers.openai.api_key":     "OPENAI_API_KEY",
	"providers.openai.base_url":    "OPENAI_BASE_URL",
	"providers.anthropic.api_key":  "ANTHROPIC_API_KEY",
	"providers.google.api_key":     "GOOGLE_API_KEY",
	"providers.deepseek.api_key":   "DEEPSEEK_API_KEY",
	"providers.openrouter.api_key": "OPENROUTER_API_KEY",
	"providers.xai.api_key":        "XAI_API_KEY",
	"providers.ollama.base_url":    "OLLAMA_BASE_URL",
	"providers.tavily.api_key":     "TAVILY_API_KEY",
	"providers.brave.api_key":      "BRAVE_API_KEY",
	"providers.searxng.base_url":   "SEARXNG_BASE_URL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8081")
	v.SetDefault("server.allow_origins", []string{"*"})
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_idle_time", 5*time.Minute)
	v.SetDefault("database.connect_timeout", 10*time.Second)
	v.SetDefault("redis.prefix", "deep-research:")
	v.SetDefault("log_level", "info")

	c := cache.DefaultConfig()
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.max_entries", c.MaxEntries)
	v.SetDefault("cache.cleanup_interval", c.CleanupInterval)
	for kind, ttl := range c.TTL {
		v.SetDefault("cache.ttl."+string(kind), ttl)
	}

	v.SetDefault("research.thinking.provider", "openai")
	v.SetDefault("research.thinking.model", "gpt-4o")
	v.SetDefault("research.task.provider", "openai")
	v.SetDefault("research.task.model", "gpt-4o-mini")
	v.SetDefault("research.search_provider", "tavily")
	v.SetDefault("research.depth", string(policy.DepthMedium))
	v.SetDefault("research.max_concurrency", 5)
	v.SetDefault("research.dedup_window", 5*time.Second)
	v.SetDefault("research.keepalive", 15*time.Second)
	v.SetDefault("research.max_source_chars", research.DefaultMaxSourceChars)
}

// Load reads configuration. path names an explicit config file; when empty,
// config.yaml is looked up in the working directory and /etc/deep-research
// and its absence is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/deep-research")
	}

	v.SetEnvPrefix("DEEP_RESEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if _, err := policy.ParseDepth(string(c.Research.Defaults.Depth)); err != nil {
		return fmt.Errorf("research.depth: %w", err)
	}
	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return errors.New("cache.backend redis requires REDIS_ADDR")
		}
	case "postgres":
		if c.Database.URL == "" {
			return errors.New("cache.backend postgres requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("cache.backend must be memory, redis or postgres, got %q", c.Cache.Backend)
	}
	if c.Database.MaxConns <= 0 || c.Database.MinConns > c.Database.MaxConns {
		return errors.New("database.max_conns must be positive and at least database.min_conns")
	}
	if c.Research.MaxConcurrency <= 0 {
		return errors.New("research.max_concurrency must be greater than zero")
	}
	if c.Cache.MaxEntries <= 0 {
		return errors.New("cache.max_entries must be greater than zero")
	}
	return nil
}

// ProviderSettings returns the settings of providers that have any value set.
func (c *Config) ProviderSettings() map[string]provider.ProviderSettings {
	out := make(map[string]provider.ProviderSettings, len(c.Providers))
	for id, s := range c.Providers {
		if s == (provider.ProviderSettings{}) {
			continue
		}
		out[id] = s
	}
	return out
}
