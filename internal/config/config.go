// Package config loads sheetwise settings from YAML and the environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/sheetwise"
	"github.com/ZanzyTHEbar/sheetwise/internal/cache"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file settings.
const (
	EnvOpenAIKey    = "OPENAI_API_KEY"
	EnvGeminiKey    = "GOOGLE_GEMINI_API_KEY"
	EnvAddr         = "SHEETWISE_ADDR"
	EnvLogLevel     = "SHEETWISE_LOG_LEVEL"
	EnvCacheBackend = "SHEETWISE_CACHE_BACKEND"
	EnvRedisAddr    = "SHEETWISE_REDIS_ADDR"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Interpreter InterpreterConfig `yaml:"interpreter"`
	Providers   ProvidersConfig   `yaml:"providers"`
	Cache       CacheConfig       `yaml:"cache"`
	Events      EventsConfig      `yaml:"events"`
	Log         LogConfig         `yaml:"log"`
	Recipes     RecipesConfig     `yaml:"recipes"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

type InterpreterConfig struct {
	AcceptThreshold float64 `yaml:"accept_threshold"`
	MaxRequestBytes int     `yaml:"max_request_bytes"`
	// Timeout bounds each provider call.
	Timeout        time.Duration `yaml:"timeout"`
	MaxConcurrency int           `yaml:"max_concurrency"`
	FormulaLint    bool          `yaml:"formula_lint"`
	// ExtraFunctions are accepted by the formula lint in addition to the defaults.
	ExtraFunctions []string `yaml:"extra_functions"`
}

type ProvidersConfig struct {
	OpenAI ProviderConfig `yaml:"openai"`
	Gemini ProviderConfig `yaml:"gemini"`
}

// ProviderConfig configures one generative provider. A provider without an
// API key is left out of the resolver.
type ProviderConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
	// RateLimit is requests per second; zero disables limiting.
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
}

// Usable reports whether the provider should be wired.
func (p ProviderConfig) Usable() bool {
	return p.Enabled && p.APIKey != ""
}

type CacheConfig struct {
	Backend    string        `yaml:"backend"`
	TTL        time.Duration `yaml:"ttl"`
	SQLitePath string        `yaml:"sqlite_path"`
	Redis      RedisConfig   `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type EventsConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size"`
	Workers    int  `yaml:"workers"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type RecipesConfig struct {
	// Dir holds extra recipe files loaded after the built-in catalog.
	Dir string `yaml:"dir"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	svc := sheetwise.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Interpreter: InterpreterConfig{
			AcceptThreshold: svc.AcceptThreshold,
			MaxRequestBytes: svc.MaxRequestBytes,
			Timeout:         20 * time.Second,
			MaxConcurrency:  2,
			FormulaLint:     true,
		},
		Providers: ProvidersConfig{
			OpenAI: ProviderConfig{Enabled: true, Model: "gpt-4-turbo-preview", RateLimit: 5, Burst: 5},
			Gemini: ProviderConfig{Enabled: true, Model: "gemini-1.5-pro", RateLimit: 5, Burst: 5},
		},
		Cache: CacheConfig{
			Backend:    cache.BackendMemory,
			TTL:        time.Hour,
			SQLitePath: "sheetwise-cache.db",
		},
		Events: EventsConfig{
			Enabled:    svc.EnableEventBus,
			BufferSize: svc.EventBusBufferSize,
			Workers:    svc.EventBusWorkerCount,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, sheetwise.NewConfigurationError(fmt.Sprintf("failed to read config file %s", path), err)
		}
		if err := cfg.decode(bytes.NewReader(data)); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return sheetwise.NewConfigurationError("failed to parse config YAML", err)
	}
	return nil
}

// ApplyEnv overrides settings from lookup, typically os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(EnvOpenAIKey, &c.Providers.OpenAI.APIKey)
	set(EnvGeminiKey, &c.Providers.Gemini.APIKey)
	set(EnvAddr, &c.Server.Addr)
	set(EnvLogLevel, &c.Log.Level)
	set(EnvCacheBackend, &c.Cache.Backend)
	set(EnvRedisAddr, &c.Cache.Redis.Addr)
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	var problems []string
	if c.Interpreter.AcceptThreshold < 0 || c.Interpreter.AcceptThreshold > 1 {
		problems = append(problems, "interpreter.accept_threshold must be within [0,1]")
	}
	if c.Interpreter.MaxRequestBytes <= 0 {
		problems = append(problems, "interpreter.max_request_bytes must be positive")
	}
	if c.Interpreter.Timeout <= 0 {
		problems = append(problems, "interpreter.timeout must be positive")
	}
	if c.Interpreter.MaxConcurrency < 1 {
		problems = append(problems, "interpreter.max_concurrency must be at least 1")
	}
	providers := []struct {
		name string
		cfg  ProviderConfig
	}{{"openai", c.Providers.OpenAI}, {"gemini", c.Providers.Gemini}}
	for _, p := range providers {
		if p.cfg.RateLimit < 0 {
			problems = append(problems, fmt.Sprintf("providers.%s.rate_limit must not be negative", p.name))
		}
		if p.cfg.RateLimit > 0 && p.cfg.Burst < 1 {
			problems = append(problems, fmt.Sprintf("providers.%s.burst must be at least 1", p.name))
		}
	}
	switch c.Cache.Backend {
	case cache.BackendMemory, cache.BackendNone:
	case cache.BackendSQLite:
		if c.Cache.SQLitePath == "" {
			problems = append(problems, "cache.sqlite_path is required for the sqlite backend")
		}
	case cache.BackendRedis:
		if c.Cache.Redis.Addr == "" {
			problems = append(problems, "cache.redis.addr is required for the redis backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown cache backend '%s'", c.Cache.Backend))
	}
	if c.Cache.TTL <= 0 {
		problems = append(problems, "cache.ttl must be positive")
	}
	if c.Server.ShutdownTimeout <= 0 {
		problems = append(problems, "server.shutdown_timeout must be positive")
	}
	if c.Server.MaxBodyBytes <= 0 {
		problems = append(problems, "server.max_body_bytes must be positive")
	}
	if c.Events.Enabled && (c.Events.BufferSize < 1 || c.Events.Workers < 1) {
		problems = append(problems, "events.buffer_size and events.workers must be at least 1")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("unknown log level '%s'", c.Log.Level))
	}

	if len(problems) > 0 {
		return sheetwise.NewConfigurationError("invalid configuration: "+strings.Join(problems, "; "), nil)
	}
	return nil
}

// ServiceConfig maps the settings onto sheetwise.Config.
func (c *Config) ServiceConfig() sheetwise.Config {
	svc := sheetwise.DefaultConfig()
	svc.AcceptThreshold = c.Interpreter.AcceptThreshold
	svc.MaxRequestBytes = c.Interpreter.MaxRequestBytes
	svc.EnableEventBus = c.Events.Enabled
	svc.EventBusBufferSize = c.Events.BufferSize
	svc.EventBusWorkerCount = c.Events.Workers
	return svc
}

// CacheOptions maps the cache settings onto cache.Options.
func (c *Config) CacheOptions() cache.Options {
	return cache.Options{
		Backend:    c.Cache.Backend,
		TTL:        c.Cache.TTL,
		SQLitePath: c.Cache.SQLitePath,
		Redis: cache.RedisOptions{
			Addr:     c.Cache.Redis.Addr,
			Password: c.Cache.Redis.Password,
			DB:       c.Cache.Redis.DB,
			Prefix:   c.Cache.Redis.Prefix,
		},
	}
}
