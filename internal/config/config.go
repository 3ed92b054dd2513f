// Package config loads the engine configuration from built-in defaults, an
// optional YAML file and the environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/retaildss/rebalance-engine/internal/model"
	"github.com/retaildss/rebalance-engine/internal/scheduler"
)

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/rebalance-engine/config.yaml",
}

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

// Config is the full engine configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	Log       LogConfig       `koanf:"log"`
	CORS      CORSConfig      `koanf:"cors"`
	Matcher   MatcherConfig   `koanf:"matcher"`
	Forecast  ForecastConfig  `koanf:"forecast"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
	Seed      SeedConfig      `koanf:"seed"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig selects PostgreSQL. An empty URL runs on the in-memory store.
type DatabaseConfig struct {
	URL string `koanf:"url"`
}

// RedisConfig enables the read-through cache when URL is set.
type RedisConfig struct {
	URL string        `koanf:"url"`
	TTL time.Duration `koanf:"ttl"`
}

type LogConfig struct {
	Level string `koanf:"level"`
}

type CORSConfig struct {
	Origins []string `koanf:"origins"`
}

type MatcherConfig struct {
	VehicleCapacity  int      `koanf:"vehicle_capacity"`
	TierOrder        []string `koanf:"tier_order"`
	DemandWindowDays int      `koanf:"demand_window_days"`
}

type ForecastConfig struct {
	HorizonDays int `koanf:"horizon_days"`
	MinHistory  int `koanf:"min_history"`
	BatchSize   int `koanf:"batch_size"`
	// CronSchedule is a standard 5-field cron spec. Empty disables it.
	CronSchedule string `koanf:"cron_schedule"`
}

type RateLimitConfig struct {
	RegeneratePerMinute int `koanf:"regenerate_per_minute"`
}

// SeedConfig points at a JSON fixture loaded into the in-memory store.
type SeedConfig struct {
	Path string `koanf:"path"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Redis: RedisConfig{TTL: 30 * time.Second},
		Log:   LogConfig{Level: "info"},
		CORS:  CORSConfig{Origins: []string{"*"}},
		Matcher: MatcherConfig{
			VehicleCapacity:  50,
			TierOrder:        tierStrings(model.DefaultTierOrder),
			DemandWindowDays: 7,
		},
		Forecast: ForecastConfig{
			HorizonDays: 30,
			MinHistory:  10,
			BatchSize:   5000,
		},
		RateLimit: RateLimitConfig{RegeneratePerMinute: 5},
	}
}

// Load reads .env (if present), then layers defaults, the config file and
// environment variables, and validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	k := koanf.New(".")
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// sections are the top-level keys environment variables may target.
var sections = map[string]bool{
	"server": true, "database": true, "redis": true, "log": true, "cors": true,
	"matcher": true, "forecast": true, "ratelimit": true, "seed": true,
}

// envTransformFunc maps SECTION_KEY_NAME to section.key_name. Variables
// outside the known sections are ignored.
//
//   - SERVER_PORT -> server.port
//   - FORECAST_CRON_SCHEDULE -> forecast.cron_schedule
//   - PORT -> server.port
func envTransformFunc(key string) string {
	key = strings.ToLower(key)
	if key == "port" {
		return "server.port"
	}
	section, rest, ok := strings.Cut(key, "_")
	if !ok || rest == "" || !sections[section] {
		return ""
	}
	return section + "." + rest
}

var sliceConfigPaths = []string{
	"cors.origins",
	"matcher.tier_order",
}

// processSliceFields splits comma-separated env values for slice keys.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok || s == "" {
			continue
		}
		var parts []string
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if len(parts) == 0 {
			continue
		}
		if err := k.Set(path, parts); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must be positive"))
	}
	if c.Redis.URL != "" && c.Redis.TTL <= 0 {
		errs = append(errs, errors.New("redis.ttl must be positive when redis is enabled"))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.Matcher.VehicleCapacity < 1 || c.Matcher.VehicleCapacity > 10000 {
		errs = append(errs, fmt.Errorf("matcher.vehicle_capacity must be 1-10000, got %d", c.Matcher.VehicleCapacity))
	}
	if c.Matcher.DemandWindowDays < 1 {
		errs = append(errs, fmt.Errorf("matcher.demand_window_days must be at least 1, got %d", c.Matcher.DemandWindowDays))
	}
	if _, err := c.TierOrder(); err != nil {
		errs = append(errs, err)
	}
	if c.Forecast.HorizonDays < 1 {
		errs = append(errs, fmt.Errorf("forecast.horizon_days must be at least 1, got %d", c.Forecast.HorizonDays))
	}
	if c.Forecast.MinHistory < 2 {
		errs = append(errs, fmt.Errorf("forecast.min_history must be at least 2, got %d", c.Forecast.MinHistory))
	}
	if c.Forecast.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("forecast.batch_size must be at least 1, got %d", c.Forecast.BatchSize))
	}
	if err := scheduler.ValidateSpec(c.Forecast.CronSchedule); err != nil {
		errs = append(errs, fmt.Errorf("forecast.cron_schedule: %w", err))
	}
	if c.RateLimit.RegeneratePerMinute < 1 {
		errs = append(errs, fmt.Errorf("ratelimit.regenerate_per_minute must be at least 1, got %d", c.RateLimit.RegeneratePerMinute))
	}
	return errors.Join(errs...)
}

// SlogLevel parses log.level.
func (c *Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level: %w", err)
	}
	return lvl, nil
}

// TierOrder parses matcher.tier_order. Every tier must appear at most once.
func (c *Config) TierOrder() ([]model.StoreTier, error) {
	order := make([]model.StoreTier, 0, len(c.Matcher.TierOrder))
	seen := make(map[model.StoreTier]bool)
	for _, s := range c.Matcher.TierOrder {
		t, err := model.ParseStoreTier(strings.ToUpper(strings.TrimSpace(s)))
		if err != nil {
			return nil, fmt.Errorf("matcher.tier_order: %w", err)
		}
		if seen[t] {
			return nil, fmt.Errorf("matcher.tier_order: duplicate tier %s", t)
		}
		seen[t] = true
		order = append(order, t)
	}
	if len(order) == 0 {
		return nil, errors.New("matcher.tier_order must not be empty")
	}
	return order, nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

func tierStrings(tiers []model.StoreTier) []string {
	out := make([]string, len(tiers))
	for i, t := range tiers {
		out[i] = string(t)
	}
	return out
}
