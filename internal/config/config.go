// Package config loads service configuration from an optional .env file, an
// optional YAML file and environment variables, in that order of precedence
// (later sources win).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConfigPathEnv names the variable holding the YAML file path.
const ConfigPathEnv = "FOSTERHUB_CONFIG"

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	Sprites   SpritesConfig   `yaml:"sprites"`
	Redis     RedisConfig     `yaml:"redis"`
	Payments  PaymentsConfig  `yaml:"payments"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	CORS      CORSConfig      `yaml:"cors"`
}

type ServerConfig struct {
	Host         string        `yaml:"host" env:"FOSTERHUB_HOST"`
	Port         int           `yaml:"port" env:"FOSTERHUB_PORT"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"FOSTERHUB_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"FOSTERHUB_WRITE_TIMEOUT"`
}

// Addr is the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig selects the store. An empty or "memory" driver keeps all
// state in process.
type DatabaseConfig struct {
	Driver          string `yaml:"driver" env:"DATABASE_DRIVER"`
	DSN             string `yaml:"dsn" env:"DATABASE_URL"`
	MaxOpenConns    int    `yaml:"max_open_conns" env:"DB_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `yaml:"max_idle_conns" env:"DB_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime" env:"DB_CONN_MAX_LIFETIME"` // seconds
	AutoMigrate     bool   `yaml:"auto_migrate" env:"DB_AUTO_MIGRATE"`
}

// UsesSQL reports whether a SQL driver is configured.
func (c DatabaseConfig) UsesSQL() bool {
	return c.Driver != "" && c.Driver != "memory"
}

type LoggingConfig struct {
	Level      string `yaml:"level" env:"LOG_LEVEL"`
	Format     string `yaml:"format" env:"LOG_FORMAT"`
	Output     string `yaml:"output" env:"LOG_OUTPUT"`
	FilePrefix string `yaml:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// SpritesConfig holds the engine's reference zone and feed economics.
type SpritesConfig struct {
	TimeZone       string        `yaml:"time_zone" env:"SPRITE_TIME_ZONE"`
	FeedCost       int64         `yaml:"feed_cost" env:"SPRITE_FEED_COST"`
	FeedBoost      int           `yaml:"feed_boost" env:"SPRITE_FEED_BOOST"`
	SweepSchedule  string        `yaml:"sweep_schedule" env:"SPRITE_SWEEP_SCHEDULE"`
	StreamInterval time.Duration `yaml:"stream_interval" env:"SPRITE_STREAM_INTERVAL"`
}

// Location resolves TimeZone.
func (c SpritesConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.TimeZone)
}

// RedisConfig enables the shared sweep lock when Addr is set.
type RedisConfig struct {
	Addr     string        `yaml:"addr" env:"REDIS_ADDR"`
	Password string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int           `yaml:"db" env:"REDIS_DB"`
	LockTTL  time.Duration `yaml:"lock_ttl" env:"REDIS_LOCK_TTL"`
}

type PaymentsConfig struct {
	TokensPerPurchase int64 `yaml:"tokens_per_purchase" env:"PAYMENTS_TOKENS_PER_PURCHASE"`
}

type RateLimitConfig struct {
	FeedPerSecond float64 `yaml:"feed_per_second" env:"FEED_RATE_PER_SECOND"`
	FeedBurst     int     `yaml:"feed_burst" env:"FEED_RATE_BURST"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
}

// New returns the defaults.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          "memory",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
			AutoMigrate:     true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			FilePrefix: "fosterhub",
		},
		Sprites: SpritesConfig{
			TimeZone:       "UTC",
			FeedCost:       1,
			FeedBoost:      5,
			SweepSchedule:  "0 0 * * *",
			StreamInterval: time.Minute,
		},
		Redis: RedisConfig{
			LockTTL: 5 * time.Minute,
		},
		Payments: PaymentsConfig{
			TokensPerPurchase: 100,
		},
		RateLimit: RateLimitConfig{
			FeedPerSecond: 2,
			FeedBurst:     5,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
	}
}

// Load builds the configuration from defaults, .env, the YAML file named by
// FOSTERHUB_CONFIG and the environment, then validates it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := New()
	if path := strings.TrimSpace(os.Getenv(ConfigPathEnv)); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays the YAML file at path.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays the environment variables that are set.
func (c *Config) ApplyEnv() error {
	if err := envdecode.Decode(c); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("decode environment: %w", err)
	}
	c.CORS.AllowedOrigins = splitList(c.CORS.AllowedOrigins)
	return nil
}

// splitList expands comma-separated entries. envdecode only splits on ';'.
func splitList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}

	switch c.Database.Driver {
	case "", "memory":
	case "postgres", "sqlite":
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("database dsn is required for driver %s", c.Database.Driver)
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if _, err := c.Sprites.Location(); err != nil {
		return fmt.Errorf("sprites time zone %q: %w", c.Sprites.TimeZone, err)
	}
	if c.Sprites.FeedCost <= 0 {
		return fmt.Errorf("sprites feed cost must be positive")
	}
	if c.Sprites.FeedBoost <= 0 {
		return fmt.Errorf("sprites feed boost must be positive")
	}
	if c.Sprites.StreamInterval < time.Second {
		return fmt.Errorf("sprites stream interval must be at least 1s")
	}
	if c.Payments.TokensPerPurchase <= 0 {
		return fmt.Errorf("payments tokens per purchase must be positive")
	}
	return nil
}
