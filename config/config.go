// Package config loads server configuration with koanf.
//
// Sources, lowest priority first:
//
//  1. built-in defaults
//  2. YAML file (CONFIG_PATH, config.yaml or config.yml)
//  3. .env file in the working directory (via godotenv, never overrides real env vars)
//  4. environment variables
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{"config.yaml", "config.yml"}

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Mongo    MongoConfig    `koanf:"mongo"`
	Redis    RedisConfig    `koanf:"redis"`
	NATS     NATSConfig     `koanf:"nats"`
	Auth     AuthConfig     `koanf:"auth"`
	Presence PresenceConfig `koanf:"presence"`
	Logging  LoggingConfig  `koanf:"logging"`
}

type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	APIPrefix       string        `koanf:"api_prefix"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type MongoConfig struct {
	URI            string        `koanf:"uri"`
	Database       string        `koanf:"database"`
	Collection     string        `koanf:"collection"`
	MaxPoolSize    uint64        `koanf:"max_pool_size"`
	MaxRetry       int           `koanf:"max_retry"`
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
}

// RedisConfig configures presence tracking. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// NATSConfig configures cross-instance fan-out. NATS is disabled when both
// URL and EmbeddedPort are unset. A positive EmbeddedPort starts an in-process
// server other instances can join; URL defaults to it.
type NATSConfig struct {
	URL          string `koanf:"url"`
	Subject      string `koanf:"subject"`
	Name         string `koanf:"name"`
	EmbeddedPort int    `koanf:"embedded_port"`
}

type AuthConfig struct {
	JWTSecret       string        `koanf:"jwt_secret"`
	SessionTTL      time.Duration `koanf:"session_ttl"`
	GoogleClientID  string        `koanf:"google_client_id"`
	GoogleIssuers   []string      `koanf:"google_issuers"`
	GoogleJWKSURL   string        `koanf:"google_jwks_url"`
	JWKSCacheTTL    time.Duration `koanf:"jwks_cache_ttl"`
	VerifyTimeout   time.Duration `koanf:"verify_timeout"`
	LoginRateLimit  int           `koanf:"login_rate_limit"`
	LoginRateWindow time.Duration `koanf:"login_rate_window"`
}

type PresenceConfig struct {
	TTL time.Duration `koanf:"ttl"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":5000",
			APIPrefix:       "",
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Mongo: MongoConfig{
			URI:            "mongodb://localhost:27017",
			Database:       "location_tracker",
			Collection:     "users",
			MaxPoolSize:    20,
			MaxRetry:       3,
			ConnectTimeout: 10 * time.Second,
		},
		NATS: NATSConfig{
			Subject: "tracker.location.updates",
			Name:    "go-tracker",
		},
		Auth: AuthConfig{
			SessionTTL:      7 * 24 * time.Hour,
			GoogleIssuers:   []string{"accounts.google.com", "https://accounts.google.com"},
			GoogleJWKSURL:   "https://www.googleapis.com/oauth2/v3/certs",
			JWKSCacheTTL:    time.Hour,
			VerifyTimeout:   10 * time.Second,
			LoginRateLimit:  20,
			LoginRateWindow: time.Minute,
		},
		Presence: PresenceConfig{
			TTL: 10 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from all sources and validates it.
func Load() (*Config, error) {
	// Missing .env is fine; real deployments inject env vars directly.
	_ = godotenv.Load()

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
		return nil, err
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

// Validate checks required settings.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Auth.JWTSecret) < 16 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 16 characters"))
	}
	if c.Auth.GoogleClientID == "" {
		errs = append(errs, errors.New("GOOGLE_CLIENT_ID is required"))
	}
	if c.Mongo.URI == "" {
		errs = append(errs, errors.New("MONGODB_URI is required"))
	}
	if c.Auth.SessionTTL <= 0 {
		errs = append(errs, errors.New("session ttl must be positive"))
	}
	if c.Presence.TTL <= 0 {
		errs = append(errs, errors.New("presence ttl must be positive"))
	}
	if c.Server.APIPrefix != "" && !strings.HasPrefix(c.Server.APIPrefix, "/") {
		errs = append(errs, fmt.Errorf("api prefix %q must start with /", c.Server.APIPrefix))
	}
	return errors.Join(errs...)
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

// sliceConfigPaths are parsed from comma-separated env values.
var sliceConfigPaths = []string{
	"server.cors_origins",
	"auth.google_issuers",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok || s == "" {
			continue
		}
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if err := k.Set(path, out); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

var envMappings = map[string]string{
	"http_addr":          "server.addr",
	"api_prefix":         "server.api_prefix",
	"cors_origins":       "server.cors_origins",
	"shutdown_timeout":   "server.shutdown_timeout",
	"mongodb_uri":        "mongo.uri",
	"mongodb_database":   "mongo.database",
	"mongodb_pool_size":  "mongo.max_pool_size",
	"redis_addr":         "redis.addr",
	"redis_password":     "redis.password",
	"redis_db":           "redis.db",
	"nats_url":           "nats.url",
	"nats_subject":       "nats.subject",
	"nats_embedded_port": "nats.embedded_port",
	"jwt_secret":         "auth.jwt_secret",
	"session_ttl":        "auth.session_ttl",
	"google_client_id":   "auth.google_client_id",
	"google_jwks_url":    "auth.google_jwks_url",
	"login_rate_limit":   "auth.login_rate_limit",
	"presence_ttl":       "presence.ttl",
	"log_level":          "logging.level",
	"log_format":         "logging.format",
}

// envTransformFunc maps env names (MONGODB_URI) to koanf paths (mongo.uri).
// Unknown variables map to "" and are skipped.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
