// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Mirror   MirrorConfig
	Reward   RewardConfig
}

type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
}

// MirrorConfig drives the blockchain mirror client and its outbox worker.
type MirrorConfig struct {
	BaseURL      string
	APIKey       string
	CallTimeout  time.Duration
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	BackoffBase  time.Duration
}

// RewardConfig holds token economics settings.
type RewardConfig struct {
	FiatCurrency      string
	MinimumWithdrawal decimal.Decimal
	MaxAward          decimal.Decimal
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:  getDurationEnv("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getIntEnv("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 25),
			ConnMaxLifetime: getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:      normalizeRedisURL(getEnv("REDIS_URL", "localhost:6379")),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:     getEnv("JWT_SECRET", "change-this-secret"),
			Expiration: getDurationEnv("JWT_EXPIRATION", 15*time.Minute),
		},
		Mirror: MirrorConfig{
			BaseURL:      getEnv("MIRROR_BASE_URL", "http://localhost:8000/api"),
			APIKey:       getEnv("MIRROR_API_KEY", ""),
			CallTimeout:  getDurationEnv("MIRROR_CALL_TIMEOUT", 30*time.Second),
			PollInterval: getDurationEnv("MIRROR_POLL_INTERVAL", 15*time.Second),
			BatchSize:    getIntEnv("MIRROR_BATCH_SIZE", 25),
			MaxAttempts:  getIntEnv("MIRROR_MAX_ATTEMPTS", 8),
			BackoffBase:  getDurationEnv("MIRROR_BACKOFF_BASE", 30*time.Second),
		},
		Reward: RewardConfig{
			FiatCurrency:      getEnv("REWARD_FIAT_CURRENCY", "NGN"),
			MinimumWithdrawal: getDecimalEnv("REWARD_MINIMUM_WITHDRAWAL", decimal.NewFromInt(200)),
			MaxAward:          getDecimalEnv("REWARD_MAX_AWARD", decimal.NewFromInt(10000)),
		},
	}
}

// ValidateCore checks settings without which the service cannot run.
func (c *Config) ValidateCore() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.JWT.Secret == "" || c.JWT.Secret == "change-this-secret" {
		if os.Getenv("ALLOW_INSECURE_JWT") != "true" {
			return fmt.Errorf("JWT_SECRET must be set to a non-default value")
		}
	}
	if c.Mirror.MaxAttempts < 1 {
		return fmt.Errorf("MIRROR_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func normalizeRedisURL(url string) string {
	// Strip redis:// or redis+tls:// scheme if present
	if strings.HasPrefix(url, "redis+tls://") {
		return url[len("redis+tls://"):]
	}
	if strings.HasPrefix(url, "redis://") {
		return url[len("redis://"):]
	}
	return url
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getDecimalEnv(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
