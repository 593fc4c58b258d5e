package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	CredentialsMemory = "memory"
	CredentialsRedis  = "redis"
)

type Config struct {
	Server      ServerConfig
	API         APIConfig
	Credentials CredentialsConfig
	Redis       RedisConfig
	Cart        CartConfig
	Breaker     BreakerConfig
	LogLevel    string
}

type ServerConfig struct {
	HTTPPort        string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

type APIConfig struct {
	BaseURL string
	Timeout time.Duration
}

type CredentialsConfig struct {
	Backend   string
	Namespace string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type CartConfig struct {
	SyncTimeout time.Duration
}

type BreakerConfig struct {
	ConsecutiveFailures int
	OpenTimeout         time.Duration
}

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			HTTPPort:        getEnv("HTTP_PORT", "3000"),
			RequestTimeout:  getDurationEnv("REQUEST_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		API: APIConfig{
			BaseURL: getEnv("API_BASE_URL", "http://127.0.0.1:8000/api"),
			Timeout: getDurationEnv("API_TIMEOUT", 10*time.Second),
		},
		Credentials: CredentialsConfig{
			Backend:   getEnv("CREDENTIAL_BACKEND", CredentialsMemory),
			Namespace: getEnv("CREDENTIAL_NAMESPACE", "storefront"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		Cart: CartConfig{
			SyncTimeout: getDurationEnv("CART_SYNC_TIMEOUT", 10*time.Second),
		},
		Breaker: BreakerConfig{
			ConsecutiveFailures: getIntEnv("BREAKER_FAILURES", 5),
			OpenTimeout:         getDurationEnv("BREAKER_OPEN_TIMEOUT", 30*time.Second),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid API_BASE_URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("invalid API_BASE_URL %q: need an absolute http(s) url", c.API.BaseURL)
	}

	switch c.Credentials.Backend {
	case CredentialsMemory, CredentialsRedis:
	default:
		return fmt.Errorf("unknown CREDENTIAL_BACKEND %q", c.Credentials.Backend)
	}

	if c.Breaker.ConsecutiveFailures < 1 {
		return errors.New("BREAKER_FAILURES must be at least 1")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
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
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
