package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	NotifyDriverRedis = "redis"
	NotifyDriverNATS  = "nats"
	NotifyDriverNone  = "none"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "jwt-secret", "password",
}

type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL,required"`

	JWTSecret string `env:"JWT_SECRET,required"`
	JWTIssuer string `env:"JWT_ISSUER" envDefault:""`

	OrderDirectoryURL       string `env:"ORDER_DIRECTORY_URL" envDefault:""`
	OrderDirectoryStatic    string `env:"ORDER_DIRECTORY_STATIC" envDefault:""`
	OrderDirectoryTimeoutMS int    `env:"ORDER_DIRECTORY_TIMEOUT_MS" envDefault:"3000"`

	TypingTimeoutMS      int `env:"TYPING_TIMEOUT_MS" envDefault:"3000"`
	LocationStaleSeconds int `env:"LOCATION_STALE_SECONDS" envDefault:"60"`
	LocationTTLSeconds   int `env:"LOCATION_TTL_SECONDS" envDefault:"3600"`
	RoomIdleSeconds      int `env:"ROOM_IDLE_SECONDS" envDefault:"900"`

	SessionBuffer     int     `env:"SESSION_BUFFER" envDefault:"256"`
	InboundRatePerSec float64 `env:"INBOUND_RATE_PER_SEC" envDefault:"20"`
	InboundBurst      int     `env:"INBOUND_BURST" envDefault:"40"`
	ConnectRatePerMin int     `env:"CONNECT_RATE_PER_MIN" envDefault:"30"`

	HistoryPageSize    int `env:"HISTORY_PAGE_SIZE" envDefault:"50"`
	HistoryMaxPageSize int `env:"HISTORY_MAX_PAGE_SIZE" envDefault:"100"`

	NotifyDriver string `env:"NOTIFY_DRIVER" envDefault:"redis"`
	NATSURL      string `env:"NATS_URL" envDefault:""`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`
	LogLevel       string   `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) TypingTimeout() time.Duration {
	return time.Duration(c.TypingTimeoutMS) * time.Millisecond
}

func (c *Config) DirectoryTimeout() time.Duration {
	return time.Duration(c.OrderDirectoryTimeoutMS) * time.Millisecond
}

func (c *Config) LocationStaleAfter() time.Duration {
	return time.Duration(c.LocationStaleSeconds) * time.Second
}

func (c *Config) LocationTTL() time.Duration {
	return time.Duration(c.LocationTTLSeconds) * time.Second
}

func (c *Config) RoomIdleTTL() time.Duration {
	return time.Duration(c.RoomIdleSeconds) * time.Second
}

func (c *Config) Validate(isProduction bool) error {
	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=%s", StoreDriverPostgres)
		}
	case StoreDriverMemory:
		if isProduction {
			return fmt.Errorf("STORE_DRIVER=%s is not allowed in production", StoreDriverMemory)
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	typing := c.TypingTimeout()
	if typing < MinTypingTimeout || typing > MaxTypingTimeout {
		return fmt.Errorf("TYPING_TIMEOUT_MS must be between %d and %d",
			MinTypingTimeout.Milliseconds(), MaxTypingTimeout.Milliseconds())
	}

	if c.HistoryPageSize <= 0 || c.HistoryPageSize > c.HistoryMaxPageSize {
		return fmt.Errorf("HISTORY_PAGE_SIZE must be in (0, HISTORY_MAX_PAGE_SIZE]")
	}

	if c.OrderDirectoryURL == "" && c.OrderDirectoryStatic == "" {
		return fmt.Errorf("one of ORDER_DIRECTORY_URL or ORDER_DIRECTORY_STATIC must be set")
	}

	switch c.NotifyDriver {
	case NotifyDriverRedis, NotifyDriverNone:
	case NotifyDriverNATS:
		if c.NATSURL == "" {
			return fmt.Errorf("NATS_URL is required when NOTIFY_DRIVER=%s", NotifyDriverNATS)
		}
	default:
		return fmt.Errorf("unknown NOTIFY_DRIVER %q", c.NotifyDriver)
	}

	if isProduction {
		if err := validateSecret("JWT_SECRET", c.JWTSecret); err != nil {
			return err
		}
		if c.OrderDirectoryURL == "" {
			return fmt.Errorf("ORDER_DIRECTORY_URL is required in production")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
		if len(c.AllowedOrigins) == 0 {
			log.Warn().Msg("ALLOWED_ORIGINS is empty in production: websocket origin checks disabled")
		}
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
