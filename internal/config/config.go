package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`
	Storage        string        `mapstructure:"STORAGE"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	TxRetries      int           `mapstructure:"TX_RETRIES"`
	RedisURL       string        `mapstructure:"REDIS_URL"`
	AuthIssuer     string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string        `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	WaitWarnMinutes     float64       `mapstructure:"WAIT_WARN_MINUTES"`
	WaitCriticalMinutes float64       `mapstructure:"WAIT_CRITICAL_MINUTES"`
	SLAWindow           time.Duration `mapstructure:"SLA_WINDOW"`
	OverviewCacheTTL    time.Duration `mapstructure:"OVERVIEW_CACHE_TTL"`
	OccupancyHighPct    float64       `mapstructure:"OCCUPANCY_HIGH_PCT"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "STORAGE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"TX_RETRIES", "REDIS_URL", "AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT",
	"WAIT_WARN_MINUTES", "WAIT_CRITICAL_MINUTES", "SLA_WINDOW", "OVERVIEW_CACHE_TTL",
	"OCCUPANCY_HIGH_PCT",
}

// Load reads the environment, falling back to an optional .env file and the
// defaults below. It does not validate; call Validate before serving.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORAGE", StoragePostgres)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("TX_RETRIES", 1)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("REQUEST_TIMEOUT", "15s")
	v.SetDefault("WAIT_WARN_MINUTES", 30)
	v.SetDefault("WAIT_CRITICAL_MINUTES", 60)
	v.SetDefault("SLA_WINDOW", "24h")
	v.SetDefault("OVERVIEW_CACHE_TTL", "500ms")
	v.SetDefault("OCCUPANCY_HIGH_PCT", 85)

	for _, k := range keys {
		v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if origins := v.GetString("CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = nil
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}
	cfg.Storage = strings.ToLower(strings.TrimSpace(cfg.Storage))

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) UsesPostgres() bool {
	return c.Storage == StoragePostgres
}

// Validate rejects configurations the server must not start with.
func (c *Config) Validate() error {
	switch c.Storage {
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORAGE=postgres")
		}
		if c.DBMinConns > c.DBMaxConns {
			return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
		}
	case StorageMemory:
	default:
		return fmt.Errorf("STORAGE must be %q or %q, got %q", StoragePostgres, StorageMemory, c.Storage)
	}

	if !c.IsDev() {
		if c.AuthSigningKey == "" {
			return fmt.Errorf("AUTH_SIGNING_KEY must be set when ENV=%q; "+
				"refusing to start without authentication", c.Env)
		}
		if len(c.AuthSigningKey) < 32 {
			return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes")
		}
	}

	if c.TxRetries < 0 {
		return fmt.Errorf("TX_RETRIES must not be negative")
	}
	if c.WaitWarnMinutes < 0 || c.WaitCriticalMinutes < 0 {
		return fmt.Errorf("wait thresholds must not be negative")
	}
	if c.WaitCriticalMinutes > 0 && c.WaitWarnMinutes > c.WaitCriticalMinutes {
		return fmt.Errorf("WAIT_WARN_MINUTES (%v) exceeds WAIT_CRITICAL_MINUTES (%v)",
			c.WaitWarnMinutes, c.WaitCriticalMinutes)
	}
	if c.SLAWindow <= 0 {
		return fmt.Errorf("SLA_WINDOW must be positive")
	}
	if c.OverviewCacheTTL < 0 {
		return fmt.Errorf("OVERVIEW_CACHE_TTL must not be negative")
	}
	if c.OccupancyHighPct <= 0 || c.OccupancyHighPct > 100 {
		return fmt.Errorf("OCCUPANCY_HIGH_PCT must be in (0, 100], got %v", c.OccupancyHighPct)
	}
	return nil
}
