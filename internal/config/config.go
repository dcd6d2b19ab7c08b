package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration (env + Viper).
type Config struct {
	Env                 string
	Port                string
	DatabaseURL         string
	RedisURL            string
	AdminKeyHash        string // bcrypt hash of the key required for catalog writes
	HealthAdminKey      string
	FrontendURLEndsWith []string // allowed origin suffixes, comma separated in the env
	DevPassword         string
	AutoMigrate         bool
	LogLevel            string
	CacheTTL            time.Duration
	TxMaxWait           time.Duration
	TxTimeout           time.Duration
	SlowQuery           time.Duration // gorm warns about statements slower than this; 0 turns it off
	SeedFile            string
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Load loads config from env and optional .env file.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("PORT", "8080")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CACHE_TTL", "5m")
	v.SetDefault("TX_MAX_WAIT", "2s")
	v.SetDefault("TX_TIMEOUT", "5s")
	v.SetDefault("SLOW_QUERY_MS", "200")
	v.SetDefault("SEED_FILE", "fixtures/catalog.yaml")

	env := v.GetString("APP_ENV")

	// DATABASE_URL wins; otherwise the per-environment variable.
	dbURL := v.GetString("DATABASE_URL")
	if dbURL == "" {
		switch env {
		case "production":
			dbURL = v.GetString("DATABASE_URL_PROD")
		case "test":
			dbURL = v.GetString("DATABASE_URL_TEST")
		default:
			dbURL = v.GetString("DATABASE_URL_DEV")
		}
	}
	if dbURL == "" && env != "production" {
		dbURL = "file:autolist.db"
	}

	cfg := &Config{
		Env:                 env,
		Port:                v.GetString("PORT"),
		DatabaseURL:         dbURL,
		RedisURL:            v.GetString("REDIS_URL"),
		AdminKeyHash:        v.GetString("ADMIN_KEY_HASH"),
		HealthAdminKey:      v.GetString("HEALTH_ADMIN_KEY"),
		FrontendURLEndsWith: splitList(v.GetString("FRONTEND_URL_ENDS_WITH")),
		DevPassword:         v.GetString("DEV_PASSWORD"),
		AutoMigrate:         v.GetBool("AUTO_MIGRATE") || env != "production",
		LogLevel:            v.GetString("LOG_LEVEL"),
		SeedFile:            v.GetString("SEED_FILE"),
	}

	var err error
	if cfg.CacheTTL, err = duration(v, "CACHE_TTL"); err != nil {
		return nil, err
	}
	if cfg.TxMaxWait, err = duration(v, "TX_MAX_WAIT"); err != nil {
		return nil, err
	}
	if cfg.TxTimeout, err = duration(v, "TX_TIMEOUT"); err != nil {
		return nil, err
	}
	if cfg.SlowQuery, err = duration(v, "SLOW_QUERY_MS"); err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("config: DATABASE_URL is required in %s", env)
	}
	return cfg, nil
}

// duration accepts Go durations ("5s") or plain milliseconds ("5000").
func duration(v *viper.Viper, key string) (time.Duration, error) {
	s := strings.TrimSpace(v.GetString(key))
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	var ms int64
	if _, err := fmt.Sscanf(s, "%d", &ms); err == nil && fmt.Sprint(ms) == s {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return 0, fmt.Errorf("config: %s: invalid duration %q", key, s)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
