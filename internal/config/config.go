package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type APIConfig struct {
	Addr            string
	DatabaseURL     string
	JWTSecret       string
	TokenTTL        time.Duration
	IncomeTickEvery time.Duration
	RunMigrations   bool
}

func LoadAPIFromEnv() (APIConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("AIVENTURE_ADDR", ":8080")
	}

	cfg := APIConfig{
		Addr:            addr,
		DatabaseURL:     strings.TrimSpace(os.Getenv("DATABASE_URL")),
		JWTSecret:       strings.TrimSpace(os.Getenv("AIVENTURE_JWT_SECRET")),
		TokenTTL:        envDurationDefault("AIVENTURE_TOKEN_TTL", 60*time.Minute),
		IncomeTickEvery: envDurationDefault("AIVENTURE_INCOME_TICK_EVERY", 60*time.Second),
		RunMigrations:   envBoolDefault("AIVENTURE_RUN_MIGRATIONS", true),
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return cfg, fmt.Errorf("AIVENTURE_JWT_SECRET is required")
	}
	if cfg.IncomeTickEvery < time.Second {
		return cfg, fmt.Errorf("AIVENTURE_INCOME_TICK_EVERY must be at least 1s")
	}
	return cfg, nil
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
