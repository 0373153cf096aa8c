package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port            string
	DBDSN           string
	LogFile         string
	RedisAddr       string // empty disables the product cache
	CacheTTL        time.Duration
	SweepSchedule   string
	ReadyTTL        time.Duration
	SweepOnStart    bool
	ShutdownTimeout time.Duration
	CookieSecure    bool
}

// Load reads the environment, after merging a .env file if one exists.
// Variables already set in the environment win over .env.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[config] ignoring .env: %v", err)
	}

	cfg := Config{
		Port:            str("PORT", "8080"),
		DBDSN:           str("DB_DSN", "posuda.db"), // sqlite file in project root
		LogFile:         str("LOG_FILE", ""),
		RedisAddr:       str("REDIS_ADDR", ""),
		CacheTTL:        dur("CACHE_TTL", 5*time.Minute),
		SweepSchedule:   str("SWEEP_SCHEDULE", "0 0 * * *"),
		ReadyTTL:        dur("READY_TTL", 240*time.Hour),
		SweepOnStart:    boolean("SWEEP_ON_START", false),
		ShutdownTimeout: dur("SHUTDOWN_TIMEOUT", 30*time.Second),
		CookieSecure:    boolean("COOKIE_SECURE", false),
	}
	log.Printf("[config] PORT=%s DB_DSN=%s LOG_FILE=%s REDIS_ADDR=%s SWEEP_SCHEDULE=%q READY_TTL=%s",
		cfg.Port, cfg.DBDSN, cfg.LogFile, cfg.RedisAddr, cfg.SweepSchedule, cfg.ReadyTTL)
	return cfg
}

func str(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func dur(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Printf("[config] bad %s=%q, using %s", key, v, def)
		return def
	}
	return d
}

func boolean(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] bad %s=%q, using %t", key, v, def)
		return def
	}
	return b
}
