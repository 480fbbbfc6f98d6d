package main

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// config holds daemon configuration read from the environment.
type config struct {
	Env string

	// Store selects the backend: "sqlite" or "postgres".
	Store       string
	SQLitePath  string
	PostgresDSN string

	PollInterval time.Duration
	Concurrency  int
	MaxAttempts  int

	HeartbeatEvery string

	Log struct {
		ConsoleLevel string
		File         string
	}
}

// loadConfig reads configuration from environment variables and an
// optional .env file.
func loadConfig() (config, error) {
	_ = godotenv.Load()

	var c config
	c.Env = getenv("SKEDD_ENV", "prod")
	c.Store = strings.ToLower(getenv("SKEDD_STORE", "sqlite"))
	c.SQLitePath = getenv("SKEDD_SQLITE_PATH", "data/sked.db")
	c.PostgresDSN = os.Getenv("SKEDD_POSTGRES_DSN")
	c.PollInterval = getenvDuration("SKEDD_POLL_INTERVAL", time.Second)
	c.Concurrency = getenvInt("SKEDD_CONCURRENCY", 10)
	c.MaxAttempts = getenvInt("SKEDD_MAX_ATTEMPTS", 3)
	c.HeartbeatEvery = getenv("SKEDD_HEARTBEAT_EVERY", "1m")
	c.Log.ConsoleLevel = strings.ToLower(getenv("SKEDD_LOG_LEVEL", "info"))
	c.Log.File = os.Getenv("SKEDD_LOG_FILE")

	switch c.Store {
	case "sqlite":
		if c.SQLitePath == "" {
			return config{}, errors.New("SKEDD_SQLITE_PATH required for the sqlite store")
		}
	case "postgres":
		if c.PostgresDSN == "" {
			return config{}, errors.New("SKEDD_POSTGRES_DSN required for the postgres store")
		}
	default:
		return config{}, errors.New("SKEDD_STORE must be sqlite or postgres")
	}
	return c, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
