// Package config loads the exchange's runtime configuration from the
// environment, generalizing the teacher's cmd/server/main.go direct
// os.Getenv reads into a struct both main and tests can construct
// without touching the process environment.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every environment-tunable setting the server needs.
type Config struct {
	DataDir          string
	Port             string
	SchedulerEnabled bool
	SchedulerPeriod  time.Duration
	FetchTimeout     time.Duration
	RedisURL         string
	JWTSecret        string
}

// Load reads Config from the process environment, applying the
// documented defaults for anything unset.
func Load() Config {
	return Config{
		DataDir:          getEnv("DATA_DIR", "./data"),
		Port:             getEnv("PORT", "8080"),
		SchedulerEnabled: getEnvBool("SCHEDULER_ENABLED", true),
		SchedulerPeriod:  getEnvDuration("SCHEDULER_PERIOD", 60*time.Second),
		FetchTimeout:     getEnvDuration("FETCH_TIMEOUT", 10*time.Second),
		RedisURL:         getEnv("REDIS_URL", ""),
		JWTSecret:        getEnv("JWT_SECRET", ""),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
