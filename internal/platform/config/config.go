package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the .env file from the current working directory and sets
// environment variables. If .env does not exist, Load returns an error but
// callers can ignore it and use system env or defaults. Pass one or more paths
// to load from specific files (e.g. ".env"); with no paths, ".env" is used.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// GetEnv returns the value of the environment variable named by key, or fallback
// if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// GetEnvPort returns the TCP port held by key, or fallback if the variable is
// unset or outside 1..65535.
func GetEnvPort(key string, fallback uint16) uint16 {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.ParseUint(s, 10, 16); err == nil && n > 0 {
			return uint16(n)
		}
	}
	return fallback
}

// GetEnvDuration returns the duration held by key (e.g. "5s", "250ms"), or
// fallback if the variable is unset, empty, or unparsable.
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	if s := os.Getenv(key); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			return d
		}
	}
	return fallback
}
