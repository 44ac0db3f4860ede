package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Remote runnable config
	BaseURL string
	Timeout time.Duration
	// OTLP export config
	OTLPEndpoint string
	OTLPCompress bool
	MaxRetries   int
	Backoff      time.Duration
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return strings.ToLower(v) == "true"
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func Load() Config {
	return Config{
		BaseURL: env("LANGSERVE_URL", "http://localhost:8000"),
		// Every remote request, including streams, is bounded by this timeout.
		Timeout:      envDuration("LANGSERVE_TIMEOUT", 60*time.Second),
		OTLPEndpoint: env("OTLP_ENDPOINT", ""),
		OTLPCompress: envBool("OTLP_COMPRESS", true),
		MaxRetries:   envInt("MAX_RETRIES", 3),
		Backoff:      envDuration("RETRY_BACKOFF", 100*time.Millisecond),
	}
}
