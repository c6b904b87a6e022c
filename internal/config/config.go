package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	Port string
	Host string

	// Auth
	AuthKey string // Bearer token for authentication, empty = no auth

	// Upload handling
	MaxUploadBytes int64

	// Evaluation
	EvalTimeout time.Duration

	// Verdict cache
	CacheCapacity int
	SafeTTL       time.Duration
	UnsafeTTL     time.Duration
	UnknownTTL    time.Duration

	// Persistent verdict store
	PersistentCache     bool
	PersistentCacheType string // "sqlite" or "mysql"
	PersistentCacheDSN  string
	PersistentCacheTTL  time.Duration

	// Local blacklist
	BlacklistPath    string
	MMDBPath         string
	HomoglyphAllowed []string

	// VirusTotal
	VTAPIKey             string
	VTRatePerMin         float64
	VTBurst              int
	VTMaliciousThreshold int

	// Google Safe Browsing
	GSBAPIKey     string
	GSBRatePerMin float64
	GSBBurst      int
}

func Load() *Config {
	cfg := &Config{
		Port:    envOrDefault("PORT", "8080"),
		Host:    envOrDefault("HOST", "0.0.0.0"),
		AuthKey: os.Getenv("AUTH_KEY"),

		MaxUploadBytes: envInt64OrDefault("MAX_UPLOAD_BYTES", 5*1024*1024),

		EvalTimeout: envMillisOrDefault("EVAL_TIMEOUT_MS", 8000),

		CacheCapacity: envIntOrDefault("CACHE_CAPACITY", 4096),
		SafeTTL:       envMillisOrDefault("CACHE_SAFE_TTL_MS", int64((6 * time.Hour).Milliseconds())),
		UnsafeTTL:     envMillisOrDefault("CACHE_UNSAFE_TTL_MS", int64((30 * time.Minute).Milliseconds())),
		UnknownTTL:    envMillisOrDefault("CACHE_UNKNOWN_TTL_MS", int64((2 * time.Minute).Milliseconds())),

		PersistentCache:     envOrDefault("PERSISTENT_CACHE", "false") == "true",
		PersistentCacheType: envOrDefault("PERSISTENT_CACHE_TYPE", "sqlite"),
		PersistentCacheDSN:  envOrDefault("PERSISTENT_CACHE_DSN", "data/verdicts.db"),
		PersistentCacheTTL:  envMillisOrDefault("PERSISTENT_CACHE_TTL_MS", int64((24 * time.Hour).Milliseconds())),

		BlacklistPath: os.Getenv("BLACKLIST_PATH"),
		MMDBPath:      envOrDefault("MMDB_PATH", "data/GeoLite2-ASN.mmdb"),

		VTAPIKey:             os.Getenv("VIRUSTOTAL_API_KEY"),
		VTRatePerMin:         envFloatOrDefault("VT_RATE_PER_MIN", 4), // free tier: 4 req/min
		VTBurst:              envIntOrDefault("VT_BURST", 4),
		VTMaliciousThreshold: envIntOrDefault("VT_MALICIOUS_THRESHOLD", 1),

		GSBAPIKey:     os.Getenv("GOOGLE_SAFE_BROWSING_API_KEY"),
		GSBRatePerMin: envFloatOrDefault("GSB_RATE_PER_MIN", 600),
		GSBBurst:      envIntOrDefault("GSB_BURST", 100),
	}

	if allowed := os.Getenv("HOMOGLYPH_ALLOWED_DOMAINS"); allowed != "" {
		cfg.HomoglyphAllowed = strings.Split(allowed, ",")
	}

	return cfg
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envInt64OrDefault(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envFloatOrDefault(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envMillisOrDefault(key string, def int64) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Duration(n) * time.Millisecond
		}
	}
	return time.Duration(def) * time.Millisecond
}
