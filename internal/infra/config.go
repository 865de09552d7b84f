package infra

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv string
	Port   string

	// AssetRoot holds the original images; read-only to the service.
	AssetRoot string
	// CacheRoot holds generated derivatives; created at startup.
	CacheRoot string

	ImageQuality   int
	WebPEffort     int
	MaxSourceBytes int64

	DeliverTimeout       time.Duration
	MaxConcurrentEncodes int64

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	CORSAllowedOrigins []string
	RateLimitPerMin    int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:               getEnv("APP_ENV", "development"),
		Port:                 getEnv("PORT", "8080"),
		AssetRoot:            getEnv("ASSET_ROOT", "assets"),
		CacheRoot:            getEnv("CACHE_ROOT", "cache/images"),
		ImageQuality:         getEnvInt("IMAGE_QUALITY", 80),
		WebPEffort:           getEnvInt("WEBP_EFFORT", 4),
		MaxSourceBytes:       int64(getEnvInt("MAX_SOURCE_MIB", 10)) << 20,
		DeliverTimeout:       time.Second * time.Duration(getEnvInt("DELIVER_TIMEOUT_SECONDS", 60)),
		MaxConcurrentEncodes: int64(getEnvInt("MAX_CONCURRENT_ENCODES", runtime.NumCPU())),
		HTTPReadTimeout:      time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:     time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 120)),
		HTTPIdleTimeout:      time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		CORSAllowedOrigins:   getEnvList("CORS_ALLOWED_ORIGINS", nil),
		RateLimitPerMin:      getEnvInt("RATE_LIMIT_PER_MINUTE", 120),
	}

	if cfg.AssetRoot == "" {
		return nil, fmt.Errorf("ASSET_ROOT is required")
	}
	if cfg.CacheRoot == "" {
		return nil, fmt.Errorf("CACHE_ROOT is required")
	}
	if cfg.ImageQuality < 1 || cfg.ImageQuality > 100 {
		return nil, fmt.Errorf("IMAGE_QUALITY must be in 1..100, got %d", cfg.ImageQuality)
	}
	if cfg.WebPEffort < 0 || cfg.WebPEffort > 6 {
		return nil, fmt.Errorf("WEBP_EFFORT must be in 0..6, got %d", cfg.WebPEffort)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
