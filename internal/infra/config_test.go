package infra

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("ASSET_ROOT", "")
	t.Setenv("CACHE_ROOT", "")
	t.Setenv("IMAGE_QUALITY", "")
	t.Setenv("DELIVER_TIMEOUT_SECONDS", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.AssetRoot != "assets" {
		t.Fatalf("AssetRoot = %q", cfg.AssetRoot)
	}
	if cfg.CacheRoot != "cache/images" {
		t.Fatalf("CacheRoot = %q", cfg.CacheRoot)
	}
	if cfg.ImageQuality != 80 {
		t.Fatalf("ImageQuality = %d, want 80", cfg.ImageQuality)
	}
	if cfg.WebPEffort != 4 {
		t.Fatalf("WebPEffort = %d, want 4", cfg.WebPEffort)
	}
	if cfg.MaxSourceBytes != 10<<20 {
		t.Fatalf("MaxSourceBytes = %d, want 10 MiB", cfg.MaxSourceBytes)
	}
	if cfg.DeliverTimeout != time.Minute {
		t.Fatalf("DeliverTimeout = %s, want 1m", cfg.DeliverTimeout)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("ASSET_ROOT", "/srv/assets")
	t.Setenv("CACHE_ROOT", "/var/cache/img")
	t.Setenv("IMAGE_QUALITY", "90")
	t.Setenv("MAX_SOURCE_MIB", "4")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.AssetRoot != "/srv/assets" || cfg.CacheRoot != "/var/cache/img" {
		t.Fatalf("roots = %q, %q", cfg.AssetRoot, cfg.CacheRoot)
	}
	if cfg.ImageQuality != 90 {
		t.Fatalf("ImageQuality = %d", cfg.ImageQuality)
	}
	if cfg.MaxSourceBytes != 4<<20 {
		t.Fatalf("MaxSourceBytes = %d", cfg.MaxSourceBytes)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example" {
		t.Fatalf("CORSAllowedOrigins = %#v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadConfigRejectsBadQuality(t *testing.T) {
	t.Setenv("IMAGE_QUALITY", "0")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for IMAGE_QUALITY=0")
	}
	t.Setenv("IMAGE_QUALITY", "101")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for IMAGE_QUALITY=101")
	}
}

func TestLoadConfigRejectsBadEffort(t *testing.T) {
	t.Setenv("WEBP_EFFORT", "9")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for WEBP_EFFORT=9")
	}
}
