package config

import (
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg := FromEnv()
	if cfg.Addr != ":8090" {
		t.Fatalf("addr = %q", cfg.Addr)
	}
	if cfg.DefaultZoom != 11 {
		t.Fatalf("default zoom = %d", cfg.DefaultZoom)
	}
	if cfg.CacheOpTimeout != 250*time.Millisecond {
		t.Fatalf("cache op timeout = %v", cfg.CacheOpTimeout)
	}
	if cfg.Invalidation.Enabled {
		t.Fatalf("invalidation enabled by default")
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("ADDR", ":9000")
	t.Setenv("DEFAULT_ZOOM", "13")
	t.Setenv("CACHE_OP_TIMEOUT", "1s")
	t.Setenv("INVALIDATION_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg := FromEnv()
	if cfg.Addr != ":9000" || cfg.DefaultZoom != 13 || cfg.CacheOpTimeout != time.Second {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if !cfg.Invalidation.Enabled || cfg.Invalidation.Brokers != "k1:9092,k2:9092" {
		t.Fatalf("invalidation overrides not applied: %+v", cfg.Invalidation)
	}
}

func TestFromEnv_IgnoresMalformedValues(t *testing.T) {
	t.Setenv("DEFAULT_ZOOM", "eleven")
	t.Setenv("CACHE_OP_TIMEOUT", "soon")
	t.Setenv("INVALIDATION_ENABLED", "maybe")

	cfg := FromEnv()
	if cfg.DefaultZoom != 11 || cfg.CacheOpTimeout != 250*time.Millisecond || cfg.Invalidation.Enabled {
		t.Fatalf("malformed values not ignored: %+v", cfg)
	}
}
