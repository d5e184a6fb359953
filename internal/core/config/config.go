package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type InvalidationCfg struct {
	Enabled bool
	Brokers string
	Topic   string
	GroupID string
}

type Config struct {
	Addr             string
	LogLevel         string
	RedisAddr        string
	RasterServiceURL string
	DefaultZoom      int
	FormulaCacheSize int
	CacheOpTimeout   time.Duration
	MVTExtent        int
	Invalidation     InvalidationCfg
}

func FromEnv() Config {
	return Config{
		Addr:             getenv("ADDR", ":8090"),
		LogLevel:         getenv("LOG_LEVEL", "info"),
		RedisAddr:        getenv("REDIS_ADDR", "localhost:6379"),
		RasterServiceURL: getenv("RASTER_SERVICE_URL", "http://localhost:8080/raster"),
		DefaultZoom:      getint("DEFAULT_ZOOM", 11),
		FormulaCacheSize: getint("FORMULA_CACHE_SIZE", 256),
		CacheOpTimeout:   getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
		MVTExtent:        getint("MVT_EXTENT", 4096),
		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			Topic:   getenv("KAFKA_TOPIC", "raster-invalidation"),
			GroupID: getenv("KAFKA_GROUP_ID", "valuecount-invalidator"),
		},
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
