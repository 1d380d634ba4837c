// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type MetricsCfg struct {
	Enabled bool
	Addr    string
	Path    string
}

type Config struct {
	Addr       string
	LogLevel   string
	LogConsole bool
	LogSampleN int

	// UpstreamURL is a template with {z}, {x} and {y} placeholders. The
	// placeholder ordering is preserved verbatim; some providers order
	// their path segments differently from zoom/column/row.
	UpstreamURL  string
	FetchTimeout time.Duration

	CacheDir        string
	VectorTTL       time.Duration
	RasterTTL       time.Duration
	CleanupInterval time.Duration
	CleanupMaxDel   int
	CleanupPrune    bool
	HotCacheEntries int

	RenderCmd         string
	RenderStyle       string
	RenderTimeout     time.Duration
	RenderWorkers     int
	PersistEmptyTiles bool

	Metrics MetricsCfg
}

func FromEnv() Config {
	return Config{
		Addr:       getenv("ADDR", ":8080"),
		LogLevel:   getenv("LOG_LEVEL", "info"),
		LogConsole: getbool("LOG_CONSOLE", false),
		LogSampleN: getint("LOG_SAMPLE_N", 0),

		UpstreamURL:  getenv("UPSTREAM_URL", ""),
		FetchTimeout: getduration("FETCH_TIMEOUT", 10*time.Second),

		CacheDir:        getenv("CACHE_DIR", "./tilecache"),
		VectorTTL:       getduration("VECTOR_TTL", 0),
		RasterTTL:       getduration("RASTER_TTL", 0),
		CleanupInterval: getduration("CLEANUP_INTERVAL", time.Hour),
		CleanupMaxDel:   getint("CLEANUP_MAX_DELETES", 0),
		CleanupPrune:    getbool("CLEANUP_PRUNE_DIRS", true),
		HotCacheEntries: getint("HOT_CACHE_ENTRIES", 512),

		RenderCmd:         getenv("RENDER_CMD", ""),
		RenderStyle:       getenv("RENDER_STYLE", "style.json"),
		RenderTimeout:     getduration("RENDER_TIMEOUT", 30*time.Second),
		RenderWorkers:     getint("RENDER_WORKERS", 4),
		PersistEmptyTiles: getbool("PERSIST_EMPTY_TILES", true),

		Metrics: MetricsCfg{
			Enabled: getbool("METRICS_ENABLED", false),
			Addr:    getenv("METRICS_ADDR", ":9090"),
			Path:    getenv("METRICS_PATH", "/metrics"),
		},
	}
}

// Validate rejects configurations the coordinators cannot run with.
func (c Config) Validate() error {
	if c.UpstreamURL == "" {
		return errors.New("UPSTREAM_URL is required")
	}
	for _, ph := range []string{"{z}", "{x}", "{y}"} {
		if !strings.Contains(c.UpstreamURL, ph) {
			return fmt.Errorf("UPSTREAM_URL missing %s placeholder", ph)
		}
	}
	if c.RenderCmd == "" {
		return errors.New("RENDER_CMD is required")
	}
	if c.FetchTimeout <= 0 {
		return errors.New("FETCH_TIMEOUT must be positive")
	}
	return nil
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
