package config

import (
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg := FromEnv()
	if cfg.Addr != ":8080" {
		t.Fatalf("addr = %q", cfg.Addr)
	}
	if cfg.FetchTimeout != 10*time.Second {
		t.Fatalf("fetch timeout = %v", cfg.FetchTimeout)
	}
	if cfg.VectorTTL != 0 || cfg.RasterTTL != 0 {
		t.Fatalf("ttls = %v/%v, want infinite", cfg.VectorTTL, cfg.RasterTTL)
	}
	if cfg.RenderWorkers != 4 {
		t.Fatalf("render workers = %d", cfg.RenderWorkers)
	}
	if !cfg.PersistEmptyTiles {
		t.Fatal("persist empty tiles should default on")
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("UPSTREAM_URL", "https://tiles.example.com/{z}/{x}/{y}.pbf")
	t.Setenv("FETCH_TIMEOUT", "3s")
	t.Setenv("VECTOR_TTL", "24h")
	t.Setenv("CLEANUP_MAX_DELETES", "500")
	t.Setenv("LOG_CONSOLE", "yes")

	cfg := FromEnv()
	if cfg.UpstreamURL != "https://tiles.example.com/{z}/{x}/{y}.pbf" {
		t.Fatalf("upstream = %q", cfg.UpstreamURL)
	}
	if cfg.FetchTimeout != 3*time.Second {
		t.Fatalf("fetch timeout = %v", cfg.FetchTimeout)
	}
	if cfg.VectorTTL != 24*time.Hour {
		t.Fatalf("vector ttl = %v", cfg.VectorTTL)
	}
	if cfg.CleanupMaxDel != 500 {
		t.Fatalf("cleanup max deletes = %d", cfg.CleanupMaxDel)
	}
	if !cfg.LogConsole {
		t.Fatal("log console override ignored")
	}
}

func TestValidate(t *testing.T) {
	valid := Config{
		UpstreamURL:  "https://tiles.example.com/{z}/{x}/{y}.pbf",
		RenderCmd:    "/usr/bin/tilerender",
		FetchTimeout: time.Second,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing upstream", func(c *Config) { c.UpstreamURL = "" }},
		{"missing z placeholder", func(c *Config) { c.UpstreamURL = "https://t.example.com/{x}/{y}.pbf" }},
		{"missing render cmd", func(c *Config) { c.RenderCmd = "" }},
		{"zero fetch timeout", func(c *Config) { c.FetchTimeout = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := valid
			tc.mutate(&c)
			if err := c.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
