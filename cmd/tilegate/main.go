package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mlundh/tilegate/internal/config"
	"github.com/mlundh/tilegate/internal/fallback"
	"github.com/mlundh/tilegate/internal/fetch"
	"github.com/mlundh/tilegate/internal/httpclient"
	"github.com/mlundh/tilegate/internal/logger"
	"github.com/mlundh/tilegate/internal/observability"
	"github.com/mlundh/tilegate/internal/render"
	"github.com/mlundh/tilegate/internal/server"
	"github.com/mlundh/tilegate/internal/store"
	"github.com/mlundh/tilegate/internal/sweep"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	addrFlag := flag.String("addr", "", "listen address override")
	flag.Parse()

	cfg := config.FromEnv()
	if *addrFlag != "" {
		cfg.Addr = strings.TrimSpace(*addrFlag)
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Component: "tilegate",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	if err := cfg.Validate(); err != nil {
		appLog.Error("invalid configuration", "err", err)
		return 1
	}

	observability.ExposeBuildInfo(Version)
	appLog.Info("starting tilegate",
		"addr", cfg.Addr,
		"version", Version,
		"upstream", cfg.UpstreamURL,
		"cache_dir", cfg.CacheDir)

	st, err := store.New(cfg.CacheDir, cfg.HotCacheEntries)
	if err != nil {
		appLog.Error("cache store setup failed", "err", err)
		return 1
	}

	fetcher := fetch.New(appLog, httpclient.NewOutbound(), st, cfg.UpstreamURL, cfg.FetchTimeout)

	pool := render.NewPool(&render.ProcessRenderer{Command: cfg.RenderCmd}, cfg.RenderWorkers, cfg.RenderTimeout)
	defer pool.Close()
	raster := render.NewCoordinator(appLog, st, fetcher, pool, cfg.RenderStyle)

	assets := fallback.NewAssets(filepath.Join(cfg.CacheDir, "assets"))
	resolver := fallback.NewResolver(appLog, st, assets, cfg.PersistEmptyTiles)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweeper := sweep.New(appLog, []sweep.Target{
		{Kind: store.KindVector, Root: st.Root(store.KindVector), TTL: cfg.VectorTTL},
		{Kind: store.KindRaster, Root: st.Root(store.KindRaster), TTL: cfg.RasterTTL},
	}, sweep.Config{
		Interval:   cfg.CleanupInterval,
		MaxDeletes: cfg.CleanupMaxDel,
		PruneDirs:  cfg.CleanupPrune,
		Exclude:    []string{assets.BlankPath(), assets.ErrorPath()},
	})
	go sweeper.Run(ctx)

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.Handler())

		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		}

		go func() {
			log.Printf("metrics: listening on %s%s", cfg.Metrics.Addr, cfg.Metrics.Path)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("metrics server exited: %v", err)
			}
		}()

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Printf("metrics: shutdown error: %v", err)
			}
		}()
	}

	handlers := server.NewHandlers(appLog, st, fetcher, raster, resolver)
	if err := server.Run(ctx, cfg.Addr, appLog, server.Router(appLog, handlers)); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
