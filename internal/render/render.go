// Package render ensures raster tiles exist in the local cache, delegating
// pixel production to an external renderer and coalescing concurrent
// requests for the same coordinate.
package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mlundh/tilegate/internal/fetch"
	"github.com/mlundh/tilegate/internal/flight"
	"github.com/mlundh/tilegate/internal/observability"
	"github.com/mlundh/tilegate/internal/store"
	"github.com/mlundh/tilegate/internal/tile"
)

// ErrRenderFailure is returned when the renderer exits abnormally or
// produces no output. The failure is never cached, so the next request
// for the coordinate retries the render.
var ErrRenderFailure = errors.New("render failure")

// Outcome is the result of an EnsureRaster call. Either Entry holds the
// raster cache entry, or Empty is set: the vector prerequisite was a
// sentinel and no render was attempted.
type Outcome struct {
	Entry store.Entry
	Empty bool
}

// Coordinator produces raster cache entries on demand.
type Coordinator struct {
	logger  *slog.Logger
	store   *store.Store
	fetcher *fetch.Fetcher
	pool    *Pool
	flights *flight.Registry
	style   string
}

func NewCoordinator(logger *slog.Logger, st *store.Store, f *fetch.Fetcher, pool *Pool, style string) *Coordinator {
	return &Coordinator{
		logger:  logger,
		store:   st,
		fetcher: f,
		pool:    pool,
		flights: flight.NewRegistry(),
		style:   style,
	}
}

// EnsureRaster guarantees a raster outcome for coord: a cache entry, or
// the distinguished empty outcome when the vector prerequisite is a
// sentinel. Concurrent callers for the same coordinate share one render.
func (c *Coordinator) EnsureRaster(ctx context.Context, coord tile.Coordinate) (Outcome, error) {
	if e, err := c.store.Lookup(store.KindRaster, coord); err == nil {
		observability.IncCacheHit("raster")
		return Outcome{Entry: e}, nil
	} else if !errors.Is(err, store.ErrNotCached) {
		return Outcome{}, err
	}
	observability.IncCacheMiss("raster")

	key := "raster:" + coord.Key()
	v, shared, err := c.flights.AttachOrStart(key, func() (any, error) {
		observability.SetInflight("raster", c.flights.Len())
		return c.produce(ctx, coord)
	})
	observability.SetInflight("raster", c.flights.Len())
	if err != nil {
		return Outcome{}, err
	}
	if shared {
		c.logger.Debug("attached to in-flight render", "tile", coord.Key())
	}
	return v.(Outcome), nil
}

func (c *Coordinator) produce(ctx context.Context, coord tile.Coordinate) (Outcome, error) {
	// An earlier call may have settled between our lookup and the
	// registry registration.
	if e, err := c.store.Lookup(store.KindRaster, coord); err == nil {
		return Outcome{Entry: e}, nil
	}

	vec, err := c.fetcher.EnsureVector(ctx, coord)
	if err != nil {
		return Outcome{}, err
	}
	if vec.Sentinel() {
		// Upstream has no data here. The blank tile stays re-derivable
		// from the sentinel; the fallback layer decides on persistence.
		return Outcome{Empty: true}, nil
	}

	out := c.store.Path(store.KindRaster, coord)
	staging := out + ".tmp"
	job := Job{
		Style:      c.style,
		Zoom:       coord.Zoom,
		Column:     coord.Column,
		Row:        coord.Row,
		VectorPath: vec.Path,
		OutputPath: staging,
	}

	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return Outcome{}, fmt.Errorf("tile %s: create raster dir: %w", coord.Key(), err)
	}

	start := time.Now()
	renderErr := c.pool.Render(context.WithoutCancel(ctx), job)
	dur := time.Since(start)

	if renderErr != nil {
		_ = os.Remove(staging)
		observability.ObserveRender("failure", dur.Seconds())
		c.logger.Warn("render failed", "tile", coord.Key(), "err", renderErr)
		return Outcome{}, fmt.Errorf("tile %s: %w: %w", coord.Key(), ErrRenderFailure, renderErr)
	}

	fi, err := os.Stat(staging)
	if err != nil || fi.Size() == 0 {
		_ = os.Remove(staging)
		observability.ObserveRender("no_output", dur.Seconds())
		return Outcome{}, fmt.Errorf("tile %s: %w: renderer produced no output", coord.Key(), ErrRenderFailure)
	}
	if err := os.Rename(staging, out); err != nil {
		_ = os.Remove(staging)
		return Outcome{}, fmt.Errorf("tile %s: publish raster: %w", coord.Key(), err)
	}

	e, err := c.store.Lookup(store.KindRaster, coord)
	if err != nil {
		return Outcome{}, fmt.Errorf("tile %s: stat rendered tile: %w", coord.Key(), err)
	}
	observability.ObserveRender("ok", dur.Seconds())
	c.logger.Info("rendered raster tile", "tile", coord.Key(), "bytes", e.Size, "dur", dur.String())
	return Outcome{Entry: e}, nil
}
