// Package fallback turns raster pipeline outcomes into servable tiles.
// Nothing below the HTTP boundary terminates the process for a single bad
// request: every coordinator failure degrades to a blank or error tile.
package fallback

import (
	"errors"
	"log/slog"

	"github.com/mlundh/tilegate/internal/fetch"
	"github.com/mlundh/tilegate/internal/render"
	"github.com/mlundh/tilegate/internal/store"
	"github.com/mlundh/tilegate/internal/tile"
)

// Source identifies which tile body a resolution carries.
type Source int

const (
	// SourceRaster is a real rendered tile; safe for long-lived caching.
	SourceRaster Source = iota
	// SourceBlank is the blank tile, served for empty coverage and for
	// upstream failures.
	SourceBlank
	// SourceError is the error tile, served for render failures. Never
	// cached so the next request retries.
	SourceError
)

// Resolution is a servable tile body plus its provenance.
type Resolution struct {
	Body   []byte
	Source Source
}

// Resolver applies the fallback policy table to raster outcomes.
type Resolver struct {
	logger *slog.Logger
	store  *store.Store
	assets *Assets

	// persistEmpty persists a blank copy at the raster cache path when the
	// vector prerequisite is a sentinel, making later requests O(1). Blank
	// tiles reached via upstream failure are deliberately never persisted:
	// that would mask a recovered upstream until the next sweep.
	persistEmpty bool
}

func NewResolver(logger *slog.Logger, st *store.Store, assets *Assets, persistEmpty bool) *Resolver {
	return &Resolver{logger: logger, store: st, assets: assets, persistEmpty: persistEmpty}
}

// Resolve maps an EnsureRaster outcome to a servable tile. It only fails
// when even the fallback assets cannot be produced.
func (r *Resolver) Resolve(coord tile.Coordinate, out render.Outcome, err error) (Resolution, error) {
	switch {
	case err == nil && !out.Empty:
		body, rerr := r.store.Read(store.KindRaster, coord)
		if rerr != nil {
			// The sweeper may have deleted the file between the lookup
			// and this read; degrade rather than fail.
			r.logger.Warn("raster entry unreadable", "tile", coord.Key(), "err", rerr)
			return r.errorTile()
		}
		return Resolution{Body: body, Source: SourceRaster}, nil

	case err == nil && out.Empty:
		body, berr := r.assets.Blank()
		if berr != nil {
			return Resolution{}, berr
		}
		if r.persistEmpty {
			if _, werr := r.store.Write(store.KindRaster, coord, body); werr != nil {
				r.logger.Warn("persist blank tile", "tile", coord.Key(), "err", werr)
			}
		}
		return Resolution{Body: body, Source: SourceBlank}, nil

	case errors.Is(err, render.ErrRenderFailure):
		r.logger.Warn("serving error tile", "tile", coord.Key(), "err", err)
		return r.errorTile()

	case isUpstreamFailure(err):
		r.logger.Warn("serving blank tile for upstream failure", "tile", coord.Key(), "err", err)
		body, berr := r.assets.Blank()
		if berr != nil {
			return Resolution{}, berr
		}
		return Resolution{Body: body, Source: SourceBlank}, nil

	default:
		r.logger.Error("unexpected raster failure", "tile", coord.Key(), "err", err)
		return r.errorTile()
	}
}

func (r *Resolver) errorTile() (Resolution, error) {
	body, err := r.assets.Error()
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{Body: body, Source: SourceError}, nil
}

func isUpstreamFailure(err error) bool {
	var ue *fetch.UpstreamError
	return errors.As(err, &ue) || errors.Is(err, fetch.ErrUpstreamTimeout)
}
