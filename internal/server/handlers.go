package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mlundh/tilegate/internal/fallback"
	"github.com/mlundh/tilegate/internal/fetch"
	"github.com/mlundh/tilegate/internal/observability"
	"github.com/mlundh/tilegate/internal/render"
	"github.com/mlundh/tilegate/internal/store"
	"github.com/mlundh/tilegate/internal/tile"
)

const longLivedCacheControl = "public, max-age=86400"

// Handlers serves the tile routes on top of the coordination layer.
type Handlers struct {
	logger   *slog.Logger
	store    *store.Store
	fetcher  *fetch.Fetcher
	raster   *render.Coordinator
	resolver *fallback.Resolver
}

func NewHandlers(logger *slog.Logger, st *store.Store, f *fetch.Fetcher, rc *render.Coordinator, res *fallback.Resolver) *Handlers {
	return &Handlers{logger: logger, store: st, fetcher: f, raster: rc, resolver: res}
}

// Vector serves GET /vector/{z}/{x}/{y}.pbf: 200 with the tile body,
// 204 when the cache entry is a sentinel, 502/504 on upstream failure.
func (h *Handlers) Vector(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
	defer func() {
		observability.ObserveHTTP(r.Method, "/vector", sw.code, time.Since(start).Seconds())
	}()

	coord, err := tile.Parse(chi.URLParam(r, "z"), chi.URLParam(r, "x"), chi.URLParam(r, "y"))
	if err != nil {
		http.Error(sw, err.Error(), http.StatusBadRequest)
		return
	}

	entry, err := h.fetcher.EnsureVector(r.Context(), coord)
	if err != nil {
		var ue *fetch.UpstreamError
		switch {
		case errors.As(err, &ue):
			http.Error(sw, "upstream unavailable", http.StatusBadGateway)
		case errors.Is(err, fetch.ErrUpstreamTimeout):
			http.Error(sw, "upstream timeout", http.StatusGatewayTimeout)
		default:
			h.logger.ErrorContext(r.Context(), "vector tile failed", "tile", coord.Key(), "err", err)
			http.Error(sw, "tile unavailable", http.StatusBadGateway)
		}
		return
	}

	if entry.Sentinel() {
		sw.WriteHeader(http.StatusNoContent)
		return
	}

	body, err := h.store.Read(store.KindVector, coord)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "read vector tile", "tile", coord.Key(), "err", err)
		http.Error(sw, "tile unavailable", http.StatusBadGateway)
		return
	}

	sw.Header().Set("Content-Type", "application/x-protobuf")
	sw.Header().Set("Cache-Control", longLivedCacheControl)
	sw.Header().Set("ETag", `"`+coord.ETag("vector")+`"`)
	sw.Header().Set("Content-Length", strconv.Itoa(len(body)))
	_, _ = sw.Write(body)
}

// Raster serves GET /raster/{z}/{x}/{y}.png. Aside from coordinate
// validation it always answers 200 with a servable PNG: the real tile,
// the blank tile or the error tile per the fallback policy.
func (h *Handlers) Raster(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
	defer func() {
		observability.ObserveHTTP(r.Method, "/raster", sw.code, time.Since(start).Seconds())
	}()

	coord, err := tile.Parse(chi.URLParam(r, "z"), chi.URLParam(r, "x"), chi.URLParam(r, "y"))
	if err != nil {
		http.Error(sw, err.Error(), http.StatusBadRequest)
		return
	}

	outcome, err := h.raster.EnsureRaster(r.Context(), coord)
	res, err := h.resolver.Resolve(coord, outcome, err)
	if err != nil {
		// Only reachable when the fallback assets themselves cannot be
		// produced; there is nothing left to serve.
		h.logger.ErrorContext(r.Context(), "fallback assets unavailable", "tile", coord.Key(), "err", err)
		http.Error(sw, "tile unavailable", http.StatusInternalServerError)
		return
	}

	switch res.Source {
	case fallback.SourceRaster:
		sw.Header().Set("Cache-Control", longLivedCacheControl)
		sw.Header().Set("ETag", `"`+coord.ETag("raster")+`"`)
	case fallback.SourceBlank:
		sw.Header().Set("Cache-Control", "public, max-age=300")
	case fallback.SourceError:
		// must be retried by clients
		sw.Header().Set("Cache-Control", "no-store")
	}
	sw.Header().Set("Content-Type", "image/png")
	sw.Header().Set("Content-Length", strconv.Itoa(len(res.Body)))
	_, _ = sw.Write(res.Body)
}

// LegacyRaster redirects the old /tiles path to /raster.
func (h *Handlers) LegacyRaster(w http.ResponseWriter, r *http.Request) {
	z := chi.URLParam(r, "z")
	x := chi.URLParam(r, "x")
	y := chi.URLParam(r, "y")
	http.Redirect(w, r, "/raster/"+z+"/"+x+"/"+y+".png", http.StatusMovedPermanently)
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
