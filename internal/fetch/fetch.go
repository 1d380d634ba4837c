// Package fetch ensures vector tiles exist in the local cache, fetching
// them from the upstream provider on miss and coalescing concurrent
// requests for the same coordinate.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mlundh/tilegate/internal/flight"
	"github.com/mlundh/tilegate/internal/observability"
	"github.com/mlundh/tilegate/internal/store"
	"github.com/mlundh/tilegate/internal/tile"
)

// Fetcher coordinates vector tile fetches against one upstream provider.
type Fetcher struct {
	logger  *slog.Logger
	client  *http.Client
	store   *store.Store
	flights *flight.Registry

	// template URL with {z}, {x} and {y} placeholders; the placeholder
	// positions are a configuration detail and are substituted verbatim.
	urlTemplate string
	timeout     time.Duration
}

func New(logger *slog.Logger, client *http.Client, st *store.Store, urlTemplate string, timeout time.Duration) *Fetcher {
	return &Fetcher{
		logger:      logger,
		client:      client,
		store:       st,
		flights:     flight.NewRegistry(),
		urlTemplate: urlTemplate,
		timeout:     timeout,
	}
}

// EnsureVector guarantees a vector cache entry (possibly a sentinel) exists
// for coord and returns it. A cache hit costs one stat and no network I/O.
// Concurrent callers for the same coordinate share a single upstream call.
// Failures are propagated to every attached caller and never cached.
func (f *Fetcher) EnsureVector(ctx context.Context, coord tile.Coordinate) (store.Entry, error) {
	if e, err := f.store.Lookup(store.KindVector, coord); err == nil {
		if e.Sentinel() {
			observability.IncCacheSentinel("vector")
		} else {
			observability.IncCacheHit("vector")
		}
		return e, nil
	} else if !errors.Is(err, store.ErrNotCached) {
		return store.Entry{}, err
	}
	observability.IncCacheMiss("vector")

	key := "vector:" + coord.Key()
	v, shared, err := f.flights.AttachOrStart(key, func() (any, error) {
		observability.SetInflight("vector", f.flights.Len())
		return f.fetch(ctx, coord)
	})
	observability.SetInflight("vector", f.flights.Len())
	if err != nil {
		return store.Entry{}, err
	}
	e := v.(store.Entry)
	if shared {
		f.logger.Debug("attached to in-flight fetch", "tile", coord.Key())
	}
	return e, nil
}

// fetch performs the single upstream request for a coordinate.
func (f *Fetcher) fetch(ctx context.Context, coord tile.Coordinate) (store.Entry, error) {
	// The initial lookup ran outside the registry lock, so an earlier
	// call may have settled and written the entry in between.
	if e, err := f.store.Lookup(store.KindVector, coord); err == nil {
		return e, nil
	}

	// A caller abandoning its request must not cancel work other callers
	// are attached to, so the fetch deadline stands on its own.
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
	defer cancel()

	u := f.tileURL(coord)
	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, u, nil)
	if err != nil {
		return store.Entry{}, fmt.Errorf("build upstream request: %w", err)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	dur := time.Since(start)
	if err != nil {
		if fetchCtx.Err() != nil {
			observability.ObserveUpstream("timeout", dur.Seconds())
			f.logger.Warn("upstream fetch timed out", "tile", coord.Key(), "timeout", f.timeout.String())
			return store.Entry{}, fmt.Errorf("tile %s: %w", coord.Key(), ErrUpstreamTimeout)
		}
		observability.ObserveUpstream("error", dur.Seconds())
		return store.Entry{}, fmt.Errorf("tile %s upstream: %w", coord.Key(), err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			f.logger.Warn("close upstream body", "err", cerr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		observability.ObserveUpstream("status_"+strconv.Itoa(resp.StatusCode), dur.Seconds())
		f.logger.Warn("upstream returned non-2xx", "tile", coord.Key(), "status", resp.StatusCode)
		return store.Entry{}, &UpstreamError{Status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if fetchCtx.Err() != nil {
			observability.ObserveUpstream("timeout", time.Since(start).Seconds())
			return store.Entry{}, fmt.Errorf("tile %s: %w", coord.Key(), ErrUpstreamTimeout)
		}
		observability.ObserveUpstream("error", time.Since(start).Seconds())
		return store.Entry{}, fmt.Errorf("tile %s read upstream body: %w", coord.Key(), err)
	}
	observability.ObserveUpstream("ok", time.Since(start).Seconds())

	// 2xx with an empty body means the tile is outside the data's
	// coverage. Record it so this coordinate never hits upstream again.
	if len(body) == 0 {
		e, err := f.store.WriteSentinel(coord)
		if err != nil {
			return store.Entry{}, fmt.Errorf("tile %s sentinel: %w", coord.Key(), err)
		}
		f.logger.Info("recorded empty-tile sentinel", "tile", coord.Key())
		return e, nil
	}

	e, err := f.store.Write(store.KindVector, coord, body)
	if err != nil {
		return store.Entry{}, fmt.Errorf("tile %s: %w", coord.Key(), err)
	}
	f.logger.Info("fetched vector tile", "tile", coord.Key(), "bytes", e.Size, "dur", dur.String())
	return e, nil
}

func (f *Fetcher) tileURL(coord tile.Coordinate) string {
	r := strings.NewReplacer(
		"{z}", strconv.FormatUint(uint64(coord.Zoom), 10),
		"{x}", strconv.FormatUint(uint64(coord.Column), 10),
		"{y}", strconv.FormatUint(uint64(coord.Row), 10),
	)
	return r.Replace(f.urlTemplate)
}
