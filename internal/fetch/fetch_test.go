package fetch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mlundh/tilegate/internal/store"
	"github.com/mlundh/tilegate/internal/tile"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func mustCoord(t *testing.T, z, x, y string) tile.Coordinate {
	t.Helper()
	c, err := tile.Parse(z, x, y)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return c
}

// upstream double in the style of an upstream tile provider: counts calls
// and can hold responses until released.
type upstream struct {
	calls   int64
	body    []byte
	status  int
	release chan struct{}
	lastURL atomic.Value
}

func (u *upstream) handler(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&u.calls, 1)
	u.lastURL.Store(r.URL.Path)
	if u.release != nil {
		<-u.release
	}
	status := u.status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(u.body)
}

func newFetcher(t *testing.T, st *store.Store, template string, timeout time.Duration) *Fetcher {
	t.Helper()
	return New(testLogger(), &http.Client{}, st, template, timeout)
}

func TestEnsureVector_FetchesAndCaches(t *testing.T) {
	up := &upstream{body: []byte("vector-tile-bytes")}
	srv := httptest.NewServer(http.HandlerFunc(up.handler))
	defer srv.Close()

	st := newStore(t)
	f := newFetcher(t, st, srv.URL+"/{z}/{x}/{y}.pbf", 2*time.Second)
	c := mustCoord(t, "13", "7551", "4724")

	e, err := f.EnsureVector(context.Background(), c)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if e.Sentinel() || e.Size == 0 {
		t.Fatalf("entry = %+v", e)
	}
	if got := up.lastURL.Load().(string); got != "/13/7551/4724.pbf" {
		t.Fatalf("upstream path = %q", got)
	}

	// cache idempotence: no further network I/O
	for range 5 {
		if _, err := f.EnsureVector(context.Background(), c); err != nil {
			t.Fatalf("cached ensure: %v", err)
		}
	}
	if got := atomic.LoadInt64(&up.calls); got != 1 {
		t.Fatalf("upstream calls = %d, want 1", got)
	}
}

func TestEnsureVector_TemplateOrderingHonoredVerbatim(t *testing.T) {
	up := &upstream{body: []byte("x")}
	srv := httptest.NewServer(http.HandlerFunc(up.handler))
	defer srv.Close()

	st := newStore(t)
	// upstream orders its path row/column/zoom; must not be "fixed"
	f := newFetcher(t, st, srv.URL+"/tiles/{y}/{x}/{z}.pbf", 2*time.Second)
	c := mustCoord(t, "3", "2", "1")

	if _, err := f.EnsureVector(context.Background(), c); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if got := up.lastURL.Load().(string); got != "/tiles/1/2/3.pbf" {
		t.Fatalf("upstream path = %q, want /tiles/1/2/3.pbf", got)
	}
}

func TestEnsureVector_ConcurrentCallersShareOneFetch(t *testing.T) {
	up := &upstream{body: []byte("shared"), release: make(chan struct{})}
	srv := httptest.NewServer(http.HandlerFunc(up.handler))
	defer srv.Close()

	st := newStore(t)
	f := newFetcher(t, st, srv.URL+"/{z}/{x}/{y}.pbf", 5*time.Second)
	c := mustCoord(t, "13", "7551", "4724")

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	wg.Add(n)
	for i := range n {
		go func() {
			defer wg.Done()
			_, errs[i] = f.EnsureVector(context.Background(), c)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(up.release)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	if got := atomic.LoadInt64(&up.calls); got != 1 {
		t.Fatalf("upstream calls = %d, want 1", got)
	}
}

func TestEnsureVector_EmptyBodyWritesStableSentinel(t *testing.T) {
	up := &upstream{body: nil}
	srv := httptest.NewServer(http.HandlerFunc(up.handler))
	defer srv.Close()

	st := newStore(t)
	f := newFetcher(t, st, srv.URL+"/{z}/{x}/{y}.pbf", 2*time.Second)
	c := mustCoord(t, "20", "999999", "999999")

	e, err := f.EnsureVector(context.Background(), c)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if !e.Sentinel() {
		t.Fatalf("expected sentinel, got %+v", e)
	}

	// once recorded, the sentinel never causes another upstream call
	for range 10 {
		e, err := f.EnsureVector(context.Background(), c)
		if err != nil {
			t.Fatalf("sentinel ensure: %v", err)
		}
		if !e.Sentinel() {
			t.Fatalf("sentinel lost: %+v", e)
		}
	}
	if got := atomic.LoadInt64(&up.calls); got != 1 {
		t.Fatalf("upstream calls = %d, want 1", got)
	}
}

func TestEnsureVector_Non2xxFailsWithoutCaching(t *testing.T) {
	up := &upstream{status: http.StatusServiceUnavailable}
	srv := httptest.NewServer(http.HandlerFunc(up.handler))
	defer srv.Close()

	st := newStore(t)
	f := newFetcher(t, st, srv.URL+"/{z}/{x}/{y}.pbf", 2*time.Second)
	c := mustCoord(t, "1", "2", "3")

	_, err := f.EnsureVector(context.Background(), c)
	var ue *UpstreamError
	if !errors.As(err, &ue) || ue.Status != http.StatusServiceUnavailable {
		t.Fatalf("err = %v, want UpstreamError{503}", err)
	}
	if _, err := st.Lookup(store.KindVector, c); !errors.Is(err, store.ErrNotCached) {
		t.Fatalf("failure must not be cached, lookup = %v", err)
	}

	// a later request retries upstream
	_, _ = f.EnsureVector(context.Background(), c)
	if got := atomic.LoadInt64(&up.calls); got != 2 {
		t.Fatalf("upstream calls = %d, want 2 (retry allowed)", got)
	}
}

func TestEnsureVector_TimeoutAbortsFetch(t *testing.T) {
	up := &upstream{body: []byte("slow"), release: make(chan struct{})}
	srv := httptest.NewServer(http.HandlerFunc(up.handler))
	defer srv.Close()
	defer close(up.release)

	st := newStore(t)
	f := newFetcher(t, st, srv.URL+"/{z}/{x}/{y}.pbf", 50*time.Millisecond)
	c := mustCoord(t, "4", "5", "6")

	start := time.Now()
	_, err := f.EnsureVector(context.Background(), c)
	if !errors.Is(err, ErrUpstreamTimeout) {
		t.Fatalf("err = %v, want ErrUpstreamTimeout", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("fetch was not aborted by the timeout")
	}
	if _, err := st.Lookup(store.KindVector, c); !errors.Is(err, store.ErrNotCached) {
		t.Fatalf("timeout must not be cached, lookup = %v", err)
	}
}
