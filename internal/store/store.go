// Package store is the disk-backed tile cache. It keeps one directory tree
// per resource kind and treats zero-byte vector files as sentinels: a
// recorded "upstream has no data here", distinct from "not yet fetched".
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mlundh/tilegate/internal/tile"
)

// ErrNotCached indicates no cache entry exists for the coordinate.
var ErrNotCached = errors.New("not cached")

// Kind selects one of the two cache trees.
type Kind int

const (
	KindVector Kind = iota
	KindRaster
)

func (k Kind) String() string {
	if k == KindRaster {
		return "raster"
	}
	return "vector"
}

// Entry describes a cached tile file.
type Entry struct {
	Kind    Kind
	Path    string
	Size    int64
	ModTime time.Time
}

// Sentinel reports whether the entry records an explicit empty upstream
// response. Only vector entries carry sentinel semantics.
func (e Entry) Sentinel() bool {
	return e.Kind == KindVector && e.Size == 0
}

// Store is a per-kind key to bytes disk store with an optional in-memory
// hot layer for repeated reads.
type Store struct {
	vectorRoot string
	rasterRoot string
	hot        *lru.Cache[string, []byte]
}

// New creates the cache trees under dir (vector/ and raster/). hotEntries
// bounds the in-memory byte cache; 0 disables it.
func New(dir string, hotEntries int) (*Store, error) {
	s := &Store{
		vectorRoot: filepath.Join(dir, "vector"),
		rasterRoot: filepath.Join(dir, "raster"),
	}
	for _, root := range []string{s.vectorRoot, s.rasterRoot} {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, fmt.Errorf("create cache root %s: %w", root, err)
		}
	}
	if hotEntries > 0 {
		c, err := lru.New[string, []byte](hotEntries)
		if err != nil {
			return nil, fmt.Errorf("hot cache: %w", err)
		}
		s.hot = c
	}
	return s, nil
}

// Root returns the tree root for a kind, used by the cleanup sweeper.
func (s *Store) Root(kind Kind) string {
	if kind == KindRaster {
		return s.rasterRoot
	}
	return s.vectorRoot
}

// Path returns the absolute cache path for a coordinate under a kind.
func (s *Store) Path(kind Kind, coord tile.Coordinate) string {
	rel := coord.VectorPath()
	if kind == KindRaster {
		rel = coord.RasterPath()
	}
	return filepath.Join(s.Root(kind), filepath.FromSlash(rel))
}

// Lookup checks for an existing entry. It performs a single stat and no
// other I/O. Sentinels are hits.
func (s *Store) Lookup(kind Kind, coord tile.Coordinate) (Entry, error) {
	p := s.Path(kind, coord)
	fi, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return Entry{}, ErrNotCached
		}
		return Entry{}, fmt.Errorf("stat %s: %w", p, err)
	}
	if fi.IsDir() {
		return Entry{}, ErrNotCached
	}
	return Entry{Kind: kind, Path: p, Size: fi.Size(), ModTime: fi.ModTime()}, nil
}

// Write stores data at the coordinate's cache path. The write goes to a
// temporary file first and is renamed into place, so concurrent readers
// never observe a partial file.
func (s *Store) Write(kind Kind, coord tile.Coordinate, data []byte) (Entry, error) {
	p := s.Path(kind, coord)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return Entry{}, fmt.Errorf("create tile dir: %w", err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return Entry{}, fmt.Errorf("write tile %s: %w", p, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return Entry{}, fmt.Errorf("publish tile %s: %w", p, err)
	}
	if s.hot != nil {
		if len(data) > 0 {
			s.hot.Add(hotKey(kind, coord), data)
		} else {
			s.hot.Remove(hotKey(kind, coord))
		}
	}
	fi, err := os.Stat(p)
	if err != nil {
		return Entry{}, fmt.Errorf("stat written tile: %w", err)
	}
	return Entry{Kind: kind, Path: p, Size: fi.Size(), ModTime: fi.ModTime()}, nil
}

// WriteSentinel records an explicit empty upstream response for the vector
// coordinate as a zero-byte file.
func (s *Store) WriteSentinel(coord tile.Coordinate) (Entry, error) {
	return s.Write(KindVector, coord, nil)
}

// Read returns the cached bytes, preferring the hot layer. A sentinel read
// returns an empty slice and no error.
func (s *Store) Read(kind Kind, coord tile.Coordinate) ([]byte, error) {
	k := hotKey(kind, coord)
	if s.hot != nil {
		if b, ok := s.hot.Get(k); ok {
			return b, nil
		}
	}
	p := s.Path(kind, coord)
	b, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotCached
		}
		return nil, fmt.Errorf("read tile %s: %w", p, err)
	}
	if s.hot != nil && len(b) > 0 {
		s.hot.Add(k, b)
	}
	return b, nil
}

// Remove deletes the entry, if present, from disk and the hot layer.
func (s *Store) Remove(kind Kind, coord tile.Coordinate) error {
	if s.hot != nil {
		s.hot.Remove(hotKey(kind, coord))
	}
	err := os.Remove(s.Path(kind, coord))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove tile: %w", err)
	}
	return nil
}

func hotKey(kind Kind, coord tile.Coordinate) string {
	return kind.String() + ":" + coord.Key()
}
