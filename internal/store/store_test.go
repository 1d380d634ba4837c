package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mlundh/tilegate/internal/tile"
)

func mustCoord(t *testing.T, z, x, y string) tile.Coordinate {
	t.Helper()
	c, err := tile.Parse(z, x, y)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return c
}

func TestLookup_MissThenHit(t *testing.T) {
	s, err := New(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	c := mustCoord(t, "13", "7551", "4724")

	if _, err := s.Lookup(KindVector, c); !errors.Is(err, ErrNotCached) {
		t.Fatalf("lookup on empty cache = %v, want ErrNotCached", err)
	}

	e, err := s.Write(KindVector, c, []byte("pbf-data"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if e.Size != 8 || e.Sentinel() {
		t.Fatalf("entry = %+v", e)
	}

	got, err := s.Lookup(KindVector, c)
	if err != nil {
		t.Fatalf("lookup after write: %v", err)
	}
	if got.Path != s.Path(KindVector, c) {
		t.Fatalf("path = %q", got.Path)
	}
}

func TestWrite_LeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, 0)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	c := mustCoord(t, "1", "2", "3")
	if _, err := s.Write(KindRaster, c, []byte("png")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := os.Stat(s.Path(KindRaster, c) + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}
}

func TestSentinel_Semantics(t *testing.T) {
	s, err := New(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	c := mustCoord(t, "20", "999999", "999999")

	e, err := s.WriteSentinel(c)
	if err != nil {
		t.Fatalf("write sentinel: %v", err)
	}
	if !e.Sentinel() {
		t.Fatalf("sentinel not recognized: %+v", e)
	}

	// a zero-byte raster entry is not a sentinel
	re, err := s.Write(KindRaster, c, nil)
	if err != nil {
		t.Fatalf("write raster: %v", err)
	}
	if re.Sentinel() {
		t.Fatal("raster entries must not carry sentinel semantics")
	}

	// sentinel reads succeed with an empty body
	b, err := s.Read(KindVector, c)
	if err != nil {
		t.Fatalf("read sentinel: %v", err)
	}
	if len(b) != 0 {
		t.Fatalf("sentinel body = %d bytes", len(b))
	}
}

func TestRead_HotLayerServesAfterDiskDeletion(t *testing.T) {
	s, err := New(t.TempDir(), 16)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	c := mustCoord(t, "5", "6", "7")
	if _, err := s.Write(KindVector, c, []byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := s.Read(KindVector, c); err != nil {
		t.Fatalf("first read: %v", err)
	}

	// remove the backing file directly; the hot layer still serves
	if err := os.Remove(s.Path(KindVector, c)); err != nil {
		t.Fatalf("remove backing file: %v", err)
	}
	b, err := s.Read(KindVector, c)
	if err != nil {
		t.Fatalf("hot read: %v", err)
	}
	if string(b) != "hello" {
		t.Fatalf("hot read body = %q", b)
	}

	// Remove invalidates both layers
	if err := s.Remove(KindVector, c); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := s.Read(KindVector, c); !errors.Is(err, ErrNotCached) {
		t.Fatalf("read after remove = %v, want ErrNotCached", err)
	}
}

func TestRoots_PerKindTrees(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, 0)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if s.Root(KindVector) != filepath.Join(dir, "vector") {
		t.Fatalf("vector root = %q", s.Root(KindVector))
	}
	if s.Root(KindRaster) != filepath.Join(dir, "raster") {
		t.Fatalf("raster root = %q", s.Root(KindRaster))
	}
	for _, k := range []Kind{KindVector, KindRaster} {
		if fi, err := os.Stat(s.Root(k)); err != nil || !fi.IsDir() {
			t.Fatalf("root %s not created: %v", k, err)
		}
	}
}
