// Package tile defines the tile coordinate model and cache key derivation.
package tile

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// ErrInvalidCoordinate is returned when a zoom/column/row component is
// missing, non-integral or negative.
var ErrInvalidCoordinate = errors.New("invalid tile coordinate")

// Coordinate identifies a single map tile.
type Coordinate struct {
	Zoom   uint32
	Column uint32
	Row    uint32
}

// Parse validates raw path components into a Coordinate. No upper bound is
// enforced here; upstream and the renderer reject out-of-range tiles.
func Parse(z, x, y string) (Coordinate, error) {
	zoom, err := parseComponent("zoom", z)
	if err != nil {
		return Coordinate{}, err
	}
	col, err := parseComponent("column", x)
	if err != nil {
		return Coordinate{}, err
	}
	row, err := parseComponent("row", y)
	if err != nil {
		return Coordinate{}, err
	}
	return Coordinate{Zoom: zoom, Column: col, Row: row}, nil
}

func parseComponent(name, v string) (uint32, error) {
	if v == "" {
		return 0, fmt.Errorf("%w: missing %s", ErrInvalidCoordinate, name)
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q", ErrInvalidCoordinate, name, v)
	}
	return uint32(n), nil
}

// Key returns the canonical cache key "{zoom}/{column}/{row}".
func (c Coordinate) Key() string {
	return strconv.FormatUint(uint64(c.Zoom), 10) + "/" +
		strconv.FormatUint(uint64(c.Column), 10) + "/" +
		strconv.FormatUint(uint64(c.Row), 10)
}

// VectorPath returns the storage-relative path of the vector tile.
func (c Coordinate) VectorPath() string {
	return c.Key() + ".pbf"
}

// RasterPath returns the storage-relative path of the raster tile.
func (c Coordinate) RasterPath() string {
	return c.Key() + ".png"
}

// ETag derives a stable entity tag for the tile under the given resource
// kind prefix ("vector" or "raster").
func (c Coordinate) ETag(kind string) string {
	sum := xxhash.Sum64String(kind + ":" + c.Key())
	return fmt.Sprintf("%016x", sum)
}

func (c Coordinate) String() string { return c.Key() }
