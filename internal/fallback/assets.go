package fallback

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
)

const tileSize = 256

// Assets holds the process-wide blank and error tiles. Both are lazily
// materialized on first use: loaded from the assets directory if present,
// otherwise encoded and persisted there. They are never TTL-evicted; the
// sweeper excludes the assets directory.
type Assets struct {
	dir string

	blankOnce sync.Once
	blank     []byte
	blankErr  error

	errorOnce sync.Once
	errTile   []byte
	errErr    error
}

func NewAssets(dir string) *Assets {
	return &Assets{dir: dir}
}

// BlankPath and ErrorPath are exported so the sweeper can exclude them.
func (a *Assets) BlankPath() string { return filepath.Join(a.dir, "blank.png") }
func (a *Assets) ErrorPath() string { return filepath.Join(a.dir, "error.png") }

// Blank returns the transparent blank tile bytes.
func (a *Assets) Blank() ([]byte, error) {
	a.blankOnce.Do(func() {
		a.blank, a.blankErr = a.materialize(a.BlankPath(), color.NRGBA{})
	})
	return a.blank, a.blankErr
}

// Error returns the error tile bytes, a flat gray placeholder.
func (a *Assets) Error() ([]byte, error) {
	a.errorOnce.Do(func() {
		a.errTile, a.errErr = a.materialize(a.ErrorPath(), color.NRGBA{R: 0xdd, G: 0xdd, B: 0xdd, A: 0xff})
	})
	return a.errTile, a.errErr
}

func (a *Assets) materialize(path string, fill color.NRGBA) ([]byte, error) {
	if b, err := os.ReadFile(path); err == nil && len(b) > 0 {
		return b, nil
	}

	img := image.NewNRGBA(image.Rect(0, 0, tileSize, tileSize))
	if fill.A != 0 {
		for i := 0; i < len(img.Pix); i += 4 {
			img.Pix[i] = fill.R
			img.Pix[i+1] = fill.G
			img.Pix[i+2] = fill.B
			img.Pix[i+3] = fill.A
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode fallback tile: %w", err)
	}

	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create assets dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("write fallback tile: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("publish fallback tile: %w", err)
	}
	return buf.Bytes(), nil
}
