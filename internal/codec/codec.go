package codec

import (
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/gen2brain/avif"

	"github.com/trunov/imageopt/internal/entities"
)

// Encoder turns source images into WebP/AVIF files on disk. It probes
// actual encoder availability once per format and caches the answer.
type Encoder struct {
	mu      sync.Mutex
	support map[entities.Format]bool
}

func NewEncoder() *Encoder {
	return &Encoder{support: make(map[entities.Format]bool)}
}

// Supports reports whether this build can actually produce the format.
// The probe encodes a 1x1 image in memory; any error or panic from the
// underlying codec counts as "unsupported" so the gate never takes the
// pipeline down with it.
func (e *Encoder) Supports(f entities.Format) bool {
	if !f.Valid() {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ok, probed := e.support[f]
	if !probed {
		ok = probe(f)
		e.support[f] = ok
	}
	return ok
}

func probe(f entities.Format) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	return encodeImage(io.Discard, img, f, 75) == nil
}

// Encode reads src, decodes it and writes the encoded result to dst.
// The file is written through a temp sibling and renamed into place so
// a failed encode never leaves a partial dst behind.
func (e *Encoder) Encode(srcPath, dstPath string, f entities.Format, quality int) error {
	if !e.Supports(f) {
		return fmt.Errorf("%s encoding is not available in this build", f)
	}
	if quality < 1 || quality > 100 {
		return fmt.Errorf("quality %d out of range 1-100", quality)
	}

	mt, err := mimetype.DetectFile(srcPath)
	if err != nil {
		return fmt.Errorf("detect source type: %w", err)
	}
	if !strings.HasPrefix(mt.String(), "image/") {
		return fmt.Errorf("source %s is not an image (%s)", filepath.Base(srcPath), mt.String())
	}

	img, err := imaging.Open(srcPath, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("decode source: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dstPath), "."+filepath.Base(dstPath)+".*")
	if err != nil {
		return fmt.Errorf("create temp output: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := encodeImage(tmp, img, f, quality); err != nil {
		tmp.Close()
		return fmt.Errorf("encode %s: %w", f, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}

	return os.Rename(tmp.Name(), dstPath)
}

func encodeImage(w io.Writer, img image.Image, f entities.Format, quality int) error {
	switch f {
	case entities.FormatWebP:
		return webp.Encode(w, img, &webp.Options{Quality: float32(quality)})
	case entities.FormatAVIF:
		return avif.Encode(w, img, avif.Options{Quality: quality})
	default:
		return fmt.Errorf("unknown format: %s", f)
	}
}
