package converter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/trunov/imageopt/internal/entities"
)

// Precondition failures abort the whole operation; everything else is
// reported per rendition.
var (
	ErrInvalidFormat     = errors.New("invalid target format")
	ErrUnsupportedFormat = errors.New("format is not supported by this runtime")
	ErrSourceMissing     = errors.New("original image file not found")
)

// Codec is the external encode capability.
type Codec interface {
	Supports(f entities.Format) bool
	Encode(srcPath, dstPath string, f entities.Format, quality int) error
}

// Converter derives format variants for every rendition of an item.
// Destinations mirror the media tree under "{format}-converted/", which
// makes the mapping reproducible and the operation idempotent.
type Converter struct {
	codec    Codec
	mediaDir string
}

func New(codec Codec, mediaDir string) *Converter {
	return &Converter{codec: codec, mediaDir: mediaDir}
}

// primary is the rendition name used for the item's full-size file.
const primary = "full"

// Convert encodes every rendition of item into format at the given
// quality, returning one result per rendition keyed by rendition name.
// Individual rendition failures do not abort the call; only
// precondition failures (bad format, no codec support, missing primary
// file) return an error.
func (c *Converter) Convert(ctx context.Context, item entities.Item, format entities.Format, quality int, policy entities.SavingsPolicy) (map[string]entities.RenditionResult, error) {
	if !format.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFormat, format)
	}
	if !c.codec.Supports(format) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if _, err := os.Stat(item.SourcePath); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSourceMissing, item.SourcePath)
	}

	renditions := make([]entities.Rendition, 0, len(item.Renditions)+1)
	renditions = append(renditions, entities.Rendition{Name: primary, Path: item.SourcePath})
	renditions = append(renditions, item.Renditions...)

	results := make(map[string]entities.RenditionResult, len(renditions))
	for _, r := range renditions {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results[r.Name] = c.convertOne(r, format, quality, policy)
	}

	return results, nil
}

func (c *Converter) convertOne(r entities.Rendition, format entities.Format, quality int, policy entities.SavingsPolicy) entities.RenditionResult {
	srcInfo, err := os.Stat(r.Path)
	if err != nil {
		return entities.RenditionResult{
			Status:  entities.StatusFailed,
			Message: fmt.Sprintf("original file missing for size %q: %s", r.Name, r.Path),
		}
	}
	originalSize := srcInfo.Size()

	dstPath, err := c.DestinationPath(r.Path, format)
	if err != nil {
		return entities.RenditionResult{
			Status:  entities.StatusFailed,
			Message: fmt.Sprintf("cannot map destination for size %q: %v", r.Name, err),
		}
	}

	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return entities.RenditionResult{
			Status:  entities.StatusFailed,
			Message: fmt.Sprintf("cannot create destination directory for size %q: %v", r.Name, err),
		}
	}

	// Converted once means converted forever: a present destination is
	// reported with its on-disk sizes and never re-encoded.
	if dstInfo, err := os.Stat(dstPath); err == nil {
		return entities.RenditionResult{
			Status:        entities.StatusSkippedExists,
			Path:          dstPath,
			OriginalSize:  originalSize,
			ConvertedSize: dstInfo.Size(),
			Savings:       originalSize - dstInfo.Size(),
		}
	}

	if err := c.codec.Encode(r.Path, dstPath, format, quality); err != nil {
		return entities.RenditionResult{
			Status:  entities.StatusFailed,
			Message: fmt.Sprintf("%v for size %q", err, r.Name),
		}
	}

	dstInfo, err := os.Stat(dstPath)
	if err != nil {
		return entities.RenditionResult{
			Status:  entities.StatusFailed,
			Message: fmt.Sprintf("converted file vanished for size %q: %v", r.Name, err),
		}
	}
	convertedSize := dstInfo.Size()

	if policy.Enabled {
		larger := convertedSize >= originalSize
		savingsPct := 0.0
		if originalSize > 0 {
			savingsPct = float64(originalSize-convertedSize) / float64(originalSize) * 100
		}
		if larger || savingsPct < policy.MinSavingsPct {
			// An output that does not pay for itself is not kept.
			os.Remove(dstPath)
			return entities.RenditionResult{
				Status:       entities.StatusSkippedSize,
				OriginalSize: originalSize,
				Message: fmt.Sprintf("skipped: converted file is larger or savings (%.1f%%) below %.1f%% threshold",
					savingsPct, policy.MinSavingsPct),
			}
		}
	}

	return entities.RenditionResult{
		Status:        entities.StatusSuccess,
		Path:          dstPath,
		OriginalSize:  originalSize,
		ConvertedSize: convertedSize,
		Savings:       originalSize - convertedSize,
	}
}

// DestinationPath maps a source path under the media dir to its
// converted counterpart: {mediaDir}/{format}-converted/{relative}.{format}.
func (c *Converter) DestinationPath(srcPath string, format entities.Format) (string, error) {
	rel, err := filepath.Rel(c.mediaDir, srcPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("source %s is outside the media directory", srcPath)
	}
	return filepath.Join(c.mediaDir, format.ConvertedDir(), rel+"."+format.Extension()), nil
}

// ClearConverted removes and recreates each format's converted tree.
// It returns how many trees were fully reset and the first error hit.
func (c *Converter) ClearConverted() (int, error) {
	cleared := 0
	var firstErr error
	for _, f := range entities.Formats {
		dir := filepath.Join(c.mediaDir, f.ConvertedDir())
		if err := os.RemoveAll(dir); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("remove %s: %w", dir, err)
			}
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("recreate %s: %w", dir, err)
			}
			continue
		}
		cleared++
	}
	return cleared, firstErr
}
