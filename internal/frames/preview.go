package frames

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"
)

// PreviewHeight is the thumbnail height used by the gallery
const PreviewHeight = 200

// Preview renders the source image of a visible frame scaled to height,
// keeping its aspect ratio.
func (s *Store) Preview(ctx context.Context, id string, height int) ([]byte, error) {
	if height <= 0 {
		return nil, errors.Errorf("invalid preview height %d", height)
	}
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	f, err := os.Open(s.path(id, extPNG))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "failed to open source image for %s", id)
	}
	defer f.Close()

	src, err := png.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode source image for %s", id)
	}

	b := src.Bounds()
	if b.Dy() == 0 {
		return nil, errors.Errorf("source image for %s is empty", id)
	}
	width := b.Dx() * height / b.Dy()
	if width < 1 {
		width = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, errors.Wrap(err, "failed to encode preview")
	}

	return buf.Bytes(), nil
}
