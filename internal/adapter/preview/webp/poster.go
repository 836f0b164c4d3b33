package webp

import (
	"bytes"
	"fmt"
	"image"

	"github.com/chai2010/webp"

	"github.com/bnema/gifcap/internal/domain"
	"github.com/bnema/gifcap/internal/port"
)

const defaultQuality = 75

// PosterEncoder renders the first frame of a capture as a lossy WebP still
// shown in the library before the GIF itself is loaded.
type PosterEncoder struct {
	quality float32
}

func NewPosterEncoder(quality int) *PosterEncoder {
	if quality < 1 || quality > 100 {
		quality = defaultQuality
	}
	return &PosterEncoder{quality: float32(quality)}
}

// Encode reads frame.Pix synchronously; the frame may be recycled as soon as
// it returns.
func (p *PosterEncoder) Encode(frame *domain.Frame) ([]byte, error) {
	if frame == nil || !frame.Valid() {
		return nil, fmt.Errorf("poster needs a complete frame")
	}

	img := &image.NRGBA{
		Pix:    frame.Pix,
		Stride: frame.Stride(),
		Rect:   image.Rect(0, 0, frame.Width, frame.Height),
	}

	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, &webp.Options{Quality: p.quality}); err != nil {
		return nil, fmt.Errorf("failed to encode as WebP: %w", err)
	}
	return buf.Bytes(), nil
}

var _ port.PosterEncoder = (*PosterEncoder)(nil)
