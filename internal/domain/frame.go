package domain

import "time"

// Frame is one rasterized RGBA sample. Pix holds Width*Height*4 bytes and is
// owned by whoever holds the frame; the sampler hands it over to the encoder
// and the encoder releases it once the frame is written.
type Frame struct {
	Index  int
	Pix    []byte
	Width  int
	Height int
	// Offset is the position relative to the capture start.
	Offset time.Duration
}

func (f *Frame) Stride() int {
	return f.Width * 4
}

// Valid reports whether the pixel buffer matches the frame dimensions.
func (f *Frame) Valid() bool {
	return f.Width > 0 && f.Height > 0 && len(f.Pix) == f.Width*f.Height*4
}
