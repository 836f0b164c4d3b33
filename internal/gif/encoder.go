// Package gif writes animated GIF89a streams one frame at a time, so a
// capture never needs more than the frame being encoded in memory.
package gif

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"io"
	"math"

	"github.com/bnema/gifcap/internal/domain"
)

const (
	extensionIntroducer = 0x21
	graphicControlLabel = 0xF9
	applicationLabel    = 0xFF
	imageSeparator      = 0x2C
	trailer             = 0x3B

	// disposalNone leaves each frame in place; every frame covers the whole
	// canvas so nothing shows through.
	disposalNone = 1
)

var header = []byte("GIF89a")

type Options struct {
	Width     int
	Height    int
	FrameRate float64
	Quality   domain.QualityTier
	// Palette is the global colour table. Required unless the quality tier
	// uses per-frame palettes.
	Palette color.Palette
	// LoopCount 0 loops forever.
	LoopCount int
}

func (o Options) validate() error {
	if o.Width <= 0 || o.Height <= 0 || o.Width > 0xFFFF || o.Height > 0xFFFF {
		return fmt.Errorf("canvas %dx%d out of range", o.Width, o.Height)
	}
	if o.FrameRate <= 0 || math.IsNaN(o.FrameRate) || math.IsInf(o.FrameRate, 0) {
		return fmt.Errorf("frame rate %v must be positive", o.FrameRate)
	}
	if o.LoopCount < 0 || o.LoopCount > 0xFFFF {
		return fmt.Errorf("loop count %d out of range", o.LoopCount)
	}
	if !o.Quality.PerFramePalette() {
		if len(o.Palette) == 0 {
			return errors.New("global palette required")
		}
		if len(o.Palette) > 256 {
			return fmt.Errorf("global palette has %d colours, max 256", len(o.Palette))
		}
	}
	return nil
}

// Encoder is bound to one output stream and one capture. It is not safe for
// concurrent use.
type Encoder struct {
	w      *bufio.Writer
	opts   Options
	frames int
	closed bool
	err    error

	quantizer *Quantizer
	paletted  *image.Paletted
	src       *image.RGBA
	lookup    []int16
}

// NewEncoder validates the options and writes the GIF header, logical screen
// descriptor, global colour table and looping extension.
func NewEncoder(w io.Writer, opts Options) (*Encoder, error) {
	if w == nil {
		return nil, fmt.Errorf("%w: nil writer", domain.ErrEncoderInitFailed)
	}
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEncoderInitFailed, err)
	}

	rect := image.Rect(0, 0, opts.Width, opts.Height)
	e := &Encoder{
		w:        bufio.NewWriter(w),
		opts:     opts,
		paletted: image.NewPaletted(rect, opts.Palette),
		src:      &image.RGBA{Stride: opts.Width * 4, Rect: rect},
	}
	if opts.Quality.PerFramePalette() {
		e.quantizer = NewQuantizer()
	} else {
		e.lookup = newLookup()
	}

	if err := e.writeHeader(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEncoderInitFailed, err)
	}
	return e, nil
}

func newLookup() []int16 {
	l := make([]int16, bucketCount)
	for i := range l {
		l[i] = -1
	}
	return l
}

func (e *Encoder) writeHeader() error {
	e.w.Write(header)

	var packed byte
	var table []byte
	if !e.opts.Quality.PerFramePalette() {
		table, packed = colorTable(e.opts.Palette)
		packed |= 0x80 | 0x70 // global table present, 8 bits colour resolution
	}
	e.w.Write([]byte{
		byte(e.opts.Width), byte(e.opts.Width >> 8),
		byte(e.opts.Height), byte(e.opts.Height >> 8),
		packed,
		0x00, // background colour index
		0x00, // pixel aspect ratio
	})
	e.w.Write(table)

	e.w.Write([]byte{extensionIntroducer, applicationLabel, 0x0B})
	e.w.WriteString("NETSCAPE2.0")
	_, err := e.w.Write([]byte{0x03, 0x01, byte(e.opts.LoopCount), byte(e.opts.LoopCount >> 8), 0x00})
	return err
}

// colorTable pads the palette to a power of two and returns the raw table
// with the size bits for the packed field.
func colorTable(p color.Palette) ([]byte, byte) {
	lw := litWidthFor(len(p))
	size := 1 << lw
	table := make([]byte, 3*size)
	for i, c := range p {
		r, g, b, _ := c.RGBA()
		table[3*i] = byte(r >> 8)
		table[3*i+1] = byte(g >> 8)
		table[3*i+2] = byte(b >> 8)
	}
	return table, byte(lw - 1)
}

// Delay returns the display time of frame i in centiseconds. Rounding is
// cumulative so the sum over n frames equals round(n*100/fps).
func Delay(i int, frameRate float64) int {
	at := func(k int) int { return int(math.Round(float64(k) * 100 / frameRate)) }
	return at(i+1) - at(i)
}

// WriteFrame quantizes and appends one frame. Frames must arrive in index
// order starting at 0.
func (e *Encoder) WriteFrame(f *domain.Frame) error {
	if e.err != nil {
		return e.err
	}
	if e.closed {
		return fmt.Errorf("%w: encoder closed", domain.ErrFrameEncodeFailed)
	}
	if f == nil {
		return &domain.FrameError{Index: e.frames, Err: fmt.Errorf("%w: nil frame", domain.ErrFrameEncodeFailed)}
	}
	if f.Index != e.frames {
		return &domain.FrameError{Index: f.Index, Err: fmt.Errorf("%w: expected frame %d", domain.ErrFrameEncodeFailed, e.frames)}
	}
	if f.Width != e.opts.Width || f.Height != e.opts.Height || !f.Valid() {
		return &domain.FrameError{Index: f.Index, Err: fmt.Errorf("%w: pixel buffer %d bytes for %dx%d frame, canvas %dx%d",
			domain.ErrFrameEncodeFailed, len(f.Pix), f.Width, f.Height, e.opts.Width, e.opts.Height)}
	}

	if err := e.encode(f); err != nil {
		e.err = &domain.FrameError{Index: f.Index, Err: fmt.Errorf("%w: %v", domain.ErrFrameEncodeFailed, err)}
		return e.err
	}
	e.frames++
	return nil
}

func (e *Encoder) encode(f *domain.Frame) error {
	e.src.Pix = f.Pix
	defer func() { e.src.Pix = nil }()

	var localTable []byte
	var localBits byte
	if e.quantizer != nil {
		e.quantizer.Reset()
		e.quantizer.Add(f.Pix)
		e.paletted.Palette = e.quantizer.Palette(e.opts.Quality.Colors())
		localTable, localBits = colorTable(e.paletted.Palette)
	}

	if e.opts.Quality.Dither() {
		draw.FloydSteinberg.Draw(e.paletted, e.paletted.Rect, e.src, image.Point{})
	} else {
		e.mapNearest(f.Pix)
	}

	delay := Delay(f.Index, e.opts.FrameRate)
	e.w.Write([]byte{
		extensionIntroducer, graphicControlLabel, 0x04,
		disposalNone << 2,
		byte(delay), byte(delay >> 8),
		0x00, // transparent colour index, unused
		0x00,
	})

	var packed byte
	if localTable != nil {
		packed = 0x80 | localBits
	}
	e.w.Write([]byte{
		imageSeparator,
		0x00, 0x00, 0x00, 0x00,
		byte(e.opts.Width), byte(e.opts.Width >> 8),
		byte(e.opts.Height), byte(e.opts.Height >> 8),
		packed,
	})
	if localTable != nil {
		e.w.Write(localTable)
	}

	return writeImageData(e.w, e.paletted.Pix, litWidthFor(len(e.paletted.Palette)))
}

// mapNearest assigns palette indices without dithering, caching the nearest
// entry per 15-bit colour bucket.
func (e *Encoder) mapNearest(pix []byte) {
	pal := e.paletted.Palette
	out := e.paletted.Pix
	for i, j := 0, 0; i+3 < len(pix); i, j = i+4, j+1 {
		k := bucketOf(pix[i], pix[i+1], pix[i+2])
		idx := e.lookup[k]
		if idx < 0 {
			idx = int16(pal.Index(color.RGBA{R: pix[i], G: pix[i+1], B: pix[i+2], A: 0xff}))
			e.lookup[k] = idx
		}
		out[j] = byte(idx)
	}
}

// Frames is the number of frames written so far.
func (e *Encoder) Frames() int {
	return e.frames
}

// Close writes the trailer and flushes. It does not close the underlying writer.
func (e *Encoder) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	if e.err != nil {
		return e.err
	}
	e.w.WriteByte(trailer)
	if err := e.w.Flush(); err != nil {
		e.err = fmt.Errorf("%w: flush: %v", domain.ErrFrameEncodeFailed, err)
		return e.err
	}
	return nil
}
