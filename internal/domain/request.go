package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

type QualityTier string

const (
	QualityLow    QualityTier = "low"
	QualityMedium QualityTier = "medium"
	QualityHigh   QualityTier = "high"
)

// PerFramePalette reports whether every frame gets its own colour table.
func (q QualityTier) PerFramePalette() bool {
	return q == QualityHigh
}

// Colors is the palette size used for the tier.
func (q QualityTier) Colors() int {
	if q == QualityLow {
		return 64
	}
	return 256
}

// Dither reports whether Floyd-Steinberg error diffusion is applied.
func (q QualityTier) Dither() bool {
	return q != QualityLow
}

func ParseQualityTier(s string) (QualityTier, error) {
	switch QualityTier(strings.ToLower(strings.TrimSpace(s))) {
	case "", QualityMedium:
		return QualityMedium, nil
	case QualityLow:
		return QualityLow, nil
	case QualityHigh:
		return QualityHigh, nil
	}
	return "", fmt.Errorf("unknown quality tier %q", s)
}

type Destination string

const (
	DestinationLibrary Destination = "library"
	DestinationExport  Destination = "export"
)

const MaxDimension = 4096

// CaptureRequest describes one capture. It is copied by value into the job
// and never mutated afterwards.
type CaptureRequest struct {
	SourceHandle string
	Start        time.Duration
	End          time.Duration
	FrameRate    float64
	Width        int
	Height       int
	Quality      QualityTier
	Title        string
	Destination  Destination
}

// ValidateShape checks the invariants that do not need the source: ordering,
// positive rate and dimensions, and the frame budget.
func (r CaptureRequest) ValidateShape(maxFrames int) error {
	if strings.TrimSpace(r.SourceHandle) == "" {
		return fmt.Errorf("%w: missing source", ErrInvalidRange)
	}
	if r.Start < 0 {
		return fmt.Errorf("%w: start %s is negative", ErrInvalidRange, r.Start)
	}
	if r.End <= r.Start {
		return fmt.Errorf("%w: end %s is not after start %s", ErrInvalidRange, r.End, r.Start)
	}
	if r.FrameRate <= 0 || math.IsNaN(r.FrameRate) || math.IsInf(r.FrameRate, 0) {
		return fmt.Errorf("%w: frame rate %v must be positive", ErrInvalidRange, r.FrameRate)
	}
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("%w: output size %dx%d must be positive", ErrInvalidRange, r.Width, r.Height)
	}
	if r.Width > MaxDimension || r.Height > MaxDimension {
		return fmt.Errorf("%w: output size %dx%d exceeds %d", ErrInvalidRange, r.Width, r.Height, MaxDimension)
	}
	switch r.Quality {
	case QualityLow, QualityMedium, QualityHigh:
	default:
		return fmt.Errorf("%w: unknown quality tier %q", ErrInvalidRange, r.Quality)
	}
	switch r.Destination {
	case DestinationLibrary, DestinationExport:
	default:
		return fmt.Errorf("%w: unknown destination %q", ErrInvalidRange, r.Destination)
	}
	n := r.FrameCount()
	if n <= 0 {
		return fmt.Errorf("%w: range yields no frames at %v fps", ErrInvalidRange, r.FrameRate)
	}
	if maxFrames > 0 && n > maxFrames {
		return fmt.Errorf("%w: %d frames exceeds limit of %d", ErrInvalidRange, n, maxFrames)
	}
	return nil
}

// Validate checks every invariant, including End <= source duration.
func (r CaptureRequest) Validate(sourceDuration time.Duration, maxFrames int) error {
	if err := r.ValidateShape(maxFrames); err != nil {
		return err
	}
	if r.End > sourceDuration {
		return fmt.Errorf("%w: end %s is past source duration %s", ErrInvalidRange, r.End, sourceDuration)
	}
	return nil
}

// WithDefaults fills the optional fields a caller may leave empty.
func (r CaptureRequest) WithDefaults() CaptureRequest {
	if r.Quality == "" {
		r.Quality = QualityMedium
	}
	if r.Destination == "" {
		r.Destination = DestinationLibrary
	}
	return r
}

// FrameCount is round((End-Start) * FrameRate).
func (r CaptureRequest) FrameCount() int {
	return int(math.Round(r.Span().Seconds() * r.FrameRate))
}

func (r CaptureRequest) Span() time.Duration {
	return r.End - r.Start
}

// Timestamp returns the source position of frame i: Start + i/FrameRate.
func (r CaptureRequest) Timestamp(i int) time.Duration {
	return r.Start + r.Offset(i)
}

// Offset is the position of frame i relative to Start.
func (r CaptureRequest) Offset(i int) time.Duration {
	return time.Duration(math.Round(float64(i) / r.FrameRate * float64(time.Second)))
}

// SampleIndices picks n frame indices spread evenly over the capture, first
// and last included.
func (r CaptureRequest) SampleIndices(n int) []int {
	total := r.FrameCount()
	if n <= 0 || total <= 0 {
		return nil
	}
	if n >= total {
		out := make([]int, total)
		for i := range out {
			out[i] = i
		}
		return out
	}
	if n == 1 {
		return []int{0}
	}
	out := make([]int, n)
	for i := range out {
		out[i] = int(math.Round(float64(i) * float64(total-1) / float64(n-1)))
	}
	return out
}

// DurationMs is the playback length of the encoded GIF.
func (r CaptureRequest) DurationMs() int64 {
	return int64(math.Round(float64(r.FrameCount()) / r.FrameRate * 1000))
}
