package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bnema/gifcap/internal/domain"
	"github.com/bnema/gifcap/internal/infrastructure/logger"
	"github.com/bnema/gifcap/internal/port"
)

var (
	ErrEmptyPath   = errors.New("empty path")
	ErrInvalidPath = errors.New("path contains null byte")
)

func validatePath(path string) error {
	if path == "" {
		return ErrEmptyPath
	}
	if strings.ContainsRune(path, 0) {
		return ErrInvalidPath
	}
	return nil
}

func isRemote(handle string) bool {
	return strings.HasPrefix(handle, "http://") || strings.HasPrefix(handle, "https://")
}

// runFunc executes a binary and returns its stdout. Stderr is folded into the
// error so callers can log it.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return stdout.Bytes(), nil
}

// Source opens media through the ffmpeg binaries. Every element it returns
// decodes on its own, so seeking one never moves anything the user is
// watching.
type Source struct {
	ffmpegPath  string
	ffprobePath string
	run         runFunc
}

func NewSource(ffmpegPath, ffprobePath string) *Source {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Source{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath, run: execRun}
}

func (s *Source) Open(ctx context.Context, handle string, width, height int) (port.MediaElement, error) {
	if err := validatePath(handle); err != nil {
		return nil, fmt.Errorf("%w: invalid input path: %v", domain.ErrSourceUnavailable, err)
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: output size %dx%d", domain.ErrSourceUnavailable, width, height)
	}

	if !isRemote(handle) {
		if err := checkLocal(handle); err != nil {
			return nil, err
		}
	}

	probe, err := s.probe(ctx, handle)
	if err != nil {
		return nil, err
	}
	if probe.VideoStream() == nil {
		return nil, fmt.Errorf("%w: no video stream found", domain.ErrSourceUnavailable)
	}
	duration := probe.Duration()
	if duration <= 0 {
		return nil, fmt.Errorf("%w: source reports no duration", domain.ErrSourceUnavailable)
	}

	srcW, srcH := probe.Dimensions()
	logger.Debug.Printf("opened %s: %dx%d, %s, %.2f fps", logger.SanitizeSource(handle),
		srcW, srcH, domain.FormatDuration(duration), probe.FrameRate())

	return &Element{
		source:   s,
		handle:   handle,
		width:    width,
		height:   height,
		duration: duration,
	}, nil
}

func checkLocal(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSourceUnavailable, err)
	}
	defer f.Close()

	mime, ok, err := sniffVideo(f)
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", domain.ErrSourceUnavailable, logger.SanitizeForLog(path), err)
	}
	if !ok {
		return fmt.Errorf("%w: %s is not a video", domain.ErrSourceUnavailable, mime)
	}
	return nil
}

func (s *Source) probe(ctx context.Context, handle string) (*domain.ProbeResult, error) {
	output, err := s.run(ctx, s.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		handle,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: ffprobe failed: %v", domain.ErrSourceUnavailable, err)
	}

	var probe domain.ProbeResult
	if err := json.Unmarshal(output, &probe); err != nil {
		return nil, fmt.Errorf("%w: failed to parse ffprobe output: %v", domain.ErrSourceUnavailable, err)
	}
	return &probe, nil
}

// Element holds the most recently decoded frame of one source at a fixed
// output size.
type Element struct {
	source   *Source
	handle   string
	width    int
	height   int
	duration time.Duration

	mu     sync.Mutex
	frame  []byte
	closed bool
}

func (e *Element) Duration() time.Duration {
	return e.duration
}

// Seek decodes the single frame at the given position, scaled during decode.
func (e *Element) Seek(ctx context.Context, at time.Duration) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return fmt.Errorf("%w: element closed", domain.ErrSourceUnavailable)
	}

	out, err := e.source.run(ctx, e.source.ffmpegPath, e.seekArgs(at)...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				return fmt.Errorf("%w: %v", domain.ErrSeekTimeout, ctxErr)
			}
			return ctxErr
		}
		if !isRemote(e.handle) {
			if _, statErr := os.Stat(e.handle); statErr != nil {
				return fmt.Errorf("%w: %v", domain.ErrSourceUnavailable, statErr)
			}
		}
		return err
	}

	want := e.width * e.height * 4
	if len(out) < want {
		return fmt.Errorf("ffmpeg returned %d bytes at %s, want %d", len(out), at, want)
	}

	e.mu.Lock()
	e.frame = out[:want]
	e.mu.Unlock()
	return nil
}

func (e *Element) seekArgs(at time.Duration) []string {
	return []string{
		"-v", "error",
		"-ss", strconv.FormatFloat(at.Seconds(), 'f', 3, 64),
		"-i", e.handle,
		"-frames:v", "1",
		"-vf", fmt.Sprintf("scale=%d:%d", e.width, e.height),
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"pipe:1",
	}
}

func (e *Element) Rasterize(dst []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return fmt.Errorf("%w: element closed", domain.ErrSourceUnavailable)
	}
	if e.frame == nil {
		return errors.New("rasterize before seek")
	}
	if len(dst) != len(e.frame) {
		return fmt.Errorf("destination holds %d bytes, frame has %d", len(dst), len(e.frame))
	}
	copy(dst, e.frame)
	return nil
}

func (e *Element) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.frame = nil
	return nil
}

var (
	_ port.MediaSource  = (*Source)(nil)
	_ port.MediaElement = (*Element)(nil)
)
