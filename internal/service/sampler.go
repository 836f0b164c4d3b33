package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bnema/gifcap/internal/domain"
	"github.com/bnema/gifcap/internal/infrastructure/logger"
	"github.com/bnema/gifcap/internal/port"
)

const (
	defaultSeekTimeout  = 5 * time.Second
	defaultRetryBackoff = 250 * time.Millisecond
	// pipelineDepth is the number of sampled frames that may wait for the
	// encoder. One more buffer is held by the encoder itself.
	pipelineDepth = 2
)

var ErrFramesConsumed = errors.New("frame stream already consumed")

type SamplerOptions struct {
	SeekTimeout  time.Duration
	RetryBackoff time.Duration
	MaxFrames    int
}

// Sampler turns a capture request into an ordered stream of RGBA frames read
// from a private media element.
type Sampler struct {
	source port.MediaSource
	opts   SamplerOptions
}

func NewSampler(source port.MediaSource, opts SamplerOptions) *Sampler {
	if opts.SeekTimeout <= 0 {
		opts.SeekTimeout = defaultSeekTimeout
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = defaultRetryBackoff
	}
	return &Sampler{source: source, opts: opts}
}

// Open binds a fresh element to the request and validates the range against
// the source duration.
func (s *Sampler) Open(ctx context.Context, req domain.CaptureRequest) (*FrameStream, error) {
	if err := req.ValidateShape(s.opts.MaxFrames); err != nil {
		return nil, err
	}

	el, err := s.source.Open(ctx, req.SourceHandle, req.Width, req.Height)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, domain.ErrSourceUnavailable) || errors.Is(err, domain.ErrInvalidRange) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrSourceUnavailable, err)
	}

	if err := req.Validate(el.Duration(), s.opts.MaxFrames); err != nil {
		_ = el.Close()
		return nil, err
	}

	return &FrameStream{
		element: el,
		req:     req,
		opts:    s.opts,
		total:   req.FrameCount(),
		pool:    newFramePool(pipelineDepth+1, req.Width*req.Height*4),
		done:    make(chan struct{}),
	}, nil
}

// framePool hands out at most n pixel buffers. Buffers are allocated lazily
// and recycled through Release.
type framePool struct {
	free chan []byte
	size int
	mu   sync.Mutex
	made int
	max  int
}

func newFramePool(n, size int) *framePool {
	return &framePool{free: make(chan []byte, n), size: size, max: n}
}

func (p *framePool) get(ctx context.Context) ([]byte, error) {
	select {
	case buf := <-p.free:
		return buf, nil
	default:
	}

	p.mu.Lock()
	if p.made < p.max {
		p.made++
		p.mu.Unlock()
		return make([]byte, p.size), nil
	}
	p.mu.Unlock()

	select {
	case buf := <-p.free:
		return buf, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *framePool) put(buf []byte) {
	if len(buf) != p.size {
		return
	}
	select {
	case p.free <- buf:
	default:
	}
}

// FrameStream is a single-use sequence of frames for one request. It is not
// restartable.
type FrameStream struct {
	element port.MediaElement
	req     domain.CaptureRequest
	opts    SamplerOptions
	total   int
	pool    *framePool

	mu      sync.Mutex
	started bool
	stop    context.CancelFunc
	done    chan struct{}
	closed  bool
}

func (fs *FrameStream) Total() int {
	return fs.total
}

// Survey seeks to n evenly spaced frames of the range and passes each buffer
// to fn before reusing it. It runs before Frames so a global palette can be
// built without holding the whole capture.
func (fs *FrameStream) Survey(ctx context.Context, n int, fn func(pix []byte)) error {
	fs.mu.Lock()
	if fs.started {
		fs.mu.Unlock()
		return ErrFramesConsumed
	}
	fs.mu.Unlock()

	indices := fs.req.SampleIndices(n)
	if len(indices) == 0 {
		return nil
	}
	buf, err := fs.pool.get(ctx)
	if err != nil {
		return err
	}
	defer fs.pool.put(buf)

	for _, i := range indices {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fs.grab(ctx, i, buf); err != nil {
			return err
		}
		fn(buf)
	}
	return nil
}

// Frames starts producing frames in index order. The frame channel closes
// after the last frame or on the first error; the error channel then yields
// the error, or nil on success.
func (fs *FrameStream) Frames(ctx context.Context) (<-chan *domain.Frame, <-chan error) {
	out := make(chan *domain.Frame, pipelineDepth)
	errc := make(chan error, 1)

	fs.mu.Lock()
	if fs.started || fs.closed {
		fs.mu.Unlock()
		errc <- ErrFramesConsumed
		close(errc)
		close(out)
		return out, errc
	}
	fs.started = true
	ctx, fs.stop = context.WithCancel(ctx)
	fs.mu.Unlock()

	go func() {
		defer close(fs.done)
		defer close(out)
		defer close(errc)

		for i := 0; i < fs.total; i++ {
			if err := ctx.Err(); err != nil {
				errc <- err
				return
			}
			buf, err := fs.pool.get(ctx)
			if err != nil {
				errc <- err
				return
			}
			if err := fs.grab(ctx, i, buf); err != nil {
				fs.pool.put(buf)
				errc <- err
				return
			}
			frame := &domain.Frame{
				Index:  i,
				Pix:    buf,
				Width:  fs.req.Width,
				Height: fs.req.Height,
				Offset: fs.req.Offset(i),
			}
			select {
			case out <- frame:
			case <-ctx.Done():
				fs.pool.put(buf)
				errc <- ctx.Err()
				return
			}
		}
	}()

	return out, errc
}

// Release returns a frame's buffer to the pool once the encoder is done with it.
func (fs *FrameStream) Release(f *domain.Frame) {
	if f == nil {
		return
	}
	fs.pool.put(f.Pix)
	f.Pix = nil
}

// grab seeks to frame i and rasterizes it into dst. A seek that times out is
// retried once after a short backoff.
func (fs *FrameStream) grab(ctx context.Context, i int, dst []byte) error {
	at := fs.req.Timestamp(i)

	var err error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			logger.Debug.Printf("seek to frame %d at %s failed, retrying: %v", i, at, err)
			select {
			case <-time.After(fs.opts.RetryBackoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		seekCtx, cancel := context.WithTimeout(ctx, fs.opts.SeekTimeout)
		err = fs.element.Seek(seekCtx, at)
		cancel()
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, domain.ErrSourceUnavailable) {
			return &domain.FrameError{Index: i, Err: err}
		}
	}
	if err != nil {
		logger.Debug.Printf("seek to frame %d at %s gave up: %v", i, at, err)
		if errors.Is(err, domain.ErrSeekTimeout) {
			return &domain.FrameError{Index: i, Err: err}
		}
		return &domain.FrameError{Index: i, Err: fmt.Errorf("%w: %v", domain.ErrSeekTimeout, err)}
	}

	if err := fs.element.Rasterize(dst); err != nil {
		if errors.Is(err, domain.ErrSourceUnavailable) {
			return &domain.FrameError{Index: i, Err: err}
		}
		return &domain.FrameError{Index: i, Err: fmt.Errorf("%w: rasterize: %v", domain.ErrSourceUnavailable, err)}
	}
	return nil
}

// Close stops the producer, waits for it and releases the element.
func (fs *FrameStream) Close() error {
	fs.mu.Lock()
	if fs.closed {
		fs.mu.Unlock()
		return nil
	}
	fs.closed = true
	started := fs.started
	stop := fs.stop
	fs.mu.Unlock()

	if started {
		stop()
		<-fs.done
	}
	return fs.element.Close()
}
