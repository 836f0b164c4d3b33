package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/color"
	"sync"

	"github.com/bnema/gifcap/internal/domain"
	"github.com/bnema/gifcap/internal/gif"
	"github.com/bnema/gifcap/internal/infrastructure/logger"
	"github.com/bnema/gifcap/internal/port"
)

const defaultPaletteSampleFrames = 8

// ArtifactWriter persists a finished artifact and returns its id.
type ArtifactWriter interface {
	Put(ctx context.Context, a *domain.GifArtifact) (string, error)
}

type CaptureOptions struct {
	PaletteSampleFrames int
	MaxFrames           int
}

// CaptureService runs at most one encoding job at a time: sample, encode,
// then hand the GIF to the library or the export directory.
type CaptureService struct {
	sampler  *Sampler
	library  ArtifactWriter
	exporter port.ArtifactExporter
	poster   port.PosterEncoder
	bus      *EventBus
	opts     CaptureOptions

	mu       sync.Mutex
	active   *domain.EncodingJob
	settled  chan struct{} // closed once the active job's run has returned
	starting bool
	jobs     map[string]*domain.EncodingJob
	wg       sync.WaitGroup
}

func NewCaptureService(
	sampler *Sampler,
	library ArtifactWriter,
	exporter port.ArtifactExporter,
	poster port.PosterEncoder,
	bus *EventBus,
	opts CaptureOptions,
) *CaptureService {
	if opts.PaletteSampleFrames <= 0 {
		opts.PaletteSampleFrames = defaultPaletteSampleFrames
	}
	return &CaptureService{
		sampler:  sampler,
		library:  library,
		exporter: exporter,
		poster:   poster,
		bus:      bus,
		opts:     opts,
		jobs:     make(map[string]*domain.EncodingJob),
	}
}

func (s *CaptureService) Events() *EventBus {
	return s.bus
}

// Start validates the request, opens the source and launches the job in the
// background. Input and source errors are returned here and no job is
// created. The job is not bound to ctx's cancellation; use Cancel or Shutdown
// to stop it.
func (s *CaptureService) Start(ctx context.Context, req domain.CaptureRequest) (*domain.EncodingJob, error) {
	req = req.WithDefaults()
	if err := req.ValidateShape(s.opts.MaxFrames); err != nil {
		return nil, err
	}
	if err := s.reserve(); err != nil {
		return nil, err
	}

	stream, err := s.sampler.Open(ctx, req)
	if err != nil {
		s.release()
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.starting = false

	if prev := s.active; prev != nil {
		delete(s.jobs, prev.ID)
		s.forgetWhenSettled(prev.ID, s.settled)
	}

	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	job := domain.NewEncodingJob(req, cancel)
	settled := make(chan struct{})
	s.active, s.settled = job, settled
	s.jobs[job.ID] = job

	logger.Info.Printf("job %s started: %s %s-%s at %v fps, %dx%d, quality=%s, destination=%s, title=%s",
		job.ID, logger.SanitizeSource(req.SourceHandle), req.Start, req.End, req.FrameRate,
		req.Width, req.Height, req.Quality, req.Destination, logger.SanitizeForLog(req.Title))

	go s.run(jobCtx, job, stream, settled)
	return job, nil
}

// reserve claims the single job slot while the source is being opened. The
// wait group entry is handed to run on success and dropped by release.
func (s *CaptureService) reserve() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.starting || (s.active != nil && !s.active.State().IsTerminal()) {
		return domain.ErrJobActive
	}
	s.starting = true
	s.wg.Add(1)
	return nil
}

func (s *CaptureService) release() {
	s.mu.Lock()
	s.starting = false
	s.mu.Unlock()
	s.wg.Done()
}

// forgetWhenSettled drops a finished job's bus state, but only after its run
// has published the terminal event. A job reads as terminal slightly before
// that event goes out.
func (s *CaptureService) forgetWhenSettled(jobID string, settled <-chan struct{}) {
	select {
	case <-settled:
		s.bus.Forget(jobID)
	default:
		go func() {
			<-settled
			s.bus.Forget(jobID)
		}()
	}
}

func (s *CaptureService) Job(jobID string) (*domain.EncodingJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	return job, ok
}

// Cancel asks a running job to stop. Cancelling a settled job is a no-op.
func (s *CaptureService) Cancel(jobID string) error {
	job, ok := s.Job(jobID)
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, domain.ErrNotFound)
	}
	if !job.State().IsTerminal() {
		logger.Info.Printf("job %s: cancel requested", jobID)
		job.Cancel()
	}
	return nil
}

// Shutdown cancels the active job and waits for it to settle.
func (s *CaptureService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.active != nil {
		s.active.Cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *CaptureService) run(ctx context.Context, job *domain.EncodingJob, stream *FrameStream, settled chan struct{}) {
	defer s.wg.Done()
	defer close(settled)
	defer job.Cancel()

	progress := NewProgress(s.bus, job.ID, job.Request.FrameCount())
	progress.Stage(StageSampling, "Preparing video")

	id, message, err := s.process(ctx, job, stream, progress)
	if err != nil {
		state := job.Settle(err)
		if state == domain.JobStateCancelled {
			logger.Info.Printf("job %s cancelled after %d frames", job.ID, job.FramesDone())
		} else {
			logger.Error.Printf("job %s failed (%s): %v", job.ID, domain.Classify(err), err)
		}
		progress.Settle(state, err)
		return
	}

	job.Complete(id)
	logger.Info.Printf("job %s completed: artifact=%s", job.ID, id)
	progress.Completed(id, message)
}

func (s *CaptureService) process(ctx context.Context, job *domain.EncodingJob, stream *FrameStream, progress *Progress) (string, string, error) {
	req := job.Request
	defer stream.Close()

	var palette color.Palette
	if !req.Quality.PerFramePalette() {
		q := gif.NewQuantizer()
		if err := stream.Survey(ctx, s.opts.PaletteSampleFrames, q.Add); err != nil {
			return "", "", err
		}
		palette = q.Palette(req.Quality.Colors())
	}

	var buf bytes.Buffer
	enc, err := gif.NewEncoder(&buf, gif.Options{
		Width:     req.Width,
		Height:    req.Height,
		FrameRate: req.FrameRate,
		Quality:   req.Quality,
		Palette:   palette,
	})
	if err != nil {
		return "", "", err
	}

	job.Transition(domain.JobStateEncoding)
	progress.Stage(StageEncoding, "Encoding frames")

	var poster []byte
	frames, errc := stream.Frames(ctx)
	for f := range frames {
		if err := ctx.Err(); err != nil {
			stream.Release(f)
			return "", "", err
		}
		if f.Index == 0 && s.poster != nil && req.Destination == domain.DestinationLibrary {
			if poster, err = s.poster.Encode(f); err != nil {
				logger.Warn.Printf("job %s: poster skipped: %v", job.ID, err)
				poster = nil
			}
		}
		if err := enc.WriteFrame(f); err != nil {
			stream.Release(f)
			return "", "", err
		}
		stream.Release(f)
		progress.Frame(job.FrameEncoded())
	}
	if err := <-errc; err != nil {
		return "", "", err
	}
	if err := enc.Close(); err != nil {
		return "", "", err
	}
	if enc.Frames() != stream.Total() {
		return "", "", fmt.Errorf("encoded %d of %d frames", enc.Frames(), stream.Total())
	}

	// Last point where cancellation is honoured; a save that starts runs to
	// completion.
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	progress.Stage(StageSaving, "Saving GIF")

	artifact := domain.NewArtifact(req, buf.Bytes(), enc.Frames())
	artifact.Poster = poster
	saveCtx := context.WithoutCancel(ctx)

	switch req.Destination {
	case domain.DestinationExport:
		path, err := s.exporter.Export(saveCtx, artifact)
		if err != nil {
			return "", "", storageFailure("export", artifact.ID, err)
		}
		logger.Info.Printf("job %s exported %s (%s)", job.ID, logger.SanitizeForLog(path), domain.FormatSize(artifact.SizeBytes))
		return artifact.ID, "Saved to " + path, nil
	default:
		id, err := s.library.Put(saveCtx, artifact)
		if err != nil {
			return "", "", storageFailure("put", artifact.ID, err)
		}
		return id, "Saved to library", nil
	}
}

// storageFailure keeps storage sentinels and files anything else under
// ErrWriteFailed so the caller sees a save failure, not an encode failure.
func storageFailure(op, id string, err error) error {
	var se *domain.StorageError
	if errors.As(err, &se) && domain.Classify(err) == domain.KindStorage {
		return err
	}
	if domain.Classify(err) == domain.KindStorage {
		return &domain.StorageError{Op: op, ID: id, Err: err}
	}
	return &domain.StorageError{Op: op, ID: id, Err: fmt.Errorf("%w: %v", domain.ErrWriteFailed, err)}
}
