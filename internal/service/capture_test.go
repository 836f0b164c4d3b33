package service

import (
	"bytes"
	"context"
	"errors"
	stdgif "image/gif"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bnema/gifcap/internal/domain"
	"github.com/bnema/gifcap/internal/port/mocks"
)

type captureFixture struct {
	src      *fakeSource
	lib      *memLibrary
	bridge   *Bridge
	exporter *mocks.ArtifactExporter
	svc      *CaptureService
}

// newCaptureFixture builds a service over fakes. Tests that hold seeks open
// until cancellation pass a long seek timeout so the seek does not expire
// first.
func newCaptureFixture(t *testing.T, seekTimeout time.Duration) *captureFixture {
	t.Helper()
	src := newFakeSource(60 * time.Second)
	lib := newMemLibrary()
	bridge := NewBridge(lib, t.TempDir()+"/gifcap.db")
	exporter := &mocks.ArtifactExporter{}
	sampler := NewSampler(src, SamplerOptions{
		SeekTimeout:  seekTimeout,
		RetryBackoff: time.Millisecond,
		MaxFrames:    1500,
	})
	svc := NewCaptureService(
		sampler,
		bridge.Context(ContextWorker, nil),
		exporter,
		nil,
		NewEventBus(),
		CaptureOptions{PaletteSampleFrames: 4, MaxFrames: 1500},
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return &captureFixture{src: src, lib: lib, bridge: bridge, exporter: exporter, svc: svc}
}

// follow subscribes to a job and returns every event up to the terminal one.
func follow(t *testing.T, bus *EventBus, jobID string, onEvent func(Event)) []Event {
	t.Helper()
	ch := bus.Subscribe(jobID)
	var events []Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
			if onEvent != nil {
				onEvent(ev)
			}
		case <-timeout:
			t.Fatalf("job %s did not settle; last events: %+v", jobID, events)
			return events
		}
	}
}

func assertMonotonic(t *testing.T, events []Event) {
	t.Helper()
	prev := -1
	for i, ev := range events {
		assert.GreaterOrEqual(t, ev.Percent, prev, "event %d", i)
		prev = ev.Percent
		if i < len(events)-1 {
			assert.Less(t, ev.Percent, 100)
		}
	}
}

func TestCaptureService_FiveToEightSecondsToLibrary(t *testing.T) {
	f := newCaptureFixture(t, 20*time.Millisecond)
	before := *f.src.player

	job, err := f.svc.Start(context.Background(), captureRequest(5*time.Second, 8*time.Second, 10))
	require.NoError(t, err)

	events := follow(t, f.svc.Events(), job.ID, nil)
	require.NotEmpty(t, events)
	assertMonotonic(t, events)

	last := events[len(events)-1]
	require.Equal(t, domain.JobStateCompleted, last.State, "error: %+v", last.Err)
	assert.Equal(t, 100, last.Percent)
	assert.Equal(t, FrameProgress{Done: 30, Total: 30}, last.Frames)
	assert.NotEmpty(t, last.ArtifactID)
	assert.Equal(t, domain.JobStateCompleted, job.State())
	assert.Equal(t, last.ArtifactID, job.ArtifactID())
	assert.Equal(t, 30, job.FramesDone())
	assert.Equal(t, before, *f.src.player)

	popup := f.bridge.Context(ContextPopup, nil)
	index, err := popup.List(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, index.Len())
	meta := index.Entries[0]
	assert.Equal(t, last.ArtifactID, meta.ID)
	assert.Equal(t, 30, meta.FrameCount)
	assert.Equal(t, int64(3000), meta.DurationMs)
	assert.Equal(t, "Test clip", meta.Title)

	artifact, err := popup.Get(context.Background(), meta.ID)
	require.NoError(t, err)
	assert.True(t, artifact.Verify())

	decoded, err := stdgif.DecodeAll(bytes.NewReader(artifact.Blob))
	require.NoError(t, err)
	require.Len(t, decoded.Image, 30)
	total := 0
	for _, d := range decoded.Delay {
		total += d
	}
	assert.Equal(t, 300, total)
}

func TestCaptureService_RejectsInvertedRange(t *testing.T) {
	f := newCaptureFixture(t, 20*time.Millisecond)

	job, err := f.svc.Start(context.Background(), captureRequest(10*time.Second, 5*time.Second, 10))
	assert.Nil(t, job)
	assert.ErrorIs(t, err, domain.ErrInvalidRange)
	assert.Equal(t, "The selected range is not valid for this video.", domain.UserMessage(err))
	assert.Nil(t, f.src.lastElement(), "no frame was sampled")
	assert.Zero(t, f.lib.size())
}

func TestCaptureService_CancelAtHalfway(t *testing.T) {
	f := newCaptureFixture(t, time.Minute)
	req := captureRequest(5*time.Second, 8*time.Second, 10)
	req.Quality = domain.QualityHigh
	// Frames from 6.7s on never become ready, so the job cannot finish on
	// its own once it passes the halfway point.
	f.src.blockFrom = req.Timestamp(17)

	entriesBefore, err := f.bridge.Context(ContextPopup, nil).List(context.Background())
	require.NoError(t, err)

	job, err := f.svc.Start(context.Background(), req)
	require.NoError(t, err)

	cancelled := false
	events := follow(t, f.svc.Events(), job.ID, func(ev Event) {
		if !cancelled && ev.Percent >= 50 {
			cancelled = true
			require.NoError(t, f.svc.Cancel(job.ID))
		}
	})
	require.True(t, cancelled)
	assertMonotonic(t, events)

	last := events[len(events)-1]
	assert.Equal(t, domain.JobStateCancelled, last.State)
	require.NotNil(t, last.Err)
	assert.Equal(t, domain.KindCancelled, last.Err.Kind)
	assert.Less(t, last.Percent, 100)
	assert.Equal(t, domain.JobStateCancelled, job.State())

	entriesAfter, err := f.bridge.Context(ContextPopup, nil).List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, entriesBefore.Entries, entriesAfter.Entries)
	assert.Zero(t, f.lib.size())
	assert.True(t, f.src.lastElement().isClosed())
}

func TestCaptureService_OneJobAtATime(t *testing.T) {
	f := newCaptureFixture(t, time.Minute)
	req := captureRequest(0, 2*time.Second, 10)
	req.Quality = domain.QualityHigh
	f.src.blockFrom = req.Timestamp(5)

	first, err := f.svc.Start(context.Background(), req)
	require.NoError(t, err)

	_, err = f.svc.Start(context.Background(), captureRequest(0, time.Second, 10))
	assert.ErrorIs(t, err, domain.ErrJobActive)

	require.NoError(t, f.svc.Cancel(first.ID))
	follow(t, f.svc.Events(), first.ID, nil)

	f.src.mu.Lock()
	f.src.blockFrom = 0
	f.src.mu.Unlock()
	second, err := f.svc.Start(context.Background(), captureRequest(0, time.Second, 10))
	require.NoError(t, err)
	events := follow(t, f.svc.Events(), second.ID, nil)
	assert.Equal(t, domain.JobStateCompleted, events[len(events)-1].State)

	_, ok := f.svc.Job(first.ID)
	assert.False(t, ok, "settled job is dropped when the next one starts")
}

func TestCaptureService_ExportDestination(t *testing.T) {
	f := newCaptureFixture(t, 20*time.Millisecond)
	f.exporter.On("Export", mock.Anything, mock.MatchedBy(func(a *domain.GifArtifact) bool {
		return a.FrameCount == 10 && a.Verify()
	})).Return("/exports/Test clip-12345678.gif", nil)

	req := captureRequest(0, time.Second, 10)
	req.Destination = domain.DestinationExport
	req.Quality = domain.QualityLow
	job, err := f.svc.Start(context.Background(), req)
	require.NoError(t, err)

	events := follow(t, f.svc.Events(), job.ID, nil)
	last := events[len(events)-1]
	require.Equal(t, domain.JobStateCompleted, last.State)
	assert.Equal(t, "Saved to /exports/Test clip-12345678.gif", last.Message)
	assert.Zero(t, f.lib.size(), "export does not touch the library")
	f.exporter.AssertExpectations(t)
}

func TestCaptureService_StorageFailureAfterEncode(t *testing.T) {
	f := newCaptureFixture(t, 20*time.Millisecond)
	f.lib.putErr = &domain.StorageError{Op: "put", Err: domain.ErrQuotaExceeded}

	job, err := f.svc.Start(context.Background(), captureRequest(0, time.Second, 10))
	require.NoError(t, err)

	events := follow(t, f.svc.Events(), job.ID, nil)
	last := events[len(events)-1]
	assert.Equal(t, domain.JobStateFailed, last.State)
	assert.Equal(t, 99, last.Percent, "every frame was encoded")
	require.NotNil(t, last.Err)
	assert.Equal(t, domain.KindStorage, last.Err.Kind)
	assert.Equal(t, "QuotaExceeded", last.Err.Code)
	assert.Contains(t, last.Message, "GIF encoded but could not be saved")
	assert.ErrorIs(t, job.Err(), domain.ErrQuotaExceeded)
}

func TestCaptureService_UnexpectedStoreErrorIsWriteFailure(t *testing.T) {
	f := newCaptureFixture(t, 20*time.Millisecond)
	f.lib.putErr = errors.New("disk I/O error")

	job, err := f.svc.Start(context.Background(), captureRequest(0, time.Second, 10))
	require.NoError(t, err)

	events := follow(t, f.svc.Events(), job.ID, nil)
	last := events[len(events)-1]
	require.NotNil(t, last.Err)
	assert.Equal(t, "WriteFailed", last.Err.Code)
	assert.ErrorIs(t, job.Err(), domain.ErrWriteFailed)
}

func TestCaptureService_SeekFailure(t *testing.T) {
	f := newCaptureFixture(t, 20*time.Millisecond)
	req := captureRequest(0, time.Second, 10)
	req.Quality = domain.QualityHigh
	f.src.failSeeks[req.Timestamp(4)] = 2

	job, err := f.svc.Start(context.Background(), req)
	require.NoError(t, err)

	events := follow(t, f.svc.Events(), job.ID, nil)
	last := events[len(events)-1]
	assert.Equal(t, domain.JobStateFailed, last.State)
	require.NotNil(t, last.Err)
	assert.Equal(t, domain.KindExtraction, last.Err.Kind)
	assert.Equal(t, "Could not reach frame 5 of the video.", last.Message)
	assert.Zero(t, f.lib.size())
}

func TestCaptureService_Poster(t *testing.T) {
	src := newFakeSource(60 * time.Second)
	lib := newMemLibrary()
	poster := &mocks.PosterEncoder{}
	poster.On("Encode", mock.MatchedBy(func(fr *domain.Frame) bool { return fr.Index == 0 })).
		Return([]byte("RIFF....WEBP"), nil).Once()

	svc := NewCaptureService(fastSampler(src), NewBridge(lib, t.TempDir()+"/gifcap.db").Context(ContextWorker, nil),
		nil, poster, NewEventBus(), CaptureOptions{})

	job, err := svc.Start(context.Background(), captureRequest(0, time.Second, 5))
	require.NoError(t, err)
	events := follow(t, svc.Events(), job.ID, nil)
	require.Equal(t, domain.JobStateCompleted, events[len(events)-1].State)

	h, _ := lib.Open(context.Background())
	a, err := h.Get(context.Background(), job.ArtifactID())
	require.NoError(t, err)
	assert.Equal(t, []byte("RIFF....WEBP"), a.Poster)
	poster.AssertExpectations(t)
}

func TestCaptureService_CancelUnknownJob(t *testing.T) {
	f := newCaptureFixture(t, 20*time.Millisecond)
	assert.ErrorIs(t, f.svc.Cancel("nope"), domain.ErrNotFound)
}

func publishedJobs(bus *EventBus) int {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	return len(bus.last)
}

func TestCaptureService_RejectsEndPastDuration(t *testing.T) {
	f := newCaptureFixture(t, 20*time.Millisecond)

	job, err := f.svc.Start(context.Background(), captureRequest(65*time.Second, 70*time.Second, 10))
	assert.Nil(t, job)
	assert.ErrorIs(t, err, domain.ErrInvalidRange)
	assert.Zero(t, publishedJobs(f.svc.Events()), "no progress for a rejected request")

	el := f.src.lastElement()
	require.NotNil(t, el, "duration comes from the opened source")
	assert.True(t, el.isClosed())
	assert.Empty(t, el.seekLog())

	// The slot is free again.
	job, err = f.svc.Start(context.Background(), captureRequest(0, time.Second, 10))
	require.NoError(t, err)
	events := follow(t, f.svc.Events(), job.ID, nil)
	assert.Equal(t, domain.JobStateCompleted, events[len(events)-1].State)
}

func TestCaptureService_RejectsUnavailableSource(t *testing.T) {
	f := newCaptureFixture(t, 20*time.Millisecond)
	f.src.openErr = errors.New("tab closed")

	job, err := f.svc.Start(context.Background(), captureRequest(0, time.Second, 10))
	assert.Nil(t, job)
	assert.ErrorIs(t, err, domain.ErrSourceUnavailable)
	assert.Zero(t, publishedJobs(f.svc.Events()))
	assert.Zero(t, f.lib.size())

	f.src.openErr = nil
	_, err = f.svc.Start(context.Background(), captureRequest(0, time.Second, 10))
	assert.NoError(t, err)
}

func TestCaptureService_ForgetWaitsForTerminalEvent(t *testing.T) {
	f := newCaptureFixture(t, 20*time.Millisecond)
	bus := f.svc.Events()
	ch := bus.Subscribe("old-job")
	settled := make(chan struct{})

	// The old job already reads as terminal but has not published yet.
	f.svc.forgetWhenSettled("old-job", settled)

	bus.Publish("old-job", Event{JobID: "old-job", State: domain.JobStateEncoding, Percent: 99})
	bus.Publish("old-job", Event{JobID: "old-job", State: domain.JobStateCompleted, Percent: 100})
	close(settled)

	var got []Event
	for ev := range ch {
		got = append(got, ev)
	}
	require.Len(t, got, 2)
	assert.Equal(t, domain.JobStateCompleted, got[1].State)

	assert.Eventually(t, func() bool {
		_, ok := bus.Last("old-job")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestCaptureService_ForgetSettledJobImmediately(t *testing.T) {
	f := newCaptureFixture(t, 20*time.Millisecond)
	bus := f.svc.Events()
	bus.Publish("old-job", Event{JobID: "old-job", State: domain.JobStateFailed})
	settled := make(chan struct{})
	close(settled)

	f.svc.forgetWhenSettled("old-job", settled)
	_, ok := bus.Last("old-job")
	assert.False(t, ok)
}
