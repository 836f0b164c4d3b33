package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bnema/gifcap/internal/domain"
	"github.com/bnema/gifcap/internal/port"
)

// fakePlayer stands in for the video the user is watching.
type fakePlayer struct {
	position time.Duration
	paused   bool
}

type fakeSource struct {
	duration time.Duration
	player   *fakePlayer
	openErr  error

	mu       sync.Mutex
	elements []*fakeElement
	// failSeeks makes the first n seeks to a timestamp hang until the seek
	// deadline.
	failSeeks map[time.Duration]int
	// blockFrom makes every seek at or after this position hang until the job
	// is cancelled. Zero disables it.
	blockFrom time.Duration
}

func newFakeSource(duration time.Duration) *fakeSource {
	return &fakeSource{
		duration:  duration,
		player:    &fakePlayer{position: 42 * time.Second, paused: false},
		failSeeks: make(map[time.Duration]int),
	}
}

func (s *fakeSource) Open(_ context.Context, handle string, width, height int) (port.MediaElement, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	el := &fakeElement{source: s, width: width, height: height}
	s.mu.Lock()
	s.elements = append(s.elements, el)
	s.mu.Unlock()
	return el, nil
}

func (s *fakeSource) lastElement() *fakeElement {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.elements) == 0 {
		return nil
	}
	return s.elements[len(s.elements)-1]
}

type fakeElement struct {
	source *fakeSource
	width  int
	height int

	mu       sync.Mutex
	position time.Duration
	seeks    []time.Duration
	closed   bool
}

func (e *fakeElement) Duration() time.Duration {
	return e.source.duration
}

func (e *fakeElement) Seek(ctx context.Context, at time.Duration) error {
	e.source.mu.Lock()
	fail := e.source.failSeeks[at] > 0
	if fail {
		e.source.failSeeks[at]--
	}
	block := e.source.blockFrom > 0 && at >= e.source.blockFrom
	e.source.mu.Unlock()

	if fail || block {
		<-ctx.Done()
		return ctx.Err()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.position = at
	e.seeks = append(e.seeks, at)
	return nil
}

// Rasterize paints the whole frame with a colour derived from the position so
// tests can tell which timestamp a buffer came from.
func (e *fakeElement) Rasterize(dst []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(dst) != e.width*e.height*4 {
		return fmt.Errorf("buffer is %d bytes", len(dst))
	}
	v := positionShade(e.position)
	for i := 0; i < len(dst); i += 4 {
		dst[i], dst[i+1], dst[i+2], dst[i+3] = v, 255-v, 128, 255
	}
	return nil
}

func positionShade(at time.Duration) byte {
	return byte(at.Milliseconds() / 10)
}

func (e *fakeElement) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *fakeElement) seekLog() []time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]time.Duration(nil), e.seeks...)
}

func (e *fakeElement) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// memLibrary is a shared in-memory artifact table. Every Open returns a new
// handle on the same data, like two processes opening one database file.
type memLibrary struct {
	mu        sync.Mutex
	version   int64
	artifacts map[string]*domain.GifArtifact
	putErr    error
	opens     int
	closes    int
}

func newMemLibrary() *memLibrary {
	return &memLibrary{version: domain.SchemaVersion, artifacts: make(map[string]*domain.GifArtifact)}
}

func (l *memLibrary) Open(context.Context) (port.ArtifactStore, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.opens++
	return &memHandle{lib: l}, nil
}

func (l *memLibrary) counts() (opens, closes int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opens, l.closes
}

func (l *memLibrary) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.artifacts)
}

type memHandle struct {
	lib    *memLibrary
	closed bool
}

func (h *memHandle) Put(_ context.Context, a *domain.GifArtifact) (string, error) {
	h.lib.mu.Lock()
	defer h.lib.mu.Unlock()
	if h.lib.putErr != nil {
		return "", h.lib.putErr
	}
	cp := *a
	h.lib.artifacts[a.ID] = &cp
	return a.ID, nil
}

func (h *memHandle) Get(_ context.Context, id string) (*domain.GifArtifact, error) {
	h.lib.mu.Lock()
	defer h.lib.mu.Unlock()
	a, ok := h.lib.artifacts[id]
	if !ok {
		return nil, &domain.StorageError{Op: "get", ID: id, Err: domain.ErrNotFound}
	}
	cp := *a
	return &cp, nil
}

func (h *memHandle) List(context.Context) ([]domain.Metadata, error) {
	h.lib.mu.Lock()
	defer h.lib.mu.Unlock()
	out := make([]domain.Metadata, 0, len(h.lib.artifacts))
	for _, a := range h.lib.artifacts {
		out = append(out, a.Metadata)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (h *memHandle) Delete(_ context.Context, id string) error {
	h.lib.mu.Lock()
	defer h.lib.mu.Unlock()
	if _, ok := h.lib.artifacts[id]; !ok {
		return &domain.StorageError{Op: "delete", ID: id, Err: domain.ErrNotFound}
	}
	delete(h.lib.artifacts, id)
	return nil
}

func (h *memHandle) SchemaVersion(context.Context) (int64, error) {
	h.lib.mu.Lock()
	defer h.lib.mu.Unlock()
	return h.lib.version, nil
}

func (h *memHandle) Close() error {
	h.lib.mu.Lock()
	defer h.lib.mu.Unlock()
	if !h.closed {
		h.closed = true
		h.lib.closes++
	}
	return nil
}

type memProjection struct {
	mu      sync.Mutex
	entries []domain.Metadata
	writes  int
}

func (p *memProjection) Replace(entries []domain.Metadata) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append([]domain.Metadata(nil), entries...)
	p.writes++
	return nil
}

func (p *memProjection) Entries() ([]domain.Metadata, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Metadata(nil), p.entries...), nil
}

// recorder collects published events in order.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Publish(_ string, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func captureRequest(start, end time.Duration, fps float64) domain.CaptureRequest {
	return domain.CaptureRequest{
		SourceHandle: "video-1",
		Start:        start,
		End:          end,
		FrameRate:    fps,
		Width:        32,
		Height:       18,
		Quality:      domain.QualityMedium,
		Title:        "Test clip",
		Destination:  domain.DestinationLibrary,
	}
}
