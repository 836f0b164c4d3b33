// Package mocks holds testify mocks of the port interfaces.
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/bnema/gifcap/internal/domain"
	"github.com/bnema/gifcap/internal/port"
)

var (
	_ port.ArtifactStore    = (*ArtifactStore)(nil)
	_ port.ArtifactOpener   = (*ArtifactOpener)(nil)
	_ port.ArtifactExporter = (*ArtifactExporter)(nil)
	_ port.PosterEncoder    = (*PosterEncoder)(nil)
	_ port.ProjectionCache  = (*ProjectionCache)(nil)
	_ port.MediaSource      = (*MediaSource)(nil)
	_ port.MediaElement     = (*MediaElement)(nil)
)

type ArtifactStore struct {
	mock.Mock
}

func (m *ArtifactStore) Put(ctx context.Context, a *domain.GifArtifact) (string, error) {
	args := m.Called(ctx, a)
	return args.String(0), args.Error(1)
}

func (m *ArtifactStore) Get(ctx context.Context, id string) (*domain.GifArtifact, error) {
	args := m.Called(ctx, id)
	a, _ := args.Get(0).(*domain.GifArtifact)
	return a, args.Error(1)
}

func (m *ArtifactStore) List(ctx context.Context) ([]domain.Metadata, error) {
	args := m.Called(ctx)
	entries, _ := args.Get(0).([]domain.Metadata)
	return entries, args.Error(1)
}

func (m *ArtifactStore) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *ArtifactStore) SchemaVersion(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *ArtifactStore) Close() error {
	return m.Called().Error(0)
}

type ArtifactOpener struct {
	mock.Mock
}

func (m *ArtifactOpener) Open(ctx context.Context) (port.ArtifactStore, error) {
	args := m.Called(ctx)
	store, _ := args.Get(0).(port.ArtifactStore)
	return store, args.Error(1)
}

type ArtifactExporter struct {
	mock.Mock
}

func (m *ArtifactExporter) Export(ctx context.Context, a *domain.GifArtifact) (string, error) {
	args := m.Called(ctx, a)
	return args.String(0), args.Error(1)
}

type PosterEncoder struct {
	mock.Mock
}

func (m *PosterEncoder) Encode(frame *domain.Frame) ([]byte, error) {
	args := m.Called(frame)
	b, _ := args.Get(0).([]byte)
	return b, args.Error(1)
}

type ProjectionCache struct {
	mock.Mock
}

func (m *ProjectionCache) Replace(entries []domain.Metadata) error {
	return m.Called(entries).Error(0)
}

func (m *ProjectionCache) Entries() ([]domain.Metadata, error) {
	args := m.Called()
	entries, _ := args.Get(0).([]domain.Metadata)
	return entries, args.Error(1)
}

type MediaSource struct {
	mock.Mock
}

func (m *MediaSource) Open(ctx context.Context, handle string, width, height int) (port.MediaElement, error) {
	args := m.Called(ctx, handle, width, height)
	el, _ := args.Get(0).(port.MediaElement)
	return el, args.Error(1)
}

type MediaElement struct {
	mock.Mock
}

func (m *MediaElement) Duration() time.Duration {
	return m.Called().Get(0).(time.Duration)
}

func (m *MediaElement) Seek(ctx context.Context, at time.Duration) error {
	return m.Called(ctx, at).Error(0)
}

func (m *MediaElement) Rasterize(dst []byte) error {
	return m.Called(dst).Error(0)
}

func (m *MediaElement) Close() error {
	return m.Called().Error(0)
}
