package port

import (
	"context"

	"github.com/bnema/gifcap/internal/domain"
)

// ArtifactStore is the single durable owner of GIF artifacts. Writes are
// atomic: readers see a record completely or not at all.
type ArtifactStore interface {
	Put(ctx context.Context, a *domain.GifArtifact) (string, error)
	Get(ctx context.Context, id string) (*domain.GifArtifact, error)
	List(ctx context.Context) ([]domain.Metadata, error)
	Delete(ctx context.Context, id string) error
	SchemaVersion(ctx context.Context) (int64, error)
	Close() error
}

// ArtifactOpener opens a fresh store handle. The bridge calls it before every
// read so no context holds a connection across a schema change.
type ArtifactOpener interface {
	Open(ctx context.Context) (ArtifactStore, error)
}

// ProjectionCache is a context-local, disposable copy of library metadata.
type ProjectionCache interface {
	Replace(entries []domain.Metadata) error
	Entries() ([]domain.Metadata, error)
}

// PosterEncoder renders a still preview of a frame.
type PosterEncoder interface {
	Encode(frame *domain.Frame) ([]byte, error)
}

// ArtifactExporter writes an artifact outside the library and returns where
// it went.
type ArtifactExporter interface {
	Export(ctx context.Context, a *domain.GifArtifact) (string, error)
}
