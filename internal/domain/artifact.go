package domain

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// SchemaVersion is the artifact table version both execution contexts expect.
// Bump it together with every new migration.
const SchemaVersion int64 = 2

type Metadata struct {
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	Width      int         `json:"width"`
	Height     int         `json:"height"`
	FrameCount int         `json:"frame_count"`
	DurationMs int64       `json:"duration_ms"`
	SizeBytes  int64       `json:"size_bytes"`
	Checksum   string      `json:"checksum"`
	Quality    QualityTier `json:"quality"`
	CreatedAt  time.Time   `json:"created_at"`
}

// GifArtifact is an encoded GIF plus its metadata. Once stored it is never
// modified, only deleted.
type GifArtifact struct {
	Metadata
	Blob   []byte
	Poster []byte
}

// NewArtifact wraps an encoded blob for the request that produced it.
func NewArtifact(req CaptureRequest, blob []byte, frameCount int) *GifArtifact {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "Untitled GIF"
	}
	return &GifArtifact{
		Metadata: Metadata{
			ID:         uuid.NewString(),
			Title:      title,
			Width:      req.Width,
			Height:     req.Height,
			FrameCount: frameCount,
			DurationMs: req.DurationMs(),
			SizeBytes:  int64(len(blob)),
			Checksum:   Checksum(blob),
			Quality:    req.Quality,
			CreatedAt:  time.Now().UTC(),
		},
		Blob: blob,
	}
}

// Checksum is the hex blake2b-256 digest of a blob.
func Checksum(blob []byte) string {
	sum := blake2b.Sum256(blob)
	return hex.EncodeToString(sum[:])
}

// Verify reports whether the blob still matches its recorded checksum and size.
func (a *GifArtifact) Verify() bool {
	return int64(len(a.Blob)) == a.SizeBytes && Checksum(a.Blob) == a.Checksum
}

// ShortID is the first eight characters of the id, used in file names.
func (m Metadata) ShortID() string {
	if len(m.ID) <= 8 {
		return m.ID
	}
	return m.ID[:8]
}
