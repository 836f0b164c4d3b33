package messaging

import (
	"fmt"
	"math"
	"time"

	"github.com/bnema/gifcap/internal/domain"
	"github.com/bnema/gifcap/internal/service"
)

type MessageType string

const (
	TypeCapture MessageType = "capture"
	TypeCancel  MessageType = "cancel"
	TypeList    MessageType = "list"
	TypeGet     MessageType = "get"
	TypeDelete  MessageType = "delete"

	TypeProgress MessageType = "progress"
	TypeResult   MessageType = "result"
	TypeError    MessageType = "error"
	TypeLibrary  MessageType = "library"
	TypeArtifact MessageType = "artifact"
)

// Request is a message from the extension. ID is chosen by the extension and
// echoed on every reply so it can match responses to calls.
type Request struct {
	ID         string         `json:"id"`
	Type       MessageType    `json:"type"`
	Context    string         `json:"context,omitempty"`
	Capture    *CaptureParams `json:"capture,omitempty"`
	JobID      string         `json:"jobId,omitempty"`
	ArtifactID string         `json:"artifactId,omitempty"`
}

// CaptureParams mirrors the extension's capture form. Times are seconds.
type CaptureParams struct {
	Source      string  `json:"source"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	FrameRate   float64 `json:"fps"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	Quality     string  `json:"quality,omitempty"`
	Title       string  `json:"title,omitempty"`
	Destination string  `json:"destination,omitempty"`
}

func seconds(s float64) (time.Duration, error) {
	if math.IsNaN(s) || math.IsInf(s, 0) || math.Abs(s) > math.MaxInt64/float64(time.Second) {
		return 0, fmt.Errorf("%w: time %v is not a number of seconds", domain.ErrInvalidRange, s)
	}
	return time.Duration(math.Round(s * float64(time.Second))), nil
}

// CaptureRequest converts the wire form. Range checks are left to the
// capture service.
func (p CaptureParams) CaptureRequest() (domain.CaptureRequest, error) {
	start, err := seconds(p.Start)
	if err != nil {
		return domain.CaptureRequest{}, err
	}
	end, err := seconds(p.End)
	if err != nil {
		return domain.CaptureRequest{}, err
	}
	quality, err := domain.ParseQualityTier(p.Quality)
	if err != nil {
		return domain.CaptureRequest{}, fmt.Errorf("%w: %v", domain.ErrInvalidRange, err)
	}
	return domain.CaptureRequest{
		SourceHandle: p.Source,
		Start:        start,
		End:          end,
		FrameRate:    p.FrameRate,
		Width:        p.Width,
		Height:       p.Height,
		Quality:      quality,
		Title:        p.Title,
		Destination:  domain.Destination(p.Destination),
	}.WithDefaults(), nil
}

type Response struct {
	ID         string               `json:"id,omitempty"`
	Type       MessageType          `json:"type"`
	JobID      string               `json:"jobId,omitempty"`
	Event      *service.Event       `json:"event,omitempty"`
	ArtifactID string               `json:"artifactId,omitempty"`
	Message    string               `json:"message,omitempty"`
	Error      *service.ErrorInfo   `json:"error,omitempty"`
	Library    *domain.LibraryIndex `json:"library,omitempty"`
	Artifact   *ArtifactChunk       `json:"artifact,omitempty"`
}

// ArtifactChunk carries part of a GIF. Blobs larger than one message are
// split; metadata and poster travel on the first chunk only.
type ArtifactChunk struct {
	Metadata *domain.Metadata `json:"metadata,omitempty"`
	Poster   []byte           `json:"poster,omitempty"`
	Seq      int              `json:"seq"`
	Last     bool             `json:"last"`
	Data     []byte           `json:"data"`
}

const (
	// chunkBytes leaves room for base64 growth and the JSON envelope.
	chunkBytes = 512 << 10
	maxPoster  = 256 << 10
)

func chunkArtifact(a *domain.GifArtifact, size int) []ArtifactChunk {
	meta := a.Metadata
	first := ArtifactChunk{Metadata: &meta}
	if len(a.Poster) <= maxPoster && len(a.Poster) < size {
		first.Poster = a.Poster
	}

	blob := a.Blob
	n := size - len(first.Poster)
	if n > len(blob) {
		n = len(blob)
	}
	first.Data = blob[:n]
	blob = blob[n:]

	chunks := []ArtifactChunk{first}
	for len(blob) > 0 {
		n := size
		if n > len(blob) {
			n = len(blob)
		}
		chunks = append(chunks, ArtifactChunk{Seq: len(chunks), Data: blob[:n]})
		blob = blob[n:]
	}
	chunks[len(chunks)-1].Last = true
	return chunks
}

func badRequest(format string, args ...interface{}) *service.ErrorInfo {
	return &service.ErrorInfo{
		Kind:    domain.KindInput,
		Code:    "BadRequest",
		Message: fmt.Sprintf(format, args...),
	}
}
