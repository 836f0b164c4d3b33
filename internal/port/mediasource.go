package port

import (
	"context"
	"time"
)

// MediaSource opens private playback elements for a source handle. Each
// element is independent of any player the user is watching; seeking it never
// moves the visible player.
type MediaSource interface {
	Open(ctx context.Context, handle string, width, height int) (MediaElement, error)
}

// MediaElement is a private, offscreen element bound to a fixed output size.
type MediaElement interface {
	Duration() time.Duration
	// Seek returns once the frame at the given position is ready to rasterize.
	Seek(ctx context.Context, at time.Duration) error
	// Rasterize writes the current frame into dst as width*height RGBA, scaled
	// while decoding.
	Rasterize(dst []byte) error
	Close() error
}
