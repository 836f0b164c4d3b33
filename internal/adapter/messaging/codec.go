package messaging

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

const (
	// MaxOutgoing is the browser's limit for a single message sent by the host.
	MaxOutgoing = 1 << 20
	// maxIncoming bounds what we are willing to buffer from the extension.
	maxIncoming = 64 << 20
)

var (
	ErrMessageTooLarge = errors.New("native message too large")
	ErrMalformed       = errors.New("malformed native message")
)

// Codec reads and writes browser native-messaging frames: a 4-byte
// little-endian length followed by that many bytes of UTF-8 JSON.
type Codec struct {
	r  io.Reader
	w  io.Writer
	mu sync.Mutex
}

func NewCodec(r io.Reader, w io.Writer) *Codec {
	return &Codec{r: r, w: w}
}

// Read decodes the next frame into v. It returns io.EOF when the stream ends
// cleanly between frames. A JSON error leaves the stream usable and wraps
// ErrMalformed; any other error means the framing is lost.
func (c *Codec) Read(v interface{}) error {
	var header [4]byte
	if _, err := io.ReadFull(c.r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("read frame header: %w", err)
	}

	n := binary.LittleEndian.Uint32(header[:])
	if n > maxIncoming {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, n)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(c.r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return fmt.Errorf("read frame body: %w", err)
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// Write encodes v as one frame. Concurrent writers are serialised so frames
// never interleave.
func (c *Codec) Write(v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if len(body) > MaxOutgoing {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(body))
	}

	frame := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[4:], body)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}
