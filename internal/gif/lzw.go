package gif

import (
	"compress/lzw"
	"io"
)

// blockWriter splits a byte stream into GIF data sub-blocks: a length byte
// followed by at most 255 bytes. close writes the zero-length terminator.
type blockWriter struct {
	w   io.Writer
	buf [256]byte
	n   int
	err error
}

func (b *blockWriter) Write(p []byte) (int, error) {
	if b.err != nil {
		return 0, b.err
	}
	written := 0
	for len(p) > 0 {
		c := copy(b.buf[1+b.n:], p)
		b.n += c
		p = p[c:]
		written += c
		if b.n == 255 {
			b.flush()
			if b.err != nil {
				return written, b.err
			}
		}
	}
	return written, nil
}

func (b *blockWriter) flush() {
	if b.n == 0 || b.err != nil {
		return
	}
	b.buf[0] = byte(b.n)
	_, b.err = b.w.Write(b.buf[:b.n+1])
	b.n = 0
}

func (b *blockWriter) close() error {
	b.flush()
	if b.err != nil {
		return b.err
	}
	_, b.err = b.w.Write([]byte{0x00})
	return b.err
}

// writeImageData emits the LZW minimum code size followed by the compressed
// indices in sub-blocks.
func writeImageData(w io.Writer, indices []byte, litWidth int) error {
	if _, err := w.Write([]byte{byte(litWidth)}); err != nil {
		return err
	}
	bw := &blockWriter{w: w}
	lw := lzw.NewWriter(bw, lzw.LSB, litWidth)
	if _, err := lw.Write(indices); err != nil {
		_ = lw.Close()
		return err
	}
	if err := lw.Close(); err != nil {
		return err
	}
	return bw.close()
}

// litWidthFor is the smallest LZW literal width that covers n palette entries.
// GIF requires at least 2.
func litWidthFor(n int) int {
	w := 2
	for 1<<w < n {
		w++
	}
	return w
}
