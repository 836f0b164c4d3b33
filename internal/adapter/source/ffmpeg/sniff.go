package ffmpeg

import (
	"errors"
	"io"
	"net/http"
	"strings"
)

// magicBytesBufferSize is the number of bytes read for content type detection.
const magicBytesBufferSize = 512

// sniffVideo reads the head of a local source and reports its MIME type and
// whether ffmpeg should be pointed at it.
func sniffVideo(r io.Reader) (mime string, ok bool, err error) {
	buf := make([]byte, magicBytesBufferSize)
	n, err := io.ReadFull(r, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", false, err
	}
	if n == 0 {
		return "application/octet-stream", false, nil
	}
	buf = buf[:n]

	mime = detectContainer(buf)
	if mime == "" {
		mime = http.DetectContentType(buf)
	}
	return mime, strings.HasPrefix(mime, "video/") || mime == "image/gif", nil
}

// detectContainer recognises the video containers http.DetectContentType
// misses or misreports.
func detectContainer(buf []byte) string {
	if len(buf) < 4 {
		return ""
	}

	// WebM/Matroska: EBML header
	if buf[0] == 0x1A && buf[1] == 0x45 && buf[2] == 0xDF && buf[3] == 0xA3 {
		return "video/webm"
	}

	// MPEG transport stream: sync byte every 188 bytes
	if len(buf) > 188 && buf[0] == 0x47 && buf[188] == 0x47 {
		return "video/mp2t"
	}

	// MP4/QuickTime: [4 bytes size]["ftyp"][brand]
	if len(buf) >= 12 && string(buf[4:8]) == "ftyp" {
		switch string(buf[8:12]) {
		case "qt  ":
			return "video/quicktime"
		default:
			return "video/mp4"
		}
	}

	// RIFF....AVI
	if len(buf) >= 12 && string(buf[0:4]) == "RIFF" && string(buf[8:12]) == "AVI " {
		return "video/x-msvideo"
	}

	return ""
}
