package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("artifact not found")

	ErrInvalidRange      = errors.New("invalid capture range")
	ErrSourceUnavailable = errors.New("media source unavailable")
	ErrSeekTimeout       = errors.New("seek timed out")

	ErrEncoderInitFailed = errors.New("encoder initialisation failed")
	ErrFrameEncodeFailed = errors.New("frame encode failed")

	ErrQuotaExceeded  = errors.New("storage quota exceeded")
	ErrWriteFailed    = errors.New("storage write failed")
	ErrSchemaMismatch = errors.New("storage schema version mismatch")

	ErrCancelled = errors.New("job cancelled")
	ErrJobActive = errors.New("a capture job is already active")
)

// ErrorKind groups failures by the layer that raised them.
type ErrorKind string

const (
	KindInput      ErrorKind = "input"
	KindExtraction ErrorKind = "extraction"
	KindEncoding   ErrorKind = "encoding"
	KindStorage    ErrorKind = "storage"
	KindCancelled  ErrorKind = "cancelled"
	KindInternal   ErrorKind = "internal"
)

// FrameError ties a sampling or encoding failure to the frame that caused it.
type FrameError struct {
	Index int
	Err   error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("frame %d: %v", e.Index, e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// StorageError records which store operation failed and on which record.
type StorageError struct {
	Op  string
	ID  string
	Err error
}

func (e *StorageError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.ID, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Classify maps an error onto its kind. Context cancellation counts as a
// cancelled job, not a failure.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, ErrInvalidRange), errors.Is(err, ErrJobActive):
		return KindInput
	case errors.Is(err, ErrSourceUnavailable), errors.Is(err, ErrSeekTimeout):
		return KindExtraction
	case errors.Is(err, ErrEncoderInitFailed), errors.Is(err, ErrFrameEncodeFailed):
		return KindEncoding
	case errors.Is(err, ErrQuotaExceeded), errors.Is(err, ErrWriteFailed),
		errors.Is(err, ErrSchemaMismatch), errors.Is(err, ErrNotFound):
		return KindStorage
	default:
		return KindInternal
	}
}

// Code returns the stable short name used on the wire for an error.
func Code(err error) string {
	for _, c := range []struct {
		target error
		code   string
	}{
		{ErrInvalidRange, "InvalidRange"},
		{ErrSourceUnavailable, "SourceUnavailable"},
		{ErrSeekTimeout, "SeekTimeout"},
		{ErrEncoderInitFailed, "EncoderInitFailed"},
		{ErrFrameEncodeFailed, "FrameEncodeFailed"},
		{ErrQuotaExceeded, "QuotaExceeded"},
		{ErrWriteFailed, "WriteFailed"},
		{ErrSchemaMismatch, "SchemaMismatch"},
		{ErrNotFound, "NotFound"},
		{ErrJobActive, "JobActive"},
		{ErrCancelled, "Cancelled"},
		{context.Canceled, "Cancelled"},
	} {
		if errors.Is(err, c.target) {
			return c.code
		}
	}
	return "Internal"
}

// UserMessage is the human-readable text shown for a terminal error. Raw
// diagnostics stay in the debug log.
func UserMessage(err error) string {
	var fe *FrameError
	hasFrame := errors.As(err, &fe)

	switch Code(err) {
	case "InvalidRange":
		return "The selected range is not valid for this video."
	case "SourceUnavailable":
		return "The video is no longer available."
	case "SeekTimeout":
		if hasFrame {
			return fmt.Sprintf("Could not reach frame %d of the video.", fe.Index+1)
		}
		return "Could not reach the requested position in the video."
	case "EncoderInitFailed":
		return "The GIF encoder could not start."
	case "FrameEncodeFailed":
		if hasFrame {
			return fmt.Sprintf("Frame %d could not be encoded.", fe.Index+1)
		}
		return "A frame could not be encoded."
	case "QuotaExceeded":
		return "GIF encoded but could not be saved: storage is full. Delete some GIFs and try again."
	case "WriteFailed":
		return "GIF encoded but could not be saved."
	case "SchemaMismatch":
		return "GIF encoded but could not be saved: the library was created by a different version."
	case "NotFound":
		return "The GIF no longer exists."
	case "JobActive":
		return "Another GIF is being created. Wait for it to finish or cancel it."
	case "Cancelled":
		return "Capture cancelled."
	default:
		return "Something went wrong while creating the GIF."
	}
}
