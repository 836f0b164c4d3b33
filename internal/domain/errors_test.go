package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind ErrorKind
		code string
	}{
		{name: "invalid range", err: fmt.Errorf("%w: end before start", ErrInvalidRange), kind: KindInput, code: "InvalidRange"},
		{name: "source gone", err: ErrSourceUnavailable, kind: KindExtraction, code: "SourceUnavailable"},
		{name: "seek timeout in frame", err: &FrameError{Index: 7, Err: ErrSeekTimeout}, kind: KindExtraction, code: "SeekTimeout"},
		{name: "encoder init", err: ErrEncoderInitFailed, kind: KindEncoding, code: "EncoderInitFailed"},
		{name: "bad frame", err: &FrameError{Index: 2, Err: ErrFrameEncodeFailed}, kind: KindEncoding, code: "FrameEncodeFailed"},
		{name: "quota", err: &StorageError{Op: "put", ID: "x", Err: ErrQuotaExceeded}, kind: KindStorage, code: "QuotaExceeded"},
		{name: "write", err: &StorageError{Op: "put", Err: ErrWriteFailed}, kind: KindStorage, code: "WriteFailed"},
		{name: "schema", err: ErrSchemaMismatch, kind: KindStorage, code: "SchemaMismatch"},
		{name: "cancelled", err: ErrCancelled, kind: KindCancelled, code: "Cancelled"},
		{name: "context cancelled", err: context.Canceled, kind: KindCancelled, code: "Cancelled"},
		{name: "busy", err: ErrJobActive, kind: KindInput, code: "JobActive"},
		{name: "unknown", err: errors.New("boom"), kind: KindInternal, code: "Internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, Classify(tt.err))
			assert.Equal(t, tt.code, Code(tt.err))
			assert.NotEmpty(t, UserMessage(tt.err))
		})
	}

	assert.Equal(t, ErrorKind(""), Classify(nil))
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "Could not reach frame 8 of the video.", UserMessage(&FrameError{Index: 7, Err: ErrSeekTimeout}))
	assert.Contains(t, UserMessage(ErrQuotaExceeded), "GIF encoded but could not be saved")
	assert.Contains(t, UserMessage(ErrWriteFailed), "GIF encoded but could not be saved")
	assert.NotContains(t, UserMessage(&FrameError{Index: 1, Err: fmt.Errorf("%w after 5s", ErrSeekTimeout)}), "5s",
		"diagnostics stay out of the primary message")
}

func TestFrameError_Unwrap(t *testing.T) {
	err := fmt.Errorf("sample: %w", &FrameError{Index: 4, Err: ErrSeekTimeout})

	var fe *FrameError
	assert.True(t, errors.As(err, &fe))
	assert.Equal(t, 4, fe.Index)
	assert.ErrorIs(t, err, ErrSeekTimeout)
	assert.Equal(t, "sample: frame 4: seek timed out", err.Error())
}

func TestStorageError_Error(t *testing.T) {
	assert.Equal(t, "put abc: storage quota exceeded", (&StorageError{Op: "put", ID: "abc", Err: ErrQuotaExceeded}).Error())
	assert.Equal(t, "list: storage write failed", (&StorageError{Op: "list", Err: ErrWriteFailed}).Error())
}
