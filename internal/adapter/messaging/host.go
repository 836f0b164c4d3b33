package messaging

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/bnema/gifcap/internal/domain"
	"github.com/bnema/gifcap/internal/infrastructure/logger"
	"github.com/bnema/gifcap/internal/service"
)

// Host answers the extension over a native-messaging stream. Each request is
// handled on its own goroutine; a capture request keeps streaming progress
// until its job settles.
type Host struct {
	codec    *Codec
	capture  *service.CaptureService
	views    map[string]*service.View
	fallback *service.View

	wg sync.WaitGroup
}

// NewHost serves library requests from the named views. Requests that name
// no context, or an unknown one, use fallback.
func NewHost(codec *Codec, capture *service.CaptureService, fallback *service.View, views ...*service.View) *Host {
	h := &Host{
		codec:    codec,
		capture:  capture,
		views:    make(map[string]*service.View),
		fallback: fallback,
	}
	h.views[fallback.Name()] = fallback
	for _, v := range views {
		h.views[v.Name()] = v
	}
	return h
}

// Serve reads requests until the extension closes the stream. It returns nil
// on a clean close and waits for in-flight handlers before returning.
func (h *Host) Serve(ctx context.Context) error {
	defer h.wg.Wait()

	for {
		var req Request
		err := h.codec.Read(&req)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			logger.Debug.Printf("extension closed the message stream")
			return nil
		case errors.Is(err, ErrMalformed):
			logger.Warn.Printf("dropping malformed message: %v", err)
			h.send(Response{ID: req.ID, Type: TypeError, Error: badRequest("Message could not be read.")})
			continue
		default:
			return err
		}

		h.wg.Add(1)
		go func(req Request) {
			defer h.wg.Done()
			h.handle(ctx, req)
		}(req)
	}
}

// Notify pushes a fresh library listing whenever changes fires, so an open
// popup can re-render without asking.
func (h *Host) Notify(ctx context.Context, changes <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			index, err := h.fallback.List(ctx)
			if err != nil {
				logger.Warn.Printf("library refresh after change failed: %v", err)
				continue
			}
			h.send(Response{Type: TypeLibrary, Library: index})
		}
	}
}

func (h *Host) handle(ctx context.Context, req Request) {
	logger.Debug.Printf("request %s: %s", logger.SanitizeForLog(req.ID), logger.SanitizeForLog(string(req.Type)))

	switch req.Type {
	case TypeCapture:
		h.handleCapture(ctx, req)
	case TypeCancel:
		h.handleCancel(req)
	case TypeList:
		h.handleList(ctx, req)
	case TypeGet:
		h.handleGet(ctx, req)
	case TypeDelete:
		h.handleDelete(ctx, req)
	default:
		h.send(Response{ID: req.ID, Type: TypeError, Error: badRequest("Unknown request type %q.", req.Type)})
	}
}

func (h *Host) view(name string) *service.View {
	if v, ok := h.views[name]; ok {
		return v
	}
	return h.fallback
}

func (h *Host) fail(req Request, err error) {
	h.send(Response{ID: req.ID, Type: TypeError, JobID: req.JobID, ArtifactID: req.ArtifactID, Error: service.NewErrorInfo(err)})
}

func (h *Host) handleCapture(ctx context.Context, req Request) {
	if req.Capture == nil {
		h.send(Response{ID: req.ID, Type: TypeError, Error: badRequest("Capture request has no parameters.")})
		return
	}
	captureReq, err := req.Capture.CaptureRequest()
	if err != nil {
		h.fail(req, err)
		return
	}

	job, err := h.capture.Start(ctx, captureReq)
	if err != nil {
		h.fail(req, err)
		return
	}

	events := h.capture.Events().Subscribe(job.ID)
	for ev := range events {
		ev := ev
		if !ev.Terminal() {
			h.send(Response{ID: req.ID, Type: TypeProgress, JobID: job.ID, Event: &ev})
			continue
		}
		if ev.State == domain.JobStateCompleted {
			h.send(Response{ID: req.ID, Type: TypeResult, JobID: job.ID, Event: &ev, ArtifactID: ev.ArtifactID, Message: ev.Message})
		} else {
			h.send(Response{ID: req.ID, Type: TypeError, JobID: job.ID, Event: &ev, Error: ev.Err, Message: ev.Message})
		}
	}
}

func (h *Host) handleCancel(req Request) {
	if err := h.capture.Cancel(req.JobID); err != nil {
		h.fail(req, err)
		return
	}
	h.send(Response{ID: req.ID, Type: TypeResult, JobID: req.JobID, Message: "Cancelling"})
}

func (h *Host) handleList(ctx context.Context, req Request) {
	index, err := h.view(req.Context).List(ctx)
	if err != nil {
		h.fail(req, err)
		return
	}
	h.send(Response{ID: req.ID, Type: TypeLibrary, Library: index})
}

func (h *Host) handleGet(ctx context.Context, req Request) {
	a, err := h.view(req.Context).Get(ctx, req.ArtifactID)
	if err != nil {
		h.fail(req, err)
		return
	}
	for _, chunk := range chunkArtifact(a, chunkBytes) {
		chunk := chunk
		if !h.send(Response{ID: req.ID, Type: TypeArtifact, ArtifactID: a.ID, Artifact: &chunk}) {
			return
		}
	}
}

func (h *Host) handleDelete(ctx context.Context, req Request) {
	if err := h.view(req.Context).Delete(ctx, req.ArtifactID); err != nil {
		h.fail(req, err)
		return
	}
	h.send(Response{ID: req.ID, Type: TypeResult, ArtifactID: req.ArtifactID, Message: "Deleted"})
}

func (h *Host) send(resp Response) bool {
	if err := h.codec.Write(resp); err != nil {
		logger.Error.Printf("reply %s (%s): %v", logger.SanitizeForLog(resp.ID), resp.Type, err)
		return false
	}
	return true
}
