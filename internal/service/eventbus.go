package service

import (
	"sync"

	"github.com/bnema/gifcap/internal/domain"
)

const subscriberBuffer = 16

type Stage string

const (
	StageSampling Stage = "sampling"
	StageEncoding Stage = "encoding"
	StageSaving   Stage = "saving"
	StageDone     Stage = "done"
)

type FrameProgress struct {
	Done  int `json:"done"`
	Total int `json:"total"`
}

// ErrorInfo is the structured error attached to failed and cancelled events.
type ErrorInfo struct {
	Kind    domain.ErrorKind `json:"kind"`
	Code    string           `json:"code"`
	Message string           `json:"message"`
}

func NewErrorInfo(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	return &ErrorInfo{
		Kind:    domain.Classify(err),
		Code:    domain.Code(err),
		Message: domain.UserMessage(err),
	}
}

type Event struct {
	JobID      string          `json:"jobId"`
	Stage      Stage           `json:"stage"`
	State      domain.JobState `json:"state"`
	Percent    int             `json:"percent"`
	Frames     FrameProgress   `json:"frames"`
	Message    string          `json:"message,omitempty"`
	ArtifactID string          `json:"artifactId,omitempty"`
	Err        *ErrorInfo      `json:"error,omitempty"`
}

func (e Event) Terminal() bool {
	return e.State.IsTerminal()
}

type EventPublisher interface {
	Publish(jobID string, event Event)
}

// EventBus fans job events out to subscribers. Publishing never blocks: when a
// subscriber falls behind, its oldest queued event is dropped so the newest
// one always fits. A terminal event closes every channel of the job.
type EventBus struct {
	subscribers map[string][]chan Event
	last        map[string]Event
	mu          sync.Mutex
}

func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[string][]chan Event),
		last:        make(map[string]Event),
	}
}

// Subscribe returns a channel of events for the job. If the job already
// published, the most recent event is queued first; if that event was
// terminal the channel is closed right after it.
func (eb *EventBus) Subscribe(jobID string) chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if ev, ok := eb.last[jobID]; ok {
		ch <- ev
		if ev.Terminal() {
			close(ch)
			return ch
		}
	}
	eb.subscribers[jobID] = append(eb.subscribers[jobID], ch)
	return ch
}

func (eb *EventBus) Unsubscribe(jobID string, ch chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subs := eb.subscribers[jobID]
	for i, sub := range subs {
		if sub == ch {
			eb.subscribers[jobID] = append(subs[:i], subs[i+1:]...)
			close(ch)
			break
		}
	}

	if len(eb.subscribers[jobID]) == 0 {
		delete(eb.subscribers, jobID)
	}
}

func (eb *EventBus) Publish(jobID string, event Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if last, ok := eb.last[jobID]; ok && last.Terminal() {
		return
	}
	eb.last[jobID] = event

	for _, ch := range eb.subscribers[jobID] {
		deliver(ch, event)
	}
	if event.Terminal() {
		for _, ch := range eb.subscribers[jobID] {
			close(ch)
		}
		delete(eb.subscribers, jobID)
	}
}

// deliver is only called with the bus lock held, so nobody else can fill the
// slot freed by dropping the oldest event.
func deliver(ch chan Event, event Event) {
	select {
	case ch <- event:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- event:
	default:
	}
}

// Last returns the most recent event published for the job.
func (eb *EventBus) Last(jobID string) (Event, bool) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	ev, ok := eb.last[jobID]
	return ev, ok
}

// Forget drops the retained state of a finished job.
func (eb *EventBus) Forget(jobID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	for _, ch := range eb.subscribers[jobID] {
		close(ch)
	}
	delete(eb.subscribers, jobID)
	delete(eb.last, jobID)
}
