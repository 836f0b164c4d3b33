package domain

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type JobState string

const (
	JobStateSampling  JobState = "sampling"
	JobStateEncoding  JobState = "encoding"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
	JobStateCancelled JobState = "cancelled"
)

func (s JobState) IsTerminal() bool {
	return s == JobStateCompleted || s == JobStateFailed || s == JobStateCancelled
}

// EncodingJob tracks one capture from sampling to a terminal state. The
// request is a copy and never changes; state transitions go through the
// methods so readers on other goroutines see a consistent snapshot.
type EncodingJob struct {
	ID        string
	Request   CaptureRequest
	CreatedAt time.Time

	mu         sync.RWMutex
	state      JobState
	framesDone int
	artifactID string
	err        error
	cancel     context.CancelFunc
}

func NewEncodingJob(req CaptureRequest, cancel context.CancelFunc) *EncodingJob {
	return &EncodingJob{
		ID:        uuid.NewString(),
		Request:   req,
		CreatedAt: time.Now().UTC(),
		state:     JobStateSampling,
		cancel:    cancel,
	}
}

func (j *EncodingJob) State() JobState {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.state
}

func (j *EncodingJob) FramesDone() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.framesDone
}

func (j *EncodingJob) ArtifactID() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.artifactID
}

func (j *EncodingJob) Err() error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.err
}

// Transition moves the job to next unless it already settled. It reports
// whether the transition happened.
func (j *EncodingJob) Transition(next JobState) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.IsTerminal() {
		return false
	}
	j.state = next
	return true
}

func (j *EncodingJob) FrameEncoded() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.framesDone++
	return j.framesDone
}

func (j *EncodingJob) Complete(artifactID string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.IsTerminal() {
		return false
	}
	j.state = JobStateCompleted
	j.artifactID = artifactID
	return true
}

// Settle records a failure or cancellation, picking the state from the error.
func (j *EncodingJob) Settle(err error) JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.IsTerminal() {
		return j.state
	}
	j.err = err
	if Classify(err) == KindCancelled {
		j.state = JobStateCancelled
	} else {
		j.state = JobStateFailed
	}
	return j.state
}

// Cancel asks the job to stop at the next frame boundary.
func (j *EncodingJob) Cancel() {
	if j.cancel != nil {
		j.cancel()
	}
}
