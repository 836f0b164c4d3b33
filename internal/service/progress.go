package service

import (
	"github.com/bnema/gifcap/internal/domain"
)

// Progress is the single writer of a job's events. The percentage only moves
// forward and stays at 99 until the artifact is persisted.
type Progress struct {
	pub     EventPublisher
	jobID   string
	total   int
	done    int
	percent int
	stage   Stage
	state   domain.JobState
	settled bool
}

func NewProgress(pub EventPublisher, jobID string, total int) *Progress {
	return &Progress{
		pub:   pub,
		jobID: jobID,
		total: total,
		stage: StageSampling,
		state: domain.JobStateSampling,
	}
}

// percentOf is floor(100*done/total), capped at 99.
func percentOf(done, total int) int {
	if total <= 0 || done <= 0 {
		return 0
	}
	p := done * 100 / total
	if p > 99 {
		p = 99
	}
	return p
}

func (p *Progress) Percent() int {
	return p.percent
}

// Stage announces a new stage without moving the percentage.
func (p *Progress) Stage(stage Stage, message string) {
	if p.settled {
		return
	}
	p.stage = stage
	switch stage {
	case StageSampling:
		p.state = domain.JobStateSampling
	case StageEncoding, StageSaving:
		p.state = domain.JobStateEncoding
	}
	p.publish(Event{Message: message})
}

// Frame records the number of frames encoded so far.
func (p *Progress) Frame(done int) {
	if p.settled || done <= p.done {
		return
	}
	p.done = done
	if pct := percentOf(done, p.total); pct > p.percent {
		p.percent = pct
	}
	p.publish(Event{})
}

func (p *Progress) Completed(artifactID, message string) {
	if p.settled {
		return
	}
	p.settled = true
	p.stage = StageDone
	p.state = domain.JobStateCompleted
	p.percent = 100
	p.done = p.total
	p.publish(Event{ArtifactID: artifactID, Message: message})
}

// Settle publishes the terminal failed or cancelled event for err.
func (p *Progress) Settle(state domain.JobState, err error) {
	if p.settled {
		return
	}
	p.settled = true
	p.stage = StageDone
	p.state = state
	info := NewErrorInfo(err)
	ev := Event{Err: info}
	if info != nil {
		ev.Message = info.Message
	}
	p.publish(ev)
}

func (p *Progress) publish(ev Event) {
	if p.pub == nil {
		return
	}
	ev.JobID = p.jobID
	ev.Stage = p.stage
	ev.State = p.state
	ev.Percent = p.percent
	ev.Frames = FrameProgress{Done: p.done, Total: p.total}
	p.pub.Publish(p.jobID, ev)
}
