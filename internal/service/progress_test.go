package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/gifcap/internal/domain"
)

func TestPercentOf(t *testing.T) {
	tests := []struct {
		done, total, want int
	}{
		{0, 30, 0},
		{1, 30, 3},
		{15, 30, 50},
		{29, 30, 96},
		{30, 30, 99},
		{1, 3, 33},
		{2, 3, 66},
		{5, 0, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, percentOf(tt.done, tt.total), "%d/%d", tt.done, tt.total)
	}
}

func TestProgress_MonotonicAndHeldBelowCompletion(t *testing.T) {
	rec := &recorder{}
	p := NewProgress(rec, "job-1", 30)

	p.Stage(StageSampling, "Preparing video")
	p.Stage(StageEncoding, "Encoding frames")
	for i := 1; i <= 30; i++ {
		p.Frame(i)
	}
	p.Frame(12) // stale counter is ignored
	p.Stage(StageSaving, "Saving GIF")
	assert.Equal(t, 99, p.Percent())
	p.Completed("art-1", "Saved to library")
	p.Frame(31)

	events := rec.all()
	require.Len(t, events, 2+30+1+1)

	prev := -1
	for i, ev := range events {
		assert.GreaterOrEqual(t, ev.Percent, prev, "event %d", i)
		prev = ev.Percent
		assert.Equal(t, "job-1", ev.JobID)
		if i < len(events)-1 {
			assert.Less(t, ev.Percent, 100, "only the completed event reports 100")
			assert.False(t, ev.Terminal())
		}
	}

	last := events[len(events)-1]
	assert.Equal(t, 100, last.Percent)
	assert.Equal(t, domain.JobStateCompleted, last.State)
	assert.Equal(t, StageDone, last.Stage)
	assert.Equal(t, FrameProgress{Done: 30, Total: 30}, last.Frames)
	assert.Equal(t, "art-1", last.ArtifactID)

	saving := events[len(events)-2]
	assert.Equal(t, StageSaving, saving.Stage)
	assert.Equal(t, 99, saving.Percent)
}

func TestProgress_Settle(t *testing.T) {
	t.Run("failure carries a structured error", func(t *testing.T) {
		rec := &recorder{}
		p := NewProgress(rec, "job-1", 10)
		p.Frame(4)
		err := &domain.FrameError{Index: 4, Err: domain.ErrSeekTimeout}
		p.Settle(domain.JobStateFailed, err)
		p.Completed("late", "")

		events := rec.all()
		require.Len(t, events, 2)
		last := events[1]
		assert.Equal(t, domain.JobStateFailed, last.State)
		assert.Equal(t, 40, last.Percent)
		require.NotNil(t, last.Err)
		assert.Equal(t, domain.KindExtraction, last.Err.Kind)
		assert.Equal(t, "SeekTimeout", last.Err.Code)
		assert.Equal(t, "Could not reach frame 5 of the video.", last.Message)
	})

	t.Run("storage failure is distinct from encoding", func(t *testing.T) {
		rec := &recorder{}
		p := NewProgress(rec, "job-2", 10)
		p.Settle(domain.JobStateFailed, &domain.StorageError{Op: "put", Err: domain.ErrQuotaExceeded})

		last := rec.all()[0]
		assert.Equal(t, domain.KindStorage, last.Err.Kind)
		assert.Contains(t, last.Message, "GIF encoded but could not be saved")
	})

	t.Run("nil publisher is allowed", func(t *testing.T) {
		p := NewProgress(nil, "job-3", 1)
		p.Frame(1)
		p.Completed("a", "")
		assert.Equal(t, 100, p.Percent())
	})
}
