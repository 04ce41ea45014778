package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobLifecycle(t *testing.T) {
	job := NewJob("user-1", "user-1/site.mp4", 2048, 3)
	assert.Equal(t, JobStatusPending, job.Status)
	assert.Equal(t, 0, job.Attempt)
	assert.Nil(t, job.CompletedAt)

	job.MarkProcessing()
	assert.Equal(t, JobStatusProcessing, job.Status)
	assert.Equal(t, 1, job.Attempt)

	counts := map[string]int{"person": 12, "helmet": 9, "no-helmet": 3}
	job.MarkCompleted("user-1/annotated.mp4", 250, 2, counts, 10.0)
	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.Equal(t, 250, job.FrameCount)
	assert.Equal(t, 2, job.FramesFailed)
	assert.Equal(t, counts, job.CumulativeCounts)
	assert.NotNil(t, job.CompletedAt)
}

func TestJobCanRetry(t *testing.T) {
	job := NewJob("user-1", "user-1/site.mp4", 2048, 2)
	assert.True(t, job.CanRetry())

	job.MarkProcessing()
	job.MarkFailed("transient")
	assert.True(t, job.CanRetry())

	job.MarkProcessing()
	job.MarkFailed("transient again")
	assert.False(t, job.CanRetry())
}
