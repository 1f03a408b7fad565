package job

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJob(t *testing.T) {
	j := New("refs/heads/dev", SourceCLI)

	_, err := uuid.Parse(j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, j.Status)
	require.Len(t, j.Steps, 4)
	for i, name := range Steps {
		assert.Equal(t, name, j.Steps[i].Name)
		assert.Equal(t, StepPending, j.Steps[i].Status)
		assert.Equal(t, -1, j.Steps[i].ExitCode)
	}
	assert.Nil(t, j.Step("deploy"))
}

func TestCloneIsDeep(t *testing.T) {
	j := New("refs/heads/dev", SourceWebhook)
	j.Step(StepFineTune).OutputTail = []string{"epoch 1"}

	c := j.Clone()
	c.Step(StepFineTune).OutputTail[0] = "changed"
	c.Step(StepInference).Status = StepFailed

	assert.Equal(t, "epoch 1", j.Step(StepFineTune).OutputTail[0])
	assert.Equal(t, StepPending, j.Step(StepInference).Status)
}

func TestDuration(t *testing.T) {
	j := New("refs/heads/dev", SourceCLI)
	assert.Zero(t, j.Duration())
	j.StartedAt = time.Now().Add(-time.Minute)
	j.FinishedAt = j.StartedAt.Add(30 * time.Second)
	assert.Equal(t, 30*time.Second, j.Duration())
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusQueued.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.True(t, StatusSucceeded.Terminal())
	assert.True(t, StatusCanceled.Terminal())
}
