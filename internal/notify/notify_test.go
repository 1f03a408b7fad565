package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/loraci/internal/config"
	derrors "git.home.luguber.info/inful/loraci/internal/errors"
	"git.home.luguber.info/inful/loraci/internal/job"
)

type recordingPublisher struct {
	subject string
	data    []byte
	err     error
}

func (r *recordingPublisher) publish(_ context.Context, subject string, data []byte) error {
	r.subject = subject
	r.data = data
	return r.err
}

func finishedJob() *job.Job {
	j := job.New("refs/heads/dev", job.SourceWebhook)
	j.Branch = "dev"
	j.Commit = "abc123"
	j.Status = job.StatusFailed
	j.ExitCode = 20
	j.ErrorKind = "finetune_failure"
	j.StartedAt = time.Now().Add(-2 * time.Minute)
	j.FinishedAt = j.StartedAt.Add(90 * time.Second)
	j.Step(job.StepFineTune).Status = job.StepFailed
	j.Step(job.StepFineTune).ExitCode = 1
	return j
}

func TestNotifyPublishesJobResult(t *testing.T) {
	rec := &recordingPublisher{}
	p := &Publisher{pub: rec, subject: "loraci.jobs"}
	j := finishedJob()

	require.NoError(t, p.Notify(t.Context(), j))
	assert.Equal(t, "loraci.jobs.failed", rec.subject)

	var got JobResult
	require.NoError(t, json.Unmarshal(rec.data, &got))
	assert.Equal(t, j.ID, got.JobID)
	assert.Equal(t, "dev", got.Branch)
	assert.Equal(t, 20, got.ExitCode)
	assert.Equal(t, int64(90000), got.DurationMS)
	require.Len(t, got.Steps, 4)
	assert.Equal(t, job.StepFailed, got.Steps[2].Status)
	assert.Equal(t, 1, got.Steps[2].ExitCode)
}

func TestNotifyWrapsPublishError(t *testing.T) {
	p := &Publisher{pub: &recordingPublisher{err: errors.New("no responders")}, subject: "loraci.jobs"}

	err := p.Notify(t.Context(), finishedJob())
	require.Error(t, err)
	assert.True(t, derrors.IsCategory(err, derrors.CategoryNetwork))
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "loraci.jobs.succeeded", Subject("loraci.jobs", job.StatusSucceeded))
	assert.Equal(t, "ci.canceled", Subject("ci.", job.StatusCanceled))
}

func TestCloseWithoutConnection(t *testing.T) {
	assert.NoError(t, (&Publisher{}).Close())
}

func TestFromConfigDisabled(t *testing.T) {
	p, err := FromConfig(context.Background(), config.NotifyConfig{})
	require.NoError(t, err)
	assert.Nil(t, p)
}
