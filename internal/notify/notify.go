// Package notify publishes finished job results to NATS.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"git.home.luguber.info/inful/loraci/internal/config"
	derrors "git.home.luguber.info/inful/loraci/internal/errors"
	"git.home.luguber.info/inful/loraci/internal/job"
	"git.home.luguber.info/inful/loraci/internal/logfields"
)

const publishTimeout = 5 * time.Second

// StepSummary is the per-step part of a result message.
type StepSummary struct {
	Name     job.StepName   `json:"name"`
	Status   job.StepStatus `json:"status"`
	ExitCode int            `json:"exit_code"`
}

// JobResult is the message body published for every finished job.
type JobResult struct {
	JobID      string        `json:"job_id"`
	Ref        string        `json:"ref"`
	Branch     string        `json:"branch,omitempty"`
	Commit     string        `json:"commit,omitempty"`
	Source     job.Source    `json:"source"`
	Status     job.Status    `json:"status"`
	ExitCode   int           `json:"exit_code"`
	ErrorKind  string        `json:"error_kind,omitempty"`
	Error      string        `json:"error,omitempty"`
	DurationMS int64         `json:"duration_ms"`
	FinishedAt time.Time     `json:"finished_at"`
	Steps      []StepSummary `json:"steps"`
	Artifacts  []string      `json:"artifacts,omitempty"`
}

// NewJobResult summarizes j for publication.
func NewJobResult(j *job.Job) JobResult {
	r := JobResult{
		JobID:      j.ID,
		Ref:        j.Ref,
		Branch:     j.Branch,
		Commit:     j.Commit,
		Source:     j.Source,
		Status:     j.Status,
		ExitCode:   j.ExitCode,
		ErrorKind:  j.ErrorKind,
		Error:      j.Error,
		DurationMS: j.Duration().Milliseconds(),
		FinishedAt: j.FinishedAt,
		Artifacts:  j.Artifacts,
		Steps:      make([]StepSummary, 0, len(j.Steps)),
	}
	for _, s := range j.Steps {
		r.Steps = append(r.Steps, StepSummary{Name: s.Name, Status: s.Status, ExitCode: s.ExitCode})
	}
	return r
}

// Subject returns the subject a job result is published on: <base>.<status>.
func Subject(base string, status job.Status) string {
	return strings.TrimSuffix(base, ".") + "." + string(status)
}

// publisher abstracts core NATS and JetStream publishing.
type publisher interface {
	publish(ctx context.Context, subject string, data []byte) error
}

type corePublisher struct{ conn *nats.Conn }

func (p corePublisher) publish(_ context.Context, subject string, data []byte) error {
	if err := p.conn.Publish(subject, data); err != nil {
		return err
	}
	return p.conn.Flush()
}

type jetStreamPublisher struct{ js jetstream.JetStream }

func (p jetStreamPublisher) publish(ctx context.Context, subject string, data []byte) error {
	_, err := p.js.Publish(ctx, subject, data)
	return err
}

// Publisher sends job results to NATS. It implements pipeline.Notifier.
type Publisher struct {
	conn    *nats.Conn
	pub     publisher
	subject string
}

// StreamName is the JetStream stream that captures job results.
const StreamName = "LORACI_JOBS"

// FromConfig returns a connected publisher, or nil when notifications are
// disabled.
func FromConfig(ctx context.Context, cfg config.NotifyConfig) (*Publisher, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	return NewPublisher(ctx, cfg)
}

// NewPublisher connects to NATS. With JetStream enabled the result stream is
// created (or updated) to capture <subject>.>.
func NewPublisher(ctx context.Context, cfg config.NotifyConfig) (*Publisher, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name("loraci"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATS disconnected", logfields.Error(err))
			}
		}),
	)
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CategoryNetwork, derrors.SeverityError, "failed to connect to NATS").
			WithContext("url", cfg.URL)
	}

	p := &Publisher{conn: conn, pub: corePublisher{conn: conn}, subject: cfg.Subject}
	if cfg.JetStream {
		js, err := jetstream.New(conn)
		if err != nil {
			conn.Close()
			return nil, derrors.Wrap(err, derrors.CategoryNetwork, derrors.SeverityError, "failed to create JetStream context")
		}
		streamCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		_, err = js.CreateOrUpdateStream(streamCtx, jetstream.StreamConfig{
			Name:        StreamName,
			Description: "loraci job results",
			Subjects:    []string{strings.TrimSuffix(cfg.Subject, ".") + ".>"},
			MaxAge:      30 * 24 * time.Hour,
		})
		if err != nil {
			conn.Close()
			return nil, derrors.Wrap(err, derrors.CategoryNetwork, derrors.SeverityError, "failed to create job result stream").
				WithContext("stream", StreamName)
		}
		p.pub = jetStreamPublisher{js: js}
	}

	slog.Info("NATS notifications enabled",
		logfields.URL(cfg.URL),
		slog.String("subject", cfg.Subject),
		slog.Bool("jetstream", cfg.JetStream))
	return p, nil
}

// Notify publishes the result of a finished job.
func (p *Publisher) Notify(ctx context.Context, j *job.Job) error {
	data, err := json.Marshal(NewJobResult(j))
	if err != nil {
		return derrors.InternalError("marshal job result", err)
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	subject := Subject(p.subject, j.Status)
	if err := p.pub.publish(ctx, subject, data); err != nil {
		return derrors.Wrap(err, derrors.CategoryNetwork, derrors.SeverityWarning, "failed to publish job result").
			WithContext("subject", subject)
	}
	slog.Debug("Published job result", logfields.JobID(j.ID), slog.String("subject", subject))
	return nil
}

// Close drains the connection.
func (p *Publisher) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}
