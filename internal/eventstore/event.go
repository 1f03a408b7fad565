package eventstore

import (
	"encoding/json"
	"time"

	derrors "git.home.luguber.info/inful/loraci/internal/errors"
)

// Event is one stored entry of a job's history. Seq orders events across
// all jobs; Type is one of the Event* constants.
type Event interface {
	ID() int64
	JobID() string
	Type() string
	Timestamp() time.Time
	Payload() []byte
	Metadata() map[string]string
}

// Record is the concrete Event returned by Store reads and built by the
// NewJobEvent and NewStepEvent constructors.
type Record struct {
	Seq  int64
	Job  string
	Kind string
	At   time.Time
	Data []byte
	Meta map[string]string
}

func (r *Record) ID() int64                   { return r.Seq }
func (r *Record) JobID() string               { return r.Job }
func (r *Record) Type() string                { return r.Kind }
func (r *Record) Timestamp() time.Time        { return r.At }
func (r *Record) Payload() []byte             { return r.Data }
func (r *Record) Metadata() map[string]string { return r.Meta }

// decode unmarshals the JSON payload of ev into v.
func decode(ev Event, v any) error {
	if err := json.Unmarshal(ev.Payload(), v); err != nil {
		return derrors.StoreError("decode "+ev.Type()+" event", err).
			WithContext("job_id", ev.JobID()).
			WithContext("seq", ev.ID())
	}
	return nil
}
