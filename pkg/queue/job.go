package queue

import (
	"time"

	"github.com/Combine-Capital/cqsync/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// Action is what a sync job does to the index.
type Action string

const (
	// ActionUpdate rebuilds the document from the system of record.
	ActionUpdate Action = "update"
	// ActionDelete removes the document from the index.
	ActionDelete Action = "delete"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	return a == ActionUpdate || a == ActionDelete
}

// Job is a unit of index synchronization work.
type Job struct {
	ID         string `msgpack:"id"`
	Action     Action `msgpack:"action"`
	EntityType string `msgpack:"entityType"`
	EntityID   string `msgpack:"entityId"`

	// Attempt is the 1-based number of the delivery being processed. In
	// storage it holds the number of attempts already made.
	Attempt int `msgpack:"attempt"`

	EnqueuedAt  time.Time `msgpack:"enqueuedAt"`
	ScheduledAt time.Time `msgpack:"scheduledAt"`

	// Trace carries the enqueuer's trace context.
	Trace map[string]string `msgpack:"trace,omitempty"`

	LastError string    `msgpack:"lastError,omitempty"`
	FailedAt  time.Time `msgpack:"failedAt,omitempty"`
}

// Validate checks the payload fields.
func (j Job) Validate() error {
	if !j.Action.Valid() {
		return errors.NewInvalidInput("action", "must be update or delete, got "+string(j.Action))
	}
	if j.EntityType == "" {
		return errors.NewInvalidInput("entityType", "entity type is required")
	}
	if j.EntityID == "" {
		return errors.NewInvalidInput("entityId", "entity id is required")
	}
	return nil
}

func encodeJob(j Job) ([]byte, error) {
	return msgpack.Marshal(j)
}

// decodeJob rejects payloads that will never become processable.
func decodeJob(data []byte) (Job, error) {
	var j Job
	if err := msgpack.Unmarshal(data, &j); err != nil {
		return j, errors.NewPermanent("malformed job payload", err)
	}
	if err := j.Validate(); err != nil {
		return j, errors.NewPermanent("invalid job payload", err)
	}
	return j, nil
}

// EventType identifies a job lifecycle event.
type EventType string

const (
	EventCompleted EventType = "completed"
	EventRetrying  EventType = "retrying"
	EventFailed    EventType = "failed"
	EventStalled   EventType = "stalled"
)

// Event reports a job lifecycle transition.
type Event struct {
	Type EventType
	Job  Job
	Err  error

	// Delay is the wait before the next attempt of a retrying job.
	Delay time.Duration
}

// Handler receives job events.
type Handler func(Event)
