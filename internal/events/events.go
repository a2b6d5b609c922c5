package events

import (
	"context"
	"time"

	"github.com/alfredjeanlab/eventbroker/internal/dispatch"
	"github.com/alfredjeanlab/eventbroker/internal/model"
	"github.com/alfredjeanlab/eventbroker/internal/watchdog"
)

// Inbound topics.
const (
	TopicApplicationEvent = "broker.application.event"
	TopicJobCompleted     = "broker.job.completed"
	TopicJobFailed        = "broker.job.failed"
)

// Outbound lifecycle topics.
const (
	TopicEventPing   = "broker.event.ping"
	TopicEventDone   = "broker.event.done"
	TopicEventFailed = "broker.event.failed"
	TopicJobStuck    = "broker.job.stuck"
)

// Event types

type EventPing struct {
	Event model.Event `json:"event"`
	At    time.Time   `json:"at"`
}

type EventDone struct {
	Event   model.Event          `json:"event"`
	NoWork  bool                 `json:"no_work"`
	Skipped []string             `json:"skipped,omitempty"`
	Jobs    []dispatch.JobResult `json:"jobs,omitempty"`
}

type EventFailed struct {
	Event model.Event `json:"event"`
	Error string      `json:"error"`
}

type JobStuck struct {
	Job watchdog.Job `json:"job"`
}

// JobAck is sent by workers when a job finishes. Reason is set for failures.
type JobAck struct {
	JobID  string `json:"jobId"`
	Reason string `json:"reason,omitempty"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
