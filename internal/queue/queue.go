// Package queue defines the durable-queue publisher capability shared by the
// SQS and JetStream backends, plus the retry and provisioning helpers both use.
package queue

import (
	"context"

	"github.com/alfredjeanlab/eventbroker/internal/model"
)

// SurfaceApplicationEvent is the dispatch surface for application events.
const SurfaceApplicationEvent = "application_event"

// DeadLetterQueue is the base name of the shared dead-letter queue.
const DeadLetterQueue = "FAILED_EVENTS"

// Target identifies one durable queue: an application on a dispatch surface.
type Target struct {
	ApplicationID string
	Surface       string
}

// QueueName returns the deterministic queue name for t under prefix.
func (t Target) QueueName(prefix string) string {
	return prefix + "run_module_" + t.Surface + "-" + t.ApplicationID
}

// DeadLetterQueueName returns the shared dead-letter queue name under prefix.
func DeadLetterQueueName(prefix string) string {
	return prefix + DeadLetterQueue
}

// Handle refers to a provisioned queue. Ref is backend specific: the queue
// URL for SQS, the subject for JetStream.
type Handle struct {
	Backend string
	Name    string
	Ref     string
}

// Ack is what a backend reports after accepting a message.
type Ack struct {
	Backend   string `json:"backend"`
	Queue     string `json:"queue"`
	MessageID string `json:"message_id"`
	Attempts  int    `json:"attempts"`
}

// Publisher provisions queues and publishes job messages to them.
//
// Provision must be idempotent and cached for the process lifetime. Publish
// retries transient failures internally and returns an error only when the
// message was not accepted. Close is safe to call when nothing was opened.
type Publisher interface {
	Name() string
	Provision(ctx context.Context, target Target) (Handle, error)
	Publish(ctx context.Context, h Handle, msg model.JobMessage) (Ack, error)
	Close() error
}
