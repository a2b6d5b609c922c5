// Package client provides a transport-agnostic interface for the event
// broker and an HTTP/JSON implementation that talks to its REST API.
package client

import (
	"context"

	"github.com/alfredjeanlab/eventbroker/internal/dispatch"
	"github.com/alfredjeanlab/eventbroker/internal/model"
	"github.com/alfredjeanlab/eventbroker/internal/watchdog"
)

// BrokerClient is the interface the CLI commands use to talk to a running
// broker.
type BrokerClient interface {
	// Emit starts dispatching ev and returns once the broker accepted it.
	Emit(ctx context.Context, ev model.Event) (*EmitResponse, error)
	// EmitAndWait dispatches ev and returns the finished dispatch.
	EmitAndWait(ctx context.Context, ev model.Event) (*dispatch.Result, error)

	// Job tracking
	CompleteJob(ctx context.Context, jobID string) error
	FailJob(ctx context.Context, jobID, reason string) error
	OutstandingJobs(ctx context.Context) ([]watchdog.Job, error)

	// Audit trail
	ListExecutions(ctx context.Context, afterID int64, limit int) ([]*model.ExecutionLog, error)

	// Health
	Health(ctx context.Context) (string, error)

	// Lifecycle
	Close() error
}

// EmitResponse carries the ids assigned to an accepted event.
type EmitResponse struct {
	EventID       string `json:"event_id"`
	CorrelationID string `json:"correlation_id"`
}
