package model

import "time"

// ExecutionLogType classifies an execution log record.
type ExecutionLogType string

const (
	// ExecutionLogEvent records event-level progress.
	ExecutionLogEvent ExecutionLogType = "EVT"
	// ExecutionLogModule records module-level progress.
	ExecutionLogModule ExecutionLogType = "MDL"
)

// ExecutionLog is an append-only audit record of dispatch progress.
type ExecutionLog struct {
	ID            int64            `json:"id"`
	ApplicationID string           `json:"application"`
	Environment   string           `json:"environment"`
	EventID       string           `json:"eventId"`
	CorrelationID string           `json:"correlationId"`
	Type          ExecutionLogType `json:"type"`
	ModuleName    string           `json:"moduleName"`
	Message       string           `json:"message"`
	CreatedAt     time.Time        `json:"createdAt"`
}
